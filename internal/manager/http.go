package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conduit/internal/logging"
)

// startHTTP serves metrics, the event stream and a health check on
// manager.http_bind. An empty bind disables HTTP.
func (v *Vishnu) startHTTP() error {
	bind := strings.TrimSpace(v.cfg.Manager.HTTPBind)
	if bind == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(v.metrics.registry, promhttp.HandlerOpts{}))
	mux.Handle("/events", v.hub)
	mux.HandleFunc("/healthz", v.handleHealth)
	mux.HandleFunc("/api/components", v.handleComponents)

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	v.httpLn = listener
	// No write timeout: /events holds its connection open.
	v.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := v.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.logger.Error("http server error", logging.Error(err))
		}
	}()
	v.logger.Info("http listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (v *Vishnu) stopHTTP() {
	if v.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = v.httpServer.Shutdown(shutdownCtx)
}

type healthStatus struct {
	Status     string `json:"status"`
	Components int    `json:"components"`
	Workers    int    `json:"workers"`
	Sessions   int    `json:"sessions"`
	Events     int    `json:"event_clients"`
}

func (v *Vishnu) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		v.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := healthStatus{Status: "ok", Events: v.hub.Clients()}
	err := v.loop.Call(r.Context(), func() {
		status.Components = v.components.Len()
		status.Workers = v.workers.Len()
		status.Sessions = v.dispatcher.Sessions()
	})
	if err != nil {
		v.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	v.writeJSON(w, http.StatusOK, status)
}

func (v *Vishnu) handleComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		v.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out, err := v.Components(r.Context())
	if err != nil {
		v.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	v.writeJSON(w, http.StatusOK, map[string]any{"components": out})
}

func (v *Vishnu) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		v.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (v *Vishnu) writeError(w http.ResponseWriter, status int, message string) {
	v.writeJSON(w, status, map[string]string{"error": message})
}
