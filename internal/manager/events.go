package manager

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/logging"
	"conduit/internal/protocol"
)

const (
	hubClientBuffer = 64
	hubWriteTimeout = 5 * time.Second
)

// Hub fans component state events out to websocket clients. A client that
// cannot keep up is dropped.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// NewHub returns a hub without clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.NewComponentLogger(logger, "events"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Broadcast queues ev for every client.
func (h *Hub) Broadcast(ev protocol.StateEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Debug("encode event", logging.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			logging.WarnWithContext(h.logger, "dropping slow event client", "events_client_dropped",
				logging.String("remote", client.conn.RemoteAddr().String()),
				logging.String(logging.FieldImpact, "client stops receiving events"),
				logging.String(logging.FieldErrorHint, "reconnect the client"),
			)
			delete(h.clients, client)
			client.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, hubClientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event client connected", logging.String("remote", conn.RemoteAddr().String()))

	// The read side only notices the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(client)
				return
			}
		}
	}()

	for payload := range client.send {
		_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(client)
			break
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
}
