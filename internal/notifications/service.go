package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/mood"
)

const (
	userAgent = "conduit/1"
	queueSize = 64
)

// Alert is a component mood change worth telling an operator about.
type Alert struct {
	Component string
	Worker    string
	Mood      mood.Mood
	Previous  mood.Mood
	Message   string
}

// ShouldAlert reports whether a change from previous to current needs an
// alert. Recoveries count only when recovery is set.
func ShouldAlert(previous, current mood.Mood, recovery bool) bool {
	if previous == current {
		return false
	}
	switch current {
	case mood.Sad, mood.Lost:
		return true
	case mood.Happy:
		return recovery && (previous == mood.Sad || previous == mood.Lost)
	default:
		return false
	}
}

// Service delivers alerts. Send queues an alert for the background sender;
// Deliver posts it synchronously.
type Service struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	recovery bool

	mu      sync.Mutex
	queue   chan Alert
	done    chan struct{}
	started bool
	closed  bool
}

// NewService builds a service for cfg. It is a no-op when no topic is set.
func NewService(cfg config.Notifications, logger *slog.Logger) *Service {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Service{
		endpoint: strings.TrimSpace(cfg.NtfyTopic),
		logger:   logging.NewComponentLogger(logger, "notifications"),
		recovery: cfg.Recovery,
		queue:    make(chan Alert, queueSize),
		done:     make(chan struct{}),
	}
	if s.endpoint != "" {
		s.client = &http.Client{Timeout: timeout}
	}
	return s
}

// Enabled reports whether alerts go anywhere.
func (s *Service) Enabled() bool {
	return s != nil && s.client != nil
}

// Recovery reports whether recoveries are alerted.
func (s *Service) Recovery() bool {
	return s != nil && s.recovery
}

// Start runs the background sender.
func (s *Service) Start() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	go func() {
		defer close(s.done)
		for alert := range s.queue {
			if err := s.Deliver(context.Background(), alert); err != nil {
				logging.WarnWithContext(s.logger, "alert delivery failed", "notification_failed",
					logging.Error(err),
					logging.String(logging.FieldAvatarID, alert.Component),
					logging.String(logging.FieldMood, alert.Mood.String()),
					logging.String(logging.FieldImpact, "operators were not told about this mood change"),
					logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				)
			}
		}
	}()
}

// Send queues alert without blocking. Alerts are dropped when the queue is
// full or the service is closed.
func (s *Service) Send(alert Alert) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- alert:
	default:
		s.logger.Warn("alert queue full, dropping alert", logging.String(logging.FieldAvatarID, alert.Component))
	}
}

// Close stops accepting alerts and waits for queued ones to be sent.
func (s *Service) Close(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.queue)
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver posts alert to ntfy.
func (s *Service) Deliver(ctx context.Context, alert Alert) error {
	if !s.Enabled() {
		return nil
	}
	title, message, tags, priority := format(alert)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	req.Header.Set("Tags", strings.Join(tags, ","))
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func format(alert Alert) (title, message string, tags []string, priority string) {
	title = fmt.Sprintf("Conduit - %s is %s", alert.Component, alert.Mood)
	var b strings.Builder
	fmt.Fprintf(&b, "%s went from %s to %s", alert.Component, alert.Previous, alert.Mood)
	if alert.Worker != "" {
		fmt.Fprintf(&b, " on %s", alert.Worker)
	}
	if msg := strings.TrimSpace(alert.Message); msg != "" {
		b.WriteString("\n")
		b.WriteString(msg)
	}
	tags = []string{"conduit", alert.Mood.String()}
	switch alert.Mood {
	case mood.Sad:
		priority = "high"
	case mood.Happy:
		priority = "low"
	}
	return title, b.String(), tags, priority
}
