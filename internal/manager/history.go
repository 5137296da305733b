package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conduit/internal/logging"
	"conduit/internal/store"
)

const historyQueueSize = 256

// historyWriter moves history inserts off the loop. Records are dropped, with
// a warning, when the database falls behind.
type historyWriter struct {
	store  *store.Store
	logger *slog.Logger

	mu      sync.Mutex
	queue   chan func(context.Context) error
	done    chan struct{}
	started bool
	closed  bool
}

func newHistoryWriter(s *store.Store, logger *slog.Logger) *historyWriter {
	return &historyWriter{
		store:  s,
		logger: logging.NewComponentLogger(logger, "history"),
		queue:  make(chan func(context.Context) error, historyQueueSize),
		done:   make(chan struct{}),
	}
}

func (h *historyWriter) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.store == nil {
		return
	}
	h.started = true
	go func() {
		defer close(h.done)
		for write := range h.queue {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := write(ctx); err != nil {
				logging.WarnWithContext(h.logger, "history write failed", "history_write_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "one history record is missing"),
					logging.String(logging.FieldErrorHint, "check the state directory is writable"),
				)
			}
			cancel()
		}
	}()
}

func (h *historyWriter) enqueue(write func(context.Context) error) {
	if h.store == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- write:
	default:
		logging.WarnWithContext(h.logger, "history queue full", "history_dropped",
			logging.String(logging.FieldImpact, "one history record is missing"),
			logging.String(logging.FieldErrorHint, "the database is slow; check disk health"),
		)
	}
}

func (h *historyWriter) mood(rec store.MoodRecord) {
	h.enqueue(func(ctx context.Context) error {
		_, err := h.store.RecordMood(ctx, rec)
		return err
	})
}

func (h *historyWriter) keycard(rec store.KeycardRecord) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	h.enqueue(func(ctx context.Context) error {
		_, err := h.store.RecordKeycard(ctx, rec)
		return err
	})
}

// close drains queued records and stops the writer.
func (h *historyWriter) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.queue)
	started := h.started
	h.mu.Unlock()
	if started {
		<-h.done
	}
	return nil
}
