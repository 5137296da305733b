package component

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"conduit/internal/config"
	"conduit/internal/services"
)

const (
	defaultChunkSize = 1024
	defaultInterval  = 100 * time.Millisecond
)

// Behavior is what a component type does with the bytes it eats and feeds.
type Behavior interface {
	// Run produces data until ctx ends. Behaviors that only react to eaten
	// data return at once.
	Run(ctx context.Context, emit func([]byte))
	// Eat handles data read by an eater.
	Eat(feed string, data []byte, emit func([]byte))
}

// NewBehavior builds the behavior for a component type from its properties.
func NewBehavior(typ string, props map[string]string) (Behavior, error) {
	switch typ {
	case config.TypeProducer:
		p := producer{chunkSize: defaultChunkSize, interval: defaultInterval}
		if raw := strings.TrimSpace(props["chunk_size"]); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, services.Wrap(services.ErrConfiguration, "component", "producer", fmt.Sprintf("chunk_size %q must be a positive integer", raw), nil)
			}
			p.chunkSize = n
		}
		if raw := strings.TrimSpace(props["interval_ms"]); raw != "" {
			ms, err := strconv.Atoi(raw)
			if err != nil || ms <= 0 {
				return nil, services.Wrap(services.ErrConfiguration, "component", "producer", fmt.Sprintf("interval_ms %q must be a positive integer", raw), nil)
			}
			p.interval = time.Duration(ms) * time.Millisecond
		}
		return p, nil
	case config.TypeConverter:
		return converter{}, nil
	case config.TypeConsumer:
		return consumer{}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "component", "type", fmt.Sprintf("unknown component type %q", typ), nil)
	}
}

type producer struct {
	chunkSize int
	interval  time.Duration
}

func (p producer) Run(ctx context.Context, emit func([]byte)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	var seq byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chunk := make([]byte, p.chunkSize)
			for i := range chunk {
				chunk[i] = seq
			}
			seq++
			emit(chunk)
		}
	}
}

func (producer) Eat(string, []byte, func([]byte)) {}

type converter struct{}

func (converter) Run(context.Context, func([]byte)) {}

func (converter) Eat(_ string, data []byte, emit func([]byte)) {
	emit(data)
}

// consumer only lets the eater count what arrives.
type consumer struct{}

func (consumer) Run(context.Context, func([]byte)) {}

func (consumer) Eat(string, []byte, func([]byte)) {}
