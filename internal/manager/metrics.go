package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"conduit/internal/mood"
)

// metrics are the manager's Prometheus series. They live on a registry owned
// by one manager so several managers can run in one process.
type metrics struct {
	registry *prometheus.Registry

	componentMood *prometheus.GaugeVec
	avatars       *prometheus.GaugeVec
	keycards      prometheus.Gauge
	feedsReady    prometheus.Gauge
	starts        *prometheus.CounterVec
	heartbeats    prometheus.Counter
	lost          prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		// componentMood is 1 for the mood a component is in and 0 otherwise.
		// Labels: component, mood
		componentMood: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "component_mood",
			Help:      "Current mood of each component",
		}, []string{"component", "mood"}),
		avatars: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "avatars",
			Help:      "Logged in avatars per heaven",
		}, []string{"heaven"}),
		keycards: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "keycards",
			Help:      "Keycards held by the bouncer",
		}),
		feedsReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "feeds_ready",
			Help:      "Feeds that became ready",
		}),
		// starts counts start attempts. Labels: component, result (linked, failed)
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "component_starts_total",
			Help:      "Component start attempts by result",
		}, []string{"component", "result"}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "heartbeats_total",
			Help:      "Heartbeats received from components",
		}),
		lost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Subsystem: "manager",
			Name:      "components_lost_total",
			Help:      "Components marked lost by detach or heartbeat timeout",
		}),
	}
}

func (m *metrics) setMood(component string, current mood.Mood) {
	for _, candidate := range mood.All {
		value := 0.0
		if candidate == current {
			value = 1
		}
		m.componentMood.WithLabelValues(component, candidate.String()).Set(value)
	}
}
