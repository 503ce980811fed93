package deploy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

var stageBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type metrics struct {
	available     *prometheus.GaugeVec
	slots         *prometheus.GaugeVec
	outcomes      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// newMetrics registers allocator collectors on reg. A nil reg disables
// metrics; every method tolerates a nil receiver.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sphere",
			Subsystem: "allocator",
			Name:      "available_resources",
			Help:      "Unreserved resources per server",
		}, []string{"server", "resource"}),
		slots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sphere",
			Subsystem: "allocator",
			Name:      "deployments",
			Help:      "Deployments holding a server slot, by state",
		}, []string{"server", "state"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sphere",
			Subsystem: "allocator",
			Name:      "deploy_outcomes_total",
			Help:      "Deploy and release outcomes per server",
		}, []string{"server", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sphere",
			Subsystem: "allocator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
	}

	if err := reg.Register(m.available); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				m.available = existing
			}
		}
	}
	if err := reg.Register(m.slots); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				m.slots = existing
			}
		}
	}
	if err := reg.Register(m.outcomes); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				m.outcomes = existing
			}
		}
	}
	if err := reg.Register(m.stageDuration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.stageDuration = existing
			}
		}
	}
	return m
}

func (m *metrics) observeServer(s domain.Server) {
	if m == nil {
		return
	}
	m.available.WithLabelValues(s.Key, "cpu").Set(float64(s.Available.CPU))
	m.available.WithLabelValues(s.Key, "memory").Set(float64(s.Available.Memory))
	m.available.WithLabelValues(s.Key, "storage").Set(float64(s.Available.Storage))
	m.slots.WithLabelValues(s.Key, "deployed").Set(float64(len(s.DeployedProjects)))
	m.slots.WithLabelValues(s.Key, "pending").Set(float64(s.Pending))
}

func (m *metrics) recordOutcome(server, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(server, outcome).Inc()
}

func (m *metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
