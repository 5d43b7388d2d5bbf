package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the allocation counters. A nil *Metrics records nothing.
type Metrics struct {
	Allocations      *prometheus.CounterVec
	CodeCollisions   prometheus.Counter
	OwnerStatusFails prometheus.Counter
	StatusAppends    prometheus.Counter
	AllocateDuration prometheus.Histogram
}

func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Tracking number allocations by result.",
		}, []string{"result"}),
		CodeCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Generated tracking numbers rejected by the store as duplicates.",
		}),
		OwnerStatusFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_status_failures_total",
			Help:      "Best-effort owner status writes that failed.",
		}),
		StatusAppends: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_appends_total",
			Help:      "Status events appended after allocation.",
		}),
		AllocateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocate_duration_seconds",
			Help:      "Time spent in Allocate.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Allocated(result string, started time.Time) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(result).Inc()
	m.AllocateDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) Collision() {
	if m == nil {
		return
	}
	m.CodeCollisions.Inc()
}

func (m *Metrics) OwnerStatusFailed() {
	if m == nil {
		return
	}
	m.OwnerStatusFails.Inc()
}

func (m *Metrics) StatusAppended() {
	if m == nil {
		return
	}
	m.StatusAppends.Inc()
}
