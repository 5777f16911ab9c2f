package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish outcomes.
const (
	OutboxPublished = "published"
	OutboxRetry     = "retry"
	OutboxParked    = "parked"
	OutboxDeferred  = "deferred"
)

const backlogTimeout = 2 * time.Second

// BacklogFunc counts outbox rows still waiting to be published.
type BacklogFunc func(ctx context.Context) (int64, error)

// OutboxMetrics tracks what the outbox publisher does with each claimed row.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	batches prometheus.Histogram
}

// NewOutboxMetrics registers the publisher metrics. When backlog is set, the
// outbox_backlog gauge runs it on every scrape.
func NewOutboxMetrics(reg prometheus.Registerer, backlog BacklogFunc) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Time spent claiming and publishing one outbox batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}),
	}
	reg.MustRegister(m.events, m.batches)
	if backlog != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "outbox_backlog",
			Help: "Unpublished outbox rows that still have attempts left.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), backlogTimeout)
			defer cancel()
			n, err := backlog(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		}))
	}
	return m
}

// Count adds n rows with the given outcome on topic.
func (m *OutboxMetrics) Count(topic, outcome string, n int) {
	if m == nil || m.events == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(normalizeLabel(topic), outcome).Add(float64(n))
}

func (m *OutboxMetrics) ObserveBatch(elapsed time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(elapsed.Seconds())
}
