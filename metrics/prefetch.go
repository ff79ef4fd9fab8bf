package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

type PrefetchMetrics struct {
	QueuedTotal    metrics.Counter
	DroppedTotal   metrics.Counter
	CompletedTotal metrics.Counter
	FailedTotal    metrics.Counter
	QueueDepth     metrics.Gauge
	Running        metrics.Gauge
}

func (p *PrefetchMetrics) AddDropped(reason string) {
	p.DroppedTotal.With("reason", reason).Add(1)
}

func PromPrefetchMetrics() *PrefetchMetrics {
	return &PrefetchMetrics{
		QueuedTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "queued_total",
			Help:      "Total number of queued prefetch tasks.",
		}, []string{}),
		DroppedTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "dropped_total",
			Help:      "Total number of prefetch tasks dropped before running.",
		}, []string{"reason"}),
		CompletedTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "completed_total",
			Help:      "Total number of successful prefetches.",
		}, []string{}),
		FailedTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "failed_total",
			Help:      "Total number of failed prefetches.",
		}, []string{}),
		QueueDepth: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker.",
		}, []string{}),
		Running: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: PrefetchSubsystem,
			Name:      "running",
			Help:      "Number of prefetches in flight.",
		}, []string{}),
	}
}

func NopPrefetchMetrics() *PrefetchMetrics {
	return &PrefetchMetrics{
		QueuedTotal:    discard.NewCounter(),
		DroppedTotal:   discard.NewCounter(),
		CompletedTotal: discard.NewCounter(),
		FailedTotal:    discard.NewCounter(),
		QueueDepth:     discard.NewGauge(),
		Running:        discard.NewGauge(),
	}
}
