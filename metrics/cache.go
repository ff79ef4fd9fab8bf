package metrics

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

type CacheMetrics struct {
	WritesTotal       metrics.Counter
	WriteErrorsTotal  metrics.Counter
	WrittenBytesTotal metrics.Counter
	PurgesTotal       metrics.Counter
}

func (c *CacheMetrics) AddWrite(size int) {
	c.WritesTotal.Add(1)
	c.WrittenBytesTotal.Add(float64(size))
}

func PromCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		WritesTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: CacheSubsystem,
			Name:      "writes_total",
			Help:      "Total number of stored responses.",
		}, []string{}),
		WriteErrorsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: CacheSubsystem,
			Name:      "write_errors_total",
			Help:      "Total number of dropped writes.",
		}, []string{}),
		WrittenBytesTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: CacheSubsystem,
			Name:      "written_bytes_total",
			Help:      "Total number of bytes stored.",
		}, []string{}),
		PurgesTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: CacheSubsystem,
			Name:      "purges_total",
			Help:      "Total number of purged entries.",
		}, []string{}),
	}
}

func NopCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		WritesTotal:       discard.NewCounter(),
		WriteErrorsTotal:  discard.NewCounter(),
		WrittenBytesTotal: discard.NewCounter(),
		PurgesTotal:       discard.NewCounter(),
	}
}
