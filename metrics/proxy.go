package metrics

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

type ProxyMetrics struct {
	RequestsTotal      metrics.Counter
	ErrorsTotal        metrics.Counter
	OriginFetchSeconds metrics.Histogram
	OpenConnections    metrics.Gauge
}

func (p *ProxyMetrics) AddRequest(result string) {
	p.RequestsTotal.With("result", result).Add(1)
}

func (p *ProxyMetrics) AddError(kind string) {
	p.ErrorsTotal.With("kind", kind).Add(1)
}

func (p *ProxyMetrics) ObserveOriginFetch(begin time.Time) {
	p.OriginFetchSeconds.Observe(time.Since(begin).Seconds())
}

func PromProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{
		RequestsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ProxySubsystem,
			Name:      "requests_total",
			Help:      "Total number of client requests by cache result.",
		}, []string{"result"}),
		ErrorsTotal: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ProxySubsystem,
			Name:      "errors_total",
			Help:      "Total number of aborted connections by error kind.",
		}, []string{"kind"}),
		OriginFetchSeconds: prometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: Namespace,
			Subsystem: ProxySubsystem,
			Name:      "origin_fetch_seconds",
			Help:      "Duration of origin round trips.",
		}, []string{}),
		OpenConnections: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: ProxySubsystem,
			Name:      "open_connections",
			Help:      "Number of client connections being handled.",
		}, []string{}),
	}
}

func NopProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{
		RequestsTotal:      discard.NewCounter(),
		ErrorsTotal:        discard.NewCounter(),
		OriginFetchSeconds: discard.NewHistogram(),
		OpenConnections:    discard.NewGauge(),
	}
}
