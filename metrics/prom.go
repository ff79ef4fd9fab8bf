package metrics

import "sync"

var promOnce sync.Once

// InitPrometheusMetrics swaps the package metrics for prometheus-backed ones
// registered on the default registry. Only the first call has an effect.
func InitPrometheusMetrics() {
	promOnce.Do(func() {
		Proxy = PromProxyMetrics()
		Cache = PromCacheMetrics()
		Prefetch = PromPrefetchMetrics()
	})
}
