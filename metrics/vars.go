package metrics

var (
	Proxy    = NopProxyMetrics()
	Cache    = NopCacheMetrics()
	Prefetch = NopPrefetchMetrics()
)
