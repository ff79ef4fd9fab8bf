package metrics

const (
	Namespace         = "prefetch_proxy"
	ProxySubsystem    = "proxy"
	CacheSubsystem    = "cache"
	PrefetchSubsystem = "prefetch"
)

const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultError    = "error"
	ResultCoalesce = "coalesced"
)

// Reasons a prefetch task is dropped before it runs.
const (
	DropQueueFull   = "queue_full"
	DropDuplicate   = "duplicate"
	DropRecent      = "recent"
	DropRateLimited = "rate_limited"
	DropClosed      = "closed"
	DropScheme      = "scheme"
)
