package prefetchproxy

import "fmt"

type CacheStatusStatus string

const (
	CacheStatusHit CacheStatusStatus = "hit"
	CacheStatusFwd CacheStatusStatus = "fwd"
)

type CacheStatusFwdReason string

const (
	// No entry was stored under the request key.
	CacheStatusFwdUriMiss CacheStatusFwdReason = "uri-miss"

	// An entry was stored, but it was not fresh.
	CacheStatusFwdStale CacheStatusFwdReason = "stale"

	// The stored entry could not be read.
	CacheStatusFwdMiss CacheStatusFwdReason = "miss"
)

// CacheStatus describes how a request was handled, in the shape of a
// Cache-Status field. It is only logged: responses are relayed unmodified.
type CacheStatus struct {
	Status    CacheStatusStatus
	FwdReason CacheStatusFwdReason
	// Set when the origin response was shared with a concurrent fetch.
	Collapsed bool
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = CacheStatusHit
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.Status = CacheStatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("prefetch-proxy; %s", cs.Status)
	if cs.Status == CacheStatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Collapsed {
		status += "; collapsed"
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
