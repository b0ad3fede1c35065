package services

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// PollThrottle damps upstream token-endpoint calls: a flow that was polled
// upstream less than its interval ago is answered from local state instead
// of hitting the authorization server again. It is advisory; correctness of
// the flow state machine never depends on it.
type PollThrottle struct {
	cache *ttlcache.Cache[string, time.Time]
}

func NewPollThrottle() *PollThrottle {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)
	go cache.Start()

	return &PollThrottle{cache: cache}
}

// Allow reports whether an upstream call for the flow may proceed, and if so
// records it with the flow's interval as the damping window. A non-positive
// interval disables damping for that flow.
func (t *PollThrottle) Allow(flowID string, intervalSeconds int) bool {
	if intervalSeconds <= 0 {
		return true
	}
	if t.cache.Has(flowID) {
		return false
	}

	t.cache.Set(flowID, time.Now(), time.Duration(intervalSeconds)*time.Second)

	return true
}

// Forget drops the damping entry, e.g. when the flow reaches a terminal
// state or is cancelled.
func (t *PollThrottle) Forget(flowID string) {
	t.cache.Delete(flowID)
}

// Close stops the cache's expiry goroutine.
func (t *PollThrottle) Close() {
	t.cache.Stop()
}
