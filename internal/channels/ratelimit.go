package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

// WebhookRateLimiter throttles inbound webhook callers per remote key.
// Keys come from the network, so the map is bounded; when it fills up it is
// reset rather than grown.
type WebhookRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	limit   rate.Limit
	burst   int
	maxKeys int
}

// NewWebhookRateLimiter allows sustained perSecond requests with the given
// burst for each key.
func NewWebhookRateLimiter(perSecond float64, burst int) *WebhookRateLimiter {
	return &WebhookRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		maxKeys:  4096,
	}
}

// Allow reports whether the caller identified by key may proceed.
func (w *WebhookRateLimiter) Allow(key string) bool {
	w.mu.Lock()
	lim, ok := w.limiters[key]
	if !ok {
		if len(w.limiters) >= w.maxKeys {
			w.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(w.limit, w.burst)
		w.limiters[key] = lim
	}
	w.mu.Unlock()

	return lim.Allow()
}
