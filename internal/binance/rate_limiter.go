package binance

import (
	"sync"
	"time"
)

// RateLimiter tracks Binance's weight-based request budget over a rolling
// one minute window so the engine throttles itself before the exchange does.
type RateLimiter struct {
	mu sync.Mutex

	currentWeight int
	weightResetAt time.Time
	maxWeight     int
}

// Spot API weights for the endpoints the engine calls
var endpointWeights = map[string]int{
	"/api/v3/klines":       2,
	"/api/v3/ticker/price": 2,
	"/api/v3/ticker/24hr":  80,
	"/api/v3/exchangeInfo": 20,
	"/api/v3/order":        1,
	"/api/v3/account":      20,
}

// NewRateLimiter creates a rate limiter with the spot API budget
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		maxWeight:     6000, // spot limit per minute
		weightResetAt: time.Now().Add(time.Minute),
	}
}

// TryAcquire records the request weight if budget remains. Returns false
// and the suggested wait when the window is exhausted.
func (r *RateLimiter) TryAcquire(endpoint string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	weight := endpointWeight(endpoint)
	if r.currentWeight+weight > r.maxWeight {
		wait := time.Until(r.weightResetAt)
		if wait < 0 {
			wait = 100 * time.Millisecond
		}
		return false, wait
	}

	r.currentWeight += weight
	return true, 0
}

// WaitForSlot blocks until the request fits in the budget or the timeout
// elapses
func (r *RateLimiter) WaitForSlot(endpoint string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		ok, wait := r.TryAcquire(endpoint)
		if ok {
			return true
		}
		if time.Now().Add(wait).After(deadline) {
			return false
		}
		if wait > time.Second {
			wait = time.Second
		}
		time.Sleep(wait)
	}
}

// Usage returns the consumed weight and window limit
func (r *RateLimiter) Usage() (current, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Now().After(r.weightResetAt) {
		return 0, r.maxWeight
	}
	return r.currentWeight, r.maxWeight
}

func endpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}
