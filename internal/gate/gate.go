// Package gate throttles outbound model requests: at most one in flight per
// session, and a minimum interval between consecutive attempts.
package gate

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrBusy means a request is already in flight.
	ErrBusy = errors.New("request already in flight")
	// ErrTooSoon means the minimum interval since the last send has not elapsed.
	ErrTooSoon = errors.New("minimum interval not elapsed")
)

const DefaultMinInterval = time.Second

type RequestGate struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastRequest time.Time
	inFlight    bool
}

func New(minInterval time.Duration) *RequestGate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &RequestGate{minInterval: minInterval}
}

// TryAcquire claims the gate for a request starting at now. On success the
// last-request time is pinned to now, so back-to-back attempts are throttled
// from send time rather than response time. Callers must Release when the
// request completes, whatever the outcome.
func (g *RequestGate) TryAcquire(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return ErrBusy
	}
	if !g.lastRequest.IsZero() && now.Sub(g.lastRequest) < g.minInterval {
		return ErrTooSoon
	}

	g.inFlight = true
	g.lastRequest = now
	return nil
}

// Release marks the in-flight request finished. The last-request time is left
// untouched.
func (g *RequestGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}

// InFlight reports whether a request currently holds the gate.
func (g *RequestGate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
