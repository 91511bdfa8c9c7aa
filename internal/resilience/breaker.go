package resilience

import (
	"sync"
	"time"
)

// DefaultThreshold is the failure count at which a breaker opens.
const DefaultThreshold = 5

// DefaultResetAfter is the cool-down before an open breaker allows a probe.
const DefaultResetAfter = 30 * time.Second

// Status reports the state of one named breaker.
type Status struct {
	Open     bool
	CanRetry bool
}

type breakerState struct {
	failures    int
	lastFailure time.Time
}

// Breakers tracks per-operation failure counts. Construct one per process
// composition and inject it; tests get a fresh registry per case.
type Breakers struct {
	mu       sync.Mutex
	now      func() time.Time
	breakers map[string]*breakerState
}

// NewBreakers returns an empty registry using the wall clock.
func NewBreakers() *Breakers {
	return &Breakers{
		now:      time.Now,
		breakers: make(map[string]*breakerState),
	}
}

// NewBreakersWithClock returns a registry with an injected clock (tests).
func NewBreakersWithClock(now func() time.Time) *Breakers {
	b := NewBreakers()
	b.now = now
	return b
}

// RecordFailure increments the failure counter for name. threshold <= 0 uses
// DefaultThreshold.
func (b *Breakers) RecordFailure(name string, threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.breakers[name]
	if st == nil {
		st = &breakerState{}
		b.breakers[name] = st
	}
	st.failures++
	st.lastFailure = b.now()
}

// RecordSuccess clears all breaker state for name.
func (b *Breakers) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.breakers, name)
}

// Check reports whether the breaker for name is open and whether a call may
// proceed. An open breaker allows a single probing attempt once resetAfter
// has elapsed since the last recorded failure.
func (b *Breakers) Check(name string, threshold int, resetAfter time.Duration) Status {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if resetAfter <= 0 {
		resetAfter = DefaultResetAfter
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.breakers[name]
	if st == nil || st.failures < threshold {
		return Status{Open: false, CanRetry: true}
	}
	if b.now().Sub(st.lastFailure) >= resetAfter {
		// Half-open: permit one probe; success will clear the breaker,
		// another failure pushes lastFailure forward again.
		return Status{Open: true, CanRetry: true}
	}
	return Status{Open: true, CanRetry: false}
}
