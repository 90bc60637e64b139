// Package clock provides the single time source used for every "now"
// comparison in booking and slot generation.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant
type Clock interface {
	Now() time.Time
}

// System is the wall clock
type System struct{}

// New returns the wall clock
func New() Clock {
	return System{}
}

// Now returns time.Now in UTC
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Mock is a settable clock for tests and replay tooling
type Mock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMock returns a Mock frozen at t
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Now returns the frozen instant
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
