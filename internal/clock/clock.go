// Package clock abstracts time so tests can drive backoff delays,
// visibility timeouts and schedules deterministically instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and timer channels. Everything in the
// engine that reads the wall clock goes through a Clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the time package.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a manually advanced clock for tests. Its timers fire
// immediately with the target time; ordering across goroutines is up to
// the test.
type MockClock struct {
	mu      sync.Mutex
	NowTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NowTime
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- m.Now().Add(d)
	return ch
}

// Advance moves the clock forward.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NowTime = m.NowTime.Add(d)
}
