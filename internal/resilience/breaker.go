// Package resilience protects receiver endpoints from overload and shields
// the worker pool from destinations that are clearly down.
//
// Rate limiting uses golang.org/x/time/rate token buckets; circuit breaking
// uses github.com/sony/gobreaker. Both are keyed per endpoint so one sick
// destination cannot starve deliveries to healthy ones.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig defines per-endpoint circuit breaker behavior.
//
// MaxRequests caps probe requests while half-open. Interval is the cyclic
// period for clearing counts while closed. Timeout is how long an open
// breaker waits before probing again. The breaker trips when at least
// MinRequests have been seen and the failure ratio reaches FailureRatio.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  5,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// BreakerState is the observable state of one endpoint's breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSet maintains one circuit breaker per endpoint, created lazily.
type BreakerSet struct {
	config   BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker
	mu       sync.RWMutex

	onStateChange func(endpointID string, from, to BreakerState)
}

func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// OnStateChange registers a callback for breaker transitions, used to log
// and count endpoints going dark.
func (s *BreakerSet) OnStateChange(fn func(endpointID string, from, to BreakerState)) {
	s.onStateChange = fn
}

func (s *BreakerSet) breaker(endpointID string) *gobreaker.CircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[endpointID]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok = s.breakers[endpointID]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpointID,
		MaxRequests: s.config.MaxRequests,
		Interval:    s.config.Interval,
		Timeout:     s.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.config.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if s.onStateChange != nil {
				s.onStateChange(name, toBreakerState(from), toBreakerState(to))
			}
		},
	})
	s.breakers[endpointID] = cb
	return cb
}

// Execute runs fn through the endpoint's breaker. While the breaker is open
// it returns gobreaker.ErrOpenState without calling fn.
func (s *BreakerSet) Execute(endpointID string, fn func() (interface{}, error)) (interface{}, error) {
	return s.breaker(endpointID).Execute(fn)
}

func (s *BreakerSet) State(endpointID string) BreakerState {
	return toBreakerState(s.breaker(endpointID).State())
}

// Remove drops the breaker for a deleted endpoint.
func (s *BreakerSet) Remove(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, endpointID)
}

func toBreakerState(state gobreaker.State) BreakerState {
	switch state {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
