package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig defines the default per-endpoint outbound rate.
type LimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerSecond: 50,
		Burst:             10,
	}
}

// LimiterSet maintains one token bucket per endpoint, created lazily with
// the default rate. Double-checked locking keeps the hot Allow path on the
// read lock.
type LimiterSet struct {
	config   LimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewLimiterSet(config LimiterConfig) *LimiterSet {
	return &LimiterSet{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *LimiterSet) limiter(endpointID string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[endpointID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[endpointID]; ok {
		return l
	}

	l = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)
	s.limiters[endpointID] = l
	return l
}

// Allow reports whether one more request to the endpoint may go out now.
func (s *LimiterSet) Allow(endpointID string) bool {
	return s.limiter(endpointID).Allow()
}

// Delay returns how long the caller would need to wait for the next token.
// Deliveries use it to pick a reschedule delay instead of blocking a worker.
func (s *LimiterSet) Delay(endpointID string) time.Duration {
	r := s.limiter(endpointID).Reserve()
	if !r.OK() {
		return 0
	}
	d := r.Delay()
	r.Cancel()
	return d
}

// SetRate overrides the rate for one endpoint.
func (s *LimiterSet) SetRate(endpointID string, requestsPerSecond float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[endpointID] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Remove drops the limiter for a deleted endpoint.
func (s *LimiterSet) Remove(endpointID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limiters, endpointID)
}
