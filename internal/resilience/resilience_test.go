package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerSet_SuccessStaysClosed(t *testing.T) {
	set := NewBreakerSet(DefaultBreakerConfig())

	result, err := set.Execute("ep_1", func() (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %v, want ok", result)
	}
	if state := set.State("ep_1"); state != BreakerClosed {
		t.Errorf("state = %v, want closed", state)
	}
}

func TestBreakerSet_OpensAfterFailures(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	boom := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		set.Execute("ep_1", func() (interface{}, error) {
			return nil, boom
		})
	}

	if state := set.State("ep_1"); state != BreakerOpen {
		t.Fatalf("state = %v, want open", state)
	}

	// Open breaker rejects without calling fn.
	called := false
	_, err := set.Execute("ep_1", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Error("expected rejection from open breaker")
	}
	if called {
		t.Error("fn should not run while the breaker is open")
	}
}

func TestBreakerSet_IsolatesEndpoints(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	boom := errors.New("timeout")

	for i := 0; i < 3; i++ {
		set.Execute("ep_sick", func() (interface{}, error) {
			return nil, boom
		})
	}

	if state := set.State("ep_sick"); state != BreakerOpen {
		t.Fatalf("sick endpoint state = %v, want open", state)
	}
	if state := set.State("ep_healthy"); state != BreakerClosed {
		t.Errorf("healthy endpoint state = %v, want closed", state)
	}
}

func TestBreakerSet_OnStateChange(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	var mu sync.Mutex
	var transitions []BreakerState
	set.OnStateChange(func(endpointID string, from, to BreakerState) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	boom := errors.New("bad gateway")
	for i := 0; i < 3; i++ {
		set.Execute("ep_1", func() (interface{}, error) {
			return nil, boom
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 || transitions[len(transitions)-1] != BreakerOpen {
		t.Errorf("transitions = %v, want final state open", transitions)
	}
}

func TestLimiterSet_AllowWithinBurst(t *testing.T) {
	set := NewLimiterSet(LimiterConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !set.Allow("ep_1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if set.Allow("ep_1") {
		t.Error("request beyond burst should be limited")
	}
}

func TestLimiterSet_IsolatesEndpoints(t *testing.T) {
	set := NewLimiterSet(LimiterConfig{RequestsPerSecond: 1, Burst: 1})

	if !set.Allow("ep_1") {
		t.Fatal("first request should be allowed")
	}
	if set.Allow("ep_1") {
		t.Error("ep_1 should be exhausted")
	}
	if !set.Allow("ep_2") {
		t.Error("ep_2 has its own bucket and should be allowed")
	}
}

func TestLimiterSet_Delay(t *testing.T) {
	set := NewLimiterSet(LimiterConfig{RequestsPerSecond: 10, Burst: 1})

	set.Allow("ep_1")
	delay := set.Delay("ep_1")
	if delay <= 0 {
		t.Errorf("delay = %v, want > 0 after exhausting the bucket", delay)
	}
	if delay > time.Second {
		t.Errorf("delay = %v, want at most the refill interval", delay)
	}
}

func TestLimiterSet_SetRate(t *testing.T) {
	set := NewLimiterSet(LimiterConfig{RequestsPerSecond: 1, Burst: 1})
	set.SetRate("ep_1", 100, 5)

	for i := 0; i < 5; i++ {
		if !set.Allow("ep_1") {
			t.Fatalf("request %d within the raised burst should be allowed", i+1)
		}
	}
}
