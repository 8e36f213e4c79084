// Package schedule provides the recurring triggers that feed the cleanup
// queue.
package schedule

import (
	"context"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/clock"
)

// Every runs fn once per interval until ctx is cancelled. The first run
// happens after one full interval, not immediately.
func Every(ctx context.Context, clk clock.Clock, interval time.Duration, fn func(context.Context)) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
			fn(ctx)
		}
	}
}

// DailyAt runs fn once per day at the given UTC hour until ctx is
// cancelled.
func DailyAt(ctx context.Context, clk clock.Clock, hour int, fn func(context.Context)) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	for {
		wait := NextDaily(clk.Now(), hour).Sub(clk.Now())
		select {
		case <-ctx.Done():
			return
		case <-clk.After(wait):
			fn(ctx)
		}
	}
}

// NextDaily returns the next occurrence of the given UTC hour strictly
// after now.
func NextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
