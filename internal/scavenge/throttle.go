package scavenge

import (
	"context"
	"time"
)

// Throttle rests between chunks so that a single threaded scavenge spends
// only percent of wall time working.
type Throttle struct {
	percent int
	sleep   func(ctx context.Context, d time.Duration) error
	total   time.Duration
}

// NewThrottle returns a throttle for percent in [1, 100]. 100 never rests.
func NewThrottle(percent int) *Throttle {
	percent = min(max(percent, 1), 100)
	return &Throttle{percent: percent, sleep: sleepCtx}
}

// RestFor returns how long to rest after working for worked.
func (t *Throttle) RestFor(worked time.Duration) time.Duration {
	if t.percent >= 100 || worked <= 0 {
		return 0
	}
	return worked * time.Duration(100-t.percent) / time.Duration(t.percent)
}

// Rest sleeps for RestFor(worked), returning early with ctx.Err() when
// cancelled.
func (t *Throttle) Rest(ctx context.Context, worked time.Duration) error {
	d := t.RestFor(worked)
	if d <= 0 {
		return nil
	}
	t.total += d
	return t.sleep(ctx, d)
}

// TotalRested returns the accumulated rest time.
func (t *Throttle) TotalRested() time.Duration {
	return t.total
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
