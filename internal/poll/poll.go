// Package poll implements the fixed-interval wait loop used while a
// convoy works toward landing.
package poll

import (
	"context"
	"time"
)

// Outcome is the result of a Wait.
type Outcome struct {
	Landed  bool
	Elapsed time.Duration
}

// Wait polls pred every interval until it reports true or the accumulated
// wait reaches timeout. Elapsed counts whole intervals rather than wall
// time, so a slow predicate never distorts the report arithmetic: landing
// at the k-th check reads exactly k*interval, and a timeout reads as the
// first multiple of interval at or past it.
//
// pred runs once immediately. onTick, if non-nil, is called after each
// check with the current elapsed value and whether that check landed.
// Cancelling ctx stops the wait at the current elapsed count.
func Wait(ctx context.Context, pred func() bool, interval, timeout time.Duration, onTick func(elapsed time.Duration, landed bool)) Outcome {
	var elapsed time.Duration
	for elapsed < timeout {
		if pred() {
			if onTick != nil {
				onTick(elapsed, true)
			}
			return Outcome{Landed: true, Elapsed: elapsed}
		}
		if onTick != nil {
			onTick(elapsed, false)
		}

		select {
		case <-ctx.Done():
			return Outcome{Elapsed: elapsed}
		case <-time.After(interval):
		}
		elapsed += interval
	}
	return Outcome{Elapsed: elapsed}
}
