package core

import (
	"context"
	"math/rand"
	"time"
)

// Backoff produces reconnect delays that double from Base up to Max, with
// 20% jitter so workers sharing a failed server do not reconnect in step.
// The zero value produces zero delays, which is useful in tests.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	b.attempt++

	if delta := int64(d) / 5; delta > 0 {
		d += time.Duration(rand.Int63n(2*delta+1) - delta)
	}
	return d
}

// Reset restarts the schedule after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for d or until ctx is cancelled, reporting whether the full
// wait elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
