// Package engine drives the polling loop: randomized waits between
// cycles, exponential backoff on retryable failures, and the cooldown
// behaviors that keep the account off the portal's radar.
package engine

import (
	"context"
	"time"
)

// Clock abstracts time so the loop can be tested without real delays.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until the context is done, returning the
	// context error in that case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
