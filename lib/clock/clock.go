// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() and advance time explicitly.
// Any function that would call time.Now, time.After, time.NewTicker, or
// time.Sleep takes a Clock instead.
package clock

import "time"

// Clock is the time source injected into components that wait, retry,
// or tick.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on C at the given
	// interval. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. The C channel has capacity 1; if the
// consumer falls behind, ticks are dropped rather than queued.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are sent on C after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
