// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry provides a generic bounded-retry wrapper with
// exponential backoff and jitter. It exists so that call sites that
// need resilience (safe-directory marking raced by concurrent workers,
// transient sends) share one policy mechanism instead of duplicating
// retry loops.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/clock"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Each further
	// attempt doubles it.
	BaseDelay time.Duration

	// MaxJitter, when positive, adds a uniformly random duration in
	// [0, MaxJitter) to every backoff wait. Jitter decorrelates
	// workers retrying the same contended resource.
	MaxJitter time.Duration
}

// Do runs op until it returns nil, the policy is exhausted, or ctx is
// cancelled. Backoff waits go through clk so tests can advance time
// deterministically. The last error is returned when all attempts
// fail; ctx.Err() is returned when cancellation wins the wait.
func Do(ctx context.Context, clk clock.Clock, policy Policy, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastError error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := policy.BaseDelay << (attempt - 1)
			if policy.MaxJitter > 0 {
				backoff += time.Duration(rand.Int63n(int64(policy.MaxJitter)))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clk.After(backoff):
			}
		}

		if err := op(ctx); err != nil {
			lastError = err
			continue
		}
		return nil
	}
	return lastError
}
