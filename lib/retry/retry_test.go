// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/clock"
	"github.com/repofleet-foundation/repofleet/lib/testutil"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), clock.Real(), Policy{MaxAttempts: 3, BaseDelay: time.Hour},
		func(context.Context) error {
			calls++
			return nil
		})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestDoRetriesWithBackoff(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	transient := errors.New("transient")

	done := make(chan error, 1)
	calls := make(chan int, 16)
	go func() {
		count := 0
		done <- Do(context.Background(), fake, Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
			func(context.Context) error {
				count++
				calls <- count
				if count < 3 {
					return transient
				}
				return nil
			})
	}()

	testutil.RequireReceive(t, calls, 5*time.Second, "first attempt")
	fake.WaitForTimers(1)
	fake.Advance(100 * time.Millisecond) // second attempt after base delay
	testutil.RequireReceive(t, calls, 5*time.Second, "second attempt")
	fake.WaitForTimers(1)
	fake.Advance(200 * time.Millisecond) // doubled
	testutil.RequireReceive(t, calls, 5*time.Second, "third attempt")

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Do return"); err != nil {
		t.Errorf("Do returned %v, want nil after eventual success", err)
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	final := errors.New("still failing")
	err := Do(context.Background(), clock.Real(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		func(context.Context) error { return final })
	if !errors.Is(err, final) {
		t.Errorf("Do returned %v, want %v", err, final)
	}
}

func TestDoStopsOnCancellation(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, fake, Policy{MaxAttempts: 5, BaseDelay: time.Hour},
			func(context.Context) error { return errors.New("nope") })
	}()

	fake.WaitForTimers(1)
	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "Do return")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do returned %v, want context.Canceled", err)
	}
}
