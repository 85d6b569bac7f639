// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/testutil"
)

func commandJob(id string) Job {
	return Job{Command: &CommandJob{RequestID: id, Name: "test"}}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		if !q.Enqueue(commandJob(id)) {
			t.Fatalf("Enqueue(%s) refused", id)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		job, ok := q.Dequeue(context.Background())
		if !ok {
			t.Fatalf("Dequeue returned no job, want %s", want)
		}
		if job.Command.RequestID != want {
			t.Errorf("dequeued %s, want %s", job.Command.RequestID, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after draining", q.Len())
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan Job, 1)
	go func() {
		job, ok := q.Dequeue(context.Background())
		if ok {
			got <- job
		}
	}()

	// Give the consumer a moment to block.
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(commandJob("late"))

	job := testutil.RequireReceive(t, got, time.Second, "waiting for blocked Dequeue")
	if job.Command.RequestID != "late" {
		t.Errorf("dequeued %s, want late", job.Command.RequestID)
	}
}

func TestDequeueCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := q.Dequeue(ctx); ok {
			t.Error("Dequeue returned a job after cancellation")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	testutil.RequireClosed(t, done, time.Second, "waiting for cancelled Dequeue")
}

func TestCloseDrainsAndStops(t *testing.T) {
	q := NewQueue()
	q.Enqueue(commandJob("queued"))
	q.Close()

	if q.Enqueue(commandJob("rejected")) {
		t.Error("Enqueue accepted a job after Close")
	}

	job, ok := q.Dequeue(context.Background())
	if !ok || job.Command.RequestID != "queued" {
		t.Fatalf("Dequeue after Close = (%+v, %v), want the queued job", job, ok)
	}
	if _, ok := q.Dequeue(context.Background()); ok {
		t.Error("Dequeue returned a job from a closed empty queue")
	}
}
