// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobs holds the agent's work queue and the worker pool that
// drains it. Work arrives from two producers — command frames on the
// control-plane connection and hook notifications from local git
// repositories — and is executed off the connection's read loop so a
// slow git operation never stalls frame handling.
package jobs

import (
	"context"
	"sync"

	"github.com/repofleet-foundation/repofleet/lib/codec"
)

// HookKind identifies which git hook fired a notification.
type HookKind string

const (
	HookCommit   HookKind = "commit"
	HookCheckout HookKind = "checkout"
	HookMerge    HookKind = "merge"
	HookUpdate   HookKind = "update"
)

// ParseHookKind maps a wire string to a HookKind.
func ParseHookKind(raw string) (HookKind, bool) {
	switch HookKind(raw) {
	case HookCommit, HookCheckout, HookMerge, HookUpdate:
		return HookKind(raw), true
	}
	return "", false
}

// NotifyJob is a hook notification from a local repository.
type NotifyJob struct {
	Kind         HookKind
	WorkspaceID  int64
	RepositoryID int64
	Path         string
}

// CommandJob is a command received from the control plane. Args is the
// still-encoded payload; the handler decodes it into the command's
// argument type.
type CommandJob struct {
	RequestID string
	Name      string
	Args      codec.RawMessage
}

// Job is one unit of work. Exactly one field is set.
type Job struct {
	Notify  *NotifyJob
	Command *CommandJob
}

// Queue is an unbounded FIFO queue. Enqueue never blocks; producers
// (the connection read loop, the hook endpoint) must not be
// backpressured by slow git work. Memory growth under a wedged worker
// pool is accepted.
type Queue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []Job
	closed   bool
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job. Jobs enqueued after Close are dropped and
// reported as such.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, job)
	q.nonEmpty.Signal()
	return true
}

// Dequeue removes the oldest job, blocking until one is available.
// It returns false when ctx ends or the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	stop := context.AfterFunc(ctx, func() {
		// Take the lock so a waiter past its predicate check cannot
		// miss the wakeup.
		q.mu.Lock()
		defer q.mu.Unlock()
		q.nonEmpty.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.nonEmpty.Wait()
	}
	if len(q.items) == 0 || ctx.Err() != nil {
		return Job{}, false
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job, true
}

// Close marks the queue closed and wakes all waiters. Already-queued
// jobs are still drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
