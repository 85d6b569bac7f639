// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/schema"
)

// Executor runs command jobs and produces their response payload.
type Executor interface {
	Execute(ctx context.Context, job *CommandJob) (codec.RawMessage, error)
}

// Notifier handles hook notification jobs.
type Notifier interface {
	Notify(ctx context.Context, job *NotifyJob) error
}

// Responder delivers command results back to the control plane.
type Responder interface {
	Respond(ctx context.Context, result *schema.Result) error
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Queue     *Queue
	Workers   int
	Executor  Executor
	Notifier  Notifier
	Responder Responder
	Logger    *slog.Logger
}

// Pool drains a Queue with a fixed set of workers. A panicking handler
// takes down neither its worker nor the process: command jobs turn
// into failure results, notify jobs are logged and dropped.
type Pool struct {
	queue     *Queue
	workers   int
	executor  Executor
	notifier  Notifier
	responder Responder
	logger    *slog.Logger
}

// NewPool builds a pool. Workers below 1 are raised to 1.
func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:     opts.Queue,
		workers:   workers,
		executor:  opts.Executor,
		notifier:  opts.Notifier,
		responder: opts.Responder,
		logger:    logger,
	}
}

// Run blocks until ctx ends or the queue is closed and drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for {
		job, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		switch {
		case job.Command != nil:
			result := p.runCommand(ctx, logger, job.Command)
			if err := p.responder.Respond(ctx, result); err != nil {
				logger.Error("dropping command result",
					"request_id", job.Command.RequestID,
					"command", job.Command.Name,
					"error", err)
			}
		case job.Notify != nil:
			p.runNotify(ctx, logger, job.Notify)
		default:
			logger.Warn("discarding empty job")
		}
	}
}

// runCommand executes a command job, converting both handler errors
// and panics into failure results so the control plane always hears
// back.
func (p *Pool) runCommand(ctx context.Context, logger *slog.Logger, job *CommandJob) (result *schema.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("command handler panicked",
				"command", job.Name,
				"request_id", job.RequestID,
				"panic", r,
				"stack", string(debug.Stack()))
			result = &schema.Result{
				RequestID: job.RequestID,
				Error:     fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	data, err := p.executor.Execute(ctx, job)
	if err != nil {
		return &schema.Result{RequestID: job.RequestID, Error: err.Error()}
	}
	return &schema.Result{RequestID: job.RequestID, Success: true, Data: data}
}

func (p *Pool) runNotify(ctx context.Context, logger *slog.Logger, job *NotifyJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notify handler panicked",
				"kind", job.Kind,
				"repository_id", job.RepositoryID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := p.notifier.Notify(ctx, job); err != nil {
		logger.Error("hook notification failed",
			"kind", job.Kind,
			"workspace_id", job.WorkspaceID,
			"repository_id", job.RepositoryID,
			"error", err)
	}
}
