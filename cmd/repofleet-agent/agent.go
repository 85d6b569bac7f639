// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/repofleet-foundation/repofleet/lib/clock"
	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/config"
	"github.com/repofleet-foundation/repofleet/lib/git"
	"github.com/repofleet-foundation/repofleet/lib/jobs"
	"github.com/repofleet-foundation/repofleet/lib/process"
	"github.com/repofleet-foundation/repofleet/lib/rpc"
	"github.com/repofleet-foundation/repofleet/lib/schema"
	"github.com/repofleet-foundation/repofleet/lib/semver"
	"github.com/repofleet-foundation/repofleet/transport"
)

// Agent ties together the connection to the control plane, the job
// queue and worker pool, the git engine, and the hook bridge.
type Agent struct {
	config   *config.Config
	logger   *slog.Logger
	clk      clock.Clock
	engine   *git.Engine
	resolver *semver.Resolver
	queue    *jobs.Queue
	registry *rpc.Registry
	bridge   *hookBridge
	commands map[string]commandDefinition

	// conn is the live connection, nil while offline. Swapped by the
	// connect loop; readers go through currentConn only.
	conn  atomic.Pointer[transport.Conn]
	state atomic.Int32
}

func newAgent(cfg *config.Config, logger *slog.Logger, clk clock.Clock, runner process.Runner) *Agent {
	agent := &Agent{
		config: cfg,
		logger: logger,
		clk:    clk,
		engine: git.NewEngine(git.Options{
			Runner: runner,
			Clock:  clk,
			Remote: cfg.RemoteName,
			Token:  cfg.AuthToken,
		}),
		resolver: semver.NewResolver(cfg.ResolverBinary, runner),
		queue:    jobs.NewQueue(),
		registry: rpc.NewRegistry(),
	}
	agent.bridge = newHookBridge(cfg.HookListen, agent.queue, logger)
	agent.commands = agent.buildCommands()
	agent.setState(StateOffline)
	return agent
}

// Run starts the hook bridge, the worker pool, and the connect loop,
// and blocks until ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.bridge.Start(); err != nil {
		return fmt.Errorf("starting hook bridge: %w", err)
	}
	defer a.bridge.Stop()

	pool := jobs.NewPool(jobs.PoolOptions{
		Queue:     a.queue,
		Workers:   a.config.Workers,
		Executor:  a,
		Notifier:  a,
		Responder: a,
		Logger:    a.logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	a.connectLoop(ctx)

	a.queue.Close()
	wg.Wait()
	a.logger.Info("agent stopped")
	return nil
}

// Execute dispatches a command job through the registry. Called by
// pool workers.
func (a *Agent) Execute(ctx context.Context, job *jobs.CommandJob) (codec.RawMessage, error) {
	definition, ok := a.commands[job.Name]
	if !ok {
		return nil, fmt.Errorf("unsupported command %q", job.Name)
	}
	a.logger.Debug("executing command", "command", job.Name, "request_id", job.RequestID)
	payload, err := definition.handler(ctx, job.Args)
	if err != nil {
		return nil, err
	}
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", job.Name, err)
	}
	return encoded, nil
}

// Respond sends a command result back over the live connection.
func (a *Agent) Respond(_ context.Context, result *schema.Result) error {
	conn := a.currentConn()
	if conn == nil {
		return transport.ErrConnectionUnavailable
	}
	return conn.SendPayload(schema.FrameResult, result)
}

// sendSyncNotice raises an autonomous sync frame. Best effort: when
// offline the notice is dropped — the control plane refreshes on
// reconnect.
func (a *Agent) sendSyncNotice(notice schema.SyncNotice) {
	conn := a.currentConn()
	if conn == nil {
		a.logger.Debug("dropping sync notice while offline",
			"repository_id", notice.RepositoryID)
		return
	}
	if err := conn.SendPayload(schema.FrameSync, notice); err != nil {
		a.logger.Warn("failed to send sync notice",
			"repository_id", notice.RepositoryID, "error", err)
	}
}

// notifyURL is the endpoint installed git hooks ping. It reflects the
// bridge's bound address, which differs from the configured one when
// the port was 0.
func (a *Agent) notifyURL() string {
	return "http://" + a.bridge.Address() + "/notify"
}

func (a *Agent) currentConn() *transport.Conn {
	return a.conn.Load()
}
