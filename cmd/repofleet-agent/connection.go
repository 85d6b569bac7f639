// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/jobs"
	"github.com/repofleet-foundation/repofleet/lib/schema"
	"github.com/repofleet-foundation/repofleet/lib/version"
	"github.com/repofleet-foundation/repofleet/transport"
)

// ConnState is the observable state of the control-plane connection.
type ConnState int32

const (
	StateOffline ConnState = iota
	StateConnecting
	StateOnline
	StateVersionMismatch
)

func (s ConnState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateVersionMismatch:
		return "version-mismatch"
	}
	return "unknown"
}

// State reports the current connection state.
func (a *Agent) State() ConnState {
	return ConnState(a.state.Load())
}

func (a *Agent) setState(state ConnState) {
	a.state.Store(int32(state))
}

// connectLoop maintains one logical connection for the lifetime of
// ctx. A lost or failed connection is retried forever: the first retry
// is immediate (transient blips are common), subsequent ones wait the
// configured interval.
func (a *Agent) connectLoop(ctx context.Context) {
	dialer := transport.Dialer{Timeout: 10 * time.Second}
	failures := 0
	for ctx.Err() == nil {
		a.setState(StateConnecting)
		conn, err := dialer.DialContext(ctx, a.config.ControlPlane)
		if err != nil {
			a.setState(StateOffline)
			failures++
			a.logger.Warn("control plane unreachable",
				"address", a.config.ControlPlane,
				"attempt", failures,
				"error", err)
			if failures > 1 {
				select {
				case <-ctx.Done():
					return
				case <-a.clk.After(a.config.ReconnectInterval.Std()):
				}
			}
			continue
		}
		failures = 0
		a.serveConn(ctx, conn)
		a.setState(StateOffline)
	}
}

// serveConn announces identity, publishes the connection handle, and
// reads frames until the connection dies or ctx ends.
func (a *Agent) serveConn(ctx context.Context, conn *transport.Conn) {
	defer conn.Close()

	// Re-announced on every connect so the control plane can flag a
	// version mismatch after an agent or plane upgrade.
	hello := schema.Hello{
		MachineName:  a.config.MachineName,
		AgentVersion: version.Info(),
	}
	if err := conn.SendPayload(schema.FrameHello, hello); err != nil {
		a.logger.Warn("handshake failed", "error", err)
		return
	}

	a.conn.Store(conn)
	defer a.conn.Store(nil)
	a.setState(StateOnline)
	a.logger.Info("connected to control plane", "address", conn.RemoteAddr())

	// Receive does not watch ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		frame, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("connection lost", "error", err)
			}
			return
		}
		a.handleFrame(ctx, frame)
	}
}

// handleFrame routes one inbound frame. Must never block on command
// execution — invokes are only enqueued.
func (a *Agent) handleFrame(ctx context.Context, frame schema.Frame) {
	switch frame.Type {
	case schema.FrameInvoke:
		var invoke schema.Invoke
		if err := codec.Unmarshal(frame.Payload, &invoke); err != nil {
			a.logger.Warn("discarding malformed invoke frame", "error", err)
			return
		}
		a.handleInvoke(ctx, invoke)

	case schema.FrameResult:
		var result schema.Result
		if err := codec.Unmarshal(frame.Payload, &result); err != nil {
			a.logger.Warn("discarding malformed result frame", "error", err)
			return
		}
		if !a.registry.Complete(result.RequestID, &result) {
			a.logger.Debug("dropping unmatched result", "request_id", result.RequestID)
		}

	case schema.FrameHello:
		var hello schema.Hello
		if err := codec.Unmarshal(frame.Payload, &hello); err != nil {
			a.logger.Warn("discarding malformed hello frame", "error", err)
			return
		}
		if hello.AgentVersion != "" && hello.AgentVersion != version.Info() {
			a.setState(StateVersionMismatch)
			a.logger.Warn("control plane version differs",
				"local", version.Info(), "remote", hello.AgentVersion)
		}

	case schema.FrameSync:
		// Sync notices flow agent -> plane only.
		a.logger.Debug("ignoring inbound sync frame")

	default:
		a.logger.Warn("ignoring frame of unknown type", "type", frame.Type)
	}
}

// handleInvoke validates an inbound command invocation and enqueues it
// as a Command job. Validation failures respond immediately without
// tying up a worker.
func (a *Agent) handleInvoke(ctx context.Context, invoke schema.Invoke) {
	if invoke.RequestID == "" {
		a.logger.Warn("discarding invoke without request id", "command", invoke.Command)
		return
	}
	definition, ok := a.commands[invoke.Command]
	if !ok {
		a.respondError(ctx, invoke.RequestID, fmt.Sprintf("unsupported command %q", invoke.Command))
		return
	}
	if err := definition.validate(invoke.Args); err != nil {
		a.respondError(ctx, invoke.RequestID, err.Error())
		return
	}
	accepted := a.queue.Enqueue(jobs.Job{Command: &jobs.CommandJob{
		RequestID: invoke.RequestID,
		Name:      invoke.Command,
		Args:      invoke.Args,
	}})
	if !accepted {
		a.respondError(ctx, invoke.RequestID, "agent is shutting down")
	}
}

func (a *Agent) respondError(ctx context.Context, requestID, message string) {
	result := &schema.Result{RequestID: requestID, Error: message}
	if err := a.Respond(ctx, result); err != nil {
		a.logger.Warn("failed to send error result",
			"request_id", requestID, "error", err)
	}
}

// Call invokes a command on the control plane and waits for its
// result. Returns ErrConnectionUnavailable while offline; the caller
// treats that as transient.
func (a *Agent) Call(ctx context.Context, command string, args any) (*schema.Result, error) {
	conn := a.currentConn()
	if conn == nil {
		return nil, transport.ErrConnectionUnavailable
	}

	requestID, err := schema.NewRequestID()
	if err != nil {
		return nil, fmt.Errorf("generating request id: %w", err)
	}
	pending, err := a.registry.Register(requestID)
	if err != nil {
		return nil, err
	}

	var encoded codec.RawMessage
	if args != nil {
		encoded, err = codec.Marshal(args)
		if err != nil {
			a.registry.Cancel(requestID)
			return nil, fmt.Errorf("encoding %s arguments: %w", command, err)
		}
	}
	invoke := schema.Invoke{RequestID: requestID, Command: command, Args: encoded}
	if err := conn.SendPayload(schema.FrameInvoke, invoke); err != nil {
		a.registry.Cancel(requestID)
		return nil, err
	}
	return pending.Wait(ctx)
}
