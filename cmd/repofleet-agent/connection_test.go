// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/clock"
	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/config"
	"github.com/repofleet-foundation/repofleet/lib/schema"
	"github.com/repofleet-foundation/repofleet/lib/testutil"
	"github.com/repofleet-foundation/repofleet/lib/version"
	"github.com/repofleet-foundation/repofleet/transport"
)

// startAgent runs a full agent against an in-test control-plane
// listener and returns the accepted server-side connection.
func startAgent(t *testing.T) (*Agent, *transport.Conn) {
	t.Helper()
	listener, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	script := newCountingScript()
	cfg := config.Default()
	cfg.MachineName = "build-07"
	cfg.WorkspaceRoot = t.TempDir()
	cfg.ControlPlane = listener.Address()
	cfg.HookListen = "127.0.0.1:0"
	agent := newAgent(cfg, slog.New(slog.DiscardHandler), clock.Fake(time.Unix(0, 0)), runnerFunc(script.run))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 10*time.Second, "waiting for agent shutdown")
	})

	accepted := make(chan *transport.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- conn
	}()
	server := testutil.RequireReceive(t, accepted, 10*time.Second, "waiting for agent connection")
	t.Cleanup(func() { server.Close() })
	return agent, server
}

// receiveFrame reads one frame with a timeout safety valve.
func receiveFrame(t *testing.T, conn *transport.Conn) schema.Frame {
	t.Helper()
	frames := make(chan schema.Frame, 1)
	go func() {
		frame, err := conn.Receive()
		if err != nil {
			t.Errorf("Receive: %v", err)
			return
		}
		frames <- frame
	}()
	return testutil.RequireReceive(t, frames, 10*time.Second, "waiting for frame")
}

func decodePayload[T any](t *testing.T, frame schema.Frame) T {
	t.Helper()
	var decoded T
	if err := codec.Unmarshal(frame.Payload, &decoded); err != nil {
		t.Fatalf("decoding %s payload: %v", frame.Type, err)
	}
	return decoded
}

func TestAgentAnnouncesIdentityOnConnect(t *testing.T) {
	agent, server := startAgent(t)

	frame := receiveFrame(t, server)
	if frame.Type != schema.FrameHello {
		t.Fatalf("first frame type = %q, want hello", frame.Type)
	}
	hello := decodePayload[schema.Hello](t, frame)
	if hello.MachineName != "build-07" {
		t.Errorf("MachineName = %q", hello.MachineName)
	}
	if hello.AgentVersion != version.Info() {
		t.Errorf("AgentVersion = %q, want %q", hello.AgentVersion, version.Info())
	}

	waitForState(t, agent, StateOnline)
}

func TestInvokeRoundTrip(t *testing.T) {
	_, server := startAgent(t)
	receiveFrame(t, server) // hello

	if err := server.SendPayload(schema.FrameInvoke, schema.Invoke{
		RequestID: "req-1",
		Command:   schema.CmdGetHostInfo,
	}); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	frame := receiveFrame(t, server)
	if frame.Type != schema.FrameResult {
		t.Fatalf("frame type = %q, want result", frame.Type)
	}
	result := decodePayload[schema.Result](t, frame)
	if result.RequestID != "req-1" {
		t.Errorf("RequestID = %q", result.RequestID)
	}
	if !result.Success {
		t.Errorf("result failed: %s", result.Error)
	}
	if len(result.Data) == 0 {
		t.Error("result carries no data")
	}
}

func TestUnsupportedCommandResolvesWithFailure(t *testing.T) {
	_, server := startAgent(t)
	receiveFrame(t, server) // hello

	if err := server.SendPayload(schema.FrameInvoke, schema.Invoke{
		RequestID: "req-2",
		Command:   "FormatDisk",
	}); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	result := decodePayload[schema.Result](t, receiveFrame(t, server))
	if result.Success {
		t.Error("unsupported command reported success")
	}
	if !strings.Contains(result.Error, "unsupported command") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestMalformedArgumentsFailBeforeExecution(t *testing.T) {
	_, server := startAgent(t)
	receiveFrame(t, server) // hello

	// CheckoutBranch requires a typed argument payload; a well-formed
	// frame carrying the wrong shape must be rejected on the read loop.
	if err := server.SendPayload(schema.FrameInvoke, schema.Invoke{
		RequestID: "req-3",
		Command:   schema.CmdCheckoutBranch,
		Args:      mustMarshal(t, 7),
	}); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	result := decodePayload[schema.Result](t, receiveFrame(t, server))
	if result.Success {
		t.Error("malformed arguments reported success")
	}
	if result.RequestID != "req-3" {
		t.Errorf("RequestID = %q", result.RequestID)
	}
}

func TestCallRoundTrip(t *testing.T) {
	agent, server := startAgent(t)
	receiveFrame(t, server) // hello
	waitForState(t, agent, StateOnline)

	type reply struct {
		Result *schema.Result
		Err    error
	}
	replies := make(chan reply, 1)
	go func() {
		result, err := agent.Call(context.Background(), "RegisterMachine", map[string]string{"name": "build-07"})
		replies <- reply{result, err}
	}()

	frame := receiveFrame(t, server)
	invoke := decodePayload[schema.Invoke](t, frame)
	if invoke.Command != "RegisterMachine" {
		t.Fatalf("Command = %q", invoke.Command)
	}
	if err := server.SendPayload(schema.FrameResult, schema.Result{
		RequestID: invoke.RequestID,
		Success:   true,
	}); err != nil {
		t.Fatalf("SendPayload: %v", err)
	}

	got := testutil.RequireReceive(t, replies, 10*time.Second, "waiting for Call")
	if got.Err != nil {
		t.Fatalf("Call: %v", got.Err)
	}
	if !got.Result.Success {
		t.Error("Call result not successful")
	}
}

func TestCallWhileOfflineFailsFast(t *testing.T) {
	cfg := config.Default()
	cfg.MachineName = "m"
	cfg.WorkspaceRoot = t.TempDir()
	agent := newAgent(cfg, slog.New(slog.DiscardHandler), clock.Fake(time.Unix(0, 0)), runnerFunc(newCountingScript().run))

	_, err := agent.Call(context.Background(), "Anything", nil)
	if !errors.Is(err, transport.ErrConnectionUnavailable) {
		t.Errorf("err = %v, want ErrConnectionUnavailable", err)
	}
	if agent.State() != StateOffline {
		t.Errorf("State = %s, want offline", agent.State())
	}
}

// waitForState polls the connection state accessor until it matches or
// the deadline passes.
func waitForState(t *testing.T, agent *Agent, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if agent.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", agent.State(), want)
}
