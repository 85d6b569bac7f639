// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the wire message types exchanged between the
// agent and the control plane, and the command names the agent
// recognizes. Everything on the wire is CBOR-encoded via lib/codec.
package schema

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/repofleet-foundation/repofleet/lib/codec"
)

// Unknown is the sentinel for "unknown/unavailable" version and branch
// strings across the whole surface. Older callers expect "-" rather
// than an absent field.
const Unknown = "-"

// Frame types on the duplex connection.
const (
	FrameHello  = "hello"
	FrameInvoke = "invoke"
	FrameResult = "result"
	FrameSync   = "sync"
)

// Frame is the envelope for every message on the connection. Payload
// holds the type-specific message, decoded by the receiver after
// switching on Type.
type Frame struct {
	Type    string           `cbor:"type"`
	Payload codec.RawMessage `cbor:"payload"`
}

// Hello announces the agent's identity after every (re)connect so the
// control plane can detect a version mismatch.
type Hello struct {
	MachineName  string `cbor:"machine_name"`
	AgentVersion string `cbor:"agent_version"`
}

// Invoke is a remote command invocation. RequestID is caller-generated
// and pairs the invocation with its eventual Result.
type Invoke struct {
	RequestID string           `cbor:"request_id"`
	Command   string           `cbor:"command"`
	Args      codec.RawMessage `cbor:"args,omitempty"`
}

// Result is the response to an Invoke. Exactly one Result is produced
// per accepted Invoke — on handler failure Success is false and Error
// carries the message.
type Result struct {
	RequestID string           `cbor:"request_id"`
	Success   bool             `cbor:"success"`
	Data      codec.RawMessage `cbor:"data,omitempty"`
	Error     string           `cbor:"error,omitempty"`
}

// SyncNotice is an autonomous notification raised by the agent when a
// git hook fires or a sync cycle finishes. Outgoing/Incoming/
// HasUpstream are pointers because "no comparison was possible" is a
// valid state, distinct from zero.
type SyncNotice struct {
	WorkspaceID  int64  `cbor:"workspace_id"`
	RepositoryID int64  `cbor:"repository_id"`
	Version      string `cbor:"version"`
	Branch       string `cbor:"branch"`
	Outgoing     *int   `cbor:"outgoing,omitempty"`
	Incoming     *int   `cbor:"incoming,omitempty"`
	HasUpstream  *bool  `cbor:"has_upstream,omitempty"`
}

// NewRequestID creates a random 16-byte hex string for correlating an
// Invoke with its Result.
func NewRequestID() (string, error) {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer[:]), nil
}
