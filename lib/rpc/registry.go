// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc correlates in-flight requests with the responses that
// arrive later on the shared connection. Each outbound request
// registers its ID here; when a response frame carrying that ID shows
// up, the waiter is resolved exactly once and the entry removed.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/repofleet-foundation/repofleet/lib/schema"
)

// Registry tracks pending requests keyed by request ID.
type Registry struct {
	pending sync.Map // request ID -> *Pending
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Pending is a registered in-flight request. Exactly one of Wait's
// outcomes occurs: the response arrives, or the caller's context ends.
// Either way the registry entry is gone afterwards.
type Pending struct {
	id       string
	registry *Registry
	response chan *schema.Result
}

// Register creates a pending entry for requestID. Registering an ID
// that is already in flight is a caller bug and fails.
func (r *Registry) Register(requestID string) (*Pending, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request ID is required")
	}
	pending := &Pending{
		id:       requestID,
		registry: r,
		response: make(chan *schema.Result, 1),
	}
	if _, loaded := r.pending.LoadOrStore(requestID, pending); loaded {
		return nil, fmt.Errorf("request %s is already pending", requestID)
	}
	return pending, nil
}

// Complete delivers the response for requestID and reports whether a
// waiter was resolved. Responses for unknown IDs (late arrivals after
// cancellation, duplicates) are dropped.
func (r *Registry) Complete(requestID string, result *schema.Result) bool {
	value, loaded := r.pending.LoadAndDelete(requestID)
	if !loaded {
		return false
	}
	// The channel is buffered and LoadAndDelete guarantees a single
	// sender, so this never blocks.
	value.(*Pending).response <- result
	return true
}

// Cancel removes the entry for requestID without resolving it. Used
// when the request could not be sent after registration.
func (r *Registry) Cancel(requestID string) {
	r.pending.LoadAndDelete(requestID)
}

// Wait blocks until the response arrives or ctx ends. On cancellation
// the entry is removed so a late response is dropped rather than
// leaked.
func (p *Pending) Wait(ctx context.Context) (*schema.Result, error) {
	select {
	case result := <-p.response:
		return result, nil
	case <-ctx.Done():
	}
	if _, loaded := p.registry.pending.LoadAndDelete(p.id); !loaded {
		// Complete won the race; take the response it delivered if it
		// already landed.
		select {
		case result := <-p.response:
			return result, nil
		default:
		}
	}
	return nil, ctx.Err()
}

// Len reports the number of in-flight requests.
func (r *Registry) Len() int {
	n := 0
	r.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
