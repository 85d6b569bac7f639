// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/jobs"
)

// hookBridge is the loopback HTTP listener the installed git hooks
// ping. It converts each accepted request into a Notify job; all real
// work happens on the worker pool, never on the request goroutine.
type hookBridge struct {
	address  string
	queue    *jobs.Queue
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// hookRequest is the JSON body the hook scripts POST.
type hookRequest struct {
	RepositoryID   int64  `json:"repositoryId"`
	WorkspaceID    int64  `json:"workspaceId"`
	RepositoryPath string `json:"repositoryPath"`
}

func newHookBridge(address string, queue *jobs.Queue, logger *slog.Logger) *hookBridge {
	return &hookBridge{address: address, queue: queue, logger: logger}
}

// Start binds the listener and begins serving. Config validation has
// already pinned the address to loopback.
func (b *hookBridge) Start() error {
	listener, err := net.Listen("tcp", b.address)
	if err != nil {
		return fmt.Errorf("binding hook listener on %s: %w", b.address, err)
	}
	b.listener = listener
	b.server = &http.Server{
		Handler:           http.HandlerFunc(b.handle),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			b.logger.Error("hook bridge stopped", "error", err)
		}
	}()
	b.logger.Info("hook bridge listening", "address", listener.Addr().String())
	return nil
}

// Address reports the bound address, which differs from the configured
// one when the port was 0.
func (b *hookBridge) Address() string {
	if b.listener == nil {
		return b.address
	}
	return b.listener.Addr().String()
}

// Stop shuts the listener down, letting in-flight requests finish.
func (b *hookBridge) Stop() {
	if b.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.server.Shutdown(ctx); err != nil {
		b.logger.Warn("hook bridge shutdown", "error", err)
	}
}

func (b *hookBridge) handle(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("hook handler panicked", "panic", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	if r.URL.Path != "/notify" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var request hookRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if request.RepositoryID == 0 || request.WorkspaceID == 0 || request.RepositoryPath == "" {
		http.Error(w, "repositoryId, workspaceId and repositoryPath are required", http.StatusBadRequest)
		return
	}

	// The hook scripts tag which hook fired via the kind query
	// parameter; absent means commit for compatibility with older
	// hook scripts.
	kindParam := r.URL.Query().Get("kind")
	kind := jobs.HookCommit
	if kindParam != "" {
		parsed, ok := jobs.ParseHookKind(kindParam)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown hook kind %q", kindParam), http.StatusBadRequest)
			return
		}
		kind = parsed
	}

	accepted := b.queue.Enqueue(jobs.Job{Notify: &jobs.NotifyJob{
		Kind:         kind,
		WorkspaceID:  request.WorkspaceID,
		RepositoryID: request.RepositoryID,
		Path:         request.RepositoryPath,
	}})
	if !accepted {
		http.Error(w, "agent is shutting down", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
