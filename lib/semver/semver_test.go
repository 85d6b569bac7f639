// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package semver

import (
	"context"
	"testing"

	"github.com/repofleet-foundation/repofleet/lib/process"
)

type runnerFunc func(ctx context.Context, spec process.Spec) process.Result

func (f runnerFunc) Run(ctx context.Context, spec process.Spec) process.Result {
	return f(ctx, spec)
}

func TestResolveParsesOutput(t *testing.T) {
	resolver := NewResolver("gitversion", runnerFunc(func(_ context.Context, spec process.Spec) process.Result {
		return process.Result{Stdout: `{
			"SemVer": "1.4.2-beta.3",
			"BranchName": "feature/login",
			"EscapedBranchName": "feature-login"
		}`}
	}))

	snapshot, err := resolver.Resolve(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snapshot.Version != "1.4.2-beta.3" {
		t.Errorf("Version = %q", snapshot.Version)
	}
	if snapshot.Branch != "feature/login" {
		t.Errorf("Branch = %q", snapshot.Branch)
	}
	if snapshot.EscapedBranch != "feature-login" {
		t.Errorf("EscapedBranch = %q", snapshot.EscapedBranch)
	}
}

func TestResolveInvalidVersionBecomesSentinel(t *testing.T) {
	resolver := NewResolver("gitversion", runnerFunc(func(_ context.Context, spec process.Spec) process.Result {
		return process.Result{Stdout: `{"SemVer": "not-a-version", "BranchName": "main"}`}
	}))

	snapshot, err := resolver.Resolve(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snapshot.Version != "-" {
		t.Errorf("Version = %q, want sentinel", snapshot.Version)
	}
	if snapshot.Branch != "main" {
		t.Errorf("Branch = %q", snapshot.Branch)
	}
	if snapshot.EscapedBranch != "main" {
		t.Errorf("EscapedBranch = %q, want derived from branch", snapshot.EscapedBranch)
	}
}

func TestResolveSubprocessFailureReturnsSentinels(t *testing.T) {
	resolver := NewResolver("gitversion", runnerFunc(func(_ context.Context, spec process.Spec) process.Result {
		return process.Result{ExitCode: 1, Stderr: "could not determine version"}
	}))

	snapshot, err := resolver.Resolve(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("Resolve did not report the subprocess failure")
	}
	if snapshot != Unknown() {
		t.Errorf("snapshot = %+v, want all sentinels", snapshot)
	}
}

func TestResolveMissingDirectory(t *testing.T) {
	resolver := NewResolver("gitversion", runnerFunc(func(_ context.Context, spec process.Spec) process.Result {
		t.Error("runner invoked for a missing directory")
		return process.Result{}
	}))
	if _, err := resolver.Resolve(context.Background(), "/nonexistent/repofleet"); err == nil {
		t.Error("Resolve succeeded for a missing directory")
	}
}

func TestEscapeBranch(t *testing.T) {
	tests := []struct{ in, want string }{
		{"feature/login", "feature-login"},
		{"release/v1.2", "release-v1.2"},
		{"main", "main"},
		{"hot fix!!now", "hot-fix-now"},
		{"-", "-"},
		{"", "-"},
	}
	for _, tt := range tests {
		if got := EscapeBranch(tt.in); got != tt.want {
			t.Errorf("EscapeBranch(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
