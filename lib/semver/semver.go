// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package semver wraps the external semantic-version resolver binary
// (gitversion by default). The resolver inspects a repository and
// prints a JSON document describing the computed version and branch;
// this package runs it, parses the output, and normalizes failures to
// the "-" sentinel so callers never propagate nulls across the wire.
package semver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/repofleet-foundation/repofleet/lib/process"
	"github.com/repofleet-foundation/repofleet/lib/schema"
)

// Snapshot is the resolver's view of a repository at a point in time.
// Fields carry the "-" sentinel when unavailable. Snapshots are not
// cached — visibility and caching belong to the control plane.
type Snapshot struct {
	// Version is the computed semantic version.
	Version string `cbor:"version"`

	// Branch is the branch the version was computed for.
	Branch string `cbor:"branch"`

	// EscapedBranch is a branch-name-safe fallback (slashes and other
	// separators replaced), used where the raw branch name cannot
	// appear.
	EscapedBranch string `cbor:"escaped_branch"`
}

// Unknown is the all-sentinel snapshot returned alongside errors.
func Unknown() Snapshot {
	return Snapshot{
		Version:       schema.Unknown,
		Branch:        schema.Unknown,
		EscapedBranch: schema.Unknown,
	}
}

// resolverOutput is the subset of the resolver's JSON document the
// agent consumes.
type resolverOutput struct {
	SemVer            string `json:"SemVer"`
	BranchName        string `json:"BranchName"`
	EscapedBranchName string `json:"EscapedBranchName"`
}

// Resolver runs the external version resolver.
type Resolver struct {
	binary string
	runner process.Runner
}

// NewResolver returns a Resolver invoking binary through runner.
func NewResolver(binary string, runner process.Runner) *Resolver {
	if binary == "" {
		binary = "gitversion"
	}
	if runner == nil {
		runner = process.Exec{}
	}
	return &Resolver{binary: binary, runner: runner}
}

// Resolve computes the version snapshot for the repository at dir. On
// any failure the returned snapshot carries sentinels and the error
// explains what went wrong — callers forward the snapshot and log the
// error.
func (r *Resolver) Resolve(ctx context.Context, dir string) (Snapshot, error) {
	if dir == "" {
		return Unknown(), fmt.Errorf("repository directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return Unknown(), fmt.Errorf("repository directory: %w", err)
	}

	result := r.runner.Run(ctx, process.Spec{
		Path: r.binary,
		Args: []string{"-output", "json"},
		Dir:  dir,
	})
	if result.ExitCode != 0 {
		return Unknown(), fmt.Errorf("%s exited %d: %s",
			r.binary, result.ExitCode, strings.TrimSpace(result.Combined()))
	}

	var output resolverOutput
	if err := json.Unmarshal([]byte(result.Stdout), &output); err != nil {
		return Unknown(), fmt.Errorf("parsing %s output: %w", r.binary, err)
	}

	snapshot := Snapshot{
		Version:       normalizeVersion(output.SemVer),
		Branch:        output.BranchName,
		EscapedBranch: output.EscapedBranchName,
	}
	if snapshot.Branch == "" {
		snapshot.Branch = schema.Unknown
	}
	if snapshot.EscapedBranch == "" {
		snapshot.EscapedBranch = EscapeBranch(snapshot.Branch)
	}
	return snapshot, nil
}

// normalizeVersion validates the resolver's version string. Anything
// that does not parse as a semantic version becomes the sentinel — a
// malformed version must not leak to the control plane as if it were
// real.
func normalizeVersion(raw string) string {
	if raw == "" {
		return schema.Unknown
	}
	parsed, err := masterminds.NewVersion(raw)
	if err != nil {
		return schema.Unknown
	}
	return parsed.String()
}

// branchUnsafe matches characters that are replaced when deriving the
// escaped branch name.
var branchUnsafe = regexp.MustCompile(`[^0-9A-Za-z.]+`)

// EscapeBranch derives a branch-name-safe fallback: runs of characters
// outside [0-9A-Za-z.] collapse to single dashes.
func EscapeBranch(branch string) string {
	if branch == "" || branch == schema.Unknown {
		return schema.Unknown
	}
	return branchUnsafe.ReplaceAllString(branch, "-")
}
