// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"strconv"
)

// Counts holds commit counts relative to a comparison ref. Outgoing
// and Incoming are nil when no comparison was possible — absence is a
// valid state, not an error.
type Counts struct {
	// Outgoing is the number of commits reachable from HEAD but not
	// from the comparison ref.
	Outgoing *int

	// Incoming is the reverse: commits on the comparison ref not yet
	// on HEAD.
	Incoming *int

	// HasUpstream reports whether the branch's own remote-tracking
	// ref existed. When false, counts (if present) were computed
	// against the resolved default branch instead.
	HasUpstream bool
}

// revListCount runs rev-list --count for a range expression.
func (r *Repository) revListCount(ctx context.Context, rangeExpr string) (int, error) {
	output, err := r.git(ctx, "rev-list", "--count", rangeExpr)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(output)
	if err != nil {
		return 0, &SubprocessError{
			Args:   []string{"rev-list", "--count", rangeExpr},
			Stdout: output,
			Stderr: "unparseable commit count",
		}
	}
	return count, nil
}

// CommitCounts computes outgoing and incoming commits for branch
// relative to its remote-tracking ref. When that ref does not exist
// yet, the comparison falls back to the resolved default branch with
// zero incoming (nothing can be pulled from a branch that is not
// there). Both counts are absent when no comparison ref exists at all.
func (r *Repository) CommitCounts(ctx context.Context, branch string) (Counts, error) {
	if branch == "" {
		return Counts{}, &InvalidArgumentError{Reason: "branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return Counts{}, err
	}

	comparison := r.engine.remote + "/" + branch
	if r.refExists(ctx, r.remoteRef(branch)) {
		outgoing, err := r.revListCount(ctx, comparison+"..HEAD")
		if err != nil {
			return Counts{}, err
		}
		incoming, err := r.revListCount(ctx, "HEAD.."+comparison)
		if err != nil {
			return Counts{}, err
		}
		return Counts{Outgoing: &outgoing, Incoming: &incoming, HasUpstream: true}, nil
	}

	defaultBranch, ok, err := r.DefaultBranch(ctx)
	if err != nil {
		return Counts{}, err
	}
	if !ok {
		return Counts{}, nil
	}

	outgoing, err := r.revListCount(ctx, r.engine.remote+"/"+defaultBranch+"..HEAD")
	if err != nil {
		return Counts{}, err
	}
	incoming := 0
	return Counts{Outgoing: &outgoing, Incoming: &incoming}, nil
}
