// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"errors"
	"strings"
)

// SyncOutcome is the result of a pull-then-push cycle. A merge
// conflict implies failure; by the time the outcome is returned the
// merge has already been aborted and the working tree is clean.
type SyncOutcome struct {
	Success       bool
	MergeConflict bool
	Counts        Counts

	// Output carries captured subprocess output on failure, empty on
	// success.
	Output string
}

// conflictMarkers are the substrings in pull output that identify a
// merge conflict, as opposed to any other pull failure.
var conflictMarkers = []string{
	"CONFLICT",
	"merge conflict",
	"Automatic merge failed",
}

// hasConflictMarkers scans combined pull output for conflict
// signatures. "merge conflict" is matched case-insensitively since git
// casing varies between messages.
func hasConflictMarkers(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range conflictMarkers {
		if strings.Contains(output, marker) || strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// Sync runs the full cycle against branch:
//
//  1. Fetch (prune).
//  2. Compute commit counts.
//  3. Pull when there are incoming commits. A conflict (Pull has
//     already aborted the merge) re-fetches, recomputes counts, and
//     returns a merge-conflict outcome — the pull is not retried. Any
//     other pull failure returns without pushing.
//  4. Re-fetch, recompute counts.
//  5. Push when there are outgoing commits.
//  6. Re-fetch, recompute counts, report success.
//
// Expected git failures are encoded in the outcome; the error return
// is reserved for caller mistakes (empty branch) and missing paths.
func (r *Repository) Sync(ctx context.Context, branch string) (SyncOutcome, error) {
	if branch == "" {
		return SyncOutcome{}, &InvalidArgumentError{Reason: "branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return SyncOutcome{}, err
	}

	if outcome, failed := r.fetchStep(ctx); failed {
		return outcome, nil
	}
	counts, err := r.CommitCounts(ctx, branch)
	if err != nil {
		return failureOutcome(counts, err), nil
	}

	if counts.Incoming != nil && *counts.Incoming > 0 {
		output, pullErr := r.Pull(ctx)
		if IsMergeConflict(pullErr) {
			return r.conflictOutcome(ctx, branch, output)
		}
		if pullErr != nil {
			return failureOutcome(counts, pullErr), nil
		}
	}

	if outcome, failed := r.fetchStep(ctx); failed {
		return outcome, nil
	}
	counts, err = r.CommitCounts(ctx, branch)
	if err != nil {
		return failureOutcome(counts, err), nil
	}

	if counts.Outgoing != nil && *counts.Outgoing > 0 {
		if pushErr := r.Push(ctx, !counts.HasUpstream); pushErr != nil {
			return failureOutcome(counts, pushErr), nil
		}
	}

	if outcome, failed := r.fetchStep(ctx); failed {
		return outcome, nil
	}
	counts, err = r.CommitCounts(ctx, branch)
	if err != nil {
		return failureOutcome(counts, err), nil
	}

	return SyncOutcome{Success: true, Counts: counts}, nil
}

// fetchStep wraps Fetch for the cycle: a fetch failure ends the cycle
// with a failure outcome.
func (r *Repository) fetchStep(ctx context.Context) (SyncOutcome, bool) {
	if err := r.Fetch(ctx, FetchOptions{}); err != nil {
		return failureOutcome(Counts{}, err), true
	}
	return SyncOutcome{}, false
}

// conflictOutcome restores a fresh view of the repository after an
// aborted conflicting pull and reports the conflict. Refresh failures
// are folded into the output — the conflict outcome stands either way.
func (r *Repository) conflictOutcome(ctx context.Context, branch, pullOutput string) (SyncOutcome, error) {
	output := pullOutput
	if err := r.Fetch(ctx, FetchOptions{}); err != nil {
		output += "\nfetch after abort: " + err.Error()
	}
	counts, err := r.CommitCounts(ctx, branch)
	if err != nil {
		output += "\ncommit counts after abort: " + err.Error()
	}
	return SyncOutcome{
		MergeConflict: true,
		Counts:        counts,
		Output:        output,
	}, nil
}

// failureOutcome folds an operation error into a failed outcome,
// keeping the last known counts.
func failureOutcome(counts Counts, err error) SyncOutcome {
	output := err.Error()
	var subprocess *SubprocessError
	if errors.As(err, &subprocess) {
		output = subprocess.Output()
	}
	return SyncOutcome{Counts: counts, Output: output}
}
