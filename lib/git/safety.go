// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"strings"
	"time"

	"github.com/repofleet-foundation/repofleet/lib/retry"
)

// Git refuses to operate on repositories owned by a different user
// unless the path is marked safe. The agent may manage trees cloned by
// other processes, so every repository is safety-checked before its
// first operation.

// safeDirectoryPolicy bounds the check-then-add sequence, which is
// racy when concurrent workers touch the same repository: two workers
// can both observe "not safe" and both write. Retrying with jitter
// lets the loser observe the winner's write.
var safeDirectoryPolicy = retry.Policy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxJitter:   50 * time.Millisecond,
}

// IsSafe reports whether git will operate on this repository. Exit
// code 128 with a dubious-ownership message means the path needs a
// safe-directory entry; any other failure is a real error.
func (r *Repository) IsSafe(ctx context.Context) (bool, error) {
	if err := r.checkExists(); err != nil {
		return false, err
	}
	result, fullArgs := r.run(ctx, false, "rev-parse", "--is-inside-work-tree")
	if result.ExitCode == 0 {
		return true, nil
	}
	if result.ExitCode == 128 && strings.Contains(result.Combined(), "dubious ownership") {
		return false, nil
	}
	return false, &SubprocessError{
		Args:     fullArgs,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
}

// EnsureSafe marks the repository directory as a git safe.directory if
// it is not already. Idempotent: an already-safe repository gets no
// config write, so repeated invocations do not accumulate duplicate
// entries.
func (r *Repository) EnsureSafe(ctx context.Context) error {
	safe, err := r.IsSafe(ctx)
	if err != nil {
		return err
	}
	if safe {
		return nil
	}

	return retry.Do(ctx, r.engine.clk, safeDirectoryPolicy, func(ctx context.Context) error {
		// Re-check inside the retry: a concurrent worker may have
		// added the entry between attempts.
		safe, err := r.IsSafe(ctx)
		if err != nil {
			return err
		}
		if safe {
			return nil
		}
		if _, err := r.git(ctx, "config", "--global", "--add", "safe.directory", r.dir); err != nil {
			return err
		}
		safe, err = r.IsSafe(ctx)
		if err != nil {
			return err
		}
		if !safe {
			return &SubprocessError{
				Args:   []string{"config", "--global", "--add", "safe.directory", r.dir},
				Stderr: "repository still unsafe after marking",
			}
		}
		return nil
	})
}
