// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package git is the version-control engine. It provides typed access
// to the git CLI for the repositories the agent manages: fetch, pull,
// push, branch lifecycle, commit counts against the remote-tracking
// branch, default-branch resolution, and safe-directory marking.
//
// All commands target a specific repository directory via the -C flag,
// which every Repository method injects. Subprocesses run through an
// injected process.Runner so the whole engine is testable without a
// git binary. Expected git failures come back as the typed errors in
// errors.go; a non-zero exit never panics.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/repofleet-foundation/repofleet/lib/clock"
	"github.com/repofleet-foundation/repofleet/lib/process"
)

// Engine binds the runner, clock, remote name, and optional bearer
// token shared by every repository handle it creates.
type Engine struct {
	runner process.Runner
	clk    clock.Clock
	remote string
	token  string
}

// Options configures an Engine.
type Options struct {
	// Runner executes git subprocesses. Defaults to process.Exec.
	Runner process.Runner

	// Clock drives safe-directory retry backoff. Defaults to Real.
	Clock clock.Clock

	// Remote is the remote name synced against. Defaults to "origin".
	Remote string

	// Token, when set, is injected as a bearer Authorization header
	// on fetch, pull, and push.
	Token string
}

// NewEngine returns an Engine with the given options, filling defaults
// for zero fields.
func NewEngine(options Options) *Engine {
	if options.Runner == nil {
		options.Runner = process.Exec{}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Remote == "" {
		options.Remote = "origin"
	}
	return &Engine{
		runner: options.Runner,
		clk:    options.Clock,
		remote: options.Remote,
		token:  options.Token,
	}
}

// Remote returns the remote name the engine syncs against.
func (e *Engine) Remote() string { return e.remote }

// Repository returns a handle for the repository at dir. The directory
// is not checked here; operations report NotFoundError when it is
// absent.
func (e *Engine) Repository(dir string) *Repository {
	return &Repository{engine: e, dir: dir}
}

// Clone clones url into dir, creating parent directories as needed.
// The auth token, when configured, applies to the clone as well.
func (e *Engine) Clone(ctx context.Context, url, dir string) error {
	if url == "" {
		return &InvalidArgumentError{Reason: "clone URL is required"}
	}
	if dir == "" {
		return &InvalidArgumentError{Reason: "clone target directory is required"}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("creating clone parent directory: %w", err)
	}

	args := e.authArgs()
	args = append(args, "clone", url, dir)
	result := e.runner.Run(ctx, process.Spec{Path: "git", Args: args})
	if result.ExitCode != 0 {
		return &SubprocessError{
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return nil
}

// authArgs returns the -c http.extraheader arguments injecting the
// bearer token, or nil when no token is configured.
func (e *Engine) authArgs() []string {
	if e.token == "" {
		return nil
	}
	return []string{"-c", "http.extraheader=AUTHORIZATION: Bearer " + e.token}
}

// Repository targets one repository directory. All operations are
// sequential within a single job; the engine never issues concurrent
// git invocations against one working directory from one job.
type Repository struct {
	engine *Engine
	dir    string
}

// Dir returns the repository directory.
func (r *Repository) Dir() string { return r.dir }

// Exists reports whether the repository directory is present.
func (r *Repository) Exists() bool {
	info, err := os.Stat(r.dir)
	return err == nil && info.IsDir()
}

// run executes a git command targeting this repository and returns the
// raw result. withAuth adds the bearer header for network operations.
func (r *Repository) run(ctx context.Context, withAuth bool, args ...string) (process.Result, []string) {
	fullArgs := []string{"-C", r.dir}
	if withAuth {
		fullArgs = append(fullArgs, r.engine.authArgs()...)
	}
	fullArgs = append(fullArgs, args...)
	return r.engine.runner.Run(ctx, process.Spec{Path: "git", Args: fullArgs}), fullArgs
}

// git executes a git command and returns trimmed stdout, converting a
// non-zero exit into a SubprocessError.
func (r *Repository) git(ctx context.Context, args ...string) (string, error) {
	result, fullArgs := r.run(ctx, false, args...)
	if result.ExitCode != 0 {
		return "", &SubprocessError{
			Args:     fullArgs,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return strings.TrimSpace(result.Stdout), nil
}

// gitAuth is git with the bearer header injected.
func (r *Repository) gitAuth(ctx context.Context, args ...string) (string, error) {
	result, fullArgs := r.run(ctx, true, args...)
	if result.ExitCode != 0 {
		return "", &SubprocessError{
			Args:     fullArgs,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return strings.TrimSpace(result.Stdout), nil
}

// checkExists returns NotFoundError when the repository directory is
// absent. Called by every operation before spawning a subprocess.
func (r *Repository) checkExists() error {
	if !r.Exists() {
		return &NotFoundError{Path: r.dir}
	}
	return nil
}

// FetchOptions tunes a fetch.
type FetchOptions struct {
	// Tags includes --tags.
	Tags bool
}

// Fetch updates remote-tracking refs from the engine's remote, pruning
// refs that no longer exist on the remote.
func (r *Repository) Fetch(ctx context.Context, options FetchOptions) error {
	if err := r.checkExists(); err != nil {
		return err
	}
	args := []string{"fetch", r.engine.remote, "--prune"}
	if options.Tags {
		args = append(args, "--tags")
	}
	_, err := r.gitAuth(ctx, args...)
	return err
}

// Pull merges the upstream of the current branch. A failed pull whose
// output carries conflict markers aborts the merge (restoring a clean
// working tree) and comes back as MergeConflictError; any other failure
// is a SubprocessError. The combined output is returned either way.
func (r *Repository) Pull(ctx context.Context) (string, error) {
	if err := r.checkExists(); err != nil {
		return "", err
	}
	result, fullArgs := r.run(ctx, true, "pull")
	combined := result.Combined()
	if result.ExitCode != 0 {
		if hasConflictMarkers(combined) {
			if abortErr := r.MergeAbort(ctx); abortErr != nil {
				combined += "\nmerge abort: " + abortErr.Error()
			}
			return combined, &MergeConflictError{Output: combined}
		}
		return combined, &SubprocessError{
			Args:     fullArgs,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return combined, nil
}

// Push pushes the current branch. With setUpstream, -u establishes the
// remote-tracking relationship for a freshly created branch — a
// distinct entry point used even when there is nothing to push.
func (r *Repository) Push(ctx context.Context, setUpstream bool) error {
	if err := r.checkExists(); err != nil {
		return err
	}
	if !setUpstream {
		_, err := r.gitAuth(ctx, "push")
		return err
	}
	branch, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	_, err = r.gitAuth(ctx, "push", "-u", r.engine.remote, branch)
	return err
}

// MergeAbort aborts an in-progress merge.
func (r *Repository) MergeAbort(ctx context.Context) error {
	if err := r.checkExists(); err != nil {
		return err
	}
	_, err := r.git(ctx, "merge", "--abort")
	return err
}

// MergeInProgress reports whether a merge is underway (MERGE_HEAD
// resolves).
func (r *Repository) MergeInProgress(ctx context.Context) bool {
	result, _ := r.run(ctx, false, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	return result.ExitCode == 0
}

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	if err := r.checkExists(); err != nil {
		return "", err
	}
	return r.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// StageAndCommit stages everything and commits with the given message,
// passed on stdin to avoid shell quoting of multi-line messages.
// Returns false without error when there is nothing to commit.
func (r *Repository) StageAndCommit(ctx context.Context, message string) (committed bool, err error) {
	if message == "" {
		return false, &InvalidArgumentError{Reason: "commit message is required"}
	}
	if err := r.checkExists(); err != nil {
		return false, err
	}
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return false, err
	}
	status, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if status == "" {
		return false, nil
	}

	fullArgs := []string{"-C", r.dir, "commit", "-F", "-"}
	result := r.engine.runner.Run(ctx, process.Spec{Path: "git", Args: fullArgs, Stdin: message})
	if result.ExitCode != 0 {
		return false, &SubprocessError{
			Args:     fullArgs,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}
	return true, nil
}
