// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"errors"
	"fmt"
	"strings"
)

// The engine's error taxonomy. Expected git failures are typed values,
// never panics, so one worker's failure cannot crash the pool. Only
// programmer errors (missing required arguments) surface before any
// subprocess runs.

// NotFoundError reports a repository or workspace path that does not
// exist on disk.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("path does not exist: %s", e.Path)
}

// InvalidArgumentError reports a caller error detected before any I/O.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Reason)
}

// SubprocessError reports a git invocation that started but exited
// non-zero (or failed to start). It always carries both captured
// streams for diagnosis.
type SubprocessError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("git %s: exit %d (stderr: %s)",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Output returns stdout and stderr joined for conflict-marker and
// ownership checks. Git writes most diagnostics to stderr.
func (e *SubprocessError) Output() string {
	return strings.TrimSpace(e.Stdout + "\n" + e.Stderr)
}

// MergeConflictError reports a pull that hit a merge conflict. By the
// time this error is surfaced the merge has already been aborted — the
// working tree is clean again.
type MergeConflictError struct {
	Output string
}

func (e *MergeConflictError) Error() string {
	return "merge conflict (merge aborted)"
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsInvalidArgument reports whether err is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// IsMergeConflict reports whether err is a MergeConflictError.
func IsMergeConflict(err error) bool {
	var target *MergeConflictError
	return errors.As(err, &target)
}
