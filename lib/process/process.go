// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package process runs external executables and captures their output.
// It is the single subprocess boundary for the agent: the git engine
// and the version resolver both go through Run.
//
// Run never returns an error for a non-zero exit code — callers
// interpret the exit code and the captured streams themselves. A
// failure to start the executable at all (missing binary, missing
// working directory) is reported as StartFailureCode with an
// explanatory Stderr so callers have exactly one failure path.
package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// StartFailureCode is the sentinel exit code reported when the
// executable could not be started. Real processes cannot exit with a
// negative code, so the value is unambiguous.
const StartFailureCode = -1

// Spec describes one subprocess invocation.
type Spec struct {
	// Path is the executable name or path, resolved via PATH when not
	// absolute.
	Path string

	// Args are the arguments, not including the executable itself.
	Args []string

	// Dir is the working directory. Empty means the caller's.
	Dir string

	// Stdin, when non-empty, is written to the process's standard
	// input. Used for multi-line content such as commit messages to
	// avoid shell quoting.
	Stdin string

	// Env appends extra KEY=value entries to the inherited
	// environment.
	Env []string
}

// Result is the complete outcome of a finished (or failed-to-start)
// subprocess.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout and stderr joined, trimmed. Git writes
// progress to stderr, so conflict detection and diagnostics look at
// both streams.
func (r Result) Combined() string {
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// Runner runs subprocesses. The production implementation is
// [Exec]; tests substitute a fake to script exit codes and output.
type Runner interface {
	Run(ctx context.Context, spec Spec) Result
}

// Exec is the production Runner backed by os/exec. Cancelling the
// context kills the subprocess.
type Exec struct{}

// Run executes the spec and captures both streams fully before
// returning.
func (Exec) Run(ctx context.Context, spec Spec) Result {
	command := exec.CommandContext(ctx, spec.Path, spec.Args...)
	command.Dir = spec.Dir
	if spec.Stdin != "" {
		command.Stdin = strings.NewReader(spec.Stdin)
	}
	if len(spec.Env) > 0 {
		command.Env = append(command.Environ(), spec.Env...)
	}

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case command.ProcessState != nil:
		// The process started and exited non-zero (or was killed).
		result.ExitCode = command.ProcessState.ExitCode()
	default:
		// The process never started. Fold the reason into stderr so
		// callers see one failure shape.
		result.ExitCode = StartFailureCode
		if result.Stderr == "" {
			result.Stderr = err.Error()
		}
	}
	return result
}
