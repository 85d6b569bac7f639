// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"strings"
	"testing"
)

func TestRunCapturesStdout(t *testing.T) {
	result := Exec{}.Run(context.Background(), Spec{
		Path: "sh",
		Args: []string{"-c", "printf hello; printf world >&2"},
	})
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", result.ExitCode, result.Stderr)
	}
	if result.Stdout != "hello" {
		t.Errorf("stdout = %q, want %q", result.Stdout, "hello")
	}
	if result.Stderr != "world" {
		t.Errorf("stderr = %q, want %q", result.Stderr, "world")
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	result := Exec{}.Run(context.Background(), Spec{
		Path: "sh",
		Args: []string{"-c", "exit 3"},
	})
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRunStartFailure(t *testing.T) {
	result := Exec{}.Run(context.Background(), Spec{
		Path: "/nonexistent/binary/for/repofleet-tests",
	})
	if result.ExitCode != StartFailureCode {
		t.Errorf("exit code = %d, want %d", result.ExitCode, StartFailureCode)
	}
	if result.Stderr == "" {
		t.Error("start failure should carry an explanatory stderr")
	}
}

func TestRunStdinInjection(t *testing.T) {
	message := "first line\nsecond line"
	result := Exec{}.Run(context.Background(), Spec{
		Path:  "cat",
		Stdin: message,
	})
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if result.Stdout != message {
		t.Errorf("stdout = %q, want %q", result.Stdout, message)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Exec{}.Run(ctx, Spec{
		Path: "sleep",
		Args: []string{"60"},
	})
	if result.ExitCode == 0 {
		t.Error("cancelled run reported success")
	}
}

func TestCombined(t *testing.T) {
	result := Result{Stdout: "out\n", Stderr: "err\n"}
	combined := result.Combined()
	if !strings.Contains(combined, "out") || !strings.Contains(combined, "err") {
		t.Errorf("Combined() = %q, want both streams", combined)
	}
}
