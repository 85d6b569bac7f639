// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Repofleet
// binaries, injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/repofleet-foundation/repofleet/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// The agent announces Info() in its connection handshake so the
// control plane can detect a version mismatch.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version
// output and the connection handshake.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns detailed version information including the Go runtime.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}
