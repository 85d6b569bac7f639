// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// The repofleet agent runs on a machine holding git repositories,
// maintains a persistent connection to the control plane, executes the
// commands it sends, and raises autonomous sync notices when local git
// hooks fire.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/repofleet-foundation/repofleet/lib/clock"
	"github.com/repofleet-foundation/repofleet/lib/config"
	"github.com/repofleet-foundation/repofleet/lib/process"
	"github.com/repofleet-foundation/repofleet/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the agent config file (overrides REPOFLEET_CONFIG)")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting repofleet-agent",
		"version", version.Info(),
		"machine", cfg.MachineName,
		"control_plane", cfg.ControlPlane)

	agent := newAgent(cfg, logger, clock.Real(), process.Exec{})
	return agent.Run(ctx)
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}
