// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reports static facts about the host the agent runs
// on. The control plane uses these to label machines in its fleet
// view; nothing here is load-bearing, so probing is best-effort and
// never fails.
package hwinfo

import (
	"os"
	"runtime"
)

// HostInfo describes the machine.
type HostInfo struct {
	Hostname         string `cbor:"hostname"`
	OS               string `cbor:"os"`
	Arch             string `cbor:"arch"`
	CPUs             int    `cbor:"cpus"`
	TotalMemoryBytes uint64 `cbor:"total_memory_bytes"`
	KernelVersion    string `cbor:"kernel_version"`
}

// Probe collects host facts. Fields that cannot be determined are left
// at their zero value.
func Probe() HostInfo {
	info := HostInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		CPUs: runtime.NumCPU(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	probePlatform(&info)
	return info
}
