// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package hwinfo

// probePlatform is a no-op on platforms without a sysinfo source; the
// portable fields from Probe still apply.
func probePlatform(info *HostInfo) {}
