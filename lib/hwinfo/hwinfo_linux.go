// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package hwinfo

import (
	"bytes"

	"golang.org/x/sys/unix"
)

func probePlatform(info *HostInfo) {
	var sysinfo unix.Sysinfo_t
	if err := unix.Sysinfo(&sysinfo); err == nil {
		info.TotalMemoryBytes = uint64(sysinfo.Totalram) * uint64(sysinfo.Unit)
	}
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		info.KernelVersion = nullTerminated(uname.Release[:])
	}
}

func nullTerminated(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}
