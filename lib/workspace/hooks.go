// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// hookKinds maps each installed git hook to the kind tag it reports in
// its notify URL. Each hook POSTs to the local notify endpoint so hook
// activity on disk reaches the job queue.
var hookKinds = map[string]string{
	"post-commit":   "commit",
	"post-checkout": "checkout",
	"post-merge":    "merge",
	"post-update":   "update",
}

// InstallHooks writes the agent's notification hooks into
// <repoPath>/.git/hooks/. Existing hooks with the same names are
// overwritten — the agent owns these four. post-checkout only pings
// when its third positional argument is 1 (a branch checkout, not a
// file-level checkout).
func InstallHooks(repoPath string, workspaceID, repositoryID int64, notifyURL string) error {
	hooksDir := filepath.Join(repoPath, ".git", "hooks")
	if _, err := os.Stat(hooksDir); err != nil {
		return fmt.Errorf("hooks directory %s: %w", hooksDir, err)
	}

	for name, kind := range hookKinds {
		script := hookScript(name, workspaceID, repositoryID, repoPath, notifyURL+"?kind="+kind)
		target := filepath.Join(hooksDir, name)
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			return fmt.Errorf("writing hook %s: %w", target, err)
		}
	}
	return nil
}

// hookScript renders one hook. The ping must never fail the git
// operation that triggered it, so curl errors are swallowed and the
// request is bounded to five seconds.
func hookScript(name string, workspaceID, repositoryID int64, repoPath, notifyURL string) string {
	guard := ""
	if name == "post-checkout" {
		// $3 is 1 for branch checkouts, 0 for file checkouts.
		guard = "[ \"$3\" = \"1\" ] || exit 0\n"
	}
	body := fmt.Sprintf(`{"repositoryId":%d,"workspaceId":%d,"repositoryPath":%q}`,
		repositoryID, workspaceID, repoPath)
	return fmt.Sprintf(`#!/bin/sh
# Installed by repofleet-agent (%s). Do not edit.
%scurl -s -m 5 -X POST -H 'Content-Type: application/json' -d '%s' %s >/dev/null 2>&1 || true
`, name, guard, body, notifyURL)
}
