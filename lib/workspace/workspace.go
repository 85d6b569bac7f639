// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace maps (workspace root, workspace name, repository
// name) to filesystem paths and manages the git hook scripts that ping
// the agent's notify endpoint. Workspace and repository names come
// from the control plane and may contain characters that are invalid
// in a directory name; SanitizeName strips them so the mapping is
// total and deterministic.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// invalidPathCharacters are stripped from workspace and repository
// names before they are used as directory names. The set covers both
// Windows-invalid and shell-hostile characters since workspaces may be
// shared across platforms.
const invalidPathCharacters = `<>:"/\|?*`

// SanitizeName returns name with characters invalid in a directory
// name removed and surrounding whitespace trimmed. Deterministic: the
// same input always maps to the same directory.
func SanitizeName(name string) string {
	var builder strings.Builder
	builder.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidPathCharacters, r) {
			continue
		}
		builder.WriteRune(r)
	}
	return strings.TrimSpace(builder.String())
}

// Path returns the directory for a workspace under root.
func Path(root, workspaceName string) string {
	return filepath.Join(root, SanitizeName(workspaceName))
}

// RepositoryPath returns the directory for a repository inside a
// workspace under root.
func RepositoryPath(root, workspaceName, repositoryName string) string {
	return filepath.Join(root, SanitizeName(workspaceName), SanitizeName(repositoryName))
}

// Ensure creates the workspace directory if missing. Returns true when
// the directory was created by this call.
func Ensure(root, workspaceName string) (created bool, err error) {
	path := Path(root, workspaceName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, fmt.Errorf("creating workspace %s: %w", path, err)
	}
	return true, nil
}

// Exists reports whether the workspace directory exists.
func Exists(root, workspaceName string) (bool, error) {
	info, err := os.Stat(Path(root, workspaceName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// ListRepositories returns the names of directories directly under the
// workspace path that contain a .git entry (directory or gitfile).
// A missing workspace yields an empty list, not an error.
func ListRepositories(root, workspaceName string) ([]string, error) {
	path := Path(root, workspaceName)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading workspace %s: %w", path, err)
	}

	repositories := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(path, entry.Name(), ".git")); err == nil {
			repositories = append(repositories, entry.Name())
		}
	}
	return repositories, nil
}
