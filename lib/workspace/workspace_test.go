// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"team/alpha", "teamalpha"},
		{`a<b>c:d"e`, "abcde"},
		{"  spaced  ", "spaced"},
		{"tab\there", "tabhere"},
		{"dots.and-dashes_ok", "dots.and-dashes_ok"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRepositoryPathIsDeterministic(t *testing.T) {
	first := RepositoryPath("/srv", "team: alpha", "repo*one")
	second := RepositoryPath("/srv", "team: alpha", "repo*one")
	if first != second {
		t.Errorf("mapping not deterministic: %q vs %q", first, second)
	}
	if strings.ContainsAny(filepath.Base(first), `<>:"\|?*`) {
		t.Errorf("sanitized path still contains invalid characters: %q", first)
	}
}

func TestEnsureCreatesOnce(t *testing.T) {
	root := t.TempDir()

	created, err := Ensure(root, "alpha")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Error("first Ensure did not report created")
	}

	created, err = Ensure(root, "alpha")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if created {
		t.Error("second Ensure reported created for an existing workspace")
	}

	exists, err := Exists(root, "alpha")
	if err != nil || !exists {
		t.Errorf("Exists = (%v, %v), want (true, nil)", exists, err)
	}
}

func TestListRepositoriesFiltersNonGitDirs(t *testing.T) {
	root := t.TempDir()
	path := Path(root, "alpha")

	for _, name := range []string{"repo-a", "repo-b"} {
		if err := os.MkdirAll(filepath.Join(path, name, ".git"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// A directory without .git and a plain file are both skipped.
	if err := os.MkdirAll(filepath.Join(path, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	repos, err := ListRepositories(root, "alpha")
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(repos) != 2 || repos[0] != "repo-a" || repos[1] != "repo-b" {
		t.Errorf("ListRepositories = %v, want [repo-a repo-b]", repos)
	}
}

func TestListRepositoriesMissingWorkspace(t *testing.T) {
	repos, err := ListRepositories(t.TempDir(), "ghost")
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	if len(repos) != 0 {
		t.Errorf("ListRepositories = %v, want empty", repos)
	}
}

func TestInstallHooks(t *testing.T) {
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, ".git", "hooks"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := InstallHooks(repo, 3, 12, "http://127.0.0.1:7421/notify"); err != nil {
		t.Fatalf("InstallHooks: %v", err)
	}

	for _, name := range []string{"post-commit", "post-checkout", "post-merge", "post-update"} {
		path := filepath.Join(repo, ".git", "hooks", name)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("hook %s not written: %v", name, err)
		}
		script := string(data)
		if !strings.Contains(script, `"repositoryId":12`) || !strings.Contains(script, `"workspaceId":3`) {
			t.Errorf("hook %s missing identifiers:\n%s", name, script)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode()&0o111 == 0 {
			t.Errorf("hook %s is not executable", name)
		}
	}

	// Each hook tags its kind in the notify URL.
	for name, kind := range map[string]string{
		"post-commit":   "commit",
		"post-checkout": "checkout",
		"post-merge":    "merge",
		"post-update":   "update",
	} {
		data, err := os.ReadFile(filepath.Join(repo, ".git", "hooks", name))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "/notify?kind="+kind) {
			t.Errorf("hook %s does not tag kind %s", name, kind)
		}
	}

	// Only branch checkouts ping.
	checkout, err := os.ReadFile(filepath.Join(repo, ".git", "hooks", "post-checkout"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(checkout), `[ "$3" = "1" ]`) {
		t.Error("post-checkout does not guard on branch-checkout flag")
	}
}

func TestInstallHooksMissingHooksDir(t *testing.T) {
	if err := InstallHooks(t.TempDir(), 1, 1, "http://127.0.0.1:7421/notify"); err == nil {
		t.Error("InstallHooks succeeded without a .git/hooks directory")
	}
}
