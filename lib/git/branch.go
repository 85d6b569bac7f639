// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"strings"
)

// Branch is one local or remote-tracking branch.
type Branch struct {
	Name    string
	Remote  bool
	Current bool
}

// remoteRef returns the fully qualified remote-tracking ref for a
// branch name.
func (r *Repository) remoteRef(branch string) string {
	return "refs/remotes/" + r.engine.remote + "/" + branch
}

// refExists reports whether a fully qualified ref resolves.
func (r *Repository) refExists(ctx context.Context, ref string) bool {
	result, _ := r.run(ctx, false, "rev-parse", "-q", "--verify", ref)
	return result.ExitCode == 0
}

// HasUpstream reports whether the remote-tracking counterpart of
// branch exists.
func (r *Repository) HasUpstream(ctx context.Context, branch string) (bool, error) {
	if branch == "" {
		return false, &InvalidArgumentError{Reason: "branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return false, err
	}
	return r.refExists(ctx, r.remoteRef(branch)), nil
}

// Branches lists local and remote-tracking branches, marking the
// currently checked-out one.
func (r *Repository) Branches(ctx context.Context) ([]Branch, error) {
	if err := r.checkExists(); err != nil {
		return nil, err
	}
	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	output, err := r.git(ctx, "for-each-ref", "--format=%(refname:short)",
		"refs/heads", "refs/remotes/"+r.engine.remote)
	if err != nil {
		return nil, err
	}

	remotePrefix := r.engine.remote + "/"
	branches := []Branch{}
	for _, line := range strings.Split(output, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		if short, isRemote := strings.CutPrefix(name, remotePrefix); isRemote {
			// Skip the symbolic origin/HEAD pointer.
			if short == "HEAD" {
				continue
			}
			branches = append(branches, Branch{Name: short, Remote: true})
			continue
		}
		branches = append(branches, Branch{Name: name, Current: name == current})
	}
	return branches, nil
}

// Checkout switches to branch. When the remote-tracking counterpart
// exists, a local tracking branch is created from it; if that fails
// because the branch already exists locally, a plain checkout is used.
// Without a remote counterpart the local branch is checked out
// directly.
func (r *Repository) Checkout(ctx context.Context, branch string) error {
	if branch == "" {
		return &InvalidArgumentError{Reason: "branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return err
	}

	if r.refExists(ctx, r.remoteRef(branch)) {
		_, err := r.git(ctx, "checkout", "-b", branch, "--track", r.engine.remote+"/"+branch)
		if err == nil {
			return nil
		}
		// The local branch likely already exists; fall back to a
		// plain checkout and let its error stand if it also fails.
		_, fallbackErr := r.git(ctx, "checkout", branch)
		return fallbackErr
	}

	_, err := r.git(ctx, "checkout", branch)
	return err
}

// CreateBranch checks out base, then creates name from HEAD. When the
// branch already exists (local and remote state diverged from what the
// control plane recorded), it is checked out instead of failing.
func (r *Repository) CreateBranch(ctx context.Context, name, base string) error {
	if name == "" {
		return &InvalidArgumentError{Reason: "branch name is required"}
	}
	if base == "" {
		return &InvalidArgumentError{Reason: "base branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return err
	}

	if err := r.Checkout(ctx, base); err != nil {
		return err
	}
	_, err := r.git(ctx, "checkout", "-b", name)
	if err == nil {
		return nil
	}
	if r.refExists(ctx, "refs/heads/"+name) {
		_, checkoutErr := r.git(ctx, "checkout", name)
		return checkoutErr
	}
	return err
}

// DeleteBranch deletes a local branch. Soft deletion (-d) only removes
// merged branches; force (-D) removes regardless. Deleting the
// currently checked-out branch is refused.
func (r *Repository) DeleteBranch(ctx context.Context, name string, force bool) error {
	if name == "" {
		return &InvalidArgumentError{Reason: "branch name is required"}
	}
	if err := r.checkExists(); err != nil {
		return err
	}

	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return &InvalidArgumentError{Reason: "cannot delete the currently checked-out branch " + name}
	}

	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err = r.git(ctx, "branch", flag, name)
	return err
}

// DefaultBranch resolves the remote's default branch: origin/main,
// then origin/master, then the remote's symbolic HEAD. Returns ok =
// false, with no error, when all three fail.
func (r *Repository) DefaultBranch(ctx context.Context) (branch string, ok bool, err error) {
	if err := r.checkExists(); err != nil {
		return "", false, err
	}

	for _, candidate := range []string{"main", "master"} {
		if r.refExists(ctx, r.remoteRef(candidate)) {
			return candidate, true, nil
		}
	}

	output, err := r.git(ctx, "symbolic-ref", "refs/remotes/"+r.engine.remote+"/HEAD")
	if err != nil {
		// No symbolic HEAD recorded for the remote. Not an error:
		// the repository may simply have no usable default branch.
		return "", false, nil
	}
	prefix := "refs/remotes/" + r.engine.remote + "/"
	if name, found := strings.CutPrefix(output, prefix); found && name != "" {
		return name, true, nil
	}
	return "", false, nil
}
