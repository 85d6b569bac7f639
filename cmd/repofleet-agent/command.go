// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/git"
	"github.com/repofleet-foundation/repofleet/lib/hwinfo"
	"github.com/repofleet-foundation/repofleet/lib/schema"
	"github.com/repofleet-foundation/repofleet/lib/semver"
	"github.com/repofleet-foundation/repofleet/lib/workspace"
)

// commandDefinition binds a command name to its handler. validate runs
// on the connection read loop so malformed arguments are rejected
// before a worker is tied up; the handler runs on a pool worker.
type commandDefinition struct {
	validate func(args codec.RawMessage) error
	handler  func(ctx context.Context, args codec.RawMessage) (any, error)
}

// decodeArgs decodes a command's argument payload into its typed
// shape. Missing or undecodable payloads are caller errors.
func decodeArgs[T any](args codec.RawMessage) (T, error) {
	var decoded T
	if len(args) == 0 {
		return decoded, &git.InvalidArgumentError{Reason: "missing command arguments"}
	}
	if err := codec.Unmarshal(args, &decoded); err != nil {
		return decoded, &git.InvalidArgumentError{Reason: fmt.Sprintf("undecodable arguments: %v", err)}
	}
	return decoded, nil
}

// validateAs is the eager read-loop check for commands taking T.
func validateAs[T any](args codec.RawMessage) error {
	_, err := decodeArgs[T](args)
	return err
}

// noArgs accepts any payload, for commands without arguments.
func noArgs(codec.RawMessage) error { return nil }

// Argument shapes beyond schema.RepositoryTarget.

type syncRepositoryArgs struct {
	schema.RepositoryTarget
	CloneURL string `cbor:"clone_url,omitempty"`
}

type workspaceArgs struct {
	Workspace string `cbor:"workspace"`
}

type branchArgs struct {
	schema.RepositoryTarget
	Branch string `cbor:"branch"`
}

type createBranchArgs struct {
	schema.RepositoryTarget
	Branch string `cbor:"branch"`
	Base   string `cbor:"base,omitempty"`
}

type deleteBranchArgs struct {
	schema.RepositoryTarget
	Branch string `cbor:"branch"`
	Force  bool   `cbor:"force,omitempty"`
}

type stageAndCommitArgs struct {
	schema.RepositoryTarget
	Message string `cbor:"message"`
}

type pushRepositoryArgs struct {
	schema.RepositoryTarget
	SetUpstream bool `cbor:"set_upstream,omitempty"`
}

// repositoryStatus is the response payload shared by the sync-flavored
// commands: the resolver snapshot plus commit counts.
type repositoryStatus struct {
	Version       string `cbor:"version"`
	Branch        string `cbor:"branch"`
	EscapedBranch string `cbor:"escaped_branch"`
	Outgoing      *int   `cbor:"outgoing,omitempty"`
	Incoming      *int   `cbor:"incoming,omitempty"`
	HasUpstream   bool   `cbor:"has_upstream"`
}

type syncOutcomeReply struct {
	repositoryStatus
	Success       bool   `cbor:"success"`
	MergeConflict bool   `cbor:"merge_conflict"`
	Output        string `cbor:"output,omitempty"`
}

type branchesReply struct {
	Branches []branchEntry `cbor:"branches"`
	Current  string        `cbor:"current"`
}

type branchEntry struct {
	Name    string `cbor:"name"`
	Remote  bool   `cbor:"remote"`
	Current bool   `cbor:"current"`
}

func (a *Agent) buildCommands() map[string]commandDefinition {
	return map[string]commandDefinition{
		schema.CmdSyncRepository:             {validate: validateAs[syncRepositoryArgs], handler: a.handleSyncRepository},
		schema.CmdRefreshRepositoryVersion:   {validate: validateAs[schema.RepositoryTarget], handler: a.handleRefreshRepositoryVersion},
		schema.CmdEnsureWorkspace:            {validate: validateAs[workspaceArgs], handler: a.handleEnsureWorkspace},
		schema.CmdGetWorkspaceRepositories:   {validate: validateAs[workspaceArgs], handler: a.handleGetWorkspaceRepositories},
		schema.CmdGetRepositoryVersion:       {validate: validateAs[schema.RepositoryTarget], handler: a.handleGetRepositoryVersion},
		schema.CmdGetWorkspaceExists:         {validate: validateAs[workspaceArgs], handler: a.handleGetWorkspaceExists},
		schema.CmdGetBranches:                {validate: validateAs[schema.RepositoryTarget], handler: a.handleGetBranches},
		schema.CmdCheckoutBranch:             {validate: validateAs[branchArgs], handler: a.handleCheckoutBranch},
		schema.CmdCreateBranch:               {validate: validateAs[createBranchArgs], handler: a.handleCreateBranch},
		schema.CmdDeleteBranch:               {validate: validateAs[deleteBranchArgs], handler: a.handleDeleteBranch},
		schema.CmdSyncToDefaultBranch:        {validate: validateAs[schema.RepositoryTarget], handler: a.handleSyncToDefaultBranch},
		schema.CmdRefreshBranches:            {validate: validateAs[schema.RepositoryTarget], handler: a.handleRefreshBranches},
		schema.CmdStageAndCommit:             {validate: validateAs[stageAndCommitArgs], handler: a.handleStageAndCommit},
		schema.CmdPushRepository:             {validate: validateAs[pushRepositoryArgs], handler: a.handlePushRepository},
		schema.CmdCommitSyncRepository:       {validate: validateAs[schema.RepositoryTarget], handler: a.handleCommitSyncRepository},
		schema.CmdSearchFiles:                {validate: validateAs[searchFilesArgs], handler: a.handleSearchFiles},
		schema.CmdUpdateFileVersions:         {validate: validateAs[updateFileVersionsArgs], handler: a.handleUpdateFileVersions},
		schema.CmdGetFileContents:            {validate: validateAs[getFileContentsArgs], handler: a.handleGetFileContents},
		schema.CmdSyncRepositoryDependencies: {validate: validateAs[syncDependenciesArgs], handler: a.handleSyncRepositoryDependencies},
		schema.CmdRefreshRepositoryProjects:  {validate: validateAs[schema.RepositoryTarget], handler: a.handleRefreshRepositoryProjects},
		schema.CmdGetHostInfo:                {validate: noArgs, handler: a.handleGetHostInfo},
	}
}

// repository resolves a target to a repository handle. The directory
// may not exist yet; handlers that require it get NotFoundError from
// the engine.
func (a *Agent) repository(target schema.RepositoryTarget) (*git.Repository, error) {
	if target.Workspace == "" {
		return nil, &git.InvalidArgumentError{Reason: "workspace name is required"}
	}
	if target.Repository == "" {
		return nil, &git.InvalidArgumentError{Reason: "repository name is required"}
	}
	dir := workspace.RepositoryPath(a.config.WorkspaceRoot, target.Workspace, target.Repository)
	return a.engine.Repository(dir), nil
}

// safeRepository resolves a target to an existing repository and marks
// it as a git safe.directory before anything else touches it. Every
// handler that runs git (or the version resolver) against an existing
// repository goes through here — the agent may manage trees cloned by
// another user, and the first contact with such a tree must be the
// safety check, not a command that dies with exit 128.
func (a *Agent) safeRepository(ctx context.Context, target schema.RepositoryTarget) (*git.Repository, error) {
	repo, err := a.repository(target)
	if err != nil {
		return nil, err
	}
	if !repo.Exists() {
		return nil, &git.NotFoundError{Path: repo.Dir()}
	}
	if err := repo.EnsureSafe(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// status assembles the repositoryStatus payload: resolver snapshot
// plus commit counts for the current branch. Resolver failures degrade
// to sentinels rather than failing the command.
func (a *Agent) status(ctx context.Context, repo *git.Repository) (repositoryStatus, error) {
	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return repositoryStatus{}, err
	}
	snapshot := a.resolve(ctx, repo)
	counts, err := repo.CommitCounts(ctx, branch)
	if err != nil {
		return repositoryStatus{}, err
	}
	return repositoryStatus{
		Version:       snapshot.Version,
		Branch:        branch,
		EscapedBranch: semver.EscapeBranch(branch),
		Outgoing:      counts.Outgoing,
		Incoming:      counts.Incoming,
		HasUpstream:   counts.HasUpstream,
	}, nil
}

// resolve runs the version resolver, logging failures and carrying on
// with sentinels.
func (a *Agent) resolve(ctx context.Context, repo *git.Repository) semver.Snapshot {
	snapshot, err := a.resolver.Resolve(ctx, repo.Dir())
	if err != nil {
		a.logger.Debug("version resolution failed", "dir", repo.Dir(), "error", err)
	}
	return snapshot
}

// noticeFor converts a status into the autonomous sync frame payload.
func noticeFor(target schema.RepositoryTarget, status repositoryStatus) schema.SyncNotice {
	hasUpstream := status.HasUpstream
	return schema.SyncNotice{
		WorkspaceID:  target.WorkspaceID,
		RepositoryID: target.RepositoryID,
		Version:      status.Version,
		Branch:       status.Branch,
		Outgoing:     status.Outgoing,
		Incoming:     status.Incoming,
		HasUpstream:  &hasUpstream,
	}
}

// handleSyncRepository brings a repository onto the machine (cloning
// when absent and a clone URL was given), fetches, and reports status.
func (a *Agent) handleSyncRepository(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[syncRepositoryArgs](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.repository(params.RepositoryTarget)
	if err != nil {
		return nil, err
	}

	if !repo.Exists() {
		if params.CloneURL == "" {
			return nil, &git.NotFoundError{Path: repo.Dir()}
		}
		if _, err := workspace.Ensure(a.config.WorkspaceRoot, params.Workspace); err != nil {
			return nil, err
		}
		if err := a.engine.Clone(ctx, params.CloneURL, repo.Dir()); err != nil {
			return nil, err
		}
		// Hooks are how autonomous notices reach the control plane,
		// but a hook install failure must not undo a finished clone.
		if err := workspace.InstallHooks(repo.Dir(), params.WorkspaceID, params.RepositoryID, a.notifyURL()); err != nil {
			a.logger.Warn("hook installation failed", "dir", repo.Dir(), "error", err)
		}
	}

	if err := repo.EnsureSafe(ctx); err != nil {
		return nil, err
	}
	if err := repo.Fetch(ctx, git.FetchOptions{Tags: true}); err != nil {
		return nil, err
	}
	status, err := a.status(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.sendSyncNotice(noticeFor(params.RepositoryTarget, status))
	return status, nil
}

// handleCommitSyncRepository runs the full pull-then-push cycle on the
// current branch. A merge conflict is a structured reply, not an
// error: the merge has already been aborted.
func (a *Agent) handleCommitSyncRepository(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := repo.Sync(ctx, branch)
	if err != nil {
		return nil, err
	}

	snapshot := a.resolve(ctx, repo)
	reply := syncOutcomeReply{
		repositoryStatus: repositoryStatus{
			Version:       snapshot.Version,
			Branch:        branch,
			EscapedBranch: semver.EscapeBranch(branch),
			Outgoing:      outcome.Counts.Outgoing,
			Incoming:      outcome.Counts.Incoming,
			HasUpstream:   outcome.Counts.HasUpstream,
		},
		Success:       outcome.Success,
		MergeConflict: outcome.MergeConflict,
		Output:        outcome.Output,
	}
	a.sendSyncNotice(noticeFor(params, reply.repositoryStatus))
	return reply, nil
}

// handleRefreshRepositoryVersion fetches and reports fresh status.
func (a *Agent) handleRefreshRepositoryVersion(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := repo.Fetch(ctx, git.FetchOptions{}); err != nil {
		return nil, err
	}
	status, err := a.status(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.sendSyncNotice(noticeFor(params, status))
	return status, nil
}

// handleGetRepositoryVersion resolves the version without touching the
// network.
func (a *Agent) handleGetRepositoryVersion(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}
	snapshot := a.resolve(ctx, repo)
	return snapshot, nil
}

func (a *Agent) handleEnsureWorkspace(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[workspaceArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Workspace == "" {
		return nil, &git.InvalidArgumentError{Reason: "workspace name is required"}
	}
	created, err := workspace.Ensure(a.config.WorkspaceRoot, params.Workspace)
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": created}, nil
}

func (a *Agent) handleGetWorkspaceRepositories(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[workspaceArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Workspace == "" {
		return nil, &git.InvalidArgumentError{Reason: "workspace name is required"}
	}
	repositories, err := workspace.ListRepositories(a.config.WorkspaceRoot, params.Workspace)
	if err != nil {
		return nil, err
	}
	return map[string]any{"repositories": repositories}, nil
}

func (a *Agent) handleGetWorkspaceExists(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[workspaceArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Workspace == "" {
		return nil, &git.InvalidArgumentError{Reason: "workspace name is required"}
	}
	exists, err := workspace.Exists(a.config.WorkspaceRoot, params.Workspace)
	if err != nil {
		return nil, err
	}
	return map[string]any{"exists": exists}, nil
}

func (a *Agent) handleGetBranches(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}
	return a.branchesReply(ctx, repo)
}

// handleRefreshBranches fetches (pruning stale remote-tracking refs)
// before listing, so the reply reflects the remote's current state.
func (a *Agent) handleRefreshBranches(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := repo.Fetch(ctx, git.FetchOptions{}); err != nil {
		return nil, err
	}
	return a.branchesReply(ctx, repo)
}

func (a *Agent) branchesReply(ctx context.Context, repo *git.Repository) (branchesReply, error) {
	branches, err := repo.Branches(ctx)
	if err != nil {
		return branchesReply{}, err
	}
	reply := branchesReply{Branches: make([]branchEntry, 0, len(branches)), Current: schema.Unknown}
	for _, branch := range branches {
		reply.Branches = append(reply.Branches, branchEntry{
			Name:    branch.Name,
			Remote:  branch.Remote,
			Current: branch.Current,
		})
		if branch.Current {
			reply.Current = branch.Name
		}
	}
	return reply, nil
}

func (a *Agent) handleCheckoutBranch(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[branchArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Branch == "" {
		return nil, &git.InvalidArgumentError{Reason: "branch name is required"}
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	if err := repo.Checkout(ctx, params.Branch); err != nil {
		return nil, err
	}
	status, err := a.status(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.sendSyncNotice(noticeFor(params.RepositoryTarget, status))
	return status, nil
}

func (a *Agent) handleCreateBranch(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[createBranchArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Branch == "" {
		return nil, &git.InvalidArgumentError{Reason: "branch name is required"}
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}

	base := params.Base
	if base == "" {
		base, _, err = a.baseBranch(ctx, repo)
		if err != nil {
			return nil, err
		}
	}
	if err := repo.CreateBranch(ctx, params.Branch, base); err != nil {
		return nil, err
	}
	// Establish the remote-tracking mapping for the new branch even
	// though there is nothing to push yet.
	if err := repo.Push(ctx, true); err != nil {
		a.logger.Warn("could not establish upstream for new branch",
			"branch", params.Branch, "error", err)
	}
	return a.status(ctx, repo)
}

// baseBranch picks the branch new branches fork from: the resolved
// default branch, or the current branch when the remote has none.
func (a *Agent) baseBranch(ctx context.Context, repo *git.Repository) (string, bool, error) {
	defaultBranch, ok, err := repo.DefaultBranch(ctx)
	if err != nil {
		return "", false, err
	}
	if ok {
		return defaultBranch, true, nil
	}
	current, err := repo.CurrentBranch(ctx)
	return current, false, err
}

func (a *Agent) handleDeleteBranch(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[deleteBranchArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Branch == "" {
		return nil, &git.InvalidArgumentError{Reason: "branch name is required"}
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	if err := repo.DeleteBranch(ctx, params.Branch, params.Force); err != nil {
		return nil, err
	}
	return a.branchesReply(ctx, repo)
}

// handleSyncToDefaultBranch checks out the resolved default branch and
// pulls it up to date.
func (a *Agent) handleSyncToDefaultBranch(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := repo.Fetch(ctx, git.FetchOptions{}); err != nil {
		return nil, err
	}

	defaultBranch, ok, err := repo.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("repository has no resolvable default branch")
	}
	if err := repo.Checkout(ctx, defaultBranch); err != nil {
		return nil, err
	}
	if _, err := repo.Pull(ctx); err != nil {
		return nil, err
	}
	status, err := a.status(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.sendSyncNotice(noticeFor(params, status))
	return status, nil
}

func (a *Agent) handleStageAndCommit(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[stageAndCommitArgs](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	committed, err := repo.StageAndCommit(ctx, params.Message)
	if err != nil {
		return nil, err
	}
	return map[string]any{"committed": committed}, nil
}

func (a *Agent) handlePushRepository(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[pushRepositoryArgs](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	if err := repo.Push(ctx, params.SetUpstream); err != nil {
		return nil, err
	}
	status, err := a.status(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.sendSyncNotice(noticeFor(params.RepositoryTarget, status))
	return status, nil
}

func (a *Agent) handleGetHostInfo(context.Context, codec.RawMessage) (any, error) {
	return hwinfo.Probe(), nil
}
