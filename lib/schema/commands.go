// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Command names the agent recognizes. The control plane sends these in
// Invoke.Command; anything else is rejected with "unsupported command".
const (
	CmdSyncRepository             = "SyncRepository"
	CmdRefreshRepositoryVersion   = "RefreshRepositoryVersion"
	CmdEnsureWorkspace            = "EnsureWorkspace"
	CmdGetWorkspaceRepositories   = "GetWorkspaceRepositories"
	CmdGetRepositoryVersion       = "GetRepositoryVersion"
	CmdGetWorkspaceExists         = "GetWorkspaceExists"
	CmdGetBranches                = "GetBranches"
	CmdCheckoutBranch             = "CheckoutBranch"
	CmdCreateBranch               = "CreateBranch"
	CmdDeleteBranch               = "DeleteBranch"
	CmdSyncToDefaultBranch        = "SyncToDefaultBranch"
	CmdRefreshBranches            = "RefreshBranches"
	CmdStageAndCommit             = "StageAndCommit"
	CmdPushRepository             = "PushRepository"
	CmdCommitSyncRepository       = "CommitSyncRepository"
	CmdSearchFiles                = "SearchFiles"
	CmdUpdateFileVersions         = "UpdateFileVersions"
	CmdGetFileContents            = "GetFileContents"
	CmdSyncRepositoryDependencies = "SyncRepositoryDependencies"
	CmdRefreshRepositoryProjects  = "RefreshRepositoryProjects"
	CmdGetHostInfo                = "GetHostInfo"
)

// RepositoryTarget is the common argument shape for commands operating
// on a single repository inside a workspace.
type RepositoryTarget struct {
	Workspace    string `cbor:"workspace"`
	Repository   string `cbor:"repository"`
	WorkspaceID  int64  `cbor:"workspace_id,omitempty"`
	RepositoryID int64  `cbor:"repository_id,omitempty"`
}
