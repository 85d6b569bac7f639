// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sync"

	"github.com/repofleet-foundation/repofleet/lib/git"
	"github.com/repofleet-foundation/repofleet/lib/jobs"
	"github.com/repofleet-foundation/repofleet/lib/schema"
	"github.com/repofleet-foundation/repofleet/lib/semver"
)

// Notify handles a hook notification job: refresh the repository's
// view per the hook kind and raise a sync notice. Called by pool
// workers.
//
// Kind policy:
//   - Checkout: version resolution and fetch run concurrently; commit
//     counts wait for both (the comparison needs fresh remote refs, but
//     is independent of the resolver).
//   - Commit and Update: version only, no fetch — the existing
//     remote-tracking refs are trusted.
//   - Merge: version only, no fetch (the merge already integrated the
//     remote side); the upstream flag is recomputed with the counts.
func (a *Agent) Notify(ctx context.Context, job *jobs.NotifyJob) error {
	repo := a.engine.Repository(job.Path)
	if !repo.Exists() {
		return &git.NotFoundError{Path: job.Path}
	}
	if err := repo.EnsureSafe(ctx); err != nil {
		return err
	}

	var snapshot semver.Snapshot
	if job.Kind == jobs.HookCheckout {
		var wg sync.WaitGroup
		var fetchErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			snapshot = a.resolve(ctx, repo)
		}()
		go func() {
			defer wg.Done()
			fetchErr = repo.Fetch(ctx, git.FetchOptions{})
		}()
		wg.Wait()
		if fetchErr != nil {
			return fetchErr
		}
	} else {
		snapshot = a.resolve(ctx, repo)
	}

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	counts, err := repo.CommitCounts(ctx, branch)
	if err != nil {
		return err
	}

	hasUpstream := counts.HasUpstream
	a.sendSyncNotice(schema.SyncNotice{
		WorkspaceID:  job.WorkspaceID,
		RepositoryID: job.RepositoryID,
		Version:      snapshot.Version,
		Branch:       branch,
		Outgoing:     counts.Outgoing,
		Incoming:     counts.Incoming,
		HasUpstream:  &hasUpstream,
	})
	a.logger.Debug("hook processed",
		"kind", job.Kind,
		"repository_id", job.RepositoryID,
		"branch", branch,
		"version", snapshot.Version)
	return nil
}
