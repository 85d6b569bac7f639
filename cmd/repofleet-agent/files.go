// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/repofleet-foundation/repofleet/lib/codec"
	"github.com/repofleet-foundation/repofleet/lib/git"
	"github.com/repofleet-foundation/repofleet/lib/schema"
)

// compressThreshold is the file size above which GetFileContents
// responses carry a zstd-compressed payload.
const compressThreshold = 64 * 1024

// defaultSearchLimit caps SearchFiles responses when the caller does
// not set its own limit.
const defaultSearchLimit = 200

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("zstd encoder initialization failed: " + err.Error())
	}
}

type searchFilesArgs struct {
	schema.RepositoryTarget
	Pattern    string `cbor:"pattern"`
	MaxResults int    `cbor:"max_results,omitempty"`
}

type getFileContentsArgs struct {
	schema.RepositoryTarget
	Path string `cbor:"path"`
}

type dependencyUpdate struct {
	Dependency string `cbor:"dependency"`
	Version    string `cbor:"version"`
}

type updateFileVersionsArgs struct {
	schema.RepositoryTarget
	// Pattern optionally narrows which manifests are rewritten; empty
	// means all recognized manifest files.
	Pattern string             `cbor:"pattern,omitempty"`
	Updates []dependencyUpdate `cbor:"updates"`
}

type syncDependenciesArgs struct {
	schema.RepositoryTarget
	Updates []dependencyUpdate `cbor:"updates"`
	Message string             `cbor:"message,omitempty"`
}

type fileContentsReply struct {
	Path       string `cbor:"path"`
	Size       int64  `cbor:"size"`
	Digest     string `cbor:"digest"`
	Compressed bool   `cbor:"compressed"`
	Content    []byte `cbor:"content"`
}

type searchFilesReply struct {
	Files     []string `cbor:"files"`
	Truncated bool     `cbor:"truncated"`
}

type updateVersionsReply struct {
	UpdatedFiles []string `cbor:"updated_files"`
}

type projectInfo struct {
	Path         string           `cbor:"path"`
	Name         string           `cbor:"name"`
	Kind         string           `cbor:"kind"`
	Dependencies []dependencyInfo `cbor:"dependencies"`
}

type dependencyInfo struct {
	Name    string `cbor:"name"`
	Version string `cbor:"version"`
}

// handleSearchFiles walks the repository tree matching the glob
// pattern against both the relative path and the base name. The .git
// directory is never reported.
func (a *Agent) handleSearchFiles(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[searchFilesArgs](args)
	if err != nil {
		return nil, err
	}
	if params.Pattern == "" {
		return nil, &git.InvalidArgumentError{Reason: "search pattern is required"}
	}
	if _, err := path.Match(params.Pattern, ""); err != nil {
		return nil, &git.InvalidArgumentError{Reason: fmt.Sprintf("malformed pattern %q", params.Pattern)}
	}
	repo, err := a.repository(params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	if !repo.Exists() {
		return nil, &git.NotFoundError{Path: repo.Dir()}
	}

	limit := params.MaxResults
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	reply := searchFilesReply{Files: []string{}}
	err = walkRepository(repo.Dir(), func(relative string) error {
		matched, _ := path.Match(params.Pattern, relative)
		if !matched {
			matched, _ = path.Match(params.Pattern, path.Base(relative))
		}
		if !matched {
			return nil
		}
		if len(reply.Files) >= limit {
			reply.Truncated = true
			return fs.SkipAll
		}
		reply.Files = append(reply.Files, relative)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// handleGetFileContents reads one file and returns its bytes with a
// BLAKE3 digest. Large payloads are zstd-compressed on the wire; the
// digest always covers the uncompressed bytes.
func (a *Agent) handleGetFileContents(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[getFileContentsArgs](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.repository(params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	target, err := containedPath(repo.Dir(), params.Path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &git.NotFoundError{Path: target}
		}
		return nil, err
	}

	digest := blake3.Sum256(content)
	reply := fileContentsReply{
		Path:    params.Path,
		Size:    int64(len(content)),
		Digest:  hex.EncodeToString(digest[:]),
		Content: content,
	}
	if len(content) > compressThreshold {
		reply.Compressed = true
		reply.Content = zstdEncoder.EncodeAll(content, nil)
	}
	return reply, nil
}

// containedPath joins relative onto root and rejects escapes: the file
// surface must never read outside the repository the command names.
func containedPath(root, relative string) (string, error) {
	if relative == "" {
		return "", &git.InvalidArgumentError{Reason: "file path is required"}
	}
	if filepath.IsAbs(relative) {
		return "", &git.InvalidArgumentError{Reason: "file path must be repository-relative"}
	}
	joined := filepath.Join(root, filepath.FromSlash(relative))
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &git.InvalidArgumentError{Reason: fmt.Sprintf("file path %q escapes the repository", relative)}
	}
	return joined, nil
}

// handleUpdateFileVersions rewrites pinned dependency versions inside
// the repository's project manifests.
func (a *Agent) handleUpdateFileVersions(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[updateFileVersionsArgs](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.repository(params.RepositoryTarget)
	if err != nil {
		return nil, err
	}
	if !repo.Exists() {
		return nil, &git.NotFoundError{Path: repo.Dir()}
	}
	if err := validateUpdates(params.Updates); err != nil {
		return nil, err
	}
	updated, err := rewriteManifests(repo.Dir(), params.Pattern, params.Updates)
	if err != nil {
		return nil, err
	}
	return updateVersionsReply{UpdatedFiles: updated}, nil
}

// handleSyncRepositoryDependencies is the composite operation the
// control plane uses for fleet-wide dependency bumps: rewrite the
// manifests, commit the change, and run the full sync cycle so the
// bump reaches the remote.
func (a *Agent) handleSyncRepositoryDependencies(ctx context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[syncDependenciesArgs](args)
	if err != nil {
		return nil, err
	}
	if err := validateUpdates(params.Updates); err != nil {
		return nil, err
	}
	repo, err := a.safeRepository(ctx, params.RepositoryTarget)
	if err != nil {
		return nil, err
	}

	updated, err := rewriteManifests(repo.Dir(), "", params.Updates)
	if err != nil {
		return nil, err
	}

	committed := false
	if len(updated) > 0 {
		message := params.Message
		if message == "" {
			message = dependencyCommitMessage(params.Updates)
		}
		committed, err = repo.StageAndCommit(ctx, message)
		if err != nil {
			return nil, err
		}
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
	reply := struct {
		UpdatedFiles  []string `cbor:"updated_files"`
		Committed     bool     `cbor:"committed"`
		Success       bool     `cbor:"success"`
		MergeConflict bool     `cbor:"merge_conflict"`
		Version       string   `cbor:"version"`
		Branch        string   `cbor:"branch"`
	}{
		UpdatedFiles:  updated,
		Committed:     committed,
		Success:       outcome.Success,
		MergeConflict: outcome.MergeConflict,
		Version:       snapshot.Version,
		Branch:        branch,
	}
	return reply, nil
}

// handleRefreshRepositoryProjects discovers project manifests and
// extracts their declared dependencies.
func (a *Agent) handleRefreshRepositoryProjects(_ context.Context, args codec.RawMessage) (any, error) {
	params, err := decodeArgs[schema.RepositoryTarget](args)
	if err != nil {
		return nil, err
	}
	repo, err := a.repository(params)
	if err != nil {
		return nil, err
	}
	if !repo.Exists() {
		return nil, &git.NotFoundError{Path: repo.Dir()}
	}

	projects := []projectInfo{}
	err = walkRepository(repo.Dir(), func(relative string) error {
		kind := manifestKind(relative)
		if kind == "" {
			return nil
		}
		content, err := os.ReadFile(filepath.Join(repo.Dir(), filepath.FromSlash(relative)))
		if err != nil {
			return err
		}
		project := parseManifest(relative, kind, content)
		projects = append(projects, project)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"projects": projects}, nil
}

// walkRepository visits every regular file under root, calling fn with
// the slash-separated path relative to root. The .git tree is skipped.
func walkRepository(root string, fn func(relative string) error) error {
	return filepath.WalkDir(root, func(target string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		relative, err := filepath.Rel(root, target)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(relative))
	})
}

func validateUpdates(updates []dependencyUpdate) error {
	if len(updates) == 0 {
		return &git.InvalidArgumentError{Reason: "at least one dependency update is required"}
	}
	for _, update := range updates {
		if update.Dependency == "" {
			return &git.InvalidArgumentError{Reason: "dependency name is required"}
		}
		if _, err := masterminds.NewVersion(update.Version); err != nil {
			return &git.InvalidArgumentError{
				Reason: fmt.Sprintf("version %q for %s is not a semantic version", update.Version, update.Dependency),
			}
		}
	}
	return nil
}

func dependencyCommitMessage(updates []dependencyUpdate) string {
	names := make([]string, 0, len(updates))
	for _, update := range updates {
		names = append(names, fmt.Sprintf("%s to %s", update.Dependency, update.Version))
	}
	return "Update " + strings.Join(names, ", ")
}

// manifestKind classifies a repository-relative path as a recognized
// project manifest.
func manifestKind(relative string) string {
	base := path.Base(relative)
	switch {
	case base == "go.mod":
		return "gomod"
	case base == "package.json":
		return "npm"
	case strings.HasSuffix(base, ".csproj"):
		return "msbuild"
	}
	return ""
}

// rewriteManifests applies version updates to every matching manifest
// under root, returning the relative paths of files that changed.
func rewriteManifests(root, pattern string, updates []dependencyUpdate) ([]string, error) {
	updated := []string{}
	err := walkRepository(root, func(relative string) error {
		if manifestKind(relative) == "" {
			return nil
		}
		if pattern != "" {
			matched, _ := path.Match(pattern, relative)
			if !matched {
				matched, _ = path.Match(pattern, path.Base(relative))
			}
			if !matched {
				return nil
			}
		}

		target := filepath.Join(root, filepath.FromSlash(relative))
		content, err := os.ReadFile(target)
		if err != nil {
			return err
		}
		rewritten := string(content)
		changed := false
		for _, update := range updates {
			next, applied := rewriteDependency(rewritten, manifestKind(relative), update)
			if applied {
				rewritten = next
				changed = true
			}
		}
		if !changed {
			return nil
		}
		if err := os.WriteFile(target, []byte(rewritten), 0o644); err != nil {
			return err
		}
		updated = append(updated, relative)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(updated)
	return updated, nil
}

// rewriteDependency updates one pinned dependency version in manifest
// content of the given kind. Returns the new content and whether a
// replacement happened.
func rewriteDependency(content, kind string, update dependencyUpdate) (string, bool) {
	name := regexp.QuoteMeta(update.Dependency)
	var pattern *regexp.Regexp
	var replacement string
	switch kind {
	case "gomod":
		// "example.com/mod v1.2.3" require lines.
		pattern = regexp.MustCompile(`(?m)(^\s*` + name + `\s+)v[^\s/]+`)
		replacement = "${1}v" + update.Version
	case "npm":
		// "name": "1.2.3" (with optional range prefix).
		pattern = regexp.MustCompile(`("` + name + `"\s*:\s*")[\^~]?[^"]*(")`)
		replacement = "${1}" + update.Version + "${2}"
	case "msbuild":
		// <PackageReference Include="Name" Version="1.2.3" />
		pattern = regexp.MustCompile(`(<PackageReference[^>]*Include="` + name + `"[^>]*Version=")[^"]*(")`)
		replacement = "${1}" + update.Version + "${2}"
	default:
		return content, false
	}
	rewritten := pattern.ReplaceAllString(content, replacement)
	return rewritten, rewritten != content
}

var (
	gomodModuleLine  = regexp.MustCompile(`(?m)^module\s+(\S+)`)
	gomodRequireLine = regexp.MustCompile(`(?m)^\s*([\w./~-]+\.[\w./~-]+)\s+v(\S+)`)
	msbuildReference = regexp.MustCompile(`<PackageReference[^>]*Include="([^"]+)"[^>]*Version="([^"]+)"`)
)

// parseManifest extracts the project name and pinned dependencies from
// one manifest. Parsing is best effort: an unparseable manifest yields
// a project entry with no dependencies rather than failing the
// command.
func parseManifest(relative, kind string, content []byte) projectInfo {
	project := projectInfo{
		Path:         relative,
		Name:         strings.TrimSuffix(path.Base(relative), path.Ext(relative)),
		Kind:         kind,
		Dependencies: []dependencyInfo{},
	}

	switch kind {
	case "gomod":
		if match := gomodModuleLine.FindSubmatch(content); match != nil {
			project.Name = string(match[1])
		}
		for _, match := range gomodRequireLine.FindAllSubmatch(content, -1) {
			if string(match[1]) == project.Name {
				continue
			}
			project.Dependencies = append(project.Dependencies, dependencyInfo{
				Name:    string(match[1]),
				Version: string(match[2]),
			})
		}

	case "npm":
		var manifest struct {
			Name            string            `json:"name"`
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if err := json.Unmarshal(content, &manifest); err != nil {
			return project
		}
		if manifest.Name != "" {
			project.Name = manifest.Name
		}
		for _, deps := range []map[string]string{manifest.Dependencies, manifest.DevDependencies} {
			for name, version := range deps {
				project.Dependencies = append(project.Dependencies, dependencyInfo{Name: name, Version: version})
			}
		}
		sort.Slice(project.Dependencies, func(i, j int) bool {
			return project.Dependencies[i].Name < project.Dependencies[j].Name
		})

	case "msbuild":
		for _, match := range msbuildReference.FindAllSubmatch(content, -1) {
			project.Dependencies = append(project.Dependencies, dependencyInfo{
				Name:    string(match[1]),
				Version: string(match[2]),
			})
		}
	}
	return project
}
