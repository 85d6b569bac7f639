// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/repofleet-foundation/repofleet/lib/git"
	"github.com/repofleet-foundation/repofleet/lib/schema"
)

func writeFile(t *testing.T, dir, relative, content string) {
	t.Helper()
	target := filepath.Join(dir, filepath.FromSlash(relative))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fleetTarget() schema.RepositoryTarget {
	return schema.RepositoryTarget{Workspace: "fleet", Repository: "service-a"}
}

func TestSearchFiles(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, dir, "internal/db/db.go", "package db")
	writeFile(t, dir, "README.md", "# readme")
	writeFile(t, dir, ".git/config", "[core]")

	reply, err := a.handleSearchFiles(context.Background(), mustMarshal(t, searchFilesArgs{
		RepositoryTarget: fleetTarget(),
		Pattern:          "*.go",
	}))
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	files := reply.(searchFilesReply)
	want := map[string]bool{"main.go": true, "internal/db/db.go": true}
	if len(files.Files) != len(want) {
		t.Fatalf("Files = %v, want %v", files.Files, want)
	}
	for _, f := range files.Files {
		if !want[f] {
			t.Errorf("unexpected match %q", f)
		}
		if strings.HasPrefix(f, ".git/") {
			t.Errorf("matched inside .git: %q", f)
		}
	}
	if files.Truncated {
		t.Error("small result set reported truncated")
	}
}

func TestSearchFilesBoundedResults(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		writeFile(t, dir, name, "x")
	}

	reply, err := a.handleSearchFiles(context.Background(), mustMarshal(t, searchFilesArgs{
		RepositoryTarget: fleetTarget(),
		Pattern:          "*.txt",
		MaxResults:       2,
	}))
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	files := reply.(searchFilesReply)
	if len(files.Files) != 2 {
		t.Errorf("len(Files) = %d, want 2", len(files.Files))
	}
	if !files.Truncated {
		t.Error("bounded result set not reported truncated")
	}
}

func TestSearchFilesRequiresPattern(t *testing.T) {
	a := testAgent(t, nil)
	makeRepo(t, a, "fleet", "service-a")
	_, err := a.handleSearchFiles(context.Background(), mustMarshal(t, searchFilesArgs{
		RepositoryTarget: fleetTarget(),
	}))
	if !git.IsInvalidArgument(err) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestGetFileContents(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	content := "hello repofleet\n"
	writeFile(t, dir, "docs/hello.txt", content)

	reply, err := a.handleGetFileContents(context.Background(), mustMarshal(t, getFileContentsArgs{
		RepositoryTarget: fleetTarget(),
		Path:             "docs/hello.txt",
	}))
	if err != nil {
		t.Fatalf("GetFileContents: %v", err)
	}
	file := reply.(fileContentsReply)
	if file.Compressed {
		t.Error("small file was compressed")
	}
	if string(file.Content) != content {
		t.Errorf("Content = %q", file.Content)
	}
	digest := blake3.Sum256([]byte(content))
	if file.Digest != hex.EncodeToString(digest[:]) {
		t.Errorf("Digest = %s", file.Digest)
	}
	if file.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", file.Size, len(content))
	}
}

func TestGetFileContentsCompressesLargePayload(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	content := strings.Repeat("repofleet compresses large file payloads\n", 4096)
	writeFile(t, dir, "big.log", content)

	reply, err := a.handleGetFileContents(context.Background(), mustMarshal(t, getFileContentsArgs{
		RepositoryTarget: fleetTarget(),
		Path:             "big.log",
	}))
	if err != nil {
		t.Fatalf("GetFileContents: %v", err)
	}
	file := reply.(fileContentsReply)
	if !file.Compressed {
		t.Fatal("large file was not compressed")
	}
	if file.Size != int64(len(content)) {
		t.Errorf("Size = %d, want uncompressed %d", file.Size, len(content))
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer decoder.Close()
	decoded, err := decoder.DecodeAll(file.Content, nil)
	if err != nil {
		t.Fatalf("decompressing payload: %v", err)
	}
	if !bytes.Equal(decoded, []byte(content)) {
		t.Error("decompressed payload differs from the file")
	}
	// The digest covers the uncompressed bytes.
	digest := blake3.Sum256([]byte(content))
	if file.Digest != hex.EncodeToString(digest[:]) {
		t.Errorf("Digest = %s", file.Digest)
	}
}

func TestGetFileContentsRejectsEscapes(t *testing.T) {
	a := testAgent(t, nil)
	makeRepo(t, a, "fleet", "service-a")
	for _, path := range []string{"../secrets", "/etc/passwd", "a/../../x", ""} {
		_, err := a.handleGetFileContents(context.Background(), mustMarshal(t, getFileContentsArgs{
			RepositoryTarget: fleetTarget(),
			Path:             path,
		}))
		if !git.IsInvalidArgument(err) {
			t.Errorf("Path %q: err = %v, want InvalidArgument", path, err)
		}
	}
}

func TestGetFileContentsMissingFile(t *testing.T) {
	a := testAgent(t, nil)
	makeRepo(t, a, "fleet", "service-a")
	_, err := a.handleGetFileContents(context.Background(), mustMarshal(t, getFileContentsArgs{
		RepositoryTarget: fleetTarget(),
		Path:             "nope.txt",
	}))
	if !git.IsNotFound(err) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestUpdateFileVersions(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	writeFile(t, dir, "package.json", `{
  "name": "service-a",
  "dependencies": {
    "left-pad": "^1.0.0",
    "untouched": "2.0.0"
  }
}`)
	writeFile(t, dir, "svc/Service.csproj", `<Project>
  <ItemGroup>
    <PackageReference Include="Newtonsoft.Json" Version="12.0.1" />
  </ItemGroup>
</Project>`)
	writeFile(t, dir, "go.mod", "module example.com/service-a\n\nrequire (\n\tgithub.com/left/pad v1.0.0\n)\n")

	reply, err := a.handleUpdateFileVersions(context.Background(), mustMarshal(t, updateFileVersionsArgs{
		RepositoryTarget: fleetTarget(),
		Updates: []dependencyUpdate{
			{Dependency: "left-pad", Version: "1.3.0"},
			{Dependency: "Newtonsoft.Json", Version: "13.0.3"},
			{Dependency: "github.com/left/pad", Version: "1.3.0"},
		},
	}))
	if err != nil {
		t.Fatalf("UpdateFileVersions: %v", err)
	}
	updated := reply.(updateVersionsReply).UpdatedFiles
	if len(updated) != 3 {
		t.Fatalf("UpdatedFiles = %v, want 3 entries", updated)
	}

	npm, _ := os.ReadFile(filepath.Join(dir, "package.json"))
	if !strings.Contains(string(npm), `"left-pad": "1.3.0"`) {
		t.Errorf("package.json not rewritten:\n%s", npm)
	}
	if !strings.Contains(string(npm), `"untouched": "2.0.0"`) {
		t.Error("unrelated dependency was touched")
	}

	csproj, _ := os.ReadFile(filepath.Join(dir, "svc", "Service.csproj"))
	if !strings.Contains(string(csproj), `Version="13.0.3"`) {
		t.Errorf("csproj not rewritten:\n%s", csproj)
	}

	gomod, _ := os.ReadFile(filepath.Join(dir, "go.mod"))
	if !strings.Contains(string(gomod), "github.com/left/pad v1.3.0") {
		t.Errorf("go.mod not rewritten:\n%s", gomod)
	}
}

func TestUpdateFileVersionsRejectsInvalidVersion(t *testing.T) {
	a := testAgent(t, nil)
	makeRepo(t, a, "fleet", "service-a")
	_, err := a.handleUpdateFileVersions(context.Background(), mustMarshal(t, updateFileVersionsArgs{
		RepositoryTarget: fleetTarget(),
		Updates:          []dependencyUpdate{{Dependency: "x", Version: "not.a.version"}},
	}))
	if !git.IsInvalidArgument(err) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestRefreshRepositoryProjects(t *testing.T) {
	a := testAgent(t, nil)
	dir := makeRepo(t, a, "fleet", "service-a")
	writeFile(t, dir, "go.mod", `module example.com/service-a

go 1.25

require (
	github.com/fxamacker/cbor/v2 v2.9.0
	gopkg.in/yaml.v3 v3.0.1 // indirect
)
`)
	writeFile(t, dir, "web/package.json", `{"name": "service-web", "dependencies": {"react": "18.2.0"}}`)

	reply, err := a.handleRefreshRepositoryProjects(context.Background(), mustMarshal(t, fleetTarget()))
	if err != nil {
		t.Fatalf("RefreshRepositoryProjects: %v", err)
	}
	projects := reply.(map[string]any)["projects"].([]projectInfo)
	if len(projects) != 2 {
		t.Fatalf("projects = %+v, want 2 entries", projects)
	}

	byName := map[string]projectInfo{}
	for _, p := range projects {
		byName[p.Name] = p
	}
	gomod, ok := byName["example.com/service-a"]
	if !ok {
		t.Fatalf("go.mod project missing from %+v", projects)
	}
	if len(gomod.Dependencies) != 2 {
		t.Errorf("go.mod dependencies = %+v, want 2", gomod.Dependencies)
	}
	web, ok := byName["service-web"]
	if !ok {
		t.Fatalf("package.json project missing from %+v", projects)
	}
	if len(web.Dependencies) != 1 || web.Dependencies[0].Name != "react" || web.Dependencies[0].Version != "18.2.0" {
		t.Errorf("npm dependencies = %+v", web.Dependencies)
	}
}
