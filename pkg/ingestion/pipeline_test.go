// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepoOnDisk(t *testing.T, reposRoot, repoID string, files map[string]string) string {
	t.Helper()
	repoPath := filepath.Join(reposRoot, RepoIDToDirName(repoID))
	require.NoError(t, os.MkdirAll(repoPath, 0o750))
	runGit(t, repoPath, "init", "-q")
	runGit(t, repoPath, "config", "user.email", "test@example.com")
	runGit(t, repoPath, "config", "user.name", "test")
	writeTestFiles(t, repoPath, files)
	runGit(t, repoPath, "add", "-A")
	runGit(t, repoPath, "commit", "-q", "-m", "init")
	return repoPath
}

func seedRepoSummary(backend *memBackend, repoID, commit string) {
	doc := &Document{Type: TypeRepoSummary, RepoID: repoID, CommitHash: commit}
	doc.DocumentID = GenerateDocumentID(TypeRepoSummary, repoID, ".", commit)
	_ = backend.Upsert(context.Background(), doc)
}

// TestPipeline_ProcessExistingRepo_SkipWhenSHAUnchanged covers C10's
// dispatch of C3's StrategySkip: HEAD matches the stored repo_summary
// commit, so no file work happens and the repo is counted skipped.
func TestPipeline_ProcessExistingRepo_SkipWhenSHAUnchanged(t *testing.T) {
	reposRoot := t.TempDir()
	const repoID = "widgets"
	repoPath := newTestRepoOnDisk(t, reposRoot, repoID, map[string]string{"a.py": "def a(): pass\n"})
	head := testGitHeadSHA(t, repoPath)

	backend := newMemBackend()
	seedRepoSummary(backend, repoID, head)

	cfg := &Config{ReposPath: reposRoot, FullReingestThreshold: 0.3}
	p := &Pipeline{cfg: cfg, backend: backend, logger: slog.Default()}

	record := &RunRecord{}
	p.processExistingRepo(context.Background(), repoID, RunOptions{}, record, slog.Default())

	assert.Equal(t, 1, record.Counters.ReposSkipped)
	assert.Empty(t, record.Errors)
}

// TestPipeline_ProcessExistingRepo_SurgicalUpdateDeletesAndReaggregates
// covers C10's dispatch of C3's StrategySurgicalUpdate down through
// applySurgicalUpdate's delete handling and the aggregator re-run, without
// requiring a real parser/materializer stack: the only delta is a file
// deletion, so ingestFiles has nothing to process.
func TestPipeline_ProcessExistingRepo_SurgicalUpdateDeletesAndReaggregates(t *testing.T) {
	reposRoot := t.TempDir()
	const repoID = "widgets"
	files := map[string]string{
		"src/a.py": "def a(): pass\n",
		"src/b.py": "def b(): pass\n",
		"src/c.py": "def c(): pass\n",
		"src/d.py": "def d(): pass\n",
		"src/e.py": "def e(): pass\n",
		"src/f.py": "def f(): pass\n",
		"src/g.py": "def g(): pass\n",
		"src/h.py": "def h(): pass\n",
		"src/i.py": "def i(): pass\n",
		"src/j.py": "def j(): pass\n",
	}
	repoPath := newTestRepoOnDisk(t, reposRoot, repoID, files)
	base := testGitHeadSHA(t, repoPath)

	backend := newMemBackend()
	seedRepoSummary(backend, repoID, base)
	for path := range files {
		doc := &Document{Type: TypeFileIndex, RepoID: repoID, CommitHash: base, FilePath: path, Content: "summary for " + path}
		doc.DocumentID = GenerateDocumentID(TypeFileIndex, repoID, path, base)
		require.NoError(t, backend.Upsert(context.Background(), doc))
	}

	require.NoError(t, os.Remove(filepath.Join(repoPath, "src/j.py")))
	runGit(t, repoPath, "add", "-A")
	runGit(t, repoPath, "commit", "-q", "-m", "remove j")

	agg, _ := newTestAggregatorOverBackend(backend)
	cfg := &Config{ReposPath: reposRoot, FullReingestThreshold: 0.3}
	p := &Pipeline{cfg: cfg, backend: backend, aggregator: agg, logger: slog.Default()}

	record := &RunRecord{}
	p.processExistingRepo(context.Background(), repoID, RunOptions{}, record, slog.Default())

	assert.Empty(t, record.Errors)
	assert.Equal(t, 1, record.Counters.ReposUpdated)
	assert.Equal(t, 1, record.Counters.FilesDeleted)

	remaining, err := backend.ListByType(context.Background(), TypeFileIndex, repoID)
	require.NoError(t, err)
	assert.Len(t, remaining, 9)

	_, err = backend.Get(context.Background(), GenerateDocumentID(TypeFileIndex, repoID, "src/j.py", base))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPipeline_PurgeRepo_RemovesEveryDocumentType(t *testing.T) {
	backend := newMemBackend()
	const repoID = "widgets"
	for _, dt := range []DocumentType{TypeSymbolIndex, TypeFileIndex, TypeModuleSummary, TypeRepoSummary} {
		doc := &Document{Type: dt, RepoID: repoID, FilePath: "a.py"}
		doc.DocumentID = GenerateDocumentID(dt, repoID, "a.py", "x")
		require.NoError(t, backend.Upsert(context.Background(), doc))
	}

	p := &Pipeline{backend: backend}
	require.NoError(t, p.purgeRepo(context.Background(), repoID))

	for _, dt := range []DocumentType{TypeSymbolIndex, TypeFileIndex, TypeModuleSummary, TypeRepoSummary} {
		docs, err := backend.ListByType(context.Background(), dt, repoID)
		require.NoError(t, err)
		assert.Empty(t, docs)
	}
}

func TestPipeline_ListOnDiskRepos_RoundTripsRepoIDsFromDirNames(t *testing.T) {
	reposRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(reposRoot, "acme_widgets"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(reposRoot, "acme_gadgets"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(reposRoot, ".hidden"), []byte(""), 0o644))

	p := &Pipeline{cfg: &Config{ReposPath: reposRoot}}
	ids, err := p.listOnDiskRepos()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/gadgets", "acme/widgets"}, ids)
}

func TestPipeline_RepoDir_JoinsReposPathWithDirName(t *testing.T) {
	p := &Pipeline{cfg: &Config{ReposPath: "/repos"}}
	assert.Equal(t, filepath.Join("/repos", "acme_widgets"), p.repoDir("acme/widgets"))
}
