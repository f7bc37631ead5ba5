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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSymbolDoc(repoID, commit, path, symbol string) *Document {
	doc := &Document{
		Type:       TypeSymbolIndex,
		RepoID:     repoID,
		CommitHash: commit,
		Content:    "summary for " + symbol,
		FilePath:   path,
		SymbolName: symbol,
	}
	doc.DocumentID = GenerateDocumentID(TypeSymbolIndex, repoID, SymbolScope(path, symbol, 1), commit)
	return doc
}

func newTestFileDoc(repoID, commit, path string) *Document {
	doc := &Document{
		Type:       TypeFileIndex,
		RepoID:     repoID,
		CommitHash: commit,
		Content:    "summary for " + path,
		FilePath:   path,
	}
	doc.DocumentID = GenerateDocumentID(TypeFileIndex, repoID, path, commit)
	return doc
}

// TestFileProcessor_Persist_PurgesStaleDocumentsOnModify reproduces spec §8
// scenario S3: a file is reprocessed at a new commit, and the row(s) left
// by the prior commit must be gone afterward, not merely shadowed by the
// new write. file_index and symbol_index document ids are content-addressed
// on (repoID, path, commit), so persist must purge by (repoID, path) before
// writing - probing the new id's own existence can never find the old row.
func TestFileProcessor_Persist_PurgesStaleDocumentsOnModify(t *testing.T) {
	backend := newMemBackend()
	fp := &FileProcessor{backend: backend}
	ctx := context.Background()

	const repoID = "acme/widgets"
	const path = "src/b.py"
	const oldCommit = "aaaa000000000000000000000000000000000a"
	const newCommit = "bbbb000000000000000000000000000000000b"

	oldFileDoc := newTestFileDoc(repoID, oldCommit, path)
	oldSymbolDoc := newTestSymbolDoc(repoID, oldCommit, path, "b")
	require.NoError(t, fp.persist(ctx, repoID, path, oldFileDoc, []*Document{oldSymbolDoc}))

	got, err := backend.Get(ctx, oldFileDoc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, oldFileDoc.DocumentID, got.DocumentID)
	_, err = backend.Get(ctx, oldSymbolDoc.DocumentID)
	require.NoError(t, err)

	newFileDoc := newTestFileDoc(repoID, newCommit, path)
	newSymbolDoc := newTestSymbolDoc(repoID, newCommit, path, "b")
	require.NoError(t, fp.persist(ctx, repoID, path, newFileDoc, []*Document{newSymbolDoc}))

	_, err = backend.Get(ctx, oldFileDoc.DocumentID)
	assert.ErrorIs(t, err, ErrNotFound, "stale file_index from the prior commit must be purged")
	_, err = backend.Get(ctx, oldSymbolDoc.DocumentID)
	assert.ErrorIs(t, err, ErrNotFound, "stale symbol_index from the prior commit must be purged")

	_, err = backend.Get(ctx, newFileDoc.DocumentID)
	require.NoError(t, err)
	_, err = backend.Get(ctx, newSymbolDoc.DocumentID)
	require.NoError(t, err)
}

// TestFileProcessor_Persist_DoesNotTouchOtherPaths ensures the purge is
// scoped to the exact path being written, not the whole repo.
func TestFileProcessor_Persist_DoesNotTouchOtherPaths(t *testing.T) {
	backend := newMemBackend()
	fp := &FileProcessor{backend: backend}
	ctx := context.Background()

	const repoID = "acme/widgets"
	const commit = "aaaa000000000000000000000000000000000a"

	untouchedFileDoc := newTestFileDoc(repoID, commit, "src/a.py")
	untouchedSymbolDoc := newTestSymbolDoc(repoID, commit, "src/a.py", "a")
	require.NoError(t, fp.persist(ctx, repoID, "src/a.py", untouchedFileDoc, []*Document{untouchedSymbolDoc}))

	bFileDoc := newTestFileDoc(repoID, commit, "src/b.py")
	require.NoError(t, fp.persist(ctx, repoID, "src/b.py", bFileDoc, nil))

	_, err := backend.Get(ctx, untouchedFileDoc.DocumentID)
	require.NoError(t, err)
	_, err = backend.Get(ctx, untouchedSymbolDoc.DocumentID)
	require.NoError(t, err)
}

// TestFileProcessor_Persist_NewFileHasNoPriorToPurge guards against the
// purge-then-write ordering regressing into erroring on a no-op delete.
func TestFileProcessor_Persist_NewFileHasNoPriorToPurge(t *testing.T) {
	backend := newMemBackend()
	fp := &FileProcessor{backend: backend}
	ctx := context.Background()

	fileDoc := newTestFileDoc("acme/widgets", "aaaa000000000000000000000000000000000a", "src/new.py")
	require.NoError(t, fp.persist(ctx, "acme/widgets", "src/new.py", fileDoc, nil))

	got, err := backend.Get(ctx, fileDoc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "src/new.py", got.FilePath)
}

func TestExtractLines(t *testing.T) {
	content := []byte("one\ntwo\nthree\nfour\n")

	assert.Equal(t, "two\nthree", extractLines(content, 2, 3))
	assert.Equal(t, "one", extractLines(content, 0, 1))
	assert.Equal(t, "", extractLines(content, 10, 12))
}

func TestPrefixLines(t *testing.T) {
	content := []byte("a\nb\nc\nd\n")

	assert.Equal(t, "a\nb", prefixLines(content, 2))
	assert.Equal(t, "a\nb\nc\nd\n", prefixLines(content, 100))
}

func TestModuleDirOf(t *testing.T) {
	assert.Equal(t, "src/pkg", moduleDirOf("src/pkg/file.go"))
	assert.Equal(t, ".", moduleDirOf("main.go"))
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "Parses widgets.", firstSentence("Parses widgets. Handles errors too."))
	assert.Equal(t, "no terminator here", firstSentence("no terminator here"))
	assert.Equal(t, "", firstSentence("   "))
}
