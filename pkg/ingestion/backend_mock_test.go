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
	"strings"
	"sync"
)

// memBackend is an in-memory Backend used by tests that need a real store
// round-trip (JSON-shaped metadata, upsert-by-id semantics) without CozoDB.
type memBackend struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string]*Document)}
}

func (b *memBackend) Upsert(ctx context.Context, doc *Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := *doc
	// Emulate the JSON round-trip a real backend performs on Metadata, so
	// tests exercise the same []any decoding production code must handle.
	stored.Metadata = roundTripMetadata(doc.Metadata)
	b.docs[doc.DocumentID] = &stored
	return nil
}

func (b *memBackend) Get(ctx context.Context, documentID string) (*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (b *memBackend) DeleteByQuery(ctx context.Context, docType DocumentType, repoID, pathPrefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, doc := range b.docs {
		if doc.Type != docType || doc.RepoID != repoID {
			continue
		}
		if strings.HasPrefix(doc.FilePath, pathPrefix) || strings.HasPrefix(doc.ModulePath, pathPrefix) {
			delete(b.docs, id)
			n++
		}
	}
	return n, nil
}

func (b *memBackend) CountBy(ctx context.Context, docType DocumentType, repoID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, doc := range b.docs {
		if doc.Type == docType && doc.RepoID == repoID {
			n++
		}
	}
	return n, nil
}

func (b *memBackend) ListByType(ctx context.Context, docType DocumentType, repoID string) ([]*Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Document
	for _, doc := range b.docs {
		if doc.Type == docType && doc.RepoID == repoID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (b *memBackend) ListRepoIDs(ctx context.Context, docType DocumentType) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]struct{})
	for _, doc := range b.docs {
		if doc.Type == docType {
			seen[doc.RepoID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (b *memBackend) Search(ctx context.Context, repoID string, embedding []float32, topK int) ([]*Document, error) {
	return nil, nil
}

func (b *memBackend) Close() error { return nil }

// roundTripMetadata mimics encoding/json's loss of concrete slice/number
// types through an any-typed map, matching what a caller sees after reading
// a document back from the real CozoDB-backed store.
func roundTripMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case []string:
			arr := make([]any, len(val))
			for i, s := range val {
				arr[i] = s
			}
			out[k] = arr
		default:
			out[k] = v
		}
	}
	return out
}
