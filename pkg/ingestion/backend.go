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

import "context"

// Backend is the storage interface the pipeline, aggregator, and sidecar all
// depend on (C11). It is declared here, on the consumer side, so that
// pkg/storage's concrete implementations can satisfy it without pkg/storage
// ever needing to import pkg/ingestion's callers — only ingestion's own
// Document/DocumentType types, which it already imports. A remote/networked
// implementation could satisfy the same interface without touching any
// caller.
type Backend interface {
	// Upsert writes a document, replacing any existing row with the same
	// DocumentID. Re-running at the same commit is expected to upsert the
	// same ID and so leave the store unchanged (§3.1 idempotency).
	Upsert(ctx context.Context, doc *Document) error

	// Get fetches a single document by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, documentID string) (*Document, error)

	// DeleteByQuery removes every document of docType belonging to repoID
	// whose FilePath (or ModulePath, for module_summary) has the given
	// prefix. Used when a file or directory disappears from the tree.
	DeleteByQuery(ctx context.Context, docType DocumentType, repoID, pathPrefix string) (int, error)

	// CountBy returns the number of documents of docType for repoID; the
	// pipeline uses the file_index count as the tracked-file total that
	// DecideStrategy compares the change count against.
	CountBy(ctx context.Context, docType DocumentType, repoID string) (int, error)

	// ListByType returns every document of docType for repoID, backing the
	// aggregator's directory-tree build over file_index documents and its
	// short-circuit comparison against the previous run's module_summary
	// documents (§4.9).
	ListByType(ctx context.Context, docType DocumentType, repoID string) ([]*Document, error)

	// ListRepoIDs returns the distinct repo_id values that have at least one
	// document of docType. The orchestrator uses this with TypeRepoSummary
	// to derive C2's "indexed set" (§4.2) without needing to already know
	// which repos to ask about.
	ListRepoIDs(ctx context.Context, docType DocumentType) ([]string, error)

	// Search runs a vector similarity search restricted to repoID (or all
	// repos when repoID is ""), returning the topK nearest documents.
	Search(ctx context.Context, repoID string, embedding []float32, topK int) ([]*Document, error)

	// Close releases the backend's resources.
	Close() error
}

// ErrNotFound is returned by Backend.Get when no document has the requested ID.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "storage: document not found" }
