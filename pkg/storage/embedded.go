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

// Package storage provides an embedded CozoDB implementation of C11's
// Backend interface (declared in pkg/ingestion): upsert, get,
// delete-by-query, count-by, list-by-type, list-repo-ids, and vector search.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	cozo "github.com/kraklabs/cie-ingest/pkg/cozodb"
	"github.com/kraklabs/cie-ingest/pkg/ingestion"
)

// EmbeddedConfig configures the embedded backend.
type EmbeddedConfig struct {
	// DataDir is the directory where CozoDB stores its data.
	DataDir string

	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	// Defaults to "rocksdb" for persistence.
	Engine string

	// EmbeddingDim is the fixed vector width for the HNSW index. Must
	// match Config.EmbeddingDim; defaults to 768.
	EmbeddingDim int
}

// EmbeddedBackend implements Backend using a local CozoDB instance storing
// every document type in a single `documents` relation (§3.2, §4.11).
type EmbeddedBackend struct {
	db     *cozo.DB
	dim    int
	mu     sync.RWMutex
	closed bool
}

// NewEmbeddedBackend opens (creating if absent) the embedded document store
// and ensures its schema exists.
func NewEmbeddedBackend(cfg EmbeddedConfig) (*EmbeddedBackend, error) {
	if cfg.Engine == "" {
		cfg.Engine = "rocksdb"
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("embedded backend: DataDir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := cozo.New(cfg.Engine, cfg.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open cozodb: %w", err)
	}

	b := &EmbeddedBackend{db: db, dim: cfg.EmbeddingDim}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *EmbeddedBackend) ensureSchema() error {
	schema := fmt.Sprintf(`:create documents {
	document_id: String =>
	doc_type: String,
	repo_id: String,
	commit_hash: String,
	content: String,
	parent_id: String,
	children_ids: String,
	metadata: String,
	module_path: String,
	file_path: String,
	symbol_name: String,
	symbol_type: String,
	criticality_score: Float,
	enrichment_level: String,
	llm_available: Bool,
	summary_source: String,
	protect_from_update: Bool,
	schema_version: Int,
	pipeline_version: String,
	created_at: String,
	embedding: <F32; %d>
}`, b.dim)

	if _, err := b.db.Run(schema, nil); err != nil {
		// CozoDB returns an error for a relation that already exists;
		// any other failure surfaces on the first real query anyway.
		return nil
	}

	indexes := []string{
		`::hnsw create documents:semantic_idx { dim: ` + fmt.Sprint(b.dim) + `, m: 16, ef_construction: 200, fields: [embedding] }`,
	}
	for _, idx := range indexes {
		_, _ = b.db.Run(idx, nil)
	}
	return nil
}

// Upsert implements Backend.
func (b *EmbeddedBackend) Upsert(ctx context.Context, doc *ingestion.Document) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("storage: backend is closed")
	}

	children, err := json.Marshal(doc.ChildrenIDs)
	if err != nil {
		return fmt.Errorf("marshal children_ids: %w", err)
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	criticality := 0.0
	if doc.CriticalityScore != nil {
		criticality = *doc.CriticalityScore
	}
	embedding := doc.Embedding
	if embedding == nil {
		embedding = make([]float32, b.dim)
	}

	params := map[string]any{
		"document_id":          doc.DocumentID,
		"doc_type":             string(doc.Type),
		"repo_id":              doc.RepoID,
		"commit_hash":          doc.CommitHash,
		"content":              doc.Content,
		"parent_id":            doc.ParentID,
		"children_ids":         string(children),
		"metadata":             string(meta),
		"module_path":          doc.ModulePath,
		"file_path":            doc.FilePath,
		"symbol_name":          doc.SymbolName,
		"symbol_type":          doc.SymbolType,
		"criticality_score":    criticality,
		"enrichment_level":     string(doc.Quality.EnrichmentLevel),
		"llm_available":        doc.Quality.LLMAvailable,
		"summary_source":       doc.Quality.SummarySource,
		"protect_from_update":  doc.Quality.ProtectFromUpdate,
		"schema_version":       doc.Version.SchemaVersion,
		"pipeline_version":     doc.Version.PipelineVersion,
		"created_at":           doc.Version.CreatedAt.UTC().Format(time.RFC3339Nano),
		"embedding":            embedding,
	}

	script := `
?[document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
  metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
  enrichment_level, llm_available, summary_source, protect_from_update,
  schema_version, pipeline_version, created_at, embedding] <- [[
    $document_id, $doc_type, $repo_id, $commit_hash, $content, $parent_id, $children_ids,
    $metadata, $module_path, $file_path, $symbol_name, $symbol_type, $criticality_score,
    $enrichment_level, $llm_available, $summary_source, $protect_from_update,
    $schema_version, $pipeline_version, $created_at, $embedding
]]
:put documents {
	document_id =>
	doc_type, repo_id, commit_hash, content, parent_id, children_ids,
	metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
	enrichment_level, llm_available, summary_source, protect_from_update,
	schema_version, pipeline_version, created_at, embedding
}`
	if _, err := b.db.Run(script, params); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.DocumentID, err)
	}
	return nil
}

// Get implements Backend.
func (b *EmbeddedBackend) Get(ctx context.Context, documentID string) (*ingestion.Document, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("storage: backend is closed")
	}

	script := `
?[document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
  metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
  enrichment_level, llm_available, summary_source, protect_from_update,
  schema_version, pipeline_version, created_at] :=
    *documents{document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
               metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
               enrichment_level, llm_available, summary_source, protect_from_update,
               schema_version, pipeline_version, created_at},
    document_id == $document_id`
	res, err := b.db.RunReadOnly(script, map[string]any{"document_id": documentID})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", documentID, err)
	}
	if len(res.Rows) == 0 {
		return nil, ingestion.ErrNotFound
	}
	return rowToDocument(res.Headers, res.Rows[0])
}

// DeleteByQuery implements Backend.
func (b *EmbeddedBackend) DeleteByQuery(ctx context.Context, docType ingestion.DocumentType, repoID, pathPrefix string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fmt.Errorf("storage: backend is closed")
	}

	find := `
?[document_id, file_path, module_path] :=
    *documents{document_id, doc_type, repo_id, file_path, module_path},
    doc_type == $doc_type, repo_id == $repo_id`
	res, err := b.db.Run(find, map[string]any{"doc_type": string(docType), "repo_id": repoID})
	if err != nil {
		return 0, fmt.Errorf("delete_by_query scan: %w", err)
	}

	n := 0
	for _, row := range res.Rows {
		id, _ := row[0].(string)
		path, _ := row[1].(string)
		if docType == ingestion.TypeModuleSummary {
			path, _ = row[2].(string)
		}
		if pathPrefix != "" && !hasPrefix(path, pathPrefix) {
			continue
		}
		del := `
?[document_id] <- [[$document_id]]
:rm documents {document_id}`
		if _, err := b.db.Run(del, map[string]any{"document_id": id}); err != nil {
			return n, fmt.Errorf("delete_by_query rm %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// CountBy implements Backend.
func (b *EmbeddedBackend) CountBy(ctx context.Context, docType ingestion.DocumentType, repoID string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, fmt.Errorf("storage: backend is closed")
	}

	script := `
?[count(document_id)] :=
    *documents{document_id, doc_type, repo_id},
    doc_type == $doc_type, repo_id == $repo_id`
	res, err := b.db.RunReadOnly(script, map[string]any{"doc_type": string(docType), "repo_id": repoID})
	if err != nil {
		return 0, fmt.Errorf("count_by: %w", err)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	switch v := res.Rows[0][0].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("count_by: unexpected count type %T", v)
	}
}

// ListByType implements Backend.
func (b *EmbeddedBackend) ListByType(ctx context.Context, docType ingestion.DocumentType, repoID string) ([]*ingestion.Document, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("storage: backend is closed")
	}

	script := `
?[document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
  metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
  enrichment_level, llm_available, summary_source, protect_from_update,
  schema_version, pipeline_version, created_at] :=
    *documents{document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
               metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
               enrichment_level, llm_available, summary_source, protect_from_update,
               schema_version, pipeline_version, created_at},
    doc_type == $doc_type, repo_id == $repo_id`
	res, err := b.db.RunReadOnly(script, map[string]any{"doc_type": string(docType), "repo_id": repoID})
	if err != nil {
		return nil, fmt.Errorf("list_by_type: %w", err)
	}

	docs := make([]*ingestion.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		doc, err := rowToDocument(res.Headers, row)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ListRepoIDs implements Backend.
func (b *EmbeddedBackend) ListRepoIDs(ctx context.Context, docType ingestion.DocumentType) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("storage: backend is closed")
	}

	script := `
?[repo_id] :=
    *documents{doc_type, repo_id},
    doc_type == $doc_type`
	res, err := b.db.RunReadOnly(script, map[string]any{"doc_type": string(docType)})
	if err != nil {
		return nil, fmt.Errorf("list_repo_ids: %w", err)
	}

	seen := make(map[string]struct{}, len(res.Rows))
	ids := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		id, ok := row[0].(string)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search implements Backend.
func (b *EmbeddedBackend) Search(ctx context.Context, repoID string, embedding []float32, topK int) ([]*ingestion.Document, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("storage: backend is closed")
	}

	var script string
	params := map[string]any{"query_vec": embedding, "k": topK}
	if repoID == "" {
		script = `
?[document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
  metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
  enrichment_level, llm_available, summary_source, protect_from_update,
  schema_version, pipeline_version, created_at] :=
    ~documents:semantic_idx{document_id, doc_type, repo_id, commit_hash, content, parent_id,
        children_ids, metadata, module_path, file_path, symbol_name, symbol_type,
        criticality_score, enrichment_level, llm_available, summary_source,
        protect_from_update, schema_version, pipeline_version, created_at |
        query: $query_vec, k: $k, ef: 50}`
	} else {
		params["repo_id"] = repoID
		script = `
?[document_id, doc_type, repo_id, commit_hash, content, parent_id, children_ids,
  metadata, module_path, file_path, symbol_name, symbol_type, criticality_score,
  enrichment_level, llm_available, summary_source, protect_from_update,
  schema_version, pipeline_version, created_at] :=
    ~documents:semantic_idx{document_id, doc_type, repo_id, commit_hash, content, parent_id,
        children_ids, metadata, module_path, file_path, symbol_name, symbol_type,
        criticality_score, enrichment_level, llm_available, summary_source,
        protect_from_update, schema_version, pipeline_version, created_at |
        query: $query_vec, k: $k, ef: 50},
    repo_id == $repo_id`
	}

	res, err := b.db.RunReadOnly(script, params)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	docs := make([]*ingestion.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		doc, err := rowToDocument(res.Headers, row)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Close implements Backend.
func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func rowToDocument(headers []string, row []any) (*ingestion.Document, error) {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[h] = i
	}
	str := func(name string) string {
		if i, ok := idx[name]; ok {
			if v, ok := row[i].(string); ok {
				return v
			}
		}
		return ""
	}
	b := func(name string) bool {
		if i, ok := idx[name]; ok {
			if v, ok := row[i].(bool); ok {
				return v
			}
		}
		return false
	}

	var children []string
	_ = json.Unmarshal([]byte(str("children_ids")), &children)
	var meta map[string]any
	_ = json.Unmarshal([]byte(str("metadata")), &meta)

	createdAt, _ := time.Parse(time.RFC3339Nano, str("created_at"))

	var criticality *float64
	if i, ok := idx["criticality_score"]; ok {
		if v, ok := row[i].(float64); ok && v != 0 {
			criticality = &v
		}
	}

	schemaVersion := ingestion.SchemaVersion
	if i, ok := idx["schema_version"]; ok {
		if v, ok := row[i].(float64); ok {
			schemaVersion = int(v)
		}
	}

	return &ingestion.Document{
		DocumentID:  str("document_id"),
		Type:        ingestion.DocumentType(str("doc_type")),
		RepoID:      str("repo_id"),
		CommitHash:  str("commit_hash"),
		Content:     str("content"),
		ParentID:    str("parent_id"),
		ChildrenIDs: children,
		Metadata:    meta,
		ModulePath:  str("module_path"),
		FilePath:    str("file_path"),
		SymbolName:  str("symbol_name"),
		SymbolType:  str("symbol_type"),
		CriticalityScore: criticality,
		Quality: ingestion.Quality{
			EnrichmentLevel:   ingestion.EnrichmentLevel(str("enrichment_level")),
			LLMAvailable:      b("llm_available"),
			SummarySource:     str("summary_source"),
			ProtectFromUpdate: b("protect_from_update"),
		},
		Version: ingestion.Version{
			SchemaVersion:   schemaVersion,
			PipelineVersion: str("pipeline_version"),
			CreatedAt:       createdAt,
		},
	}, nil
}
