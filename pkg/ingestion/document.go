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

import "time"

// DocumentType identifies one of the four hierarchy levels plus the two
// auxiliary record types (document chunks and the audit log).
type DocumentType string

const (
	TypeRepoSummary   DocumentType = "repo_summary"
	TypeModuleSummary DocumentType = "module_summary"
	TypeFileIndex     DocumentType = "file_index"
	TypeSymbolIndex   DocumentType = "symbol_index"
	TypeDocument      DocumentType = "document"
	TypeIngestionLog  DocumentType = "ingestion_log"
)

// EnrichmentLevel tags the strongest source that produced a document's summary.
type EnrichmentLevel string

const (
	EnrichmentNone       EnrichmentLevel = "none"
	EnrichmentBasic      EnrichmentLevel = "basic"
	EnrichmentLLMSummary EnrichmentLevel = "llm_summary"
	EnrichmentLLMFull    EnrichmentLevel = "llm_full"
)

// SchemaVersion and PipelineVersion are stamped into every document's Version bag.
const (
	SchemaVersion   = 1
	PipelineVersion = "cie-ingest/1"
)

// Quality carries provenance information about how a document's content was produced.
type Quality struct {
	EnrichmentLevel    EnrichmentLevel `json:"enrichment_level"`
	LLMAvailable       bool            `json:"llm_available"`
	SummarySource      string          `json:"summary_source,omitempty"`
	ProtectFromUpdate  bool            `json:"protect_from_update,omitempty"`
}

// Version carries schema and pipeline provenance.
type Version struct {
	SchemaVersion   int       `json:"schema_version"`
	PipelineVersion string    `json:"pipeline_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// Document is the single persisted entity shape for all six document types.
// Parent/children links are stored by document_id, never as in-memory pointers
// (see DESIGN.md for why the aggregator never builds a reference graph).
type Document struct {
	DocumentID  string         `json:"document_id"`
	Type        DocumentType   `json:"type"`
	RepoID      string         `json:"repo_id"`
	CommitHash  string         `json:"commit_hash"`
	Content     string         `json:"content"`
	Embedding   []float32      `json:"embedding,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	ChildrenIDs []string       `json:"children_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Quality     Quality        `json:"quality"`
	Version     Version        `json:"version"`

	// Type-specific convenience fields, mirrored into Metadata at persistence
	// time so the wire form stays a single flat metadata bag (§6.4).
	ModulePath       string `json:"module_path,omitempty"`
	FilePath         string `json:"file_path,omitempty"`
	SymbolName       string `json:"symbol_name,omitempty"`
	SymbolType       string `json:"symbol_type,omitempty"`
	CriticalityScore *float64 `json:"criticality_score,omitempty"`
}

// SymbolKind enumerates the parser-recognized symbol kinds plus the
// LLM-chunker's embedded-content kinds (§4.5).
type SymbolKind string

const (
	KindFunction      SymbolKind = "function"
	KindClass         SymbolKind = "class"
	KindMethod        SymbolKind = "method"
	KindEmbeddedSQL   SymbolKind = "embedded:sql"
	KindEmbeddedHTML  SymbolKind = "embedded:html"
	KindEmbeddedGQL   SymbolKind = "embedded:graphql"
	KindEmbeddedShell SymbolKind = "embedded:shell"
)

// ParsedSymbol is a single symbol produced by a CodeParser: a named, ranged
// code construct, possibly containing nested method symbols. The parser
// never flattens — a class's methods live under Methods, in source order.
type ParsedSymbol struct {
	Name      string         `json:"name"`
	Kind      SymbolKind     `json:"kind"`
	StartLine int            `json:"start_line"`
	EndLine   int            `json:"end_line"`
	Docstring string         `json:"docstring,omitempty"`
	Methods   []ParsedSymbol `json:"methods,omitempty"`

	// Signature is the raw "func ... (...) ..." text preceding the body,
	// populated by parsers that can isolate it (currently Go) so sigparse
	// can recover parameter names/types without re-parsing the AST.
	Signature string `json:"signature,omitempty"`

	// Tags and Confidence are only set for LLM-chunked entries (§4.5);
	// the structural parser leaves them zero.
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Significant reports whether the symbol meets the SYMBOL_MIN_LINES threshold
// for getting its own symbol_index document (§3.2).
func (s ParsedSymbol) Significant(minLines int) bool {
	return s.EndLine-s.StartLine+1 >= minLines
}

// ParseResult is the output of CodeParser.ParseFile: an ordered, nested list
// of symbols plus any structural warnings (e.g. an unnamed symbol skipped).
type ParseResult struct {
	Symbols  []ParsedSymbol
	Imports  []string
	Warnings int
}
