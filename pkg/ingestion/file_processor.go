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
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// filePrefixLines and symbolPreviewChars bound the LLM/embedding context
// windows described in §4.8 steps 4-5.
const (
	filePrefixLines    = 200
	symbolPreviewChars = 800
)

// FileOutcome reports how a single file's processing ended, for the
// orchestrator's `[i/N] path (ok|skip|err, k symbols)` progress line (§6.3).
type FileOutcome string

const (
	FileOK  FileOutcome = "ok"
	FileErr FileOutcome = "err"
)

// FileResult is what FileProcessor.Process returns for one file.
type FileResult struct {
	Path        string
	Outcome     FileOutcome
	SymbolCount int
	Err         error

	// FileIndex is the produced file_index document, needed by the
	// aggregator's tree build (§4.9); nil when Outcome is FileErr.
	FileIndex *Document
}

// FileProcessor implements C8: the strictly-ordered per-file pipeline from
// materialization through persistence.
type FileProcessor struct {
	logger        *slog.Logger
	parser        CodeParser
	chunker       *Chunker
	enricher      *Enricher
	embeddingGen  *EmbeddingGenerator
	backend       Backend
	symbolMinLines int

	// parseSem bounds concurrent ParseFile calls to Config.ParseWorkers
	// (W_parse), independent of how many files the orchestrator runs
	// through the rest of the pipeline concurrently (W_file).
	parseSem chan struct{}
}

// NewFileProcessor wires the components a file processor needs. chunker may
// be nil to disable LLM chunking entirely (e.g. --dry-run with no provider).
// parseWorkers bounds concurrent calls into parser (tree-sitter parsing is
// CPU-bound and often not safe to run with unbounded concurrency); values
// <= 0 default to 4.
func NewFileProcessor(parser CodeParser, chunker *Chunker, enricher *Enricher, embeddingGen *EmbeddingGenerator, backend Backend, symbolMinLines, parseWorkers int, logger *slog.Logger) *FileProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if symbolMinLines <= 0 {
		symbolMinLines = 5
	}
	if parseWorkers <= 0 {
		parseWorkers = 4
	}
	return &FileProcessor{
		logger:         logger,
		parser:         parser,
		chunker:        chunker,
		enricher:       enricher,
		embeddingGen:   embeddingGen,
		backend:        backend,
		symbolMinLines: symbolMinLines,
		parseSem:       make(chan struct{}, parseWorkers),
	}
}

// Process runs the full per-file pipeline for one path at commit, persisting
// its symbol_index and file_index documents (§4.8). It never returns an
// error that should abort the repo: all failures are reported through
// FileResult so the orchestrator can keep processing the rest of the repo.
func (fp *FileProcessor) Process(ctx context.Context, mat *Materializer, repoID, commit string, file FileInfo) FileResult {
	// Step 1: materialize.
	fileInfo, content, err := mat.MaterializeToFile(commit, file.Path, file.Language)
	if err != nil {
		fp.logger.Warn("file.materialize.failed", "repo_id", repoID, "path", file.Path, "err", err)
		return FileResult{Path: file.Path, Outcome: FileErr, Err: err}
	}

	// Step 2: parse, bounded by W_parse.
	fp.parseSem <- struct{}{}
	parseStart := time.Now()
	parseResult, err := fp.parser.ParseFile(fileInfo)
	observeParse(time.Since(parseStart))
	<-fp.parseSem
	if err != nil {
		fp.logger.Warn("file.parse.failed", "repo_id", repoID, "path", file.Path, "err", err)
		return FileResult{Path: file.Path, Outcome: FileErr, Err: err}
	}

	// Step 3: under-chunk check, optional LLM chunking.
	symbols := parseResult.Symbols
	if fp.chunker != nil && NeedsLLMChunking(file.Path, content, parseResult) {
		chunked, err := fp.chunker.Chunk(ctx, file.Path, content)
		if err != nil {
			fp.logger.Warn("file.chunk.failed", "repo_id", repoID, "path", file.Path, "err", err)
		} else {
			symbols = MergeChunkedSymbols(symbols, chunked)
		}
	}

	// Step 4: symbol summaries for significant symbols.
	symbolDocs, symbolMetas, err := fp.processSymbols(ctx, repoID, commit, file.Path, content, symbols)
	if err != nil {
		return FileResult{Path: file.Path, Outcome: FileErr, Err: err}
	}

	// Step 5: file summary.
	fileDoc, err := fp.buildFileIndex(ctx, repoID, commit, file.Path, file.Language, content, symbolMetas, parseResult.Imports)
	if err != nil {
		return FileResult{Path: file.Path, Outcome: FileErr, Err: err}
	}

	// Step 6: purge this path's prior symbol_index children, then persist
	// the new symbol_index docs, then file_index (§3.2 ownership).
	writeStart := time.Now()
	err = fp.persist(ctx, repoID, file.Path, fileDoc, symbolDocs)
	observeWrite(time.Since(writeStart))
	if err != nil {
		return FileResult{Path: file.Path, Outcome: FileErr, Err: err}
	}

	return FileResult{Path: file.Path, Outcome: FileOK, SymbolCount: countSymbols(symbols), FileIndex: fileDoc}
}

// symbolMeta is the per-symbol entry recorded in a file_index's
// metadata.symbols[] (§4.8 step 5): every parsed symbol, tagged significant.
type symbolMeta struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	StartLine   int         `json:"start_line"`
	EndLine     int         `json:"end_line"`
	Significant bool        `json:"significant"`
	Summary     string      `json:"summary,omitempty"`
	Params      []ParamInfo `json:"params,omitempty"`
}

func (fp *FileProcessor) processSymbols(ctx context.Context, repoID, commit, path string, content []byte, symbols []ParsedSymbol) ([]*Document, []symbolMeta, error) {
	var docs []*Document
	var metas []symbolMeta

	var walk func(syms []ParsedSymbol)
	walk = func(syms []ParsedSymbol) {
		for _, sym := range syms {
			significant := sym.Significant(fp.symbolMinLines)
			meta := symbolMeta{Name: sym.Name, Kind: string(sym.Kind), StartLine: sym.StartLine, EndLine: sym.EndLine, Significant: significant}
			if params := ParseGoSignatureParams(sym.Signature); len(params) > 0 {
				meta.Params = params
			}

			if significant {
				code := extractLines(content, sym.StartLine, sym.EndLine)
				summary, tokens, level := fp.enricher.Summarize(ctx, code, SummaryContext{Kind: EnrichSymbol, ModuleDocFirst: firstSentence(sym.Docstring)})
				meta.Summary = summary

				preview := code
				if len(preview) > symbolPreviewChars {
					preview = preview[:symbolPreviewChars]
				}
				doc := &Document{
					Type:       TypeSymbolIndex,
					RepoID:     repoID,
					CommitHash: commit,
					Content:    summary + "\n\n" + preview,
					FilePath:   path,
					SymbolName: sym.Name,
					SymbolType: string(sym.Kind),
					Quality:    Quality{EnrichmentLevel: level, LLMAvailable: level == EnrichmentLLMSummary},
					Version:    Version{SchemaVersion: SchemaVersion, PipelineVersion: PipelineVersion, CreatedAt: timeNow()},
					Metadata:   map[string]any{"start_line": sym.StartLine, "end_line": sym.EndLine, "tokens_used": tokens},
				}
				doc.DocumentID = GenerateDocumentID(TypeSymbolIndex, repoID, SymbolScope(path, sym.Name, sym.StartLine), commit)
				docs = append(docs, doc)
			}

			metas = append(metas, meta)
			walk(sym.Methods)
		}
	}
	walk(symbols)

	if _, err := fp.embeddingGen.EmbedDocuments(ctx, docs); err != nil {
		return nil, nil, fmt.Errorf("embed symbols for %s: %w", path, err)
	}

	return docs, metas, nil
}

func (fp *FileProcessor) buildFileIndex(ctx context.Context, repoID, commit, path, language string, content []byte, symbolMetas []symbolMeta, imports []string) (*Document, error) {
	names := make([]string, 0, len(symbolMetas))
	var summaries strings.Builder
	for _, m := range symbolMetas {
		names = append(names, m.Name)
		if m.Summary != "" {
			fmt.Fprintf(&summaries, "%s: %s\n", m.Name, m.Summary)
		}
	}

	prefix := prefixLines(content, filePrefixLines)
	summary, tokens, level := fp.enricher.Summarize(ctx, summaries.String(), SummaryContext{Kind: EnrichFile, SymbolNames: names})

	doc := &Document{
		Type:       TypeFileIndex,
		RepoID:     repoID,
		CommitHash: commit,
		Content:    summary + "\n\n" + prefix,
		FilePath:   path,
		Quality:    Quality{EnrichmentLevel: level, LLMAvailable: level == EnrichmentLLMSummary},
		Version:    Version{SchemaVersion: SchemaVersion, PipelineVersion: PipelineVersion, CreatedAt: timeNow()},
		Metadata:   map[string]any{"symbols": symbolMetas, "tokens_used": tokens, "language": language, "imports": imports, "module_path": moduleDirOf(path)},
	}
	doc.DocumentID = GenerateDocumentID(TypeFileIndex, repoID, path, commit)

	if _, err := fp.embeddingGen.EmbedDocuments(ctx, []*Document{doc}); err != nil {
		return nil, fmt.Errorf("embed file_index for %s: %w", path, err)
	}
	return doc, nil
}

func (fp *FileProcessor) persist(ctx context.Context, repoID, path string, fileDoc *Document, symbolDocs []*Document) error {
	// Every file_index/symbol_index document_id is content-addressed on
	// (repoID, path, commit), so a new commit always produces a new id and
	// Upsert can never overwrite the row left by the prior commit. The
	// prior row for this path - of both types - is therefore purged
	// unconditionally before the new set is written (§3.2).
	if _, err := fp.backend.DeleteByQuery(ctx, TypeSymbolIndex, repoID, path); err != nil {
		return fmt.Errorf("purge stale symbol_index for %s: %w", path, err)
	}
	if _, err := fp.backend.DeleteByQuery(ctx, TypeFileIndex, repoID, path); err != nil {
		return fmt.Errorf("purge stale file_index for %s: %w", path, err)
	}

	for _, doc := range symbolDocs {
		if err := upsertWithRetry(ctx, fp.backend, doc); err != nil {
			return fmt.Errorf("persist symbol_index %s: %w", doc.DocumentID, err)
		}
	}
	if err := upsertWithRetry(ctx, fp.backend, fileDoc); err != nil {
		return fmt.Errorf("persist file_index %s: %w", fileDoc.DocumentID, err)
	}
	return nil
}

// upsertWithRetry implements §4.11's idempotent-retry contract: up to 3
// attempts on a transient storage error.
func upsertWithRetry(ctx context.Context, backend Backend, doc *Document) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(computeBackoffWithJitter(200*time.Millisecond, attempt-1, 2.0, 2*time.Second)):
			}
		}
		if err := backend.Upsert(ctx, doc); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func extractLines(content []byte, start, end int) string {
	lines := strings.Split(string(content), "\n")
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end || start > len(lines) {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func prefixLines(content []byte, n int) string {
	lines := strings.Split(string(content), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// moduleDirOf returns the directory a file belongs to, in the same "."
// (repo root) / slash-separated form buildDirTree and C12's import graph
// key on.
func moduleDirOf(filePath string) string {
	if i := strings.LastIndex(filePath, "/"); i >= 0 {
		return filePath[:i]
	}
	return "."
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}

// timeNow is a seam so tests can fix a value; production always wants the
// wall clock.
var timeNow = time.Now
