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

// Package ingestion provides the code indexing pipeline for cie-ingest.
//
// The ingestion package parses source code, summarizes and embeds it at
// four hierarchy levels (symbol, file, module, repo), and stores the result
// as a single generic Document in the configured backend.
//
// # Pipeline Overview
//
// A run proceeds through the following components, in order:
//
//  1. RunLock: a flock-based single-writer guard over the whole repo set.
//  2. Reconcile: diffs the desired repo list against what's on disk and
//     what's indexed, producing a per-repo plan (clone, process, delete, skip).
//  3. DeltaDetector / DecideStrategy: per repo, compares the stored and
//     current HEAD commits and picks skip, full_reingest, or a surgical
//     update over only the changed files.
//  4. FileProcessor: per changed file, materializes its content at the
//     target commit via `git show`, parses it with a CodeParser, optionally
//     runs an LLM chunking pass over under-chunked files, then summarizes
//     and embeds each significant symbol and the file as a whole.
//  5. Aggregator: walks the surviving file_index documents leaves-first,
//     regenerating module_summary and repo_summary documents bottom-up.
//
// # Supported Languages
//
// The following languages are parsed via Tree-sitter:
//   - Go (.go)
//   - Python (.py)
//   - TypeScript (.ts, .tsx)
//   - JavaScript (.js, .jsx)
//
// Protocol Buffers (.proto) are also supported.
//
// Each parser produces a nested ParsedSymbol tree: classes and Go receiver
// types carry their methods under ParsedSymbol.Methods rather than as a
// flat list.
//
// # Quick Start
//
//	cfg := ingestion.DefaultConfig()
//	cfg.ReposPath = "/var/lib/cie-ingest/repos"
//	cfg.DocStoreHost = "/var/lib/cie-ingest/data"
//	cfg.DocStoreBucket = "default"
//
//	backend, err := bootstrap.OpenBackend(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// # Key Components
//
// FileProcessor implements the per-file pipeline (materialize, parse,
// chunk, summarize, embed, persist):
//
//	fp := ingestion.NewFileProcessor(parser, chunker, enricher, embeddingGen, backend, cfg.SymbolMinLines, cfg.ParseWorkers, logger)
//	result := fp.Process(ctx, materializer, repoID, commitHash, fileInfo)
//
// Enricher produces LLM summaries with a deterministic fallback when the
// provider is unreachable or keeps replying out of schema:
//
//	enricher := ingestion.NewEnricher(provider, logger)
//	summary, tokens, level := enricher.Summarize(ctx, text, ingestion.SummaryContext{Kind: ingestion.EnrichFile})
//
// EmbeddingGenerator produces normalized vector embeddings concurrently,
// supporting OpenAI, Nomic, Ollama, LlamaCpp, and Mock providers:
//
//	embeddingGen := ingestion.NewEmbeddingGenerator(provider, concurrency, logger)
//	result, err := embeddingGen.EmbedDocuments(ctx, docs)
//
// RepoLoader loads code from git repositories or local paths and enumerates
// tracked files for the initial discovery pass:
//
//	repoLoader := ingestion.NewRepoLoader(logger)
//	result, err := repoLoader.LoadRepository(repoSource, excludeGlobs, maxFileSizeBytes)
//	defer repoLoader.Close()
//
// Materializer reads exact file content at a given commit via `git show`,
// independent of whatever is currently checked out in the working tree:
//
//	mat, err := ingestion.NewMaterializer(repoPath)
//	defer mat.Close()
//	fileInfo, content, err := mat.MaterializeToFile(commitHash, path, language)
//
// # Configuration
//
// The pipeline is configured through Config, loaded from an optional YAML
// file with environment variables taking precedence (§6.1 of the design
// notes):
//
//	cfg, err := ingestion.LoadConfig("/etc/cie-ingest/config.yaml")
//
// Use DefaultConfig() for sensible defaults.
//
// # Incremental updates
//
// Re-running the pipeline against an unchanged commit is a no-op for that
// repo (DecideStrategy returns skip). A changed commit below the full
// reingest threshold only reprocesses the files named in PlanFileOps; above
// the threshold, every tracked file is reprocessed. Every document ID is
// content-addressed (GenerateDocumentID), so re-processing a file is always
// idempotent rather than requiring a separate checkpoint file.
//
// # Metrics
//
// Prometheus counters and histograms covering delta detection, parsing,
// embedding, and write durations are exported for monitoring production
// runs; see metrics.go.
package ingestion
