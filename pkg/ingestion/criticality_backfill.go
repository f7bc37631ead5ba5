// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
)

// BackfillCriticality implements the `backfill-criticality` command (§6.3):
// it recomputes C12's PageRank criticality score for every module_summary
// document across repoIDs and persists the updated score, independently of
// any ingest run. It returns the number of module_summary documents
// rewritten.
func BackfillCriticality(ctx context.Context, backend Backend, repoIDs []string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	total := 0
	for _, repoID := range repoIDs {
		n, err := backfillRepoCriticality(ctx, backend, repoID, logger)
		if err != nil {
			return total, fmt.Errorf("backfill criticality for %s: %w", repoID, err)
		}
		total += n
	}
	return total, nil
}

// backfillRepoCriticality builds one repo's module-level import graph from
// its persisted file_index documents (§4.12 reads the graph back from the
// store rather than re-parsing, since this command runs independently of a
// live ingest and file_processor.go already records each file's module_path
// and imports into file_index.metadata for exactly this purpose) and writes
// the resulting PageRank score onto each module_summary.
func backfillRepoCriticality(ctx context.Context, backend Backend, repoID string, logger *slog.Logger) (int, error) {
	files, err := backend.ListByType(ctx, TypeFileIndex, repoID)
	if err != nil {
		return 0, fmt.Errorf("list file_index: %w", err)
	}
	modules, err := backend.ListByType(ctx, TypeModuleSummary, repoID)
	if err != nil {
		return 0, fmt.Errorf("list module_summary: %w", err)
	}
	if len(files) == 0 || len(modules) == 0 {
		return 0, nil
	}

	fileModules := make(map[string]string, len(files))
	fileImports := make(map[string][]string, len(files))
	knownModules := make(map[string]struct{}, len(files))
	for _, f := range files {
		modDir, _ := f.Metadata["module_path"].(string)
		if modDir == "" {
			modDir = moduleDirOf(f.FilePath)
		}
		fileModules[f.FilePath] = modDir
		knownModules[modDir] = struct{}{}
		fileImports[f.FilePath] = decodeImports(f.Metadata["imports"])
	}

	// Only Go and Python import statements resolve to local modules (see
	// DESIGN.md: TypeScript/Protobuf resolvers are a known gap); other
	// languages' files still contribute nodes via BuildImportGraph's
	// fileModules pass, just no edges.
	resolveGo := GoImportResolver("github.com/" + repoID)
	resolvePy := PythonImportResolver(knownModules)
	resolve := func(importPath string) string {
		if m := resolveGo(importPath); m != "" {
			return m
		}
		return resolvePy(importPath)
	}

	graph := BuildImportGraph(fileModules, fileImports, resolve)
	scores := PageRank(graph)
	if scores == nil {
		return 0, nil
	}

	updated := 0
	for _, m := range modules {
		score, ok := scores[m.ModulePath]
		if !ok {
			continue
		}
		m.CriticalityScore = &score
		if err := upsertWithRetry(ctx, backend, m); err != nil {
			return updated, fmt.Errorf("persist criticality for %s: %w", m.ModulePath, err)
		}
		updated++
	}
	recordModulesScored(updated)
	logger.Info("criticality.backfill.repo", "repo_id", repoID, "modules_updated", updated)
	return updated, nil
}

// decodeImports recovers a []string from a file_index's metadata["imports"],
// which round-trips through JSON as []any once read back from the store.
func decodeImports(v any) []string {
	switch imports := v.(type) {
	case []string:
		return imports
	case []any:
		out := make([]string, 0, len(imports))
		for _, item := range imports {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
