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
	"path"
	"sort"
	"strings"
)

// Aggregator implements C9: leaves-first regeneration of module_summary and
// repo_summary documents over the surviving file_index documents of a repo.
type Aggregator struct {
	enricher     *Enricher
	embeddingGen *EmbeddingGenerator
	backend      Backend
}

// NewAggregator wires the components the aggregator needs.
func NewAggregator(enricher *Enricher, embeddingGen *EmbeddingGenerator, backend Backend) *Aggregator {
	return &Aggregator{enricher: enricher, embeddingGen: embeddingGen, backend: backend}
}

// dirNode is one directory in the tree built over a repo's file_index docs.
type dirNode struct {
	path     string
	children map[string]*dirNode
	files    []*Document
}

func newDirNode(p string) *dirNode {
	return &dirNode{path: p, children: make(map[string]*dirNode)}
}

// Run regenerates every module_summary and the repo_summary for repoID at
// commit, after all file processors for the repo have completed (§4.9).
func (a *Aggregator) Run(ctx context.Context, repoID, commit string) (*Document, error) {
	files, err := a.backend.ListByType(ctx, TypeFileIndex, repoID)
	if err != nil {
		return nil, fmt.Errorf("aggregator: list file_index: %w", err)
	}

	priorModules, err := a.backend.ListByType(ctx, TypeModuleSummary, repoID)
	if err != nil {
		return nil, fmt.Errorf("aggregator: list module_summary: %w", err)
	}
	priorByPath := make(map[string]*Document, len(priorModules))
	for _, m := range priorModules {
		priorByPath[m.ModulePath] = m
	}

	root := buildDirTree(files)

	modules := make(map[string]*Document)
	if err := a.summarizeDir(ctx, repoID, commit, root, priorByPath, modules); err != nil {
		return nil, err
	}

	for _, m := range modules {
		if err := upsertWithRetry(ctx, a.backend, m); err != nil {
			return nil, fmt.Errorf("aggregator: persist module_summary %s: %w", m.ModulePath, err)
		}
	}

	repoDoc, err := a.buildRepoSummary(ctx, repoID, commit, files, root, modules)
	if err != nil {
		return nil, err
	}
	if err := upsertWithRetry(ctx, a.backend, repoDoc); err != nil {
		return nil, fmt.Errorf("aggregator: persist repo_summary: %w", err)
	}
	return repoDoc, nil
}

func buildDirTree(files []*Document) *dirNode {
	root := newDirNode(".")
	for _, f := range files {
		dir := path.Dir(f.FilePath)
		if dir == "." || dir == "" {
			root.files = append(root.files, f)
			continue
		}
		node := root
		var built strings.Builder
		for _, part := range strings.Split(dir, "/") {
			if built.Len() > 0 {
				built.WriteByte('/')
			}
			built.WriteString(part)
			p := built.String()
			child, ok := node.children[part]
			if !ok {
				child = newDirNode(p)
				node.children[part] = child
			}
			node = child
		}
		node.files = append(node.files, f)
	}
	return root
}

// summarizeDir walks the tree leaves-first, producing a module_summary for
// every non-root directory and recording it (by module path) into modules.
func (a *Aggregator) summarizeDir(ctx context.Context, repoID, commit string, node *dirNode, prior map[string]*Document, modules map[string]*Document) error {
	childNames := sortedKeys(node.children)
	var childIDs []string
	var summaryLines []string

	for _, name := range childNames {
		child := node.children[name]
		if err := a.summarizeDir(ctx, repoID, commit, child, prior, modules); err != nil {
			return err
		}
		childDoc := modules[child.path]
		if childDoc == nil {
			continue
		}
		childIDs = append(childIDs, childDoc.DocumentID)
		summaryLines = append(summaryLines, fmt.Sprintf("%s: %s", path.Base(child.path), childDoc.Content))
	}

	for _, f := range sortedByPath(node.files) {
		childIDs = append(childIDs, f.DocumentID)
		summaryLines = append(summaryLines, fmt.Sprintf("%s: %s", path.Base(f.FilePath), f.Content))
	}

	if node.path == "." {
		return nil
	}
	if len(childIDs) == 0 {
		return nil
	}

	doc, err := a.buildModuleSummary(ctx, repoID, commit, node.path, childIDs, summaryLines, prior[node.path])
	if err != nil {
		return err
	}
	modules[node.path] = doc
	return nil
}

func (a *Aggregator) buildModuleSummary(ctx context.Context, repoID, commit, modulePath string, childIDs []string, summaryLines []string, priorDoc *Document) (*Document, error) {
	sort.Strings(childIDs)
	docID := GenerateDocumentID(TypeModuleSummary, repoID, modulePath, commit)

	// Short-circuit: bit-identical child-ID set and a present LLM summary
	// means nothing downstream of this directory changed (§4.9 step 4).
	if priorDoc != nil && priorDoc.Quality.EnrichmentLevel == EnrichmentLLMSummary && sameIDSet(priorDoc.ChildrenIDs, childIDs) {
		recordModuleReused()
		reused := *priorDoc
		reused.DocumentID = docID
		reused.CommitHash = commit
		reused.Version.CreatedAt = timeNow()
		return &reused, nil
	}

	keyFiles := make([]string, 0, len(summaryLines))
	for _, line := range summaryLines {
		if i := strings.Index(line, ":"); i >= 0 {
			keyFiles = append(keyFiles, line[:i])
		}
	}

	summary, tokens, level := a.enricher.Summarize(ctx, strings.Join(summaryLines, "\n"), SummaryContext{Kind: EnrichModule, KeyFiles: keyFiles})

	doc := &Document{
		DocumentID:  docID,
		Type:        TypeModuleSummary,
		RepoID:      repoID,
		CommitHash:  commit,
		Content:     summary,
		ChildrenIDs: childIDs,
		ModulePath:  modulePath,
		Quality:     Quality{EnrichmentLevel: level, LLMAvailable: level == EnrichmentLLMSummary},
		Version:     Version{SchemaVersion: SchemaVersion, PipelineVersion: PipelineVersion, CreatedAt: timeNow()},
		Metadata:    map[string]any{"tokens_used": tokens},
	}
	if _, err := a.embeddingGen.EmbedDocuments(ctx, []*Document{doc}); err != nil {
		return nil, fmt.Errorf("aggregator: embed module_summary %s: %w", modulePath, err)
	}
	recordModuleSummarized()
	return doc, nil
}

func (a *Aggregator) buildRepoSummary(ctx context.Context, repoID, commit string, files []*Document, root *dirNode, modules map[string]*Document) (*Document, error) {
	topDirs := sortedKeys(root.children)

	var lines []string
	var childIDs []string
	for _, name := range topDirs {
		child := root.children[name]
		if m, ok := modules[child.path]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", name, m.Content))
			childIDs = append(childIDs, m.DocumentID)
		}
	}
	for _, f := range sortedByPath(root.files) {
		lines = append(lines, fmt.Sprintf("%s: %s", f.FilePath, f.Content))
		childIDs = append(childIDs, f.DocumentID)
	}

	langHistogram := make(map[string]int)
	for _, f := range files {
		if lang, ok := f.Metadata["language"].(string); ok && lang != "" {
			langHistogram[lang]++
		}
	}

	summary, tokens, level := a.enricher.Summarize(ctx, strings.Join(lines, "\n"), SummaryContext{
		Kind:              EnrichRepo,
		LanguageHistogram: langHistogram,
		TopLevelDirs:      topDirs,
	})

	sort.Strings(childIDs)
	doc := &Document{
		DocumentID:  GenerateDocumentID(TypeRepoSummary, repoID, ".", commit),
		Type:        TypeRepoSummary,
		RepoID:      repoID,
		CommitHash:  commit,
		Content:     summary,
		ChildrenIDs: childIDs,
		Quality:     Quality{EnrichmentLevel: level, LLMAvailable: level == EnrichmentLLMSummary},
		Version:     Version{SchemaVersion: SchemaVersion, PipelineVersion: PipelineVersion, CreatedAt: timeNow()},
		Metadata: map[string]any{
			"tech_stack": sortedKeysOfIntMap(langHistogram),
			"modules":    topDirs,
			"tokens_used": tokens,
		},
	}
	if _, err := a.embeddingGen.EmbedDocuments(ctx, []*Document{doc}); err != nil {
		return nil, fmt.Errorf("aggregator: embed repo_summary: %w", err)
	}
	return doc, nil
}

func sortedKeys(m map[string]*dirNode) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysOfIntMap(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedByPath(docs []*Document) []*Document {
	sorted := append([]*Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FilePath < sorted[j].FilePath })
	return sorted
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}
