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
	"path/filepath"
	"sort"
	"strings"
)

const (
	pageRankDamping       = 0.85
	pageRankConvergence   = 1e-6
	pageRankMaxIterations = 100
)

// ImportGraph is the directed module-import graph PageRank runs over: nodes
// are module paths (directories, not files), edges point from an importing
// module to each module it imports (§4.12).
type ImportGraph struct {
	nodes map[string]struct{}
	edges map[string][]string
}

// NewImportGraph returns an empty graph.
func NewImportGraph() *ImportGraph {
	return &ImportGraph{
		nodes: make(map[string]struct{}),
		edges: make(map[string][]string),
	}
}

// AddModule registers a module path as a node even if it has no edges yet,
// so modules with no imports and no importers still receive a score.
func (g *ImportGraph) AddModule(modulePath string) {
	g.nodes[modulePath] = struct{}{}
}

// AddImport records an edge from importer to imported, registering both as
// nodes. Self-imports and duplicate edges are ignored.
func (g *ImportGraph) AddImport(importer, imported string) {
	if importer == "" || imported == "" || importer == imported {
		return
	}
	g.nodes[importer] = struct{}{}
	g.nodes[imported] = struct{}{}
	for _, existing := range g.edges[importer] {
		if existing == imported {
			return
		}
	}
	g.edges[importer] = append(g.edges[importer], imported)
}

// BuildImportGraph constructs a module-level import graph from a set of
// parsed files' import statements. importPathToModule resolves an import
// string (e.g. a Go import path or a Python dotted module) to the local
// module path it corresponds to; imports that resolve to nothing (external
// dependencies) are dropped, since PageRank only runs over modules within
// the repo (§4.12).
func BuildImportGraph(fileModules map[string]string, fileImports map[string][]string, importPathToModule func(string) string) *ImportGraph {
	g := NewImportGraph()
	for path, module := range fileModules {
		g.AddModule(module)
		for _, imp := range fileImports[path] {
			target := importPathToModule(imp)
			if target == "" {
				continue
			}
			g.AddImport(module, target)
		}
	}
	return g
}

// GoImportResolver returns an importPathToModule function for Go-style
// import paths: an import resolves to a local module when its path has
// modulePrefix ("github.com/org/repo") as a prefix, mapping the remainder
// onto a local directory path.
func GoImportResolver(modulePrefix string) func(string) string {
	modulePrefix = strings.TrimSuffix(modulePrefix, "/")
	return func(importPath string) string {
		if importPath == modulePrefix {
			return "."
		}
		prefix := modulePrefix + "/"
		if !strings.HasPrefix(importPath, prefix) {
			return ""
		}
		return strings.TrimPrefix(importPath, prefix)
	}
}

// PythonImportResolver maps a dotted Python module path onto a local
// directory path by replacing "." with the OS path separator, provided the
// resulting directory is one of the known local modules.
func PythonImportResolver(knownModules map[string]struct{}) func(string) string {
	return func(importPath string) string {
		candidate := filepath.FromSlash(strings.ReplaceAll(importPath, ".", "/"))
		if _, ok := knownModules[candidate]; ok {
			return candidate
		}
		return ""
	}
}

// PageRank computes the criticality score of every node in g using the
// standard damped power-iteration algorithm (damping 0.85), stopping when
// the L1 change between iterations falls below 10⁻⁶ or after 100
// iterations, whichever comes first (§4.12). Dangling nodes (no outgoing
// edges) redistribute their rank uniformly across all nodes, the
// conventional fix for an otherwise-leaking random walk. Returns nil for an
// empty graph.
func PageRank(g *ImportGraph) map[string]float64 {
	n := len(g.nodes)
	if n == 0 {
		return nil
	}

	order := make([]string, 0, n)
	for node := range g.nodes {
		order = append(order, node)
	}
	sort.Strings(order)

	index := make(map[string]int, n)
	for i, node := range order {
		index[node] = i
	}

	inbound := make([][]int, n)
	outDegree := make([]int, n)
	for _, from := range order {
		fi := index[from]
		for _, to := range g.edges[from] {
			ti, ok := index[to]
			if !ok {
				continue
			}
			inbound[ti] = append(inbound[ti], fi)
			outDegree[fi]++
		}
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	base := (1 - pageRankDamping) / float64(n)

	for iter := 0; iter < pageRankMaxIterations; iter++ {
		var danglingSum float64
		for i, out := range outDegree {
			if out == 0 {
				danglingSum += rank[i]
			}
		}
		danglingShare := pageRankDamping * danglingSum / float64(n)

		next := make([]float64, n)
		for i := range next {
			var sum float64
			for _, from := range inbound[i] {
				sum += rank[from] / float64(outDegree[from])
			}
			next[i] = base + danglingShare + pageRankDamping*sum
		}

		delta := 0.0
		for i := range next {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank = next
		if delta < pageRankConvergence {
			break
		}
	}

	scores := make(map[string]float64, n)
	for i, node := range order {
		scores[node] = rank[i]
	}
	return scores
}
