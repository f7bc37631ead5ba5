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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumScores(scores map[string]float64) float64 {
	var total float64
	for _, s := range scores {
		total += s
	}
	return total
}

func TestPageRank_EmptyGraph(t *testing.T) {
	assert.Nil(t, PageRank(NewImportGraph()))
}

func TestPageRank_ScoresSumToOne(t *testing.T) {
	g := NewImportGraph()
	g.AddImport("a", "b")
	g.AddImport("b", "c")
	g.AddImport("c", "a")
	g.AddImport("a", "c")

	scores := PageRank(g)

	require.Len(t, scores, 3)
	assert.InDelta(t, 1.0, sumScores(scores), 1e-6)
}

func TestPageRank_HubRanksHighest(t *testing.T) {
	// b and c both import a; a imports nothing. a should end up with the
	// highest score since both incoming edges concentrate rank there.
	g := NewImportGraph()
	g.AddImport("b", "a")
	g.AddImport("c", "a")
	g.AddModule("a")

	scores := PageRank(g)

	assert.Greater(t, scores["a"], scores["b"])
	assert.Greater(t, scores["a"], scores["c"])
}

func TestPageRank_DanglingNodeRedistributes(t *testing.T) {
	// "leaf" has no outgoing edges; its rank must still be redistributed
	// rather than lost, so the total stays normalized.
	g := NewImportGraph()
	g.AddImport("root", "leaf")
	g.AddModule("leaf")

	scores := PageRank(g)

	assert.InDelta(t, 1.0, sumScores(scores), 1e-6)
	assert.False(t, math.IsNaN(scores["leaf"]))
}

func TestPageRank_IsolatedNodesGetEqualShare(t *testing.T) {
	g := NewImportGraph()
	g.AddModule("a")
	g.AddModule("b")

	scores := PageRank(g)

	assert.InDelta(t, scores["a"], scores["b"], 1e-9)
}

func TestGoImportResolver(t *testing.T) {
	resolve := GoImportResolver("github.com/kraklabs/cie-ingest")

	assert.Equal(t, "pkg/ingestion", resolve("github.com/kraklabs/cie-ingest/pkg/ingestion"))
	assert.Equal(t, ".", resolve("github.com/kraklabs/cie-ingest"))
	assert.Equal(t, "", resolve("github.com/other/project"))
}

func TestPythonImportResolver(t *testing.T) {
	known := map[string]struct{}{"pkg/util": {}}
	resolve := PythonImportResolver(known)

	assert.Equal(t, "pkg/util", resolve("pkg.util"))
	assert.Equal(t, "", resolve("external.package"))
}

func TestBuildImportGraph(t *testing.T) {
	fileModules := map[string]string{
		"pkg/a/a.go": "pkg/a",
		"pkg/b/b.go": "pkg/b",
	}
	fileImports := map[string][]string{
		"pkg/a/a.go": {"github.com/kraklabs/cie-ingest/pkg/b", "fmt"},
	}

	g := BuildImportGraph(fileModules, fileImports, GoImportResolver("github.com/kraklabs/cie-ingest"))
	scores := PageRank(g)

	require.Contains(t, scores, "pkg/a")
	require.Contains(t, scores, "pkg/b")
	assert.Greater(t, scores["pkg/b"], scores["pkg/a"])
}
