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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmbeddings_RenormalizesOutOfBand(t *testing.T) {
	backend := newMemBackend()
	ctx := context.Background()

	unit := &Document{DocumentID: "d1", Type: TypeFileIndex, RepoID: "acme/hello", Embedding: []float32{1, 0, 0}}
	offBand := &Document{DocumentID: "d2", Type: TypeFileIndex, RepoID: "acme/hello", Embedding: []float32{3, 4, 0}} // norm 5
	require.NoError(t, backend.Upsert(ctx, unit))
	require.NoError(t, backend.Upsert(ctx, offBand))

	result, err := NormalizeEmbeddings(ctx, backend, []string{"acme/hello"}, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.Scanned)
	require.Equal(t, 1, result.Renormalized)
	require.Empty(t, result.Errors)

	got, err := backend.Get(ctx, "d2")
	require.NoError(t, err)
	require.InDelta(t, 1.0, vectorNorm(got.Embedding), 1e-6)

	// Already-unit embedding is left byte-identical.
	stillUnit, err := backend.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0}, stillUnit.Embedding)
}

func TestNormalizeEmbeddings_DryRunWritesNothing(t *testing.T) {
	backend := newMemBackend()
	ctx := context.Background()

	offBand := &Document{DocumentID: "d1", Type: TypeFileIndex, RepoID: "acme/hello", Embedding: []float32{3, 4, 0}}
	require.NoError(t, backend.Upsert(ctx, offBand))

	result, err := NormalizeEmbeddings(ctx, backend, []string{"acme/hello"}, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Renormalized)

	unchanged, err := backend.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []float32{3, 4, 0}, unchanged.Embedding)
}

func TestNormalizeEmbeddings_SkipsDocumentsWithNoEmbedding(t *testing.T) {
	backend := newMemBackend()
	ctx := context.Background()
	require.NoError(t, backend.Upsert(ctx, &Document{DocumentID: "d1", Type: TypeFileIndex, RepoID: "acme/hello"}))

	result, err := NormalizeEmbeddings(ctx, backend, []string{"acme/hello"}, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.Scanned)
	require.Equal(t, 0, result.Renormalized)
}

func vectorNorm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}
