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
	"math"
)

// normEpsilon is the tolerance band around a unit L2 norm within which a
// stored embedding is left alone (`normalize-embeddings`, §6.3).
const normEpsilon = 1e-3

// embeddedDocTypes are the document types that carry an Embedding vector.
var embeddedDocTypes = []DocumentType{TypeRepoSummary, TypeModuleSummary, TypeFileIndex, TypeSymbolIndex}

// NormalizeResult reports what a NormalizeEmbeddings run did.
type NormalizeResult struct {
	Scanned      int      `json:"scanned"`
	Renormalized int      `json:"renormalized"`
	Errors       []string `json:"errors"`
}

// NormalizeEmbeddings re-normalizes every stored embedding across repoIDs
// (all repos with an indexed repo_summary, when repoIDs is nil) back to unit
// L2 norm. A document whose norm already falls within [1-1e-3, 1+1e-3] is
// left untouched so re-running is a no-op in the common case. dryRun scans
// and reports without writing.
func NormalizeEmbeddings(ctx context.Context, backend Backend, repoIDs []string, dryRun bool) (*NormalizeResult, error) {
	if repoIDs == nil {
		ids, err := backend.ListRepoIDs(ctx, TypeRepoSummary)
		if err != nil {
			return nil, fmt.Errorf("list repos: %w", err)
		}
		repoIDs = ids
	}

	result := &NormalizeResult{}
	for _, repoID := range repoIDs {
		for _, docType := range embeddedDocTypes {
			docs, err := backend.ListByType(ctx, docType, repoID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", repoID, docType, err))
				continue
			}
			for _, doc := range docs {
				if len(doc.Embedding) == 0 {
					continue
				}
				result.Scanned++
				if embeddingNormInBand(doc.Embedding) {
					continue
				}
				doc.Embedding = normalizeEmbedding(doc.Embedding)
				result.Renormalized++
				if dryRun {
					continue
				}
				if err := backend.Upsert(ctx, doc); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", doc.DocumentID, err))
				}
			}
		}
	}
	return result, nil
}

func embeddingNormInBand(embedding []float32) bool {
	var sumSq float64
	for _, v := range embedding {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	return norm >= 1-normEpsilon && norm <= 1+normEpsilon
}
