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
	"fmt"
	"os/exec"
	"time"
)

// ChangeStrategy is C3's decision for how to bring a repo up to date.
type ChangeStrategy string

const (
	StrategySkip            ChangeStrategy = "skip"
	StrategyFullReingest    ChangeStrategy = "full_reingest"
	StrategySurgicalUpdate  ChangeStrategy = "surgical_update"
)

// ChangePlan is the output of DecideStrategy: the chosen strategy plus the
// delta that produced it (nil for skip/full_reingest-by-unreachable-commit).
type ChangePlan struct {
	Strategy   ChangeStrategy
	StoredSHA  string
	CurrentSHA string
	Delta      *GitDelta
}

// DecideStrategy implements §4.3 steps 2-6: compare the stored commit
// against current HEAD and choose skip / full re-ingest / surgical update.
// threshold is θ (Config.FullReingestThreshold, default 0.05).
func DecideStrategy(dd *DeltaDetector, storedSHA string, totalTrackedFiles int, threshold float64) (*ChangePlan, error) {
	start := time.Now()
	defer func() { observeDelta(time.Since(start)) }()

	currentSHA, err := dd.GetHeadSHA()
	if err != nil {
		return nil, fmt.Errorf("resolve current HEAD: %w", err)
	}

	if storedSHA == currentSHA {
		return &ChangePlan{Strategy: StrategySkip, StoredSHA: storedSHA, CurrentSHA: currentSHA}, nil
	}

	if !commitReachable(dd.repoPath, storedSHA) {
		return &ChangePlan{Strategy: StrategyFullReingest, StoredSHA: storedSHA, CurrentSHA: currentSHA}, nil
	}

	delta, err := dd.DetectDelta(storedSHA, currentSHA)
	if err != nil {
		return nil, fmt.Errorf("detect delta %s..%s: %w", storedSHA, currentSHA, err)
	}

	if totalTrackedFiles > 0 {
		ratio := float64(len(delta.All)) / float64(totalTrackedFiles)
		if ratio > threshold {
			return &ChangePlan{Strategy: StrategyFullReingest, StoredSHA: storedSHA, CurrentSHA: currentSHA, Delta: delta}, nil
		}
	}

	return &ChangePlan{Strategy: StrategySurgicalUpdate, StoredSHA: storedSHA, CurrentSHA: currentSHA, Delta: delta}, nil
}

// commitReachable reports whether sha still resolves to an object in the
// repository (e.g. after a history rewrite the stored commit may be gone).
func commitReachable(repoPath, sha string) bool {
	if sha == "" {
		return false
	}
	cmd := exec.Command("git", "cat-file", "-e", sha+"^{commit}")
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// FileOp is a single surgical-update action derived from a GitDelta entry.
type FileOp struct {
	Path     string
	OldPath  string // set only for renames
	Change   FileChangeType
}

// PlanFileOps expands a GitDelta into the ordered per-file operations
// described in §4.3 step 6: adds/modifies reprocess, deletes remove
// documents, renames are a delete of the old path plus an add of the new.
func PlanFileOps(delta *GitDelta) []FileOp {
	ops := make([]FileOp, 0, len(delta.All))
	for _, p := range delta.Added {
		ops = append(ops, FileOp{Path: p, Change: FileAdded})
	}
	for _, p := range delta.Modified {
		ops = append(ops, FileOp{Path: p, Change: FileModified})
	}
	for _, p := range delta.Deleted {
		ops = append(ops, FileOp{Path: p, Change: FileDeleted})
	}
	for oldPath, newPath := range delta.Renamed {
		ops = append(ops, FileOp{Path: oldPath, Change: FileDeleted})
		ops = append(ops, FileOp{Path: newPath, OldPath: oldPath, Change: FileAdded})
	}
	for _, op := range ops {
		recordFileChange(op.Change)
	}
	return ops
}
