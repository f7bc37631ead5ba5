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

import "sort"

// ReconcileAction is one entry of the ordered action list C2 produces.
type ReconcileAction string

const (
	ActionCloneThenProcess ReconcileAction = "clone_then_process"
	ActionProcess          ReconcileAction = "process"
	ActionDeferToC3        ReconcileAction = "defer_to_c3"
	ActionDeleteIndexed    ReconcileAction = "delete_indexed"
	ActionIgnore           ReconcileAction = "ignore"
)

// RepoPlan is one row of the reconciler's output: a repo_id and the action
// to take for it.
type RepoPlan struct {
	RepoID string
	Action ReconcileAction
}

// Reconcile computes the §4.2 action matrix over the union of three sets:
// desired (from API/file/directory listing, in that precedence order),
// onDisk (cloned repos), and indexed (repos with a repo_summary).
func Reconcile(desired, onDisk, indexed []string) []RepoPlan {
	desiredSet := toSet(desired)
	diskSet := toSet(onDisk)
	indexSet := toSet(indexed)

	union := make(map[string]struct{})
	for k := range desiredSet {
		union[k] = struct{}{}
	}
	for k := range diskSet {
		union[k] = struct{}{}
	}
	for k := range indexSet {
		union[k] = struct{}{}
	}

	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	plans := make([]RepoPlan, 0, len(ids))
	for _, id := range ids {
		_, wantDesired := desiredSet[id]
		_, onDiskNow := diskSet[id]
		_, isIndexed := indexSet[id]

		var action ReconcileAction
		switch {
		case wantDesired && !onDiskNow:
			action = ActionCloneThenProcess
		case wantDesired && onDiskNow && !isIndexed:
			action = ActionProcess
		case wantDesired && onDiskNow && isIndexed:
			action = ActionDeferToC3
		case !wantDesired && isIndexed:
			action = ActionDeleteIndexed
		case !wantDesired && onDiskNow && !isIndexed:
			action = ActionIgnore
		default:
			continue
		}
		plans = append(plans, RepoPlan{RepoID: id, Action: action})
	}
	return plans
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}
