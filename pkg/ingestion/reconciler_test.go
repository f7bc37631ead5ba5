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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcile_ActionMatrix(t *testing.T) {
	tests := []struct {
		name     string
		desired  []string
		onDisk   []string
		indexed  []string
		wantID   string
		wantAction ReconcileAction
	}{
		{"desired but not cloned", []string{"acme/a"}, nil, nil, "acme/a", ActionCloneThenProcess},
		{"desired, on disk, not indexed", []string{"acme/a"}, []string{"acme/a"}, nil, "acme/a", ActionProcess},
		{"desired, on disk, indexed", []string{"acme/a"}, []string{"acme/a"}, []string{"acme/a"}, "acme/a", ActionDeferToC3},
		{"no longer desired but indexed", nil, []string{"acme/a"}, []string{"acme/a"}, "acme/a", ActionDeleteIndexed},
		{"no longer desired, only on disk", nil, []string{"acme/a"}, nil, "acme/a", ActionIgnore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plans := Reconcile(tt.desired, tt.onDisk, tt.indexed)
			require.Len(t, plans, 1)
			require.Equal(t, tt.wantID, plans[0].RepoID)
			require.Equal(t, tt.wantAction, plans[0].Action)
		})
	}
}

func TestReconcile_EmptyInputsProduceNoPlans(t *testing.T) {
	// With all three sets empty no id enters the union, so the reconciler
	// emits no plan.
	plans := Reconcile(nil, nil, nil)
	require.Empty(t, plans)
}

func TestReconcile_OutputIsSortedByRepoID(t *testing.T) {
	plans := Reconcile([]string{"zeta/z", "alpha/a"}, nil, nil)
	require.Len(t, plans, 2)
	require.Equal(t, "alpha/a", plans[0].RepoID)
	require.Equal(t, "zeta/z", plans[1].RepoID)
}
