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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunLock_AcquireThenReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l1 := NewRunLock(path)
	stale, err := l1.Acquire()
	require.NoError(t, err)
	require.False(t, stale)

	l1.Release()

	l2 := NewRunLock(path)
	stale, err = l2.Acquire()
	require.NoError(t, err)
	require.False(t, stale)
	l2.Release()
}

func TestRunLock_SecondAcquireWhileHeldFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l1 := NewRunLock(path)
	_, err := l1.Acquire()
	require.NoError(t, err)
	defer l1.Release()

	l2 := NewRunLock(path)
	_, err = l2.Acquire()
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRunLock_StaleLockFromDeadProcessIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999 1700000000\n"), 0o600))

	l := NewRunLock(path)
	stale, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, stale)
	l.Release()
}

func TestRunLock_IsHeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l := NewRunLock(path)
	require.False(t, l.IsHeldByLiveProcess())

	_, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, l.IsHeldByLiveProcess())

	l.Release()
	require.False(t, l.IsHeldByLiveProcess())
}

func TestRunLock_ReleaseOnUnacquiredLockIsSafe(t *testing.T) {
	l := NewRunLock(filepath.Join(t.TempDir(), "run.lock"))
	require.NotPanics(t, func() { l.Release() })
}
