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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by RunLock.Acquire when a live process holds
// the lock already.
var ErrAlreadyRunning = errors.New("ingestion: a pipeline run is already in progress")

// RunLock guarantees at most one pipeline run executes at a time on a given
// host (C1). Acquire/Release form a scoped pair; every exit path from the
// orchestrator must call Release, including signal-driven cancellation.
type RunLock struct {
	path string
	file *os.File
}

// NewRunLock creates a RunLock backed by the given path (Config.RunLockPath).
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

// lockInfo is the small on-disk record written at acquisition.
type lockInfo struct {
	PID       int
	StartedAt time.Time
}

// Acquire attempts to take the lock. If the file exists and references a
// live process, it returns ErrAlreadyRunning. If the file exists but the
// referenced process is dead, the stale lock is reclaimed and staleReclaim
// reports true.
func (l *RunLock) Acquire() (staleReclaim bool, err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}

	prior, _ := readLockInfo(l.path)
	stale := prior != nil && !processAlive(prior.PID)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if ferr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); ferr != nil {
		_ = f.Close()
		if ferr == syscall.EWOULDBLOCK {
			return false, ErrAlreadyRunning
		}
		return false, fmt.Errorf("flock: %w", ferr)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().Unix()); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write lock file: %w", err)
	}

	l.file = f
	return stale, nil
}

// Release releases the lock and removes the backing file. Safe to call on
// an unacquired lock.
func (l *RunLock) Release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
}

// Holder reports the PID and start time in the lock file, if any.
func (l *RunLock) Holder() (*lockInfo, error) {
	return readLockInfo(l.path)
}

// IsHeldByLiveProcess reports whether the lock file names a process that is
// still alive, used by `ingest --status` (§6.3) to report "running"/"idle".
func (l *RunLock) IsHeldByLiveProcess() bool {
	info, err := readLockInfo(l.path)
	if err != nil || info == nil {
		return false
	}
	return processAlive(info.PID)
}

func readLockInfo(path string) (*lockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var pid int
	var ts int64
	if _, err := fmt.Sscanf(string(data), "%d %d", &pid, &ts); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &lockInfo{PID: pid, StartedAt: time.Unix(ts, 0)}, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes liveness.
	return proc.Signal(syscall.Signal(0)) == nil
}

// RunStatus is the terminal status recorded in an ingestion_log document.
type RunStatus string

const (
	RunRunning            RunStatus = "running"
	RunCompleted          RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed             RunStatus = "failed"
	RunInterrupted        RunStatus = "interrupted"
)

// RunCounters accumulates the per-run counters named in §4.1.
type RunCounters struct {
	ReposProcessed    int `json:"repos_processed"`
	ReposSkipped      int `json:"repos_skipped"`
	ReposUpdated      int `json:"repos_updated"`
	ReposFullReingest int `json:"repos_full_reingest"`
	ReposCloned       int `json:"repos_cloned"`
	ReposDeleted      int `json:"repos_deleted"`
	ReposError        int `json:"repos_error"`
	FilesProcessed    int `json:"files_processed"`
	FilesDeleted      int `json:"files_deleted"`
}

// RunRecord is the audit document for one pipeline invocation.
type RunRecord struct {
	RunID           string      `json:"run_id"`
	Status          RunStatus   `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	Counters        RunCounters `json:"counters"`
	Errors          []string    `json:"errors"`
}

// ToDocument renders a RunRecord as an ingestion_log Document for storage.
func (r *RunRecord) ToDocument() *Document {
	return &Document{
		DocumentID: GenerateDocumentID(TypeIngestionLog, "_host", r.RunID, r.RunID),
		Type:       TypeIngestionLog,
		RepoID:     "_host",
		CommitHash: r.RunID,
		Content:    fmt.Sprintf("run %s: %s", r.RunID, r.Status),
		Metadata: map[string]any{
			"status":            string(r.Status),
			"started_at":        r.StartedAt,
			"finished_at":       r.FinishedAt,
			"duration_seconds":  r.DurationSeconds,
			"repos_processed":   r.Counters.ReposProcessed,
			"repos_skipped":     r.Counters.ReposSkipped,
			"repos_updated":     r.Counters.ReposUpdated,
			"repos_full_reingest": r.Counters.ReposFullReingest,
			"repos_cloned":      r.Counters.ReposCloned,
			"repos_deleted":     r.Counters.ReposDeleted,
			"repos_error":       r.Counters.ReposError,
			"files_processed":   r.Counters.FilesProcessed,
			"files_deleted":     r.Counters.FilesDeleted,
			"errors":            r.Errors,
		},
		Quality: Quality{EnrichmentLevel: EnrichmentNone},
		Version: Version{
			SchemaVersion:   SchemaVersion,
			PipelineVersion: PipelineVersion,
			CreatedAt:       r.StartedAt,
		},
	}
}
