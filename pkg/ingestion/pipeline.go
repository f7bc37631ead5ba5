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
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// RepoTarget is one entry of the desired repo set passed into Pipeline.Run:
// a repo_id plus where to clone it from if it isn't on disk yet.
type RepoTarget struct {
	RepoID string
	Source RepoSource
}

// RunOptions controls one invocation of Pipeline.Run beyond the repo set
// itself (§6.3 flags).
type RunOptions struct {
	// DryRun performs reconciliation, change detection, parsing, and LLM
	// summary generation but writes nothing to the document store.
	DryRun bool

	// SkipExisting short-circuits any repo that already has a repo_summary
	// at the current HEAD, without even running DecideStrategy.
	SkipExisting bool

	// Out receives progress lines; defaults to os.Stdout.
	Out *os.File
}

// Pipeline implements C10: it coordinates C1 (RunLock) through C9
// (Aggregator) over one run across the configured repo set, processing
// repos strictly in series (§4.10) since embedding/LLM resources are scarce
// and per-repo reasoning is simpler than interleaving multiple repos.
type Pipeline struct {
	cfg        *Config
	backend    Backend
	repoLoader *RepoLoader
	fileProc   *FileProcessor
	aggregator *Aggregator
	lock       *RunLock
	logger     *slog.Logger
}

// NewPipeline wires the already-constructed components an orchestrator run
// needs.
func NewPipeline(cfg *Config, backend Backend, repoLoader *RepoLoader, fileProc *FileProcessor, aggregator *Aggregator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		backend:    backend,
		repoLoader: repoLoader,
		fileProc:   fileProc,
		aggregator: aggregator,
		lock:       NewRunLock(cfg.RunLockPath),
		logger:     logger,
	}
}

// Run executes one full pipeline invocation: acquire C1, reconcile the
// desired set against disk and the index (C2), then drive C3 through C9 for
// each repo in turn. It always returns a RunRecord, even on failure, except
// when the lock itself could not be acquired.
func (p *Pipeline) Run(ctx context.Context, runID string, desired []RepoTarget, opts RunOptions) (*RunRecord, error) {
	record := &RunRecord{RunID: runID, Status: RunRunning, StartedAt: timeNow()}

	staleReclaim, err := p.lock.Acquire()
	if err != nil {
		return nil, err
	}
	if staleReclaim {
		p.logger.Warn("pipeline.lock.stale_reclaimed", "run_id", runID)
	}
	if !opts.DryRun {
		_ = p.backend.Upsert(ctx, record.ToDocument())
	}

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	var interrupted atomic.Bool
	go func() {
		select {
		case <-sigCh:
			interrupted.Store(true)
			cancel()
		case <-runCtx.Done():
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		cancel()
		p.lock.Release()
	}()

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	desiredIDs := make([]string, 0, len(desired))
	sourceByID := make(map[string]RepoSource, len(desired))
	for _, t := range desired {
		desiredIDs = append(desiredIDs, t.RepoID)
		sourceByID[t.RepoID] = t.Source
	}

	onDisk, err := p.listOnDiskRepos()
	if err != nil {
		record.Errors = append(record.Errors, err.Error())
		return p.finalize(context.Background(), record, &interrupted), nil
	}
	// An empty desired set (ingest --all) means every repo on disk.
	if len(desired) == 0 {
		desiredIDs = onDisk
	}

	indexed, err := p.backend.ListRepoIDs(ctx, TypeRepoSummary)
	if err != nil {
		record.Errors = append(record.Errors, err.Error())
		return p.finalize(context.Background(), record, &interrupted), nil
	}

	plans := Reconcile(desiredIDs, onDisk, indexed)
	bar := newProgressBar(len(plans), out)

	for _, plan := range plans {
		if runCtx.Err() != nil {
			// In-flight file workers for the repo in progress are allowed
			// to finish their current step; no further repo is started.
			break
		}
		p.processRepo(runCtx, plan, sourceByID[plan.RepoID], opts, record)
		_ = bar.Add(1)
	}

	return p.finalize(context.Background(), record, &interrupted), nil
}

func (p *Pipeline) finalize(ctx context.Context, record *RunRecord, interrupted *atomic.Bool) *RunRecord {
	record.FinishedAt = timeNow()
	record.DurationSeconds = record.FinishedAt.Sub(record.StartedAt).Seconds()

	switch {
	case interrupted.Load():
		record.Status = RunInterrupted
	case record.Counters.ReposError > 0:
		record.Status = RunCompletedWithErrors
	case len(record.Errors) > 0:
		record.Status = RunFailed
	default:
		record.Status = RunCompleted
	}

	observeTotal(record.FinishedAt.Sub(record.StartedAt))
	_ = p.backend.Upsert(ctx, record.ToDocument())
	return record
}

func (p *Pipeline) processRepo(ctx context.Context, plan RepoPlan, source RepoSource, opts RunOptions, record *RunRecord) {
	logger := p.logger.With("repo_id", plan.RepoID, "action", string(plan.Action))

	switch plan.Action {
	case ActionIgnore:
		logger.Info("pipeline.repo.ignored")
		return

	case ActionDeleteIndexed:
		if opts.DryRun {
			logger.Info("pipeline.repo.would_delete")
			return
		}
		if err := p.purgeRepo(ctx, plan.RepoID); err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: %v", plan.RepoID, err))
			return
		}
		record.Counters.ReposDeleted++
		recordRepoOutcome(plan.Action)
		return

	case ActionCloneThenProcess:
		result, err := p.repoLoader.LoadRepository(source, nil, 0)
		if err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: clone: %v", plan.RepoID, err))
			return
		}
		record.Counters.ReposCloned++
		recordRepoOutcome(plan.Action)

		// The clone lands in a temp dir (RepoLoader.Close removes it); move
		// it under REPOS_PATH so it's still there for next run's on-disk
		// set (§6.2).
		repoPath := p.repoDir(plan.RepoID)
		if err := os.MkdirAll(filepath.Dir(repoPath), 0o750); err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: %v", plan.RepoID, err))
			return
		}
		if err := os.Rename(result.RootPath, repoPath); err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: move clone into place: %v", plan.RepoID, err))
			return
		}

		p.ingestFiles(ctx, plan.RepoID, repoPath, headSHAOrEmpty(repoPath, logger), result.Files, opts, record, logger)
		record.Counters.ReposProcessed++

	case ActionProcess:
		repoPath := p.repoDir(plan.RepoID)
		result, err := p.repoLoader.LoadRepository(RepoSource{Type: "local_path", Value: repoPath}, nil, 0)
		if err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: load: %v", plan.RepoID, err))
			return
		}
		p.ingestFiles(ctx, plan.RepoID, repoPath, headSHAOrEmpty(repoPath, logger), result.Files, opts, record, logger)
		record.Counters.ReposProcessed++

	case ActionDeferToC3:
		p.processExistingRepo(ctx, plan.RepoID, opts, record, logger)
	}
}

// processExistingRepo implements C3 for a repo already on disk and indexed:
// compare stored vs current HEAD and dispatch skip / full_reingest /
// surgical_update.
func (p *Pipeline) processExistingRepo(ctx context.Context, repoID string, opts RunOptions, record *RunRecord, logger *slog.Logger) {
	repoPath := p.repoDir(repoID)

	summaries, err := p.backend.ListByType(ctx, TypeRepoSummary, repoID)
	if err != nil || len(summaries) == 0 {
		record.Counters.ReposError++
		recordRepoError()
		record.Errors = append(record.Errors, fmt.Sprintf("%s: missing repo_summary despite indexed set membership", repoID))
		return
	}
	storedSHA := summaries[0].CommitHash

	if opts.SkipExisting && storedSHA == headSHAOrEmpty(repoPath, logger) {
		record.Counters.ReposSkipped++
		return
	}

	dd := NewDeltaDetector(repoPath, logger)
	totalTracked, err := p.backend.CountBy(ctx, TypeFileIndex, repoID)
	if err != nil {
		record.Counters.ReposError++
		recordRepoError()
		record.Errors = append(record.Errors, fmt.Sprintf("%s: %v", repoID, err))
		return
	}

	changePlan, err := DecideStrategy(dd, storedSHA, totalTracked, p.cfg.FullReingestThreshold)
	if err != nil {
		record.Counters.ReposError++
		recordRepoError()
		record.Errors = append(record.Errors, fmt.Sprintf("%s: %v", repoID, err))
		return
	}
	recordRepoStrategy(changePlan.Strategy)

	switch changePlan.Strategy {
	case StrategySkip:
		record.Counters.ReposSkipped++

	case StrategyFullReingest:
		record.Counters.ReposFullReingest++
		result, err := p.repoLoader.LoadRepository(RepoSource{Type: "local_path", Value: repoPath}, nil, 0)
		if err != nil {
			record.Counters.ReposError++
			recordRepoError()
			record.Errors = append(record.Errors, fmt.Sprintf("%s: %v", repoID, err))
			return
		}
		p.ingestFiles(ctx, repoID, repoPath, changePlan.CurrentSHA, result.Files, opts, record, logger)
		record.Counters.ReposProcessed++

	case StrategySurgicalUpdate:
		p.applySurgicalUpdate(ctx, repoID, repoPath, changePlan, opts, record, logger)
		record.Counters.ReposUpdated++
	}
}

func (p *Pipeline) applySurgicalUpdate(ctx context.Context, repoID, repoPath string, plan *ChangePlan, opts RunOptions, record *RunRecord, logger *slog.Logger) {
	ops := PlanFileOps(plan.Delta)

	var toProcess []FileInfo
	for _, op := range ops {
		switch op.Change {
		case FileDeleted:
			if opts.DryRun {
				continue
			}
			if _, err := p.backend.DeleteByQuery(ctx, TypeFileIndex, repoID, op.Path); err != nil {
				record.Errors = append(record.Errors, fmt.Sprintf("%s: delete %s: %v", repoID, op.Path, err))
				continue
			}
			if _, err := p.backend.DeleteByQuery(ctx, TypeSymbolIndex, repoID, op.Path); err != nil {
				record.Errors = append(record.Errors, fmt.Sprintf("%s: delete symbols for %s: %v", repoID, op.Path, err))
				continue
			}
			record.Counters.FilesDeleted++
		case FileAdded, FileModified:
			toProcess = append(toProcess, FileInfo{
				Path:     op.Path,
				FullPath: filepath.Join(repoPath, op.Path),
				Language: detectLanguageFromPath(op.Path),
			})
		}
	}

	p.ingestFiles(ctx, repoID, repoPath, plan.CurrentSHA, toProcess, opts, record, logger)

	if len(toProcess) > 0 || record.Counters.FilesDeleted > 0 {
		if !opts.DryRun {
			if _, err := p.aggregator.Run(ctx, repoID, plan.CurrentSHA); err != nil {
				record.Errors = append(record.Errors, fmt.Sprintf("%s: aggregate: %v", repoID, err))
			}
		}
	}
}

// ingestFiles runs FileProcessor.Process over files concurrently, bounded
// by Config.ConcurrencyFiles (W_file), then runs the aggregator once for
// the repo. Each completion is reported as one `[i/N] path (ok|skip|err, k
// symbols)` line (§6.3).
func (p *Pipeline) ingestFiles(ctx context.Context, repoID, repoPath, commit string, files []FileInfo, opts RunOptions, record *RunRecord, logger *slog.Logger) {
	if len(files) == 0 {
		return
	}

	mat, err := NewMaterializer(repoPath)
	if err != nil {
		record.Counters.ReposError++
		record.Errors = append(record.Errors, fmt.Sprintf("%s: materializer: %v", repoID, err))
		return
	}
	defer mat.Close()

	workers := p.cfg.ConcurrencyFiles
	if workers <= 0 {
		workers = 10
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var completed int32
	total := len(files)

	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		file := file
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result := p.fileProc.Process(ctx, mat, repoID, commit, file)

			i := atomic.AddInt32(&completed, 1)
			recordFileOutcome(result.Outcome)

			mu.Lock()
			switch result.Outcome {
			case FileOK:
				record.Counters.FilesProcessed++
			case FileErr:
				record.Errors = append(record.Errors, fmt.Sprintf("%s: %s: %v", repoID, result.Path, result.Err))
			}
			mu.Unlock()

			logger.Info("pipeline.file.done",
				"index", i, "total", total, "path", result.Path,
				"outcome", string(result.Outcome), "symbols", result.SymbolCount,
			)
		}()
	}
	wg.Wait()

	if !opts.DryRun && ctx.Err() == nil {
		if _, err := p.aggregator.Run(ctx, repoID, commit); err != nil {
			record.Errors = append(record.Errors, fmt.Sprintf("%s: aggregate: %v", repoID, err))
		}
	}
}

func (p *Pipeline) purgeRepo(ctx context.Context, repoID string) error {
	for _, docType := range []DocumentType{TypeSymbolIndex, TypeFileIndex, TypeModuleSummary, TypeRepoSummary, TypeDocument} {
		if _, err := p.backend.DeleteByQuery(ctx, docType, repoID, ""); err != nil {
			return fmt.Errorf("purge %s: %w", docType, err)
		}
	}
	return nil
}

func (p *Pipeline) repoDir(repoID string) string {
	return filepath.Join(p.cfg.ReposPath, RepoIDToDirName(repoID))
}

// listOnDiskRepos enumerates Config.ReposPath, converting each directory
// name back to a repo_id (§6.2: folder name is repo_id with "/" replaced
// by "_").
func (p *Pipeline) listOnDiskRepos() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.ReposPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list repos path: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, DirNameToRepoID(e.Name()))
	}
	sort.Strings(ids)
	return ids, nil
}

func headSHAOrEmpty(repoPath string, logger *slog.Logger) string {
	dd := NewDeltaDetector(repoPath, logger)
	sha, err := dd.GetHeadSHA()
	if err != nil {
		logger.Warn("pipeline.head_sha.failed", "err", err)
		return ""
	}
	return sha
}

// newProgressBar renders a TTY progress bar when out is a terminal and
// falls back to a no-op (plain logging carries progress instead) otherwise,
// matching the teacher's suppressed/plain-when-piped convention.
func newProgressBar(total int, out *os.File) *progressbar.ProgressBar {
	if total <= 0 {
		total = 1
	}
	if !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()) {
		return progressbar.NewOptions(total, progressbar.OptionSetWriter(out), progressbar.OptionSetVisibility(false))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
