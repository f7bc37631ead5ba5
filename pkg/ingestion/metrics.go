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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for the ingestion subsystem,
// covering C3's delta classification through C12's criticality backfill.
type metricsIngestion struct {
	once sync.Once

	// C3: per-file change classification (change_strategy.go PlanFileOps).
	deltaAdded    prometheus.Counter
	deltaModified prometheus.Counter
	deltaDeleted  prometheus.Counter
	deltaRenamed  prometheus.Counter

	// C8: per-file outcomes and embedding calls.
	filesProcessed prometheus.Counter
	filesErrored   prometheus.Counter
	embedComputed  prometheus.Counter
	embedErrors    prometheus.Counter
	embedRetries   prometheus.Counter

	// C9: module_summary regeneration vs. short-circuit reuse.
	modulesSummarized prometheus.Counter
	modulesReused     prometheus.Counter

	// C10: per-repo strategy outcomes for one pipeline run.
	reposSkipped      prometheus.Counter
	reposFullReingest prometheus.Counter
	reposUpdated      prometheus.Counter
	reposCloned       prometheus.Counter
	reposDeleted      prometheus.Counter
	reposError        prometheus.Counter

	// C12: criticality backfill.
	modulesScored prometheus.Counter

	// Durations.
	deltaDuration prometheus.Histogram
	parseDuration prometheus.Histogram
	embedDuration prometheus.Histogram
	writeDuration prometheus.Histogram
	totalDuration prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.deltaAdded = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_delta_added_total", Help: "Files classified as added by change_strategy.PlanFileOps"})
		m.deltaModified = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_delta_modified_total", Help: "Files classified as modified by change_strategy.PlanFileOps"})
		m.deltaDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_delta_deleted_total", Help: "Files classified as deleted by change_strategy.PlanFileOps"})
		m.deltaRenamed = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_delta_renamed_total", Help: "Files classified as renamed by change_strategy.PlanFileOps"})

		m.filesProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_files_processed_total", Help: "Files that completed FileProcessor.Process without error"})
		m.filesErrored = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_files_errored_total", Help: "Files that failed FileProcessor.Process"})
		m.embedComputed = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_embeddings_computed_total", Help: "Documents successfully embedded"})
		m.embedErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_embeddings_errors_total", Help: "Documents whose embedding call failed after retries"})
		m.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_embeddings_retries_total", Help: "Embedding provider retry attempts"})

		m.modulesSummarized = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_modules_summarized_total", Help: "module_summary documents rebuilt by the aggregator"})
		m.modulesReused = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_modules_reused_total", Help: "module_summary documents reused via the unchanged-children-ids short-circuit"})

		m.reposSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_skipped_total", Help: "Repos left untouched by change_strategy.StrategySkip"})
		m.reposFullReingest = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_full_reingest_total", Help: "Repos reprocessed via change_strategy.StrategyFullReingest"})
		m.reposUpdated = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_updated_total", Help: "Repos reprocessed via change_strategy.StrategySurgicalUpdate"})
		m.reposCloned = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_cloned_total", Help: "Repos freshly cloned this run"})
		m.reposDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_deleted_total", Help: "Indexed repos purged for no longer being in the desired set"})
		m.reposError = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_repos_error_total", Help: "Repos that failed to process this run"})

		m.modulesScored = prometheus.NewCounter(prometheus.CounterOpts{Name: "cie_ing_criticality_modules_scored_total", Help: "module_summary documents updated with a criticality_score by backfill-criticality"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.deltaDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ing_delta_seconds", Help: "Time spent deciding a repo's change strategy", Buckets: buckets})
		m.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ing_parse_seconds", Help: "Time spent in CodeParser.ParseFile", Buckets: buckets})
		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ing_embed_seconds", Help: "Time spent in EmbeddingGenerator.EmbedDocuments", Buckets: buckets})
		m.writeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ing_write_seconds", Help: "Time spent persisting a file's symbol_index/file_index documents", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "cie_ing_total_seconds", Help: "Duration of one full Pipeline.Run invocation", Buckets: buckets})

		prometheus.MustRegister(
			m.deltaAdded, m.deltaModified, m.deltaDeleted, m.deltaRenamed,
			m.filesProcessed, m.filesErrored,
			m.embedComputed, m.embedErrors, m.embedRetries,
			m.modulesSummarized, m.modulesReused,
			m.reposSkipped, m.reposFullReingest, m.reposUpdated, m.reposCloned, m.reposDeleted, m.reposError,
			m.modulesScored,
			m.deltaDuration, m.parseDuration, m.embedDuration, m.writeDuration, m.totalDuration,
		)
	})
}

func recordFileChange(change FileChangeType) {
	ingMetrics.init()
	switch change {
	case FileAdded:
		ingMetrics.deltaAdded.Inc()
	case FileModified:
		ingMetrics.deltaModified.Inc()
	case FileDeleted:
		ingMetrics.deltaDeleted.Inc()
	case FileRenamed:
		ingMetrics.deltaRenamed.Inc()
	}
}

func recordFileOutcome(outcome FileOutcome) {
	ingMetrics.init()
	switch outcome {
	case FileOK:
		ingMetrics.filesProcessed.Inc()
	case FileErr:
		ingMetrics.filesErrored.Inc()
	}
}

func recordEmbedBatch(computed, errored int) {
	ingMetrics.init()
	ingMetrics.embedComputed.Add(float64(computed))
	ingMetrics.embedErrors.Add(float64(errored))
}

func recordEmbedRetry() { ingMetrics.init(); ingMetrics.embedRetries.Inc() }

func recordModuleSummarized() { ingMetrics.init(); ingMetrics.modulesSummarized.Inc() }
func recordModuleReused()     { ingMetrics.init(); ingMetrics.modulesReused.Inc() }

func recordRepoOutcome(action ReconcileAction) {
	ingMetrics.init()
	switch action {
	case ActionDeleteIndexed:
		ingMetrics.reposDeleted.Inc()
	case ActionCloneThenProcess:
		ingMetrics.reposCloned.Inc()
	}
}

func recordRepoStrategy(strategy ChangeStrategy) {
	ingMetrics.init()
	switch strategy {
	case StrategySkip:
		ingMetrics.reposSkipped.Inc()
	case StrategyFullReingest:
		ingMetrics.reposFullReingest.Inc()
	case StrategySurgicalUpdate:
		ingMetrics.reposUpdated.Inc()
	}
}

func recordRepoError() { ingMetrics.init(); ingMetrics.reposError.Inc() }

func recordModulesScored(n int) {
	if n <= 0 {
		return
	}
	ingMetrics.init()
	ingMetrics.modulesScored.Add(float64(n))
}

func observeDelta(d time.Duration)  { ingMetrics.init(); ingMetrics.deltaDuration.Observe(d.Seconds()) }
func observeParse(d time.Duration)  { ingMetrics.init(); ingMetrics.parseDuration.Observe(d.Seconds()) }
func observeEmbed(d time.Duration)  { ingMetrics.init(); ingMetrics.embedDuration.Observe(d.Seconds()) }
func observeWrite(d time.Duration)  { ingMetrics.init(); ingMetrics.writeDuration.Observe(d.Seconds()) }
func observeTotal(d time.Duration)  { ingMetrics.init(); ingMetrics.totalDuration.Observe(d.Seconds()) }
