// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kraklabs/cie-ingest/internal/bootstrap"
	"github.com/kraklabs/cie-ingest/pkg/ingestion"
)

// newLogger builds the slog logger every subcommand shares, text-formatted
// for a terminal and left as text in scripted use too since structured
// fields still render one-per-line (§6.1 does not name a JSON log mode
// distinct from `--json`, which governs command *results*, not logs).
func newLogger(quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// components bundles every piece Pipeline.Run needs, opened once per
// subcommand invocation and torn down by the caller.
type components struct {
	cfg     *ingestion.Config
	backend ingestion.Backend
	logger  *slog.Logger
}

func openComponents(configPath string, quiet bool) (*components, error) {
	logger := newLogger(quiet)

	cfg, err := ingestion.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	backend, err := bootstrap.OpenBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	return &components{cfg: cfg, backend: backend, logger: logger}, nil
}

func (c *components) Close() {
	_ = c.backend.Close()
}

// buildPipeline wires C3 through C9 behind a Pipeline, following the
// dispatch bootstrap.OpenLLMProvider/OpenEmbeddingProvider already
// establish for picking concrete providers from Config.
func buildPipeline(c *components) (*ingestion.Pipeline, error) {
	llmProvider, err := bootstrap.OpenLLMProvider(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("open llm provider: %w", err)
	}
	embeddingProvider, err := bootstrap.OpenEmbeddingProvider(c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open embedding provider: %w", err)
	}

	parser := ingestion.NewTreeSitterParser(nil)
	chunker := ingestion.NewChunker(llmProvider, c.logger)
	enricher := ingestion.NewEnricher(llmProvider, c.logger)
	embeddingGen := ingestion.NewEmbeddingGenerator(embeddingProvider, c.cfg.ConcurrencyFiles, c.logger)
	fileProc := ingestion.NewFileProcessor(parser, chunker, enricher, embeddingGen, c.backend, c.cfg.SymbolMinLines, c.cfg.ParseWorkers, c.logger)
	aggregator := ingestion.NewAggregator(enricher, embeddingGen, c.backend)
	repoLoader := ingestion.NewRepoLoader(c.logger)

	return ingestion.NewPipeline(c.cfg, c.backend, repoLoader, fileProc, aggregator, c.logger), nil
}

// generateRunID derives a deterministic-looking, second-granular run
// identifier the same way the teacher's local pipeline does, substituting
// ReposPath for the teacher's per-project ID since a run here spans every
// repo under one path rather than one project.
func generateRunID(reposPath string, startedAt time.Time) string {
	rounded := startedAt.Truncate(time.Second)
	base := fmt.Sprintf("run-%s-%d", reposPath, rounded.Unix())
	hash := sha256.Sum256([]byte(base))
	return "run-" + hex.EncodeToString(hash[:8])
}

// repoGitURL derives the clone URL for a bare "owner/name" repo_id. §6.1
// names GIT_CREDENTIAL as "token used for private repo clones" without
// naming a git host, so GitHub's HTTPS convention is assumed; an embedded
// token is passed the way GitHub's own token-auth clone URLs expect
// (https://<token>@github.com/owner/name.git).
func repoGitURL(cfg *ingestion.Config, repoID string) string {
	if cfg.GitCredential == "" {
		return fmt.Sprintf("https://github.com/%s.git", repoID)
	}
	return fmt.Sprintf("https://%s@github.com/%s.git", cfg.GitCredential, repoID)
}
