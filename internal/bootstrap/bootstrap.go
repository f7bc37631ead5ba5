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

// Package bootstrap opens the document store backend a Config describes.
// Unlike the old per-project "~/.cie/data/<project_id>" layout, a single
// run operates over every repository under Config.ReposPath against one
// shared backend (§6.1, §6.2).
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/cie-ingest/pkg/ingestion"
	"github.com/kraklabs/cie-ingest/pkg/llm"
	"github.com/kraklabs/cie-ingest/pkg/storage"
)

// OpenBackend opens (creating on first use) the embedded CozoDB backend
// described by cfg. DocStoreHost is the filesystem directory the embedded
// engine stores data in; DocStoreBucket, if set, namespaces the data under
// a subdirectory of DocStoreHost (letting one host directory serve several
// buckets). DocStoreUser/DocStorePassword are reserved for a networked
// document store and are not consumed by the embedded backend.
func OpenBackend(cfg *ingestion.Config, logger *slog.Logger) (*storage.EmbeddedBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.DocStoreHost == "" {
		return nil, fmt.Errorf("doc_store_host is required")
	}

	dataDir := cfg.DocStoreHost
	if cfg.DocStoreBucket != "" {
		dataDir = filepath.Join(dataDir, cfg.DocStoreBucket)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger.Info("bootstrap.backend.open",
		"data_dir", dataDir,
		"embedding_dim", cfg.EmbeddingDim,
	)

	backend, err := storage.NewEmbeddedBackend(storage.EmbeddedConfig{
		DataDir:      dataDir,
		EmbeddingDim: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	return backend, nil
}

// OpenLLMProvider builds the llm.Provider named by cfg.LLMProvider and
// returns it unwrapped: C6's NewEnricher puts its own circuit breaker around
// it, while C5's chunker calls it directly. "local" always selects Ollama;
// "remote" selects Anthropic when ANTHROPIC_API_KEY is set and OpenAI
// otherwise, since §6.1 does not say which remote vendor LLM_PROVIDER=remote
// means.
func OpenLLMProvider(cfg *ingestion.Config) (llm.Provider, error) {
	providerType := "ollama"
	if cfg.LLMProvider == "remote" {
		providerType = "openai"
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			providerType = "anthropic"
		}
	}

	provider, err := llm.NewProvider(llm.ProviderConfig{
		Type:         providerType,
		BaseURL:      cfg.LLMEndpoint,
		DefaultModel: cfg.LLMModel,
	})
	if err != nil {
		return nil, fmt.Errorf("open llm provider %s: %w", providerType, err)
	}
	return provider, nil
}

// OpenEmbeddingProvider builds the ingestion.EmbeddingProvider named by
// cfg.EmbeddingEndpoint. §6.1 does not name a dedicated provider-type
// variable for embeddings the way it does for LLM_PROVIDER, so the type is
// inferred from the endpoint: unset falls back to the deterministic mock
// (useful for --dry-run and tests), a host containing "nomic" selects the
// Nomic provider, anything else is treated as an Ollama-compatible
// embeddings endpoint, mirroring the teacher's CreateEmbeddingProvider
// dispatch.
func OpenEmbeddingProvider(cfg *ingestion.Config, logger *slog.Logger) (ingestion.EmbeddingProvider, error) {
	if cfg.EmbeddingEndpoint == "" {
		return ingestion.NewMockEmbeddingProvider(cfg.EmbeddingDim, logger), nil
	}
	if strings.Contains(strings.ToLower(cfg.EmbeddingEndpoint), "nomic") {
		apiKey := os.Getenv("NOMIC_API_KEY")
		return ingestion.NewNomicEmbeddingProvider(apiKey, cfg.EmbeddingEndpoint, cfg.LLMModel, logger), nil
	}
	return ingestion.NewOllamaEmbeddingProvider(cfg.EmbeddingEndpoint, embeddingModelOrDefault(cfg), logger), nil
}

func embeddingModelOrDefault(cfg *ingestion.Config) string {
	if cfg.LLMModel != "" {
		return cfg.LLMModel
	}
	return "nomic-embed-text"
}

