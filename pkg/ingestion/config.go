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
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting recognized by the pipeline (§6.1). Fields map
// 1:1 onto the environment variables of the same section; a YAML file can
// supply the same keys for local/dev use, with the environment always
// taking precedence.
type Config struct {
	ReposPath string `yaml:"repos_path"`

	DocStoreHost     string `yaml:"doc_store_host"`
	DocStoreUser     string `yaml:"doc_store_user"`
	DocStorePassword string `yaml:"doc_store_password"`
	DocStoreBucket   string `yaml:"doc_store_bucket"`

	LLMProvider string `yaml:"llm_provider"`
	LLMEndpoint string `yaml:"llm_endpoint"`
	LLMModel    string `yaml:"llm_model"`

	EmbeddingEndpoint string `yaml:"embedding_endpoint"`
	EmbeddingDim      int    `yaml:"embedding_dim"`
	EmbeddingBatch    int    `yaml:"embedding_batch"`

	ConcurrencyFiles int `yaml:"concurrency_files"`
	ParseWorkers     int `yaml:"parse_workers"`

	SymbolMinLines         int     `yaml:"symbol_min_lines"`
	FullReingestThreshold  float64 `yaml:"full_reingest_threshold"`

	GitCredential string `yaml:"git_credential"`
	RunLockPath   string `yaml:"run_lock_path"`
}

// DefaultConfig returns the documented defaults from §6.1.
func DefaultConfig() Config {
	return Config{
		LLMProvider:           "local",
		EmbeddingDim:          768,
		EmbeddingBatch:        128,
		ConcurrencyFiles:      10,
		ParseWorkers:          4,
		SymbolMinLines:        5,
		FullReingestThreshold: 0.05,
	}
}

// LoadConfig reads an optional YAML config file, then overlays any set
// environment variables on top (environment wins), matching the override
// order the teacher's CLI uses for its own project.yaml.
func LoadConfig(yamlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", yamlPath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", yamlPath, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str(&cfg.ReposPath, "REPOS_PATH")
	str(&cfg.DocStoreHost, "DOC_STORE_HOST")
	str(&cfg.DocStoreUser, "DOC_STORE_USER")
	str(&cfg.DocStorePassword, "DOC_STORE_PASSWORD")
	str(&cfg.DocStoreBucket, "DOC_STORE_BUCKET")
	str(&cfg.LLMProvider, "LLM_PROVIDER")
	str(&cfg.LLMEndpoint, "LLM_ENDPOINT")
	str(&cfg.LLMModel, "LLM_MODEL")
	str(&cfg.EmbeddingEndpoint, "EMBEDDING_ENDPOINT")
	str(&cfg.GitCredential, "GIT_CREDENTIAL")
	str(&cfg.RunLockPath, "RUN_LOCK_PATH")

	intv(&cfg.EmbeddingDim, "EMBEDDING_DIM")
	intv(&cfg.EmbeddingBatch, "EMBEDDING_BATCH")
	intv(&cfg.ConcurrencyFiles, "CONCURRENCY_FILES")
	intv(&cfg.ParseWorkers, "PARSE_WORKERS")
	intv(&cfg.SymbolMinLines, "SYMBOL_MIN_LINES")
	floatv(&cfg.FullReingestThreshold, "FULL_REINGEST_THRESHOLD")

	if cfg.RunLockPath == "" && cfg.ReposPath != "" {
		cfg.RunLockPath = cfg.ReposPath + "/.ingestion.lock"
	}
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatv(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// RetryConfig controls exponential-backoff retry behavior for any
// transient-failure-prone call (embedding requests, LLM calls).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Validate enforces the Configuration-error-kind checks from §7: missing
// required settings or out-of-range thresholds fail fast, before any I/O.
func (c *Config) Validate() error {
	if c.ReposPath == "" {
		return fmt.Errorf("configuration error: REPOS_PATH is required")
	}
	if c.DocStoreHost == "" || c.DocStoreBucket == "" {
		return fmt.Errorf("configuration error: DOC_STORE_HOST and DOC_STORE_BUCKET are required")
	}
	if c.LLMProvider != "local" && c.LLMProvider != "remote" {
		return fmt.Errorf("configuration error: LLM_PROVIDER must be 'local' or 'remote', got %q", c.LLMProvider)
	}
	if c.FullReingestThreshold <= 0 || c.FullReingestThreshold > 1 {
		return fmt.Errorf("configuration error: FULL_REINGEST_THRESHOLD must be in (0, 1], got %v", c.FullReingestThreshold)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("configuration error: EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}
