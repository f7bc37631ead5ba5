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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cie-ingest/pkg/llm"
)

func TestEnricher_Summarize_ValidReply(t *testing.T) {
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Message:     llm.Message{Role: "assistant", Content: `{"summary": "parses widgets"}`},
				TotalTokens: 42,
				Done:        true,
			}, nil
		},
	}
	e := NewEnricher(provider, nil)

	summary, tokens, level := e.Summarize(context.Background(), "func Widget() {}", SummaryContext{Kind: EnrichSymbol})

	assert.Equal(t, "parses widgets", summary)
	assert.Equal(t, 42, tokens)
	assert.Equal(t, EnrichmentLLMSummary, level)
	assert.EqualValues(t, 42, e.TokensUsed())
}

func TestEnricher_Summarize_ToleratesCodeFence(t *testing.T) {
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Message: llm.Message{Role: "assistant", Content: "```json\n{\"summary\": \"fenced\"}\n```"},
				Done:    true,
			}, nil
		},
	}
	e := NewEnricher(provider, nil)

	summary, _, level := e.Summarize(context.Background(), "text", SummaryContext{Kind: EnrichFile})

	assert.Equal(t, "fenced", summary)
	assert.Equal(t, EnrichmentLLMSummary, level)
}

func TestEnricher_Summarize_SchemaViolationFallsBackAfterReinforcedRetry(t *testing.T) {
	calls := 0
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			calls++
			return &llm.ChatResponse{
				Message: llm.Message{Role: "assistant", Content: "not json at all"},
				Done:    true,
			}, nil
		},
	}
	e := NewEnricher(provider, nil)

	summary, tokens, level := e.Summarize(context.Background(), "text", SummaryContext{
		Kind:        EnrichFile,
		SymbolNames: []string{"Foo", "Bar"},
	})

	require.Equal(t, 2, calls, "expected exactly one reinforced retry on schema violation")
	assert.Equal(t, "Foo, Bar", summary)
	assert.Equal(t, 0, tokens)
	assert.Equal(t, EnrichmentBasic, level)
}

func TestEnricher_Summarize_ProviderErrorFallsBack(t *testing.T) {
	provider := &llm.MockProvider{
		ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, assertError{"connection refused"}
		},
	}
	e := NewEnricher(provider, nil)

	summary, tokens, level := e.Summarize(context.Background(), "text", SummaryContext{
		Kind:     EnrichModule,
		KeyFiles: []string{"b.go", "a.go"},
	})

	assert.Equal(t, "key files: a.go, b.go", summary)
	assert.Equal(t, 0, tokens)
	assert.Equal(t, EnrichmentBasic, level)
}

func TestEnricher_FallbackSummary_Repo(t *testing.T) {
	e := NewEnricher(&llm.MockProvider{}, nil)

	summary := e.fallbackSummary(SummaryContext{
		Kind:              EnrichRepo,
		LanguageHistogram: map[string]int{"go": 10, "python": 2},
		TopLevelDirs:      []string{"pkg", "cmd"},
	})

	assert.Equal(t, "languages: go (10), python (2); top-level: cmd, pkg", summary)
}

// assertError is a minimal error implementation for provider-failure tests.
type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
