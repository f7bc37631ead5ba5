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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kraklabs/cie-ingest/pkg/llm"
)

// EnrichmentKind selects the flat-JSON prompt and fallback strategy
// Summarize uses for a given input (§4.6).
type EnrichmentKind string

const (
	EnrichSymbol EnrichmentKind = "symbol"
	EnrichFile   EnrichmentKind = "file"
	EnrichModule EnrichmentKind = "module"
	EnrichRepo   EnrichmentKind = "repo"
)

// SummaryContext carries the structural metadata Summarize needs to build
// its prompt and, if the LLM is unavailable, to build a deterministic
// fallback summary in its place (§4.6).
type SummaryContext struct {
	Kind EnrichmentKind

	// Used by the file and symbol fallbacks.
	SymbolNames    []string
	ModuleDocFirst string

	// Used by the module fallback.
	KeyFiles []string

	// Used by the repo fallback.
	LanguageHistogram map[string]int
	TopLevelDirs      []string
}

const (
	summarizeAttempts    = 3
	summarizeBackoffBase = 1 * time.Second
	summarizeBackoffMult = 4.0
	summarizeBackoffCap  = 16 * time.Second
	summarizeWallClock   = 60 * time.Second
)

const summarizeSystemPrompt = `You are a code summarization assistant. Reply with a single JSON object of the exact shape {"summary": "<text>"} and nothing else - no markdown fences, no commentary.`

// Enricher implements the C6 LLM Enricher: strictly-typed-prompt
// summarization wrapped in a process-wide circuit breaker, with a
// deterministic fallback when the LLM is unreachable or keeps replying
// out of schema.
type Enricher struct {
	breaker *llm.CircuitBreaker
	logger  *slog.Logger

	tokensUsed int64 // atomic; shared run counter (§4.6)
}

// NewEnricher wraps provider in a circuit breaker, composed around the
// teacher's llm.Provider interface rather than a new client abstraction.
func NewEnricher(provider llm.Provider, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		breaker: llm.NewCircuitBreaker(provider),
		logger:  logger,
	}
}

// TokensUsed returns the accumulated prompt+completion token count across
// every Summarize call issued by this enricher so far.
func (e *Enricher) TokensUsed() int64 {
	return atomic.LoadInt64(&e.tokensUsed)
}

// Summarize produces a summary for text under sctx. It never returns an
// error: a failed or out-of-schema LLM call falls back to a deterministic
// summary built from sctx, tagged enrichment_level = basic (§4.6).
func (e *Enricher) Summarize(ctx context.Context, text string, sctx SummaryContext) (summary string, tokensUsed int, level EnrichmentLevel) {
	reply, tokens, err := e.summarizeViaLLM(ctx, text, sctx)
	if err == nil {
		atomic.AddInt64(&e.tokensUsed, int64(tokens))
		return reply, tokens, EnrichmentLLMSummary
	}

	e.logger.Warn("enricher falling back to deterministic summary", "kind", sctx.Kind, "error", err)
	return e.fallbackSummary(sctx), 0, EnrichmentBasic
}

func (e *Enricher) summarizeViaLLM(ctx context.Context, text string, sctx SummaryContext) (string, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, summarizeWallClock)
	defer cancel()

	prompt := e.buildPrompt(text, sctx)

	content, tokens, err := e.chatWithRetry(callCtx, prompt)
	if err != nil {
		return "", tokens, err
	}
	reply, parseErr := parseSummaryReply(content)
	if parseErr == nil {
		return reply, tokens, nil
	}

	// Out-of-schema reply: one retry with a reinforced instruction (§4.6).
	reinforced := prompt + "\n\nYour previous reply did not match the required JSON shape. Return ONLY {\"summary\": \"...\"} with no surrounding text."
	content, moreTokens, err := e.chatWithRetry(callCtx, reinforced)
	tokens += moreTokens
	if err != nil {
		return "", tokens, err
	}
	reply, parseErr = parseSummaryReply(content)
	if parseErr != nil {
		return "", tokens, fmt.Errorf("enricher: reply did not match schema after reinforced retry: %w", parseErr)
	}
	return reply, tokens, nil
}

// chatWithRetry issues a chat completion through the breaker, retrying up
// to summarizeAttempts times with exponential backoff on network/5xx
// errors; a 4xx (or a breaker-open error) is not retried (§4.6).
func (e *Enricher) chatWithRetry(ctx context.Context, prompt string) (string, int, error) {
	var lastErr error

	for attempt := 0; attempt < summarizeAttempts; attempt++ {
		if attempt > 0 {
			d := computeBackoffWithJitter(summarizeBackoffBase, attempt-1, summarizeBackoffMult, summarizeBackoffCap)
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(d):
			}
		}

		resp, err := e.breaker.Chat(ctx, llm.ChatRequest{
			Messages: []llm.Message{
				{Role: "system", Content: summarizeSystemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: 0.2,
			MaxTokens:   512,
		})
		if err == nil {
			return resp.Message.Content, resp.TotalTokens, nil
		}
		lastErr = err
		if !isRetryableEmbeddingError(err) {
			return "", 0, err
		}
	}

	return "", 0, lastErr
}

// buildPrompt renders the flat-JSON-schema prompt for sctx.Kind. The schema
// is always the same {"summary": string} shape; only the instructions and
// the amount of context differ per kind.
func (e *Enricher) buildPrompt(text string, sctx SummaryContext) string {
	var b strings.Builder
	b.WriteString("Schema: {\"summary\": string}\n\n")

	switch sctx.Kind {
	case EnrichSymbol:
		b.WriteString("Summarize the following code symbol in one or two sentences, describing what it does and any notable side effects.\n\n")
	case EnrichFile:
		b.WriteString("Summarize the following file given its symbol summaries and a prefix of its source. Describe the file's overall purpose.\n\n")
	case EnrichModule:
		b.WriteString("Summarize the following directory given the summaries of its files and sub-directories. Describe the module's overall purpose. Do not restate file names verbatim, synthesize their purpose.\n\n")
	case EnrichRepo:
		b.WriteString("Summarize the following repository given its top-level module summaries. Describe the system's overall purpose and architecture.\n\n")
	}

	b.WriteString(text)
	return b.String()
}

// parseSummaryReply extracts the summary field from a chat reply, tolerating
// a markdown code fence around the JSON object (a common LLM tic even when
// explicitly told not to).
func parseSummaryReply(content string) (string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var reply struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return "", fmt.Errorf("reply is not valid JSON: %w", err)
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return "", fmt.Errorf("reply JSON had an empty summary field")
	}
	return reply.Summary, nil
}

// fallbackSummary builds the deterministic, LLM-free summary described in
// §4.6 for sctx.Kind.
func (e *Enricher) fallbackSummary(sctx SummaryContext) string {
	switch sctx.Kind {
	case EnrichSymbol:
		if sctx.ModuleDocFirst != "" {
			return sctx.ModuleDocFirst
		}
		return "undocumented symbol"

	case EnrichFile:
		names := strings.Join(sctx.SymbolNames, ", ")
		if names == "" {
			names = "no parsed symbols"
		}
		if sctx.ModuleDocFirst != "" {
			return fmt.Sprintf("%s. %s", names, sctx.ModuleDocFirst)
		}
		return names

	case EnrichModule:
		files := append([]string(nil), sctx.KeyFiles...)
		sort.Strings(files)
		return "key files: " + strings.Join(files, ", ")

	case EnrichRepo:
		langs := make([]string, 0, len(sctx.LanguageHistogram))
		for lang := range sctx.LanguageHistogram {
			langs = append(langs, fmt.Sprintf("%s (%d)", lang, sctx.LanguageHistogram[lang]))
		}
		sort.Strings(langs)
		dirs := append([]string(nil), sctx.TopLevelDirs...)
		sort.Strings(dirs)
		return fmt.Sprintf("languages: %s; top-level: %s", strings.Join(langs, ", "), strings.Join(dirs, ", "))

	default:
		return ""
	}
}
