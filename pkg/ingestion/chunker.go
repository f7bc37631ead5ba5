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
	"regexp"
	"strings"

	"github.com/kraklabs/cie-ingest/pkg/llm"
)

// ChunkerPrompt selects which of the three LLM chunking prompt variants to
// issue for a flagged file (§4.5).
type ChunkerPrompt string

const (
	PromptEmbeddedCode  ChunkerPrompt = "embedded_code"
	PromptBusinessLogic ChunkerPrompt = "business_logic"
	PromptAPIContracts  ChunkerPrompt = "api_contracts"
)

// chunkerConfidenceThreshold is the minimum confidence an LLM-chunked
// candidate must report to survive into the merged symbol list (§4.5).
const chunkerConfidenceThreshold = 0.7

// hotPathPattern matches file paths the spec calls out as likely to hide
// business logic behind thin structural boundaries.
var hotPathPattern = regexp.MustCompile(`(?i)(service|handler|controller|view|router)`)

var (
	embeddedSQLPattern      = regexp.MustCompile(`(?is)\b(SELECT\s+.+?\s+FROM|INSERT\s+INTO\s+\w+|UPDATE\s+\w+\s+SET|DELETE\s+FROM\s+\w+)\b`)
	embeddedHTMLPattern     = regexp.MustCompile(`(?is)<[a-zA-Z][a-zA-Z0-9]*[^>]*>[^<]*</[a-zA-Z][a-zA-Z0-9]*>`)
	embeddedGraphQLPattern  = regexp.MustCompile(`(?is)\b(query|mutation|subscription)\s+\w*\s*\{`)
	// RE2 (Go's regexp) has no backreferences, so this only matches the
	// heredoc opener rather than confirming the closing marker repeats it.
	embeddedShellHeredocRe  = regexp.MustCompile(`(?s)<<[-~]?['"]?[A-Za-z_][A-Za-z0-9_]*['"]?\s*\n`)
	stringFormatCallPattern = regexp.MustCompile(`fmt\.Sprintf\(|\.format\(|f"[^"]*\{|f'[^']*\{|String\.format\(`)
)

// NeedsLLMChunking reports whether a file is under-chunked: structural
// parsing likely missed content an LLM could identify (§4.5). Any one of
// the five conditions is sufficient to flag the file.
func NeedsLLMChunking(path string, content []byte, result *ParseResult) bool {
	symCount := countSymbols(result.Symbols)
	size := len(content)

	if size >= 5000 && symCount <= 1 {
		return true
	}

	if symCount > 0 {
		lines := strings.Count(string(content), "\n") + 1
		if float64(lines)/float64(symCount) > 100 {
			return true
		}
	}

	if hasEmbeddedContent(content) {
		return true
	}

	if len(stringFormatCallPattern.FindAll(content, 6)) > 5 {
		return true
	}

	if hotPathPattern.MatchString(path) && symCount < 2 {
		return true
	}

	return false
}

func countSymbols(symbols []ParsedSymbol) int {
	n := len(symbols)
	for _, s := range symbols {
		n += countSymbols(s.Methods)
	}
	return n
}

func hasEmbeddedContent(content []byte) bool {
	return embeddedSQLPattern.Match(content) ||
		embeddedHTMLPattern.Match(content) ||
		embeddedGraphQLPattern.Match(content) ||
		embeddedShellHeredocRe.Match(content)
}

// SelectChunkerPrompt picks the prompt variant best matched to the signal
// that flagged the file.
func SelectChunkerPrompt(path string, content []byte) ChunkerPrompt {
	if hasEmbeddedContent(content) {
		return PromptEmbeddedCode
	}
	if hotPathPattern.MatchString(path) {
		return PromptAPIContracts
	}
	return PromptBusinessLogic
}

// chunkCandidate is the flat-JSON shape the LLM chunker returns per symbol
// candidate (§4.5).
type chunkCandidate struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// Chunker issues the optional LLM chunking pass for under-chunked files.
type Chunker struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewChunker wraps provider for chunking calls.
func NewChunker(provider llm.Provider, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{provider: provider, logger: logger}
}

// Chunk asks the LLM to identify symbols the structural parser missed in
// content, using the prompt variant selected by path/content. Candidates
// below chunkerConfidenceThreshold are dropped (§4.5).
func (c *Chunker) Chunk(ctx context.Context, path string, content []byte) ([]ParsedSymbol, error) {
	prompt := c.buildPrompt(path, content, SelectChunkerPrompt(path, content))

	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: chunkerSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("chunker: llm call failed: %w", err)
	}

	candidates, err := parseChunkCandidates(resp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("chunker: invalid reply: %w", err)
	}

	var symbols []ParsedSymbol
	for _, cand := range candidates {
		if cand.Confidence < chunkerConfidenceThreshold {
			continue
		}
		symbols = append(symbols, ParsedSymbol{
			Name:       cand.Name,
			Kind:       SymbolKind(cand.Kind),
			StartLine:  cand.StartLine,
			EndLine:    cand.EndLine,
			Tags:       cand.Tags,
			Confidence: cand.Confidence,
		})
	}
	return symbols, nil
}

const chunkerSystemPrompt = `You identify code spans a structural parser missed. Reply with a single JSON array of objects {"name": string, "kind": string, "start_line": int, "end_line": int, "tags": [string], "confidence": number between 0 and 1}. Reply with the array only, no surrounding text.`

func (c *Chunker) buildPrompt(path string, content []byte, prompt ChunkerPrompt) string {
	var instruction string
	switch prompt {
	case PromptEmbeddedCode:
		instruction = "Find spans of embedded content (SQL, HTML/JSX, GraphQL, shell heredocs) inside string literals and tag them with kind 'embedded:sql', 'embedded:html', 'embedded:graphql', or 'embedded:shell' as appropriate."
	case PromptAPIContracts:
		instruction = "This file sits on a hot request path (service/handler/controller/view/router) but the structural parser found few symbols. Find the request handlers, route bindings, and contract-defining functions or methods."
	default:
		instruction = "Find business-logic functions, methods, or classes the structural parser may have missed or merged together."
	}

	return fmt.Sprintf("%s\n\nFile: %s\n\n%s", instruction, path, string(content))
}

func parseChunkCandidates(content string) ([]chunkCandidate, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var candidates []chunkCandidate
	if err := json.Unmarshal([]byte(content), &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// MergeChunkedSymbols merges LLM-chunked candidates into the parser's
// symbol list, de-duplicating by overlapping line ranges and preferring
// the parser's result on conflict (§4.5).
func MergeChunkedSymbols(parserSymbols, chunked []ParsedSymbol) []ParsedSymbol {
	merged := append([]ParsedSymbol(nil), parserSymbols...)
	for _, cand := range chunked {
		if overlapsAny(cand, parserSymbols) {
			continue
		}
		merged = append(merged, cand)
	}
	return merged
}

func overlapsAny(cand ParsedSymbol, existing []ParsedSymbol) bool {
	for _, e := range existing {
		if rangesOverlap(cand.StartLine, cand.EndLine, e.StartLine, e.EndLine) {
			return true
		}
		if overlapsAny(cand, e.Methods) {
			return true
		}
	}
	return false
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}
