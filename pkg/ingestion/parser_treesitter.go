// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package ingestion

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/protobuf"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TreeSitterParser implements CodeParser with accurate AST-based extraction
// (§4.4). It keeps one compiled sitter.Parser per supported language so that
// repeated ParseFile calls don't re-load grammars.
type TreeSitterParser struct {
	goParser         *sitter.Parser
	pyParser         *sitter.Parser
	tsParser         *sitter.Parser
	jsParser         *sitter.Parser
	protoParser      *sitter.Parser
	maxCodeTextSize  int64
	truncatedCount   int32
	symbolMinLines   int
}

// NewTreeSitterParser builds a parser for the given languages. A nil or empty
// languages slice enables every supported grammar.
func NewTreeSitterParser(languages []string) *TreeSitterParser {
	want := func(lang string) bool {
		if len(languages) == 0 {
			return true
		}
		for _, l := range languages {
			if l == lang {
				return true
			}
		}
		return false
	}

	p := &TreeSitterParser{maxCodeTextSize: 1 << 20, symbolMinLines: 1}
	if want("go") {
		p.goParser = sitter.NewParser()
		p.goParser.SetLanguage(golang.GetLanguage())
	}
	if want("python") {
		p.pyParser = sitter.NewParser()
		p.pyParser.SetLanguage(python.GetLanguage())
	}
	if want("typescript") {
		p.tsParser = sitter.NewParser()
		p.tsParser.SetLanguage(typescript.GetLanguage())
	}
	if want("javascript") {
		p.jsParser = sitter.NewParser()
		p.jsParser.SetLanguage(javascript.GetLanguage())
	}
	if want("protobuf") {
		p.protoParser = sitter.NewParser()
		p.protoParser.SetLanguage(protobuf.GetLanguage())
	}
	return p
}

// SetMaxCodeTextSize bounds the CodeText the parser will read from disk for
// truncation-accounting purposes (§4.4 edge case: oversized files).
func (p *TreeSitterParser) SetMaxCodeTextSize(size int64) {
	p.maxCodeTextSize = size
}

// GetTruncatedCount reports how many files this parser truncated so far.
func (p *TreeSitterParser) GetTruncatedCount() int {
	return int(atomic.LoadInt32(&p.truncatedCount))
}

// ResetTruncatedCount zeroes the truncation counter, e.g. between runs.
func (p *TreeSitterParser) ResetTruncatedCount() {
	atomic.StoreInt32(&p.truncatedCount, 0)
}

// ParseFile dispatches to the language-specific extractor named by
// fileInfo.Language, falling back to an empty, non-error result for any
// language this parser doesn't recognize (§4.4: unsupported languages are
// skipped, not fatal).
func (p *TreeSitterParser) ParseFile(fileInfo FileInfo) (*ParseResult, error) {
	content, err := os.ReadFile(fileInfo.FullPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileInfo.Path, err)
	}
	if int64(len(content)) > p.maxCodeTextSize {
		atomic.AddInt32(&p.truncatedCount, 1)
		content = content[:p.maxCodeTextSize]
	}

	ctx := context.Background()
	switch fileInfo.Language {
	case "go":
		if p.goParser == nil {
			return &ParseResult{}, nil
		}
		tree, err := p.goParser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &ParseResult{}, nil
		}
		defer tree.Close()
		return parseGoSymbols(tree.RootNode(), content), nil
	case "python":
		if p.pyParser == nil {
			return &ParseResult{}, nil
		}
		tree, err := p.pyParser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &ParseResult{}, nil
		}
		defer tree.Close()
		return parsePythonSymbols(tree.RootNode(), content), nil
	case "typescript", "tsx":
		if p.tsParser == nil {
			return &ParseResult{}, nil
		}
		tree, err := p.tsParser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &ParseResult{}, nil
		}
		defer tree.Close()
		return parseTypeScriptSymbols(tree.RootNode(), content), nil
	case "javascript", "jsx":
		if p.jsParser == nil {
			return &ParseResult{}, nil
		}
		tree, err := p.jsParser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &ParseResult{}, nil
		}
		defer tree.Close()
		return parseTypeScriptSymbols(tree.RootNode(), content), nil
	case "protobuf", "proto":
		if p.protoParser == nil {
			return &ParseResult{}, nil
		}
		tree, err := p.protoParser.ParseCtx(ctx, nil, content)
		if err != nil {
			return &ParseResult{}, nil
		}
		defer tree.Close()
		return parseProtobufSymbols(tree.RootNode(), content), nil
	default:
		return &ParseResult{}, nil
	}
}

// nodeLines returns the 1-based start/end source lines covered by node.
func nodeLines(node *sitter.Node) (int, int) {
	return int(node.StartPoint().Row) + 1, int(node.EndPoint().Row) + 1
}

// leadingComment walks backward over a node's immediately preceding sibling
// comment nodes and joins their text, used as a symbol's Docstring when the
// language has no dedicated docstring literal (Go, TypeScript, Protobuf).
func leadingComment(node *sitter.Node, content []byte, commentType string) string {
	prev := node.PrevSibling()
	var lines []string
	for prev != nil && prev.Type() == commentType {
		lines = append([]string{string(content[prev.StartByte():prev.EndByte()])}, lines...)
		prev = prev.PrevSibling()
	}
	if len(lines) == 0 {
		return ""
	}
	joined := lines[0]
	for _, l := range lines[1:] {
		joined += "\n" + l
	}
	return joined
}
