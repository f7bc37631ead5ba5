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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// parseGoSymbols walks a parsed Go file and returns its top-level functions
// and methods as a nested ParsedSymbol tree (§4.4). Go has no physical class
// body, so struct/interface types become Kind=class symbols and the methods
// whose receiver names that type are attached under Methods even though they
// are separate top-level declarations in the source - grouping by receiver
// is the Go-idiomatic equivalent of nesting.
func parseGoSymbols(root *sitter.Node, content []byte) *ParseResult {
	result := &ParseResult{}

	types := make(map[string]*ParsedSymbol)
	var order []string
	var orphanMethods []ParsedSymbol
	var funcs []ParsedSymbol

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			switch child.Type() {
			case "import_declaration":
				result.Imports = append(result.Imports, extractGoImportPaths(child, content)...)
			case "type_declaration":
				for _, sym := range extractGoTypeSymbols(child, content) {
					s := sym
					types[s.Name] = &s
					order = append(order, s.Name)
				}
			case "function_declaration":
				if sym, ok := extractGoFuncSymbol(child, content); ok {
					funcs = append(funcs, sym)
				}
			case "method_declaration":
				sym, receiver, ok := extractGoMethodSymbol(child, content)
				if !ok {
					break
				}
				if cls, found := types[receiver]; found {
					cls.Methods = append(cls.Methods, sym)
					if sym.EndLine > cls.EndLine {
						cls.EndLine = sym.EndLine
					}
				} else {
					sym.Name = receiver + "." + sym.Name
					orphanMethods = append(orphanMethods, sym)
				}
			}
			walk(child)
		}
	}
	walk(root)

	for _, name := range order {
		result.Symbols = append(result.Symbols, *types[name])
	}
	result.Symbols = append(result.Symbols, funcs...)
	result.Symbols = append(result.Symbols, orphanMethods...)
	return result
}

func extractGoImportPaths(node *sitter.Node, content []byte) []string {
	var paths []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "interpreted_string_literal" {
			raw := string(content[n.StartByte():n.EndByte()])
			paths = append(paths, strings.Trim(raw, `"`))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return paths
}

func extractGoFuncSymbol(node *sitter.Node, content []byte) (ParsedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ParsedSymbol{}, false
	}
	start, end := nodeLines(node)
	return ParsedSymbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      KindFunction,
		StartLine: start,
		EndLine:   end,
		Docstring: cleanGoComment(leadingComment(node, content, "comment")),
		Signature: goNodeSignature(node, content),
	}, true
}

func extractGoMethodSymbol(node *sitter.Node, content []byte) (sym ParsedSymbol, receiver string, ok bool) {
	nameNode := node.ChildByFieldName("name")
	recvNode := node.ChildByFieldName("receiver")
	if nameNode == nil || recvNode == nil {
		return ParsedSymbol{}, "", false
	}
	receiver = goReceiverTypeName(recvNode, content)
	if receiver == "" {
		return ParsedSymbol{}, "", false
	}
	start, end := nodeLines(node)
	sym = ParsedSymbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      KindMethod,
		StartLine: start,
		EndLine:   end,
		Docstring: cleanGoComment(leadingComment(node, content, "comment")),
		Signature: goNodeSignature(node, content),
	}
	return sym, receiver, true
}

// goNodeSignature returns the text of a function/method declaration up to
// (not including) its body, e.g. "func (s *Server) Run(ctx context.Context,
// q Querier) error" - exactly the form pkg/sigparse expects.
func goNodeSignature(node *sitter.Node, content []byte) string {
	end := node.EndByte()
	if body := node.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	}
	if end <= node.StartByte() {
		return ""
	}
	return strings.TrimSpace(string(content[node.StartByte():end]))
}

// goReceiverTypeName extracts "Server" from receivers shaped like
// "(s *Server)" or "(c *Container[T])".
func goReceiverTypeName(recvNode *sitter.Node, content []byte) string {
	for i := 0; i < int(recvNode.ChildCount()); i++ {
		param := recvNode.Child(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		typeNode := param.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		name := string(content[typeNode.StartByte():typeNode.EndByte()])
		name = strings.TrimPrefix(name, "*")
		if idx := strings.IndexByte(name, '['); idx >= 0 {
			name = name[:idx]
		}
		return name
	}
	return ""
}

func extractGoTypeSymbols(node *sitter.Node, content []byte) []ParsedSymbol {
	var out []ParsedSymbol
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		start, end := nodeLines(node)
		out = append(out, ParsedSymbol{
			Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
			Kind:      KindClass,
			StartLine: start,
			EndLine:   end,
			Docstring: cleanGoComment(leadingComment(node, content, "comment")),
		})
	}
	return out
}

func cleanGoComment(raw string) string {
	if raw == "" {
		return ""
	}
	lines := strings.Split(raw, "\n")
	var cleaned []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "//")
		l = strings.TrimPrefix(l, "/*")
		l = strings.TrimSuffix(l, "*/")
		cleaned = append(cleaned, strings.TrimSpace(l))
	}
	return strings.TrimSpace(strings.Join(cleaned, " "))
}
