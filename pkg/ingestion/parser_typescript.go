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
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"
)

// parseTypeScriptSymbols walks a parsed TypeScript/JavaScript file and
// returns its classes, interfaces, and functions as a nested ParsedSymbol
// tree (§4.4). Unlike Go, class bodies here are physically nested in the
// source, so class methods are extracted directly from the class_body node.
func parseTypeScriptSymbols(root *sitter.Node, content []byte) *ParseResult {
	result := &ParseResult{}
	anon := 0
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			if src := node.ChildByFieldName("source"); src != nil {
				result.Imports = append(result.Imports, unquoteJS(string(content[src.StartByte():src.EndByte()])))
			}
			return
		case "class_declaration":
			result.Symbols = append(result.Symbols, extractTSClass(node, content))
			return
		case "interface_declaration":
			if sym, ok := extractTSNamed(node, content, KindClass); ok {
				result.Symbols = append(result.Symbols, sym)
			}
			return
		case "function_declaration":
			if sym, ok := extractTSNamed(node, content, KindFunction); ok {
				result.Symbols = append(result.Symbols, sym)
			}
			return
		case "variable_declarator":
			if sym, ok := extractTSArrowBinding(node, content); ok {
				result.Symbols = append(result.Symbols, sym)
			}
			return
		case "arrow_function", "function_expression":
			if node.Parent() != nil && node.Parent().Type() == "variable_declarator" {
				break // handled by the variable_declarator case above
			}
			anon++
			start, end := nodeLines(node)
			result.Symbols = append(result.Symbols, ParsedSymbol{
				Name:      anonSymbolName(anon),
				Kind:      KindFunction,
				StartLine: start,
				EndLine:   end,
			})
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return result
}

func extractTSClass(node *sitter.Node, content []byte) ParsedSymbol {
	nameNode := node.ChildByFieldName("name")
	start, end := nodeLines(node)
	sym := ParsedSymbol{Kind: KindClass, StartLine: start, EndLine: end}
	if nameNode != nil {
		sym.Name = string(content[nameNode.StartByte():nameNode.EndByte()])
	}
	sym.Docstring = cleanGoComment(leadingComment(node, content, "comment"))

	body := node.ChildByFieldName("body")
	if body == nil {
		return sym
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member.Type() != "method_definition" {
			continue
		}
		mNameNode := member.ChildByFieldName("name")
		if mNameNode == nil {
			continue
		}
		mStart, mEnd := nodeLines(member)
		sym.Methods = append(sym.Methods, ParsedSymbol{
			Name:      string(content[mNameNode.StartByte():mNameNode.EndByte()]),
			Kind:      KindMethod,
			StartLine: mStart,
			EndLine:   mEnd,
			Docstring: cleanGoComment(leadingComment(member, content, "comment")),
		})
	}
	return sym
}

func extractTSNamed(node *sitter.Node, content []byte, kind SymbolKind) (ParsedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ParsedSymbol{}, false
	}
	start, end := nodeLines(node)
	return ParsedSymbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      kind,
		StartLine: start,
		EndLine:   end,
		Docstring: cleanGoComment(leadingComment(node, content, "comment")),
	}, true
}

// extractTSArrowBinding handles `const add = (a, b) => a + b` style bindings,
// the idiomatic function-as-value form in TypeScript/JavaScript.
func extractTSArrowBinding(node *sitter.Node, content []byte) (ParsedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	valueNode := node.ChildByFieldName("value")
	if nameNode == nil || valueNode == nil {
		return ParsedSymbol{}, false
	}
	switch valueNode.Type() {
	case "arrow_function", "function_expression", "function":
	default:
		return ParsedSymbol{}, false
	}
	start, end := nodeLines(node)
	return ParsedSymbol{
		Name:      string(content[nameNode.StartByte():nameNode.EndByte()]),
		Kind:      KindFunction,
		StartLine: start,
		EndLine:   end,
	}, true
}

func anonSymbolName(n int) string {
	return "$anon_" + strconv.Itoa(n)
}

func unquoteJS(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}
