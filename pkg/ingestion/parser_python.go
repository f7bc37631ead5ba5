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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// parsePythonSymbols walks a parsed Python file and returns its classes
// (with methods nested), module-level functions, and lambdas as a nested
// ParsedSymbol tree (§4.4). Docstrings come from the string literal that is
// the first statement of a function/class body, per PEP 257.
func parsePythonSymbols(root *sitter.Node, content []byte) *ParseResult {
	result := &ParseResult{}
	lambdaCount := 0

	var walkTop func(node *sitter.Node)
	walkTop = func(node *sitter.Node) {
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			switch child.Type() {
			case "import_statement", "import_from_statement":
				result.Imports = append(result.Imports, extractPythonImportNames(child, content)...)
				continue
			case "class_definition":
				result.Symbols = append(result.Symbols, extractPythonClass(child, content))
				continue
			case "function_definition":
				if sym, ok := extractPythonFunc(child, content, ""); ok {
					result.Symbols = append(result.Symbols, sym)
				}
				continue
			}
			walkTop(child)
		}
	}
	walkTop(root)
	walkLambdas(root, content, &lambdaCount, &result.Symbols)
	return result
}

func extractPythonClass(node *sitter.Node, content []byte) ParsedSymbol {
	nameNode := node.ChildByFieldName("name")
	start, end := nodeLines(node)
	sym := ParsedSymbol{Kind: KindClass, StartLine: start, EndLine: end}
	if nameNode != nil {
		sym.Name = string(content[nameNode.StartByte():nameNode.EndByte()])
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return sym
	}
	sym.Docstring = pythonBlockDocstring(body, content)
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member.Type() != "function_definition" {
			continue
		}
		if m, ok := extractPythonFunc(member, content, ""); ok {
			m.Kind = KindMethod
			sym.Methods = append(sym.Methods, m)
		}
	}
	return sym
}

func extractPythonFunc(node *sitter.Node, content []byte, classPrefix string) (ParsedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ParsedSymbol{}, false
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	if classPrefix != "" {
		name = classPrefix + "." + name
	}
	start, end := nodeLines(node)
	sym := ParsedSymbol{Name: name, Kind: KindFunction, StartLine: start, EndLine: end}
	if body := node.ChildByFieldName("body"); body != nil {
		sym.Docstring = pythonBlockDocstring(body, content)
	}
	return sym, true
}

// pythonBlockDocstring returns the string literal that is the first
// statement of a class/function body, unquoted, or "" if there is none.
func pythonBlockDocstring(body *sitter.Node, content []byte) string {
	if body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	strNode := first.Child(0)
	if strNode.Type() != "string" {
		return ""
	}
	raw := string(content[strNode.StartByte():strNode.EndByte()])
	raw = strings.TrimPrefix(raw, "r")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return strings.TrimSpace(raw[len(q) : len(raw)-len(q)])
		}
	}
	return strings.TrimSpace(raw)
}

func walkLambdas(node *sitter.Node, content []byte, count *int, symbols *[]ParsedSymbol) {
	if node.Type() == "lambda" {
		*count++
		start, end := nodeLines(node)
		*symbols = append(*symbols, ParsedSymbol{
			Name:      "$lambda_" + strconv.Itoa(*count),
			Kind:      KindFunction,
			StartLine: start,
			EndLine:   end,
		})
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walkLambdas(node.Child(i), content, count, symbols)
	}
}

func extractPythonImportNames(node *sitter.Node, content []byte) []string {
	var names []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "dotted_name" || n.Type() == "identifier" {
			names = append(names, string(content[n.StartByte():n.EndByte()]))
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return names
}
