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
	sitter "github.com/smacker/go-tree-sitter"
)

// parseProtobufSymbols walks a parsed .proto file and returns its services
// (with rpcs nested as methods), messages, and enums as ParsedSymbols
// (§4.4). Services are the natural Kind=class / rpc=method grouping in
// protobuf; messages and enums are emitted as standalone functions since
// neither nests further symbols worth indexing.
func parseProtobufSymbols(root *sitter.Node, content []byte) *ParseResult {
	result := &ParseResult{}
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "import":
			for i := 0; i < int(node.ChildCount()); i++ {
				c := node.Child(i)
				if c.Type() == "string" {
					result.Imports = append(result.Imports, unquoteJS(string(content[c.StartByte():c.EndByte()])))
				}
			}
			return
		case "service":
			result.Symbols = append(result.Symbols, extractProtoService(node, content))
			return
		case "message", "enum":
			if sym, ok := protoNamed(node, content, KindFunction); ok {
				result.Symbols = append(result.Symbols, sym)
			}
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return result
}

func extractProtoService(node *sitter.Node, content []byte) ParsedSymbol {
	start, end := nodeLines(node)
	sym := ParsedSymbol{Kind: KindClass, StartLine: start, EndLine: end}
	if name := protoServiceName(node, content); name != "" {
		sym.Name = name
	}
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "rpc" {
			if rpc, ok := protoNamed(n, content, KindMethod); ok {
				sym.Methods = append(sym.Methods, rpc)
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i))
	}
	return sym
}

// protoServiceName and protoNamed fall back to the first identifier child
// since the bundled grammar doesn't expose a "name" field for these nodes.
func protoServiceName(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		if c.Type() == "service_name" || c.Type() == "identifier" {
			return string(content[c.StartByte():c.EndByte()])
		}
	}
	return ""
}

func protoNamed(node *sitter.Node, content []byte, kind SymbolKind) (ParsedSymbol, bool) {
	var name string
	for i := 0; i < int(node.ChildCount()); i++ {
		c := node.Child(i)
		switch c.Type() {
		case "message_name", "enum_name", "rpc_name", "identifier":
			name = string(content[c.StartByte():c.EndByte()])
		}
		if name != "" {
			break
		}
	}
	if name == "" {
		return ParsedSymbol{}, false
	}
	start, end := nodeLines(node)
	return ParsedSymbol{Name: name, Kind: kind, StartLine: start, EndLine: end}, true
}
