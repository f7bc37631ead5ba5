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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func parseGoSource(t *testing.T, name, content string) *ParseResult {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	parser := NewTreeSitterParser(nil)
	result, err := parser.ParseFile(FileInfo{
		Path:     name,
		FullPath: tmpFile,
		Size:     int64(len(content)),
		Language: "go",
	})
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	return result
}

func TestTreeSitterParser_MethodsOnStructsAreNested(t *testing.T) {
	result := parseGoSource(t, "methods.go", `package main

type Server struct {
	port int
}

func (s *Server) Start() error {
	return nil
}

func (s Server) Port() int {
	return s.port
}

func NewServer(port int) *Server {
	return &Server{port: port}
}
`)

	var server *ParsedSymbol
	var funcCount int
	for i := range result.Symbols {
		if result.Symbols[i].Name == "Server" {
			server = &result.Symbols[i]
			continue
		}
		funcCount++
	}
	if server == nil {
		t.Fatal("expected to find Server class symbol")
	}
	if server.Kind != KindClass {
		t.Errorf("expected Server to be KindClass, got %s", server.Kind)
	}
	if len(server.Methods) != 2 {
		t.Errorf("expected 2 methods nested under Server, got %d", len(server.Methods))
	}
	if funcCount != 1 {
		t.Errorf("expected 1 top-level function (NewServer), got %d", funcCount)
	}
}

func TestTreeSitterParser_GoMethodsWithGenerics(t *testing.T) {
	result := parseGoSource(t, "generics_methods.go", `package main

type Container[T any] struct {
	value T
}

func (c *Container[T]) Get() T {
	return c.value
}

func (c *Container[T]) Set(v T) {
	c.value = v
}

func NewContainer[T any](v T) *Container[T] {
	return &Container[T]{value: v}
}
`)

	var container *ParsedSymbol
	for i := range result.Symbols {
		if result.Symbols[i].Name == "Container" {
			container = &result.Symbols[i]
		}
	}
	if container == nil {
		t.Fatal("expected to find Container class symbol")
	}
	if len(container.Methods) != 2 {
		t.Errorf("expected Get and Set nested under Container, got %d", len(container.Methods))
	}
}

func TestTreeSitterParser_GoInitFunctions(t *testing.T) {
	result := parseGoSource(t, "init.go", `package main

import "fmt"

func init() {
	fmt.Println("init 1")
}

func init() {
	fmt.Println("init 2")
}

func main() {
	fmt.Println("main")
}
`)

	initCount := 0
	for _, sym := range result.Symbols {
		if sym.Name == "init" {
			initCount++
		}
	}
	if initCount != 2 {
		t.Errorf("expected 2 init functions, got %d", initCount)
	}
}

func TestTreeSitterParser_CommentsWithFuncKeywordIgnored(t *testing.T) {
	result := parseGoSource(t, "comments.go", `package main

// This is a comment about func things
// func notAFunction() {} <- this should be ignored

func realFunction() {
	println("real")
}

// Another func mention in comments
func anotherReal() {
}
`)

	if len(result.Symbols) != 2 {
		t.Errorf("expected exactly 2 functions (not from comments), got %d", len(result.Symbols))
	}
}

func TestTreeSitterParser_GoDocstringFromLeadingComment(t *testing.T) {
	result := parseGoSource(t, "doc.go", `package main

// Greet prints a friendly hello.
func Greet() {
	println("hello")
}
`)

	if len(result.Symbols) != 1 {
		t.Fatalf("expected 1 function, got %d", len(result.Symbols))
	}
	if !strings.Contains(result.Symbols[0].Docstring, "Greet prints a friendly hello") {
		t.Errorf("expected docstring from leading comment, got %q", result.Symbols[0].Docstring)
	}
}

func TestTreeSitterParser_MalformedCodeStillExtractsValid(t *testing.T) {
	result := parseGoSource(t, "malformed.go", `package main

func validFunction() {
	println("valid")
}

// Missing closing brace
func brokenFunction() {
	println("broken"

func anotherValid() {
	println("another")
}
`)

	foundValid := false
	for _, sym := range result.Symbols {
		if sym.Name == "validFunction" {
			foundValid = true
		}
	}
	if !foundValid {
		t.Error("expected to find validFunction even with malformed code")
	}
}

func TestTreeSitterParser_UnsupportedLanguage(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test.xyz")
	content := "some content in unknown language"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	parser := NewTreeSitterParser(nil)
	result, err := parser.ParseFile(FileInfo{
		Path:     "test.xyz",
		FullPath: tmpFile,
		Size:     int64(len(content)),
		Language: "unknown",
	})
	if err != nil {
		t.Fatalf("parse file should not error for unsupported language: %v", err)
	}
	if len(result.Symbols) != 0 {
		t.Errorf("expected 0 symbols for unsupported language, got %d", len(result.Symbols))
	}
}

func TestTreeSitterParser_Imports(t *testing.T) {
	result := parseGoSource(t, "imports.go", `package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println(os.Args)
}
`)

	want := map[string]bool{"fmt": false, "os": false}
	for _, imp := range result.Imports {
		if _, ok := want[imp]; ok {
			want[imp] = true
		}
	}
	for imp, found := range want {
		if !found {
			t.Errorf("expected import %q to be extracted, imports: %v", imp, result.Imports)
		}
	}
}

func TestTreeSitterParser_Idempotency(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "idempotency.go")
	content := `package main

func foo() {
	println("foo")
}

func bar() {
	println("bar")
}
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	parser := NewTreeSitterParser(nil)
	fileInfo := FileInfo{Path: "idempotency.go", FullPath: tmpFile, Size: int64(len(content)), Language: "go"}

	result1, err := parser.ParseFile(fileInfo)
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	result2, err := parser.ParseFile(fileInfo)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if len(result1.Symbols) != len(result2.Symbols) {
		t.Errorf("symbol count differs: %d vs %d", len(result1.Symbols), len(result2.Symbols))
	}
	for i := range result1.Symbols {
		if result1.Symbols[i].Name != result2.Symbols[i].Name {
			t.Errorf("symbol %d name differs: %s vs %s", i, result1.Symbols[i].Name, result2.Symbols[i].Name)
		}
	}
}

func TestTreeSitterParser_LargeCodeTextTruncation(t *testing.T) {
	largeBody := strings.Repeat("println(\"line\")\n", 10000)
	tmpFile := filepath.Join(t.TempDir(), "large.go")
	content := "package main\n\nfunc largeFunction() {\n" + largeBody + "}\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	parser := NewTreeSitterParser(nil)
	parser.SetMaxCodeTextSize(1000)

	result, err := parser.ParseFile(FileInfo{
		Path:     "large.go",
		FullPath: tmpFile,
		Size:     int64(len(content)),
		Language: "go",
	})
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if parser.GetTruncatedCount() != 1 {
		t.Errorf("expected truncated count 1, got %d", parser.GetTruncatedCount())
	}
	if len(result.Symbols) != 1 {
		t.Errorf("expected 1 function even when source is truncated, got %d", len(result.Symbols))
	}
}
