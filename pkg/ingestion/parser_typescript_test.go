package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTSSource(t *testing.T, name, lang, code string) *ParseResult {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(tmpFile, []byte(code), 0644))

	parser := NewTreeSitterParser(nil)
	result, err := parser.ParseFile(FileInfo{
		Path:     name,
		FullPath: tmpFile,
		Size:     int64(len(code)),
		Language: lang,
	})
	require.NoError(t, err)
	return result
}

func TestTypeScriptParser_Functions(t *testing.T) {
	result := parseTSSource(t, "simple.ts", "typescript", `function add(a: number, b: number): number {
    return a + b;
}

function subtract(a: number, b: number): number {
    return a - b;
}
`)

	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
		assert.Equal(t, KindFunction, sym.Kind)
	}
	assert.True(t, names["add"])
	assert.True(t, names["subtract"])
}

func TestTypeScriptParser_ArrowFunctions(t *testing.T) {
	result := parseTSSource(t, "arrow.ts", "typescript", `const double = (x: number): number => x * 2;
const greet = (name: string): string => "hi " + name;
`)

	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
	}
	assert.True(t, names["double"])
	assert.True(t, names["greet"])
}

func TestTypeScriptParser_ClassesNestMethods(t *testing.T) {
	result := parseTSSource(t, "class_methods.ts", "typescript", `class UserService {
    constructor(private db: Database) {}

    find(id: string): User {
        return this.db.get(id);
    }
}
`)

	require.Len(t, result.Symbols, 1)
	cls := result.Symbols[0]
	assert.Equal(t, "UserService", cls.Name)
	assert.Equal(t, KindClass, cls.Kind)
	require.Len(t, cls.Methods, 2)
	assert.Equal(t, "constructor", cls.Methods[0].Name)
	assert.Equal(t, "find", cls.Methods[1].Name)
}

func TestTypeScriptParser_Interfaces(t *testing.T) {
	result := parseTSSource(t, "interface.ts", "typescript", `interface User {
    id: string;
}

interface Repository {
    find(id: string): User;
}
`)

	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
		assert.Equal(t, KindClass, sym.Kind)
	}
	assert.True(t, names["User"])
	assert.True(t, names["Repository"])
}

func TestTypeScriptParser_AsyncFunctions(t *testing.T) {
	result := parseTSSource(t, "async.ts", "typescript", `async function fetchData(url: string): Promise<string> {
    return await fetch(url).then(r => r.text());
}

async function processItems(items: string[]): Promise<void> {
    for (const item of items) {
        await fetchData(item);
    }
}
`)

	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
	}
	assert.True(t, names["fetchData"])
	assert.True(t, names["processItems"])
}

func TestTypeScriptParser_JavaScript(t *testing.T) {
	result := parseTSSource(t, "class.js", "javascript", `class Calculator {
    constructor() {
        this.value = 0;
    }

    add(x) {
        this.value += x;
        return this;
    }
}

function greet(name) {
    return "Hello, " + name;
}
`)

	var cls *ParsedSymbol
	funcCount := 0
	for i := range result.Symbols {
		if result.Symbols[i].Kind == KindClass {
			cls = &result.Symbols[i]
		} else {
			funcCount++
		}
	}
	require.NotNil(t, cls)
	assert.Len(t, cls.Methods, 2)
	assert.Equal(t, 1, funcCount)
}

func TestTypeScriptParser_EmptyFile(t *testing.T) {
	result := parseTSSource(t, "empty.ts", "typescript", "")
	assert.Len(t, result.Symbols, 0)
}

func TestTypeScriptParser_Idempotent(t *testing.T) {
	code := `function foo() {}
function bar() {}
`
	tmpFile := filepath.Join(t.TempDir(), "idempotency.ts")
	require.NoError(t, os.WriteFile(tmpFile, []byte(code), 0644))
	parser := NewTreeSitterParser(nil)
	fileInfo := FileInfo{Path: "idempotency.ts", FullPath: tmpFile, Size: int64(len(code)), Language: "typescript"}

	r1, err := parser.ParseFile(fileInfo)
	require.NoError(t, err)
	r2, err := parser.ParseFile(fileInfo)
	require.NoError(t, err)
	require.Len(t, r2.Symbols, len(r1.Symbols))
	for i := range r1.Symbols {
		assert.Equal(t, r1.Symbols[i].Name, r2.Symbols[i].Name)
	}
}
