package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePythonSource(t *testing.T, name, code string) *ParseResult {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(tmpFile, []byte(code), 0644))

	parser := NewTreeSitterParser(nil)
	result, err := parser.ParseFile(FileInfo{
		Path:     name,
		FullPath: tmpFile,
		Size:     int64(len(code)),
		Language: "python",
	})
	require.NoError(t, err)
	return result
}

func TestPythonParser_Functions(t *testing.T) {
	result := parsePythonSource(t, "simple.py", `def add(a: int, b: int) -> int:
    return a + b

def subtract(a: int, b: int) -> int:
    return a - b
`)

	assert.Len(t, result.Symbols, 2)
	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
		assert.Equal(t, KindFunction, sym.Kind)
	}
	assert.True(t, names["add"])
	assert.True(t, names["subtract"])
}

func TestPythonParser_ClassesNestMethods(t *testing.T) {
	result := parsePythonSource(t, "class_methods.py", `class UserService:
    """Manages user records."""

    def __init__(self, db):
        self.db = db

    def find(self, user_id):
        return self.db.get(user_id)
`)

	require.Len(t, result.Symbols, 1)
	cls := result.Symbols[0]
	assert.Equal(t, "UserService", cls.Name)
	assert.Equal(t, KindClass, cls.Kind)
	assert.Equal(t, "Manages user records.", cls.Docstring)
	require.Len(t, cls.Methods, 2)
	assert.Equal(t, "__init__", cls.Methods[0].Name)
	assert.Equal(t, KindMethod, cls.Methods[0].Kind)
	assert.Equal(t, "find", cls.Methods[1].Name)
}

func TestPythonParser_FunctionDocstring(t *testing.T) {
	result := parsePythonSource(t, "doc.py", `def greet(name):
    """Greet someone by name."""
    return "hi " + name
`)

	require.Len(t, result.Symbols, 1)
	assert.Equal(t, "Greet someone by name.", result.Symbols[0].Docstring)
}

func TestPythonParser_Inheritance(t *testing.T) {
	result := parsePythonSource(t, "inheritance.py", `class Animal:
    def speak(self):
        pass

class Dog(Animal):
    def speak(self):
        return "Woof"

class Cat(Animal):
    def speak(self):
        return "Meow"
`)

	require.Len(t, result.Symbols, 3)
	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
		assert.Equal(t, KindClass, sym.Kind)
		assert.Len(t, sym.Methods, 1)
	}
	assert.True(t, names["Animal"])
	assert.True(t, names["Dog"])
	assert.True(t, names["Cat"])
}

func TestPythonParser_Lambda(t *testing.T) {
	result := parsePythonSource(t, "lambda_expr.py", `def apply_operation(x, op):
    return op(x)

double = lambda x: x * 2
`)

	names := make(map[string]bool)
	for _, sym := range result.Symbols {
		names[sym.Name] = true
	}
	assert.True(t, names["apply_operation"])

	hasLambda := false
	for name := range names {
		if len(name) > 7 && name[:7] == "$lambda" {
			hasLambda = true
		}
	}
	assert.True(t, hasLambda, "expected a $lambda_N symbol")
}

func TestPythonParser_EmptyFile(t *testing.T) {
	result := parsePythonSource(t, "empty.py", "")
	assert.Len(t, result.Symbols, 0)
}

func TestPythonParser_Idempotent(t *testing.T) {
	code := `def foo():
    pass

def bar():
    pass
`
	tmpFile := filepath.Join(t.TempDir(), "idempotency.py")
	require.NoError(t, os.WriteFile(tmpFile, []byte(code), 0644))
	parser := NewTreeSitterParser(nil)
	fileInfo := FileInfo{Path: "idempotency.py", FullPath: tmpFile, Size: int64(len(code)), Language: "python"}

	r1, err := parser.ParseFile(fileInfo)
	require.NoError(t, err)
	r2, err := parser.ParseFile(fileInfo)
	require.NoError(t, err)
	require.Len(t, r2.Symbols, len(r1.Symbols))
	for i := range r1.Symbols {
		assert.Equal(t, r1.Symbols[i].Name, r2.Symbols[i].Name)
		assert.Equal(t, r1.Symbols[i].StartLine, r2.Symbols[i].StartLine)
	}
}
