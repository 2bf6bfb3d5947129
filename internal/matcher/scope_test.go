package matcher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/draagon/codemesh/internal/mesh"
)

// Test Plan for scope detection and transforms:
// - Indent scope skips blank and comment-only lines without ending
// - Indent scope ends before the first sibling at header indentation
// - Tabs count as 4 columns
// - Brace scope returns the header line when no brace opens nearby
// - Unclosed brace blocks extend to end of file
// - Capture transforms cover case, trim, camelCase, and snake_case

func srcFile(lang mesh.Language, lines ...string) *mesh.SourceFile {
	content := strings.Join(lines, "\n")
	return mesh.NewSourceFile("/src/f", "f", content, lang, int64(len(content)), time.Now())
}

func TestIndentScopeEnd(t *testing.T) {
	t.Parallel()

	f := srcFile(mesh.LangPython,
		"def outer():",
		"    a = 1",
		"",
		"    # comment at any indent",
		"    b = 2",
		"c = 3",
	)
	assert.Equal(t, 5, indentScopeEnd(f, 1))

	tabbed := srcFile(mesh.LangPython,
		"class C:",
		"\tdef m(self):",
		"\t\treturn 1",
		"x = 0",
	)
	assert.Equal(t, 3, indentScopeEnd(tabbed, 1))
	assert.Equal(t, 3, indentScopeEnd(tabbed, 2))

	// Header with nothing below stays a one-liner.
	single := srcFile(mesh.LangPython, "def f():", "pass_at_top_level()")
	assert.Equal(t, 1, indentScopeEnd(single, 1))
}

func TestBraceScopeEnd(t *testing.T) {
	t.Parallel()

	// Opening brace on the line after the header still counts.
	f := srcFile(mesh.LangJava,
		"class A",
		"{",
		"  void m() {}",
		"}",
	)
	assert.Equal(t, 4, braceScopeEnd(f, 1))

	// No brace within two lines of the header: scope is the header line.
	bare := srcFile(mesh.LangJava,
		"class A;",
		"int x;",
		"int y;",
		"int z;",
	)
	assert.Equal(t, 1, braceScopeEnd(bare, 1))

	// Unclosed block runs to end of file.
	open := srcFile(mesh.LangTypeScript,
		"class A {",
		"  method() {",
		"}",
	)
	assert.Equal(t, 3, braceScopeEnd(open, 1))
}

func TestApplyTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value     string
		transform string
		want      string
	}{
		{"Hello", "lowercase", "hello"},
		{"hello", "uppercase", "HELLO"},
		{"  padded  ", "trim", "padded"},
		{"user_service_name", "camelcase", "userServiceName"},
		{"UserServiceName", "snakecase", "user_service_name"},
		{"untouched", "", "untouched"},
		{"untouched", "bogus", "untouched"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, applyTransform(tt.value, tt.transform), "%s(%q)", tt.transform, tt.value)
	}
}
