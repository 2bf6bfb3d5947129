package mesh

import (
	"strings"
	"time"
)

// SourceFile is an immutable view of one file on disk at load time.
// It is never mutated after construction.
type SourceFile struct {
	AbsPath  string
	RelPath  string
	Content  string
	Language Language
	Size     int64
	ModTime  time.Time

	lines []string
}

// NewSourceFile builds a SourceFile and precomputes its line split.
func NewSourceFile(absPath, relPath, content string, lang Language, size int64, modTime time.Time) *SourceFile {
	return &SourceFile{
		AbsPath:  absPath,
		RelPath:  relPath,
		Content:  content,
		Language: lang,
		Size:     size,
		ModTime:  modTime,
		lines:    strings.Split(content, "\n"),
	}
}

// Lines returns the file content split on newlines. The slice is shared;
// callers must not modify it.
func (f *SourceFile) Lines() []string {
	if f.lines == nil {
		f.lines = strings.Split(f.Content, "\n")
	}
	return f.lines
}

// LineCount returns the number of lines in the file.
func (f *SourceFile) LineCount() int { return len(f.Lines()) }

// LineAt returns the 1-based line n, or "" when out of range.
func (f *SourceFile) LineAt(n int) string {
	lines := f.Lines()
	if n < 1 || n > len(lines) {
		return ""
	}
	return lines[n-1]
}

// LineOfOffset converts a byte offset into a 1-based line number.
func (f *SourceFile) LineOfOffset(offset int) int {
	if offset < 0 {
		return 1
	}
	if offset > len(f.Content) {
		offset = len(f.Content)
	}
	return 1 + strings.Count(f.Content[:offset], "\n")
}

// Snippet returns lines [start, end] (1-based, inclusive) joined with
// newlines, clamped to the file bounds.
func (f *SourceFile) Snippet(start, end int) string {
	lines := f.Lines()
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// Language identifies the detected source language of a file.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangGo         Language = "go"
	LangJava       Language = "java"
	LangCSharp     Language = "csharp"
	LangRuby       Language = "ruby"
	LangRust       Language = "rust"
	LangPHP        Language = "php"
	LangKotlin     Language = "kotlin"
	LangUnknown    Language = ""
)

// WhitespaceScoped reports whether scope boundaries in the language are
// determined by indentation rather than braces.
func (l Language) WhitespaceScoped() bool {
	return l == LangPython
}
