package files

import (
	"path/filepath"
	"strings"

	"github.com/draagon/codemesh/internal/mesh"
)

var extLanguages = map[string]mesh.Language{
	".py":   mesh.LangPython,
	".pyi":  mesh.LangPython,
	".js":   mesh.LangJavaScript,
	".jsx":  mesh.LangJavaScript,
	".mjs":  mesh.LangJavaScript,
	".cjs":  mesh.LangJavaScript,
	".ts":   mesh.LangTypeScript,
	".tsx":  mesh.LangTypeScript,
	".go":   mesh.LangGo,
	".java": mesh.LangJava,
	".cs":   mesh.LangCSharp,
	".rb":   mesh.LangRuby,
	".rs":   mesh.LangRust,
	".php":  mesh.LangPHP,
	".kt":   mesh.LangKotlin,
	".kts":  mesh.LangKotlin,
}

// DetectLanguage maps a file path to a source language by extension.
// Returns mesh.LangUnknown for anything unrecognized.
func DetectLanguage(path string) mesh.Language {
	ext := strings.ToLower(filepath.Ext(path))
	return extLanguages[ext]
}

// SupportedExtensions returns the extensions the scanner treats as source
// code, with leading dot.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extLanguages))
	for ext := range extLanguages {
		out = append(out, ext)
	}
	return out
}
