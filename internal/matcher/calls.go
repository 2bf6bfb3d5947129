package matcher

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
)

// callSiteRe matches identifier-call syntax: a bare or dotted identifier
// followed by an opening paren.
var callSiteRe = regexp.MustCompile(`(?:^|[^\w.])([A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*)\s*\(`)

// nonCallKeywords holds per-language keywords and builtins that look like
// call sites but are not semantically calls worth an edge.
var nonCallKeywords = map[mesh.Language]map[string]bool{
	mesh.LangPython: setOf(
		"if", "elif", "while", "for", "return", "yield", "raise", "assert",
		"with", "lambda", "def", "class", "print", "len", "range", "str",
		"int", "float", "bool", "list", "dict", "set", "tuple", "type",
		"isinstance", "issubclass", "super", "enumerate", "zip", "map",
		"filter", "sorted", "getattr", "setattr", "hasattr", "open",
	),
	mesh.LangJavaScript: setOf(
		"if", "while", "for", "switch", "catch", "return", "function",
		"typeof", "require", "console.log", "console.error", "console.warn",
		"parseInt", "parseFloat", "String", "Number", "Boolean", "Array",
		"Object", "Promise", "setTimeout", "setInterval", "JSON.parse",
		"JSON.stringify",
	),
	mesh.LangTypeScript: setOf(
		"if", "while", "for", "switch", "catch", "return", "function",
		"typeof", "require", "console.log", "console.error", "console.warn",
		"parseInt", "parseFloat", "String", "Number", "Boolean", "Array",
		"Object", "Promise", "setTimeout", "setInterval", "JSON.parse",
		"JSON.stringify",
	),
	mesh.LangGo: setOf(
		"if", "for", "switch", "select", "go", "defer", "return", "func",
		"make", "new", "len", "cap", "append", "copy", "delete", "panic",
		"recover", "close", "print", "println",
	),
	mesh.LangJava: setOf(
		"if", "while", "for", "switch", "catch", "return", "new", "super",
		"this", "System.out.println", "System.err.println",
	),
}

func setOf(items ...string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

// extractCalls scans each function/method body for identifier-call syntax
// and emits CALLS edges: resolved to a same-file function node when the
// callee name matches one, otherwise carrying the callee as an unresolved
// symbolic name. One edge per (caller, callee) pair.
func (m *Matcher) extractCalls(file *mesh.SourceFile, ctx *fileContext, edges *[]mesh.Edge, meta mesh.Extraction) {
	keywords := nonCallKeywords[file.Language]

	for _, fn := range ctx.functions {
		body := file.Snippet(fn.Location.StartLine, fn.Location.EndLine)
		seen := make(map[string]bool)

		for _, g := range callSiteRe.FindAllStringSubmatch(body, -1) {
			callee := g[1]
			if callee == fn.Name || keywords[callee] || seen[callee] {
				continue
			}
			// Bare last segment of a dotted callee may still name a known
			// local function (e.g. self.helper()).
			target, resolved := ctx.resolve(callee)
			if !resolved {
				if last := lastSegment(callee); last != callee {
					target, resolved = ctx.resolve(last)
				}
			}
			if resolved && target.ID == fn.ID {
				continue
			}
			seen[callee] = true

			edge := mesh.Edge{
				ID:         uuid.New().String(),
				Type:       mesh.EdgeCalls,
				From:       fn.ID,
				Extraction: meta,
			}
			if resolved {
				edge.To = mesh.ResolvedTarget(target.ID)
			} else {
				edge.To = mesh.UnresolvedTarget(callee)
			}
			*edges = append(*edges, edge)
		}
	}
}

func lastSegment(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}
