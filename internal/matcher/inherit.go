package matcher

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
)

var (
	pyClassHeaderRe   = regexp.MustCompile(`(?m)^class\s+(\w+)\s*\(([^)]*)\)\s*:`)
	braceClassRe      = regexp.MustCompile(`(?m)class\s+(\w+)(?:\s+extends\s+([\w.,\s]+?))?(?:\s+implements\s+([\w.,\s]+?))?\s*\{`)
	interfaceExtendRe = regexp.MustCompile(`(?m)interface\s+(\w+)\s+extends\s+([\w.,\s]+?)\s*\{`)
)

// nonSemanticBases are base classes that carry no architectural meaning;
// inheriting from them does not produce an edge.
var nonSemanticBases = map[string]bool{
	"object": true, "type": true, "ABC": true, "abc.ABC": true,
	"Protocol": true, "typing.Protocol": true, "Generic": true,
	"Object": true, "Enum": true, "enum.Enum": true, "NamedTuple": true,
	"TypedDict": true, "Exception": true, "BaseException": true,
}

// extractInheritance parses class headers per language and emits INHERITS
// and IMPLEMENTS edges from the class node to each semantic base, resolved
// to a same-file class when possible and otherwise left as a symbolic
// name. Aliased bases are expanded through the import alias map first.
func (m *Matcher) extractInheritance(file *mesh.SourceFile, ctx *fileContext, aliases map[string]string, edges *[]mesh.Edge, meta mesh.Extraction) {
	switch file.Language {
	case mesh.LangPython:
		for _, g := range pyClassHeaderRe.FindAllStringSubmatch(file.Content, -1) {
			className, baseList := g[1], g[2]
			for _, base := range splitBases(baseList) {
				m.emitBaseEdge(ctx, className, base, mesh.EdgeInherits, aliases, edges, meta)
			}
		}

	case mesh.LangJavaScript, mesh.LangTypeScript, mesh.LangJava:
		for _, g := range braceClassRe.FindAllStringSubmatch(file.Content, -1) {
			className, extends, implements := g[1], g[2], g[3]
			for _, base := range splitBases(extends) {
				m.emitBaseEdge(ctx, className, base, mesh.EdgeInherits, aliases, edges, meta)
			}
			for _, iface := range splitBases(implements) {
				m.emitBaseEdge(ctx, className, iface, mesh.EdgeImplements, aliases, edges, meta)
			}
		}
		for _, g := range interfaceExtendRe.FindAllStringSubmatch(file.Content, -1) {
			ifaceName, extends := g[1], g[2]
			for _, base := range splitBases(extends) {
				m.emitBaseEdge(ctx, ifaceName, base, mesh.EdgeInherits, aliases, edges, meta)
			}
		}
	}
}

// splitBases splits a comma-separated base list, dropping keyword
// arguments (metaclass=...) and empty entries.
func splitBases(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		base := strings.TrimSpace(part)
		if base == "" || strings.Contains(base, "=") || base == "*" {
			continue
		}
		out = append(out, base)
	}
	return out
}

func (m *Matcher) emitBaseEdge(ctx *fileContext, className, base string, edgeType mesh.EdgeType, aliases map[string]string, edges *[]mesh.Edge, meta mesh.Extraction) {
	if nonSemanticBases[base] {
		return
	}

	classNode, ok := ctx.resolve(className)
	if !ok {
		return
	}

	edge := mesh.Edge{
		ID:         uuid.New().String(),
		Type:       edgeType,
		From:       classNode.ID,
		Extraction: meta,
	}
	if target, ok := ctx.resolve(base); ok && target.ID != classNode.ID {
		edge.To = mesh.ResolvedTarget(target.ID)
	} else {
		name := base
		if expanded, ok := aliases[base]; ok {
			name = expanded
		}
		edge.To = mesh.UnresolvedTarget(name)
	}
	*edges = append(*edges, edge)
}
