package matcher

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
)

var (
	pyImportRe     = regexp.MustCompile(`(?m)^import\s+([\w.]+)(?:\s+as\s+(\w+))?`)
	pyFromImportRe = regexp.MustCompile(`(?m)^from\s+([\w.]+)\s+import\s+(.+)$`)
	jsImportRe     = regexp.MustCompile(`(?m)^import\s+(?:(\w+)|\{([^}]+)\}|\*\s+as\s+(\w+))\s+from\s+['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`(?m)(?:const|let|var)\s+(\w+)\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`)
	goImportRe     = regexp.MustCompile(`(?m)^\s*(?:(\w+)\s+)?"([\w./-]+)"`)
	goImportBlock  = regexp.MustCompile(`(?ms)^import\s+\((.*?)\)`)
	goImportOneRe  = regexp.MustCompile(`(?m)^import\s+(?:(\w+)\s+)?"([\w./-]+)"`)
	javaImportRe   = regexp.MustCompile(`(?m)^import\s+(?:static\s+)?([\w.]+)\s*;`)
)

// extractImports builds the file's alias-to-module map and emits one
// IMPORTS edge per imported module from the File node. The alias map is
// used by later passes to resolve partially-qualified names.
func (m *Matcher) extractImports(file *mesh.SourceFile, ctx *fileContext, edges *[]mesh.Edge, meta mesh.Extraction) map[string]string {
	aliases := make(map[string]string)
	seen := make(map[string]bool)

	emit := func(module string) {
		if module == "" || seen[module] {
			return
		}
		seen[module] = true
		*edges = append(*edges, mesh.Edge{
			ID:         uuid.New().String(),
			Type:       mesh.EdgeImports,
			From:       ctx.fileNode.ID,
			To:         mesh.UnresolvedTarget(module),
			Extraction: meta,
		})
	}

	switch file.Language {
	case mesh.LangPython:
		for _, g := range pyImportRe.FindAllStringSubmatch(file.Content, -1) {
			module, alias := g[1], g[2]
			emit(module)
			if alias != "" {
				aliases[alias] = module
			} else {
				aliases[module] = module
			}
		}
		for _, g := range pyFromImportRe.FindAllStringSubmatch(file.Content, -1) {
			module, names := g[1], g[2]
			emit(module)
			for _, part := range strings.Split(names, ",") {
				name := strings.TrimSpace(part)
				if i := strings.Index(name, " as "); i >= 0 {
					aliases[strings.TrimSpace(name[i+4:])] = module + "." + strings.TrimSpace(name[:i])
					continue
				}
				if name != "" && name != "*" {
					aliases[name] = module + "." + name
				}
			}
		}

	case mesh.LangJavaScript, mesh.LangTypeScript:
		for _, g := range jsImportRe.FindAllStringSubmatch(file.Content, -1) {
			def, named, ns, module := g[1], g[2], g[3], g[4]
			emit(module)
			if def != "" {
				aliases[def] = module
			}
			if ns != "" {
				aliases[ns] = module
			}
			for _, part := range strings.Split(named, ",") {
				name := strings.TrimSpace(part)
				if i := strings.Index(name, " as "); i >= 0 {
					aliases[strings.TrimSpace(name[i+4:])] = module + "." + strings.TrimSpace(name[:i])
					continue
				}
				if name != "" {
					aliases[name] = module + "." + name
				}
			}
		}
		for _, g := range jsRequireRe.FindAllStringSubmatch(file.Content, -1) {
			emit(g[2])
			aliases[g[1]] = g[2]
		}

	case mesh.LangGo:
		for _, block := range goImportBlock.FindAllStringSubmatch(file.Content, -1) {
			for _, g := range goImportRe.FindAllStringSubmatch(block[1], -1) {
				alias, module := g[1], g[2]
				emit(module)
				if alias == "" {
					alias = module[strings.LastIndex(module, "/")+1:]
				}
				aliases[alias] = module
			}
		}
		for _, g := range goImportOneRe.FindAllStringSubmatch(file.Content, -1) {
			alias, module := g[1], g[2]
			emit(module)
			if alias == "" {
				alias = module[strings.LastIndex(module, "/")+1:]
			}
			aliases[alias] = module
		}

	case mesh.LangJava, mesh.LangKotlin, mesh.LangCSharp:
		re := javaImportRe
		if file.Language == mesh.LangCSharp {
			re = regexp.MustCompile(`(?m)^using\s+([\w.]+)\s*;`)
		}
		for _, g := range re.FindAllStringSubmatch(file.Content, -1) {
			module := g[1]
			emit(module)
			aliases[module[strings.LastIndex(module, ".")+1:]] = module
		}
	}

	return aliases
}
