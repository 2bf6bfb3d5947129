package matcher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// Test Plan for Matcher:
// - Always emit exactly one File node with confidence 1.0
// - Instantiate nodes with indent-based scope ends for Python
// - Instantiate nodes with brace-based scope ends, ignoring braces in
//   strings and comments
// - Apply capture transforms and defaults before property binding
// - Resolve edge endpoints against the running file context
//   (current_class, current_node, capture)
// - Emit IMPORTS edges from the File node with alias expansion
// - Emit CALLS edges, resolved to same-file functions where possible
// - Emit INHERITS/IMPLEMENTS edges from class headers, filtering
//   non-semantic bases
// - Backfill CONTAINS from the File node for orphan nodes
// - Score confidence as mean capture completeness plus schema boost
// - Record uncompiled/panicking patterns in UnresolvedPatterns
// - Produce identical structure on repeated runs over the same input

func pythonFile(t *testing.T, relPath, content string) *mesh.SourceFile {
	t.Helper()
	return mesh.NewSourceFile("/src/"+relPath, relPath, content, mesh.LangPython, int64(len(content)), time.Now())
}

func tsFile(t *testing.T, relPath, content string) *mesh.SourceFile {
	t.Helper()
	return mesh.NewSourceFile("/src/"+relPath, relPath, content, mesh.LangTypeScript, int64(len(content)), time.Now())
}

// pythonSchema mirrors the shape of the embedded python base rules: class,
// module-level function, and indented method patterns.
func pythonSchema(t *testing.T, boost float64) *schema.Schema {
	t.Helper()
	sc := &schema.Schema{
		Name:      "test-python",
		Language:  mesh.LangPython,
		Version:   "1.0.0",
		Detection: schema.Detection{ConfidenceBoost: boost},
		Extractors: map[string][]schema.Pattern{
			"classes": {{
				Name:  "class_def",
				Regex: `^class\s+(?P<name>\w+)`,
				Node:  &schema.NodeTemplate{Type: "Class", NameFrom: "name"},
			}},
			"functions": {
				{
					Name:  "function_def",
					Regex: `^def\s+(?P<name>\w+)`,
					Node:  &schema.NodeTemplate{Type: "Function", NameFrom: "name"},
				},
				{
					Name:  "method_def",
					Regex: `^[ \t]+def\s+(?P<name>\w+)`,
					Node:  &schema.NodeTemplate{Type: "Method", NameFrom: "name"},
					Edge: &schema.EdgeTemplate{
						Type: "CONTAINS",
						From: schema.Endpoint{Kind: schema.EndpointCurrentClass},
						To:   schema.Endpoint{Kind: schema.EndpointCurrentNode},
					},
				},
			},
		},
	}
	require.NoError(t, sc.Compile())
	return sc
}

func nodeByName(nodes []mesh.Node, name string) *mesh.Node {
	for i := range nodes {
		if nodes[i].Name == name {
			return &nodes[i]
		}
	}
	return nil
}

func edgesOfType(edges []mesh.Edge, et mesh.EdgeType) []mesh.Edge {
	var out []mesh.Edge
	for _, e := range edges {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

func TestMatch_PythonClassWithMethods(t *testing.T) {
	t.Parallel()

	source := strings.Join([]string{
		"import requests",
		"",
		"class Service(Base):",
		`    """Handles orders."""`,
		"",
		"    def __init__(self):",
		"        self.x = 1",
		"",
		"    def run(self):",
		"        return self.x",
		"",
		"def main():",
		"    svc = Service()",
		"    svc.run()",
	}, "\n")

	file := pythonFile(t, "service.py", source)
	result := New().Match(file, pythonSchema(t, 0.2), "proj-1")

	// File node first, confidence 1.0, spanning the whole file.
	require.NotEmpty(t, result.Nodes)
	fileNode := result.Nodes[0]
	assert.Equal(t, mesh.NodeFile, fileNode.Type)
	assert.Equal(t, "service.py", fileNode.Name)
	assert.Equal(t, 1.0, fileNode.Extraction.Confidence)
	assert.Equal(t, file.LineCount(), fileNode.Location.EndLine)

	// Class scope runs from the header through the last indented line.
	svc := nodeByName(result.Nodes, "Service")
	require.NotNil(t, svc)
	assert.Equal(t, mesh.NodeClass, svc.Type)
	assert.Equal(t, 3, svc.Location.StartLine)
	assert.Equal(t, 10, svc.Location.EndLine)

	// Methods land inside the class, module-level def does not.
	run := nodeByName(result.Nodes, "run")
	require.NotNil(t, run)
	assert.Equal(t, mesh.NodeMethod, run.Type)
	assert.Equal(t, 9, run.Location.StartLine)
	assert.Equal(t, 10, run.Location.EndLine)

	mainFn := nodeByName(result.Nodes, "main")
	require.NotNil(t, mainFn)
	assert.Equal(t, mesh.NodeFunction, mainFn.Type)
	assert.Equal(t, file.LineCount(), mainFn.Location.EndLine)

	// Methods get CONTAINS from the class, not backfilled from the file.
	contains := edgesOfType(result.Edges, mesh.EdgeContains)
	var classOwned int
	for _, e := range contains {
		if e.From == svc.ID {
			classOwned++
		}
	}
	assert.Equal(t, 2, classOwned, "both methods contained by the class")
	for _, e := range contains {
		if e.From == fileNode.ID {
			assert.NotEqual(t, run.ID, e.To.NodeID())
		}
	}

	// Inheritance from the class header; Base is not defined here.
	inherits := edgesOfType(result.Edges, mesh.EdgeInherits)
	require.Len(t, inherits, 1)
	assert.Equal(t, svc.ID, inherits[0].From)
	assert.False(t, inherits[0].To.Resolved())
	assert.Equal(t, "Base", inherits[0].To.Name())

	// Import edge from the File node.
	imports := edgesOfType(result.Edges, mesh.EdgeImports)
	require.Len(t, imports, 1)
	assert.Equal(t, fileNode.ID, imports[0].From)
	assert.Equal(t, "requests", imports[0].To.Name())

	// All captures participated, so confidence is 1.0 after the boost cap.
	assert.Equal(t, 1.0, result.Confidence)
	assert.Empty(t, result.UnresolvedPatterns)
}

func TestMatch_ContainsBackfill(t *testing.T) {
	t.Parallel()

	source := "def alone():\n    return 1\n"
	file := pythonFile(t, "alone.py", source)
	result := New().Match(file, pythonSchema(t, 0), "proj-1")

	fileNode := result.Nodes[0]
	fn := nodeByName(result.Nodes, "alone")
	require.NotNil(t, fn)

	contains := edgesOfType(result.Edges, mesh.EdgeContains)
	require.Len(t, contains, 1)
	assert.Equal(t, fileNode.ID, contains[0].From)
	assert.Equal(t, fn.ID, contains[0].To.NodeID())
}

func TestMatch_CallEdges(t *testing.T) {
	t.Parallel()

	source := strings.Join([]string{
		"def helper():",
		"    return 1",
		"",
		"def main():",
		"    value = helper()",
		"    print(value)",
		"    requests.get(url)",
	}, "\n")

	file := pythonFile(t, "calls.py", source)
	result := New().Match(file, pythonSchema(t, 0), "proj-1")

	helper := nodeByName(result.Nodes, "helper")
	mainFn := nodeByName(result.Nodes, "main")
	require.NotNil(t, helper)
	require.NotNil(t, mainFn)

	calls := edgesOfType(result.Edges, mesh.EdgeCalls)
	require.Len(t, calls, 2, "builtins are skipped, self-calls are skipped")

	var resolved, unresolvedName string
	for _, e := range calls {
		assert.Equal(t, mainFn.ID, e.From)
		if e.To.Resolved() {
			resolved = e.To.NodeID()
		} else {
			unresolvedName = e.To.Name()
		}
	}
	assert.Equal(t, helper.ID, resolved)
	assert.Equal(t, "requests.get", unresolvedName)
}

func TestMatch_InheritanceResolvedInFile(t *testing.T) {
	t.Parallel()

	source := strings.Join([]string{
		"class Base:",
		"    pass",
		"",
		"class Service(Base, object):",
		"    pass",
	}, "\n")

	file := pythonFile(t, "inherit.py", source)
	result := New().Match(file, pythonSchema(t, 0), "proj-1")

	base := nodeByName(result.Nodes, "Base")
	svc := nodeByName(result.Nodes, "Service")
	require.NotNil(t, base)
	require.NotNil(t, svc)

	// object is filtered; Base resolves to the node defined above.
	inherits := edgesOfType(result.Edges, mesh.EdgeInherits)
	require.Len(t, inherits, 1)
	assert.Equal(t, svc.ID, inherits[0].From)
	require.True(t, inherits[0].To.Resolved())
	assert.Equal(t, base.ID, inherits[0].To.NodeID())
}

func TestMatch_BraceScopeIgnoresStringsAndComments(t *testing.T) {
	t.Parallel()

	source := strings.Join([]string{
		"class Printer {",
		"  greet() {",
		`    return "hello { world";`,
		"  }",
		"  // stray } in a comment",
		"}",
		"",
		"class After {",
		"}",
	}, "\n")

	sc := &schema.Schema{
		Name:     "test-ts",
		Language: mesh.LangTypeScript,
		Version:  "1.0.0",
		Extractors: map[string][]schema.Pattern{
			"classes": {{
				Name:  "class_def",
				Regex: `^class\s+(?P<name>\w+)`,
				Node:  &schema.NodeTemplate{Type: "Class", NameFrom: "name"},
			}},
		},
	}
	require.NoError(t, sc.Compile())

	file := tsFile(t, "printer.ts", source)
	result := New().Match(file, sc, "proj-1")

	printer := nodeByName(result.Nodes, "Printer")
	require.NotNil(t, printer)
	assert.Equal(t, 1, printer.Location.StartLine)
	assert.Equal(t, 6, printer.Location.EndLine)

	after := nodeByName(result.Nodes, "After")
	require.NotNil(t, after)
	assert.Equal(t, 8, after.Location.StartLine)
	assert.Equal(t, 9, after.Location.EndLine)
}

func TestMatch_TransformsAndDefaults(t *testing.T) {
	t.Parallel()

	sc := &schema.Schema{
		Name:      "test-routes",
		Language:  mesh.LangPython,
		Version:   "1.0.0",
		Detection: schema.Detection{ConfidenceBoost: 0.3},
		Extractors: map[string][]schema.Pattern{
			"endpoints": {{
				Name:  "route",
				Regex: `^route\s+(?P<path>\S+)(?:\s+(?P<method>\w+))?`,
				Captures: map[string]schema.Capture{
					"path":   {Transform: "lowercase"},
					"method": {Transform: "uppercase", Default: "GET"},
				},
				Node: &schema.NodeTemplate{
					Type:     "ApiEndpoint",
					NameFrom: "path",
					Properties: map[string]schema.PropertySource{
						"http_method": {FromCapture: "method"},
						"framework":   {Literal: "fake"},
					},
				},
			}},
		},
	}
	require.NoError(t, sc.Compile())

	file := pythonFile(t, "routes.py", "route /Users post\nroute /Health\n")
	result := New().Match(file, sc, "proj-1")

	users := nodeByName(result.Nodes, "/users")
	require.NotNil(t, users)
	assert.Equal(t, mesh.NodeApiEndpoint, users.Type)
	assert.Equal(t, "POST", users.Properties.GetString("http_method"))
	assert.Equal(t, "fake", users.Properties.GetString("framework"))

	health := nodeByName(result.Nodes, "/health")
	require.NotNil(t, health)
	assert.Equal(t, "GET", health.Properties.GetString("http_method"), "default fills the missing group")

	// Every group filled after defaults, boost caps at 1.0.
	assert.Equal(t, 1.0, result.Confidence)
}

func TestMatch_NoMatchesScoresZero(t *testing.T) {
	t.Parallel()

	file := pythonFile(t, "empty.py", "# nothing here\n")
	result := New().Match(file, pythonSchema(t, 0.3), "proj-1")

	assert.Equal(t, 0.0, result.Confidence, "boost does not apply without matches")
	require.Len(t, result.Nodes, 1)
	assert.Equal(t, mesh.NodeFile, result.Nodes[0].Type)
	assert.Empty(t, result.Edges)
}

func TestMatch_UncompiledPatternRecorded(t *testing.T) {
	t.Parallel()

	sc := &schema.Schema{
		Name:     "broken",
		Language: mesh.LangPython,
		Extractors: map[string][]schema.Pattern{
			"classes": {{
				Name:  "class_def",
				Regex: `^class\s+(?P<name>\w+)`,
				Node:  &schema.NodeTemplate{Type: "Class", NameFrom: "name"},
			}},
		},
	}
	// Compile deliberately skipped.

	file := pythonFile(t, "svc.py", "class Service:\n    pass\n")
	result := New().Match(file, sc, "proj-1")

	assert.Equal(t, []string{"class_def"}, result.UnresolvedPatterns)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	source := strings.Join([]string{
		"class A:",
		"    def one(self):",
		"        two()",
		"",
		"def two():",
		"    pass",
	}, "\n")
	file := pythonFile(t, "det.py", source)
	sc := pythonSchema(t, 0.1)

	m := New()
	first := m.Match(file, sc, "proj-1")
	second := m.Match(file, sc, "proj-1")

	require.Len(t, second.Nodes, len(first.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].Type, second.Nodes[i].Type)
		assert.Equal(t, first.Nodes[i].Name, second.Nodes[i].Name)
		assert.Equal(t, first.Nodes[i].Location, second.Nodes[i].Location)
	}
	require.Len(t, second.Edges, len(first.Edges))
	for i := range first.Edges {
		assert.Equal(t, first.Edges[i].Type, second.Edges[i].Type)
		assert.Equal(t, first.Edges[i].To.Resolved(), second.Edges[i].To.Resolved())
	}
	assert.Equal(t, first.Confidence, second.Confidence)
}
