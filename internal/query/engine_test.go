package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/store"
)

// Test Plan for the query engine:
// - Node/type/name lookups over the built snapshot
// - Outgoing includes unresolved targets, traversal does not
// - Dependencies honors the depth bound, nearest nodes first
// - Path follows resolved edges only
// - Search finds nodes by name token and by prefix
// - Edges pointing at unknown nodes are dropped without error

func testMesh() []store.FileMesh {
	meta := mesh.Extraction{Tier: mesh.Tier1, Confidence: 0.9, Timestamp: time.Now()}
	n := func(id string, t mesh.NodeType, name, file string, line int) mesh.Node {
		return mesh.Node{
			ID: id, Type: t, Name: name,
			Location:   mesh.Location{File: file, StartLine: line, EndLine: line + 3},
			Extraction: meta,
		}
	}
	edge := func(id string, t mesh.EdgeType, from string, to mesh.Target) mesh.Edge {
		return mesh.Edge{ID: id, Type: t, From: from, To: to, Extraction: meta}
	}

	return []store.FileMesh{
		{
			File: "app/api.py",
			Nodes: []mesh.Node{
				n("f1", mesh.NodeFile, "app/api.py", "app/api.py", 1),
				n("c1", mesh.NodeClass, "OrderService", "app/api.py", 3),
				n("m1", mesh.NodeMethod, "create_order", "app/api.py", 5),
			},
			Edges: []mesh.Edge{
				edge("e1", mesh.EdgeContains, "f1", mesh.ResolvedTarget("c1")),
				edge("e2", mesh.EdgeContains, "c1", mesh.ResolvedTarget("m1")),
				edge("e3", mesh.EdgeCalls, "m1", mesh.ResolvedTarget("h1")),
				edge("e4", mesh.EdgeCalls, "m1", mesh.UnresolvedTarget("requests.post")),
				edge("e5", mesh.EdgeCalls, "m1", mesh.ResolvedTarget("missing-node")),
			},
		},
		{
			File: "app/helpers.py",
			Nodes: []mesh.Node{
				n("h1", mesh.NodeFunction, "order_total", "app/helpers.py", 2),
				n("h2", mesh.NodeFunction, "order_tax", "app/helpers.py", 9),
			},
			Edges: []mesh.Edge{
				edge("e6", mesh.EdgeCalls, "h1", mesh.ResolvedTarget("h2")),
			},
		},
	}
}

func buildTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Build(testMesh())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_Lookups(t *testing.T) {
	t.Parallel()
	e := buildTestEngine(t)

	nodes, edges := e.Size()
	assert.Equal(t, 5, nodes)
	assert.Equal(t, 4, edges, "unresolved and dangling edges are not graph edges")

	n, ok := e.Node("c1")
	require.True(t, ok)
	assert.Equal(t, "OrderService", n.Name)

	functions := e.NodesByType(mesh.NodeFunction)
	require.Len(t, functions, 2)
	assert.Equal(t, "order_total", functions[0].Name, "ordered by file then line")

	byName := e.FindByName("order_tax")
	require.Len(t, byName, 1)
	assert.Equal(t, "h2", byName[0].ID)
}

func TestEngine_Edges(t *testing.T) {
	t.Parallel()
	e := buildTestEngine(t)

	calls := e.Outgoing("m1", mesh.EdgeCalls)
	require.Len(t, calls, 3, "unresolved and dangling call targets stay visible")

	all := e.Outgoing("m1", "")
	assert.Len(t, all, 3)

	incoming := e.Incoming("h1", mesh.EdgeCalls)
	require.Len(t, incoming, 1)
	assert.Equal(t, "m1", incoming[0].From)
}

func TestEngine_Dependencies(t *testing.T) {
	t.Parallel()
	e := buildTestEngine(t)

	one, err := e.Dependencies("c1", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "m1", one[0].ID)

	all, err := e.Dependencies("c1", 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, n := range all {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"m1", "h1", "h2"}, ids, "nearest first")

	_, err = e.Dependencies("ghost", 1)
	require.Error(t, err)
}

func TestEngine_Path(t *testing.T) {
	t.Parallel()
	e := buildTestEngine(t)

	path, err := e.Path("f1", "h2")
	require.NoError(t, err)
	ids := make([]string, len(path))
	for i, n := range path {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"f1", "c1", "m1", "h1", "h2"}, ids)

	_, err = e.Path("h2", "f1")
	require.Error(t, err, "edges are directed")
}

func TestEngine_Search(t *testing.T) {
	t.Parallel()
	e := buildTestEngine(t)

	hits, err := e.Search("order_total", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "h1", hits[0].Node.ID)

	hits, err = e.Search("order", 10)
	require.NoError(t, err)
	found := map[string]bool{}
	for _, h := range hits {
		found[h.Node.ID] = true
	}
	assert.True(t, found["h1"] || found["h2"] || found["m1"],
		"prefix search reaches order-named nodes")
}
