package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagon/codemesh/internal/mesh"
)

// Test Plan for the mesh store:
// - Open creates the schema; stats on an empty store are zero
// - StoreFullExtraction persists nodes and edges and reports counts
// - A second full extraction replaces the previous one entirely
// - MergeIncrementalExtraction rewrites only the touched files
// - Merging the same result twice leaves the stored set unchanged
// - Deleted files are removed without replacement
// - Export regroups rows into per-file buckets with edges on the
//   source node's file, round-tripping properties and targets
// - Branches lists stored (project, branch) pairs

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mesh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedNode(name string, nodeType mesh.NodeType, file string) mesh.Node {
	return mesh.Node{
		ID:   uuid.New().String(),
		Type: nodeType,
		Name: name,
		Properties: mesh.Properties{
			"lang": mesh.StringValue("python"),
		},
		Location:  mesh.Location{File: file, StartLine: 1, EndLine: 5},
		ProjectID: "proj-1",
		Extraction: mesh.Extraction{
			Tier: mesh.Tier1, SchemaName: "base-python",
			Confidence: 0.9, Timestamp: time.Now().UTC(),
		},
	}
}

func resultWithFiles(files ...mesh.FileResult) *mesh.ProjectResult {
	return &mesh.ProjectResult{ProjectID: "proj-1", Root: "/src", Files: files}
}

func TestStore_FullExtractionReplaces(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := storedNode("ServiceA", mesh.NodeClass, "a.py")
	b := storedNode("ServiceB", mesh.NodeClass, "b.py")
	edge := mesh.Edge{
		ID:   uuid.New().String(),
		Type: mesh.EdgeCalls,
		From: a.ID,
		To:   mesh.UnresolvedTarget("requests.get"),
		Extraction: mesh.Extraction{
			Tier: mesh.Tier1, Confidence: 0.9, Timestamp: time.Now().UTC(),
		},
	}

	merge, err := s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{a}, Edges: []mesh.Edge{edge}},
		mesh.FileResult{File: "b.py", Nodes: []mesh.Node{b}},
	), "main", "abc123")
	require.NoError(t, err)
	assert.Equal(t, 2, merge.NodesAdded)
	assert.Equal(t, 1, merge.EdgesAdded)
	assert.Equal(t, []string{"a.py", "b.py"}, merge.FilesTouched)

	stats, err := s.Stats(ctx, "proj-1", "main")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.NodesByType["Class"])

	// Replacing run: only one file remains afterwards.
	c := storedNode("ServiceC", mesh.NodeClass, "c.py")
	merge, err = s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "c.py", Nodes: []mesh.Node{c}},
	), "main", "def456")
	require.NoError(t, err)
	assert.Equal(t, 2, merge.NodesDeleted)
	assert.Equal(t, 1, merge.EdgesDeleted)

	stats, err = s.Stats(ctx, "proj-1", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Nodes)
	assert.Equal(t, 0, stats.Edges)
}

func TestStore_BranchesAreIndependent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	mainNode := storedNode("OnMain", mesh.NodeFunction, "a.py")
	devNode := storedNode("OnDev", mesh.NodeFunction, "a.py")

	_, err := s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{mainNode}},
	), "main", "c1")
	require.NoError(t, err)
	_, err = s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{devNode}},
	), "dev", "c2")
	require.NoError(t, err)

	mainStats, err := s.Stats(ctx, "proj-1", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, mainStats.Nodes)

	branches, err := s.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "dev", branches[0].Branch)
	assert.Equal(t, "main", branches[1].Branch)
}

func TestStore_IncrementalMerge(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := storedNode("A", mesh.NodeClass, "a.py")
	b := storedNode("B", mesh.NodeClass, "b.py")
	stale := storedNode("Stale", mesh.NodeClass, "gone.py")
	_, err := s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{a}},
		mesh.FileResult{File: "b.py", Nodes: []mesh.Node{b}},
		mesh.FileResult{File: "gone.py", Nodes: []mesh.Node{stale}},
	), "main", "c1")
	require.NoError(t, err)

	// Re-extract a.py with two nodes, delete gone.py, leave b.py alone.
	a2 := storedNode("A", mesh.NodeClass, "a.py")
	helper := storedNode("helper", mesh.NodeFunction, "a.py")
	merge, err := s.MergeIncrementalExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{a2, helper}},
	), "main", "c2", []string{"gone.py"})
	require.NoError(t, err)
	assert.Equal(t, 2, merge.NodesAdded)
	assert.Equal(t, 2, merge.NodesDeleted, "old a.py node and gone.py node")
	assert.ElementsMatch(t, []string{"a.py", "gone.py"}, merge.FilesTouched)

	export, err := s.Export(ctx, "proj-1", "main")
	require.NoError(t, err)
	require.Len(t, export, 2)
	assert.Equal(t, "a.py", export[0].File)
	assert.Len(t, export[0].Nodes, 2)
	assert.Equal(t, "b.py", export[1].File)
	require.Len(t, export[1].Nodes, 1)
	assert.Equal(t, b.ID, export[1].Nodes[0].ID, "untouched file keeps its rows")

	// Replaying the same merge must not change the stored set.
	again, err := s.MergeIncrementalExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{a2, helper}},
	), "main", "c2", []string{"gone.py"})
	require.NoError(t, err)
	assert.Equal(t, again.NodesAdded, again.NodesDeleted, "replay swaps rows one for one")

	replayed, err := s.Export(ctx, "proj-1", "main")
	require.NoError(t, err)
	assert.Equal(t, export, replayed)
}

func TestStore_ExportRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	node := storedNode("Service", mesh.NodeClass, "svc.py")
	resolved := mesh.Edge{
		ID: uuid.New().String(), Type: mesh.EdgeContains,
		From: node.ID, To: mesh.ResolvedTarget(node.ID),
		Extraction: mesh.Extraction{Tier: mesh.Tier1, Confidence: 1.0, Timestamp: time.Now().UTC()},
	}
	unresolved := mesh.Edge{
		ID: uuid.New().String(), Type: mesh.EdgeImports,
		From: node.ID, To: mesh.UnresolvedTarget("boto3"),
		Properties: mesh.Properties{"via": mesh.StringValue("import")},
		Extraction: mesh.Extraction{Tier: mesh.Tier1, Confidence: 0.8, Timestamp: time.Now().UTC()},
	}

	_, err := s.StoreFullExtraction(ctx, resultWithFiles(mesh.FileResult{
		File:  "svc.py",
		Nodes: []mesh.Node{node},
		Edges: []mesh.Edge{resolved, unresolved},
	}), "main", "c1")
	require.NoError(t, err)

	export, err := s.Export(ctx, "proj-1", "main")
	require.NoError(t, err)
	require.Len(t, export, 1)

	got := export[0]
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, node.ID, got.Nodes[0].ID)
	assert.Equal(t, mesh.NodeClass, got.Nodes[0].Type)
	assert.Equal(t, "python", got.Nodes[0].Properties.GetString("lang"))
	assert.Equal(t, mesh.Tier1, got.Nodes[0].Extraction.Tier)
	assert.InDelta(t, 0.9, got.Nodes[0].Extraction.Confidence, 1e-9)

	require.Len(t, got.Edges, 2)
	byID := map[string]mesh.Edge{}
	for _, e := range got.Edges {
		byID[e.ID] = e
	}
	assert.True(t, byID[resolved.ID].To.Resolved())
	assert.Equal(t, node.ID, byID[resolved.ID].To.NodeID())
	assert.False(t, byID[unresolved.ID].To.Resolved())
	assert.Equal(t, "boto3", byID[unresolved.ID].To.Name())
	assert.Equal(t, "import", byID[unresolved.ID].Properties.GetString("via"))
}

func TestStore_DeleteProject(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.StoreFullExtraction(ctx, resultWithFiles(
		mesh.FileResult{File: "a.py", Nodes: []mesh.Node{storedNode("A", mesh.NodeClass, "a.py")}},
	), "main", "c1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, "proj-1"))

	stats, err := s.Stats(ctx, "proj-1", "main")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Nodes)
}
