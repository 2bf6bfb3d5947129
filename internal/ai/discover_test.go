package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagon/codemesh/internal/mesh"
)

// Test Plan for the Tier 3 discoverer:
// - Parse nodes with properties, edges, and schema suggestions
// - Unknown node types fall back to Unknown, edge types to DEPENDS_ON
// - Confidence and line ranges are clamped to valid bounds
// - Self-referential and empty-endpoint edges are dropped
// - Edges resolve to discovered nodes by name, else stay unresolved
// - Every discovered node ends up contained by the File node
// - File confidence is the mean of node confidences

const discoveryResponse = `Analysis complete.
<discovery>
  <node type="Class" name="OrderService" start_line="3" end_line="40" confidence="0.9">
    <property name="framework" value="fastapi" />
  </node>
  <node type="Widget" name="Helper" start_line="0" end_line="999" confidence="1.5" />
  <node type="Function" name="" start_line="1" end_line="1" />
  <edge type="CALLS" from="OrderService" to="Helper" confidence="0.8" />
  <edge type="USES_MAGIC" from="OrderService" to="redis" />
  <edge type="CALLS" from="OrderService" to="OrderService" />
  <edge type="CALLS" from="OrderService" to="" />
  <edge type="CALLS" from="Nobody" to="Helper" />
  <suggestion framework="fastapi" pattern="route_decorator" node_type="ApiEndpoint">
    <regex>@app\.(?P&lt;method&gt;get|post)</regex>
  </suggestion>
  <suggestion framework="" pattern="dropped" node_type="Class" />
</discovery>`

func TestDiscoverer_Discover(t *testing.T) {
	t.Parallel()

	mock := &mockCollaborator{responses: []string{discoveryResponse}}
	file := testSourceFile() // 4 lines including the trailing empty one

	discovery, err := NewDiscoverer(mock).Discover(context.Background(), file, "proj-1")
	require.NoError(t, err)

	// File node plus the two named nodes; the nameless one is dropped.
	require.Len(t, discovery.Nodes, 3)
	fileNode := discovery.Nodes[0]
	assert.Equal(t, mesh.NodeFile, fileNode.Type)
	assert.Equal(t, mesh.Tier3, fileNode.Extraction.Tier)

	svc := discovery.Nodes[1]
	assert.Equal(t, mesh.NodeClass, svc.Type)
	assert.Equal(t, "OrderService", svc.Name)
	assert.Equal(t, 3, svc.Location.StartLine)
	assert.Equal(t, file.LineCount(), svc.Location.EndLine, "end clamped to file length")
	assert.Equal(t, "fastapi", svc.Properties.GetString("framework"))
	assert.Equal(t, 0.9, svc.Extraction.Confidence)

	helper := discovery.Nodes[2]
	assert.Equal(t, mesh.NodeUnknown, helper.Type, "unknown type falls back")
	assert.Equal(t, 1, helper.Location.StartLine, "line floor is 1")
	assert.Equal(t, 1.0, helper.Extraction.Confidence, "confidence clamped")

	// Surviving edges: resolved CALLS, fallback-typed redis edge, and the
	// two CONTAINS backfills. Self-referential, empty, and unknown-from
	// edges are gone.
	var calls, contains, depends int
	for _, e := range discovery.Edges {
		switch e.Type {
		case mesh.EdgeCalls:
			calls++
			assert.Equal(t, svc.ID, e.From)
			require.True(t, e.To.Resolved())
			assert.Equal(t, helper.ID, e.To.NodeID())
		case mesh.EdgeDependsOn:
			depends++
			assert.Equal(t, "redis", e.To.Name())
		case mesh.EdgeContains:
			contains++
			assert.Equal(t, fileNode.ID, e.From)
		}
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, depends)
	assert.Equal(t, 2, contains)
	assert.Len(t, discovery.Edges, 4)

	// Only the suggestion with a framework survives.
	require.Len(t, discovery.Suggestions, 1)
	assert.Equal(t, "fastapi", discovery.Suggestions[0].Framework)
	assert.Equal(t, "route_decorator", discovery.Suggestions[0].PatternName)
	assert.NotEmpty(t, discovery.Suggestions[0].Regex)

	assert.InDelta(t, 0.95, discovery.Confidence, 1e-9, "mean of 0.9 and 1.0")
	assert.Equal(t, 1, discovery.Usage.Calls)
}

func TestDiscoverer_MissingBlockIsParseFailure(t *testing.T) {
	t.Parallel()

	mock := &mockCollaborator{responses: []string{"I see some classes in this file."}}
	_, err := NewDiscoverer(mock).Discover(context.Background(), testSourceFile(), "proj-1")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "discovery", parseErr.Tag)
	assert.False(t, IsRetryable(err))
}
