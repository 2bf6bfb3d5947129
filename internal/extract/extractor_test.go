package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// Test Plan for the extraction orchestrator:
// - A trusted strong match runs Tier 1 only, no collaborator calls
// - A low-trust match triggers mandatory Tier 2 verification
// - A file with no matching schema and AI available runs Tier 3
// - A file with no schema and no AI records an error and degrades
// - Failed discovery falls back instead of aborting the run
// - Duplicate nodes from overlapping patterns are collapsed with their
//   edges remapped
// - Project stats aggregate tier counts, node/edge totals, and AI usage

type stubTrust map[string]float64

func (s stubTrust) Trust(name string) (float64, bool) {
	v, ok := s[name]
	return v, ok
}

type stubCollaborator struct {
	responses []string
	err       error
	calls     int
}

func (s *stubCollaborator) Complete(_ context.Context, _ ai.Request) (*ai.Response, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	text := ""
	if i < len(s.responses) {
		text = s.responses[i]
	} else if len(s.responses) > 0 {
		text = s.responses[len(s.responses)-1]
	}
	return &ai.Response{Text: text, InputTokens: 200, OutputTokens: 100}, nil
}

func fastapiSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sc := &schema.Schema{
		Name:     "fastapi-python",
		Language: mesh.LangPython,
		Version:  "1.0.0",
		Detection: schema.Detection{
			Imports:         []string{"fastapi"},
			Filenames:       []string{"**/*.py"},
			Contents:        []string{`@app\.`},
			ConfidenceBoost: 0.3,
		},
		Extractors: map[string][]schema.Pattern{
			"endpoints": {{
				Name:  "route_decorator",
				Regex: `@app\.(?P<method>get|post|put|delete)\(['"](?P<path>[^'"]+)['"]\)`,
				Node:  &schema.NodeTemplate{Type: "ApiEndpoint", NameFrom: "path"},
			}},
		},
	}
	require.NoError(t, sc.Compile())
	return sc
}

func newTestRegistry(t *testing.T, trust stubTrust, extra ...*schema.Schema) *schema.Registry {
	t.Helper()
	store, err := schema.NewStore("", schema.WithTrust(trust))
	require.NoError(t, err)
	for _, sc := range extra {
		require.NoError(t, store.AddSchema(sc))
	}
	registry, err := schema.NewRegistry(store, trust)
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	return registry
}

func sourceFile(relPath, content string, lang mesh.Language) *mesh.SourceFile {
	return mesh.NewSourceFile("/src/"+relPath, relPath, content, lang, int64(len(content)), time.Now())
}

const fastapiSource = `import fastapi

@app.get("/users")
def list_users():
    return []
`

func TestExtractor_TrustedSchemaStaysTier1(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, stubTrust{"fastapi-python": 0.9}, fastapiSchema(t))
	collab := &stubCollaborator{}
	e := New(registry, WithCollaborator(collab))

	run := e.ExtractProject(context.Background(), "proj-1",
		[]*mesh.SourceFile{sourceFile("api.py", fastapiSource, mesh.LangPython)})

	require.Len(t, run.Result.Files, 1)
	fr := run.Result.Files[0]
	assert.Equal(t, mesh.Tier1, fr.Tier)
	assert.Equal(t, []string{"fastapi-python"}, fr.SchemasUsed)
	assert.Equal(t, 0, collab.calls, "no escalation for a trusted strong match")
	assert.Equal(t, 1, run.Result.Stats.Tier1Extractions)
	assert.Equal(t, 0, run.Result.Stats.AICalls)

	var endpoint *mesh.Node
	for i := range fr.Nodes {
		if fr.Nodes[i].Type == mesh.NodeApiEndpoint {
			endpoint = &fr.Nodes[i]
		}
	}
	require.NotNil(t, endpoint)
	assert.Equal(t, "/users", endpoint.Name)

	assert.Equal(t, 1, run.Outcomes["fastapi-python"].Extractions)
}

func TestExtractor_LowTrustForcesVerification(t *testing.T) {
	t.Parallel()

	verified := `<verification><status>verified</status><confidence>0.9</confidence></verification>`
	registry := newTestRegistry(t, stubTrust{"fastapi-python": 0.3}, fastapiSchema(t))
	collab := &stubCollaborator{responses: []string{verified}}
	e := New(registry, WithCollaborator(collab))

	run := e.ExtractProject(context.Background(), "proj-1",
		[]*mesh.SourceFile{sourceFile("api.py", fastapiSource, mesh.LangPython)})

	require.Len(t, run.Result.Files, 1)
	fr := run.Result.Files[0]
	assert.Equal(t, mesh.Tier2, fr.Tier)
	assert.Greater(t, collab.calls, 0)
	assert.Equal(t, 1, run.Result.Stats.Tier2Extractions)
	assert.Equal(t, collab.calls, run.Result.Stats.AICalls)
	assert.Greater(t, run.Result.Stats.AITokensUsed, 0)

	outcome := run.Outcomes["fastapi-python"]
	require.NotNil(t, outcome)
	assert.Equal(t, collab.calls, outcome.Verified)
	assert.Equal(t, 0, outcome.Rejected)
}

func TestExtractor_NoSchemaRunsDiscovery(t *testing.T) {
	t.Parallel()

	discovery := `<discovery>
  <node type="Class" name="Invoice" start_line="1" end_line="3" confidence="0.8" />
  <suggestion framework="rails" pattern="model_class" node_type="Model">
    <regex>class\s+(?P&lt;name&gt;\w+)</regex>
  </suggestion>
</discovery>`
	registry := newTestRegistry(t, stubTrust{})
	collab := &stubCollaborator{responses: []string{discovery}}
	e := New(registry, WithCollaborator(collab))

	run := e.ExtractProject(context.Background(), "proj-1",
		[]*mesh.SourceFile{sourceFile("invoice.rb", "class Invoice\nend\n", mesh.LangRuby)})

	require.Len(t, run.Result.Files, 1)
	fr := run.Result.Files[0]
	assert.Equal(t, mesh.Tier3, fr.Tier)
	assert.Equal(t, 1, run.Result.Stats.Tier3Extractions)
	require.Len(t, run.Suggestions, 1)
	assert.Equal(t, "rails", run.Suggestions[0].Framework)

	var class *mesh.Node
	for i := range fr.Nodes {
		if fr.Nodes[i].Type == mesh.NodeClass {
			class = &fr.Nodes[i]
		}
	}
	require.NotNil(t, class)
	assert.Equal(t, "Invoice", class.Name)
}

func TestExtractor_NoSchemaNoAIDegrades(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, stubTrust{})
	e := New(registry)

	run := e.ExtractProject(context.Background(), "proj-1",
		[]*mesh.SourceFile{sourceFile("invoice.rb", "class Invoice\nend\n", mesh.LangRuby)})

	require.Len(t, run.Result.Files, 1, "degraded results still return")
	fr := run.Result.Files[0]
	assert.Empty(t, fr.Nodes)
	require.Len(t, fr.Errors, 1)
	assert.Contains(t, fr.Errors[0], "no schema available")
}

func TestExtractor_DiscoveryFailureFallsBack(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, stubTrust{})
	collab := &stubCollaborator{err: &ai.CallError{Retryable: false, Err: context.Canceled}}
	e := New(registry, WithCollaborator(collab))

	run := e.ExtractProject(context.Background(), "proj-1",
		[]*mesh.SourceFile{sourceFile("invoice.rb", "class Invoice\nend\n", mesh.LangRuby)})

	require.Len(t, run.Result.Files, 1)
	fr := run.Result.Files[0]
	require.NotEmpty(t, fr.Errors)
	assert.Contains(t, strings.Join(fr.Errors, "; "), "tier 3 discovery failed")
}

func TestDedupFile(t *testing.T) {
	t.Parallel()

	meta := mesh.Extraction{Tier: mesh.Tier1, Confidence: 0.9}
	a := mesh.Node{ID: "n1", Type: mesh.NodeFunction, Name: "run",
		Location: mesh.Location{StartLine: 4}, Extraction: meta}
	dup := mesh.Node{ID: "n2", Type: mesh.NodeFunction, Name: "run",
		Location: mesh.Location{StartLine: 4}, Extraction: meta}
	other := mesh.Node{ID: "n3", Type: mesh.NodeFunction, Name: "run",
		Location: mesh.Location{StartLine: 9}, Extraction: meta}

	fr := mesh.FileResult{
		Nodes: []mesh.Node{a, dup, other},
		Edges: []mesh.Edge{
			{ID: "e1", Type: mesh.EdgeCalls, From: "n2", To: mesh.ResolvedTarget("n3"), Extraction: meta},
			{ID: "e2", Type: mesh.EdgeCalls, From: "n1", To: mesh.ResolvedTarget("n3"), Extraction: meta},
			{ID: "e3", Type: mesh.EdgeCalls, From: "n1", To: mesh.UnresolvedTarget("ext"), Extraction: meta},
		},
	}
	dedupFile(&fr)

	require.Len(t, fr.Nodes, 2, "same name and line collapse, different line survives")
	assert.Equal(t, "n1", fr.Nodes[0].ID)
	assert.Equal(t, "n3", fr.Nodes[1].ID)

	// e1's from was remapped onto n1, making it identical to e2, so one of
	// the pair is dropped.
	require.Len(t, fr.Edges, 2)
	assert.Equal(t, "n1", fr.Edges[0].From)
	assert.Equal(t, "n3", fr.Edges[0].To.NodeID())
	assert.Equal(t, "ext", fr.Edges[1].To.Name())
}
