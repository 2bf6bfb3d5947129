package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
)

// SchemaSuggestion is one framework construct the discoverer believes a
// regex could extract. Suggestions accumulate per framework until the
// evolution threshold triggers schema generation.
type SchemaSuggestion struct {
	Framework   string
	PatternName string
	Regex       string
	NodeType    string
}

// Discovery is the validated result of a Tier 3 pass over one file.
type Discovery struct {
	Nodes       []mesh.Node
	Edges       []mesh.Edge
	Suggestions []SchemaSuggestion
	Confidence  float64
	Usage       Usage
}

// Discoverer runs Tier 3: full AI extraction of a file with no schema.
type Discoverer struct {
	collaborator Collaborator
	maxRetries   int
	logger       *slog.Logger
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(c Collaborator, opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{collaborator: c, maxRetries: DefaultMaxRetries, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithDiscovererLogger sets the logger.
func WithDiscovererLogger(l *slog.Logger) DiscovererOption {
	return func(d *Discoverer) { d.logger = l }
}

// WithDiscovererRetries sets the per-call retry cap.
func WithDiscovererRetries(n int) DiscovererOption {
	return func(d *Discoverer) { d.maxRetries = n }
}

// Discover sends the whole file and validates the returned node/edge set:
// unknown types fall back, confidences are clamped, line ranges are
// clamped to the file, and self-referential or empty-endpoint edges are
// dropped. Every node additionally gets a File node and CONTAINS edge the
// same way Tier 1 produces them.
func (d *Discoverer) Discover(ctx context.Context, file *mesh.SourceFile, projectID string) (*Discovery, error) {
	req := Request{
		System: systemPrompt,
		Prompt: discoverPrompt(file.RelPath, string(file.Language), file.Content),
	}

	resp, err := completeWithRetry(ctx, d.collaborator, req, d.maxRetries, d.logger)
	if err != nil {
		return nil, err
	}

	discovery, err := parseDiscovery(resp.Text, file, projectID)
	if err != nil {
		return nil, err
	}
	discovery.Usage.Add(resp)

	d.logger.Debug("file discovered",
		"file", file.RelPath, "nodes", len(discovery.Nodes),
		"edges", len(discovery.Edges), "suggestions", len(discovery.Suggestions))
	return discovery, nil
}

func parseDiscovery(text string, file *mesh.SourceFile, projectID string) (*Discovery, error) {
	body, ok := tagContent(text, "discovery")
	if !ok {
		return nil, &ParseError{Tag: "discovery"}
	}

	now := time.Now().UTC()
	meta := mesh.Extraction{Tier: mesh.Tier3, Timestamp: now}
	discovery := &Discovery{}

	fileNode := mesh.Node{
		ID:        uuid.New().String(),
		Type:      mesh.NodeFile,
		Name:      file.RelPath,
		Location:  mesh.Location{File: file.RelPath, StartLine: 1, EndLine: file.LineCount()},
		ProjectID: projectID,
		Extraction: mesh.Extraction{
			Tier: mesh.Tier3, Confidence: 1.0, Timestamp: now,
		},
	}
	discovery.Nodes = append(discovery.Nodes, fileNode)

	byName := map[string]string{}
	var confidenceSum float64
	var scored int

	for _, el := range elements(body, "node") {
		name := el.attr("name")
		if name == "" {
			continue
		}
		node := mesh.Node{
			ID:         uuid.New().String(),
			Type:       mesh.ParseNodeType(el.attr("type")),
			Name:       name,
			Properties: discoveredProperties(el.body),
			Location: mesh.Location{
				File:      file.RelPath,
				StartLine: clampLine(el.intAttr("start_line", 1), file.LineCount()),
			},
			ProjectID:  projectID,
			Extraction: meta,
		}
		node.Location.EndLine = clampLine(el.intAttr("end_line", node.Location.StartLine), file.LineCount())
		if node.Location.EndLine < node.Location.StartLine {
			node.Location.EndLine = node.Location.StartLine
		}
		node.Extraction.Confidence = el.floatAttr("confidence", 0.5)
		node.Extraction.Confidence = clampConfidence(node.Extraction.Confidence)
		confidenceSum += node.Extraction.Confidence
		scored++

		discovery.Nodes = append(discovery.Nodes, node)
		if _, exists := byName[name]; !exists {
			byName[name] = node.ID
		}
	}

	for _, el := range elements(body, "edge") {
		edge, ok := discoveredEdge(el, byName, meta)
		if !ok {
			continue
		}
		discovery.Edges = append(discovery.Edges, edge)
	}

	// Orphan nodes hang off the File node, matching Tier 1 output shape.
	contained := map[string]bool{}
	for _, e := range discovery.Edges {
		if e.Type == mesh.EdgeContains && e.To.Resolved() {
			contained[e.To.NodeID()] = true
		}
	}
	for _, n := range discovery.Nodes[1:] {
		if contained[n.ID] {
			continue
		}
		discovery.Edges = append(discovery.Edges, mesh.Edge{
			ID:         uuid.New().String(),
			Type:       mesh.EdgeContains,
			From:       fileNode.ID,
			To:         mesh.ResolvedTarget(n.ID),
			Extraction: meta,
		})
	}

	for _, el := range elements(body, "suggestion") {
		s := SchemaSuggestion{
			Framework:   el.attr("framework"),
			PatternName: el.attr("pattern"),
			NodeType:    string(mesh.ParseNodeType(el.attr("node_type"))),
		}
		if regex, ok := tagContent(el.body, "regex"); ok {
			s.Regex = regex
		}
		if s.Framework == "" || s.PatternName == "" {
			continue
		}
		discovery.Suggestions = append(discovery.Suggestions, s)
	}

	if scored > 0 {
		discovery.Confidence = confidenceSum / float64(scored)
	}
	return discovery, nil
}

// discoveredEdge validates one edge element. Endpoints are resolved
// against the discovered node names; an unresolvable from side or an
// empty identifier drops the edge, as does a self-reference.
func discoveredEdge(el element, byName map[string]string, meta mesh.Extraction) (mesh.Edge, bool) {
	from, to := el.attr("from"), el.attr("to")
	if from == "" || to == "" || from == to {
		return mesh.Edge{}, false
	}
	fromID, ok := byName[from]
	if !ok {
		return mesh.Edge{}, false
	}

	edge := mesh.Edge{
		ID:         uuid.New().String(),
		Type:       mesh.ParseEdgeType(el.attr("type")),
		From:       fromID,
		Extraction: meta,
	}
	edge.Extraction.Confidence = clampConfidence(el.floatAttr("confidence", meta.Confidence))
	if toID, ok := byName[to]; ok {
		if toID == fromID {
			return mesh.Edge{}, false
		}
		edge.To = mesh.ResolvedTarget(toID)
	} else {
		edge.To = mesh.UnresolvedTarget(to)
	}
	return edge, true
}

func discoveredProperties(body string) mesh.Properties {
	props := make(mesh.Properties)
	for _, el := range elements(body, "property") {
		name := el.attr("name")
		if name == "" {
			continue
		}
		props[name] = mesh.StringValue(el.attr("value"))
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func clampLine(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Evolution is a parsed pattern-improvement answer.
type Evolution struct {
	NewRegex   string
	Confidence float64
	Reason     string
}

// ParseEvolution reads an <evolution> block.
func ParseEvolution(text string) (*Evolution, error) {
	body, ok := tagContent(text, "evolution")
	if !ok {
		return nil, &ParseError{Tag: "evolution"}
	}
	regex, ok := tagContent(body, "new_regex")
	if !ok || regex == "" {
		return nil, &ParseError{Tag: "new_regex"}
	}
	ev := &Evolution{NewRegex: regex}
	if raw, ok := tagContent(body, "confidence"); ok {
		ev.Confidence = parseConfidence(raw)
	}
	if reason, ok := tagContent(body, "reason"); ok {
		ev.Reason = reason
	}
	return ev, nil
}

// Complete exposes the raw collaborator call with retry for callers that
// build their own prompts (schema generation in the evolver).
func Complete(ctx context.Context, c Collaborator, system, prompt string, maxRetries int, logger *slog.Logger) (*Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return completeWithRetry(ctx, c, Request{System: system, Prompt: prompt}, maxRetries, logger)
}

// SystemPrompt is the shared system prompt for collaborator calls.
func SystemPrompt() string { return systemPrompt }
