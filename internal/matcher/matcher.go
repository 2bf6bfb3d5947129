// Package matcher applies one schema's extraction rules to one source
// file, producing mesh nodes and edges with a confidence score. This is
// Tier 1 of the extraction pipeline: pure pattern matching with no AI
// involvement, deterministic for a fixed file and schema.
package matcher

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// Result is the output of matching one schema against one file.
type Result struct {
	Nodes              []mesh.Node
	Edges              []mesh.Edge
	Confidence         float64
	UnresolvedPatterns []string
}

// Matcher runs schema patterns over files. It is stateless and safe for
// concurrent use.
type Matcher struct {
	logger *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the matcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// New creates a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// rawMatch is one regex hit awaiting instantiation, ordered by offset so
// nodes are created in declaration order regardless of pattern order.
type rawMatch struct {
	pattern  *schema.Pattern
	offset   int
	captures map[string]string // participating groups, post-transform
	filled   int               // groups with a non-empty value
	total    int               // named groups in the pattern
}

// fileContext tracks running state while nodes are created in declaration
// order: the file node, scoped class/function stacks, and a name index for
// resolving edge targets within the file.
type fileContext struct {
	file      *mesh.SourceFile
	fileNode  *mesh.Node
	classes   []*mesh.Node
	functions []*mesh.Node
	byName    map[string]*mesh.Node
}

// currentClass returns the most recently created class or interface whose
// line range contains line, or nil.
func (c *fileContext) currentClass(line int) *mesh.Node {
	for i := len(c.classes) - 1; i >= 0; i-- {
		n := c.classes[i]
		if line >= n.Location.StartLine && line <= n.Location.EndLine {
			return n
		}
	}
	return nil
}

// currentFunction returns the most recently created function or method
// whose line range contains line, or nil.
func (c *fileContext) currentFunction(line int) *mesh.Node {
	for i := len(c.functions) - 1; i >= 0; i-- {
		n := c.functions[i]
		if line >= n.Location.StartLine && line <= n.Location.EndLine {
			return n
		}
	}
	return nil
}

// resolve looks up a node by extracted name within this file.
func (c *fileContext) resolve(name string) (*mesh.Node, bool) {
	n, ok := c.byName[name]
	return n, ok
}

// Match applies every pattern of the schema to the file. It always emits
// one File node first, then templated nodes/edges in declaration order,
// then the derived passes (imports, call sites, inheritance), and finally
// gives every orphan node a CONTAINS edge from the File node.
//
// Confidence is the mean capture-completeness ratio across matches plus
// the schema's confidence boost, capped at 1.0. A file with no pattern
// matches scores 0 regardless of boost.
func (m *Matcher) Match(file *mesh.SourceFile, sc *schema.Schema, projectID string) *Result {
	result := &Result{}
	now := time.Now().UTC()
	meta := mesh.Extraction{Tier: mesh.Tier1, SchemaName: sc.Name, Timestamp: now}

	fileNode := mesh.Node{
		ID:        uuid.New().String(),
		Type:      mesh.NodeFile,
		Name:      file.RelPath,
		Location:  mesh.Location{File: file.RelPath, StartLine: 1, EndLine: file.LineCount()},
		ProjectID: projectID,
		Extraction: mesh.Extraction{
			Tier: mesh.Tier1, SchemaName: sc.Name, Confidence: 1.0, Timestamp: now,
		},
	}
	result.Nodes = append(result.Nodes, fileNode)

	ctx := &fileContext{
		file:     file,
		fileNode: &result.Nodes[0],
		byName:   make(map[string]*mesh.Node),
	}

	// Imports run first so the alias map is available to later passes.
	aliases := m.extractImports(file, ctx, &result.Edges, meta)

	raws, unresolved := m.scanPatterns(file, sc)
	result.UnresolvedPatterns = unresolved

	sort.SliceStable(raws, func(i, j int) bool { return raws[i].offset < raws[j].offset })

	var ratioSum float64
	for _, raw := range raws {
		ratioSum += m.instantiate(raw, file, projectID, ctx, result, meta)
	}

	m.extractCalls(file, ctx, &result.Edges, meta)
	m.extractInheritance(file, ctx, aliases, &result.Edges, meta)

	m.backfillContains(ctx, result, meta)

	if len(raws) > 0 {
		boost := sc.Detection.ConfidenceBoost
		result.Confidence = ratioSum/float64(len(raws)) + boost
		if result.Confidence > 1.0 {
			result.Confidence = 1.0
		}
	}

	// Stamp node confidences with the file-level score.
	for i := range result.Nodes {
		if result.Nodes[i].Extraction.Confidence == 0 {
			result.Nodes[i].Extraction.Confidence = result.Confidence
		}
	}
	return result
}

// scanPatterns runs every pattern regex over the whole file. A pattern
// that panics during application is recorded in unresolvedPatterns and
// skipped; the remaining patterns still run. Go's FindAll advances past
// zero-width matches, so empty-match loops cannot occur.
func (m *Matcher) scanPatterns(file *mesh.SourceFile, sc *schema.Schema) (raws []rawMatch, unresolved []string) {
	for _, p := range sc.Patterns() {
		if p.Node == nil && p.Edge == nil {
			continue
		}
		hits, err := m.scanOne(file, p)
		if err != nil {
			m.logger.Warn("pattern failed", "schema", sc.Name, "pattern", p.Name, "error", err)
			unresolved = append(unresolved, p.Name)
			continue
		}
		raws = append(raws, hits...)
	}
	return raws, unresolved
}

func (m *Matcher) scanOne(file *mesh.SourceFile, p *schema.Pattern) (hits []rawMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pattern %s panicked: %v", p.Name, r)
		}
	}()

	re := p.Compiled()
	if re == nil {
		return nil, fmt.Errorf("pattern %s not compiled", p.Name)
	}
	groupNames := re.SubexpNames()

	for _, idx := range re.FindAllSubmatchIndex([]byte(file.Content), -1) {
		raw := rawMatch{
			pattern:  p,
			offset:   idx[0],
			captures: make(map[string]string),
		}
		for g, name := range groupNames {
			if g == 0 || name == "" {
				continue
			}
			raw.total++
			value := ""
			if idx[2*g] >= 0 {
				value = file.Content[idx[2*g]:idx[2*g+1]]
			}
			spec := p.Captures[name]
			value = applyTransform(value, spec.Transform)
			if value == "" && spec.Default != "" {
				value = spec.Default
			}
			if value != "" {
				raw.filled++
			}
			raw.captures[name] = value
		}
		hits = append(hits, raw)
	}
	return hits, nil
}

// instantiate turns one raw match into a node and/or edge, returning the
// match's capture-completeness ratio.
func (m *Matcher) instantiate(raw rawMatch, file *mesh.SourceFile, projectID string, ctx *fileContext, result *Result, meta mesh.Extraction) float64 {
	startLine := file.LineOfOffset(raw.offset)
	ratio := 1.0
	if raw.total > 0 {
		ratio = float64(raw.filled) / float64(raw.total)
	}

	var created *mesh.Node
	if tmpl := raw.pattern.Node; tmpl != nil {
		name := raw.captures[tmpl.NameFrom]
		if name == "" {
			return ratio
		}

		node := mesh.Node{
			ID:         uuid.New().String(),
			Type:       mesh.ParseNodeType(tmpl.Type),
			Name:       name,
			Properties: buildProperties(tmpl, raw.captures),
			Location: mesh.Location{
				File:      file.RelPath,
				StartLine: startLine,
				EndLine:   scopeEnd(file, startLine),
			},
			ProjectID:  projectID,
			Extraction: meta,
		}
		result.Nodes = append(result.Nodes, node)
		created = &result.Nodes[len(result.Nodes)-1]

		switch created.Type {
		case mesh.NodeClass, mesh.NodeInterface:
			ctx.classes = append(ctx.classes, created)
		case mesh.NodeFunction, mesh.NodeMethod:
			ctx.functions = append(ctx.functions, created)
		}
		if _, exists := ctx.byName[name]; !exists {
			ctx.byName[name] = created
		}
	}

	if tmpl := raw.pattern.Edge; tmpl != nil {
		if edge, ok := m.buildEdge(tmpl, raw, startLine, created, ctx, meta); ok {
			result.Edges = append(result.Edges, edge)
		}
	}
	return ratio
}

// buildEdge resolves the template's symbolic endpoints. The from side must
// resolve to an existing node; a to side backed by a capture may stay
// unresolved as a symbolic name. Edges whose endpoints cannot be resolved
// at all are dropped.
func (m *Matcher) buildEdge(tmpl *schema.EdgeTemplate, raw rawMatch, line int, created *mesh.Node, ctx *fileContext, meta mesh.Extraction) (mesh.Edge, bool) {
	fromNode := m.resolveEndpointNode(tmpl.From, raw, line, created, ctx)
	if fromNode == nil {
		return mesh.Edge{}, false
	}

	var to mesh.Target
	if toNode := m.resolveEndpointNode(tmpl.To, raw, line, created, ctx); toNode != nil {
		to = mesh.ResolvedTarget(toNode.ID)
	} else if tmpl.To.Kind == schema.EndpointCapture {
		name := raw.captures[tmpl.To.Capture]
		if name == "" {
			return mesh.Edge{}, false
		}
		to = mesh.UnresolvedTarget(name)
	} else {
		return mesh.Edge{}, false
	}

	return mesh.Edge{
		ID:         uuid.New().String(),
		Type:       mesh.ParseEdgeType(tmpl.Type),
		From:       fromNode.ID,
		To:         to,
		Extraction: meta,
	}, true
}

func (m *Matcher) resolveEndpointNode(e schema.Endpoint, raw rawMatch, line int, created *mesh.Node, ctx *fileContext) *mesh.Node {
	switch e.Kind {
	case schema.EndpointCurrentNode:
		return created
	case schema.EndpointCurrentFile:
		return ctx.fileNode
	case schema.EndpointCurrentClass:
		return ctx.currentClass(line)
	case schema.EndpointCurrentFunction:
		return ctx.currentFunction(line)
	case schema.EndpointCapture:
		if name := raw.captures[e.Capture]; name != "" {
			if n, ok := ctx.resolve(name); ok {
				return n
			}
		}
	}
	return nil
}

// backfillContains gives every non-File node without an incoming CONTAINS
// edge one from the File node.
func (m *Matcher) backfillContains(ctx *fileContext, result *Result, meta mesh.Extraction) {
	contained := make(map[string]bool)
	for _, e := range result.Edges {
		if e.Type == mesh.EdgeContains && e.To.Resolved() {
			contained[e.To.NodeID()] = true
		}
	}

	for i := range result.Nodes {
		n := &result.Nodes[i]
		if n.Type == mesh.NodeFile || contained[n.ID] {
			continue
		}
		result.Edges = append(result.Edges, mesh.Edge{
			ID:         uuid.New().String(),
			Type:       mesh.EdgeContains,
			From:       ctx.fileNode.ID,
			To:         mesh.ResolvedTarget(n.ID),
			Extraction: meta,
		})
	}
}

func buildProperties(tmpl *schema.NodeTemplate, captures map[string]string) mesh.Properties {
	if len(tmpl.Properties) == 0 {
		return nil
	}
	props := make(mesh.Properties, len(tmpl.Properties))
	for key, src := range tmpl.Properties {
		if src.FromCapture != "" {
			if v := captures[src.FromCapture]; v != "" {
				props[key] = mesh.StringValue(v)
			}
			continue
		}
		if src.Literal != nil {
			if v, err := mesh.ValueOf(src.Literal); err == nil {
				props[key] = v
			}
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
