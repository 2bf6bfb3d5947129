// Package query answers questions about a stored mesh: node lookups,
// name search, and relationship traversal. The engine is an immutable
// in-memory view built from an exported mesh; rebuild it after a new
// extraction run.
package query

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dominikbraun/graph"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/store"
)

// Engine is a queryable snapshot of one (project, branch) mesh.
type Engine struct {
	nodes  map[string]mesh.Node
	out    map[string][]mesh.Edge
	in     map[string][]mesh.Edge
	graph  graph.Graph[string, mesh.Node]
	search *searchIndex
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Build constructs an engine from an exported mesh. Unresolved edge
// targets stay queryable through Outgoing but are not graph vertices, so
// traversal only walks resolved relationships.
func Build(files []store.FileMesh, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		nodes:  map[string]mesh.Node{},
		out:    map[string][]mesh.Edge{},
		in:     map[string][]mesh.Edge{},
		graph:  graph.New(func(n mesh.Node) string { return n.ID }, graph.Directed()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, fm := range files {
		for _, n := range fm.Nodes {
			if _, dup := e.nodes[n.ID]; dup {
				continue
			}
			e.nodes[n.ID] = n
			if err := e.graph.AddVertex(n); err != nil {
				return nil, fmt.Errorf("adding node %s: %w", n.ID, err)
			}
		}
	}

	for _, fm := range files {
		for _, edge := range fm.Edges {
			if _, ok := e.nodes[edge.From]; !ok {
				continue
			}
			e.out[edge.From] = append(e.out[edge.From], edge)
			if !edge.To.Resolved() {
				continue
			}
			to := edge.To.NodeID()
			if _, ok := e.nodes[to]; !ok {
				continue
			}
			e.in[to] = append(e.in[to], edge)
			err := e.graph.AddEdge(edge.From, to, graph.EdgeData(edge))
			if err != nil && err != graph.ErrEdgeAlreadyExists {
				return nil, fmt.Errorf("adding edge %s: %w", edge.ID, err)
			}
		}
	}

	idx, err := buildSearchIndex(e.nodes)
	if err != nil {
		return nil, err
	}
	e.search = idx

	e.logger.Debug("query engine built", "nodes", len(e.nodes))
	return e, nil
}

// Close releases the search index.
func (e *Engine) Close() error { return e.search.Close() }

// Node returns a node by id.
func (e *Engine) Node(id string) (mesh.Node, bool) {
	n, ok := e.nodes[id]
	return n, ok
}

// NodesByType returns all nodes of one type, ordered by file then line.
func (e *Engine) NodesByType(t mesh.NodeType) []mesh.Node {
	var out []mesh.Node
	for _, n := range e.nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// FindByName returns every node with an exact name match.
func (e *Engine) FindByName(name string) []mesh.Node {
	var out []mesh.Node
	for _, n := range e.nodes {
		if n.Name == name {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Outgoing returns a node's outgoing edges, optionally filtered by type.
// Unresolved targets are included.
func (e *Engine) Outgoing(id string, edgeType mesh.EdgeType) []mesh.Edge {
	return filterEdges(e.out[id], edgeType)
}

// Incoming returns a node's resolved incoming edges, optionally filtered
// by type.
func (e *Engine) Incoming(id string, edgeType mesh.EdgeType) []mesh.Edge {
	return filterEdges(e.in[id], edgeType)
}

// Dependencies walks outgoing resolved edges from a node up to depth hops
// and returns the reachable nodes, nearest first. Depth <= 0 means
// unbounded.
func (e *Engine) Dependencies(id string, depth int) ([]mesh.Node, error) {
	if _, ok := e.nodes[id]; !ok {
		return nil, fmt.Errorf("unknown node %q", id)
	}

	level := map[string]int{}
	var order []string
	err := graph.BFSWithDepth(e.graph, id, func(visited string, d int) bool {
		if visited == id {
			return false
		}
		if depth > 0 && d > depth {
			return true
		}
		level[visited] = d
		order = append(order, visited)
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("traversing from %s: %w", id, err)
	}

	out := make([]mesh.Node, 0, len(order))
	for _, v := range order {
		out = append(out, e.nodes[v])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if level[out[i].ID] != level[out[j].ID] {
			return level[out[i].ID] < level[out[j].ID]
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Path returns the shortest resolved-edge path between two nodes.
func (e *Engine) Path(from, to string) ([]mesh.Node, error) {
	ids, err := graph.ShortestPath(e.graph, from, to)
	if err != nil {
		return nil, fmt.Errorf("no path from %s to %s: %w", from, to, err)
	}
	out := make([]mesh.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.nodes[id])
	}
	return out, nil
}

// Size returns node and resolved-edge counts.
func (e *Engine) Size() (nodes, edges int) {
	edgeCount, _ := e.graph.Size()
	return len(e.nodes), edgeCount
}

func filterEdges(edges []mesh.Edge, edgeType mesh.EdgeType) []mesh.Edge {
	if edgeType == "" {
		out := make([]mesh.Edge, len(edges))
		copy(out, edges)
		return out
	}
	var out []mesh.Edge
	for _, e := range edges {
		if e.Type == edgeType {
			out = append(out, e)
		}
	}
	return out
}

func sortNodes(nodes []mesh.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Location.File != nodes[j].Location.File {
			return nodes[i].Location.File < nodes[j].Location.File
		}
		if nodes[i].Location.StartLine != nodes[j].Location.StartLine {
			return nodes[i].Location.StartLine < nodes[j].Location.StartLine
		}
		return nodes[i].ID < nodes[j].ID
	})
}
