package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/draagon/codemesh/internal/mesh"
)

// MeshStats summarizes what is stored for one (project, branch).
type MeshStats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	Files       int            `json:"files"`
	NodesByType map[string]int `json:"nodes_by_type,omitempty"`
	EdgesByType map[string]int `json:"edges_by_type,omitempty"`
}

// Stats computes counts and type histograms for one (project, branch).
func (s *Store) Stats(ctx context.Context, projectID, branch string) (*MeshStats, error) {
	scope := sq.Eq{"project_id": projectID, "branch": branch}
	stats := &MeshStats{NodesByType: map[string]int{}, EdgesByType: map[string]int{}}

	err := sq.Select("COUNT(*)", "COUNT(DISTINCT file_path)").
		From("nodes").Where(scope).
		RunWith(s.db).QueryRowContext(ctx).
		Scan(&stats.Nodes, &stats.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}

	err = sq.Select("COUNT(*)").From("edges").Where(scope).
		RunWith(s.db).QueryRowContext(ctx).
		Scan(&stats.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to count edges: %w", err)
	}

	for _, hist := range []struct {
		table  string
		counts map[string]int
	}{
		{"nodes", stats.NodesByType},
		{"edges", stats.EdgesByType},
	} {
		rows, err := sq.Select("type", "COUNT(*)").
			From(hist.table).Where(scope).GroupBy("type").
			RunWith(s.db).QueryContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s histogram: %w", hist.table, err)
		}
		for rows.Next() {
			var typ string
			var count int
			if err := rows.Scan(&typ, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s histogram: %w", hist.table, err)
			}
			hist.counts[typ] = count
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return stats, nil
}

// FileMesh is one file's stored nodes and edges; edges belong to the file
// of their source node.
type FileMesh struct {
	File  string      `json:"file"`
	Nodes []mesh.Node `json:"nodes"`
	Edges []mesh.Edge `json:"edges"`
}

// Export reads everything stored for (project, branch) regrouped into
// per-file buckets, ordered by file path then start line.
func (s *Store) Export(ctx context.Context, projectID, branch string) ([]FileMesh, error) {
	scope := sq.Eq{"project_id": projectID, "branch": branch}

	buckets := map[string]*FileMesh{}
	var order []string
	bucket := func(file string) *FileMesh {
		if b, ok := buckets[file]; ok {
			return b
		}
		b := &FileMesh{File: file}
		buckets[file] = b
		order = append(order, file)
		return b
	}

	nodeRows, err := sq.Select(
		"node_id", "type", "name", "file_path", "start_line", "end_line",
		"properties", "tier", "schema_name", "confidence", "extracted_at",
	).
		From("nodes").Where(scope).
		OrderBy("file_path", "start_line", "node_id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var n mesh.Node
		var props, extractedAt string
		var tier int
		if err := nodeRows.Scan(
			&n.ID, &n.Type, &n.Name, &n.Location.File,
			&n.Location.StartLine, &n.Location.EndLine,
			&props, &tier, &n.Extraction.SchemaName,
			&n.Extraction.Confidence, &extractedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.ProjectID = projectID
		n.Extraction.Tier = mesh.Tier(tier)
		n.Extraction.Timestamp = parseTime(extractedAt)
		if n.Properties, err = unmarshalProperties(props); err != nil {
			return nil, err
		}
		b := bucket(n.Location.File)
		b.Nodes = append(b.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := sq.Select(
		"edge_id", "type", "from_node_id", "to_node_id", "to_name",
		"source_file", "properties", "tier", "schema_name", "confidence", "extracted_at",
	).
		From("edges").Where(scope).
		OrderBy("source_file", "edge_id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e mesh.Edge
		var toID, toName, sourceFile, props, extractedAt string
		var tier int
		if err := edgeRows.Scan(
			&e.ID, &e.Type, &e.From, &toID, &toName,
			&sourceFile, &props, &tier, &e.Extraction.SchemaName,
			&e.Extraction.Confidence, &extractedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		if toID != "" {
			e.To = mesh.ResolvedTarget(toID)
		} else {
			e.To = mesh.UnresolvedTarget(toName)
		}
		e.Extraction.Tier = mesh.Tier(tier)
		e.Extraction.Timestamp = parseTime(extractedAt)
		if e.Properties, err = unmarshalProperties(props); err != nil {
			return nil, err
		}
		b := bucket(sourceFile)
		b.Edges = append(b.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	out := make([]FileMesh, 0, len(order))
	for _, file := range order {
		out = append(out, *buckets[file])
	}
	return out, nil
}

// StoredBranch identifies one stored (project, branch) pair.
type StoredBranch struct {
	ProjectID string `json:"project_id"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit,omitempty"`
}

// Branches lists every stored (project, branch) pair with its most
// recently written commit hash.
func (s *Store) Branches(ctx context.Context) ([]StoredBranch, error) {
	rows, err := sq.Select("project_id", "branch", "MAX(commit_hash)").
		From("nodes").
		GroupBy("project_id", "branch").
		OrderBy("project_id", "branch").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var out []StoredBranch
	for rows.Next() {
		var b StoredBranch
		if err := rows.Scan(&b.ProjectID, &b.Branch, &b.Commit); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
