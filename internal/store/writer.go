package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/draagon/codemesh/internal/mesh"
)

// StoreFullExtraction replaces everything stored for (project, branch)
// with the given result in a single transaction.
func (s *Store) StoreFullExtraction(ctx context.Context, result *mesh.ProjectResult, branch, commit string) (*MergeResult, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	merge := &MergeResult{}
	scope := sq.Eq{"project_id": result.ProjectID, "branch": branch}

	if merge.EdgesDeleted, err = deleteWhere(tx, "edges", scope); err != nil {
		return nil, err
	}
	if merge.NodesDeleted, err = deleteWhere(tx, "nodes", scope); err != nil {
		return nil, err
	}

	for _, file := range result.Files {
		if err := insertFile(tx, result.ProjectID, branch, commit, &file); err != nil {
			return nil, err
		}
		merge.NodesAdded += len(file.Nodes)
		merge.EdgesAdded += len(file.Edges)
		merge.FilesTouched = append(merge.FilesTouched, file.File)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit full extraction: %w", err)
	}

	s.logger.Info("stored full extraction",
		"project", result.ProjectID, "branch", branch,
		"files", len(result.Files), "nodes", merge.NodesAdded, "edges", merge.EdgesAdded)
	return merge, nil
}

// MergeIncrementalExtraction applies the result file by file: each changed
// file's old rows are deleted and its new rows inserted inside one
// transaction per file. Files absent from the result keep their rows.
// deletedFiles are removed without replacement.
func (s *Store) MergeIncrementalExtraction(ctx context.Context, result *mesh.ProjectResult, branch, commit string, deletedFiles []string) (*MergeResult, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	merge := &MergeResult{}

	for _, file := range result.Files {
		if err := ctx.Err(); err != nil {
			return merge, err
		}
		if err := s.mergeFile(ctx, result.ProjectID, branch, commit, &file, merge); err != nil {
			return merge, fmt.Errorf("failed to merge file %s: %w", file.File, err)
		}
		merge.FilesTouched = append(merge.FilesTouched, file.File)
	}

	for _, file := range deletedFiles {
		if err := ctx.Err(); err != nil {
			return merge, err
		}
		if err := s.deleteFile(ctx, result.ProjectID, branch, file, merge); err != nil {
			return merge, fmt.Errorf("failed to delete file %s: %w", file, err)
		}
		merge.FilesTouched = append(merge.FilesTouched, file)
	}

	s.logger.Info("merged incremental extraction",
		"project", result.ProjectID, "branch", branch,
		"files", len(result.Files), "deleted_files", len(deletedFiles),
		"nodes", merge.NodesAdded, "edges", merge.EdgesAdded)
	return merge, nil
}

func (s *Store) mergeFile(ctx context.Context, projectID, branch, commit string, file *mesh.FileResult, merge *MergeResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	edgesDeleted, err := deleteWhere(tx, "edges",
		sq.Eq{"project_id": projectID, "branch": branch, "source_file": file.File})
	if err != nil {
		return err
	}
	nodesDeleted, err := deleteWhere(tx, "nodes",
		sq.Eq{"project_id": projectID, "branch": branch, "file_path": file.File})
	if err != nil {
		return err
	}

	if err := insertFile(tx, projectID, branch, commit, file); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file merge: %w", err)
	}

	merge.EdgesDeleted += edgesDeleted
	merge.NodesDeleted += nodesDeleted
	merge.NodesAdded += len(file.Nodes)
	merge.EdgesAdded += len(file.Edges)
	return nil
}

func (s *Store) deleteFile(ctx context.Context, projectID, branch, file string, merge *MergeResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	edgesDeleted, err := deleteWhere(tx, "edges",
		sq.Eq{"project_id": projectID, "branch": branch, "source_file": file})
	if err != nil {
		return err
	}
	nodesDeleted, err := deleteWhere(tx, "nodes",
		sq.Eq{"project_id": projectID, "branch": branch, "file_path": file})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file delete: %w", err)
	}

	merge.EdgesDeleted += edgesDeleted
	merge.NodesDeleted += nodesDeleted
	return nil
}

// DeleteProject removes every row for a project across all branches.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := deleteWhere(tx, "edges", sq.Eq{"project_id": projectID}); err != nil {
		return err
	}
	if _, err := deleteWhere(tx, "nodes", sq.Eq{"project_id": projectID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project delete: %w", err)
	}
	return nil
}

func deleteWhere(tx *sql.Tx, table string, where sq.Eq) (int, error) {
	res, err := sq.Delete(table).Where(where).RunWith(tx).Exec()
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func insertFile(tx *sql.Tx, projectID, branch, commit string, file *mesh.FileResult) error {
	for i := range file.Nodes {
		if err := insertNode(tx, projectID, branch, commit, &file.Nodes[i]); err != nil {
			return err
		}
	}
	for i := range file.Edges {
		if err := insertEdge(tx, projectID, branch, commit, file.File, &file.Edges[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertNode(tx *sql.Tx, projectID, branch, commit string, n *mesh.Node) error {
	props, err := marshalProperties(n.Properties)
	if err != nil {
		return err
	}

	_, err = sq.Insert("nodes").
		Columns(
			"node_id", "project_id", "branch", "commit_hash", "type", "name",
			"file_path", "start_line", "end_line", "properties",
			"tier", "schema_name", "confidence", "extracted_at",
		).
		Values(
			n.ID, projectID, branch, commit, string(n.Type), n.Name,
			n.Location.File, n.Location.StartLine, n.Location.EndLine, props,
			int(n.Extraction.Tier), n.Extraction.SchemaName,
			n.Extraction.Confidence, formatTime(n.Extraction.Timestamp),
		).
		RunWith(tx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
	}
	return nil
}

func insertEdge(tx *sql.Tx, projectID, branch, commit, sourceFile string, e *mesh.Edge) error {
	props, err := marshalProperties(e.Properties)
	if err != nil {
		return err
	}

	_, err = sq.Insert("edges").
		Columns(
			"edge_id", "project_id", "branch", "commit_hash", "type",
			"from_node_id", "to_node_id", "to_name", "source_file", "properties",
			"tier", "schema_name", "confidence", "extracted_at",
		).
		Values(
			e.ID, projectID, branch, commit, string(e.Type),
			e.From, e.To.NodeID(), e.To.Name(), sourceFile, props,
			int(e.Extraction.Tier), e.Extraction.SchemaName,
			e.Extraction.Confidence, formatTime(e.Extraction.Timestamp),
		).
		RunWith(tx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to insert edge %s: %w", e.ID, err)
	}
	return nil
}
