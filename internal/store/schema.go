package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the current mesh database layout version.
const SchemaVersion = "1.0"

const createNodesTable = `
CREATE TABLE IF NOT EXISTS nodes (
    node_id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    branch TEXT NOT NULL,
    commit_hash TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',       -- JSON property bag
    tier INTEGER NOT NULL,
    schema_name TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    extracted_at TEXT NOT NULL
)
`

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
    edge_id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    branch TEXT NOT NULL,
    commit_hash TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    from_node_id TEXT NOT NULL,
    to_node_id TEXT NOT NULL DEFAULT '',         -- resolved target, or ''
    to_name TEXT NOT NULL DEFAULT '',            -- unresolved symbolic name, or ''
    source_file TEXT NOT NULL,                   -- file of the from node
    properties TEXT NOT NULL DEFAULT '{}',
    tier INTEGER NOT NULL,
    schema_name TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    extracted_at TEXT NOT NULL
)
`

const createMetadataTable = `
CREATE TABLE IF NOT EXISTS mesh_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
)
`

func allIndexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_nodes_project_branch ON nodes(project_id, branch)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(project_id, branch, file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(project_id, branch, type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_project_branch ON edges(project_id, branch)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(project_id, branch, source_file)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_node_id)`,
	}
}

// createSchema creates all tables and indexes in one transaction and
// bootstraps the metadata row. Safe to call on an existing database.
func createSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	tables := []struct {
		name string
		ddl  string
	}{
		{"nodes", createNodesTable},
		{"edges", createEdgesTable},
		{"mesh_metadata", createMetadataTable},
	}
	for _, table := range tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	for i, idx := range allIndexes() {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index %d: %w", i+1, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	bootstrapSQL := `
		INSERT INTO mesh_metadata (key, value, updated_at)
		VALUES ('schema_version', ?, ?)
		ON CONFLICT(key) DO NOTHING
	`
	if _, err := tx.Exec(bootstrapSQL, SchemaVersion, now); err != nil {
		return fmt.Errorf("failed to bootstrap mesh_metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}
