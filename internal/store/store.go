// Package store persists extracted meshes to SQLite with branch/commit
// versioning. Full runs replace a project+branch wholesale; incremental
// runs merge per file, each file's delete+insert inside its own
// transaction so a crash never leaves a file half-written.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/draagon/codemesh/internal/mesh"
)

// Store is the mesh database for one repository of projects. Mutations
// for one (project, branch) are serialized by the store mutex.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (creating if needed) the mesh database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mesh database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// MergeResult reports what a store mutation changed.
type MergeResult struct {
	NodesAdded   int      `json:"nodes_added"`
	EdgesAdded   int      `json:"edges_added"`
	NodesDeleted int      `json:"nodes_deleted"`
	EdgesDeleted int      `json:"edges_deleted"`
	FilesTouched []string `json:"files_touched,omitempty"`
}

// storedRow helpers shared by the writer and reader.

func marshalProperties(props mesh.Properties) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(raw), nil
}

func unmarshalProperties(raw string) (mesh.Properties, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var props mesh.Properties
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("failed to parse stored properties: %w", err)
	}
	return props, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
