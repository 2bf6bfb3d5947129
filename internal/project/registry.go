// Package project manages the registry of known projects: a JSON file
// under ~/.codemesh shared by every CLI invocation, guarded by a file
// lock so concurrent extractions do not clobber each other's updates.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Status is the lifecycle state of a registered project.
type Status string

const (
	// StatusPending means registered but never extracted.
	StatusPending Status = "pending"
	// StatusExtracting means an extraction run is in flight.
	StatusExtracting Status = "extracting"
	// StatusReady means the stored mesh matches the last observed commit.
	StatusReady Status = "ready"
	// StatusError means the last extraction failed.
	StatusError Status = "error"
	// StatusStale means new commits exist since the last extraction.
	StatusStale Status = "stale"
)

// Project is one registered project.
type Project struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Status        Status    `json:"status"`
	Branch        string    `json:"branch,omitempty"`
	Commit        string    `json:"commit,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastExtracted time.Time `json:"last_extracted,omitempty"`
}

// Registry is the flock-guarded project list.
type Registry struct {
	path string
	lock *flock.Flock

	mu       sync.RWMutex
	projects map[string]*Project // keyed by id
}

// Open loads (or initializes) the registry at ~/.codemesh/projects.json.
func Open() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return OpenAt(filepath.Join(home, ".codemesh"))
}

// OpenAt loads a registry from a custom directory, used by tests and the
// --home flag.
func OpenAt(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	path := filepath.Join(dir, "projects.json")
	r := &Registry{
		path:     path,
		lock:     flock.New(path + ".lock"),
		projects: map[string]*Project{},
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

type registryFile struct {
	Projects []*Project `json:"projects"`
}

func (r *Registry) load() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock project registry: %w", err)
	}
	defer r.lock.Unlock()

	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read project registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse project registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range file.Projects {
		r.projects[p.ID] = p
	}
	return nil
}

// save persists the registry atomically under the file lock. Callers must
// hold r.mu.
func (r *Registry) save() error {
	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock project registry: %w", err)
	}
	defer r.lock.Unlock()

	file := registryFile{Projects: make([]*Project, 0, len(r.projects))}
	for _, p := range r.projects {
		file.Projects = append(file.Projects, p)
	}
	sort.Slice(file.Projects, func(i, j int) bool {
		return file.Projects[i].ID < file.Projects[j].ID
	})

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write project registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace project registry: %w", err)
	}
	return nil
}

// Register adds a project. Registering an existing id is idempotent and
// returns the existing entry.
func (r *Registry) Register(id, path string) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("project id must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("project path %s: %w", abs, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.projects[id]; ok {
		return existing, nil
	}

	p := &Project{
		ID:           id,
		Path:         abs,
		Status:       StatusPending,
		RegisteredAt: time.Now().UTC(),
	}
	r.projects[id] = p
	if err := r.save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Unregister removes a project. Removing an unknown id is not an error.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return nil
	}
	delete(r.projects, id)
	return r.save()
}

// Get returns a copy of a project's entry.
func (r *Registry) Get(id string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return Project{}, false
	}
	return *p, true
}

// List returns all projects ordered by id.
func (r *Registry) List() []Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus transitions a project's lifecycle state. The error message is
// recorded for StatusError and cleared otherwise.
func (r *Registry) SetStatus(id string, status Status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("unknown project %q", id)
	}
	p.Status = status
	p.LastError = ""
	if status == StatusError {
		p.LastError = errMsg
	}
	return r.save()
}

// MarkExtracted records a successful extraction at a branch/commit and
// moves the project to ready.
func (r *Registry) MarkExtracted(id, branch, commit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("unknown project %q", id)
	}
	p.Status = StatusReady
	p.Branch = branch
	p.Commit = commit
	p.LastError = ""
	p.LastExtracted = time.Now().UTC()
	return r.save()
}

// MarkStale flags a ready project whose source has moved past the stored
// commit. Pending and errored projects keep their state.
func (r *Registry) MarkStale(id, observedCommit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("unknown project %q", id)
	}
	if p.Status != StatusReady || p.Commit == observedCommit {
		return nil
	}
	p.Status = StatusStale
	return r.save()
}
