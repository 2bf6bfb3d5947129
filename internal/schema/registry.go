package schema

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/maypok86/otter"

	"github.com/draagon/codemesh/internal/mesh"
)

// Match scores one (schema, file) pairing. Score increases monotonically
// with matched signals; trust acts as a multiplier in [0.5, 1.5].
type Match struct {
	Schema   *Schema
	Score    float64
	RawScore float64
	Signals  []string
	Trust    float64
	HasTrust bool
	Evolved  bool
}

// Registry ranks schemas against files. Reads are cached per file content;
// the cache is invalidated whenever the underlying store version moves or
// Reload is called. Read-only during an extraction run.
type Registry struct {
	store  *Store
	trust  TrustProvider
	cache  otter.Cache[string, []Match]
	logger *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry builds a registry over a loaded store. The trust provider
// may be nil, in which case all schemas rank on raw score alone.
func NewRegistry(store *Store, trust TrustProvider, opts ...RegistryOption) (*Registry, error) {
	cache, err := otter.MustBuilder[string, []Match](4096).
		WithTTL(30 * time.Minute).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building match cache: %w", err)
	}

	r := &Registry{
		store:  store,
		trust:  trust,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Store exposes the underlying schema store.
func (r *Registry) Store() *Store { return r.store }

// FindMatchingSchemas scores every schema for the file's language and
// returns matches ranked by trust-weighted score, best first.
func (r *Registry) FindMatchingSchemas(file *mesh.SourceFile) []Match {
	key := r.cacheKey(file)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	var matches []Match
	for _, sc := range r.store.ForLanguage(file.Language) {
		if m, ok := r.score(sc, file); ok {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// Equal weighted score: higher trust first, then stable by name.
		ti, tj := matches[i].Trust, matches[j].Trust
		if ti != tj {
			return ti > tj
		}
		return matches[i].Schema.Name < matches[j].Schema.Name
	})

	r.cache.Set(key, matches)
	return matches
}

// score applies the additive signal model: import substring contributes
// the schema's full confidence boost, filename glob half, content regex
// 0.3x. The raw sum is multiplied by (0.5 + trust) when history exists.
func (r *Registry) score(sc *Schema, file *mesh.SourceFile) (Match, bool) {
	boost := sc.Detection.ConfidenceBoost
	if boost == 0 {
		boost = 0.2
	}

	var raw float64
	var signals []string

	importLines := importStatements(file)
	for _, sub := range sc.Detection.Imports {
		if containsSubstring(importLines, sub) {
			raw += boost
			signals = append(signals, "import:"+sub)
		}
	}
	for _, pattern := range sc.Detection.Filenames {
		if g, err := glob.Compile(pattern, '/'); err == nil && matchPath(g, pattern, file.RelPath) {
			raw += boost / 2
			signals = append(signals, "filename:"+pattern)
		}
	}
	for _, pattern := range sc.Detection.Contents {
		re, err := regexp.Compile("(?m)" + pattern)
		if err != nil {
			continue
		}
		if re.MatchString(file.Content) {
			raw += 0.3 * boost
			signals = append(signals, "content:"+pattern)
		}
	}

	if raw == 0 {
		return Match{}, false
	}

	m := Match{
		Schema:   sc,
		RawScore: raw,
		Score:    raw,
		Evolved:  sc.Evolved,
	}
	if r.trust != nil {
		if trust, ok := r.trust.Trust(sc.Name); ok {
			m.Trust = trust
			m.HasTrust = true
			m.Score = raw * (0.5 + trust)
		}
	}
	m.Signals = signals
	return m, true
}

// Reload reloads the schema set and clears the match cache.
func (r *Registry) Reload() error {
	if err := r.store.Load(); err != nil {
		return err
	}
	r.cache.Clear()
	return nil
}

// ClearCaches drops cached match scores without reloading schemas.
func (r *Registry) ClearCaches() {
	r.cache.Clear()
}

// Watch starts an fsnotify watcher over the store's schema directory and
// reloads on changes. Returns immediately; stops when ctx is cancelled or
// Close is called.
func (r *Registry) Watch(ctx context.Context) error {
	dir := r.store.Dir()
	if dir == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating schema watcher: %w", err)
	}
	r.watcher = w
	r.done = make(chan struct{})

	// Watch the root plus every language subdirectory that exists now.
	dirs := []string{dir}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != dir {
			dirs = append(dirs, path)
		}
		return nil
	})
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			r.logger.Warn("cannot watch schema dir", "dir", d, "error", err)
		}
	}

	go func() {
		defer w.Close()
		defer close(r.done)

		// Debounce bursts of writes into a single reload.
		var pending *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(250*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				if err := r.Reload(); err != nil {
					r.logger.Error("schema reload failed", "error", err)
				} else {
					r.logger.Info("schemas reloaded after change")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Warn("schema watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (r *Registry) Close() {
	if r.watcher != nil {
		r.watcher.Close()
		<-r.done
		r.watcher = nil
	}
}

func (r *Registry) cacheKey(file *mesh.SourceFile) string {
	sum := sha256.Sum256([]byte(file.Content))
	return fmt.Sprintf("%d:%s:%x", r.store.Version(), file.RelPath, sum[:8])
}

var importLineRe = regexp.MustCompile(`(?m)^\s*(?:import\s|from\s|require\s*\(|using\s|use\s|#include\s|package\s).*$`)

// importStatements pulls out the file's import-like lines so import
// substring signals do not fire on arbitrary body text.
func importStatements(file *mesh.SourceFile) []string {
	return importLineRe.FindAllString(file.Content, -1)
}

func containsSubstring(lines []string, sub string) bool {
	for _, line := range lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

// matchPath applies the same root-level "**/" relaxation the file scanner
// uses, so "**/*.py" also matches a top-level "main.py".
func matchPath(g glob.Glob, pattern, path string) bool {
	if g.Match(path) {
		return true
	}
	if !strings.Contains(path, "/") && strings.HasPrefix(pattern, "**/") {
		if simplified, err := glob.Compile(strings.TrimPrefix(pattern, "**/"), '/'); err == nil {
			return simplified.Match(path)
		}
	}
	return false
}
