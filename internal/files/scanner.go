package files

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/draagon/codemesh/internal/mesh"
)

// DefaultMaxFileSize is the largest file the scanner will load (1 MiB).
// Larger files are skipped and counted, never fatal.
const DefaultMaxFileSize = 1 << 20

// DefaultLoadWorkers bounds concurrent file loads during a scan.
const DefaultLoadWorkers = 8

// compiledPattern holds both the pattern string and compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Scanner discovers and loads source files under a project root, applying
// include/exclude globs, .gitignore rules, and a file size cap.
type Scanner struct {
	rootDir     string
	include     []compiledPattern
	exclude     []compiledPattern
	ignore      *gitignore.GitIgnore
	maxFileSize int64
	workers     int
	logger      *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithMaxFileSize overrides the file size cap.
func WithMaxFileSize(n int64) ScannerOption {
	return func(s *Scanner) { s.maxFileSize = n }
}

// WithLoadWorkers overrides the concurrent load bound.
func WithLoadWorkers(n int) ScannerOption {
	return func(s *Scanner) { s.workers = n }
}

// WithLogger sets the scanner's logger.
func WithLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner compiles the include/exclude patterns and loads .gitignore
// from the root if present.
func NewScanner(rootDir string, include, exclude []string, opts ...ScannerOption) (*Scanner, error) {
	s := &Scanner{
		rootDir:     rootDir,
		maxFileSize: DefaultMaxFileSize,
		workers:     DefaultLoadWorkers,
		logger:      slog.Default(),
	}

	for _, pattern := range include {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		s.include = append(s.include, compiledPattern{pattern: pattern, glob: g})
	}
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		s.exclude = append(s.exclude, compiledPattern{pattern: pattern, glob: g})
	}

	if ig, err := gitignore.CompileIgnoreFile(filepath.Join(rootDir, ".gitignore")); err == nil {
		s.ignore = ig
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScanResult carries the loaded files plus the skip count for stats.
type ScanResult struct {
	Files   []*mesh.SourceFile
	Skipped int
}

// Scan walks the tree, filters paths, and loads matching files with a
// bounded worker pool. Unreadable and oversized files are skipped, not
// fatal. The context aborts the scan between files.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	paths, err := s.discover()
	if err != nil {
		return nil, fmt.Errorf("discovering files under %s: %w", s.rootDir, err)
	}
	return s.Load(ctx, paths)
}

// Load reads the given relative paths concurrently. Used directly in
// incremental mode when the changed-file list is already known.
func (s *Scanner) Load(ctx context.Context, relPaths []string) (*ScanResult, error) {
	loaded := make([]*mesh.SourceFile, len(relPaths))
	var skipped int

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, s.workers)

	for i, rel := range relPaths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rel string) {
			defer wg.Done()
			defer func() { <-sem }()

			sf, err := s.loadOne(rel)
			if err != nil {
				s.logger.Debug("skipping file", "path", rel, "reason", err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}
			loaded[i] = sf
		}(i, rel)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ScanResult{Skipped: skipped}
	for _, sf := range loaded {
		if sf != nil {
			result.Files = append(result.Files, sf)
		}
	}
	return result, nil
}

func (s *Scanner) loadOne(rel string) (*mesh.SourceFile, error) {
	abs := filepath.Join(s.rootDir, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.Size() > s.maxFileSize {
		return nil, fmt.Errorf("oversized: %d bytes", info.Size())
	}

	lang := DetectLanguage(rel)
	if lang == mesh.LangUnknown {
		return nil, fmt.Errorf("unknown language")
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	return mesh.NewSourceFile(abs, rel, string(content), lang, info.Size(), info.ModTime()), nil
}

// Matches reports whether a relative path passes the scanner's filters.
// Used in incremental mode to screen externally supplied change lists.
func (s *Scanner) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	if s.shouldExclude(rel) || s.matchesIgnore(rel) {
		return false
	}
	return len(s.include) == 0 || s.matchesAny(rel, s.include)
}

// discover walks the directory tree and returns relative paths passing the
// include/exclude and gitignore filters.
func (s *Scanner) discover() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if rel == ".git" || rel == ".codemesh" {
				return filepath.SkipDir
			}
			// A directory matching "node_modules/**"-style excludes is
			// pruned without descending.
			if s.matchesAny(rel+"/**", s.exclude) || s.matchesIgnore(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if s.shouldExclude(rel) || s.matchesIgnore(rel) {
			return nil
		}
		if len(s.include) > 0 && !s.matchesAny(rel, s.include) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *Scanner) shouldExclude(rel string) bool {
	if strings.HasPrefix(rel, ".git/") || rel == ".git" || strings.HasPrefix(rel, ".codemesh/") {
		return true
	}
	return s.matchesAny(rel, s.exclude)
}

func (s *Scanner) matchesIgnore(rel string) bool {
	return s.ignore != nil && s.ignore.MatchesPath(rel)
}

func (s *Scanner) matchesAny(path string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(path) {
			return true
		}
	}

	// Make "**/*.py" match root-level "main.py" as users expect.
	if !strings.Contains(path, "/") {
		for _, cp := range patterns {
			if strings.HasPrefix(cp.pattern, "**/") {
				simplified := strings.TrimPrefix(cp.pattern, "**/")
				if g, err := glob.Compile(simplified, '/'); err == nil && g.Match(path) {
					return true
				}
			}
		}
	}
	return false
}
