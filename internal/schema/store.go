package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/draagon/codemesh/internal/mesh"
)

//go:embed base/*.json
var baseSchemas embed.FS

// TrustProvider supplies learned trust scores for schemas. The evolver
// owns the underlying history; the store only reads it.
type TrustProvider interface {
	// Trust returns the schema's trust score in [0,1] and whether any
	// extraction history exists for it.
	Trust(schemaName string) (float64, bool)
}

// Store holds the loaded schema set: embedded base schemas, an optional
// schema directory tree keyed by language, and evolved schemas under
// custom/<language>/<name>.json. It is safe for concurrent reads after
// Load; AddSchema and Load serialize writes internally.
type Store struct {
	mu      sync.RWMutex
	byName  map[string]*Schema
	byLang  map[mesh.Language][]*Schema
	dir     string
	trust   TrustProvider
	logger  *slog.Logger
	version uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTrust wires a trust provider, used for the evolved-override rule.
func WithTrust(tp TrustProvider) StoreOption {
	return func(s *Store) { s.trust = tp }
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a Store rooted at dir (may be "" for embedded-only) and
// loads it. Individual bad schema files are logged and skipped; only an
// unreadable directory is fatal.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		byName: make(map[string]*Schema),
		byLang: make(map[mesh.Language][]*Schema),
		dir:    dir,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the schema directory the store was rooted at.
func (s *Store) Dir() string { return s.dir }

// Version increments on every Load/AddSchema; the registry uses it to
// invalidate match caches.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Load (re)loads the full schema set: embedded base schemas first, then
// the directory tree, then evolved schemas, which override base schemas of
// the same name only when trusted (>= 0.7) or strictly newer in version.
func (s *Store) Load() error {
	loaded := make(map[string]*Schema)

	if err := s.loadEmbedded(loaded); err != nil {
		return err
	}

	if s.dir != "" {
		if err := s.loadDir(loaded, s.dir, false); err != nil {
			return err
		}
		customDir := filepath.Join(s.dir, "custom")
		if _, err := os.Stat(customDir); err == nil {
			if err := s.loadDir(loaded, customDir, true); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName = loaded
	s.byLang = make(map[mesh.Language][]*Schema)
	for _, sc := range loaded {
		s.byLang[sc.Language] = append(s.byLang[sc.Language], sc)
	}
	s.version++
	s.logger.Info("schema store loaded", "schemas", len(loaded), "version", s.version)
	return nil
}

func (s *Store) loadEmbedded(into map[string]*Schema) error {
	entries, err := fs.ReadDir(baseSchemas, "base")
	if err != nil {
		return fmt.Errorf("reading embedded schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := baseSchemas.ReadFile("base/" + entry.Name())
		if err != nil {
			return err
		}
		sc, err := Decode(data)
		if err != nil {
			// Embedded schemas ship with the binary; a bad one is a bug.
			return fmt.Errorf("embedded schema %s: %w", entry.Name(), err)
		}
		into[sc.Name] = sc
	}
	return nil
}

// loadDir walks one directory level of <language>/<name>.json files.
func (s *Store) loadDir(into map[string]*Schema, dir string, evolved bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading schema dir %s: %w", dir, err)
	}

	for _, langEntry := range entries {
		if !langEntry.IsDir() || (langEntry.Name() == "custom" && !evolved) {
			continue
		}
		langDir := filepath.Join(dir, langEntry.Name())
		files, err := os.ReadDir(langDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			path := filepath.Join(langDir, f.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("unreadable schema file skipped", "path", path, "error", err)
				continue
			}
			sc, err := Decode(data)
			if err != nil {
				s.logger.Warn("invalid schema skipped", "path", path, "error", err)
				continue
			}
			sc.Evolved = sc.Evolved || evolved

			if existing, ok := into[sc.Name]; ok && sc.Evolved && !s.evolvedOverrides(sc, existing) {
				s.logger.Debug("evolved schema not trusted enough to override",
					"schema", sc.Name, "version", sc.Version, "base_version", existing.Version)
				continue
			}
			into[sc.Name] = sc
		}
	}
	return nil
}

// evolvedOverrides applies the override rule: an evolved schema replaces a
// base schema of the same name only with trust >= 0.7 or a strictly higher
// semantic version.
func (s *Store) evolvedOverrides(evolved, base *Schema) bool {
	if s.trust != nil {
		if trust, ok := s.trust.Trust(evolved.Name); ok && trust >= 0.7 {
			return true
		}
	}
	return CompareVersions(evolved.Version, base.Version) > 0
}

// Decode parses schema JSON through a map so hand-authored files and
// AI-generated payloads share one decode/validate/compile path.
func Decode(data []byte) (*Schema, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing schema JSON: %w", err)
	}
	return DecodeMap(raw)
}

// DecodeMap converts an already-parsed payload into a validated, compiled
// Schema.
func DecodeMap(raw map[string]any) (*Schema, error) {
	var sc Schema
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &sc,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	if err := Validate(&sc); err != nil {
		return nil, err
	}
	if err := sc.Compile(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// AddSchema validates and registers a schema, replacing any existing
// schema of the same name.
func (s *Store) AddSchema(sc *Schema) error {
	if err := Validate(sc); err != nil {
		return err
	}
	if err := sc.Compile(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byName[sc.Name]; ok {
		filtered := s.byLang[old.Language][:0]
		for _, x := range s.byLang[old.Language] {
			if x.Name != sc.Name {
				filtered = append(filtered, x)
			}
		}
		s.byLang[old.Language] = filtered
	}
	s.byName[sc.Name] = sc
	s.byLang[sc.Language] = append(s.byLang[sc.Language], sc)
	s.version++
	return nil
}

// SaveEvolved writes an evolved schema under custom/<language>/<name>.json
// and registers it.
func (s *Store) SaveEvolved(sc *Schema) error {
	sc.Evolved = true
	if err := s.AddSchema(sc); err != nil {
		return err
	}
	if s.dir == "" {
		return nil
	}

	dir := filepath.Join(s.dir, "custom", string(sc.Language))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating custom schema dir: %w", err)
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, sc.Name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing evolved schema %s: %w", path, err)
	}
	s.logger.Info("evolved schema saved", "schema", sc.Name, "path", path)
	return nil
}

// Get returns the schema by name.
func (s *Store) Get(name string) (*Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.byName[name]
	return sc, ok
}

// ForLanguage returns all schemas for a language.
func (s *Store) ForLanguage(lang mesh.Language) []*Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schema, len(s.byLang[lang]))
	copy(out, s.byLang[lang])
	return out
}

// All returns every loaded schema.
func (s *Store) All() []*Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schema, 0, len(s.byName))
	for _, sc := range s.byName {
		out = append(out, sc)
	}
	return out
}

// BaseForLanguage returns the base (non-evolved) schema for a language if
// one exists, used as the Tier 1 fallback when nothing matches and AI is
// unavailable.
func (s *Store) BaseForLanguage(lang mesh.Language) (*Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.byLang[lang] {
		if !sc.Evolved && strings.HasPrefix(sc.Name, "base-") {
			return sc, true
		}
	}
	return nil, false
}

// CompareVersions compares two dotted semantic versions, returning -1, 0,
// or 1. Missing or malformed segments compare as zero.
func CompareVersions(a, b string) int {
	as := strings.SplitN(a, ".", 3)
	bs := strings.SplitN(b, ".", 3)
	for i := 0; i < 3; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
