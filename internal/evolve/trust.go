// Package evolve is the learning loop: it scores schema trust from
// verification outcomes, accumulates Tier 3 discoveries per framework, and
// asks the collaborator for improved or brand-new schemas when the
// evidence crosses the evolution thresholds.
package evolve

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/extract"
)

// Evolution thresholds, from accumulated extraction experience.
const (
	// MinSamplesForEvolution is how many verification samples a schema
	// needs before its rates are meaningful.
	MinSamplesForEvolution = 20
	// CorrectionRateTrigger marks a schema as needing evolution.
	CorrectionRateTrigger = 0.1
	// RejectionRateTrigger marks a schema as needing evolution.
	RejectionRateTrigger = 0.05
	// DiscoveryThreshold is how many Tier 3 sightings of one framework
	// trigger schema generation.
	DiscoveryThreshold = 5
)

// Trust levels for health reporting.
const (
	TrustHigh   = "high"   // >= 0.8
	TrustMedium = "medium" // >= 0.6
	TrustLow    = "low"
)

// SchemaRecord is the persisted learning state for one schema.
type SchemaRecord struct {
	Extractions int       `json:"extractions"`
	Verified    int       `json:"verified"`
	Corrected   int       `json:"corrected"`
	Rejected    int       `json:"rejected"`
	Trust       float64   `json:"trust"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Samples is the number of verification outcomes behind the trust score.
func (r SchemaRecord) Samples() int { return r.Verified + r.Corrected + r.Rejected }

// CorrectionRate is corrected / samples, 0 without samples.
func (r SchemaRecord) CorrectionRate() float64 {
	if s := r.Samples(); s > 0 {
		return float64(r.Corrected) / float64(s)
	}
	return 0
}

// RejectionRate is rejected / samples, 0 without samples.
func (r SchemaRecord) RejectionRate() float64 {
	if s := r.Samples(); s > 0 {
		return float64(r.Rejected) / float64(s)
	}
	return 0
}

// NeedsEvolution reports whether the schema's error rates cross the
// evolution triggers with enough samples behind them.
func (r SchemaRecord) NeedsEvolution() bool {
	if r.Samples() < MinSamplesForEvolution {
		return false
	}
	return r.CorrectionRate() > CorrectionRateTrigger || r.RejectionRate() > RejectionRateTrigger
}

// DiscoveryRecord counts Tier 3 sightings of one framework per language.
type DiscoveryRecord struct {
	Framework string    `json:"framework"`
	Language  string    `json:"language"`
	Count     int       `json:"count"`
	Patterns  []string  `json:"patterns,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type trustFile struct {
	Schemas     map[string]*SchemaRecord    `json:"schemas"`
	Discoveries map[string]*DiscoveryRecord `json:"discoveries"`
}

// TrustStore persists learning state as a JSON sidecar next to the schema
// directory, guarded by a file lock so concurrent runs do not clobber each
// other. It implements schema.TrustProvider.
type TrustStore struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu   sync.RWMutex
	data trustFile
}

// NewTrustStore loads (or initializes) the sidecar at dir/trust.json.
func NewTrustStore(dir string, logger *slog.Logger) (*TrustStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}

	path := filepath.Join(dir, "trust.json")
	ts := &TrustStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
		data: trustFile{
			Schemas:     map[string]*SchemaRecord{},
			Discoveries: map[string]*DiscoveryRecord{},
		},
	}
	if err := ts.load(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TrustStore) load() error {
	if err := ts.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock trust store: %w", err)
	}
	defer ts.lock.Unlock()

	raw, err := os.ReadFile(ts.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read trust store: %w", err)
	}

	var data trustFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse trust store: %w", err)
	}
	if data.Schemas == nil {
		data.Schemas = map[string]*SchemaRecord{}
	}
	if data.Discoveries == nil {
		data.Discoveries = map[string]*DiscoveryRecord{}
	}

	ts.mu.Lock()
	ts.data = data
	ts.mu.Unlock()
	return nil
}

// save writes the sidecar atomically under the file lock. Callers must
// hold ts.mu.
func (ts *TrustStore) save() error {
	if err := ts.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock trust store: %w", err)
	}
	defer ts.lock.Unlock()

	raw, err := json.MarshalIndent(ts.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trust store: %w", err)
	}

	tmp := ts.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write trust store: %w", err)
	}
	if err := os.Rename(tmp, ts.path); err != nil {
		return fmt.Errorf("failed to replace trust store: %w", err)
	}
	return nil
}

// Trust returns the learned trust for a schema and whether any
// verification history exists. Implements schema.TrustProvider.
func (ts *TrustStore) Trust(name string) (float64, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	rec, ok := ts.data.Schemas[name]
	if !ok || rec.Samples() == 0 {
		return 0, false
	}
	return rec.Trust, true
}

// Record folds one run's outcomes and discoveries into the store and
// recomputes trust as the running ratio of successful verifications, with
// corrections counting half.
func (ts *TrustStore) RecordRun(outcomes map[string]*extract.SchemaOutcome, suggestions []ai.SchemaSuggestion, language string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := time.Now().UTC()

	for name, o := range outcomes {
		rec, ok := ts.data.Schemas[name]
		if !ok {
			rec = &SchemaRecord{}
			ts.data.Schemas[name] = rec
		}
		rec.Extractions += o.Extractions
		rec.Verified += o.Verified
		rec.Corrected += o.Corrected
		rec.Rejected += o.Rejected
		if s := rec.Samples(); s > 0 {
			rec.Trust = (float64(rec.Verified) + 0.5*float64(rec.Corrected)) / float64(s)
		}
		rec.UpdatedAt = now
	}

	for _, s := range suggestions {
		key := s.Framework + "/" + language
		rec, ok := ts.data.Discoveries[key]
		if !ok {
			rec = &DiscoveryRecord{Framework: s.Framework, Language: language}
			ts.data.Discoveries[key] = rec
		}
		rec.Count++
		if s.PatternName != "" && !contains(rec.Patterns, s.PatternName) {
			rec.Patterns = append(rec.Patterns, s.PatternName)
		}
		rec.UpdatedAt = now
	}

	return ts.save()
}

// Get returns a copy of a schema's record.
func (ts *TrustStore) Get(name string) (SchemaRecord, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	rec, ok := ts.data.Schemas[name]
	if !ok {
		return SchemaRecord{}, false
	}
	return *rec, true
}

// ResetSchema clears a schema's counters after evolution so the new
// version earns its own trust.
func (ts *TrustStore) ResetSchema(name string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.data.Schemas, name)
	return ts.save()
}

// ResetDiscovery clears a framework's discovery counter after generation.
func (ts *TrustStore) ResetDiscovery(framework, language string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.data.Discoveries, framework+"/"+language)
	return ts.save()
}

// DueDiscoveries returns frameworks whose sighting count has reached the
// generation threshold.
func (ts *TrustStore) DueDiscoveries() []DiscoveryRecord {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	var out []DiscoveryRecord
	for _, rec := range ts.data.Discoveries {
		if rec.Count >= DiscoveryThreshold {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Framework < out[j].Framework
	})
	return out
}

// SchemaHealth is one row of the health report.
type SchemaHealth struct {
	Name           string  `json:"name"`
	Trust          float64 `json:"trust"`
	Level          string  `json:"level"`
	Accuracy       float64 `json:"accuracy"`
	Extractions    int     `json:"extractions"`
	Samples        int     `json:"samples"`
	NeedsEvolution bool    `json:"needs_evolution"`
}

// Health reports every schema with learning history, worst trust first.
func (ts *TrustStore) Health() []SchemaHealth {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make([]SchemaHealth, 0, len(ts.data.Schemas))
	for name, rec := range ts.data.Schemas {
		h := SchemaHealth{
			Name:           name,
			Trust:          rec.Trust,
			Level:          trustLevel(rec.Trust),
			Extractions:    rec.Extractions,
			Samples:        rec.Samples(),
			NeedsEvolution: rec.NeedsEvolution(),
		}
		if h.Samples > 0 {
			h.Accuracy = float64(rec.Verified) / float64(h.Samples)
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Trust != out[j].Trust {
			return out[i].Trust < out[j].Trust
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func trustLevel(trust float64) string {
	switch {
	case trust >= 0.8:
		return TrustHigh
	case trust >= 0.6:
		return TrustMedium
	default:
		return TrustLow
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
