package evolve

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// MinEvolutionConfidence discards pattern improvements the collaborator
// itself is unsure about.
const MinEvolutionConfidence = 0.5

// Evolver turns accumulated learning state into schema changes: improved
// regexes for schemas with high correction rates, and brand-new schemas
// for frameworks seen repeatedly at Tier 3.
type Evolver struct {
	trust   *TrustStore
	store   *schema.Store
	collab  ai.Collaborator
	logger  *slog.Logger
	retries int
}

// EvolverOption configures an Evolver.
type EvolverOption func(*Evolver)

// WithEvolverLogger sets the evolver's logger.
func WithEvolverLogger(l *slog.Logger) EvolverOption {
	return func(e *Evolver) { e.logger = l }
}

// WithEvolverRetries sets the per-call retry cap.
func WithEvolverRetries(n int) EvolverOption {
	return func(e *Evolver) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// NewEvolver wires the learning loop together.
func NewEvolver(trust *TrustStore, store *schema.Store, collab ai.Collaborator, opts ...EvolverOption) *Evolver {
	e := &Evolver{
		trust:   trust,
		store:   store,
		collab:  collab,
		logger:  slog.Default(),
		retries: ai.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report summarizes one evolution pass.
type Report struct {
	Evolved   []string `json:"evolved,omitempty"`
	Generated []string `json:"generated,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Evolve runs the full learning pass: evolve every schema whose error
// rates crossed the triggers, then generate schemas for frameworks whose
// discovery count reached the threshold. Failures are collected per
// schema; one bad answer never aborts the pass.
func (e *Evolver) Evolve(ctx context.Context) *Report {
	report := &Report{}

	for _, sc := range e.store.All() {
		rec, ok := e.trust.Get(sc.Name)
		if !ok || !rec.NeedsEvolution() {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err.Error())
			return report
		}

		evolved, err := e.EvolveSchema(ctx, sc, rec)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("evolving %s: %v", sc.Name, err))
			continue
		}
		report.Evolved = append(report.Evolved, evolved.Name)
	}

	for _, disc := range e.trust.DueDiscoveries() {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, err.Error())
			return report
		}

		generated, err := e.GenerateSchema(ctx, disc)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("generating %s schema: %v", disc.Framework, err))
			continue
		}
		report.Generated = append(report.Generated, generated.Name)
	}

	return report
}

// EvolveSchema asks the collaborator for an improved regex for each of the
// schema's patterns, keeps only answers that compile and come back with
// enough confidence, bumps the patch version, and persists the result
// under custom/. The old schema's counters are reset so the new version
// earns its own trust.
func (e *Evolver) EvolveSchema(ctx context.Context, sc *schema.Schema, rec SchemaRecord) (*schema.Schema, error) {
	candidate := cloneSchema(sc)
	summary := recordSummary(rec)

	changed := 0
	for extractor, patterns := range candidate.Extractors {
		for i := range patterns {
			p := &patterns[i]
			prompt := ai.EvolvePrompt(sc.Name, p.Name, p.Regex, summary)
			resp, err := ai.Complete(ctx, e.collab, ai.SystemPrompt(), prompt, e.retries, e.logger)
			if err != nil {
				return nil, fmt.Errorf("pattern %s/%s: %w", extractor, p.Name, err)
			}

			ev, err := ai.ParseEvolution(resp.Text)
			if err != nil {
				e.logger.Warn("evolution answer unparseable",
					"schema", sc.Name, "pattern", p.Name, "error", err)
				continue
			}
			if ev.Confidence > 0 && ev.Confidence < MinEvolutionConfidence {
				e.logger.Info("evolution answer below confidence floor",
					"schema", sc.Name, "pattern", p.Name, "confidence", ev.Confidence)
				continue
			}
			if _, err := regexp.Compile("(?m)" + ev.NewRegex); err != nil {
				e.logger.Warn("evolved regex does not compile, discarded",
					"schema", sc.Name, "pattern", p.Name, "error", err)
				continue
			}
			if ev.NewRegex == p.Regex {
				continue
			}
			p.Regex = ev.NewRegex
			changed++
		}
		candidate.Extractors[extractor] = patterns
	}

	if changed == 0 {
		return nil, fmt.Errorf("no usable pattern improvements")
	}

	candidate.Version = bumpPatch(candidate.Version)
	if err := e.store.SaveEvolved(candidate); err != nil {
		return nil, fmt.Errorf("persisting evolved schema: %w", err)
	}
	if err := e.trust.ResetSchema(sc.Name); err != nil {
		return nil, err
	}

	e.logger.Info("schema evolved",
		"schema", candidate.Name, "version", candidate.Version,
		"patterns_changed", changed,
		"correction_rate", rec.CorrectionRate(),
		"rejection_rate", rec.RejectionRate())
	return candidate, nil
}

// GenerateSchema asks the collaborator for a complete schema for a
// framework seen repeatedly at Tier 3, validates it through the shared
// decode path, and persists it. Invalid answers are discarded.
func (e *Evolver) GenerateSchema(ctx context.Context, disc DiscoveryRecord) (*schema.Schema, error) {
	observed := fmt.Sprintf("Framework %q seen in %d files. Suggested patterns: %s.",
		disc.Framework, disc.Count, strings.Join(disc.Patterns, ", "))
	prompt := ai.GenerateSchemaPrompt(disc.Language, observed)

	resp, err := ai.Complete(ctx, e.collab, ai.SystemPrompt(), prompt, e.retries, e.logger)
	if err != nil {
		return nil, err
	}

	block, ok := ai.ExtractJSONBlock(resp.Text)
	if !ok {
		return nil, fmt.Errorf("answer contains no JSON schema")
	}
	sc, err := schema.Decode([]byte(block))
	if err != nil {
		e.logger.Warn("generated schema invalid, discarded",
			"framework", disc.Framework, "error", err)
		return nil, fmt.Errorf("generated schema invalid: %w", err)
	}

	if sc.Name == "" {
		sc.Name = fmt.Sprintf("%s-%s", disc.Framework, disc.Language)
	}
	if sc.Language == "" {
		sc.Language = mesh.Language(disc.Language)
	}
	if sc.Version == "" {
		sc.Version = "1.0.0"
	}

	if existing, ok := e.store.Get(sc.Name); ok {
		if schema.CompareVersions(sc.Version, existing.Version) <= 0 {
			sc.Version = bumpPatch(existing.Version)
		}
	}

	if err := e.store.SaveEvolved(sc); err != nil {
		return nil, fmt.Errorf("persisting generated schema: %w", err)
	}
	if err := e.trust.ResetDiscovery(disc.Framework, disc.Language); err != nil {
		return nil, err
	}

	e.logger.Info("schema generated",
		"schema", sc.Name, "framework", disc.Framework, "sightings", disc.Count)
	return sc, nil
}

// SuggestPatternFix asks for an improved regex for one named pattern
// without persisting anything. Used by the schema inspection commands.
func (e *Evolver) SuggestPatternFix(ctx context.Context, schemaName, patternName, corrections string) (*ai.Evolution, error) {
	sc, ok := e.store.Get(schemaName)
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", schemaName)
	}
	var pattern *schema.Pattern
	for _, p := range sc.Patterns() {
		if p.Name == patternName {
			pattern = p
			break
		}
	}
	if pattern == nil {
		return nil, fmt.Errorf("schema %q has no pattern %q", schemaName, patternName)
	}

	prompt := ai.EvolvePrompt(schemaName, patternName, pattern.Regex, corrections)
	resp, err := ai.Complete(ctx, e.collab, ai.SystemPrompt(), prompt, e.retries, e.logger)
	if err != nil {
		return nil, err
	}
	ev, err := ai.ParseEvolution(resp.Text)
	if err != nil {
		return nil, err
	}
	if _, err := regexp.Compile("(?m)" + ev.NewRegex); err != nil {
		return nil, fmt.Errorf("suggested regex does not compile: %w", err)
	}
	return ev, nil
}

func recordSummary(rec SchemaRecord) string {
	return fmt.Sprintf(
		"Across %d extractions with %d verified samples: %d verified, %d corrected (%.0f%%), %d rejected (%.0f%%).",
		rec.Extractions, rec.Samples(), rec.Verified,
		rec.Corrected, rec.CorrectionRate()*100,
		rec.Rejected, rec.RejectionRate()*100)
}

// cloneSchema deep-copies the mutable parts of a schema so evolution never
// touches the version the registry is serving.
func cloneSchema(sc *schema.Schema) *schema.Schema {
	out := &schema.Schema{
		Name:        sc.Name,
		Language:    sc.Language,
		Version:     sc.Version,
		Description: sc.Description,
		Evolved:     sc.Evolved,
		Detection: schema.Detection{
			Imports:         append([]string(nil), sc.Detection.Imports...),
			Filenames:       append([]string(nil), sc.Detection.Filenames...),
			Contents:        append([]string(nil), sc.Detection.Contents...),
			ConfidenceBoost: sc.Detection.ConfidenceBoost,
		},
		Extractors: make(map[string][]schema.Pattern, len(sc.Extractors)),
	}
	for name, patterns := range sc.Extractors {
		copied := make([]schema.Pattern, len(patterns))
		for i, p := range patterns {
			cp := schema.Pattern{Name: p.Name, Regex: p.Regex, Node: p.Node, Edge: p.Edge}
			if p.Captures != nil {
				cp.Captures = make(map[string]schema.Capture, len(p.Captures))
				for k, v := range p.Captures {
					cp.Captures[k] = v
				}
			}
			copied[i] = cp
		}
		out.Extractors[name] = copied
	}
	return out
}

func bumpPatch(version string) string {
	parts := strings.SplitN(version, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	patch, _ := strconv.Atoi(parts[2])
	parts[2] = strconv.Itoa(patch + 1)
	return strings.Join(parts, ".")
}
