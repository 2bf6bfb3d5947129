// Package extract orchestrates the tiered extraction pipeline: route each
// file to a tier, run the pattern matcher and/or the AI collaborators,
// dedup the output, and aggregate project statistics. Files are processed
// by a bounded worker pool; the schema registry is read-only for the
// duration of a run.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/matcher"
	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/schema"
)

// DefaultWorkers is the file-level parallelism when none is configured.
const DefaultWorkers = 4

// SchemaOutcome accumulates per-schema verification results for one run,
// consumed by the trust scorer.
type SchemaOutcome struct {
	SchemaName  string `json:"schema_name"`
	Extractions int    `json:"extractions"`
	Verified    int    `json:"verified"`
	Corrected   int    `json:"corrected"`
	Rejected    int    `json:"rejected"`
}

// Run is the full output of one extraction pass over a project.
type Run struct {
	Result      *mesh.ProjectResult
	Suggestions []ai.SchemaSuggestion
	Outcomes    map[string]*SchemaOutcome
}

// Extractor drives per-file extraction.
type Extractor struct {
	registry   *schema.Registry
	matcher    *matcher.Matcher
	verifier   *ai.Verifier
	discoverer *ai.Discoverer
	router     RouterConfig
	workers    int
	progress   ProgressReporter
	logger     *slog.Logger
}

// ProgressReporter receives per-file progress during a run. Callbacks
// may be invoked from worker goroutines.
type ProgressReporter interface {
	OnFileProcessingStart(totalFiles int)
	OnFileProcessed(fileName string)
}

type noopProgress struct{}

func (noopProgress) OnFileProcessingStart(int) {}
func (noopProgress) OnFileProcessed(string)    {}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCollaborator enables Tier 2/3 by wiring an AI collaborator.
func WithCollaborator(c ai.Collaborator) Option {
	return func(e *Extractor) {
		e.verifier = ai.NewVerifier(c)
		e.discoverer = ai.NewDiscoverer(c)
	}
}

// WithRouterConfig overrides the escalation thresholds.
func WithRouterConfig(cfg RouterConfig) Option {
	return func(e *Extractor) { e.router = cfg }
}

// WithWorkers sets file-level parallelism.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithProgress wires a progress reporter for interactive runs.
func WithProgress(p ProgressReporter) Option {
	return func(e *Extractor) {
		if p != nil {
			e.progress = p
		}
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor over a loaded registry.
func New(registry *schema.Registry, opts ...Option) *Extractor {
	e := &Extractor{
		registry: registry,
		matcher:  matcher.New(),
		workers:  DefaultWorkers,
		progress: noopProgress{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.router = e.router.withDefaults()
	e.matcher = matcher.New(matcher.WithLogger(e.logger))
	return e
}

func (e *Extractor) aiAvailable() bool { return e.discoverer != nil }

type fileOutcome struct {
	result      mesh.FileResult
	usage       ai.Usage
	suggestions []ai.SchemaSuggestion
	outcome     *SchemaOutcome
	done        bool
}

// ExtractProject runs the pipeline over the loaded files. Cancellation is
// honored between files: files already finished are kept, files still in
// flight when the context dies are discarded.
func (e *Extractor) ExtractProject(ctx context.Context, projectID string, files []*mesh.SourceFile) *Run {
	start := time.Now()
	outcomes := make([]fileOutcome, len(files))
	e.progress.OnFileProcessingStart(len(files))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)

	for i, file := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file *mesh.SourceFile) {
			defer wg.Done()
			defer func() { <-sem }()
			out := e.extractFile(ctx, projectID, file)
			out.done = ctx.Err() == nil
			outcomes[i] = out
			e.progress.OnFileProcessed(file.RelPath)
		}(i, file)
	}
	wg.Wait()

	run := &Run{
		Result:   &mesh.ProjectResult{ProjectID: projectID},
		Outcomes: map[string]*SchemaOutcome{},
	}
	for _, out := range outcomes {
		if !out.done {
			continue
		}
		run.Result.Files = append(run.Result.Files, out.result)
		run.Suggestions = append(run.Suggestions, out.suggestions...)
		mergeOutcome(run.Outcomes, out.outcome)

		stats := &run.Result.Stats
		stats.FilesProcessed++
		stats.TotalNodes += len(out.result.Nodes)
		stats.TotalEdges += len(out.result.Edges)
		stats.AICalls += out.usage.Calls
		stats.AITokensUsed += int(out.usage.TotalTokens())
		switch out.result.Tier {
		case mesh.Tier1:
			stats.Tier1Extractions++
		case mesh.Tier2:
			stats.Tier2Extractions++
		case mesh.Tier3:
			stats.Tier3Extractions++
		}
	}
	run.Result.Stats.ExtractionTime = time.Since(start)

	e.logger.Info("extraction finished",
		"project", projectID,
		"files", run.Result.Stats.FilesProcessed,
		"tier1", run.Result.Stats.Tier1Extractions,
		"tier2", run.Result.Stats.Tier2Extractions,
		"tier3", run.Result.Stats.Tier3Extractions,
		"nodes", run.Result.Stats.TotalNodes,
		"edges", run.Result.Stats.TotalEdges,
		"ai_calls", run.Result.Stats.AICalls,
		"elapsed", run.Result.Stats.ExtractionTime)
	return run
}

// extractFile routes one file and runs the chosen tiers.
func (e *Extractor) extractFile(ctx context.Context, projectID string, file *mesh.SourceFile) fileOutcome {
	matches := e.registry.FindMatchingSchemas(file)
	decision := route(matches, e.aiAvailable(), e.router)

	e.logger.Info("tier decision",
		"file", file.RelPath, "tier", int(decision.Tier),
		"reason", decision.Reason, "schemas", decision.SchemasConsidered)

	out := fileOutcome{result: mesh.FileResult{File: file.RelPath, Language: file.Language}}
	budget := e.router.MaxAICallsPerFile

	if decision.Tier == mesh.Tier3 {
		if e.discoverTier3(ctx, projectID, file, &out) {
			dedupFile(&out.result)
			return out
		}
		// Discovery failed: fall back to whatever Tier 1 can produce.
	}

	sc := e.tier1Schema(decision, file, &out.result)
	if sc == nil {
		return out
	}

	mres := e.matcher.Match(file, sc, projectID)
	out.result.Nodes = mres.Nodes
	out.result.Edges = mres.Edges
	out.result.Confidence = mres.Confidence
	out.result.Tier = mesh.Tier1
	out.result.SchemasUsed = []string{sc.Name}
	out.result.UnresolvedPatterns = mres.UnresolvedPatterns
	out.outcome = &SchemaOutcome{SchemaName: sc.Name, Extractions: 1}

	needVerify := decision.MandatoryVerify || mres.Confidence < e.router.Tier1Acceptance
	if needVerify && e.verifier != nil {
		e.logger.Info("escalating to tier 2",
			"file", file.RelPath, "schema", sc.Name,
			"confidence", mres.Confidence, "mandatory", decision.MandatoryVerify)
		e.verifyTier2(ctx, file, budget-out.usage.Calls, &out)
	}

	dedupFile(&out.result)
	return out
}

// tier1Schema picks the schema for a Tier 1 run: the routed best match, or
// the base schema for the file's language as a last resort.
func (e *Extractor) tier1Schema(decision Decision, file *mesh.SourceFile, fr *mesh.FileResult) *schema.Schema {
	if decision.Best != nil {
		return decision.Best.Schema
	}
	base, ok := e.registry.Store().BaseForLanguage(file.Language)
	if !ok {
		fr.Errors = append(fr.Errors,
			fmt.Sprintf("no schema available for language %q", file.Language))
		return nil
	}
	return base
}

func (e *Extractor) discoverTier3(ctx context.Context, projectID string, file *mesh.SourceFile, out *fileOutcome) bool {
	discovery, err := e.discoverer.Discover(ctx, file, projectID)
	if err != nil {
		out.result.Errors = append(out.result.Errors,
			fmt.Sprintf("tier 3 discovery failed: %v", err))
		e.logger.Warn("tier 3 discovery failed", "file", file.RelPath, "error", err)
		return false
	}

	out.result.Nodes = discovery.Nodes
	out.result.Edges = discovery.Edges
	out.result.Confidence = discovery.Confidence
	out.result.Tier = mesh.Tier3
	out.usage = discovery.Usage
	out.suggestions = discovery.Suggestions
	return true
}

func (e *Extractor) verifyTier2(ctx context.Context, file *mesh.SourceFile, budget int, out *fileOutcome) {
	if budget <= 0 {
		out.result.Errors = append(out.result.Errors, "tier 2 skipped: AI call budget exhausted")
		return
	}

	vout := e.verifier.Verify(ctx, file, out.result.Nodes, budget)
	out.result.Nodes = vout.Nodes
	out.result.Errors = append(out.result.Errors, vout.Errors...)
	out.usage.Calls += vout.Usage.Calls
	out.usage.InputTokens += vout.Usage.InputTokens
	out.usage.OutputTokens += vout.Usage.OutputTokens

	if len(vout.Verifications) == 0 {
		return
	}
	out.result.Tier = mesh.Tier2

	for _, v := range vout.Verifications {
		switch v.Status {
		case ai.StatusVerified:
			out.outcome.Verified++
		case ai.StatusCorrected:
			out.outcome.Corrected++
		case ai.StatusRejected:
			out.outcome.Rejected++
		}
	}

	// File confidence follows the verifier's view of its nodes.
	var sum float64
	for _, v := range vout.Verifications {
		sum += v.Confidence
	}
	out.result.Confidence = sum / float64(len(vout.Verifications))
}

func mergeOutcome(into map[string]*SchemaOutcome, o *SchemaOutcome) {
	if o == nil {
		return
	}
	agg, ok := into[o.SchemaName]
	if !ok {
		agg = &SchemaOutcome{SchemaName: o.SchemaName}
		into[o.SchemaName] = agg
	}
	agg.Extractions += o.Extractions
	agg.Verified += o.Verified
	agg.Corrected += o.Corrected
	agg.Rejected += o.Rejected
}
