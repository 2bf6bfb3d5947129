package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/config"
	"github.com/draagon/codemesh/internal/evolve"
	"github.com/draagon/codemesh/internal/extract"
	"github.com/draagon/codemesh/internal/files"
	"github.com/draagon/codemesh/internal/git"
	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/project"
	"github.com/draagon/codemesh/internal/schema"
	"github.com/draagon/codemesh/internal/store"
)

// pipeline bundles everything an extraction run needs. Close releases
// the registry watcher and the mesh database.
type pipeline struct {
	cfg       *config.Config
	root      string
	projectID string
	logger    *slog.Logger

	projects  *project.Registry
	scanner   *files.Scanner
	trust     *evolve.TrustStore
	schemas   *schema.Store
	registry  *schema.Registry
	collab    ai.Collaborator
	extractor *extract.Extractor
	meshStore *store.Store
	git       git.Operations
}

// newPipeline assembles the extraction pipeline for one project root.
func newPipeline(root, projectID string) (*pipeline, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("project root %s: %w", absRoot, err)
	}

	cfg, err := loadConfig(absRoot)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	if projectID == "" {
		projectID = filepath.Base(absRoot)
	}

	home, err := cfg.HomeDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return nil, fmt.Errorf("failed to create codemesh home: %w", err)
	}

	projects, err := project.OpenAt(home)
	if err != nil {
		return nil, err
	}

	scanner, err := files.NewScanner(absRoot, cfg.Paths.Include, cfg.Paths.Exclude,
		files.WithMaxFileSize(cfg.Extraction.MaxFileSizeBytes),
		files.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	trust, err := evolve.NewTrustStore(home, logger)
	if err != nil {
		return nil, err
	}

	schemaDir := cfg.Schemas.Dir
	if schemaDir == "" {
		schemaDir = filepath.Join(home, "schemas")
	}
	schemas, err := schema.NewStore(schemaDir,
		schema.WithTrust(trust), schema.WithStoreLogger(logger))
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewRegistry(schemas, trust, schema.WithRegistryLogger(logger))
	if err != nil {
		return nil, err
	}

	var collab ai.Collaborator
	extractOpts := []extract.Option{
		extract.WithRouterConfig(cfg.RouterConfig()),
		extract.WithWorkers(cfg.Extraction.Workers),
		extract.WithLogger(logger),
		extract.WithProgress(NewCLIProgressReporter(quiet)),
	}
	if cfg.AI.Enabled {
		collab = ai.NewClient(ai.ClientConfig{
			Model:           cfg.AI.Model,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
			Timeout:         cfg.AITimeout(),
		})
		extractOpts = append(extractOpts, extract.WithCollaborator(collab))
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	meshStore, err := store.Open(dbPath, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &pipeline{
		cfg:       cfg,
		root:      absRoot,
		projectID: projectID,
		logger:    logger,
		projects:  projects,
		scanner:   scanner,
		trust:     trust,
		schemas:   schemas,
		registry:  registry,
		collab:    collab,
		extractor: extract.New(registry, extractOpts...),
		meshStore: meshStore,
		git:       git.NewOperations(),
	}, nil
}

func (p *pipeline) Close() {
	p.registry.Close()
	if err := p.meshStore.Close(); err != nil {
		p.logger.Warn("failed to close mesh database", "error", err)
	}
}

// versionScope resolves the branch and commit the run is stored under.
func (p *pipeline) versionScope() (branch, commit string) {
	branch = p.git.CurrentBranch(p.root)
	commit = p.git.CurrentCommit(p.root)
	return branch, commit
}

// dominantLanguage picks the most frequent language across a run's files,
// used to key framework discovery counts.
func dominantLanguage(results []mesh.FileResult) string {
	counts := map[mesh.Language]int{}
	var best mesh.Language
	for _, fr := range results {
		counts[fr.Language]++
		if counts[fr.Language] > counts[best] {
			best = fr.Language
		}
	}
	return string(best)
}
