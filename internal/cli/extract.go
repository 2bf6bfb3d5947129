package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/evolve"
	"github.com/draagon/codemesh/internal/link"
	"github.com/draagon/codemesh/internal/project"
)

var extractProjectID string

// extractCmd runs a full extraction over a project tree.
var extractCmd = &cobra.Command{
	Use:   "extract [path]",
	Short: "Extract a project's knowledge mesh",
	Long: `Extract scans the project tree, runs the tiered extraction
pipeline over every matching source file, and stores the resulting mesh
versioned by the current branch and commit. Earlier data for the same
project and branch is replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot(args)
		if err != nil {
			return err
		}

		p, err := newPipeline(root, extractProjectID)
		if err != nil {
			return err
		}
		defer p.Close()

		if _, err := p.projects.Register(p.projectID, p.root); err != nil {
			return err
		}
		if err := runExtraction(cmd, p); err != nil {
			p.projects.SetStatus(p.projectID, project.StatusError, err.Error())
			return err
		}
		return nil
	},
}

func runExtraction(cmd *cobra.Command, p *pipeline) error {
	ctx := cmd.Context()
	if err := p.projects.SetStatus(p.projectID, project.StatusExtracting, ""); err != nil {
		return err
	}
	if p.cfg.Schemas.Watch {
		if err := p.registry.Watch(ctx); err != nil {
			p.logger.Warn("schema watcher unavailable", "error", err)
		}
	}

	scan, err := p.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	if len(scan.Files) == 0 {
		return fmt.Errorf("no extractable files under %s", p.root)
	}

	run := p.extractor.ExtractProject(ctx, p.projectID, scan.Files)
	if err := ctx.Err(); err != nil {
		return err
	}
	run.Result.Root = p.root
	run.Result.Stats.FilesSkipped += scan.Skipped
	run.Result.Git = p.git.Collect(p.root)
	run.Result.References = link.CollectReferences(run.Result)

	branch, commit := p.versionScope()
	merge, err := p.meshStore.StoreFullExtraction(ctx, run.Result, branch, commit)
	if err != nil {
		return err
	}

	if err := p.trust.RecordRun(run.Outcomes, run.Suggestions, dominantLanguage(run.Result.Files)); err != nil {
		p.logger.Warn("failed to record trust outcomes", "error", err)
	}
	if p.cfg.Schemas.SelfLearning && p.collab != nil {
		report := evolve.NewEvolver(p.trust, p.schemas, p.collab,
			evolve.WithEvolverLogger(p.logger)).Evolve(ctx)
		printEvolveReport(report)
		run.Result.Stats.SchemasGenerated = len(report.Generated)
	}

	if err := p.projects.MarkExtracted(p.projectID, branch, commit); err != nil {
		return err
	}

	if !quiet {
		printRunSummary(run.Result.Stats)
		fmt.Printf("  Stored:  %s nodes, %s edges on %s@%s\n",
			formatNumber(merge.NodesAdded), formatNumber(merge.EdgesAdded),
			branch, shortCommit(commit))
	}
	return nil
}

func printEvolveReport(report *evolve.Report) {
	if quiet || report == nil {
		return
	}
	for _, name := range report.Evolved {
		fmt.Printf("  Evolved schema %s\n", name)
	}
	for _, name := range report.Generated {
		fmt.Printf("  Generated schema %s\n", name)
	}
	for _, msg := range report.Errors {
		fmt.Printf("  Evolution skipped: %s\n", msg)
	}
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	if commit == "" {
		return "none"
	}
	return commit
}

func init() {
	extractCmd.Flags().StringVar(&extractProjectID, "project", "", "project id (default is the directory name)")
	rootCmd.AddCommand(extractCmd)
}
