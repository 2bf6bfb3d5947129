package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/link"
	"github.com/draagon/codemesh/internal/project"
)

var syncProjectID string

// syncCmd re-extracts only the files git reports as changed since the
// last stored commit.
var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Incrementally update a project's mesh",
	Long: `Sync diffs the working tree against the commit of the last
extraction, re-extracts only the changed files, and merges the result
into the stored mesh. Falls back to a full extraction when the project
was never extracted or the diff cannot be computed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot(args)
		if err != nil {
			return err
		}

		p, err := newPipeline(root, syncProjectID)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := runSync(cmd, p); err != nil {
			p.projects.SetStatus(p.projectID, project.StatusError, err.Error())
			return err
		}
		return nil
	},
}

// syncMode is how a sync run proceeds given the previous extraction
// and the current version scope.
type syncMode int

const (
	syncFull syncMode = iota
	syncUpToDate
	syncIncremental
)

// resolveSyncMode routes the run. The stored mesh is scoped per branch,
// so a branch switch cannot merge a diff into rows that do not exist;
// the new branch starts from a full extraction.
func resolveSyncMode(prev project.Project, known bool, branch, commit string) syncMode {
	switch {
	case !known || prev.Commit == "":
		return syncFull
	case commit == prev.Commit && branch == prev.Branch:
		return syncUpToDate
	case branch != prev.Branch:
		return syncFull
	default:
		return syncIncremental
	}
}

func runSync(cmd *cobra.Command, p *pipeline) error {
	ctx := cmd.Context()

	prev, known := p.projects.Get(p.projectID)
	branch, commit := p.versionScope()

	switch resolveSyncMode(prev, known, branch, commit) {
	case syncUpToDate:
		if !quiet {
			fmt.Printf("✓ %s already up to date at %s@%s\n",
				p.projectID, branch, shortCommit(commit))
		}
		return nil
	case syncFull:
		if !known || prev.Commit == "" {
			p.logger.Info("no previous extraction, running full", "project", p.projectID)
		} else {
			p.logger.Info("branch changed, running full",
				"project", p.projectID, "from", prev.Branch, "to", branch)
		}
		if _, err := p.projects.Register(p.projectID, p.root); err != nil {
			return err
		}
		return runExtraction(cmd, p)
	}

	changed, deleted, err := p.git.ChangedFiles(p.root, prev.Commit)
	if err != nil {
		p.logger.Warn("diff unavailable, running full", "project", p.projectID, "error", err)
		return runExtraction(cmd, p)
	}

	var relevant []string
	for _, rel := range changed {
		if p.scanner.Matches(rel) {
			relevant = append(relevant, rel)
		}
	}
	if len(relevant) == 0 && len(deleted) == 0 {
		if !quiet {
			fmt.Printf("✓ %s has no mesh-relevant changes since %s\n",
				p.projectID, shortCommit(prev.Commit))
		}
		return p.projects.MarkExtracted(p.projectID, branch, commit)
	}

	if err := p.projects.SetStatus(p.projectID, project.StatusExtracting, ""); err != nil {
		return err
	}

	scan, err := p.scanner.Load(ctx, relevant)
	if err != nil {
		return err
	}

	run := p.extractor.ExtractProject(ctx, p.projectID, scan.Files)
	if err := ctx.Err(); err != nil {
		return err
	}
	run.Result.Root = p.root
	run.Result.Stats.FilesSkipped += scan.Skipped
	run.Result.Git = p.git.Collect(p.root)
	run.Result.References = link.CollectReferences(run.Result)

	merge, err := p.meshStore.MergeIncrementalExtraction(ctx, run.Result, branch, commit, deleted)
	if err != nil {
		return err
	}

	if err := p.trust.RecordRun(run.Outcomes, run.Suggestions, dominantLanguage(run.Result.Files)); err != nil {
		p.logger.Warn("failed to record trust outcomes", "error", err)
	}
	if err := p.projects.MarkExtracted(p.projectID, branch, commit); err != nil {
		return err
	}

	if !quiet {
		printRunSummary(run.Result.Stats)
		fmt.Printf("  Merged:  +%s/-%s nodes, +%s/-%s edges on %s@%s\n",
			formatNumber(merge.NodesAdded), formatNumber(merge.NodesDeleted),
			formatNumber(merge.EdgesAdded), formatNumber(merge.EdgesDeleted),
			branch, shortCommit(commit))
	}
	return nil
}

func init() {
	syncCmd.Flags().StringVar(&syncProjectID, "project", "", "project id (default is the directory name)")
	rootCmd.AddCommand(syncCmd)
}
