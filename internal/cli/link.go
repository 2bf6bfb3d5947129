package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/link"
	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/project"
	"github.com/draagon/codemesh/internal/store"
)

var linkJSON bool

// linkCmd runs the cross-project pass over every registered project with
// a stored mesh.
var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link meshes across registered projects",
	Long: `Link collects the externally visible references of every
registered project's stored mesh, resolves config indirection from each
project's env and config files, and pairs producers with consumers
across project boundaries. Links are reported, not written back to the
stored meshes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMeshStore(func(ctx context.Context, s *store.Store) error {
			return runLink(ctx, s)
		})
	},
}

func runLink(ctx context.Context, s *store.Store) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return err
	}
	registry, err := project.OpenAt(home)
	if err != nil {
		return err
	}
	logger := slog.Default()

	resolver := link.NewConfigResolver(logger)
	refsByProject := map[string][]mesh.ExternalReference{}

	for _, proj := range registry.List() {
		if proj.Status != project.StatusReady && proj.Status != project.StatusStale {
			continue
		}
		branch := proj.Branch
		if branch == "" {
			branch = "main"
		}
		files, err := s.Export(ctx, proj.ID, branch)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			logger.Debug("no stored mesh, skipping", "project", proj.ID, "branch", branch)
			continue
		}

		result := &mesh.ProjectResult{ProjectID: proj.ID}
		for _, fm := range files {
			result.Files = append(result.Files, mesh.FileResult{
				File: fm.File, Nodes: fm.Nodes, Edges: fm.Edges,
			})
		}
		refsByProject[proj.ID] = link.CollectReferences(result)
		feedResolver(resolver, cfg.Link.EnvFiles, cfg.Link.ConfigFiles, proj.Path, logger)
	}

	if len(refsByProject) < 2 {
		return fmt.Errorf("cross-project linking needs at least two extracted projects, have %d", len(refsByProject))
	}

	linker := link.NewLinker(link.NewMatcher(resolver),
		link.WithLinkFloor(cfg.Link.Floor), link.WithLinkerLogger(logger))
	links, edges := linker.Link(refsByProject)

	if linkJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Links []mesh.CrossProjectLink `json:"links"`
			Edges []mesh.Edge             `json:"edges"`
		}{links, edges})
	}

	if len(links) == 0 {
		fmt.Println("No cross-project links found.")
		return nil
	}
	for _, l := range links {
		fmt.Printf("%-6s %-30s %s -> %s (%s, %.2f)\n",
			l.Producer.Type, l.Producer.Identifier,
			l.Producer.ProjectID, l.Consumer.ProjectID,
			l.Method, l.Confidence)
	}
	fmt.Printf("✓ %s links across %d projects\n",
		formatNumber(len(links)), len(refsByProject))
	return nil
}

// feedResolver loads a project's env and config files into the shared
// resolver. Missing files are normal and skipped.
func feedResolver(resolver *link.ConfigResolver, envFiles, configFiles []string, projectPath string, logger *slog.Logger) {
	for _, name := range envFiles {
		path := filepath.Join(projectPath, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := resolver.AddEnvFile(path); err != nil {
			logger.Warn("failed to read env file", "path", path, "error", err)
		}
	}
	for _, name := range configFiles {
		path := filepath.Join(projectPath, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := resolver.AddConfigFile(path); err != nil {
			logger.Warn("failed to read config file", "path", path, "error", err)
		}
	}
}

func init() {
	linkCmd.Flags().BoolVar(&linkJSON, "json", false, "emit links and edges as JSON")
	rootCmd.AddCommand(linkCmd)
}
