package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/mesh"
	"github.com/draagon/codemesh/internal/query"
	"github.com/draagon/codemesh/internal/store"
)

var (
	queryProject string
	queryBranch  string
	queryDepth   int
	queryLimit   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a stored mesh",
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and edge counts for a stored mesh",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMeshStore(func(ctx context.Context, s *store.Store) error {
			project, branch, err := queryScope(ctx, s)
			if err != nil {
				return err
			}
			stats, err := s.Stats(ctx, project, branch)
			if err != nil {
				return err
			}

			fmt.Printf("%s@%s: %s nodes, %s edges across %s files\n",
				project, branch, formatNumber(stats.Nodes),
				formatNumber(stats.Edges), formatNumber(stats.Files))
			printHistogram("Nodes", stats.NodesByType)
			printHistogram("Edges", stats.EdgesByType)
			return nil
		})
	},
}

var queryBranchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List stored project branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMeshStore(func(ctx context.Context, s *store.Store) error {
			branches, err := s.Branches(ctx)
			if err != nil {
				return err
			}
			if len(branches) == 0 {
				fmt.Println("No meshes stored yet.")
				return nil
			}
			for _, b := range branches {
				fmt.Printf("%s@%s (%s)\n", b.ProjectID, b.Branch, shortCommit(b.Commit))
			}
			return nil
		})
	},
}

var querySearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search nodes by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *query.Engine) error {
			hits, err := e.Search(args[0], queryLimit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, hit := range hits {
				fmt.Printf("%-12s %-30s %s:%d (%.2f)\n",
					hit.Node.Type, hit.Node.Name,
					hit.Node.Location.File, hit.Node.Location.StartLine, hit.Score)
			}
			return nil
		})
	},
}

var queryNodesCmd = &cobra.Command{
	Use:   "nodes <type>",
	Short: "List nodes of one type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *query.Engine) error {
			nodes := e.NodesByType(mesh.NodeType(args[0]))
			if len(nodes) == 0 {
				fmt.Printf("No %s nodes.\n", args[0])
				return nil
			}
			printNodes(nodes)
			return nil
		})
	},
}

var queryDepsCmd = &cobra.Command{
	Use:   "deps <node-id-or-name>",
	Short: "List what a node depends on, breadth first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *query.Engine) error {
			id, err := resolveNode(e, args[0])
			if err != nil {
				return err
			}
			deps, err := e.Dependencies(id, queryDepth)
			if err != nil {
				return err
			}
			if len(deps) == 0 {
				fmt.Println("No dependencies.")
				return nil
			}
			printNodes(deps)
			return nil
		})
	},
}

var queryPathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Show the shortest relationship path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *query.Engine) error {
			from, err := resolveNode(e, args[0])
			if err != nil {
				return err
			}
			to, err := resolveNode(e, args[1])
			if err != nil {
				return err
			}
			path, err := e.Path(from, to)
			if err != nil {
				return err
			}
			names := make([]string, len(path))
			for i, n := range path {
				names[i] = fmt.Sprintf("%s(%s)", n.Name, n.Type)
			}
			fmt.Println(strings.Join(names, " -> "))
			return nil
		})
	},
}

// withMeshStore opens the mesh database, runs fn, and closes it.
func withMeshStore(fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}
	dbPath, err := cfg.DBPath()
	if err != nil {
		return err
	}
	s, err := store.Open(dbPath, store.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(context.Background(), s)
}

// withEngine exports the scoped mesh and builds a query engine over it.
func withEngine(fn func(e *query.Engine) error) error {
	return withMeshStore(func(ctx context.Context, s *store.Store) error {
		project, branch, err := queryScope(ctx, s)
		if err != nil {
			return err
		}
		files, err := s.Export(ctx, project, branch)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("nothing stored for %s@%s", project, branch)
		}
		e, err := query.Build(files, query.WithEngineLogger(slog.Default()))
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(e)
	})
}

// queryScope resolves --project/--branch, defaulting to the only stored
// pair when the flags are ambiguous-free.
func queryScope(ctx context.Context, s *store.Store) (string, string, error) {
	if queryProject != "" && queryBranch != "" {
		return queryProject, queryBranch, nil
	}
	branches, err := s.Branches(ctx)
	if err != nil {
		return "", "", err
	}

	var candidates []store.StoredBranch
	for _, b := range branches {
		if queryProject != "" && b.ProjectID != queryProject {
			continue
		}
		if queryBranch != "" && b.Branch != queryBranch {
			continue
		}
		candidates = append(candidates, b)
	}
	switch len(candidates) {
	case 0:
		return "", "", fmt.Errorf("no stored mesh matches --project=%q --branch=%q", queryProject, queryBranch)
	case 1:
		return candidates[0].ProjectID, candidates[0].Branch, nil
	default:
		var names []string
		for _, b := range candidates {
			names = append(names, b.ProjectID+"@"+b.Branch)
		}
		return "", "", fmt.Errorf("ambiguous scope, pick one of: %s", strings.Join(names, ", "))
	}
}

// resolveNode accepts a node id or a unique node name.
func resolveNode(e *query.Engine, ref string) (string, error) {
	if _, ok := e.Node(ref); ok {
		return ref, nil
	}
	matches := e.FindByName(ref)
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no node with id or name %q", ref)
	case 1:
		return matches[0].ID, nil
	default:
		var ids []string
		for _, n := range matches {
			ids = append(ids, n.ID)
		}
		return "", fmt.Errorf("name %q is ambiguous, use an id: %s", ref, strings.Join(ids, ", "))
	}
}

func printNodes(nodes []mesh.Node) {
	for _, n := range nodes {
		fmt.Printf("%-12s %-30s %s:%d\n",
			n.Type, n.Name, n.Location.File, n.Location.StartLine)
	}
}

func printHistogram(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Printf("%s by type:\n", label)
	for _, k := range keys {
		fmt.Printf("  %-20s %s\n", k, formatNumber(counts[k]))
	}
}

func init() {
	queryCmd.PersistentFlags().StringVar(&queryProject, "project", "", "project id")
	queryCmd.PersistentFlags().StringVar(&queryBranch, "branch", "", "branch name")
	queryDepsCmd.Flags().IntVar(&queryDepth, "depth", 0, "traversal depth limit (0 = unbounded)")
	querySearchCmd.Flags().IntVar(&queryLimit, "limit", 20, "maximum results")

	queryCmd.AddCommand(queryStatsCmd)
	queryCmd.AddCommand(queryBranchesCmd)
	queryCmd.AddCommand(querySearchCmd)
	queryCmd.AddCommand(queryNodesCmd)
	queryCmd.AddCommand(queryDepsCmd)
	queryCmd.AddCommand(queryPathCmd)
	rootCmd.AddCommand(queryCmd)
}
