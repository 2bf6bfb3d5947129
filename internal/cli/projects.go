package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/draagon/codemesh/internal/git"
	"github.com/draagon/codemesh/internal/project"
)

var registerID string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the project registry",
}

var projectsRegisterCmd = &cobra.Command{
	Use:   "register [path]",
	Short: "Register a project for extraction and linking",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot(args)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}

		id := registerID
		if id == "" {
			id = filepath.Base(abs)
		}

		registry, err := openProjects()
		if err != nil {
			return err
		}
		proj, err := registry.Register(id, abs)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Registered %s -> %s (%s)\n", proj.ID, proj.Path, proj.Status)
		return nil
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects and their freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openProjects()
		if err != nil {
			return err
		}

		// Demote projects whose repository moved past the stored commit.
		gitOps := git.NewOperations()
		for _, proj := range registry.List() {
			if proj.Status != project.StatusReady {
				continue
			}
			if observed := gitOps.CurrentCommit(proj.Path); observed != "" {
				registry.MarkStale(proj.ID, observed)
			}
		}

		projects := registry.List()
		if len(projects) == 0 {
			fmt.Println("No projects registered.")
			return nil
		}

		fmt.Printf("%-20s %-12s %-20s %-10s %s\n", "ID", "STATUS", "BRANCH", "COMMIT", "PATH")
		for _, proj := range projects {
			branch := proj.Branch
			if branch == "" {
				branch = "-"
			}
			fmt.Printf("%-20s %-12s %-20s %-10s %s\n",
				proj.ID, proj.Status, branch, shortCommit(proj.Commit), proj.Path)
			if proj.LastError != "" {
				fmt.Printf("  last error: %s\n", proj.LastError)
			}
		}
		return nil
	},
}

var projectsUnregisterCmd = &cobra.Command{
	Use:   "unregister <id>",
	Short: "Remove a project from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openProjects()
		if err != nil {
			return err
		}
		if err := registry.Unregister(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Unregistered %s\n", args[0])
		return nil
	},
}

func openProjects() (*project.Registry, error) {
	cfg, err := loadConfig(".")
	if err != nil {
		return nil, err
	}
	home, err := cfg.HomeDir()
	if err != nil {
		return nil, err
	}
	return project.OpenAt(home)
}

func init() {
	projectsRegisterCmd.Flags().StringVar(&registerID, "id", "", "project id (default is the directory name)")

	projectsCmd.AddCommand(projectsRegisterCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsUnregisterCmd)
	rootCmd.AddCommand(projectsCmd)
}
