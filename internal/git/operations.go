// Package git shells out to the git binary for the metadata the
// extractor and sync pipeline need. Repositories without git, or
// directories that are not repositories, degrade to empty results
// rather than errors wherever a fallback makes sense.
package git

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/draagon/codemesh/internal/mesh"
)

// Operations defines the git operations the pipeline depends on.
// This allows mocking git commands in tests.
type Operations interface {
	// CurrentBranch returns the current branch name.
	// For detached HEAD, returns "detached-{short-hash}".
	// Returns "unknown" if all git commands fail.
	CurrentBranch(projectPath string) string

	// CurrentCommit returns the full HEAD commit hash, or "" outside a
	// repository.
	CurrentCommit(projectPath string) string

	// ChangedFiles diffs HEAD against sinceCommit and splits the result
	// into still-present changed paths and deleted paths. Renames count
	// as a deletion of the old path and a change of the new one.
	ChangedFiles(projectPath, sinceCommit string) (changed, deleted []string, err error)

	// Collect gathers commit metadata for attachment to an extraction
	// result. Returns nil outside a repository.
	Collect(projectPath string) *mesh.GitInfo

	// WorktreeRoot returns the git worktree root path.
	// Falls back to projectPath if not a git repository.
	WorktreeRoot(projectPath string) string
}

// gitOps is the real implementation using exec.Command.
type gitOps struct{}

// NewOperations returns the default git operations implementation.
func NewOperations() Operations {
	return &gitOps{}
}

func run(projectPath string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = projectPath
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (g *gitOps) CurrentBranch(projectPath string) string {
	branch, err := run(projectPath, "branch", "--show-current")
	if err == nil && branch != "" {
		return branch
	}

	// Might be detached HEAD.
	short, err := run(projectPath, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "unknown"
	}
	return "detached-" + short
}

func (g *gitOps) CurrentCommit(projectPath string) string {
	commit, err := run(projectPath, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return commit
}

func (g *gitOps) ChangedFiles(projectPath, sinceCommit string) (changed, deleted []string, err error) {
	out, err := run(projectPath, "diff", "--name-status", sinceCommit, "HEAD")
	if err != nil {
		return nil, nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case status == "D":
			deleted = append(deleted, fields[1])
		case strings.HasPrefix(status, "R") && len(fields) >= 3:
			deleted = append(deleted, fields[1])
			changed = append(changed, fields[2])
		default:
			changed = append(changed, fields[1])
		}
	}
	return changed, deleted, nil
}

func (g *gitOps) Collect(projectPath string) *mesh.GitInfo {
	commit := g.CurrentCommit(projectPath)
	if commit == "" {
		return nil
	}

	info := &mesh.GitInfo{
		Branch: g.CurrentBranch(projectPath),
		Commit: commit,
	}
	if author, err := run(projectPath, "log", "-1", "--format=%an"); err == nil {
		info.Author = author
	}
	if ts, err := run(projectPath, "log", "-1", "--format=%cI"); err == nil {
		info.Timestamp = ts
	} else {
		info.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if tag, err := run(projectPath, "describe", "--tags", "--exact-match"); err == nil {
		info.Tag = tag
	}
	if status, err := run(projectPath, "status", "--porcelain"); err == nil {
		info.Dirty = status != ""
	}
	return info
}

func (g *gitOps) WorktreeRoot(projectPath string) string {
	root, err := run(projectPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return projectPath
	}
	return root
}
