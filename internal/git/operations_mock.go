package git

import "github.com/draagon/codemesh/internal/mesh"

// MockGitOps is a mock implementation of Operations for testing.
type MockGitOps struct {
	Branch        string
	Commit        string
	Changed       []string
	Deleted       []string
	ChangedError  error
	Info          *mesh.GitInfo
	Root          string
	ChangedCalls  int
	CollectCalls  int
}

// NewMockGitOps creates a mock with sensible defaults.
func NewMockGitOps() *MockGitOps {
	return &MockGitOps{
		Branch: "main",
		Commit: "abc1234abc1234abc1234abc1234abc1234abc12",
		Root:   "/tmp/test-repo",
	}
}

func (m *MockGitOps) CurrentBranch(projectPath string) string { return m.Branch }

func (m *MockGitOps) CurrentCommit(projectPath string) string { return m.Commit }

func (m *MockGitOps) ChangedFiles(projectPath, sinceCommit string) ([]string, []string, error) {
	m.ChangedCalls++
	if m.ChangedError != nil {
		return nil, nil, m.ChangedError
	}
	return m.Changed, m.Deleted, nil
}

func (m *MockGitOps) Collect(projectPath string) *mesh.GitInfo {
	m.CollectCalls++
	if m.Info != nil {
		return m.Info
	}
	if m.Commit == "" {
		return nil
	}
	return &mesh.GitInfo{Branch: m.Branch, Commit: m.Commit}
}

func (m *MockGitOps) WorktreeRoot(projectPath string) string { return m.Root }
