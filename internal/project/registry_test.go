package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for the project registry:
// - Register is idempotent and starts projects at pending
// - Lifecycle transitions update status, error text, and extraction marks
// - MarkStale only demotes ready projects with a moved commit
// - State survives reopening the registry from disk
// - Unregister of an unknown id is a no-op

func openTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	r, err := OpenAt(dir)
	require.NoError(t, err)
	return r
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	t.Parallel()

	r := openTestRegistry(t, t.TempDir())
	src := t.TempDir()

	p, err := r.Register("billing", src)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, src, p.Path)

	again, err := r.Register("billing", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, p.Path, again.Path, "second registration returns the first entry")

	_, err = r.Register("", src)
	require.Error(t, err)

	_, err = r.Register("ghost", "/does/not/exist")
	require.Error(t, err)
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()

	r := openTestRegistry(t, t.TempDir())
	_, err := r.Register("billing", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, r.SetStatus("billing", StatusExtracting, ""))
	p, ok := r.Get("billing")
	require.True(t, ok)
	assert.Equal(t, StatusExtracting, p.Status)

	require.NoError(t, r.MarkExtracted("billing", "main", "abc123"))
	p, _ = r.Get("billing")
	assert.Equal(t, StatusReady, p.Status)
	assert.Equal(t, "main", p.Branch)
	assert.Equal(t, "abc123", p.Commit)
	assert.False(t, p.LastExtracted.IsZero())

	require.NoError(t, r.SetStatus("billing", StatusError, "sqlite locked"))
	p, _ = r.Get("billing")
	assert.Equal(t, StatusError, p.Status)
	assert.Equal(t, "sqlite locked", p.LastError)

	require.NoError(t, r.SetStatus("billing", StatusReady, ""))
	p, _ = r.Get("billing")
	assert.Empty(t, p.LastError, "leaving error state clears the message")

	assert.Error(t, r.SetStatus("unknown", StatusReady, ""))
}

func TestRegistry_MarkStale(t *testing.T) {
	t.Parallel()

	r := openTestRegistry(t, t.TempDir())
	_, err := r.Register("billing", t.TempDir())
	require.NoError(t, err)

	// Pending projects are not demoted.
	require.NoError(t, r.MarkStale("billing", "def456"))
	p, _ := r.Get("billing")
	assert.Equal(t, StatusPending, p.Status)

	require.NoError(t, r.MarkExtracted("billing", "main", "abc123"))

	// Same commit keeps ready.
	require.NoError(t, r.MarkStale("billing", "abc123"))
	p, _ = r.Get("billing")
	assert.Equal(t, StatusReady, p.Status)

	require.NoError(t, r.MarkStale("billing", "def456"))
	p, _ = r.Get("billing")
	assert.Equal(t, StatusStale, p.Status)
}

func TestRegistry_PersistsAcrossOpens(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := openTestRegistry(t, dir)
	_, err := r.Register("billing", t.TempDir())
	require.NoError(t, err)
	_, err = r.Register("shipping", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.MarkExtracted("billing", "main", "abc123"))

	reopened := openTestRegistry(t, dir)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, "billing", list[0].ID)
	assert.Equal(t, StatusReady, list[0].Status)
	assert.Equal(t, "shipping", list[1].ID)
	assert.Equal(t, StatusPending, list[1].Status)
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	t.Parallel()

	r := openTestRegistry(t, t.TempDir())
	assert.NoError(t, r.Unregister("ghost"))

	_, err := r.Register("billing", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Unregister("billing"))
	_, ok := r.Get("billing")
	assert.False(t, ok)
}
