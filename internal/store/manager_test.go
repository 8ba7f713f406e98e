package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), WithCipherKey(bytes.Repeat([]byte{0x42}, 32)))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestManager_SlugValidation(t *testing.T) {
	mgr := newTestManager(t)

	for _, slug := range []string{"ok", "with-dash", "with_underscore", "a1"} {
		_, err := mgr.Project(slug)
		assert.NoError(t, err, "slug %q", slug)
	}
	for _, slug := range []string{"", "UPPER", "has space", "dot.dot", "../escape", "a/b"} {
		_, err := mgr.Project(slug)
		assert.Error(t, err, "slug %q", slug)
	}
}

func TestManager_HandleCreatedOncePerSlug(t *testing.T) {
	mgr := newTestManager(t)

	h1, err := mgr.Project("alpha")
	require.NoError(t, err)
	h2, err := mgr.Project("alpha")
	require.NoError(t, err)
	assert.Same(t, h1, h2)
}

func TestManager_DatabaseLayout(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewManager(root)
	require.NoError(t, err)
	defer mgr.Close()

	handle, err := mgr.Project("shop")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = handle.WorkflowDB(ctx)
	require.NoError(t, err)
	_, err = handle.DataDB(ctx)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "shop", "project.db"))
	assert.FileExists(t, filepath.Join(root, "shop", "simpletable.db"))
}

func TestManager_ListProjects(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	for _, slug := range []string{"zeta", "alpha"} {
		handle, err := mgr.Project(slug)
		require.NoError(t, err)
		_, err = handle.WorkflowDB(ctx)
		require.NoError(t, err)
	}

	slugs, err := mgr.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, slugs)
}

func TestWorkflowCRUD(t *testing.T) {
	mgr := newTestManager(t)
	handle, err := mgr.Project("p")
	require.NoError(t, err)
	ctx := context.Background()

	def := []byte(`{"id":"wf-1","name":"one","nodes":[],"edges":[]}`)
	require.NoError(t, handle.SaveWorkflow(ctx, "wf-1", "one", def))

	stored, err := handle.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(def), string(stored.Definition))

	// Upsert replaces the definition in place.
	def2 := []byte(`{"id":"wf-1","name":"renamed","nodes":[],"edges":[]}`)
	require.NoError(t, handle.SaveWorkflow(ctx, "wf-1", "renamed", def2))
	all, err := handle.LoadWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.JSONEq(t, string(def2), string(all[0].Definition))

	metas, err := handle.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "renamed", metas[0].Name)

	deleted, err := handle.DeleteWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = handle.DeleteWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = handle.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestProjectIsolation(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	a, err := mgr.Project("tenant-a")
	require.NoError(t, err)
	b, err := mgr.Project("tenant-b")
	require.NoError(t, err)

	require.NoError(t, a.EnsureTable(ctx, "t", []string{"v"}))
	_, _, err = a.InsertRow(ctx, "t", []string{"v"}, []any{"only-in-a"})
	require.NoError(t, err)

	rows, err := a.SelectRows(ctx, SelectQuery{Table: "t"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// B has no table t at all: the read fails rather than seeing A's
	// rows, and A's data is untouched.
	_, err = b.SelectRows(ctx, SelectQuery{Table: "t"})
	require.Error(t, err)

	rows, err = a.SelectRows(ctx, SelectQuery{Table: "t"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
