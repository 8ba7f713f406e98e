package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(testutil.NewManager(t))
}

func TestUpsert_PublishesWorkflow(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	published, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), published.Version)

	entry, ok := reg.Get().Workflow("default", "wf-grading")
	require.True(t, ok)
	assert.Equal(t, "wf-grading", entry.Workflow.ID)
	assert.Equal(t, []string{"hook", "logic", "sink"}, entry.DAG.Order)

	nodeID, ok := reg.Get().Webhook("default", "wf-grading", "/grade")
	require.True(t, ok)
	assert.Equal(t, "hook", nodeID)
}

func TestGet_SnapshotIdentityStable(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)

	s1 := reg.Get()
	s2 := reg.Get()
	assert.Same(t, s1, s2, "no swap between gets must return the identical snapshot")

	_, err = reg.Upsert(ctx, "default", []byte(testutil.ReaderWorkflow))
	require.NoError(t, err)

	s3 := reg.Get()
	assert.NotSame(t, s1, s3)
	assert.Greater(t, s3.Generation(), s1.Generation())

	// The old snapshot is untouched by the swap.
	_, ok := s1.Workflow("default", "wf-read")
	assert.False(t, ok)
	_, ok = s3.Workflow("default", "wf-read")
	assert.True(t, ok)
}

func TestUpsert_VersionBumpsOnlyOnContentChange(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	w1, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), w1.Version)

	// Identical definition: same version.
	w2, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), w2.Version)

	// Changed schedule of the cron workflow: new content, new version.
	first := fmt.Sprintf(testutil.CronWorkflow, "*/5 * * * * *")
	second := fmt.Sprintf(testutil.CronWorkflow, "*/10 * * * * *")

	c1, err := reg.Upsert(ctx, "default", []byte(first))
	require.NoError(t, err)
	assert.Equal(t, int64(1), c1.Version)
	c2, err := reg.Upsert(ctx, "default", []byte(second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), c2.Version)
}

func TestUpsert_CycleRejected(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Upsert(context.Background(), "default", []byte(testutil.CyclicWorkflow))
	require.Error(t, err)
	assert.Equal(t, engine.CodeInvalidGraph, engine.CodeOf(err))

	_, ok := reg.Get().Workflow("default", "wf-cycle")
	assert.False(t, ok)
}

func TestReload_InvalidStoredWorkflowExcludedNotFatal(t *testing.T) {
	mgr := testutil.NewManager(t)
	reg := New(mgr)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)

	// A cyclic definition lands in storage out of band (bypassing
	// Upsert validation, as an external writer could).
	handle, err := mgr.Project("default")
	require.NoError(t, err)
	require.NoError(t, handle.SaveWorkflow(ctx, "wf-cycle", "Broken", []byte(testutil.CyclicWorkflow)))

	require.NoError(t, reg.ReloadProject(ctx, "default"))

	// The healthy workflow stays published; the broken one is
	// excluded and reported.
	_, ok := reg.Get().Workflow("default", "wf-grading")
	assert.True(t, ok)
	_, ok = reg.Get().Workflow("default", "wf-cycle")
	assert.False(t, ok)

	problems := reg.Problems()
	require.Len(t, problems, 1)
	assert.Equal(t, "wf-cycle", problems[0].WorkflowID)
	assert.Equal(t, engine.CodeInvalidGraph, engine.CodeOf(problems[0].Err))
}

func TestDelete_RemovesFromSnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)

	deleted, err := reg.Delete(ctx, "default", "wf-grading")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok := reg.Get().Workflow("default", "wf-grading")
	assert.False(t, ok)
	_, ok = reg.Get().Webhook("default", "wf-grading", "/grade")
	assert.False(t, ok)

	deleted, err = reg.Delete(ctx, "default", "wf-grading")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestProjectsAreIndependent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "tenant-a", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)
	_, err = reg.Upsert(ctx, "tenant-b", []byte(testutil.ReaderWorkflow))
	require.NoError(t, err)

	snap := reg.Get()
	_, ok := snap.Workflow("tenant-a", "wf-grading")
	assert.True(t, ok)
	_, ok = snap.Workflow("tenant-a", "wf-read")
	assert.False(t, ok)
	_, ok = snap.Workflow("tenant-b", "wf-read")
	assert.True(t, ok)
}

func TestSubscribe_ListenerSeesEverySwap(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	var generations []int64
	reg.Subscribe(func(snap *Snapshot) {
		generations = append(generations, snap.Generation())
	})

	_, err := reg.Upsert(ctx, "default", []byte(testutil.GradeWorkflow))
	require.NoError(t, err)
	_, err = reg.Upsert(ctx, "default", []byte(testutil.ReaderWorkflow))
	require.NoError(t, err)

	require.Len(t, generations, 2)
	assert.Less(t, generations[0], generations[1])
}

func TestCronsIndexedInSnapshot(t *testing.T) {
	reg := newTestRegistry(t)
	def := fmt.Sprintf(testutil.CronWorkflow, "*/5 * * * * *")

	_, err := reg.Upsert(context.Background(), "default", []byte(def))
	require.NoError(t, err)

	crons := reg.Get().Crons()
	require.Len(t, crons, 1)
	assert.Equal(t, CronEntry{
		Project:    "default",
		WorkflowID: "wf-poll",
		NodeID:     "tick",
		Schedule:   "*/5 * * * * *",
		Timezone:   "UTC",
	}, crons[0])
}
