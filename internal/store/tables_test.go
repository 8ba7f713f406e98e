package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) *ProjectHandle {
	t.Helper()
	handle, err := newTestManager(t).Project("p")
	require.NoError(t, err)
	return handle
}

func TestEnsureTable_Idempotent(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, handle.EnsureTable(ctx, "grades", []string{"student", "score"}))
	require.NoError(t, handle.EnsureTable(ctx, "grades", []string{"student", "score"}))
}

func TestEnsureTable_RejectsBadIdentifiers(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	assert.Error(t, handle.EnsureTable(ctx, "bad-table", []string{"v"}))
	assert.Error(t, handle.EnsureTable(ctx, "t", []string{"drop table"}))
	assert.Error(t, handle.EnsureTable(ctx, "1starts_with_digit", []string{"v"}))
}

func TestInsertAndSelect(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, handle.EnsureTable(ctx, "grades", []string{"student", "doubled", "passed"}))
	id, affected, err := handle.InsertRow(ctx, "grades",
		[]string{"student", "doubled", "passed"},
		[]any{"s1", 170.0, true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(1), affected)

	rows, err := handle.SelectRows(ctx, SelectQuery{Table: "grades"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0]["student"])
	assert.Equal(t, 170.0, rows[0]["doubled"])
	assert.Equal(t, true, rows[0]["passed"])
	assert.Equal(t, 1.0, rows[0]["id"])
}

func TestSelectRows_WhereAndBinds(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, handle.EnsureTable(ctx, "grades", []string{"student", "score"}))
	for _, row := range [][]any{{"s1", 85.0}, {"s2", 20.0}, {"s3", 60.0}} {
		_, _, err := handle.InsertRow(ctx, "grades", []string{"student", "score"}, row)
		require.NoError(t, err)
	}

	rows, err := handle.SelectRows(ctx, SelectQuery{
		Table:   "grades",
		Where:   "score > 50",
		OrderBy: "score ASC",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s3", rows[0]["student"])
	assert.Equal(t, "s1", rows[1]["student"])

	rows, err = handle.SelectRows(ctx, SelectQuery{
		Table: "grades",
		Where: "student = ?",
		Binds: []any{"s2"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 20.0, rows[0]["score"])
}

func TestSelectRows_LimitClamped(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, handle.EnsureTable(ctx, "t", []string{"v"}))
	for i := 0; i < 5; i++ {
		_, _, err := handle.InsertRow(ctx, "t", []string{"v"}, []any{float64(i)})
		require.NoError(t, err)
	}

	rows, err := handle.SelectRows(ctx, SelectQuery{Table: "t", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Zero means the default; a huge limit is clamped, not rejected.
	rows, err = handle.SelectRows(ctx, SelectQuery{Table: "t", Limit: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	rows, err = handle.SelectRows(ctx, SelectQuery{Table: "t", Limit: 99999})
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestSelectRows_DefaultOrderNewestFirst(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()

	require.NoError(t, handle.EnsureTable(ctx, "t", []string{"v"}))
	for _, v := range []string{"first", "second"} {
		_, _, err := handle.InsertRow(ctx, "t", []string{"v"}, []any{v})
		require.NoError(t, err)
	}

	rows, err := handle.SelectRows(ctx, SelectQuery{Table: "t"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "second", rows[0]["v"])
}

func TestSelectRows_BadOrderBy(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()
	require.NoError(t, handle.EnsureTable(ctx, "t", []string{"v"}))

	_, err := handle.SelectRows(ctx, SelectQuery{Table: "t", OrderBy: "v; DROP TABLE t"})
	assert.Error(t, err)
	_, err = handle.SelectRows(ctx, SelectQuery{Table: "t", OrderBy: "v SIDEWAYS"})
	assert.Error(t, err)
}
