package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// execTableWriter builds one row from the node's resolved input pins
// and inserts it into the project's data database, creating the table
// lazily. A pin named after a column supplies that column's value;
// columns without a pin fall back to the same-named field of the
// first incoming item.
func execTableWriter(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	table, ok := node.StringParam("table")
	if !ok || table == "" {
		return nil, badParams(node, errors.New("missing \"table\" parameter"))
	}
	columns, err := stringSliceParam(node, "columns")
	if err != nil {
		return nil, badParams(node, err)
	}
	if len(columns) == 0 {
		return nil, badParams(node, errors.New("\"columns\" cannot be empty"))
	}

	resolved, err := resolvePins(ctx, act, node, in)
	if err != nil {
		return nil, err
	}

	first, _ := firstObject(in)
	values := make([]any, len(columns))
	for i, col := range columns {
		if v, ok := resolved[col]; ok {
			values[i] = v
		} else if first != nil {
			values[i] = first[col]
		}
	}

	if err := act.Project.EnsureTable(ctx, table, columns); err != nil {
		return nil, classifyStoreError(node, err)
	}
	insertedID, rowsAffected, err := act.Project.InsertRow(ctx, table, columns, values)
	if err != nil {
		return nil, classifyStoreError(node, err)
	}
	return []any{map[string]any{
		"_inserted_id":   float64(insertedID),
		"_rows_affected": float64(rowsAffected),
	}}, nil
}

// execTableRead serves both TableReader and TableQuery nodes: a
// parameterized select over one project table. `?` placeholders in
// the where predicate are filled from resolved input pins in
// alphabetical pin order.
func execTableRead(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	table, ok := node.StringParam("table")
	if !ok || table == "" {
		return nil, badParams(node, errors.New("missing \"table\" parameter"))
	}

	resolved, err := resolvePins(ctx, act, node, in)
	if err != nil {
		return nil, err
	}

	where, _ := node.StringParam("where")
	orderBy, _ := node.StringParam("order_by")
	limit, _ := node.IntParam("limit")

	rows, err := act.Project.SelectRows(ctx, store.SelectQuery{
		Table:   table,
		Where:   where,
		Binds:   pinValuesInOrder(resolved),
		OrderBy: orderBy,
		Limit:   limit,
	})
	if err != nil {
		return nil, classifyStoreError(node, err)
	}

	items := make([]any, len(rows))
	for i, row := range rows {
		items[i] = row
	}
	return items, nil
}

// firstObject returns the first incoming item when it is an object.
func firstObject(in []any) (map[string]any, bool) {
	if len(in) == 0 {
		return nil, false
	}
	obj, ok := in[0].(map[string]any)
	return obj, ok
}

// classifyStoreError separates infrastructure failures from
// user-attributable table configuration problems.
func classifyStoreError(node *workflow.Node, err error) *engine.Error {
	if errors.Is(err, store.ErrUnavailable) {
		return engine.Wrap(engine.CodeStorageUnavailable, err, "project storage unavailable")
	}
	return badParams(node, fmt.Errorf("table operation failed: %w", err))
}
