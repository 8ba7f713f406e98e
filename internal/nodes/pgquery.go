package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// execPGQuery runs a parameterized query against an external
// PostgreSQL database. The connection string is a mandatory project
// secret; there is no fallback of any kind, and the query is not
// attempted without it. $1..$n parameters are bound from resolved
// input pins in alphabetical pin order.
func execPGQuery(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	dsn, err := pgConnectionSecret(ctx, act, node)
	if err != nil {
		return nil, err
	}

	query, ok := node.StringParam("query")
	if !ok || query == "" {
		return nil, badParams(node, errors.New("missing \"query\" parameter"))
	}

	resolved, err := resolvePins(ctx, act, node, in)
	if err != nil {
		return nil, err
	}
	binds := pinValuesInOrder(resolved)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, engine.Wrap(engine.CodeUpstream, err, "postgres connection failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return nil, engine.Wrap(engine.CodeUpstream, err, "postgres connection failed")
	}

	rows, err := db.QueryContext(ctx, query, binds...)
	if err != nil {
		return nil, engine.Wrap(engine.CodeUpstream, err, "postgres query failed")
	}
	defer rows.Close()

	items, err := scanPGRows(rows)
	if err != nil {
		return nil, engine.Wrap(engine.CodeUpstream, err, "postgres query failed")
	}
	return items, nil
}

// pgConnectionSecret resolves the node's mandatory connection secret.
func pgConnectionSecret(ctx context.Context, act *engine.Activation, node *workflow.Node) (string, error) {
	if len(node.Secrets) == 0 {
		return "", engine.E(engine.CodeMissingSecret, "node %q requires a connection secret", node.ID)
	}
	ref := node.Secrets[0]
	name, ok := strings.CutPrefix(ref, "$secret.")
	if !ok || name == "" {
		return "", engine.E(engine.CodeMissingSecret, "node %q has a malformed secret reference", node.ID)
	}
	dsn, err := act.Project.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrSecretNotFound) || errors.Is(err, store.ErrNoCipherKey) {
			return "", engine.Wrap(engine.CodeMissingSecret, err, "required secret is missing")
		}
		if errors.Is(err, store.ErrUnavailable) {
			return "", engine.Wrap(engine.CodeStorageUnavailable, err, "project storage unavailable")
		}
		return "", engine.Wrap(engine.CodeInternal, err, "secret resolution failed")
	}
	return dsn, nil
}

// scanPGRows converts a dynamic result set into JSON-shaped objects.
func scanPGRows(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, 8)
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = pgCell(cells[i])
		}
		items = append(items, record)
	}
	return items, rows.Err()
}

func pgCell(cell any) any {
	switch v := cell.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case int64:
		return float64(v)
	case float64, bool, string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
