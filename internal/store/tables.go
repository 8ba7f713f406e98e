package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sqlIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	defaultSelectLimit = 100
	maxSelectLimit     = 1000
)

// ValidIdentifier reports whether s is usable as a table or column
// name. Identifiers are interpolated into DDL/DML, so anything else
// is rejected outright.
func ValidIdentifier(s string) bool {
	return sqlIdentRe.MatchString(s)
}

// EnsureTable lazily creates a user table in the data database: an
// autoincrement id, the given columns as TEXT, and a created_at
// stamp. Creation holds the handle's DDL lock so concurrent
// activations cannot race the schema mutation.
func (p *ProjectHandle) EnsureTable(ctx context.Context, table string, columns []string) error {
	if !ValidIdentifier(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		if !ValidIdentifier(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
		defs = append(defs, col+" TEXT")
	}

	db, err := p.DataDB(ctx)
	if err != nil {
		return err
	}

	p.ddlMu.Lock()
	defer p.ddlMu.Unlock()
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, %s, created_at TEXT DEFAULT (datetime('now')))",
		table, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %q: %w", table, err)
	}
	return nil
}

// InsertRow inserts one row with parameterized values and returns the
// autoincrement id plus the affected-row count.
func (p *ProjectHandle) InsertRow(ctx context.Context, table string, columns []string, values []any) (insertedID, rowsAffected int64, err error) {
	if !ValidIdentifier(table) {
		return 0, 0, fmt.Errorf("invalid table name %q", table)
	}
	if len(columns) != len(values) {
		return 0, 0, fmt.Errorf("column count (%d) does not match value count (%d)", len(columns), len(values))
	}
	for _, col := range columns {
		if !ValidIdentifier(col) {
			return 0, 0, fmt.Errorf("invalid column name %q", col)
		}
	}

	db, err := p.DataDB(ctx)
	if err != nil {
		return 0, 0, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = flattenValue(v)
	}
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("insert into %q: %w", table, err)
	}
	insertedID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}
	rowsAffected, err = res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	return insertedID, rowsAffected, nil
}

// SelectQuery is a reader request over a user table. Where is the
// predicate mini-grammar compiled by CompilePredicate; Binds fill its
// `?` placeholders in order.
type SelectQuery struct {
	Table   string
	Where   string
	Binds   []any
	OrderBy string
	Limit   int
}

// SelectRows executes a parameterized select and returns the rows as
// JSON-shaped objects. Limit is clamped to [1, 1000] with a default
// of 100; ordering defaults to newest-first with a deterministic id
// tiebreak.
func (p *ProjectHandle) SelectRows(ctx context.Context, q SelectQuery) ([]map[string]any, error) {
	if !ValidIdentifier(q.Table) {
		return nil, fmt.Errorf("invalid table name %q", q.Table)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", q.Table)

	var params []any
	if q.Where != "" {
		clause, clauseParams, err := CompilePredicate(q.Where, q.Binds)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
		params = clauseParams
	}

	orderBy, err := compileOrderBy(q.OrderBy)
	if err != nil {
		return nil, err
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultSelectLimit
	case limit > maxSelectLimit:
		limit = maxSelectLimit
	}
	fmt.Fprintf(&sb, " LIMIT %d", limit)

	db, err := p.DataDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sb.String(), params...)
	if err != nil {
		return nil, fmt.Errorf("select from %q: %w", q.Table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// compileOrderBy validates an order_by param ("col" or "col DESC").
// Empty means newest rows first.
func compileOrderBy(raw string) (string, error) {
	if raw == "" {
		return "id DESC", nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 || len(fields) > 2 || !ValidIdentifier(fields[0]) {
		return "", fmt.Errorf("invalid order_by %q", raw)
	}
	clause := fields[0]
	if len(fields) == 2 {
		switch strings.ToUpper(fields[1]) {
		case "ASC", "DESC":
			clause += " " + strings.ToUpper(fields[1])
		default:
			return "", fmt.Errorf("invalid order_by %q", raw)
		}
	}
	// Deterministic tiebreak.
	if fields[0] != "id" {
		clause += ", id"
	}
	return clause, nil
}

// scanRows converts a dynamic result set into JSON-shaped maps.
// User-table columns are TEXT; numeric and boolean text is parsed
// back so downstream path expressions see typed values.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
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
			record[col] = reviveCell(cells[i])
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func reviveCell(cell any) any {
	switch v := cell.(type) {
	case nil:
		return nil
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		return v
	case []byte:
		return reviveText(string(v))
	case string:
		return reviveText(v)
	default:
		return fmt.Sprint(v)
	}
}

func reviveText(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// flattenValue renders a JSON value into a single SQL parameter.
// Scalars bind natively; composites are stored as their JSON text.
func flattenValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, float64, int, int64:
		return val
	case bool:
		// Columns carry TEXT affinity; a native bool would land as
		// "1"/"0" and read back as a number. Store the literal so
		// reads revive it as a bool again.
		if val {
			return "true"
		}
		return "false"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}
