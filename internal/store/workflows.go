package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrWorkflowNotFound is returned when a workflow id has no row in
// the project database.
var ErrWorkflowNotFound = errors.New("workflow not found")

// StoredWorkflow is a raw persisted definition. The registry parses
// and validates each one independently so a corrupt row cannot abort
// a reload.
type StoredWorkflow struct {
	ID         string
	Definition []byte
}

// WorkflowMeta is the listing row for the management API.
type WorkflowMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SaveWorkflow upserts a definition, refreshing updated_at.
func (p *ProjectHandle) SaveWorkflow(ctx context.Context, id, name string, definition []byte) error {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, definition, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = CURRENT_TIMESTAMP`,
		id, name, string(definition))
	if err != nil {
		return fmt.Errorf("save workflow %q: %w", id, err)
	}
	return nil
}

// GetWorkflow returns the raw definition for id, or
// ErrWorkflowNotFound.
func (p *ProjectHandle) GetWorkflow(ctx context.Context, id string) (*StoredWorkflow, error) {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return nil, err
	}
	var definition string
	err = db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = ?`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %q: %w", id, err)
	}
	return &StoredWorkflow{ID: id, Definition: []byte(definition)}, nil
}

// LoadWorkflows returns every persisted definition in id order.
func (p *ProjectHandle) LoadWorkflows(ctx context.Context) ([]StoredWorkflow, error) {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, definition FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	defer rows.Close()

	var out []StoredWorkflow
	for rows.Next() {
		var sw StoredWorkflow
		var definition string
		if err := rows.Scan(&sw.ID, &definition); err != nil {
			return nil, fmt.Errorf("load workflows: %w", err)
		}
		sw.Definition = []byte(definition)
		out = append(out, sw)
	}
	return out, rows.Err()
}

// ListWorkflows returns listing metadata, most recently updated first.
func (p *ProjectHandle) ListWorkflows(ctx context.Context) ([]WorkflowMeta, error) {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM workflows ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowMeta
	for rows.Next() {
		var m WorkflowMeta
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list workflows: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a definition; it reports whether a row was
// deleted.
func (p *ProjectHandle) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	db, err := p.WorkflowDB(ctx)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete workflow %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
