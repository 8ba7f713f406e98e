package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrUnavailable wraps any failure to open or prepare a project
// database.
var ErrUnavailable = errors.New("storage unavailable")

var slugRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Manager hands out ProjectHandles keyed by slug. Handles are created
// at most once per slug per process: lookups are lock-free, insertion
// is double-checked under a mutex.
type Manager struct {
	root      string
	cipherKey []byte
	log       *slog.Logger

	handles sync.Map // slug -> *ProjectHandle
	mu      sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCipherKey sets the AES-256 key used for secret ciphertext.
// Without a key, secret storage and resolution are disabled.
func WithCipherKey(key []byte) ManagerOption {
	return func(m *Manager) { m.cipherKey = key }
}

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager rooted at the given data directory,
// creating the directory if needed.
func NewManager(root string, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir %s: %v", ErrUnavailable, root, err)
	}
	m := &Manager{root: root, log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Project returns the handle for slug, creating it on first access.
// The slug must match [a-z0-9_-]+; anything else is rejected before
// touching the filesystem.
func (m *Manager) Project(slug string) (*ProjectHandle, error) {
	if !slugRe.MatchString(slug) {
		return nil, fmt.Errorf("invalid project slug %q", slug)
	}
	if h, ok := m.handles.Load(slug); ok {
		return h.(*ProjectHandle), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles.Load(slug); ok {
		return h.(*ProjectHandle), nil
	}

	h := &ProjectHandle{
		slug:        slug,
		dir:         filepath.Join(m.root, slug),
		cipherKey:   m.cipherKey,
		log:         m.log.With("project", slug),
		secretCache: make(map[string]string),
	}
	m.handles.Store(slug, h)
	return h, nil
}

// ListProjects enumerates the project slugs present on disk, sorted.
func (m *Manager) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("%w: read data dir: %v", ErrUnavailable, err)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() && slugRe.MatchString(e.Name()) {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Close closes every materialized handle.
func (m *Manager) Close() error {
	var firstErr error
	m.handles.Range(func(_, v any) bool {
		if err := v.(*ProjectHandle).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// ProjectHandle bundles one project's lazily-opened database pools
// and its secret cache. A handle is never shared across slugs.
type ProjectHandle struct {
	slug      string
	dir       string
	cipherKey []byte
	log       *slog.Logger

	mu         sync.Mutex
	workflowDB *sql.DB
	dataDB     *sql.DB

	// ddlMu serializes lazy table creation on the data database.
	ddlMu sync.Mutex

	secretMu    sync.RWMutex
	secretCache map[string]string
}

// Slug returns the project's slug.
func (p *ProjectHandle) Slug() string { return p.slug }

// WorkflowDB opens (once) and returns the project.db pool, applying
// pragmas and the idempotent schema. A schema failure is fatal for
// this project: the error is returned on every subsequent call.
func (p *ProjectHandle) WorkflowDB(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workflowDB != nil {
		return p.workflowDB, nil
	}
	db, err := p.open(ctx, "project.db")
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema for project %s: %v", ErrUnavailable, p.slug, err)
	}
	p.workflowDB = db
	return db, nil
}

// DataDB opens (once) and returns the simpletable.db pool. No schema
// is applied; tables are created on demand by the table nodes.
func (p *ProjectHandle) DataDB(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dataDB != nil {
		return p.dataDB, nil
	}
	db, err := p.open(ctx, "simpletable.db")
	if err != nil {
		return nil, err
	}
	p.dataDB = db
	return db, nil
}

func (p *ProjectHandle) open(ctx context.Context, file string) (*sql.DB, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create project dir %s: %v", ErrUnavailable, p.dir, err)
	}
	path := filepath.Join(p.dir, file)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, path, err)
	}

	// SQLite allows a single writer; keeping one connection avoids
	// SQLITE_BUSY churn under concurrent activations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: apply %q on %s: %v", ErrUnavailable, pragma, path, err)
		}
	}
	return db, nil
}

// Close closes the handle's open pools.
func (p *ProjectHandle) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.workflowDB != nil {
		if err := p.workflowDB.Close(); err != nil {
			firstErr = err
		}
		p.workflowDB = nil
	}
	if p.dataDB != nil {
		if err := p.dataDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.dataDB = nil
	}
	return firstErr
}
