// Package registry publishes the set of active workflows as an
// immutable snapshot behind a single atomic pointer.
//
// Readers never block writers and vice versa: Get returns the current
// snapshot, an in-flight activation keeps using the snapshot it
// obtained, and a reload builds a complete replacement and swaps the
// pointer in one store. Old snapshots are reclaimed by the garbage
// collector once the last activation using them finishes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// Entry pairs a published workflow with its compiled DAG. Both are
// immutable once published.
type Entry struct {
	Workflow *workflow.Workflow
	DAG      *workflow.CompiledDAG
}

// CronEntry is one cron trigger in the snapshot.
type CronEntry struct {
	Project    string
	WorkflowID string
	NodeID     string
	Schedule   string
	Timezone   string
}

type webhookKey struct {
	project    string
	workflowID string
	path       string
}

// Snapshot is a consistent view of all active workflows plus the
// derived trigger indices.
type Snapshot struct {
	gen      int64
	projects map[string]map[string]*Entry
	webhooks map[webhookKey]string
	crons    []CronEntry
}

// Generation returns the snapshot's monotonically increasing swap
// counter. Two Get calls without an intervening swap return the same
// generation (indeed the same pointer).
func (s *Snapshot) Generation() int64 { return s.gen }

// Workflow looks up a published workflow.
func (s *Snapshot) Workflow(project, id string) (*Entry, bool) {
	e, ok := s.projects[project][id]
	return e, ok
}

// Workflows returns a project's published workflows in id order.
func (s *Snapshot) Workflows(project string) []*Entry {
	byID := s.projects[project]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Entry, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

// Webhook resolves a (project, workflow, path) triple to the trigger
// node id.
func (s *Snapshot) Webhook(project, workflowID, path string) (string, bool) {
	nodeID, ok := s.webhooks[webhookKey{project, workflowID, path}]
	return nodeID, ok
}

// Crons returns every cron trigger in the snapshot.
func (s *Snapshot) Crons() []CronEntry { return s.crons }

// Problem reports a workflow that was excluded from the snapshot
// during a reload. Exclusion never aborts the reload.
type Problem struct {
	Project    string
	WorkflowID string
	Err        error
}

type versionKey struct {
	project string
	id      string
}

type versionState struct {
	version int64
	hash    string
}

// Registry owns the current snapshot. There is a single logical
// writer path (reloads, serialized by a mutex) and any number of
// lock-free readers.
type Registry struct {
	mgr *store.Manager
	log *slog.Logger

	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	gen       int64
	versions  map[versionKey]versionState
	problems  []Problem
	listeners []func(*Snapshot)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Registry over the given storage manager, publishing
// an empty snapshot.
func New(mgr *store.Manager, opts ...Option) *Registry {
	r := &Registry{
		mgr:      mgr,
		log:      slog.Default(),
		versions: make(map[versionKey]versionState),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&Snapshot{
		projects: map[string]map[string]*Entry{},
		webhooks: map[webhookKey]string{},
	})
	return r
}

// Get returns the current snapshot. The returned pointer stays valid
// (and consistent) for as long as the caller holds it.
func (r *Registry) Get() *Snapshot {
	return r.current.Load()
}

// Subscribe registers a callback invoked after every swap with the
// new snapshot. Callbacks run serialized with the swap; register
// before concurrent use.
func (r *Registry) Subscribe(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Problems returns the workflows excluded by the most recent reload.
func (r *Registry) Problems() []Problem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Problem, len(r.problems))
	copy(out, r.problems)
	return out
}

// Init loads every project found on disk into the snapshot. Called
// once at startup.
func (r *Registry) Init(ctx context.Context) error {
	slugs, err := r.mgr.ListProjects()
	if err != nil {
		return err
	}
	for _, slug := range slugs {
		if err := r.ReloadProject(ctx, slug); err != nil {
			return err
		}
	}
	return nil
}

// ReloadProject re-reads one project's workflows from storage,
// rebuilds the snapshot, and swaps it in. Individual workflows that
// fail validation or compilation are excluded and reported via
// Problems; only a storage failure aborts the reload.
func (r *Registry) ReloadProject(ctx context.Context, slug string) error {
	handle, err := r.mgr.Project(slug)
	if err != nil {
		return err
	}
	stored, err := handle.LoadWorkflows(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*Entry, len(stored))
	var problems []Problem
	seen := make(map[versionKey]bool, len(stored))

	for _, sw := range stored {
		entry, err := r.buildEntry(slug, sw)
		if err != nil {
			problems = append(problems, Problem{Project: slug, WorkflowID: sw.ID, Err: err})
			r.log.Warn("workflow excluded from snapshot",
				"project", slug, "workflow", sw.ID, "error", err)
			continue
		}
		byID[entry.Workflow.ID] = entry
		seen[versionKey{slug, entry.Workflow.ID}] = true
	}

	// Forget version state for workflows no longer stored.
	for key := range r.versions {
		if key.project == slug && !seen[key] {
			delete(r.versions, key)
		}
	}

	r.swapLocked(slug, byID)
	r.problems = problems
	return nil
}

// Upsert validates, persists, and publishes one workflow. Unlike a
// bulk reload, an invalid definition is rejected outright so the
// caller gets the error instead of a silent exclusion.
func (r *Registry) Upsert(ctx context.Context, slug string, raw []byte) (*workflow.Workflow, error) {
	w, err := workflow.Parse(raw)
	if err != nil {
		return nil, engine.Wrap(engine.CodeInvalidGraph, err, "invalid workflow definition")
	}
	if err := w.Validate(); err != nil {
		return nil, engine.Wrap(engine.CodeInvalidGraph, err, "invalid workflow definition")
	}
	if _, err := workflow.Compile(w); err != nil {
		return nil, engine.Wrap(engine.CodeInvalidGraph, err, "invalid workflow definition")
	}

	handle, err := r.mgr.Project(slug)
	if err != nil {
		return nil, err
	}
	definition, err := w.MarshalDefinition()
	if err != nil {
		return nil, engine.Wrap(engine.CodeInternal, err, "encode workflow definition")
	}
	if err := handle.SaveWorkflow(ctx, w.ID, w.Name, definition); err != nil {
		return nil, err
	}
	if err := r.ReloadProject(ctx, slug); err != nil {
		return nil, err
	}
	if entry, ok := r.Get().Workflow(slug, w.ID); ok {
		return entry.Workflow, nil
	}
	return w, nil
}

// Delete removes a workflow from storage and the snapshot. It
// reports whether the workflow existed.
func (r *Registry) Delete(ctx context.Context, slug, id string) (bool, error) {
	handle, err := r.mgr.Project(slug)
	if err != nil {
		return false, err
	}
	deleted, err := handle.DeleteWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}
	return true, r.ReloadProject(ctx, slug)
}

// buildEntry parses, validates, and compiles one stored definition,
// assigning the published version: bumped iff the canonical JSON of
// the definition differs from the previously published content.
func (r *Registry) buildEntry(slug string, sw store.StoredWorkflow) (*Entry, error) {
	w, err := workflow.Parse(sw.Definition)
	if err != nil {
		return nil, err
	}
	if w.ID != sw.ID {
		return nil, fmt.Errorf("definition id %q does not match stored id %q", w.ID, sw.ID)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	hash, err := w.ContentHash()
	if err != nil {
		return nil, err
	}
	key := versionKey{slug, w.ID}
	state, known := r.versions[key]
	switch {
	case !known:
		state = versionState{version: 1, hash: hash}
	case state.hash != hash:
		state = versionState{version: state.version + 1, hash: hash}
	}
	r.versions[key] = state
	w.Version = state.version
	w.ProjectID = slug

	dag, err := workflow.Compile(w)
	if err != nil {
		var cycle *workflow.ErrCycle
		if errors.As(err, &cycle) {
			return nil, engine.Wrap(engine.CodeInvalidGraph, err, "workflow graph contains a cycle")
		}
		return nil, err
	}
	return &Entry{Workflow: w, DAG: dag}, nil
}

// swapLocked publishes a new snapshot with the given project map
// replacing slug's entries. Caller holds r.mu.
func (r *Registry) swapLocked(slug string, byID map[string]*Entry) {
	old := r.current.Load()

	projects := make(map[string]map[string]*Entry, len(old.projects)+1)
	for p, m := range old.projects {
		if p != slug {
			projects[p] = m
		}
	}
	if len(byID) > 0 {
		projects[slug] = byID
	}

	webhooks := make(map[webhookKey]string)
	var crons []CronEntry
	for p, m := range projects {
		for id, entry := range m {
			for path, nodeID := range entry.DAG.Webhooks {
				webhooks[webhookKey{p, id, path}] = nodeID
			}
			for _, c := range entry.DAG.Crons {
				crons = append(crons, CronEntry{
					Project:    p,
					WorkflowID: id,
					NodeID:     c.NodeID,
					Schedule:   c.Schedule,
					Timezone:   c.Timezone,
				})
			}
		}
	}
	sort.Slice(crons, func(i, j int) bool {
		a, b := crons[i], crons[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
		return a.NodeID < b.NodeID
	})

	r.gen++
	snap := &Snapshot{
		gen:      r.gen,
		projects: projects,
		webhooks: webhooks,
		crons:    crons,
	}
	r.current.Store(snap)
	r.log.Info("snapshot swapped", "generation", snap.gen, "project", slug, "workflows", len(byID))

	for _, fn := range r.listeners {
		fn(snap)
	}
}
