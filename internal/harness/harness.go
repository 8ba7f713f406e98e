// Package harness wires a complete engine instance — storage,
// registry, executor catalog, sandbox, scheduler, HTTP surface — over
// a per-test temp directory, and exposes the handful of verbs the
// end-to-end scenarios need: upsert a workflow, fire a webhook, tick
// a cron node, inspect tables and timers.
package harness

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/nodes"
	"github.com/insanalamin/mechaway/internal/registry"
	"github.com/insanalamin/mechaway/internal/sandbox"
	"github.com/insanalamin/mechaway/internal/scheduler"
	"github.com/insanalamin/mechaway/internal/server"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/testutil"
)

// Harness is one fully wired engine instance.
type Harness struct {
	Manager   *store.Manager
	Registry  *registry.Registry
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Server    *server.Server
}

// New builds a harness over a fresh temp data directory. The
// scheduler is reconciled on every swap but its timer wheel is not
// started; scenarios tick cron nodes explicitly for determinism.
func New(t *testing.T) *Harness {
	t.Helper()

	mgr := testutil.NewManager(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(mgr, registry.WithLogger(log))
	eng := engine.New(nodes.NewCatalog(), sandbox.New(), engine.WithLogger(log))
	srv := server.New(mgr, reg, eng, log)

	sched := scheduler.New(srv.SubmitCron, scheduler.WithLogger(log))
	reg.Subscribe(sched.Reconcile)

	return &Harness{
		Manager:   mgr,
		Registry:  reg,
		Engine:    eng,
		Scheduler: sched,
		Server:    srv,
	}
}

// Upsert publishes a workflow definition into a project and fails the
// test on rejection.
func (h *Harness) Upsert(t *testing.T, project, definition string) {
	t.Helper()
	if _, err := h.Registry.Upsert(context.Background(), project, []byte(definition)); err != nil {
		t.Fatalf("upsert workflow: %v", err)
	}
}

// TryUpsert publishes a definition and returns the error, for
// scenarios asserting rejection.
func (h *Harness) TryUpsert(project, definition string) error {
	_, err := h.Registry.Upsert(context.Background(), project, []byte(definition))
	return err
}

// Webhook fires an HTTP request at the trigger surface and returns
// the recorded response.
func (h *Harness) Webhook(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Server.Router().ServeHTTP(rec, req)
	return rec
}

// API fires a management-API request.
func (h *Harness) API(method, target, body string) *httptest.ResponseRecorder {
	return h.Webhook(method, target, body)
}

// TickCron runs one cron activation synchronously, as a timer firing
// would.
func (h *Harness) TickCron(t *testing.T, project, workflowID, nodeID string) {
	t.Helper()
	entry := h.findCron(t, project, workflowID, nodeID)
	payload := map[string]any{
		"trigger_type": "cron",
		"ts":           "2026-01-01T00:00:00Z",
		"schedule":     entry.Schedule,
		"workflow_id":  entry.WorkflowID,
	}
	h.Server.SubmitCron(context.Background(), entry, payload)
}

func (h *Harness) findCron(t *testing.T, project, workflowID, nodeID string) registry.CronEntry {
	t.Helper()
	for _, entry := range h.Registry.Get().Crons() {
		if entry.Project == project && entry.WorkflowID == workflowID && entry.NodeID == nodeID {
			return entry
		}
	}
	t.Fatalf("no cron entry for %s/%s/%s in snapshot", project, workflowID, nodeID)
	return registry.CronEntry{}
}

// TableRows reads every row of a project table, oldest first.
func (h *Harness) TableRows(t *testing.T, project, table string) []map[string]any {
	t.Helper()
	handle, err := h.Manager.Project(project)
	if err != nil {
		t.Fatalf("project %q: %v", project, err)
	}
	rows, err := handle.SelectRows(context.Background(), store.SelectQuery{
		Table:   table,
		OrderBy: "id ASC",
	})
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil
		}
		t.Fatalf("read table %q: %v", table, err)
	}
	return rows
}

// DecodeBody unmarshals a recorded JSON response body.
func DecodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// RequireStatus fails the test unless the recorder holds the given
// status.
func RequireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, want, rec.Body.String())
	}
}
