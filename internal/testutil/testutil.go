// Package testutil provides fixtures and constructors shared by the
// package tests and the scenario harness.
package testutil

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/insanalamin/mechaway/internal/store"
)

// CipherKey is a fixed 32-byte AES key for tests.
func CipherKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

// NewManager creates a storage manager rooted in a per-test temp
// directory, with the test cipher key installed.
func NewManager(t *testing.T) *store.Manager {
	t.Helper()
	mgr, err := store.NewManager(t.TempDir(), store.WithCipherKey(CipherKey()))
	if err != nil {
		t.Fatalf("create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

// MustJSON marshals v or fails the test.
func MustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// GradeWorkflow is the webhook -> script -> table writer pipeline
// used across tests: POST a score, double it, persist the row.
const GradeWorkflow = `{
	"id": "wf-grading",
	"name": "Grade intake",
	"nodes": [
		{"id": "hook", "kind": "Webhook", "params": {"path": "/grade"}},
		{"id": "logic", "kind": "Script", "params": {"script": "return {student = data[1].student_id, doubled = data[1].score*2, passed = data[1].score>=35}"}},
		{"id": "sink", "kind": "TableWriter", "params": {"table": "grades", "columns": ["student", "doubled", "passed"]}}
	],
	"edges": [
		{"from": "hook", "to": "logic"},
		{"from": "logic", "to": "sink"}
	]
}`

// CronWorkflow carries a single cron trigger; the schedule is
// substituted via %s.
const CronWorkflow = `{
	"id": "wf-poll",
	"name": "Scheduled poll",
	"nodes": [
		{"id": "tick", "kind": "Cron", "params": {"schedule": "%s", "timezone": "UTC"}},
		{"id": "note", "kind": "Script", "params": {"script": "return {seen = data[1].schedule}"}}
	],
	"edges": [{"from": "tick", "to": "note"}]
}`

// CyclicWorkflow has edges that form a cycle; it must never be
// published.
const CyclicWorkflow = `{
	"id": "wf-cycle",
	"name": "Broken",
	"nodes": [
		{"id": "hook", "kind": "Webhook", "params": {"path": "/loop"}},
		{"id": "a", "kind": "Script", "params": {"script": "return 1"}},
		{"id": "b", "kind": "Script", "params": {"script": "return 2"}}
	],
	"edges": [
		{"from": "hook", "to": "a"},
		{"from": "a", "to": "b"},
		{"from": "b", "to": "a"}
	]
}`

// ReaderWorkflow reads a table on webhook; used by the isolation
// scenario.
const ReaderWorkflow = `{
	"id": "wf-read",
	"name": "Table read",
	"nodes": [
		{"id": "hook", "kind": "Webhook", "params": {"path": "/read"}},
		{"id": "out", "kind": "TableReader", "params": {"table": "grades"}}
	],
	"edges": [{"from": "hook", "to": "out"}]
}`
