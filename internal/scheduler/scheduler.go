// Package scheduler keeps cron timer jobs in sync with the registry
// snapshot without restarts.
//
// Reconciliation is idempotent: after every snapshot swap the job
// table is aligned with the snapshot's cron entries — new entries are
// scheduled, changed schedules are replaced, vanished entries are
// unscheduled. There is never a duplicate timer for the same
// (workflow, cron node) and never an orphan after a deletion.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/insanalamin/mechaway/internal/registry"
)

// SubmitFunc runs one cron-triggered activation. The scheduler calls
// it on the job goroutine; implementations look up the current
// snapshot themselves so a firing always runs the freshest workflow.
type SubmitFunc func(ctx context.Context, entry registry.CronEntry, payload map[string]any)

type jobKey struct {
	project    string
	workflowID string
	nodeID     string
}

type job struct {
	entryID cron.EntryID
	hash    string
	// inflight coalesces firings: a tick arriving while the previous
	// activation still runs is dropped, not queued.
	inflight *atomic.Bool
}

// Scheduler owns the timer wheel and the reconciliation state table.
// The state table is mutated only during Reconcile, which the
// registry serializes with snapshot swaps.
type Scheduler struct {
	cron   *cron.Cron
	submit SubmitFunc
	log    *slog.Logger

	mu   sync.Mutex
	jobs map[jobKey]*job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New creates a Scheduler. Schedules use the 6-field form with
// seconds; a per-entry IANA timezone is honored via CRON_TZ.
func New(submit SubmitFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		submit: submit,
		log:    slog.Default(),
		jobs:   make(map[jobKey]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	parser := cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	return s
}

// Start begins firing timers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timer wheel and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reconcile aligns the timer set with a snapshot's cron entries.
// Entries with an unchanged schedule are left untouched, so running
// this twice with the same snapshot leaves the timer set unchanged.
func (s *Scheduler) Reconcile(snap *registry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[jobKey]registry.CronEntry)
	for _, entry := range snap.Crons() {
		want[jobKey{entry.Project, entry.WorkflowID, entry.NodeID}] = entry
	}

	// Unschedule jobs whose entry vanished.
	for key, existing := range s.jobs {
		if _, ok := want[key]; !ok {
			s.cron.Remove(existing.entryID)
			delete(s.jobs, key)
			s.log.Info("cron job unscheduled",
				"project", key.project, "workflow", key.workflowID, "node", key.nodeID)
		}
	}

	for key, entry := range want {
		hash := scheduleHash(entry)
		if existing, ok := s.jobs[key]; ok {
			if existing.hash == hash {
				continue
			}
			s.cron.Remove(existing.entryID)
			delete(s.jobs, key)
		}

		spec := entry.Schedule
		if entry.Timezone != "" {
			spec = "CRON_TZ=" + entry.Timezone + " " + spec
		}
		inflight := &atomic.Bool{}
		entryID, err := s.cron.AddFunc(spec, s.fire(entry, inflight))
		if err != nil {
			// A schedule that fails to parse never produces a timer;
			// the workflow stays published for its other triggers.
			s.log.Warn("cron schedule rejected",
				"project", entry.Project, "workflow", entry.WorkflowID,
				"node", entry.NodeID, "error", err)
			continue
		}
		s.jobs[key] = &job{entryID: entryID, hash: hash, inflight: inflight}
		s.log.Info("cron job scheduled",
			"project", entry.Project, "workflow", entry.WorkflowID,
			"node", entry.NodeID, "schedule", entry.Schedule)
	}
}

// JobCount returns the number of scheduled timers.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// fire builds the timer callback for one entry. A firing that finds
// the previous activation still running is dropped — cron is
// coalesced, not catch-up — and the skip is a normal condition, not
// an error.
func (s *Scheduler) fire(entry registry.CronEntry, inflight *atomic.Bool) func() {
	return func() {
		if !inflight.CompareAndSwap(false, true) {
			s.log.Debug("cron tick dropped, previous run still executing",
				"project", entry.Project, "workflow", entry.WorkflowID, "node", entry.NodeID)
			return
		}
		defer inflight.Store(false)

		payload := map[string]any{
			"trigger_type": "cron",
			"ts":           time.Now().UTC().Format(time.RFC3339),
			"schedule":     entry.Schedule,
			"workflow_id":  entry.WorkflowID,
		}
		s.submit(context.Background(), entry, payload)
	}
}

func scheduleHash(entry registry.CronEntry) string {
	sum := sha256.Sum256([]byte(entry.Schedule + "\x00" + entry.Timezone))
	return hex.EncodeToString(sum[:8])
}
