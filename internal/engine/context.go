package engine

import (
	"log/slog"

	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/wire"
)

// Activation is the per-run state of one workflow execution: created
// at trigger, threaded through every node call, discarded at
// completion. Executors borrow it for the duration of a single node
// call and must not retain it.
type Activation struct {
	// ID correlates log lines and results for one run.
	ID string
	// Seq is the logical-clock stamp of the activation.
	Seq int64
	// Project is the activation's isolation unit. Executors reach
	// storage and secrets exclusively through it; there is no way to
	// name another project.
	Project *store.ProjectHandle
	// WorkflowID and EntryNode identify what was triggered.
	WorkflowID string
	EntryNode  string
	// Trigger is the initial payload, already in array form.
	Trigger []any
	// Outputs maps node id to its emitted item array, filled as nodes
	// complete. Values are referenced by key, never owned by readers.
	Outputs map[string][]any
	// Scripts evaluates script nodes and script bindings.
	Scripts wire.ScriptEvaluator
	// Log is scoped to this activation.
	Log *slog.Logger
}

// Env builds the binding-evaluation environment over the given
// incoming items. Secrets resolve against the activation's project.
func (a *Activation) Env(in []any) *wire.Env {
	return &wire.Env{Data: in, Secrets: a.Project, Scripts: a.Scripts}
}
