// Package engine drives workflow activations: it orders nodes
// topologically, propagates item arrays along edges, and collects the
// terminal output.
//
// Node execution within an activation is sequential; concurrency
// lives one level up, where each trigger runs its own activation
// goroutine against an immutable registry snapshot.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/wire"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// DefaultActivationTimeout bounds one activation when the caller's
// context has no earlier deadline.
const DefaultActivationTimeout = 30 * time.Second

// NodeRunner dispatches a single node call. Implemented by the node
// executor catalog; the engine has no knowledge of individual kinds.
type NodeRunner interface {
	Run(ctx context.Context, act *Activation, node *workflow.Node, in []any) ([]any, error)
}

// Request describes one activation: which compiled workflow to run,
// from which entry node, with which payload, on behalf of which
// project.
type Request struct {
	Project   *store.ProjectHandle
	Workflow  *workflow.Workflow
	DAG       *workflow.CompiledDAG
	EntryNode string
	Payload   any
}

// Engine executes activations against compiled DAGs.
type Engine struct {
	runner  NodeRunner
	scripts wire.ScriptEvaluator
	tokens  TokenGenerator
	clock   *Clock
	log     *slog.Logger
	timeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenGenerator overrides the activation id generator.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(e *Engine) { e.tokens = gen }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithActivationTimeout overrides the default activation deadline.
func WithActivationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New creates an Engine dispatching node calls to runner and script
// evaluation to scripts.
func New(runner NodeRunner, scripts wire.ScriptEvaluator, opts ...Option) *Engine {
	e := &Engine{
		runner:  runner,
		scripts: scripts,
		tokens:  UUIDv7Generator{},
		clock:   NewClock(),
		log:     slog.Default(),
		timeout: DefaultActivationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one activation to completion and returns the output of
// the terminal node. On failure the activation stops at the failing
// node; side effects already committed by earlier nodes stay
// committed.
func (e *Engine) Execute(ctx context.Context, req Request) ([]any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	dag := req.DAG
	entry, ok := dag.Node(req.EntryNode)
	if !ok {
		return nil, E(CodeUnknownNode, "entry node not found").At(req.Workflow.ID, req.EntryNode)
	}

	act := &Activation{
		ID:         e.tokens.Generate(),
		Seq:        e.clock.Next(),
		Project:    req.Project,
		WorkflowID: req.Workflow.ID,
		EntryNode:  entry.ID,
		Trigger:    wire.Arrayify(req.Payload),
		Outputs:    make(map[string][]any, len(dag.Order)),
		Scripts:    e.scripts,
	}
	slug := ""
	if req.Project != nil {
		slug = req.Project.Slug()
	}
	act.Log = e.log.With(
		"activation", act.ID,
		"workflow", req.Workflow.ID,
		"project", slug,
	)

	// The entry node's output is the trigger payload itself; seeding
	// it keeps trigger executors out of the hot path.
	act.Outputs[entry.ID] = act.Trigger
	reachable := dag.ReachableFrom(entry.ID)

	started := time.Now()
	act.Log.Info("activation started", "entry", entry.ID, "seq", act.Seq)

	for _, id := range dag.Order {
		if !reachable[id] || id == entry.ID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, e.fail(act, id, ctxError(err))
		}

		node, _ := dag.Node(id)
		in := gatherInputs(dag, act, id)

		out, err := e.runner.Run(ctx, act, node, in)
		if err != nil {
			return nil, e.fail(act, id, err)
		}
		act.Outputs[id] = out
	}

	terminal := dag.TerminalNode(entry.ID)
	act.Log.Info("activation completed",
		"terminal", terminal,
		"duration", time.Since(started),
	)
	return act.Outputs[terminal], nil
}

// gatherInputs concatenates the outputs of a node's predecessors in
// edge-declaration order. Predecessors outside the triggered subgraph
// contribute nothing.
func gatherInputs(dag *workflow.CompiledDAG, act *Activation, id string) []any {
	preds := dag.Preds[id]
	if len(preds) == 0 {
		return act.Trigger
	}
	parts := make([][]any, 0, len(preds))
	for _, pred := range preds {
		if out, ok := act.Outputs[pred]; ok {
			parts = append(parts, out)
		}
	}
	return wire.Concat(parts...)
}

func (e *Engine) fail(act *Activation, nodeID string, err error) error {
	classified := asError(err).At(act.WorkflowID, nodeID)
	act.Log.Error("activation failed",
		"node", nodeID,
		"code", string(classified.Code),
		"error", classified.Message,
	)
	return classified
}

func asError(err error) *Error {
	if classified, ok := err.(*Error); ok {
		return classified
	}
	return Wrap(CodeOf(err), err, "%v", err)
}

func ctxError(err error) *Error {
	if err == context.DeadlineExceeded {
		return Wrap(CodeDeadlineExceeded, err, "activation deadline exceeded")
	}
	return Wrap(CodeCancelled, err, "activation cancelled")
}
