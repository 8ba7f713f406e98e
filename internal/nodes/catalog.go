// Package nodes implements the per-kind node executors and the
// dispatch catalog.
//
// Executors are pure per-node logic: they borrow the activation for
// one call, read their resolved inputs, and emit an item array. All
// cross-node state (outputs, ordering, deadlines) belongs to the
// engine. Dispatch is a closed registry keyed by node kind.
package nodes

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/wire"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// Func executes a single node.
type Func func(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error)

// Catalog dispatches node calls by kind. It satisfies
// engine.NodeRunner.
type Catalog struct {
	executors map[workflow.Kind]Func
	client    *http.Client
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithHTTPClient overrides the client used by HTTPClient nodes
// (tests point it at an httptest server transport).
func WithHTTPClient(client *http.Client) CatalogOption {
	return func(c *Catalog) { c.client = client }
}

// NewCatalog builds the catalog with every node kind registered.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{client: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	c.executors = map[workflow.Kind]Func{
		workflow.KindWebhook:     execTrigger,
		workflow.KindCron:        execTrigger,
		workflow.KindHTTPClient:  c.execHTTPClient,
		workflow.KindScript:      execScript,
		workflow.KindTableWriter: execTableWriter,
		workflow.KindTableReader: execTableRead,
		workflow.KindTableQuery:  execTableRead,
		workflow.KindPGQuery:     execPGQuery,
	}
	return c
}

// Run implements engine.NodeRunner.
func (c *Catalog) Run(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	exec, ok := c.executors[node.Kind]
	if !ok {
		return nil, engine.E(engine.CodeInternal, "no executor for kind %q", node.Kind)
	}
	return exec(ctx, act, node, in)
}

// execTrigger covers Webhook and Cron nodes: trigger metadata lives
// in the graph, but the node itself is a no-op whose output is the
// trigger payload.
func execTrigger(_ context.Context, act *engine.Activation, _ *workflow.Node, _ []any) ([]any, error) {
	return act.Trigger, nil
}

// resolvePins evaluates a node's declared input pins against the
// incoming items and classifies failures.
func resolvePins(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) (map[string]any, error) {
	if len(node.InputPins) == 0 {
		return nil, nil
	}
	resolved, err := wire.ResolvePins(ctx, node.InputPins, act.Env(in))
	if err != nil {
		return nil, classifyEvalError(err)
	}
	return resolved, nil
}

// pinValuesInOrder returns resolved pin values sorted by pin name,
// the order positional bind parameters are filled in.
func pinValuesInOrder(resolved map[string]any) []any {
	keys := make([]string, 0, len(resolved))
	for k := range resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = resolved[k]
	}
	return vals
}

// stringSliceParam reads a []string param (JSON arrays decode as
// []any).
func stringSliceParam(node *workflow.Node, key string) ([]string, error) {
	raw, ok := node.Params[key]
	if !ok {
		return nil, fmt.Errorf("missing %q parameter", key)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q parameter must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%q parameter must be an array of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// badParams classifies a malformed node configuration. Node params
// are user-authored the same way bindings are, so they share the
// client-attributable binding code.
func badParams(node *workflow.Node, err error) *engine.Error {
	return engine.Wrap(engine.CodeBindingEval, err, "node %q: %v", node.ID, err)
}
