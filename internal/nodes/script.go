package nodes

import (
	"context"
	"errors"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/sandbox"
	"github.com/insanalamin/mechaway/internal/store"
	"github.com/insanalamin/mechaway/internal/wire"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// isMissingSecret recognizes the no-fallback secret failures.
func isMissingSecret(err error) bool {
	return errors.Is(err, store.ErrSecretNotFound) || errors.Is(err, store.ErrNoCipherKey)
}

// execScript evaluates the node's single-line expression in the
// sandbox with `data` bound to the incoming array, and arrayifies the
// result (an array result fans out, anything else becomes one item).
func execScript(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	script, ok := node.StringParam("script")
	if !ok || script == "" {
		return nil, badParams(node, errors.New("missing \"script\" parameter"))
	}
	result, err := act.Scripts.Evaluate(ctx, script, in)
	if err != nil {
		return nil, classifyEvalError(err)
	}
	return wire.Arrayify(result), nil
}

// classifyEvalError maps sandbox and binding failures onto activation
// error codes. Secret lookups surface through bindings, so missing
// secrets are recognized here too.
func classifyEvalError(err error) *engine.Error {
	switch {
	case errors.Is(err, sandbox.ErrCompile):
		return engine.Wrap(engine.CodeScriptCompile, err, "script failed to compile")
	case errors.Is(err, sandbox.ErrExhausted):
		return engine.Wrap(engine.CodeScriptExhausted, err, "script exceeded its resource limits")
	case errors.Is(err, sandbox.ErrRuntime):
		return engine.Wrap(engine.CodeScriptRuntime, err, "script failed")
	case isMissingSecret(err):
		return engine.Wrap(engine.CodeMissingSecret, err, "required secret is missing")
	case errors.Is(err, wire.ErrBinding):
		return engine.Wrap(engine.CodeBindingEval, err, "input binding failed")
	default:
		return engine.Wrap(engine.CodeBindingEval, err, "input binding failed")
	}
}
