package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/wire"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// maxResponseBytes caps how much of an upstream response body is
// read; a misbehaving upstream must not balloon an activation.
const maxResponseBytes = 8 << 20

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true, http.MethodHead: true,
}

// execHTTPClient performs one outbound request with the activation
// deadline. String params beginning with `$` are substituted through
// the binding DSL, so urls and headers can reference the incoming
// value or a secret. The body comes from resolved input pins when the
// node declares any, otherwise from the `body` param.
func (c *Catalog) execHTTPClient(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) ([]any, error) {
	env := act.Env(in)

	rawURL, ok := node.StringParam("url")
	if !ok || rawURL == "" {
		return nil, badParams(node, errors.New("missing \"url\" parameter"))
	}
	url, err := substituteParam(ctx, env, rawURL)
	if err != nil {
		return nil, classifyEvalError(err)
	}

	method := http.MethodGet
	if m, ok := node.StringParam("method"); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !allowedMethods[method] {
		return nil, badParams(node, fmt.Errorf("unsupported HTTP method %q", method))
	}

	body, contentType, err := c.requestBody(ctx, act, node, in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, badParams(node, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := node.Params["headers"].(map[string]any); ok {
		for name, raw := range headers {
			value, ok := raw.(string)
			if !ok {
				continue
			}
			substituted, err := substituteParam(ctx, env, value)
			if err != nil {
				return nil, classifyEvalError(err)
			}
			req.Header.Set(name, substituted)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engine.Wrap(engine.CodeDeadlineExceeded, err, "request timed out")
		}
		return nil, engine.Wrap(engine.CodeUpstream, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, engine.Wrap(engine.CodeUpstream, err, "reading response failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, engine.E(engine.CodeUpstream, "upstream returned status %d", resp.StatusCode)
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		parsed = string(raw)
	}
	return []any{parsed}, nil
}

// requestBody resolves the outbound payload: declared input pins win,
// then the body param (itself `$`-substitutable when a string).
func (c *Catalog) requestBody(ctx context.Context, act *engine.Activation, node *workflow.Node, in []any) (io.Reader, string, error) {
	if len(node.InputPins) > 0 {
		resolved, err := resolvePins(ctx, act, node, in)
		if err != nil {
			return nil, "", err
		}
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil, "", engine.Wrap(engine.CodeInternal, err, "encoding request body failed")
		}
		return bytes.NewReader(raw), "application/json", nil
	}

	body, ok := node.Params["body"]
	if !ok || body == nil {
		return nil, "", nil
	}
	if s, ok := body.(string); ok {
		substituted, err := substituteParam(ctx, act.Env(in), s)
		if err != nil {
			return nil, "", classifyEvalError(err)
		}
		return strings.NewReader(substituted), "text/plain", nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", engine.Wrap(engine.CodeInternal, err, "encoding request body failed")
	}
	return bytes.NewReader(raw), "application/json", nil
}

// substituteParam evaluates a string param through the binding DSL
// when it is a reference ($json..., $secret...); plain strings pass
// through untouched.
func substituteParam(ctx context.Context, env *wire.Env, s string) (string, error) {
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	binding, err := wire.Parse(s)
	if err != nil {
		return "", err
	}
	val, err := binding.Eval(ctx, env)
	if err != nil {
		return "", err
	}
	if str, ok := val.(string); ok {
		return str, nil
	}
	return fmt.Sprint(val), nil
}
