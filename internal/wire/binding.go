package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrBinding marks any failure raised while evaluating a binding.
// Callers classify with errors.Is; the error text names the pin but
// never the binding expression itself.
var ErrBinding = errors.New("binding evaluation failed")

// SecretSource resolves project-scoped secret names to plaintext.
// The returned value must only be used inside binding evaluation and
// must never be logged.
type SecretSource interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ScriptEvaluator evaluates a single-line script expression with the
// incoming item array bound as `data`.
type ScriptEvaluator interface {
	Evaluate(ctx context.Context, expr string, data []any) (any, error)
}

// Env is the evaluation environment a binding closure runs against.
type Env struct {
	// Data is the incoming item array ($json indexes into it).
	Data []any
	// Secrets resolves $secret.<name> references. May be nil when the
	// caller guarantees no secret bindings occur.
	Secrets SecretSource
	// Scripts evaluates script bindings. May be nil likewise.
	Scripts ScriptEvaluator
}

// Binding is a parsed, bound closure evaluated against an Env.
type Binding interface {
	Eval(ctx context.Context, env *Env) (any, error)
}

var (
	secretNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// exprCharsRe is the charset whitelist for script expressions; a
	// candidate failing it is treated as a literal.
	exprCharsRe = regexp.MustCompile(`^[A-Za-z0-9_ +\-*/%<>=~^#.,:()\[\]{}"' ]+$`)
)

// Parse turns a raw binding string into a closure. The forms are
// tried in order: path expression, secret reference, script
// expression, literal. Parsing a malformed path or secret reference
// fails; anything that is not recognizably an expression falls back
// to a literal.
func Parse(raw string) (Binding, error) {
	switch {
	case raw == "$json" || strings.HasPrefix(raw, "$json.") || strings.HasPrefix(raw, "$json["):
		return parsePath(raw)
	case strings.HasPrefix(raw, "$secret."):
		name := raw[len("$secret."):]
		if !secretNameRe.MatchString(name) {
			return nil, fmt.Errorf("%w: malformed secret reference", ErrBinding)
		}
		return secretBinding{name: name}, nil
	case strings.HasPrefix(raw, "$"):
		return nil, fmt.Errorf("%w: unknown reference form", ErrBinding)
	case IsExpression(raw):
		return scriptBinding{expr: raw}, nil
	default:
		return literalOf(raw), nil
	}
}

// IsExpression reports whether a binding string should be evaluated
// as a script rather than taken literally. The rule is deliberately
// conservative: an explicit `return `, a pure arithmetic form, or a
// reference to one of the sandbox surfaces. Plain URLs, file paths,
// and prose all fall through to literals.
func IsExpression(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !exprCharsRe.MatchString(trimmed) {
		return false
	}
	if strings.HasPrefix(trimmed, "return ") {
		return true
	}
	for _, marker := range []string{"data[", "math.", "string.", "table.", "time.now", "time.date", "time.time", "now()", "date(", "time()"} {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	// Pure arithmetic: digits, operators, parens, whitespace.
	pure := true
	hasOp := false
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ' ':
		case r == '+', r == '-', r == '*', r == '/', r == '%', r == '(', r == ')':
			hasOp = true
		default:
			pure = false
		}
		if !pure {
			break
		}
	}
	return pure && hasOp
}

// ResolvePins evaluates every declared pin exactly once, alphabetical
// by pin name for repeatability. A pin name ending in "?" is
// optional: its binding failure yields nil instead of failing the
// node. The "?" suffix is stripped in the resolved map.
func ResolvePins(ctx context.Context, pins map[string]string, env *Env) (map[string]any, error) {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]any, len(pins))
	for _, name := range names {
		binding, err := Parse(pins[name])
		key, optional := strings.CutSuffix(name, "?")
		if err != nil {
			if optional {
				resolved[key] = nil
				continue
			}
			return nil, fmt.Errorf("pin %q: %w", key, err)
		}
		val, err := binding.Eval(ctx, env)
		if err != nil {
			if optional {
				resolved[key] = nil
				continue
			}
			return nil, fmt.Errorf("pin %q: %w", key, errors.Join(ErrBinding, err))
		}
		resolved[key] = val
	}
	return resolved, nil
}

// pathBinding walks $json path expressions. The first element of the
// item array is selected unless an explicit [i] leads the path.
type pathBinding struct {
	index    int
	hasIndex bool
	segs     []pathSeg
}

type pathSeg struct {
	key   string
	index int
	isKey bool
}

func parsePath(raw string) (Binding, error) {
	rest := raw[len("$json"):]
	b := pathBinding{}

	// Optional leading element index: $json[2].field
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
		}
		b.index = idx
		b.hasIndex = true
		rest = rest[end+1:]
	}

	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			end := len(rest)
			for i := 0; i < len(rest); i++ {
				if rest[i] == '.' || rest[i] == '[' {
					end = i
					break
				}
			}
			key := rest[:end]
			if !identRe.MatchString(key) {
				return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
			}
			b.segs = append(b.segs, pathSeg{key: key, isKey: true})
			rest = rest[end:]
		case strings.HasPrefix(rest, "["):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
			}
			b.segs = append(b.segs, pathSeg{index: idx})
			rest = rest[end+1:]
		default:
			return nil, fmt.Errorf("%w: malformed path expression", ErrBinding)
		}
	}
	return b, nil
}

func (b pathBinding) Eval(_ context.Context, env *Env) (any, error) {
	var current any
	if b.hasIndex {
		if b.index >= len(env.Data) {
			return nil, nil
		}
		current = env.Data[b.index]
	} else {
		current = First(env.Data)
	}

	for _, seg := range b.segs {
		if seg.isKey {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, nil
			}
			current = obj[seg.key]
		} else {
			arr, ok := current.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, nil
			}
			current = arr[seg.index]
		}
	}
	return current, nil
}

type secretBinding struct {
	name string
}

func (b secretBinding) Eval(ctx context.Context, env *Env) (any, error) {
	if env.Secrets == nil {
		return nil, fmt.Errorf("no secret source available")
	}
	plaintext, err := env.Secrets.Resolve(ctx, b.name)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

type scriptBinding struct {
	expr string
}

func (b scriptBinding) Eval(ctx context.Context, env *Env) (any, error) {
	if env.Scripts == nil {
		return nil, fmt.Errorf("no script evaluator available")
	}
	return env.Scripts.Evaluate(ctx, b.expr, env.Data)
}

type literalBinding struct {
	value any
}

func literalOf(raw string) Binding {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return literalBinding{value: parsed}
	}
	return literalBinding{value: raw}
}

func (b literalBinding) Eval(context.Context, *Env) (any, error) {
	return b.value, nil
}
