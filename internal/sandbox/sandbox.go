// Package sandbox evaluates single-line user expressions in a
// restricted Lua interpreter.
//
// Every call runs in a fresh interpreter state: no state persists
// between evaluations, and two calls with the same expression and
// data produce the same output (absent explicit time calls). The
// host environment is unreachable: filesystem, network, process,
// module loading, and reflection surfaces are never opened.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrCompile marks a syntax error in the expression.
	ErrCompile = errors.New("script compile error")
	// ErrRuntime marks an error raised while the script ran.
	ErrRuntime = errors.New("script runtime error")
	// ErrExhausted marks a script killed by the memory cap or the
	// evaluation deadline.
	ErrExhausted = errors.New("script resource exhausted")
)

// DefaultTimeout bounds one evaluation when the caller's context
// carries no earlier deadline.
const DefaultTimeout = time.Second

// registryMaxSize bounds interpreter memory: the Lua registry is the
// only growth surface gopher-lua exposes, and a slot costs on the
// order of 16 bytes, so one million slots approximates the 16 MiB cap.
const registryMaxSize = 1 << 20

// Evaluator runs sandboxed expressions. The zero value is not usable;
// construct with New.
type Evaluator struct {
	timeout time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout overrides the per-evaluation default deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate compiles and runs a single-line expression with `data`
// bound to the incoming item array (1-indexed, Lua convention) and
// returns the produced value as a JSON tree. It satisfies
// wire.ScriptEvaluator.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, data []any) (result any, err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		RegistrySize:    1024 * 8,
		RegistryMaxSize: registryMaxSize,
		CallStackSize:   128,
	})
	defer L.Close()
	L.SetContext(ctx)

	// Registry overflow surfaces as a panic from the VM.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrExhausted, r)
		}
	}()

	if err := openSafeLibs(L); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	installTimeModule(L)
	L.SetGlobal("data", toLua(L, data))

	fn, err := compileChunk(L, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrExhausted, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// compileChunk loads a single-line expression. Bare expressions are
// wrapped in an implicit return first, so both "1 + 2" and
// "return {x = 1}" compile.
func compileChunk(L *lua.LState, expr string) (*lua.LFunction, error) {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(trimmed, "return ") && trimmed != "return" {
		if fn, err := L.LoadString("return " + trimmed); err == nil {
			return fn, nil
		}
	}
	return L.LoadString(trimmed)
}

// openSafeLibs loads the arithmetic/string/table builtins and then
// strips every surface that could reach outside the interpreter. The
// package library must load first for the module tables to exist; its
// globals are removed immediately after. os, io, debug, and coroutine
// are never opened.
func openSafeLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		if err := L.PCall(1, 0, nil); err != nil {
			return err
		}
	}

	for _, name := range []string{
		"package", "require", "module",
		"dofile", "loadfile", "load", "loadstring",
		"collectgarbage", "rawget", "rawset", "rawequal", "rawlen",
		"getmetatable", "setmetatable", "getfenv", "setfenv",
		"print", "newproxy",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

// installTimeModule exposes the restricted time surface:
// time.now() (RFC 3339), time.date(fmt) (strftime-style subset via
// Go layout passthrough is avoided; fmt follows Lua os.date's %-codes
// for the common fields), and time.time() (unix seconds). now() and
// date() are also bound as top-level aliases.
func installTimeModule(L *lua.LState) {
	nowFn := L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(time.Now().UTC().Format(time.RFC3339)))
		return 1
	})
	dateFn := L.NewFunction(func(ls *lua.LState) int {
		format := ls.OptString(1, "%Y-%m-%d")
		ls.Push(lua.LString(strftime(time.Now().UTC(), format)))
		return 1
	})
	unixFn := L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	})

	mod := L.NewTable()
	L.SetField(mod, "now", nowFn)
	L.SetField(mod, "date", dateFn)
	L.SetField(mod, "time", unixFn)
	L.SetGlobal("time", mod)
	L.SetGlobal("now", nowFn)
	L.SetGlobal("date", dateFn)
}

// strftime renders the %-codes the original date() supported.
func strftime(t time.Time, format string) string {
	replacer := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
		"%%", "%",
	)
	return replacer.Replace(format)
}
