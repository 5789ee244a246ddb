package extension

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/errgroup"

	"github.com/autostep/autostep-lsp/internal/engine"
)

// LoadOptions configures entry point loading.
type LoadOptions struct {
	Logger *slog.Logger

	// Debug routes print output from extension code to the log at info
	// level instead of debug.
	Debug bool
}

// maxParallelLoads bounds concurrent Lua state creation.
const maxParallelLoads = 4

// luaEntryPoint is an extension whose entry file has run in its own state.
//
// gopher-lua states are not goroutine-safe; mu serialises all access.
type luaEntryPoint struct {
	name   string
	source string

	mu     sync.Mutex
	L      *lua.LState
	attach *lua.LFunction
	closed bool
}

func (e *luaEntryPoint) Name() string { return e.name }

// Attach calls the extension's attach function with a project table bound
// to reg.
func (e *luaEntryPoint) Attach(ctx context.Context, reg engine.Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	project := newProjectTable(e.L, reg, e.source)
	return doWithRecovery(func() error {
		return e.L.CallByParam(lua.P{Fn: e.attach, NRet: 0, Protect: true}, project)
	})
}

func (e *luaEntryPoint) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.L.Close()
	}
}

// luaHandle owns the states of a set of entry points.
type luaHandle struct {
	entries   []EntryPoint
	closeOnce sync.Once
}

func (h *luaHandle) EntryPoints() []EntryPoint {
	return append([]EntryPoint(nil), h.entries...)
}

func (h *luaHandle) Close() error {
	h.closeOnce.Do(func() {
		for _, e := range h.entries {
			e.(*luaEntryPoint).close()
		}
	})
	return nil
}

// loadLuaEntryPoints runs each package's main file in a fresh state. Any
// failure closes every state that did load.
func loadLuaEntryPoints(ctx context.Context, pkgs []Package, opts LoadOptions) (Handle, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	entries := make([]*luaEntryPoint, len(pkgs))
	errs := make([]error, len(pkgs))

	var g errgroup.Group
	g.SetLimit(maxParallelLoads)
	for i, pkg := range pkgs {
		g.Go(func() error {
			entry, err := loadLuaEntryPoint(ctx, pkg, log, opts.Debug)
			if err != nil {
				errs[i] = &Error{Extension: pkg.Name, Op: "load", Err: err}
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	h := &luaHandle{}
	for _, e := range entries {
		if e != nil {
			h.entries = append(h.entries, e)
		}
	}
	if err := asLoadError(errs...); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func loadLuaEntryPoint(ctx context.Context, pkg Package, log *slog.Logger, debug bool) (*luaEntryPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	L.SetGlobal("print", L.NewFunction(printTo(log.With("extension", pkg.Name), debug)))

	L.SetContext(ctx)
	defer L.RemoveContext()

	main := filepath.Join(pkg.Dir, pkg.Manifest.Main)
	var module lua.LValue = lua.LNil
	err := doWithRecovery(func() error {
		fn, err := L.LoadFile(main)
		if err != nil {
			return err
		}
		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return err
		}
		module = L.Get(-1)
		L.Pop(1)
		return nil
	})
	if err != nil {
		L.Close()
		return nil, err
	}

	attach, ok := findAttach(L, module)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoAttach, main)
	}

	if debug {
		log.Info("extension loaded", "extension", pkg.Name, "version", pkg.Version, "dir", pkg.Dir)
	}
	return &luaEntryPoint{
		name:   pkg.Name,
		source: "extension:" + pkg.Name,
		L:      L,
		attach: attach,
	}, nil
}

// findAttach prefers attach on the returned module table over a global.
func findAttach(L *lua.LState, module lua.LValue) (*lua.LFunction, bool) {
	if tbl, ok := module.(*lua.LTable); ok {
		if fn, ok := tbl.RawGetString("attach").(*lua.LFunction); ok {
			return fn, true
		}
	}
	fn, ok := L.GetGlobal("attach").(*lua.LFunction)
	return fn, ok
}

// openSafeLibraries opens the base, table, string and math libraries only.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func printTo(log *slog.Logger, debug bool) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		msg := strings.Join(parts, "\t")
		if debug {
			log.Info(msg)
		} else {
			log.Debug(msg)
		}
		return 0
	}
}

func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// newProjectTable builds the table passed to attach:
//
//	project.step(type, declaration [, {description=, components={...}}])
//	project.component(name [, trait...])
//	project.method(name [, {params...}] [, {scope=, description=}])
func newProjectTable(L *lua.LState, reg engine.Registry, source string) *lua.LTable {
	tbl := L.NewTable()

	L.SetField(tbl, "step", L.NewFunction(func(L *lua.LState) int {
		typeName := L.CheckString(1)
		decl := L.CheckString(2)
		opts := L.OptTable(3, L.NewTable())

		stepType, ok := engine.ParseStepType(typeName)
		if !ok {
			L.ArgError(1, fmt.Sprintf("unknown step type %q", typeName))
			return 0
		}
		spec := engine.StepDefinitionSpec{
			Type:        stepType,
			Declaration: decl,
			Description: optString(opts, "description"),
			Source:      source,
			Components:  stringList(opts.RawGetString("components")),
		}
		if err := reg.DefineStep(spec); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	L.SetField(tbl, "component", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		var traits []string
		for i := 2; i <= L.GetTop(); i++ {
			traits = append(traits, L.CheckString(i))
		}
		reg.DefineComponent(name, traits...)
		return 0
	}))

	L.SetField(tbl, "method", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		params := stringList(L.Get(2))
		opts := L.OptTable(3, L.NewTable())
		reg.DefineMethod(engine.MethodDefinition{
			Name:        name,
			Params:      params,
			Scope:       optString(opts, "scope"),
			Description: optString(opts, "description"),
			Source:      source,
		})
		return 0
	}))

	return tbl
}

func optString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// stringList reads the string elements of an array table.
func stringList(v lua.LValue) []string {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var out []string
	for i := 1; i <= tbl.Len(); i++ {
		if s, ok := tbl.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}
