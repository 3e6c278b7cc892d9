// Package script runs Lua frame scripts for the script effect and manages the
// script files on disk.
package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/effects"
)

// ErrNoFrameFunction is returned when a script does not define frame().
var ErrNoFrameFunction = errors.New("script does not define a frame function")

// loadTimeout bounds the top-level chunk of a script.
const loadTimeout = time.Second

// Runner holds one loaded script. Load, Frame and Close are called from the
// effect engine goroutine only; the file helpers are safe from anywhere.
type Runner struct {
	dir    string
	logger zerolog.Logger

	L     *lua.LState
	name  string
	frame *lua.LFunction
}

// NewRunner creates a runner for scripts stored in dir.
func NewRunner(dir string) *Runner {
	return &Runner{
		dir:    dir,
		logger: log.With().Str("component", "script").Logger(),
	}
}

// Load compiles and runs a script file and keeps its frame function. The
// previously loaded script stays active if loading fails.
func (r *Runner) Load(name string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}

	L := r.newState(name)
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	L.SetContext(ctx)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return fmt.Errorf("run %s: %w", name, err)
	}
	L.RemoveContext()

	fn, ok := L.GetGlobal("frame").(*lua.LFunction)
	if !ok {
		L.Close()
		return fmt.Errorf("%s: %w", name, ErrNoFrameFunction)
	}

	r.closeState()
	r.L, r.name, r.frame = L, name, fn
	r.logger.Info().Str("script", name).Msg("Script loaded")
	return nil
}

// Frame calls frame(phase, step, zones) and copies the returned colors into
// dst. Entries the script leaves out keep the configured zone color.
func (r *Runner) Frame(ctx context.Context, c effects.Clock, zones []core.RGB, dst []core.RGB) error {
	if r.L == nil {
		return fmt.Errorf("no script loaded: %w", ErrNoFrameFunction)
	}

	L := r.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	zt := L.CreateTable(len(zones), 0)
	for i, z := range zones {
		zt.RawSetInt(i+1, colorTable(L, z))
	}

	err := L.CallByParam(lua.P{Fn: r.frame, NRet: 1, Protect: true},
		lua.LNumber(c.Phase), lua.LNumber(c.Step), zt)
	if err != nil {
		return err
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return fmt.Errorf("frame returned %s, want a table of colors", ret.Type())
	}
	for i := range dst {
		fallback := core.White
		if i < len(zones) {
			fallback = zones[i]
		}
		v := tbl.RawGetInt(i + 1)
		if v == lua.LNil {
			dst[i] = fallback
			continue
		}
		rgb, err := toRGB(v)
		if err != nil {
			return fmt.Errorf("zone %d: %w", i+1, err)
		}
		dst[i] = rgb
	}
	return nil
}

// Loaded returns the name of the active script.
func (r *Runner) Loaded() string { return r.name }

// Close releases the Lua state.
func (r *Runner) Close() error {
	r.closeState()
	return nil
}

func (r *Runner) closeState() {
	if r.L != nil {
		r.L.Close()
	}
	r.L, r.name, r.frame = nil, "", nil
}

// newState creates a Lua state with the safe standard libraries and the color helpers.
func (r *Runner) newState(name string) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
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
	// The base library exposes file loaders.
	for _, g := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(g, lua.LNil)
	}
	registerFunctions(L, r.logger.With().Str("script", name).Logger())
	return L
}
