package script

import (
	"fmt"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"kbrgb-controller/internal/core"
)

// registerFunctions exposes the color helpers to a script.
func registerFunctions(L *lua.LState, logger zerolog.Logger) {
	L.SetGlobal("rgb", L.NewFunction(luaRGB))
	L.SetGlobal("hsv", L.NewFunction(luaHSV))
	L.SetGlobal("hex", L.NewFunction(luaHex))
	L.SetGlobal("mix", L.NewFunction(luaMix))
	L.SetGlobal("scale", L.NewFunction(luaScale))
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		logger.Info().Msg(L.ToString(1))
		return 0
	}))
}

// rgb(r, g, b) builds a color table, clamping each channel.
func luaRGB(L *lua.LState) int {
	c := core.RGB{R: channel(L.CheckNumber(1)), G: channel(L.CheckNumber(2)), B: channel(L.CheckNumber(3))}
	L.Push(colorTable(L, c))
	return 1
}

// hsv(h, s, v) with all components in 0..1.
func luaHSV(L *lua.LState) int {
	c := core.HSV(float64(L.CheckNumber(1)), float64(L.OptNumber(2, 1)), float64(L.OptNumber(3, 1)))
	L.Push(colorTable(L, c))
	return 1
}

// hex("#RRGGBB") parses a color string.
func luaHex(L *lua.LState) int {
	c, err := core.ParseRGB(L.CheckString(1))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(colorTable(L, c))
	return 1
}

// mix(a, b, t) blends two colors.
func luaMix(L *lua.LState) int {
	a, err := toRGB(L.CheckAny(1))
	if err != nil {
		L.ArgError(1, err.Error())
	}
	b, err := toRGB(L.CheckAny(2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	L.Push(colorTable(L, a.Lerp(b, float64(L.CheckNumber(3)))))
	return 1
}

// scale(c, f) dims a color.
func luaScale(L *lua.LState) int {
	c, err := toRGB(L.CheckAny(1))
	if err != nil {
		L.ArgError(1, err.Error())
	}
	L.Push(colorTable(L, c.Scale(float64(L.CheckNumber(2)))))
	return 1
}

func colorTable(L *lua.LState, c core.RGB) *lua.LTable {
	t := L.CreateTable(0, 3)
	t.RawSetString("r", lua.LNumber(c.R))
	t.RawSetString("g", lua.LNumber(c.G))
	t.RawSetString("b", lua.LNumber(c.B))
	return t
}

// toRGB accepts {r=, g=, b=}, {r, g, b} or a color string.
func toRGB(v lua.LValue) (core.RGB, error) {
	switch val := v.(type) {
	case lua.LString:
		return core.ParseRGB(string(val))
	case *lua.LTable:
		if r := val.RawGetString("r"); r != lua.LNil {
			return core.RGB{
				R: channel(lua.LVAsNumber(r)),
				G: channel(lua.LVAsNumber(val.RawGetString("g"))),
				B: channel(lua.LVAsNumber(val.RawGetString("b"))),
			}, nil
		}
		if val.Len() == 3 {
			return core.RGB{
				R: channel(lua.LVAsNumber(val.RawGetInt(1))),
				G: channel(lua.LVAsNumber(val.RawGetInt(2))),
				B: channel(lua.LVAsNumber(val.RawGetInt(3))),
			}, nil
		}
	}
	return core.RGB{}, fmt.Errorf("not a color: %s", v.String())
}

func channel(n lua.LNumber) uint8 {
	switch {
	case n <= 0:
		return 0
	case n >= 255:
		return 255
	}
	return uint8(n + 0.5)
}
