package routine

import (
	"context"

	"finch-controller/internal/device"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// registerFunctions exposes the device to the given Lua state. Device failures
// raise a Lua error, which ends the routine.
func registerFunctions(L *lua.LState, ctx context.Context, dev device.Device) {
	check := func(L *lua.LState, fn string, err error) {
		if err != nil {
			L.RaiseError("%s: %v", fn, err)
		}
	}

	L.SetGlobal("set_motors", L.NewFunction(func(L *lua.LState) int {
		check(L, "set_motors", dev.SetMotors(L.CheckInt(1), L.CheckInt(2)))
		return 0
	}))
	L.SetGlobal("set_led", L.NewFunction(func(L *lua.LState) int {
		check(L, "set_led", dev.SetLED(L.CheckInt(1), L.CheckInt(2), L.CheckInt(3)))
		return 0
	}))
	L.SetGlobal("note_on", L.NewFunction(func(L *lua.LState) int {
		check(L, "note_on", dev.NoteOn(L.CheckInt(1)))
		return 0
	}))
	L.SetGlobal("note_off", L.NewFunction(func(L *lua.LState) int {
		check(L, "note_off", dev.NoteOff())
		return 0
	}))
	L.SetGlobal("wait", L.NewFunction(func(L *lua.LState) int {
		check(L, "wait", dev.Sleep(ctx, L.CheckInt(1)))
		return 0
	}))
	L.SetGlobal("temperature", L.NewFunction(func(L *lua.LState) int {
		c, err := dev.Temperature()
		check(L, "temperature", err)
		L.Push(lua.LNumber(c))
		return 1
	}))
	L.SetGlobal("light_sensors", L.NewFunction(func(L *lua.LState) int {
		l, err := dev.LeftLightSensor()
		check(L, "light_sensors", err)
		r, err := dev.RightLightSensor()
		check(L, "light_sensors", err)
		L.Push(lua.LNumber(l))
		L.Push(lua.LNumber(r))
		return 2
	}))
	L.SetGlobal("should_stop", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(ctx.Err() != nil))
		return 1
	}))
	L.SetGlobal("print", L.NewFunction(luaPrint))
}

func luaPrint(L *lua.LState) int {
	log.Printf("[Lua] %s", L.ToString(1))
	return 0
}
