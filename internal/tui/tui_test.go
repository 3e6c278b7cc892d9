package tui

import (
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"

	"kbrgb-controller/internal/core"
)

var caps = core.Capabilities{
	Effects:    []core.EffectKind{core.EffectStatic, core.EffectBreathing, core.EffectWave},
	Brightness: core.Range{Min: 1, Max: 10},
	Speed:      core.Range{Min: 1, Max: 4},
}

var state = core.EngineState{
	Effect:     core.EffectWave,
	Direction:  core.DirectionRight,
	Brightness: 5,
	Speed:      2,
	Zones:      []core.RGB{core.Red, core.Green, core.Blue, core.White},
}

func runeAction(r rune) action {
	return keyAction(tcell.KeyRune, r, state, caps, 4)
}

func TestKeyActionQuit(t *testing.T) {
	assert.Equal(t, actQuit, keyAction(tcell.KeyEscape, 0, state, caps, 4).kind)
	assert.Equal(t, actQuit, keyAction(tcell.KeyCtrlC, 0, state, caps, 4).kind)
	assert.Equal(t, actQuit, runeAction('q').kind)
	assert.Equal(t, actNone, keyAction(tcell.KeyF1, 0, state, caps, 4).kind)
}

func TestKeyActionLevels(t *testing.T) {
	up := runeAction('+')
	assert.Equal(t, actSend, up.kind)
	assert.Equal(t, core.CmdSetBrightness, up.cmd.Type)
	assert.Equal(t, 6, up.cmd.Level)

	assert.Equal(t, 4, runeAction('-').cmd.Level)
	assert.Equal(t, 3, runeAction(']').cmd.Level)
	assert.Equal(t, core.CmdSetSpeed, runeAction('[').cmd.Type)
}

func TestKeyActionLevelsStayInRange(t *testing.T) {
	top := state
	top.Brightness, top.Speed = 10, 1
	assert.Equal(t, 10, keyAction(tcell.KeyRune, '+', top, caps, 4).cmd.Level)
	assert.Equal(t, 1, keyAction(tcell.KeyRune, '[', top, caps, 4).cmd.Level)
}

func TestRepeatedPressesStepFromSentLevel(t *testing.T) {
	var levels pendingLevels
	now := time.Now()

	for want := 6; want <= 8; want++ {
		act := keyAction(tcell.KeyRune, '+', levels.apply(state, now), caps, 4)
		assert.Equal(t, want, act.cmd.Level, "snapshot still reports the old brightness")
		levels.record(act.cmd, now)
	}
	speed := keyAction(tcell.KeyRune, ']', levels.apply(state, now), caps, 4)
	assert.Equal(t, 3, speed.cmd.Level)

	later := now.Add(pendingWindow)
	assert.Equal(t, state.Brightness, levels.apply(state, later).Brightness, "the mirror wins once the window passes")
}

func TestKeyActionEffects(t *testing.T) {
	second := runeAction('2')
	assert.Equal(t, actEffect, second.kind)
	assert.Equal(t, core.EffectBreathing, second.cmd.Effect)

	assert.Equal(t, actNone, runeAction('9').kind, "no effect in that slot")

	flip := runeAction('d')
	assert.Equal(t, actEffect, flip.kind)
	assert.Equal(t, core.EffectWave, flip.cmd.Effect)
	assert.Equal(t, core.DirectionLeft, flip.cmd.Direction)

	assert.Equal(t, actSave, runeAction('s').kind)
	assert.Equal(t, actLoad, runeAction('l').kind)
}

func TestKeyActionPress(t *testing.T) {
	press := runeAction('w')
	assert.Equal(t, actSend, press.kind)
	assert.Equal(t, core.CmdKeyPress, press.cmd.Type)
	assert.Equal(t, 0, press.cmd.Zone)

	assert.Equal(t, 3, runeAction('p').cmd.Zone)
	assert.Equal(t, 3, runeAction('M').cmd.Zone)
	assert.Equal(t, actNone, keyAction(tcell.KeyRune, 'x', state, caps, 0).kind)
}

func TestZoneForRuneStaysInRange(t *testing.T) {
	for _, r := range "!@#$%^&*()qwertyuiopzxcvbnm,./é" {
		z := zoneForRune(r, 3)
		assert.GreaterOrEqual(t, z, 0)
		assert.Less(t, z, 3)
	}
}

func TestStatusLines(t *testing.T) {
	lines := statusLines(core.Snapshot{State: state, Phase: "running", LastError: "boom"}, caps, "ready")
	assert.Equal(t, "phase      running", lines[0])
	assert.Equal(t, "effect     wave (right)", lines[1])
	assert.Equal(t, "brightness 5/10", lines[2])
	assert.Contains(t, lines, "last error boom")
	assert.Equal(t, "status     ready", lines[len(lines)-1])
}
