// Package tui is the interactive terminal front-end.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
)

// Controller is what the UI drives.
type Controller interface {
	core.CommandChannel
	SetEffect(ctx context.Context, kind core.EffectKind, dir core.Direction, script string) error
	SaveProfile(ctx context.Context, name string) error
	LoadProfile(ctx context.Context, name string, overwrite bool) error
	State() core.Snapshot
	Layout() device.Layout
	Capabilities() core.Capabilities
	Done() <-chan struct{}
}

const redrawInterval = 100 * time.Millisecond

// UI draws the lighting state and turns keys into commands.
type UI struct {
	screen  tcell.Screen
	ctrl    Controller
	profile string
	status  string
	levels  pendingLevels
	logger  zerolog.Logger
}

// New initializes the terminal. Call Close when done.
func New(ctrl Controller, defaultProfile string) (*UI, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := screen.Init(); err != nil {
		return nil, err
	}
	screen.Clear()

	return &UI{
		screen:  screen,
		ctrl:    ctrl,
		profile: defaultProfile,
		status:  "ready",
		logger:  log.With().Str("component", "tui").Logger(),
	}, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	u.screen.Fini()
}

// Run handles input until the user quits, ctx ends or the engine stops.
func (u *UI) Run(ctx context.Context) {
	ticker := time.NewTicker(redrawInterval)
	defer ticker.Stop()

	events := make(chan tcell.Event, 16)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		for {
			ev := u.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-quit:
				return
			}
		}
	}()

	u.draw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.ctrl.Done():
			return
		case ev := <-events:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if !u.handleKey(ctx, ev) {
					return
				}
			case *tcell.EventResize:
				u.screen.Sync()
			}
			u.draw()
		case <-ticker.C:
			u.draw()
		}
	}
}

func (u *UI) handleKey(ctx context.Context, ev *tcell.EventKey) bool {
	now := time.Now()
	snap := u.ctrl.State()
	act := keyAction(ev.Key(), ev.Rune(), u.levels.apply(snap.State, now), u.ctrl.Capabilities(), u.ctrl.Layout().Len())

	var err error
	switch act.kind {
	case actQuit:
		return false
	case actNone:
		return true
	case actSend:
		if err = u.ctrl.Send(act.cmd); err == nil {
			u.levels.record(act.cmd, now)
		}
	case actEffect:
		err = u.ctrl.SetEffect(ctx, act.cmd.Effect, act.cmd.Direction, act.cmd.Script)
	case actSave:
		err = u.ctrl.SaveProfile(ctx, u.profile)
	case actLoad:
		err = u.ctrl.LoadProfile(ctx, u.profile, false)
	}

	if err != nil {
		u.status = err.Error()
		u.logger.Warn().Err(err).Str("action", act.label).Msg("Key action failed")
	} else {
		u.status = act.label
	}
	return true
}

// pendingWindow is how long a sent level overrides the state mirror, which
// only catches up once the engine has applied the command.
const pendingWindow = 500 * time.Millisecond

type pendingLevel struct {
	value int
	at    time.Time
}

func (p pendingLevel) or(current int, now time.Time) int {
	if p.at.IsZero() || now.Sub(p.at) >= pendingWindow {
		return current
	}
	return p.value
}

// pendingLevels remembers the last brightness and speed sent so repeated key
// presses step from that level instead of a stale snapshot.
type pendingLevels struct {
	brightness pendingLevel
	speed      pendingLevel
}

func (p *pendingLevels) apply(s core.EngineState, now time.Time) core.EngineState {
	s.Brightness = p.brightness.or(s.Brightness, now)
	s.Speed = p.speed.or(s.Speed, now)
	return s
}

func (p *pendingLevels) record(cmd core.Command, now time.Time) {
	switch cmd.Type {
	case core.CmdSetBrightness:
		p.brightness = pendingLevel{value: cmd.Level, at: now}
	case core.CmdSetSpeed:
		p.speed = pendingLevel{value: cmd.Level, at: now}
	}
}

type actionKind int

const (
	actNone actionKind = iota
	actQuit
	actSend
	actEffect
	actSave
	actLoad
)

type action struct {
	kind  actionKind
	cmd   core.Command
	label string
}

var keyboardRows = []string{"1234567890", "qwertyuiop", "asdfghjkl", "zxcvbnm"}

// keyAction maps one key to what the UI should do.
func keyAction(key tcell.Key, r rune, s core.EngineState, caps core.Capabilities, zones int) action {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return action{kind: actQuit}
	case tcell.KeyRune:
	default:
		return action{}
	}

	switch r {
	case 'q':
		return action{kind: actQuit}
	case '+', '=':
		return action{kind: actSend, cmd: core.SetBrightness(caps.Brightness.Clamp(s.Brightness + 1)), label: "brightness up"}
	case '-':
		return action{kind: actSend, cmd: core.SetBrightness(caps.Brightness.Clamp(s.Brightness - 1)), label: "brightness down"}
	case ']':
		return action{kind: actSend, cmd: core.SetSpeed(caps.Speed.Clamp(s.Speed + 1)), label: "faster"}
	case '[':
		return action{kind: actSend, cmd: core.SetSpeed(caps.Speed.Clamp(s.Speed - 1)), label: "slower"}
	case 'd':
		return action{
			kind:  actEffect,
			cmd:   core.SetEffectWith(s.Effect, s.Direction.Opposite(), s.Script),
			label: "direction " + string(s.Direction.Opposite()),
		}
	case 's':
		return action{kind: actSave, label: "profile saved"}
	case 'l':
		return action{kind: actLoad, label: "profile loaded"}
	}

	if r >= '0' && r <= '9' {
		i := int(r-'0') - 1
		if r == '0' {
			i = 9
		}
		if i >= len(caps.Effects) {
			return action{}
		}
		kind := caps.Effects[i]
		return action{kind: actEffect, cmd: core.SetEffectWith(kind, "", s.Script), label: "effect " + string(kind)}
	}

	if zones <= 0 {
		return action{}
	}
	zone := zoneForRune(r, zones)
	return action{kind: actSend, cmd: core.KeyPress(zone), label: fmt.Sprintf("key %q", r)}
}

// zoneForRune places a letter on the zone under its keyboard column.
func zoneForRune(r rune, zones int) int {
	lower := strings.ToLower(string(r))
	for _, row := range keyboardRows {
		if col := strings.Index(row, lower); col >= 0 {
			return col * zones / len(row)
		}
	}
	if r < 0 {
		r = -r
	}
	return int(r) % zones
}

func (u *UI) draw() {
	u.screen.Clear()
	snap := u.ctrl.State()

	y := 0
	for _, line := range statusLines(snap, u.ctrl.Capabilities(), u.status) {
		u.drawText(0, y, tcell.StyleDefault, line)
		y++
	}
	y++

	for i, zone := range u.ctrl.Layout().Zones {
		var c core.RGB
		if i < len(snap.State.Zones) {
			c = snap.State.Zones[i]
		}
		swatch := tcell.StyleDefault.Background(tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B)))
		u.drawText(0, y, swatch, "      ")
		u.drawText(7, y, tcell.StyleDefault, fmt.Sprintf("%-10s %s", zone.Name, c.Hex()))
		y++
	}
	y++

	help := tcell.StyleDefault.Foreground(tcell.ColorGray)
	for _, line := range helpLines {
		u.drawText(0, y, help, line)
		y++
	}
	u.screen.Show()
}

var helpLines = []string{
	"+/- brightness   [/] speed   1-9,0 effect   d direction",
	"s save profile   l load profile   other keys: key press   q quit",
}

func statusLines(snap core.Snapshot, caps core.Capabilities, status string) []string {
	s := snap.State
	lines := []string{
		fmt.Sprintf("phase      %s", snap.Phase),
		fmt.Sprintf("effect     %s (%s)", s.Effect, s.Direction),
		fmt.Sprintf("brightness %d/%d", s.Brightness, caps.Brightness.Max),
		fmt.Sprintf("speed      %d/%d", s.Speed, caps.Speed.Max),
	}
	if s.Effect == core.EffectScript {
		lines[1] = fmt.Sprintf("effect     %s %s", s.Effect, s.Script)
	}
	if snap.LastError != "" {
		lines = append(lines, "last error "+snap.LastError)
	}
	return append(lines, "status     "+status)
}

func (u *UI) drawText(x, y int, style tcell.Style, text string) {
	for _, r := range text {
		u.screen.SetContent(x, y, r, nil, style)
		x++
	}
}
