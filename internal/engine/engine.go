// Package engine runs lighting effects on a device. A single goroutine owns the
// device and the lighting state; front-ends reach it only through the command
// Queue and the StopToken.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
	"kbrgb-controller/internal/effects"
)

// Phase is the engine lifecycle state.
type Phase int32

const (
	Idle Phase = iota
	Running
	Draining
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// FrameScript computes frames for the script effect.
type FrameScript interface {
	Load(name string) error
	Frame(ctx context.Context, c effects.Clock, zones []core.RGB, dst []core.RGB) error
	Close() error
}

// Options tune an Engine. Zero values pick defaults.
type Options struct {
	FrameInterval time.Duration // cadence at speed 1
	ScriptTimeout time.Duration // deadline for one scripted frame
	Bus           *core.EventBus
	Script        FrameScript
	Seed          uint64
}

const (
	DefaultFrameInterval = 200 * time.Millisecond
	DefaultScriptTimeout = 50 * time.Millisecond
)

// Engine is the effect engine.
type Engine struct {
	dev    device.Device
	caps   core.Capabilities
	layout device.Layout
	zones  int

	queue  *Queue
	stop   *StopToken
	bus    *core.EventBus
	script FrameScript
	logger zerolog.Logger

	frameInterval time.Duration
	scriptTimeout time.Duration
	seed          uint64

	phase atomic.Int32
	done  chan struct{}

	// Owned by the Run goroutine.
	state core.EngineState
	clock effects.Clock
	heat  []float64
	last  []core.RGB
	timer *time.Timer
}

// New creates an engine for dev starting from initial, which is normalized to
// the device's capabilities. The engine takes ownership of dev.
func New(dev device.Device, initial core.EngineState, opts Options) (*Engine, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: no device handle", device.ErrUnavailable)
	}
	layout := dev.Layout()
	if layout.Len() == 0 {
		return nil, fmt.Errorf("%w: device reports no zones", device.ErrUnavailable)
	}
	caps := dev.Capabilities()

	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = DefaultScriptTimeout
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}

	e := &Engine{
		dev:           dev,
		caps:          caps,
		layout:        layout,
		zones:         layout.Len(),
		queue:         NewQueue(),
		stop:          NewStopToken(),
		bus:           opts.Bus,
		script:        opts.Script,
		logger:        log.With().Str("component", "engine").Logger(),
		frameInterval: opts.FrameInterval,
		scriptTimeout: opts.ScriptTimeout,
		seed:          opts.Seed,
		done:          make(chan struct{}),
		state:         initial.Normalize(caps, layout.Len()),
		heat:          make([]float64, layout.Len()),
	}
	if e.state.Effect == core.EffectScript && e.script == nil {
		e.state.Effect = core.EffectStatic
	}
	return e, nil
}

// Send enqueues a command without blocking.
func (e *Engine) Send(cmd core.Command) error { return e.queue.Send(cmd) }

// Stop returns the cancellation token shared with front-ends.
func (e *Engine) Stop() *StopToken { return e.stop }

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// Done is closed when Run has returned and the device is released.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Capabilities returns what the device supports.
func (e *Engine) Capabilities() core.Capabilities { return e.caps }

// Layout returns the device zone layout.
func (e *Engine) Layout() device.Layout { return e.layout }

// Run consumes commands until Shutdown or ctx is cancelled, then releases the device.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	e.timer = time.NewTimer(time.Hour)
	e.timer.Stop()
	defer e.timer.Stop()

	e.logger.Info().
		Int("zones", e.zones).
		Str("effect", string(e.state.Effect)).
		Msg("Effect engine started")

	if e.state.Effect == core.EffectScript {
		if err := e.loadScript(e.state.Script); err != nil {
			e.report(uuid.Nil, err)
			e.state.Effect = core.EffectStatic
		}
	}
	if err := e.begin(ctx); err != nil {
		e.report(uuid.Nil, err)
	}
	e.publishState(uuid.Nil)

	for {
		if e.stop.ShouldStop() {
			e.halt()
			e.stop.Acknowledge()
			e.logger.Debug().Msg("Stop acknowledged")
		}

		var tick <-chan time.Time
		if e.Phase() == Running {
			tick = e.timer.C
		}

		select {
		case <-ctx.Done():
			e.terminate(nil, nil)
			return

		case <-e.stop.Wake():

		case <-e.queue.Ready():
			batch := e.queue.drain()
			for i, cmd := range batch {
				if cmd.Type == core.CmdShutdown {
					e.terminate(&cmd, batch[i+1:])
					return
				}
				e.dispatch(ctx, cmd)
			}

		case <-tick:
			e.step(ctx)
		}
	}
}

// dispatch applies one command. An animation in progress is never interrupted
// mid-write: the previous frame has fully completed before dispatch runs.
func (e *Engine) dispatch(ctx context.Context, cmd core.Command) {
	running := e.Phase() == Running
	if running {
		e.setPhase(Draining)
	}
	resume := running

	e.logger.Debug().
		Str("command", string(cmd.Type)).
		Str("id", cmd.ID.String()).
		Msg("Handling command")

	var err error
	switch cmd.Type {
	case core.CmdSetBrightness:
		e.state.Brightness = e.caps.Brightness.Clamp(cmd.Level)
		if !running {
			err = e.refresh(ctx)
		}

	case core.CmdSetSpeed:
		e.state.Speed = e.caps.Speed.Clamp(cmd.Level)
		if running {
			e.timer.Reset(e.cadence())
		}

	case core.CmdSetEffect:
		if err = e.selectEffect(cmd); err == nil {
			resume = false
			err = e.begin(ctx)
		}

	case core.CmdSetColor:
		if err = e.paint(cmd.Zone, cmd.Color); err == nil && !running {
			e.repaintHalted(cmd.Zone, cmd.Color)
			err = e.refresh(ctx)
		}

	case core.CmdKeyPress:
		err = e.press(cmd.Zone)

	case core.CmdSaveProfile:
		resume = false
		e.halt()

	case core.CmdLoadProfile:
		resume = false
		e.halt()
		err = e.loadProfile(ctx, cmd.Profile)

	default:
		err = fmt.Errorf("%w: unknown command type %q", core.ErrInvalidCommand, cmd.Type)
	}

	if e.Phase() == Draining {
		if resume {
			e.setPhase(Running)
		} else {
			e.setPhase(Idle)
		}
	}

	if err != nil {
		e.report(cmd.ID, err)
	} else {
		e.publishState(cmd.ID)
	}
	cmd.Respond(core.Result{State: e.state.Clone(), Err: err})
}

func (e *Engine) selectEffect(cmd core.Command) error {
	kind := cmd.Effect
	if !e.caps.Supports(kind) {
		return fmt.Errorf("%w: %q", core.ErrUnsupportedEffect, kind)
	}
	if kind == core.EffectScript {
		name := cmd.Script
		if name == "" {
			name = e.state.Script
		}
		if err := e.loadScript(name); err != nil {
			return err
		}
		e.state.Script = name
	}
	e.state.Effect = kind
	if cmd.Direction != "" {
		e.state.Direction = cmd.Direction
	}
	return nil
}

func (e *Engine) loadScript(name string) error {
	if e.script == nil {
		return fmt.Errorf("%w: scripting is disabled", core.ErrUnsupportedEffect)
	}
	if name == "" {
		return fmt.Errorf("%w: script effect needs a script name", core.ErrInvalidCommand)
	}
	if err := e.script.Load(name); err != nil {
		return fmt.Errorf("load script %q: %w", name, err)
	}
	return nil
}

// loadProfile replaces the state. On failure the previous state is kept.
func (e *Engine) loadProfile(ctx context.Context, p *core.EngineState) error {
	if p == nil {
		return fmt.Errorf("%w: load without a profile", core.ErrInvalidCommand)
	}
	next := p.Normalize(e.caps, e.zones)
	if next.Effect == core.EffectScript {
		if err := e.loadScript(next.Script); err != nil {
			return err
		}
	}
	e.state = next
	return e.begin(ctx)
}

func (e *Engine) paint(zone int, c core.RGB) error {
	if zone == core.AllZones {
		for i := range e.state.Zones {
			e.state.Zones[i] = c
		}
		return nil
	}
	if zone < 0 || zone >= e.zones {
		return fmt.Errorf("%w: %d (device has %d)", core.ErrInvalidZone, zone, e.zones)
	}
	e.state.Zones[zone] = c
	return nil
}

func (e *Engine) press(zone int) error {
	if zone == core.AllZones {
		for i := range e.heat {
			e.heat[i] = 1
		}
		return nil
	}
	if zone < 0 || zone >= e.zones {
		return fmt.Errorf("%w: %d (device has %d)", core.ErrInvalidZone, zone, e.zones)
	}
	e.heat[zone] = 1
	return nil
}

// begin enters the current effect from phase zero: animated effects write their
// first frame and start the cadence, static effects write once and go Idle.
func (e *Engine) begin(ctx context.Context) error {
	e.timer.Stop()
	e.clock = effects.Clock{}
	for i := range e.heat {
		e.heat[i] = 0
	}

	colors, err := e.compose(ctx)
	if err == nil {
		err = e.write(ctx, colors)
	}
	if err != nil {
		e.fail()
		return err
	}

	if !e.state.Effect.Animated() {
		e.setPhase(Idle)
		return nil
	}
	e.advance()
	e.setPhase(Running)
	e.timer.Reset(e.cadence())
	return nil
}

// step renders and writes the next animation frame.
func (e *Engine) step(ctx context.Context) {
	colors, err := e.compose(ctx)
	if err == nil {
		err = e.write(ctx, colors)
	}
	if err != nil {
		e.fail()
		e.report(uuid.Nil, err)
		return
	}
	e.advance()
	e.timer.Reset(e.cadence())
}

// refresh rewrites the device while Idle after a brightness or color change.
// A halted animation keeps its last colors; a static effect is re-rendered.
// repaintHalted carries a color change into the frame a halted animation
// left on the device, so refresh shows it without restarting the effect.
func (e *Engine) repaintHalted(zone int, c core.RGB) {
	if !e.state.Effect.Animated() || e.last == nil {
		return
	}
	colors := append([]core.RGB(nil), e.last...)
	if zone == core.AllZones {
		for i := range colors {
			colors[i] = c
		}
	} else {
		colors[zone] = c
	}
	e.last = colors
}

func (e *Engine) refresh(ctx context.Context) error {
	colors := e.last
	if !e.state.Effect.Animated() || colors == nil {
		var err error
		if colors, err = e.compose(ctx); err != nil {
			return err
		}
	}
	if err := e.write(ctx, colors); err != nil {
		e.fail()
		return err
	}
	return nil
}

func (e *Engine) compose(ctx context.Context) ([]core.RGB, error) {
	dst := make([]core.RGB, e.zones)
	if e.state.Effect == core.EffectScript {
		sctx, cancel := context.WithTimeout(ctx, e.scriptTimeout)
		defer cancel()
		if err := e.script.Frame(sctx, e.clock, e.state.Zones, dst); err != nil {
			return nil, fmt.Errorf("script %q frame %d: %w", e.state.Script, e.clock.Step, err)
		}
		return dst, nil
	}
	effects.Render(dst, effects.Params{
		Kind:      e.state.Effect,
		Direction: e.state.Direction,
		Zones:     e.state.Zones,
		Heat:      e.heat,
		Seed:      e.seed,
	}, e.clock)
	return dst, nil
}

// write sends one frame built entirely from the committed state.
func (e *Engine) write(ctx context.Context, colors []core.RGB) error {
	f := device.Frame{Colors: colors, Brightness: e.state.Brightness}
	if err := e.dev.WriteFrame(ctx, f); err != nil {
		if !errors.Is(err, device.ErrWrite) {
			err = fmt.Errorf("%w: %v", device.ErrWrite, err)
		}
		return err
	}
	e.last = colors
	return nil
}

func (e *Engine) advance() {
	e.clock.Phase += e.frameInterval.Seconds()
	e.clock.Step++
	if e.state.Effect == core.EffectReactive {
		effects.CoolHeat(e.heat)
	}
}

// cadence is the frame period at the current speed.
func (e *Engine) cadence() time.Duration {
	return e.frameInterval / time.Duration(max(e.state.Speed, 1))
}

// halt stops the animation at a frame boundary.
func (e *Engine) halt() {
	e.timer.Stop()
	if p := e.Phase(); p == Running || p == Draining {
		e.setPhase(Idle)
	}
}

// fail drops to Idle after a frame could not be produced or written.
func (e *Engine) fail() {
	e.timer.Stop()
	e.setPhase(Idle)
}

func (e *Engine) terminate(shutdown *core.Command, rest []core.Command) {
	e.halt()
	pending := append(rest, e.queue.close()...)
	for _, c := range pending {
		c.Respond(core.Result{Err: ErrChannelClosed})
	}
	e.stop.release()

	if e.script != nil {
		if err := e.script.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close script runtime")
		}
	}
	if err := e.dev.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close device")
	}
	e.setPhase(Stopped)
	e.logger.Info().Int("dropped", len(pending)).Msg("Effect engine stopped")

	if shutdown != nil {
		shutdown.Respond(core.Result{State: e.state.Clone()})
	}
}

func (e *Engine) setPhase(p Phase) {
	if Phase(e.phase.Swap(int32(p))) == p {
		return
	}
	e.bus.Publish(core.Event{Type: core.PhaseChangedEvent, Phase: p.String()})
}

func (e *Engine) publishState(id uuid.UUID) {
	s := e.state.Clone()
	e.bus.Publish(core.Event{Type: core.StateChangedEvent, CommandID: id, State: &s})
}

// report surfaces a non-fatal error to front-ends.
func (e *Engine) report(id uuid.UUID, err error) {
	ev := e.logger.Warn()
	if errors.Is(err, device.ErrWrite) {
		ev = e.logger.Error()
	}
	ev.Err(err).Str("id", id.String()).Msg("Command failed")
	e.bus.Publish(core.Event{Type: core.ErrorEvent, CommandID: id, Err: err})
}
