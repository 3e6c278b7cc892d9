package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
	"kbrgb-controller/internal/effects"
)

type fakeDevice struct {
	mu     sync.Mutex
	layout device.Layout
	caps   core.Capabilities
	frames []device.Frame
	fail   int
	closed bool
}

func newFakeDevice(zones int) *fakeDevice {
	return &fakeDevice{
		layout: device.LinearLayout(zones),
		caps: core.Capabilities{
			Effects:    core.AllEffects,
			Brightness: core.Range{Min: 1, Max: 10},
			Speed:      core.Range{Min: 1, Max: 4},
		},
	}
}

func (d *fakeDevice) WriteFrame(_ context.Context, f device.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail > 0 {
		d.fail--
		return errors.New("usb stall")
	}
	d.frames = append(d.frames, f.Clone())
	return nil
}

func (d *fakeDevice) Layout() device.Layout           { return d.layout }
func (d *fakeDevice) Capabilities() core.Capabilities { return d.caps }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = n
}

func (d *fakeDevice) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *fakeDevice) last() device.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return device.Frame{}
	}
	return d.frames[len(d.frames)-1]
}

func (d *fakeDevice) all() []device.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Frame(nil), d.frames...)
}

type fakeScript struct {
	mu     sync.Mutex
	loaded string
}

func (s *fakeScript) Load(name string) error {
	if name == "missing" {
		return errors.New("no such script")
	}
	s.mu.Lock()
	s.loaded = name
	s.mu.Unlock()
	return nil
}

func (s *fakeScript) name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *fakeScript) Frame(_ context.Context, c effects.Clock, _ []core.RGB, dst []core.RGB) error {
	if s.name() == "" {
		return errors.New("no script loaded")
	}
	for i := range dst {
		dst[i] = core.RGB{R: uint8(c.Step), G: uint8(i)}
	}
	return nil
}

func (s *fakeScript) Close() error { return nil }

func startEngine(t *testing.T, dev *fakeDevice, initial core.EngineState, opts Options) (*Engine, *core.EventBus) {
	t.Helper()
	bus := core.NewEventBus()
	opts.Bus = bus
	if opts.FrameInterval == 0 {
		opts.FrameInterval = 5 * time.Millisecond
	}
	opts.Seed = 1

	e, err := New(dev, initial, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, bus
}

func call(t *testing.T, e *Engine, cmd core.Command) core.Result {
	t.Helper()
	cmd, reply := cmd.WithReply()
	require.NoError(t, e.Send(cmd))
	select {
	case r := <-reply:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply to %s", cmd.Type)
	}
	return core.Result{}
}

func staticState(zones int) core.EngineState {
	s := core.EngineState{Effect: core.EffectStatic, Brightness: 5, Speed: 1, Zones: make([]core.RGB, zones)}
	for i := range s.Zones {
		s.Zones[i] = core.Blue
	}
	return s
}

func TestNewRequiresDevice(t *testing.T) {
	_, err := New(nil, core.EngineState{}, Options{})
	assert.ErrorIs(t, err, device.ErrUnavailable)

	_, err = New(newFakeDevice(0), core.EngineState{}, Options{})
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestInitialStateIsWritten(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})

	require.Eventually(t, func() bool { return dev.count() == 1 }, time.Second, time.Millisecond)
	f := dev.last()
	assert.Equal(t, 5, f.Brightness)
	assert.Equal(t, []core.RGB{core.Blue, core.Blue, core.Blue, core.Blue}, f.Colors)
	assert.Equal(t, Idle, e.Phase())
}

func TestLevelsAreClamped(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})

	r := call(t, e, core.SetBrightness(99))
	require.NoError(t, r.Err)
	assert.Equal(t, 10, r.State.Brightness)
	assert.Equal(t, 10, dev.last().Brightness)

	r = call(t, e, core.SetBrightness(-3))
	assert.Equal(t, 1, r.State.Brightness)

	r = call(t, e, core.SetSpeed(42))
	assert.Equal(t, 4, r.State.Speed)
	r = call(t, e, core.SetSpeed(0))
	assert.Equal(t, 1, r.State.Speed)
}

func TestCommandsFromOneProducerKeepOrder(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})

	for level := 1; level <= 10; level++ {
		require.NoError(t, e.Send(core.SetBrightness(level)))
	}
	r := call(t, e, core.SetSpeed(2))
	assert.Equal(t, 10, r.State.Brightness)
}

func TestSetEffectStartsAnimation(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})

	r := call(t, e, core.SetEffectWith(core.EffectWave, core.DirectionLeft, ""))
	require.NoError(t, r.Err)
	assert.Equal(t, core.EffectWave, r.State.Effect)
	assert.Equal(t, core.DirectionLeft, r.State.Direction)
	assert.Equal(t, Running, e.Phase())

	n := dev.count()
	assert.Eventually(t, func() bool { return dev.count() > n+3 }, time.Second, time.Millisecond)
}

func TestStopAcknowledgementLeavesEngineIdle(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})
	call(t, e, core.SetEffect(core.EffectDisco))

	ack := e.Stop().RequestStop()
	require.NoError(t, AwaitAck(context.Background(), ack, time.Second))
	assert.Equal(t, Idle, e.Phase())
	assert.False(t, e.Stop().ShouldStop())

	n := dev.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, dev.count(), "no frames after acknowledgement")
}

func TestStopWhileIdleIsAcknowledged(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})

	first := e.Stop().RequestStop()
	second := e.Stop().RequestStop()
	require.NoError(t, AwaitAck(context.Background(), first, time.Second))
	require.NoError(t, AwaitAck(context.Background(), second, time.Second))
	assert.Equal(t, Idle, e.Phase())
}

func TestBrightnessDuringBreathingKeepsAnimating(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})
	call(t, e, core.SetEffect(core.EffectBreathing))
	require.Eventually(t, func() bool { return dev.count() > 5 }, time.Second, time.Millisecond)

	r := call(t, e, core.SetBrightness(8))
	require.NoError(t, r.Err)
	assert.Equal(t, core.EffectBreathing, r.State.Effect)
	assert.Equal(t, Running, e.Phase())

	n := dev.count()
	require.Eventually(t, func() bool { return dev.count() > n+2 }, time.Second, time.Millisecond)
	assert.Equal(t, 8, dev.last().Brightness)
}

func TestSaveWhileAnimatingHaltsWithSnapshot(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})
	call(t, e, core.SetEffect(core.EffectWave))
	call(t, e, core.SetSpeed(3))

	r := call(t, e, core.SaveProfile())
	require.NoError(t, r.Err)
	assert.Equal(t, core.EffectWave, r.State.Effect)
	assert.Equal(t, 3, r.State.Speed)
	assert.Len(t, r.State.Zones, 4)
	assert.Equal(t, Idle, e.Phase())
}

func TestLoadProfileReplacesState(t *testing.T) {
	dev := newFakeDevice(3)
	e, _ := startEngine(t, dev, staticState(3), Options{})
	call(t, e, core.SetEffect(core.EffectSmooth))

	profile := core.EngineState{
		Effect:     core.EffectStatic,
		Brightness: 3,
		Speed:      1,
		Zones:      []core.RGB{core.Red, core.Green},
	}
	r := call(t, e, core.LoadProfile(profile, false))
	require.NoError(t, r.Err)
	assert.Equal(t, Idle, e.Phase())
	assert.Equal(t, []core.RGB{core.Red, core.Green, core.Red}, r.State.Zones)

	f := dev.last()
	assert.Equal(t, 3, f.Brightness)
	assert.Equal(t, []core.RGB{core.Red, core.Green, core.Red}, f.Colors)
}

func TestLoadProfileWithMissingScriptKeepsState(t *testing.T) {
	dev := newFakeDevice(2)
	e, _ := startEngine(t, dev, staticState(2), Options{Script: &fakeScript{}})

	profile := staticState(2)
	profile.Effect = core.EffectScript
	profile.Script = "missing"
	profile.Brightness = 1

	r := call(t, e, core.LoadProfile(profile, false))
	require.Error(t, r.Err)
	assert.Equal(t, core.EffectStatic, r.State.Effect)
	assert.Equal(t, 5, r.State.Brightness)
}

func TestUnsupportedEffectIsRejected(t *testing.T) {
	dev := newFakeDevice(4)
	dev.caps.Effects = []core.EffectKind{core.EffectStatic, core.EffectWave}
	e, bus := startEngine(t, dev, staticState(4), Options{})
	errs := bus.Subscribe(core.ErrorEvent)

	r := call(t, e, core.SetEffect(core.EffectDisco))
	assert.ErrorIs(t, r.Err, core.ErrUnsupportedEffect)
	assert.Equal(t, core.EffectStatic, r.State.Effect)

	select {
	case ev := <-errs:
		assert.ErrorIs(t, ev.Err, core.ErrUnsupportedEffect)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
}

func TestRejectedEffectKeepsAnimationRunning(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})
	call(t, e, core.SetEffect(core.EffectWave))

	r := call(t, e, core.SetEffect(core.EffectScript))
	assert.ErrorIs(t, r.Err, core.ErrUnsupportedEffect)
	assert.Equal(t, core.EffectWave, r.State.Effect)
	assert.Equal(t, Running, e.Phase())
}

func TestSetColor(t *testing.T) {
	dev := newFakeDevice(3)
	e, _ := startEngine(t, dev, staticState(3), Options{})

	r := call(t, e, core.SetColor(1, core.Red))
	require.NoError(t, r.Err)
	assert.Equal(t, []core.RGB{core.Blue, core.Red, core.Blue}, dev.last().Colors)

	r = call(t, e, core.SetColor(core.AllZones, core.Green))
	require.NoError(t, r.Err)
	assert.Equal(t, []core.RGB{core.Green, core.Green, core.Green}, dev.last().Colors)

	r = call(t, e, core.SetColor(9, core.Red))
	assert.ErrorIs(t, r.Err, core.ErrInvalidZone)
	assert.Equal(t, []core.RGB{core.Green, core.Green, core.Green}, r.State.Zones)
}

func TestScriptEffect(t *testing.T) {
	dev := newFakeDevice(2)
	script := &fakeScript{}
	e, _ := startEngine(t, dev, staticState(2), Options{Script: script})

	r := call(t, e, core.SetEffectWith(core.EffectScript, "", "plasma"))
	require.NoError(t, r.Err)
	assert.Equal(t, "plasma", r.State.Script)
	assert.Equal(t, "plasma", script.name())

	require.Eventually(t, func() bool { return dev.last().Colors[0].R >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint8(1), dev.last().Colors[1].G)
}

func TestScriptEffectRestoredAtStartup(t *testing.T) {
	dev := newFakeDevice(2)
	script := &fakeScript{}
	initial := staticState(2)
	initial.Effect = core.EffectScript
	initial.Script = "plasma"
	e, _ := startEngine(t, dev, initial, Options{Script: script})

	require.Eventually(t, func() bool { return dev.count() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, Running, e.Phase())
	assert.Equal(t, "plasma", script.name())

	r := call(t, e, core.SetBrightness(4))
	require.NoError(t, r.Err)
	assert.Equal(t, core.EffectScript, r.State.Effect)
}

func TestMissingStartupScriptFallsBackToStatic(t *testing.T) {
	dev := newFakeDevice(2)
	initial := staticState(2)
	initial.Effect = core.EffectScript
	initial.Script = "missing"
	e, _ := startEngine(t, dev, initial, Options{Script: &fakeScript{}})

	r := call(t, e, core.SetBrightness(4))
	require.NoError(t, r.Err)
	assert.Equal(t, core.EffectStatic, r.State.Effect)
	assert.Equal(t, Idle, e.Phase())
	assert.Equal(t, []core.RGB{core.Blue, core.Blue}, dev.last().Colors)
}

func TestColorChangeShowsWhileAnimationHalted(t *testing.T) {
	dev := newFakeDevice(3)
	e, _ := startEngine(t, dev, staticState(3), Options{})
	call(t, e, core.SetEffect(core.EffectBreathing))
	require.NoError(t, AwaitAck(context.Background(), e.Stop().RequestStop(), time.Second))
	halted := dev.last().Colors

	r := call(t, e, core.SetColor(1, core.Red))
	require.NoError(t, r.Err)
	assert.Equal(t, Idle, e.Phase())
	assert.Equal(t, core.EffectBreathing, r.State.Effect)

	shown := dev.last().Colors
	assert.Equal(t, core.Red, shown[1])
	assert.Equal(t, halted[0], shown[0], "other zones keep the halted frame")

	call(t, e, core.SetColor(core.AllZones, core.Green))
	assert.Equal(t, []core.RGB{core.Green, core.Green, core.Green}, dev.last().Colors)
}

func TestWriteFailureDropsToIdle(t *testing.T) {
	dev := newFakeDevice(4)
	e, bus := startEngine(t, dev, staticState(4), Options{})
	errs := bus.Subscribe(core.ErrorEvent)

	call(t, e, core.SetEffect(core.EffectWave))
	dev.failNext(1)

	select {
	case ev := <-errs:
		assert.ErrorIs(t, ev.Err, device.ErrWrite)
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
	require.Eventually(t, func() bool { return e.Phase() == Idle }, time.Second, time.Millisecond)

	r := call(t, e, core.SetBrightness(3))
	require.NoError(t, r.Err)
	assert.Equal(t, 3, dev.last().Brightness)
}

func TestNoTornFrames(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{FrameInterval: time.Millisecond})
	call(t, e, core.SetEffect(core.EffectSwipe))

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(level int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = e.Send(core.SetBrightness(level))
				_ = e.Send(core.SetColor(core.AllZones, core.Red))
			}
		}(2 * (p + 1))
	}
	wg.Wait()
	call(t, e, core.SetSpeed(1))

	allowed := map[int]bool{5: true, 2: true, 4: true, 6: true, 8: true}
	for _, f := range dev.all() {
		assert.Len(t, f.Colors, 4)
		assert.True(t, allowed[f.Brightness], "unexpected brightness %d", f.Brightness)
	}
}

func TestShutdownClosesChannel(t *testing.T) {
	dev := newFakeDevice(4)
	e, _ := startEngine(t, dev, staticState(4), Options{})
	call(t, e, core.SetEffect(core.EffectWave))

	r := call(t, e, core.Shutdown())
	require.NoError(t, r.Err)
	<-e.Done()

	assert.Equal(t, Stopped, e.Phase())
	assert.ErrorIs(t, e.Send(core.SetBrightness(1)), ErrChannelClosed)

	dev.mu.Lock()
	assert.True(t, dev.closed)
	dev.mu.Unlock()

	select {
	case <-e.Stop().RequestStop():
	case <-time.After(time.Second):
		t.Fatal("stop request after shutdown did not return")
	}
}

func TestCommandsAfterShutdownAreRejected(t *testing.T) {
	dev := newFakeDevice(4)
	e, err := New(dev, staticState(4), Options{})
	require.NoError(t, err)

	require.NoError(t, e.Send(core.Shutdown()))
	late, reply := core.SetBrightness(2).WithReply()
	require.NoError(t, e.Send(late))

	go e.Run(context.Background())
	select {
	case r := <-reply:
		assert.ErrorIs(t, r.Err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("queued command was not answered")
	}
	<-e.Done()
}

func TestContextCancelStopsEngine(t *testing.T) {
	dev := newFakeDevice(4)
	e, err := New(dev, staticState(4), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, Stopped, e.Phase())
}

func TestPhaseEvents(t *testing.T) {
	dev := newFakeDevice(4)
	bus := core.NewEventBus()
	phases := bus.Subscribe(core.PhaseChangedEvent)
	e, err := New(dev, staticState(4), Options{Bus: bus, FrameInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	go e.Run(context.Background())

	call(t, e, core.SetEffect(core.EffectWave))
	call(t, e, core.SaveProfile())
	call(t, e, core.Shutdown())
	<-e.Done()

	var got []string
	for len(phases) > 0 {
		got = append(got, (<-phases).Phase)
	}
	assert.Contains(t, got, "running")
	assert.Equal(t, "stopped", got[len(got)-1])
}
