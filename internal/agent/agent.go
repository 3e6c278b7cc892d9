// Package agent assembles the controller: it opens the device, runs the effect
// engine and connects the front-ends to it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/config"
	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
	"kbrgb-controller/internal/engine"
	"kbrgb-controller/internal/mqtt"
	"kbrgb-controller/internal/profile"
	"kbrgb-controller/internal/scheduler"
	"kbrgb-controller/internal/script"
	"kbrgb-controller/internal/server"
)

// Option customizes Open.
type Option func(*Agent)

// WithDevice uses dev instead of opening the configured backend.
func WithDevice(dev device.Device) Option {
	return func(a *Agent) { a.dev = dev }
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup
	logger zerolog.Logger

	dev      device.Device
	view     *core.StateView
	eventBus *core.EventBus
	events   core.Subscriber
	engine   *engine.Engine

	store      profile.Store
	scripts    *script.Runner
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client

	serveOnce    sync.Once
	shutdownOnce sync.Once
}

var watchedEvents = []core.EventType{
	core.StateChangedEvent,
	core.PhaseChangedEvent,
	core.ErrorEvent,
	core.ProfileSavedEvent,
	core.ProfileLoadedEvent,
	core.DeviceConnectedEvent,
}

// Open connects to the device, restores the default profile and starts the
// effect engine. Front-ends start with Serve.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	ctx, cancel := context.WithCancel(ctx)

	a := &Agent{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		logger:   log.With().Str("component", "agent").Logger(),
		view:     core.NewStateView(),
		eventBus: core.NewEventBus(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.dev == nil {
		dev, err := openDevice(ctx, cfg.Device)
		if err != nil {
			cancel()
			return nil, err
		}
		a.dev = dev
	}

	store, err := profile.Open(cfg.Profiles.Backend, cfg.Profiles.Dir, cfg.Profiles.DBPath)
	if err != nil {
		a.dev.Close()
		cancel()
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a.store = store

	a.scripts = script.NewRunner(cfg.ScriptsDir)

	eng, err := engine.New(a.dev, a.startupState(), engine.Options{
		FrameInterval: cfg.Engine.FrameInterval.Duration(),
		ScriptTimeout: cfg.Engine.ScriptFrameTimeout.Duration(),
		Bus:           a.eventBus,
		Script:        a.scripts,
	})
	if err != nil {
		a.store.Close()
		a.dev.Close()
		cancel()
		return nil, err
	}
	a.engine = eng

	a.scheduler = scheduler.NewScheduler(a, cfg.SchedulesFile)

	if cfg.Server.Enabled {
		a.server = server.NewServer(cfg.Server.Port, cfg.Server.WebFilesDir, cfg.Server.AllowedOrigins, a.initialMessages)
		a.server.SetHandler(NewCommandHandler(a))
	}

	a.mqttClient = mqtt.NewClient(cfg.MQTT, a, eng.Capabilities())

	// Subscribe before the engine publishes its first state.
	a.events = a.eventBus.Subscribe(watchedEvents...)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.listenEvents()
	}()
	go func() {
		defer a.wg.Done()
		a.engine.Run(a.ctx)
	}()

	a.eventBus.Publish(core.Event{Type: core.DeviceConnectedEvent})
	return a, nil
}

// startupState is the default profile, or the built-in defaults when it is missing or unreadable.
func (a *Agent) startupState() core.EngineState {
	caps, zones := a.dev.Capabilities(), a.dev.Layout().Len()

	state, err := a.store.Load(a.config.Profiles.Default)
	switch {
	case err == nil:
		a.logger.Info().Str("profile", a.config.Profiles.Default).Msg("Restoring default profile")
		return state
	case errors.Is(err, profile.ErrNotFound):
		a.logger.Debug().Str("profile", a.config.Profiles.Default).Msg("No default profile yet")
	default:
		a.logger.Warn().Err(err).Msg("Default profile unreadable, using built-in defaults")
	}
	return core.DefaultState(caps, zones)
}

// Serve starts the scheduler, MQTT and the HTTP server. It does not block.
func (a *Agent) Serve() {
	a.serveOnce.Do(func() {
		a.scheduler.Start()

		if a.mqttClient != nil {
			go func() {
				if err := a.mqttClient.Connect(); err != nil {
					a.logger.Error().Err(err).Msg("MQTT setup error")
				}
			}()
		}

		if a.server != nil {
			a.logger.Info().Msgf("Agent running on http://localhost:%s", a.config.Server.Port)
			go func() {
				if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error().Err(err).Msg("Server error")
				}
			}()
		}
	})
}

func (a *Agent) listenEvents() {
	defer a.eventBus.Unsubscribe(a.events, watchedEvents...)

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-a.events:
			a.handleEvent(event)
		}
	}
}

func (a *Agent) handleEvent(event core.Event) {
	switch event.Type {
	case core.StateChangedEvent:
		if event.State == nil {
			return
		}
		a.view.SetState(*event.State)
		a.broadcast(server.NewMessage("state", event.State))
		a.mqttClient.PublishState(*event.State)

	case core.PhaseChangedEvent:
		a.view.SetPhase(event.Phase)
		a.broadcast(server.NewMessage("phase", event.Phase))
		a.mqttClient.PublishPhase(event.Phase)

	case core.ErrorEvent:
		if event.Err == nil {
			return
		}
		a.view.SetError(event.Err.Error())
		a.broadcast(server.ErrorMessage(event.Err))

	case core.ProfileSavedEvent, core.ProfileLoadedEvent:
		a.logger.Info().Str("event", string(event.Type)).Str("profile", event.Profile).Msg("Profile event")
		if names, err := a.store.List(); err == nil {
			a.broadcast(server.NewMessage("profile_list", names))
		}

	case core.DeviceConnectedEvent:
		a.logger.Info().Int("zones", a.engine.Layout().Len()).Msg("Device ready")
	}
}

func (a *Agent) broadcast(msg server.Message) {
	if a.server == nil {
		return
	}
	a.server.Hub.Broadcast(msg)
}

// initialMessages is sent to every WebSocket client when it connects.
func (a *Agent) initialMessages() []server.Message {
	snap := a.view.Snapshot()
	msgs := []server.Message{
		server.NewMessage("device", map[string]interface{}{
			"layout":       a.engine.Layout(),
			"capabilities": a.engine.Capabilities(),
		}),
		server.NewMessage("state", snap.State),
		server.NewMessage("phase", snap.Phase),
		server.NewMessage("schedule_list", a.scheduler.GetAll()),
	}
	if names, err := a.store.List(); err == nil {
		msgs = append(msgs, server.NewMessage("profile_list", names))
	}
	if names, err := a.scripts.List(); err == nil {
		msgs = append(msgs, server.NewMessage("script_list", names))
	}
	return msgs
}

// Send enqueues a command without waiting for it. Commands sent after the
// engine terminated are dropped.
func (a *Agent) Send(cmd core.Command) error {
	err := a.engine.Send(cmd)
	if errors.Is(err, engine.ErrChannelClosed) {
		a.logger.Debug().Str("type", string(cmd.Type)).Msg("Command dropped after shutdown")
		return nil
	}
	return err
}

// Call sends a command and waits for the engine's reply.
func (a *Agent) Call(ctx context.Context, cmd core.Command) (core.EngineState, error) {
	cmd, reply := cmd.WithReply()
	if err := a.engine.Send(cmd); err != nil {
		return core.EngineState{}, err
	}

	timeout := a.config.Engine.CommandTimeout.Duration()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.State, r.Err
	case <-timer.C:
		return core.EngineState{}, fmt.Errorf("%w: no reply to %s within %s", engine.ErrEngineUnresponsive, cmd.Type, timeout)
	case <-ctx.Done():
		return core.EngineState{}, ctx.Err()
	}
}

// StopAnimation halts a running effect and waits until the engine is idle.
func (a *Agent) StopAnimation(ctx context.Context) error {
	ack := a.engine.Stop().RequestStop()
	return engine.AwaitAck(ctx, ack, a.config.Engine.StopTimeout.Duration())
}

// SetEffect stops the current animation and starts a new effect.
func (a *Agent) SetEffect(ctx context.Context, kind core.EffectKind, dir core.Direction, script string) error {
	if err := a.StopAnimation(ctx); err != nil {
		return err
	}
	_, err := a.Call(ctx, core.SetEffectWith(kind, dir, script))
	return err
}

// SaveProfile halts the animation and stores a consistent snapshot under name.
func (a *Agent) SaveProfile(ctx context.Context, name string) error {
	name, err := profile.ValidateName(name)
	if err != nil {
		return err
	}
	if err := a.StopAnimation(ctx); err != nil {
		return err
	}
	state, err := a.Call(ctx, core.SaveProfile())
	if err != nil {
		return err
	}
	if err := a.store.Save(name, state); err != nil {
		return err
	}
	a.eventBus.Publish(core.Event{Type: core.ProfileSavedEvent, Profile: name, State: &state})
	return nil
}

// LoadProfile applies a stored profile. With overwrite it also becomes the
// profile restored at startup.
func (a *Agent) LoadProfile(ctx context.Context, name string, overwrite bool) error {
	name, err := profile.ValidateName(name)
	if err != nil {
		return err
	}
	stored, err := a.store.Load(name)
	if err != nil {
		return err
	}
	if err := a.StopAnimation(ctx); err != nil {
		return err
	}
	applied, err := a.Call(ctx, core.LoadProfile(stored, overwrite))
	if err != nil {
		return err
	}
	if overwrite && name != a.config.Profiles.Default {
		if err := a.store.Save(a.config.Profiles.Default, applied); err != nil {
			return fmt.Errorf("overwrite default profile: %w", err)
		}
	}
	a.eventBus.Publish(core.Event{Type: core.ProfileLoadedEvent, Profile: name, State: &applied})
	return nil
}

// ListProfiles returns the stored profile names.
func (a *Agent) ListProfiles() ([]string, error) {
	return a.store.List()
}

// DeleteProfile removes a stored profile.
func (a *Agent) DeleteProfile(name string) error {
	name, err := profile.ValidateName(name)
	if err != nil {
		return err
	}
	if err := a.store.Delete(name); err != nil {
		return err
	}
	a.eventBus.Publish(core.Event{Type: core.ProfileSavedEvent, Profile: name})
	return nil
}

func (a *Agent) ListScripts() ([]string, error)         { return a.scripts.List() }
func (a *Agent) ScriptCode(name string) (string, error) { return a.scripts.Code(name) }
func (a *Agent) SaveScript(name, code string) error     { return a.scripts.Save(name, code) }
func (a *Agent) DeleteScript(name string) error         { return a.scripts.Delete(name) }

// AddSchedule registers a cron job running a text command.
func (a *Agent) AddSchedule(spec, command string) error {
	_, err := a.scheduler.Add(spec, command)
	return err
}

// RemoveSchedule deletes a cron job.
func (a *Agent) RemoveSchedule(id int) error {
	return a.scheduler.Remove(id)
}

// Schedules returns the configured cron jobs.
func (a *Agent) Schedules() map[string]scheduler.ScheduleEntry {
	all := a.scheduler.GetAll()
	out := make(map[string]scheduler.ScheduleEntry, len(all))
	for id, entry := range all {
		out[fmt.Sprint(int(id))] = entry
	}
	return out
}

// State returns the last status the engine published.
func (a *Agent) State() core.Snapshot { return a.view.Snapshot() }

// Layout returns the device zone layout.
func (a *Agent) Layout() device.Layout { return a.engine.Layout() }

// Capabilities returns what the device supports.
func (a *Agent) Capabilities() core.Capabilities { return a.engine.Capabilities() }

// Events subscribes to engine status events. Callers must drain the channel.
func (a *Agent) Events(types ...core.EventType) core.Subscriber {
	return a.eventBus.Subscribe(types...)
}

// Done is closed when the engine has terminated.
func (a *Agent) Done() <-chan struct{} { return a.engine.Done() }

// Shutdown stops the front-ends and the engine and releases the device.
func (a *Agent) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *Agent) shutdown() {
	a.scheduler.Stop()

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
		cancel()
	}
	a.mqttClient.Disconnect()

	timeout := a.config.Engine.StopTimeout.Duration()
	if err := a.StopAnimation(context.Background()); err != nil {
		a.logger.Warn().Err(err).Msg("Engine did not acknowledge stop")
	}
	if err := a.engine.Send(core.Shutdown()); err != nil && !errors.Is(err, engine.ErrChannelClosed) {
		a.logger.Warn().Err(err).Msg("Shutdown command not delivered")
	}

	select {
	case <-a.engine.Done():
	case <-time.After(timeout):
		a.logger.Warn().Dur("timeout", timeout).Msg("Engine did not terminate, cancelling")
	}

	a.cancel()
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Closing profile store")
	}
	a.logger.Info().Msg("Agent stopped.")
}
