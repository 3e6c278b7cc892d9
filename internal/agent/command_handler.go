package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/server"
)

// CommandHandler turns WebSocket client messages into agent calls.
type CommandHandler struct {
	agent  *Agent
	logger zerolog.Logger
}

func NewCommandHandler(a *Agent) *CommandHandler {
	return &CommandHandler{
		agent:  a,
		logger: log.With().Str("component", "ws-handler").Logger(),
	}
}

type levelPayload struct {
	Value int `json:"value"`
}

type effectPayload struct {
	Effect    string `json:"effect"`
	Direction string `json:"direction"`
	Script    string `json:"script"`
}

type colorPayload struct {
	Zone  *int   `json:"zone"`
	Color string `json:"color"`
}

type zonePayload struct {
	Zone int `json:"zone"`
}

type profilePayload struct {
	Name      string `json:"name"`
	Overwrite bool   `json:"overwrite"`
}

type schedulePayload struct {
	ID      int    `json:"id"`
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

type scriptPayload struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func (h *CommandHandler) Handle(msg server.Message, hub *server.Hub) {
	var cmd server.Command
	if err := json.Unmarshal(msg.Raw, &cmd); err != nil {
		h.logger.Warn().Err(err).Msg("Error unmarshalling command")
		hub.Broadcast(server.ErrorMessage(fmt.Errorf("%w: %v", core.ErrInvalidCommand, err)))
		return
	}

	if err := h.dispatch(context.Background(), cmd, hub); err != nil {
		h.logger.Warn().Err(err).Str("type", cmd.Type).Msg("Command failed")
		hub.Broadcast(server.ErrorMessage(err))
	}
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd server.Command, hub *server.Hub) error {
	a := h.agent

	switch cmd.Type {
	case "setBrightness", "setSpeed":
		var p levelPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		if cmd.Type == "setSpeed" {
			return a.Send(core.SetSpeed(p.Value))
		}
		return a.Send(core.SetBrightness(p.Value))

	case "setEffect":
		var p effectPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		kind, err := core.ParseEffect(p.Effect)
		if err != nil {
			return err
		}
		var dir core.Direction
		if p.Direction != "" {
			if dir, err = core.ParseDirection(p.Direction); err != nil {
				return err
			}
		}
		return a.SetEffect(ctx, kind, dir, p.Script)

	case "stopEffect":
		return a.StopAnimation(ctx)

	case "setColor":
		var p colorPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		color, err := core.ParseRGB(p.Color)
		if err != nil {
			return err
		}
		zone := core.AllZones
		if p.Zone != nil {
			zone = *p.Zone
		}
		return a.Send(core.SetColor(zone, color))

	case "keyPress":
		var p zonePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return a.Send(core.KeyPress(p.Zone))

	case "saveProfile":
		var p profilePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return a.SaveProfile(ctx, p.Name)

	case "loadProfile":
		var p profilePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return a.LoadProfile(ctx, p.Name, p.Overwrite)

	case "deleteProfile":
		var p profilePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		return a.DeleteProfile(p.Name)

	case "addSchedule":
		var p schedulePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		if err := a.AddSchedule(p.Spec, p.Command); err != nil {
			return err
		}
		hub.Broadcast(server.NewMessage("schedule_list", a.Schedules()))

	case "removeSchedule":
		var p schedulePayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		if err := a.RemoveSchedule(p.ID); err != nil {
			return err
		}
		hub.Broadcast(server.NewMessage("schedule_list", a.Schedules()))

	case "getScriptCode":
		var p scriptPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		code, err := a.ScriptCode(p.Name)
		if err != nil {
			return err
		}
		hub.Broadcast(server.NewMessage("script_code", map[string]string{"name": p.Name, "code": code}))

	case "saveScriptCode", "deleteScript":
		var p scriptPayload
		if err := decode(cmd, &p); err != nil {
			return err
		}
		var err error
		if cmd.Type == "deleteScript" {
			err = a.DeleteScript(p.Name)
		} else {
			err = a.SaveScript(p.Name, p.Code)
		}
		if err != nil {
			return err
		}
		names, err := a.ListScripts()
		if err != nil {
			return err
		}
		hub.Broadcast(server.NewMessage("script_list", names))

	default:
		return fmt.Errorf("%w: unknown command type %q", core.ErrInvalidCommand, cmd.Type)
	}
	return nil
}

func decode(cmd server.Command, v interface{}) error {
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", core.ErrInvalidCommand, cmd.Type)
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", core.ErrInvalidCommand, cmd.Type, err)
	}
	return nil
}
