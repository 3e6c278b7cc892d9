// Package mqtt is the MQTT front-end with Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/config"
	"kbrgb-controller/internal/core"
)

// Controller is what MQTT messages act on.
type Controller interface {
	core.CommandChannel
	SetEffect(ctx context.Context, kind core.EffectKind, dir core.Direction, script string) error
	SaveProfile(ctx context.Context, name string) error
	LoadProfile(ctx context.Context, name string, overwrite bool) error
}

// Client bridges MQTT topics to the controller.
type Client struct {
	client     mqtt.Client
	cfg        config.MQTTConfig
	controller Controller
	caps       core.Capabilities
	prefix     string
	logger     zerolog.Logger
}

// NewClient creates a client with automatic reconnects. It returns nil when MQTT is disabled.
func NewClient(cfg config.MQTTConfig, ctrl Controller, caps core.Capabilities) *Client {
	if !cfg.Enabled {
		return nil
	}

	c := newClient(cfg, ctrl, caps)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	// Keep retrying at startup so a broker that boots later is picked up.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetOrderMatters(false)

	opts.SetWill(c.prefix+"/availability", "offline", 1, true)

	opts.SetOnConnectHandler(c.onConnect)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("Connection lost. Retrying in background...")
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logger.Info().Msg("Attempting to reconnect...")
	})

	c.client = mqtt.NewClient(opts)

	return c
}

func newClient(cfg config.MQTTConfig, ctrl Controller, caps core.Capabilities) *Client {
	return &Client{
		cfg:        cfg,
		controller: ctrl,
		caps:       caps,
		prefix:     strings.TrimSuffix(cfg.TopicPrefix, "/"),
		logger:     log.With().Str("component", "mqtt").Logger(),
	}
}

// Connect starts the connection loop and waits for the first handshake.
func (c *Client) Connect() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.logger.Info().Str("broker", c.cfg.Broker).Msg("Starting connection loop")

	token := c.client.Connect()
	// With ConnectRetry an error here means a configuration problem, not an unreachable broker.
	if token.Wait() && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Initial connection error")
		return token.Error()
	}

	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	if c == nil || c.client == nil || !c.client.IsConnected() {
		return
	}
	c.logger.Info().Msg("Disconnecting...")

	token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")
	if token.WaitTimeout(2 * time.Second) {
		if token.Error() != nil {
			c.logger.Warn().Err(token.Error()).Msg("Failed to publish offline status")
		}
	} else {
		c.logger.Warn().Msg("Timed out publishing offline status")
	}

	c.client.Disconnect(250)
	c.logger.Info().Msg("Disconnected.")
}

// Publish sends a message below the topic prefix without blocking the caller.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c == nil || c.client == nil || !c.client.IsConnected() {
		return
	}

	topic := fmt.Sprintf("%s/%s", c.prefix, subtopic)
	msg := fmt.Sprintf("%v", payload)

	token := c.client.Publish(topic, 0, retained, msg)

	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("Publish error")
			}
		} else {
			c.logger.Warn().Str("topic", topic).Msg("Timeout publishing")
		}
	}()
}

// PublishState publishes the retained state topics.
func (c *Client) PublishState(s core.EngineState) {
	for sub, payload := range stateTopics(s) {
		c.Publish(sub, payload, true)
	}
}

// PublishPhase publishes the engine phase.
func (c *Client) PublishPhase(phase string) {
	c.Publish("phase/state", phase, true)
}

func stateTopics(s core.EngineState) map[string]string {
	topics := map[string]string{
		"brightness/state": strconv.Itoa(s.Brightness),
		"speed/state":      strconv.Itoa(s.Speed),
		"effect/state":     string(s.Effect),
		"power/state":      "OFF",
	}
	if len(s.Zones) > 0 {
		z := s.Zones[0]
		topics["color/state"] = fmt.Sprintf("%d,%d,%d", z.R, z.G, z.B)
	}
	for _, z := range s.Zones {
		if z != core.Black {
			topics["power/state"] = "ON"
			break
		}
	}
	return topics
}

// onConnect is called by paho on its own goroutine.
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("Connected to broker.")

	for _, sub := range subscriptions {
		topic := fmt.Sprintf("%s/%s", c.prefix, sub)
		sub := sub
		handler := func(_ mqtt.Client, msg mqtt.Message) {
			if err := c.route(sub, string(msg.Payload())); err != nil {
				c.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Rejected message")
			}
		}
		if token := client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Error subscribing")
		} else {
			c.logger.Debug().Str("topic", topic).Msg("Subscribed")
		}
	}

	// Discovery sleeps, so it must not hold up the paho callback.
	go func() {
		c.Publish("availability", "online", true)
		if c.cfg.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}

var subscriptions = []string{
	"power/set",
	"brightness/set",
	"speed/set",
	"effect/set",
	"color/set",
	"profile/save",
	"profile/load",
}

// route applies one message received on a subscribed subtopic.
func (c *Client) route(sub, payload string) error {
	payload = strings.TrimSpace(payload)
	ctx := context.Background()

	switch sub {
	case "power/set":
		switch strings.ToLower(payload) {
		case "on", "true", "1":
			return c.controller.LoadProfile(ctx, "default", false)
		case "off", "false", "0":
			if err := c.controller.SetEffect(ctx, core.EffectStatic, "", ""); err != nil {
				return err
			}
			return c.controller.Send(core.SetColor(core.AllZones, core.Black))
		}
		return fmt.Errorf("%w: power %q", core.ErrInvalidCommand, payload)

	case "brightness/set", "speed/set":
		val, err := strconv.Atoi(payload)
		if err != nil {
			return fmt.Errorf("%w: %s %q", core.ErrInvalidCommand, sub, payload)
		}
		if sub == "speed/set" {
			return c.controller.Send(core.SetSpeed(val))
		}
		return c.controller.Send(core.SetBrightness(val))

	case "effect/set":
		cmd, err := core.ParseCommand(append([]string{"effect"}, strings.Fields(payload)...))
		if err != nil {
			return err
		}
		return c.controller.SetEffect(ctx, cmd.Effect, cmd.Direction, cmd.Script)

	case "color/set":
		color, err := core.ParseRGB(payload)
		if err != nil {
			return err
		}
		return c.controller.Send(core.SetColor(core.AllZones, color))

	case "profile/save":
		return c.controller.SaveProfile(ctx, payload)

	case "profile/load":
		return c.controller.LoadProfile(ctx, payload, false)
	}
	return fmt.Errorf("%w: unknown topic %q", core.ErrInvalidCommand, sub)
}

// PublishHADiscovery sends the Home Assistant light configuration.
func (c *Client) PublishHADiscovery() {
	// Give the subscriptions a moment to settle.
	time.Sleep(1 * time.Second)

	topic, payload := c.discovery()
	jsonPayload, _ := json.Marshal(payload)
	c.client.Publish(topic, 0, true, jsonPayload)
	c.logger.Info().Str("topic", topic).Msg("HA Discovery sent")
}

func (c *Client) discovery() (string, map[string]interface{}) {
	safeID := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		if r == ' ' {
			return '_'
		}
		return -1
	}, c.cfg.ClientID)

	effects := make([]string, len(c.caps.Effects))
	for i, e := range c.caps.Effects {
		effects[i] = string(e)
	}

	topic := fmt.Sprintf("%s/light/%s/light/config", c.cfg.HADiscoveryPrefix, safeID)
	payload := map[string]interface{}{
		"name":      "Keyboard",
		"unique_id": safeID + "_keyboard",
		"object_id": safeID,
		"icon":      "mdi:keyboard",

		"command_topic": fmt.Sprintf("%s/power/set", c.prefix),
		"state_topic":   fmt.Sprintf("%s/power/state", c.prefix),

		"brightness_command_topic": fmt.Sprintf("%s/brightness/set", c.prefix),
		"brightness_state_topic":   fmt.Sprintf("%s/brightness/state", c.prefix),
		"brightness_scale":         c.caps.Brightness.Max,

		"rgb_command_topic": fmt.Sprintf("%s/color/set", c.prefix),
		"rgb_state_topic":   fmt.Sprintf("%s/color/state", c.prefix),

		"effect_command_topic": fmt.Sprintf("%s/effect/set", c.prefix),
		"effect_state_topic":   fmt.Sprintf("%s/effect/state", c.prefix),
		"effect_list":          effects,

		"availability_topic":    fmt.Sprintf("%s/availability", c.prefix),
		"payload_available":     "online",
		"payload_not_available": "offline",

		"device": map[string]interface{}{
			"identifiers": []string{safeID},
			"name":        "Keyboard RGB Controller",
			"model":       "kbrgb",
		},
	}
	return topic, payload
}
