// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DeviceConfig selects and tunes the lighting hardware backend.
type DeviceConfig struct {
	Backend    string        `yaml:"backend"` // hid, ble, spi or virtual
	WriteRate  float64       `yaml:"write_rate"`
	WriteBurst int           `yaml:"write_burst"`
	HID        HIDConfig     `yaml:"hid"`
	BLE        BLEConfig     `yaml:"ble"`
	SPI        SPIConfig     `yaml:"spi"`
	Virtual    VirtualConfig `yaml:"virtual"`
}

// HIDConfig identifies the keyboard lighting controller.
type HIDConfig struct {
	VendorID   uint16   `yaml:"vendor_id"`
	ProductIDs []uint16 `yaml:"product_ids"`
	UsagePage  uint16   `yaml:"usage_page"`
}

// BLEConfig - Bluetooth Low Energy strip settings
type BLEConfig struct {
	DeviceNames    []string `yaml:"device_names"`
	ScanTimeout    Duration `yaml:"scan_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SPIConfig describes an addressable strip split into zones.
type SPIConfig struct {
	Port    string `yaml:"port"`
	Pixels  int    `yaml:"pixels"`
	Zones   int    `yaml:"zones"`
	FreqKHz int    `yaml:"freq_khz"`
}

// VirtualConfig sizes the in-memory device.
type VirtualConfig struct {
	Zones int `yaml:"zones"`
}

// EngineConfig tunes the effect engine and the stop handshake.
type EngineConfig struct {
	FrameInterval      Duration `yaml:"frame_interval"`
	StopTimeout        Duration `yaml:"stop_timeout"`
	CommandTimeout     Duration `yaml:"command_timeout"`
	ScriptFrameTimeout Duration `yaml:"script_frame_timeout"`
}

// ProfilesConfig selects the profile store.
type ProfilesConfig struct {
	Backend string `yaml:"backend"` // file or sqlite
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"db_path"`
	Default string `yaml:"default"`
}

// ServerConfig - WebSocket/HTTP server settings
type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           string   `yaml:"port"`
	WebFilesDir    string   `yaml:"web_files_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig - MQTT and Home Assistant discovery settings
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // tcp://IP:PORT
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ClientID           string `yaml:"client_id"`
	TopicPrefix        string `yaml:"topic_prefix"`
	HADiscoveryEnabled bool   `yaml:"ha_discovery_enabled"`
	HADiscoveryPrefix  string `yaml:"ha_discovery_prefix"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
	File   string `yaml:"file"` // used by the terminal UI
}

// Config is the root of the configuration file.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Engine   EngineConfig   `yaml:"engine"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`

	// File system settings
	ScriptsDir    string `yaml:"scripts_dir"`
	SchedulesFile string `yaml:"schedules_file"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads the file, expands ${VAR:default} references and applies
// sanitizing, defaults and validation. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) sanitize() {
	c.Device.Backend = strings.ToLower(strings.TrimSpace(c.Device.Backend))
	c.Profiles.Backend = strings.ToLower(strings.TrimSpace(c.Profiles.Backend))
	c.Profiles.Dir = strings.TrimSpace(c.Profiles.Dir)
	c.Profiles.DBPath = strings.TrimSpace(c.Profiles.DBPath)
	c.Profiles.Default = strings.TrimSpace(c.Profiles.Default)
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.ScriptsDir = strings.TrimSpace(c.ScriptsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
	// BLE names are matched exactly; some strips pad them with spaces.
}

func (c *Config) setDefaults() {
	// Device defaults
	if c.Device.Backend == "" {
		c.Device.Backend = "hid"
	}
	if c.Device.WriteRate == 0 {
		c.Device.WriteRate = 60
	}
	if c.Device.WriteBurst <= 0 {
		c.Device.WriteBurst = 4
	}
	if c.Device.HID.VendorID == 0 {
		c.Device.HID.VendorID = 0x048D
	}
	if c.Device.HID.UsagePage == 0 {
		c.Device.HID.UsagePage = 0xFF89
	}
	if len(c.Device.BLE.DeviceNames) == 0 {
		c.Device.BLE.DeviceNames = []string{"ELK-BLEDOM   ", "BLEDOM"}
	}
	if c.Device.BLE.ScanTimeout == 0 {
		c.Device.BLE.ScanTimeout = Duration(30 * time.Second)
	}
	if c.Device.BLE.ConnectTimeout == 0 {
		c.Device.BLE.ConnectTimeout = Duration(7 * time.Second)
	}
	if c.Device.SPI.Pixels == 0 {
		c.Device.SPI.Pixels = 60
	}
	if c.Device.SPI.Zones == 0 {
		c.Device.SPI.Zones = 4
	}
	if c.Device.Virtual.Zones == 0 {
		c.Device.Virtual.Zones = 4
	}

	// Engine defaults
	if c.Engine.FrameInterval == 0 {
		c.Engine.FrameInterval = Duration(200 * time.Millisecond)
	}
	if c.Engine.StopTimeout == 0 {
		c.Engine.StopTimeout = Duration(2 * time.Second)
	}
	if c.Engine.CommandTimeout == 0 {
		c.Engine.CommandTimeout = Duration(5 * time.Second)
	}
	if c.Engine.ScriptFrameTimeout == 0 {
		c.Engine.ScriptFrameTimeout = Duration(50 * time.Millisecond)
	}

	// Profile defaults
	if c.Profiles.Backend == "" {
		c.Profiles.Backend = "file"
	}
	if c.Profiles.Dir == "" {
		c.Profiles.Dir = "profiles"
	}
	if c.Profiles.DBPath == "" {
		c.Profiles.DBPath = "./kbrgb.sqlite"
	}
	if c.Profiles.Default == "" {
		c.Profiles.Default = "default"
	}

	// Server defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// MQTT defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "kbrgb-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "kbrgb"
	}
	if c.MQTT.HADiscoveryPrefix == "" {
		c.MQTT.HADiscoveryPrefix = "homeassistant"
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "kbrgb.log"
	}

	// File defaults
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
}

func (c *Config) validate() error {
	switch c.Device.Backend {
	case "hid", "ble", "spi", "virtual":
	default:
		return fmt.Errorf("config error: unknown device backend %q", c.Device.Backend)
	}
	if c.Device.WriteRate < 0 {
		return fmt.Errorf("config error: 'write_rate' must not be negative")
	}
	if c.Device.SPI.Zones < 1 || c.Device.SPI.Pixels < c.Device.SPI.Zones {
		return fmt.Errorf("config error: spi strip needs at least one pixel per zone")
	}
	if c.Device.Virtual.Zones < 1 {
		return fmt.Errorf("config error: virtual device needs at least one zone")
	}
	switch c.Profiles.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config error: unknown profile backend %q", c.Profiles.Backend)
	}
	for name, d := range map[string]Duration{
		"frame_interval":       c.Engine.FrameInterval,
		"stop_timeout":         c.Engine.StopTimeout,
		"command_timeout":      c.Engine.CommandTimeout,
		"script_frame_timeout": c.Engine.ScriptFrameTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", name)
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(match string) string {
		parts := envRef.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
}
