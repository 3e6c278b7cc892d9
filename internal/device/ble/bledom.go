// Package ble exposes an ELK-BLEDOM style Bluetooth LED strip as a single-zone device.
package ble

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
)

var (
	adapter = bluetooth.DefaultAdapter

	defaultServiceUUIDStr        = "0000fff0-0000-1000-8000-00805f9b34fb"
	defaultCharacteristicUUIDStr = "0000fff3-0000-1000-8000-00805f9b34fb"
)

// Config controls discovery of the strip.
type Config struct {
	DeviceNames    []string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// Strip is a connected BLE strip.
type Strip struct {
	mu             sync.Mutex
	device         bluetooth.Device
	characteristic bluetooth.DeviceCharacteristic
	name           string
	closed         bool

	lastBrightness int
	lastColor      core.RGB
	primed         bool
}

// Open scans for the strip, connects and discovers the write characteristic.
// It does not retry: failing to reach the strip at startup is fatal.
func Open(ctx context.Context, cfg Config) (*Strip, error) {
	serviceUUID, _ := bluetooth.ParseUUID(defaultServiceUUIDStr)
	characteristicUUID, _ := bluetooth.ParseUUID(defaultCharacteristicUUIDStr)

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter: %v", device.ErrUnavailable, err)
	}

	logger := log.With().Str("component", "device").Logger()
	logger.Info().Strs("names", cfg.DeviceNames).Msg("Scanning for BLE strip...")

	ch := make(chan bluetooth.ScanResult, 1)
	go func() {
		err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if slices.Contains(cfg.DeviceNames, result.LocalName()) {
				adapter.StopScan()
				select {
				case ch <- result:
				default:
				}
			}
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Scan error")
		}
	}()

	var found bluetooth.ScanResult
	scanCtx, cancelScan := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancelScan()
	select {
	case found = <-ch:
		logger.Info().Str("name", found.LocalName()).Int16("rssi", found.RSSI).Msg("Found device")
	case <-scanCtx.Done():
		adapter.StopScan()
		return nil, fmt.Errorf("%w: no strip found within %s", device.ErrUnavailable, cfg.ScanTimeout)
	}

	// Connect can hang inside BlueZ, so it runs behind its own timeout.
	type connected struct {
		dev bluetooth.Device
		err error
	}
	connCh := make(chan connected, 1)
	go func() {
		d, err := adapter.Connect(found.Address, bluetooth.ConnectionParams{})
		connCh <- connected{d, err}
	}()

	var dev bluetooth.Device
	select {
	case res := <-connCh:
		if res.err != nil {
			return nil, fmt.Errorf("%w: connect: %v", device.ErrUnavailable, res.err)
		}
		dev = res.dev
	case <-time.After(cfg.ConnectTimeout):
		return nil, fmt.Errorf("%w: connect timed out after %s", device.ErrUnavailable, cfg.ConnectTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", device.ErrUnavailable, ctx.Err())
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: service discovery: %v", device.ErrUnavailable, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil || len(chars) == 0 {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: characteristic discovery: %v", device.ErrUnavailable, err)
	}

	if _, err := chars[0].WriteWithoutResponse(PowerPacket(true)); err != nil {
		_ = dev.Disconnect()
		return nil, fmt.Errorf("%w: power on: %v", device.ErrUnavailable, err)
	}

	logger.Info().Str("name", found.LocalName()).Msg("BLE strip is ready")
	return &Strip{device: dev, characteristic: chars[0], name: found.LocalName()}, nil
}

// WriteFrame sends the zone color and, when it changed, the brightness.
func (s *Strip) WriteFrame(_ context.Context, f device.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", device.ErrWrite, device.ErrClosed)
	}

	color := core.Black
	if len(f.Colors) > 0 {
		color = f.Colors[0]
	}
	for _, payload := range s.encode(color, f.Brightness) {
		if _, err := s.characteristic.WriteWithoutResponse(payload); err != nil {
			return fmt.Errorf("%w: %s: %v", device.ErrWrite, s.name, err)
		}
	}
	s.lastColor, s.lastBrightness, s.primed = color, f.Brightness, true
	return nil
}

// encode returns the packets needed to move the strip to the given color and level.
func (s *Strip) encode(color core.RGB, brightness int) [][]byte {
	var out [][]byte
	if !s.primed || color != s.lastColor {
		out = append(out, ColorPacket(color))
	}
	if !s.primed || brightness != s.lastBrightness {
		out = append(out, BrightnessPacket(brightness))
	}
	return out
}

// Layout is a single zone.
func (s *Strip) Layout() device.Layout { return device.LinearLayout(1, "strip") }

// Capabilities: brightness is in tenths of full output.
func (s *Strip) Capabilities() core.Capabilities {
	return core.Capabilities{
		Effects:    core.AllEffects,
		Brightness: core.Range{Min: 1, Max: 10},
		Speed:      core.Range{Min: 1, Max: 4},
	}
}

// Close disconnects from the strip.
func (s *Strip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.device.Disconnect()
}
