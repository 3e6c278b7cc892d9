// Package hid drives the four-zone RGB controller found in Lenovo Legion laptops
// through HID feature reports.
package hid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	hidapi "github.com/sstallion/go-hid"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
)

const (
	DefaultVendorID  uint16 = 0x048D
	DefaultUsagePage uint16 = 0xFF89

	reportLen  = 33
	zoneCount  = 4
	modeStatic = 0x01
)

// DefaultProductIDs are the keyboard controllers known to speak this report format.
var DefaultProductIDs = []uint16{
	0xC993, 0xC994, 0xC985, 0xC984, 0xC983, 0xC975, 0xC973, 0xC965, 0xC963, 0xC955,
}

var zoneNames = []string{"left", "center-left", "center-right", "right"}

// Config selects which controller to open.
type Config struct {
	VendorID   uint16
	ProductIDs []uint16
	UsagePage  uint16
}

// Keyboard is an open Legion keyboard controller.
type Keyboard struct {
	mu     sync.Mutex
	dev    *hidapi.Device
	path   string
	closed bool
}

// Open finds the first matching controller and opens it. Any failure wraps device.ErrUnavailable.
func Open(cfg Config) (*Keyboard, error) {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultVendorID
	}
	if len(cfg.ProductIDs) == 0 {
		cfg.ProductIDs = DefaultProductIDs
	}
	if cfg.UsagePage == 0 {
		cfg.UsagePage = DefaultUsagePage
	}

	if err := hidapi.Init(); err != nil {
		return nil, fmt.Errorf("%w: hid init: %v", device.ErrUnavailable, err)
	}

	var path string
	errFound := errors.New("found")
	err := hidapi.Enumerate(cfg.VendorID, hidapi.ProductIDAny, func(info *hidapi.DeviceInfo) error {
		if !slices.Contains(cfg.ProductIDs, info.ProductID) || info.UsagePage != cfg.UsagePage {
			return nil
		}
		path = info.Path
		log.Debug().Str("component", "device").Str("path", info.Path).
			Str("product", info.ProductStr).Msgf("Found keyboard controller %04x:%04x", info.VendorID, info.ProductID)
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		_ = hidapi.Exit()
		return nil, fmt.Errorf("%w: enumerate: %v", device.ErrUnavailable, err)
	}
	if path == "" {
		_ = hidapi.Exit()
		return nil, fmt.Errorf("%w: no keyboard controller with vendor %04x", device.ErrUnavailable, cfg.VendorID)
	}

	d, err := hidapi.OpenPath(path)
	if err != nil {
		_ = hidapi.Exit()
		return nil, fmt.Errorf("%w: open %s: %v", device.ErrUnavailable, path, err)
	}
	log.Info().Str("component", "device").Str("path", path).Msg("Keyboard controller opened")
	return &Keyboard{dev: d, path: path}, nil
}

// WriteFrame sends the frame as a static-mode feature report.
func (k *Keyboard) WriteFrame(_ context.Context, f device.Frame) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("%w: %w", device.ErrWrite, device.ErrClosed)
	}
	report := EncodeFrame(f)
	if _, err := k.dev.SendFeatureReport(report[:]); err != nil {
		return fmt.Errorf("%w: %s: %v", device.ErrWrite, k.path, err)
	}
	return nil
}

// Layout returns the four keyboard zones.
func (k *Keyboard) Layout() device.Layout {
	return device.LinearLayout(zoneCount, zoneNames...)
}

// Capabilities reports the controller's brightness and speed ranges.
// All animations are computed on the host, so every effect is available.
func (k *Keyboard) Capabilities() core.Capabilities {
	return core.Capabilities{
		Effects:    core.AllEffects,
		Brightness: core.Range{Min: 1, Max: 2},
		Speed:      core.Range{Min: 1, Max: 4},
	}
}

// Close releases the HID handle.
func (k *Keyboard) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	err := k.dev.Close()
	if exitErr := hidapi.Exit(); err == nil {
		err = exitErr
	}
	return err
}

// EncodeFrame builds the 33-byte feature report:
//
//	[0]=0xCC [1]=0x16 [2]=mode [3]=speed [4]=brightness [5:17]=4x RGB, rest zero.
func EncodeFrame(f device.Frame) [reportLen]byte {
	var r [reportLen]byte
	r[0] = 0xCC
	r[1] = 0x16
	r[2] = modeStatic
	r[3] = 1
	r[4] = byte(min(max(f.Brightness, 1), 2))
	for i := 0; i < zoneCount && i < len(f.Colors); i++ {
		c := f.Colors[i]
		r[5+i*3] = c.R
		r[6+i*3] = c.G
		r[7+i*3] = c.B
	}
	return r
}
