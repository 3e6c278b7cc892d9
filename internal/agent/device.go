package agent

import (
	"context"
	"fmt"

	"kbrgb-controller/internal/config"
	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
	"kbrgb-controller/internal/device/ble"
	"kbrgb-controller/internal/device/hid"
	"kbrgb-controller/internal/device/spi"
)

// VirtualCapabilities are advertised by the in-memory device.
var VirtualCapabilities = core.Capabilities{
	Effects:    core.AllEffects,
	Brightness: core.Range{Min: 1, Max: 10},
	Speed:      core.Range{Min: 1, Max: 4},
}

// openDevice opens the configured backend and applies the write limiter.
func openDevice(ctx context.Context, cfg config.DeviceConfig) (device.Device, error) {
	var (
		dev device.Device
		err error
	)

	switch cfg.Backend {
	case "hid":
		var kb *hid.Keyboard
		kb, err = hid.Open(hid.Config{
			VendorID:   cfg.HID.VendorID,
			ProductIDs: cfg.HID.ProductIDs,
			UsagePage:  cfg.HID.UsagePage,
		})
		if err == nil {
			dev = kb
		}
	case "ble":
		var strip *ble.Strip
		strip, err = ble.Open(ctx, ble.Config{
			DeviceNames:    cfg.BLE.DeviceNames,
			ScanTimeout:    cfg.BLE.ScanTimeout.Duration(),
			ConnectTimeout: cfg.BLE.ConnectTimeout.Duration(),
		})
		if err == nil {
			dev = strip
		}
	case "spi":
		var strip *spi.Strip
		strip, err = spi.Open(spi.Config{
			Port:    cfg.SPI.Port,
			Pixels:  cfg.SPI.Pixels,
			Zones:   cfg.SPI.Zones,
			FreqKHz: cfg.SPI.FreqKHz,
		})
		if err == nil {
			dev = strip
		}
	case "virtual":
		dev = device.NewVirtual(device.LinearLayout(cfg.Virtual.Zones), VirtualCapabilities)
	default:
		err = fmt.Errorf("%w: unknown backend %q", device.ErrUnavailable, cfg.Backend)
	}

	if err != nil {
		return nil, err
	}
	return device.Limit(dev, cfg.WriteRate, cfg.WriteBurst), nil
}
