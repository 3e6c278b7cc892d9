// Package spi drives an addressable (WS2812-class) LED strip over SPI and splits
// it into equally sized zones.
package spi

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
)

// MaxBrightness is the number of brightness steps exposed by the strip.
const MaxBrightness = 8

// Config describes the strip.
type Config struct {
	Port    string // spireg name, empty for the first port
	Pixels  int
	Zones   int
	FreqKHz int
}

// Strip is an open LED strip.
type Strip struct {
	mu     sync.Mutex
	port   spi.PortCloser
	dev    *nrzled.Dev
	pixels int
	zones  int
	buf    []byte
	closed bool
}

// Open initialises the host drivers and opens the SPI port.
func Open(cfg Config) (*Strip, error) {
	if cfg.Pixels <= 0 || cfg.Zones <= 0 || cfg.Zones > cfg.Pixels {
		return nil, fmt.Errorf("%w: invalid strip geometry %d pixels / %d zones", device.ErrUnavailable, cfg.Pixels, cfg.Zones)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host init: %v", device.ErrUnavailable, err)
	}
	p, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("%w: open spi %q: %v", device.ErrUnavailable, cfg.Port, err)
	}
	s, err := New(p, cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	s.port = p
	log.Info().Str("component", "device").Str("port", p.String()).Int("pixels", cfg.Pixels).Msg("SPI strip opened")
	return s, nil
}

// New wraps an already opened SPI port.
func New(p spi.Port, cfg Config) (*Strip, error) {
	freq := physic.Frequency(cfg.FreqKHz) * physic.KiloHertz
	if freq == 0 {
		freq = 2500 * physic.KiloHertz
	}
	d, err := nrzled.NewSPI(p, &nrzled.Opts{NumPixels: cfg.Pixels, Channels: 3, Freq: freq})
	if err != nil {
		return nil, fmt.Errorf("%w: nrzled: %v", device.ErrUnavailable, err)
	}
	return &Strip{
		dev:    d,
		pixels: cfg.Pixels,
		zones:  cfg.Zones,
		buf:    make([]byte, cfg.Pixels*3),
	}, nil
}

// WriteFrame expands zone colors to pixels, scales by brightness and writes the strip.
func (s *Strip) WriteFrame(_ context.Context, f device.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", device.ErrWrite, device.ErrClosed)
	}
	s.fill(f)
	if _, err := s.dev.Write(s.buf); err != nil {
		return fmt.Errorf("%w: spi: %v", device.ErrWrite, err)
	}
	return nil
}

func (s *Strip) fill(f device.Frame) {
	scale := float64(min(max(f.Brightness, 0), MaxBrightness)) / MaxBrightness
	for px := 0; px < s.pixels; px++ {
		zone := px * s.zones / s.pixels
		c := core.Black
		if zone < len(f.Colors) {
			c = f.Colors[zone].Scale(scale)
		}
		s.buf[px*3], s.buf[px*3+1], s.buf[px*3+2] = c.R, c.G, c.B
	}
}

func (s *Strip) Layout() device.Layout { return device.LinearLayout(s.zones) }

func (s *Strip) Capabilities() core.Capabilities {
	return core.Capabilities{
		Effects:    core.AllEffects,
		Brightness: core.Range{Min: 1, Max: MaxBrightness},
		Speed:      core.Range{Min: 1, Max: 8},
	}
}

// Close blanks the strip and releases the port.
func (s *Strip) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.dev.Halt()
	if s.port != nil {
		if cerr := s.port.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
