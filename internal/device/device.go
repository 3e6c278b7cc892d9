// Package device defines the hardware boundary of the effect engine: an opaque
// handle that writes frames and reports its layout and capabilities.
package device

import (
	"context"
	"errors"
	"strconv"

	"kbrgb-controller/internal/core"
)

var (
	// ErrUnavailable is returned when a device cannot be opened. It is fatal at startup.
	ErrUnavailable = errors.New("device unavailable")
	// ErrWrite wraps every frame write failure.
	ErrWrite = errors.New("device write failed")
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("device closed")
)

// Zone is one addressable lighting region.
type Zone struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Layout is the zone topology of a device.
type Layout struct {
	Zones []Zone `json:"zones"`
}

// Len returns the number of zones.
func (l Layout) Len() int { return len(l.Zones) }

// LinearLayout names n zones "zone 1".."zone n".
func LinearLayout(n int, names ...string) Layout {
	l := Layout{Zones: make([]Zone, n)}
	for i := range l.Zones {
		var name string
		if i < len(names) {
			name = names[i]
		} else {
			name = "zone " + strconv.Itoa(i+1)
		}
		l.Zones[i] = Zone{Index: i, Name: name}
	}
	return l
}

// Frame is one complete hardware update.
type Frame struct {
	Colors     []core.RGB
	Brightness int
}

// Clone deep copies the frame so devices may keep it.
func (f Frame) Clone() Frame {
	c := f
	c.Colors = append([]core.RGB(nil), f.Colors...)
	return c
}

// Device is the handle the effect engine owns exclusively.
type Device interface {
	// WriteFrame pushes one frame. Errors wrap ErrWrite.
	WriteFrame(ctx context.Context, f Frame) error
	Layout() Layout
	Capabilities() core.Capabilities
	Close() error
}
