package device

import (
	"context"
	"fmt"
	"sync"

	"kbrgb-controller/internal/core"
)

// Virtual is an in-memory device. It backs the "virtual" backend for running
// without hardware and keeps the last frame for previews.
type Virtual struct {
	mu     sync.Mutex
	layout Layout
	caps   core.Capabilities
	last   Frame
	writes int
	closed bool
}

// NewVirtual creates a virtual device with the given layout and capabilities.
func NewVirtual(layout Layout, caps core.Capabilities) *Virtual {
	return &Virtual{layout: layout, caps: caps}
}

// WriteFrame stores the frame.
func (v *Virtual) WriteFrame(_ context.Context, f Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	}
	if len(f.Colors) != v.layout.Len() {
		return fmt.Errorf("%w: frame has %d zones, device has %d", ErrWrite, len(f.Colors), v.layout.Len())
	}
	v.last = f.Clone()
	v.writes++
	return nil
}

// Last returns the most recent frame and the total number of writes.
func (v *Virtual) Last() (Frame, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last.Clone(), v.writes
}

func (v *Virtual) Layout() Layout                  { return v.layout }
func (v *Virtual) Capabilities() core.Capabilities { return v.caps }

// Close marks the device closed; later writes fail.
func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}
