package hid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/device"
)

func TestEncodeFrame(t *testing.T) {
	f := device.Frame{
		Colors:     []core.RGB{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12}},
		Brightness: 2,
	}
	r := EncodeFrame(f)

	assert.Len(t, r, 33)
	assert.Equal(t, []byte{0xCC, 0x16, 0x01, 0x01, 0x02}, r[:5])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, r[5:17])
	for _, b := range r[17:] {
		assert.Zero(t, b)
	}
}

func TestEncodeFrameClampsBrightnessAndShortFrames(t *testing.T) {
	r := EncodeFrame(device.Frame{Colors: []core.RGB{core.White}, Brightness: 9})
	assert.Equal(t, byte(2), r[4])
	assert.Equal(t, []byte{255, 255, 255, 0, 0, 0}, r[5:11])

	r = EncodeFrame(device.Frame{Brightness: 0})
	assert.Equal(t, byte(1), r[4])
}

func TestKeyboardLayout(t *testing.T) {
	k := &Keyboard{}
	l := k.Layout()
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, "right", l.Zones[3].Name)
	assert.Equal(t, core.Range{Min: 1, Max: 4}, k.Capabilities().Speed)
}
