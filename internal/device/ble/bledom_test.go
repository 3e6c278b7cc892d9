package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kbrgb-controller/internal/core"
)

func TestPackets(t *testing.T) {
	assert.Equal(t, []byte{0x7E, 0x07, 0x05, 0x03, 0x10, 0x20, 0x30, 0x10, 0xEF}, ColorPacket(core.RGB{R: 0x10, G: 0x20, B: 0x30}))
	assert.Equal(t, byte(50), BrightnessPacket(5)[3])
	assert.Equal(t, byte(100), BrightnessPacket(42)[3])
	assert.Equal(t, byte(0), BrightnessPacket(-1)[3])
	assert.Equal(t, byte(1), PowerPacket(true)[3])
	assert.Equal(t, byte(0), PowerPacket(false)[5])
}

func TestEncodeSkipsUnchangedState(t *testing.T) {
	s := &Strip{}
	assert.Len(t, s.encode(core.Red, 5), 2, "first frame primes color and brightness")

	s.lastColor, s.lastBrightness, s.primed = core.Red, 5, true
	assert.Empty(t, s.encode(core.Red, 5))
	assert.Equal(t, [][]byte{ColorPacket(core.Blue)}, s.encode(core.Blue, 5))
	assert.Equal(t, [][]byte{BrightnessPacket(7)}, s.encode(core.Red, 7))
}

func TestStripLayout(t *testing.T) {
	s := &Strip{}
	assert.Equal(t, 1, s.Layout().Len())
	assert.Equal(t, 10, s.Capabilities().Brightness.Max)
}
