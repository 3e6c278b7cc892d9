package ble

import "kbrgb-controller/internal/core"

// ColorPacket builds the color command.
func ColorPacket(c core.RGB) []byte {
	return []byte{0x7E, 0x07, 0x05, 0x03, c.R, c.G, c.B, 0x10, 0xEF}
}

// BrightnessPacket builds the brightness command from a 1..10 level.
func BrightnessPacket(level int) []byte {
	pct := min(max(level, 0), 10) * 10
	return []byte{0x7E, 0x04, 0x01, byte(pct), 0xFF, 0xFF, 0xFF, 0x00, 0xEF}
}

// PowerPacket builds the power on/off command.
func PowerPacket(on bool) []byte {
	var val byte
	if on {
		val = 0x01
	}
	return []byte{0x7E, 0x04, 0x04, val, 0x00, val, 0xFF, 0x00, 0xEF}
}
