package core

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is a single 8-bit per channel color.
type RGB struct {
	R, G, B uint8
}

var (
	Black = RGB{}
	White = RGB{255, 255, 255}
	Red   = RGB{255, 0, 0}
	Green = RGB{0, 255, 0}
	Blue  = RGB{0, 0, 255}
)

// Hex returns the color as #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func (c RGB) String() string { return c.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *RGB) UnmarshalText(b []byte) error {
	parsed, err := ParseRGB(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scale multiplies every channel by f, clamped to [0,1].
func (c RGB) Scale(f float64) RGB {
	if f <= 0 {
		return Black
	}
	if f >= 1 {
		return c
	}
	return RGB{
		R: uint8(float64(c.R)*f + 0.5),
		G: uint8(float64(c.G)*f + 0.5),
		B: uint8(float64(c.B)*f + 0.5),
	}
}

// Lerp blends from c to o by t in [0,1].
func (c RGB) Lerp(o RGB, t float64) RGB {
	if t <= 0 {
		return c
	}
	if t >= 1 {
		return o
	}
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
	}
	return RGB{mix(c.R, o.R), mix(c.G, o.G), mix(c.B, o.B)}
}

// ParseRGB accepts "#RRGGBB", "RRGGBB" or "r,g,b".
func ParseRGB(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 {
			return RGB{}, fmt.Errorf("%w: color %q", ErrInvalidCommand, s)
		}
		var ch [3]uint8
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return RGB{}, fmt.Errorf("%w: color %q", ErrInvalidCommand, s)
			}
			ch[i] = uint8(clampInt(v, 0, 255))
		}
		return RGB{ch[0], ch[1], ch[2]}, nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("%w: color %q", ErrInvalidCommand, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: color %q", ErrInvalidCommand, s)
	}
	return RGB{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// HSV converts hue (turns, wrapped), saturation and value in [0,1] to RGB.
func HSV(h, s, v float64) RGB {
	h -= float64(int(h))
	if h < 0 {
		h++
	}
	h *= 6
	i := int(h)
	f := h - float64(i)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return RGB{uint8(r*255 + 0.5), uint8(g*255 + 0.5), uint8(b*255 + 0.5)}
}
