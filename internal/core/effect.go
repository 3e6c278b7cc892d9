package core

import (
	"fmt"
	"strings"
)

// EffectKind identifies a lighting animation.
type EffectKind string

const (
	EffectStatic    EffectKind = "static"
	EffectBreathing EffectKind = "breathing"
	EffectWave      EffectKind = "wave"
	EffectSmooth    EffectKind = "smooth"
	EffectSwipe     EffectKind = "swipe"
	EffectDisco     EffectKind = "disco"
	EffectLightning EffectKind = "lightning"
	EffectChristmas EffectKind = "christmas"
	EffectReactive  EffectKind = "reactive"
	EffectScript    EffectKind = "script"
)

// AllEffects lists every effect in menu order.
var AllEffects = []EffectKind{
	EffectStatic,
	EffectBreathing,
	EffectWave,
	EffectSmooth,
	EffectSwipe,
	EffectDisco,
	EffectLightning,
	EffectChristmas,
	EffectReactive,
	EffectScript,
}

// Animated reports whether the effect needs a running frame loop.
func (k EffectKind) Animated() bool {
	return k != EffectStatic
}

// Directional reports whether the effect uses a Direction.
func (k EffectKind) Directional() bool {
	return k == EffectWave || k == EffectSwipe
}

func (k EffectKind) String() string { return string(k) }

// ParseEffect resolves a user-supplied effect name. Matching ignores case, dashes and underscores.
func ParseEffect(name string) (EffectKind, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range AllEffects {
		if string(k) == norm {
			return k, nil
		}
	}
	// Aliases used by the vendor tool.
	switch norm {
	case "breath", "breathe":
		return EffectBreathing, nil
	case "smoothwave", "rainbow":
		return EffectWave, nil
	case "hue":
		return EffectSmooth, nil
	case "lua":
		return EffectScript, nil
	}
	return "", fmt.Errorf("%w: unknown effect %q", ErrInvalidCommand, name)
}

// Direction of travel for directional effects.
type Direction string

const (
	DirectionRight Direction = "right"
	DirectionLeft  Direction = "left"
)

// Sign is +1 for right and -1 for left.
func (d Direction) Sign() int {
	if d == DirectionLeft {
		return -1
	}
	return 1
}

// Opposite flips the direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLeft {
		return DirectionRight
	}
	return DirectionLeft
}

// ParseDirection accepts "left"/"l"/"rtl" and "right"/"r"/"ltr".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l", "rtl":
		return DirectionLeft, nil
	case "right", "r", "ltr", "":
		return DirectionRight, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidCommand, s)
}
