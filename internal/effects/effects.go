// Package effects computes animation frames. Every function here is pure: the
// same Params and Clock always produce the same colors.
package effects

import (
	"math"

	"kbrgb-controller/internal/core"
)

// Clock is the animation position. Phase is measured in beats and advances
// faster at higher speed levels; Step counts frames since the effect started.
type Clock struct {
	Phase float64
	Step  uint64
}

// Params are the inputs of one frame.
type Params struct {
	Kind      core.EffectKind
	Direction core.Direction
	Zones     []core.RGB // configured zone colors
	Heat      []float64  // reactive key heat per zone, 0..1
	Seed      uint64
}

// Periods in beats.
const (
	breathPeriod   = 4.0
	wavePeriod     = 2.0
	smoothPeriod   = 6.0
	lightningDecay = 6.0
	minBreathLevel = 0.05

	// ReactiveDecay is the per-frame heat multiplier of the reactive effect.
	ReactiveDecay = 0.85
)

// Render fills dst (one entry per zone) for the given effect.
func Render(dst []core.RGB, p Params, c Clock) {
	n := len(dst)
	if n == 0 {
		return
	}

	switch p.Kind {
	case core.EffectBreathing:
		level := minBreathLevel + (1-minBreathLevel)*(1-math.Cos(2*math.Pi*c.Phase/breathPeriod))/2
		for i := range dst {
			dst[i] = zoneColor(p, i).Scale(level)
		}

	case core.EffectWave:
		sign := float64(p.Direction.Sign())
		for i := range dst {
			hue := c.Phase/wavePeriod - sign*float64(i)/float64(n)
			dst[i] = core.HSV(hue, 1, 1)
		}

	case core.EffectSmooth:
		color := core.HSV(c.Phase/smoothPeriod, 1, 1)
		for i := range dst {
			dst[i] = color
		}

	case core.EffectSwipe:
		// The configured zone colors travel across the keyboard, blending between slots.
		shift := c.Phase * float64(p.Direction.Sign())
		whole := math.Floor(shift)
		frac := shift - whole
		for i := range dst {
			from := zoneColor(p, mod(i-int(whole), n))
			to := zoneColor(p, mod(i-int(whole)-1, n))
			dst[i] = from.Lerp(to, frac)
		}

	case core.EffectDisco:
		beat := uint64(math.Floor(c.Phase * 2))
		for i := range dst {
			h := hash(p.Seed, beat, uint64(i))
			dst[i] = core.HSV(float64(h%360)/360, 1, 1)
		}

	case core.EffectLightning:
		beat := uint64(math.Floor(c.Phase))
		frac := c.Phase - math.Floor(c.Phase)
		strike := int(hash(p.Seed, beat, 0) % uint64(n))
		level := math.Exp(-lightningDecay * frac)
		for i := range dst {
			if i == strike {
				dst[i] = zoneColor(p, i).Lerp(core.White, 0.5).Scale(level)
			} else {
				dst[i] = core.Black
			}
		}

	case core.EffectChristmas:
		palette := [3]core.RGB{core.Red, core.Green, core.White}
		beat := int(math.Floor(c.Phase))
		frac := c.Phase - math.Floor(c.Phase)
		for i := range dst {
			from := palette[mod(i+beat, 3)]
			to := palette[mod(i+beat+1, 3)]
			dst[i] = from.Lerp(to, smoothstep(frac))
		}

	case core.EffectReactive:
		for i := range dst {
			heat := 0.0
			if i < len(p.Heat) {
				heat = p.Heat[i]
			}
			dst[i] = zoneColor(p, i).Scale(heat)
		}

	default:
		for i := range dst {
			dst[i] = zoneColor(p, i)
		}
	}
}

// CoolHeat decays reactive heat by one frame.
func CoolHeat(heat []float64) {
	for i, h := range heat {
		h *= ReactiveDecay
		if h < 0.01 {
			h = 0
		}
		heat[i] = h
	}
}

func zoneColor(p Params, i int) core.RGB {
	if i < len(p.Zones) {
		return p.Zones[i]
	}
	if len(p.Zones) > 0 {
		return p.Zones[len(p.Zones)-1]
	}
	return core.White
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// hash is splitmix64 over the combined inputs, used for repeatable randomness.
func hash(seed, a, b uint64) uint64 {
	x := seed ^ (a * 0x9E3779B97F4A7C15) ^ (b * 0xC2B2AE3D27D4EB4F)
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
