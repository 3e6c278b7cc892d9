package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kbrgb-controller/internal/core"
)

func render(p Params, c Clock, n int) []core.RGB {
	dst := make([]core.RGB, n)
	Render(dst, p, c)
	return dst
}

func TestStaticCopiesZones(t *testing.T) {
	zones := []core.RGB{core.Red, core.Green, core.Blue, core.White}
	got := render(Params{Kind: core.EffectStatic, Zones: zones}, Clock{Phase: 12.3}, 4)
	assert.Equal(t, zones, got)
}

func TestRenderIsDeterministic(t *testing.T) {
	zones := []core.RGB{core.Red, core.Green, core.Blue, core.White}
	for _, kind := range core.AllEffects {
		t.Run(string(kind), func(t *testing.T) {
			p := Params{Kind: kind, Zones: zones, Heat: []float64{1, 0.5, 0, 0}, Seed: 42}
			c := Clock{Phase: 3.7, Step: 18}
			assert.Equal(t, render(p, c, 4), render(p, c, 4))
		})
	}
}

func TestBreathingEnvelope(t *testing.T) {
	p := Params{Kind: core.EffectBreathing, Zones: []core.RGB{core.White}}

	low := render(p, Clock{Phase: 0}, 1)[0]
	high := render(p, Clock{Phase: breathPeriod / 2}, 1)[0]
	again := render(p, Clock{Phase: breathPeriod}, 1)[0]

	assert.Equal(t, core.White, high)
	assert.Less(t, low.R, uint8(20))
	assert.NotZero(t, low.R, "breathing never goes fully dark")
	assert.Equal(t, low, again, "one period later the phase repeats")
}

func TestWaveDirection(t *testing.T) {
	right := render(Params{Kind: core.EffectWave, Direction: core.DirectionRight}, Clock{Phase: 0.5}, 4)
	left := render(Params{Kind: core.EffectWave, Direction: core.DirectionLeft}, Clock{Phase: 0.5}, 4)

	assert.Equal(t, right[0], left[0])
	assert.NotEqual(t, right[1], left[1])
	assert.Equal(t, right[1], left[3], "mirrored hue offsets")
}

func TestSwipeMovesColors(t *testing.T) {
	zones := []core.RGB{core.Red, core.Green, core.Blue}
	p := Params{Kind: core.EffectSwipe, Direction: core.DirectionRight, Zones: zones}

	assert.Equal(t, zones, render(p, Clock{Phase: 0}, 3))
	assert.Equal(t, []core.RGB{core.Blue, core.Red, core.Green}, render(p, Clock{Phase: 1}, 3))

	p.Direction = core.DirectionLeft
	assert.Equal(t, []core.RGB{core.Green, core.Blue, core.Red}, render(p, Clock{Phase: 1}, 3))
}

func TestLightningStrikesOneZone(t *testing.T) {
	got := render(Params{Kind: core.EffectLightning, Seed: 7}, Clock{Phase: 2}, 4)
	lit := 0
	for _, c := range got {
		if c != core.Black {
			lit++
		}
	}
	assert.Equal(t, 1, lit)
}

func TestReactiveFollowsHeat(t *testing.T) {
	p := Params{
		Kind:  core.EffectReactive,
		Zones: []core.RGB{core.Red, core.Red},
		Heat:  []float64{1, 0},
	}
	got := render(p, Clock{}, 2)
	assert.Equal(t, core.Red, got[0])
	assert.Equal(t, core.Black, got[1])

	heat := []float64{1, 0.011}
	CoolHeat(heat)
	assert.InDelta(t, ReactiveDecay, heat[0], 1e-9)
	assert.Zero(t, heat[1])
}

func TestChristmasPalette(t *testing.T) {
	got := render(Params{Kind: core.EffectChristmas}, Clock{Phase: 0}, 3)
	assert.Equal(t, []core.RGB{core.Red, core.Green, core.White}, got)
}

func TestRenderEmptyDst(t *testing.T) {
	assert.NotPanics(t, func() { Render(nil, Params{Kind: core.EffectDisco}, Clock{}) })
}
