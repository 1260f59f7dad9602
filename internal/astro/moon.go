package astro

import (
	"math"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// moonCycleDays is the scale of astral's moon phase value: 0 = new moon,
// 14 = full moon, approaching 28 at the end of the cycle.
const moonCycleDays = 28.0

// MoonInfo describes the moon's state on a given date.
type MoonInfo struct {
	// Phase is the position in the lunar cycle as a fraction 0-1,
	// where 0 is new moon and 0.5 is full moon.
	Phase float64 `json:"phase"`

	// PhaseName is the named phase bucket (8 buckets over the cycle).
	PhaseName string `json:"phase_name"`

	// Illumination is the approximate illuminated fraction 0-1.
	Illumination float64 `json:"illumination"`
}

// moonPhaseNames are the 8 named phases in cycle order. Bucket i covers
// the fraction range [i/8 - 1/16, i/8 + 1/16), wrapping at the ends.
var moonPhaseNames = [8]string{
	"new_moon",
	"waxing_crescent",
	"first_quarter",
	"waxing_gibbous",
	"full_moon",
	"waning_gibbous",
	"last_quarter",
	"waning_crescent",
}

// MoonPhase returns the moon's phase, named bucket, and approximate
// illumination for the given date. Location-independent.
func (c *Calculator) MoonPhase(date time.Time) MoonInfo {
	fraction := astral.MoonPhase(date) / moonCycleDays
	fraction = math.Mod(fraction, 1)
	if fraction < 0 {
		fraction += 1
	}

	return MoonInfo{
		Phase:        fraction,
		PhaseName:    moonPhaseName(fraction),
		Illumination: moonIllumination(fraction),
	}
}

// moonPhaseName buckets a cycle fraction into one of the 8 named phases.
func moonPhaseName(fraction float64) string {
	// Shift by half a bucket so each name is centred on its fraction.
	idx := int(math.Floor(fraction*8+0.5)) % 8
	return moonPhaseNames[idx]
}

// moonIllumination approximates the illuminated fraction from the cycle
// position: 0 at new moon, 1 at full moon.
func moonIllumination(fraction float64) float64 {
	return (1 - math.Cos(2*math.Pi*fraction)) / 2
}
