package hardware

import (
	"fmt"
	"math"
	"time"
)

type Axis string

const (
	AxisRA  Axis = "ra"
	AxisDec Axis = "dec"
)

type Direction string

const (
	DirectionNorth Direction = "north"
	DirectionSouth Direction = "south"
	DirectionEast  Direction = "east"
	DirectionWest  Direction = "west"
)

const (
	DefaultGuideRate     = 7.5 // arcsec/s, half sidereal
	DefaultMinCorrection = 50 * time.Millisecond
	DefaultMaxCorrection = 5 * time.Second
)

// TrackingCorrection is one guide pulse.
type TrackingCorrection struct {
	Axis      Axis          `json:"axis"`
	Duration  time.Duration `json:"duration"`
	Direction Direction     `json:"direction"`
}

func (c TrackingCorrection) String() string {
	return fmt.Sprintf("%s %s %s", c.Axis, c.Direction, c.Duration)
}

// CorrectionLimits bound the pulse derived from a guide offset.
type CorrectionLimits struct {
	GuideRate float64 // arcsec/s
	Min       time.Duration
	Max       time.Duration
}

func (l CorrectionLimits) withDefaults() CorrectionLimits {
	if l.GuideRate <= 0 {
		l.GuideRate = DefaultGuideRate
	}
	if l.Min <= 0 {
		l.Min = DefaultMinCorrection
	}
	if l.Max <= 0 {
		l.Max = DefaultMaxCorrection
	}
	return l
}

// CorrectionsFor converts a measured drift into guide pulses that move the
// mount back toward the reference. Pulses shorter than the minimum are
// dropped; longer ones are capped at the maximum.
func CorrectionsFor(off GuideOffset, limits CorrectionLimits) []TrackingCorrection {
	limits = limits.withDefaults()

	var out []TrackingCorrection
	add := func(axis Axis, arcsec float64, positive, negative Direction) {
		d := time.Duration(math.Abs(arcsec) / limits.GuideRate * float64(time.Second))
		if d < limits.Min {
			return
		}
		if d > limits.Max {
			d = limits.Max
		}
		// The image drifted by +arcsec, so push the other way.
		dir := negative
		if arcsec < 0 {
			dir = positive
		}
		out = append(out, TrackingCorrection{Axis: axis, Duration: d, Direction: dir})
	}
	add(AxisRA, off.DeltaRA, DirectionEast, DirectionWest)
	add(AxisDec, off.DeltaDec, DirectionNorth, DirectionSouth)
	return out
}
