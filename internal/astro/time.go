// Package astro adapts the positional astronomy the scheduler and safety
// checks need to an observer Location: sidereal time, horizontal coordinates,
// Sun and Moon positions, and rise/set/transit times.
package astro

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
)

// siderealRate is the apparent sky rotation in degrees per second of UT.
const siderealRate = 360.98564736629 / 86400.0

// JulianDate converts a time.Time to Julian Date (UTC, no leap-second correction).
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST returns Greenwich Mean Sidereal Time in degrees [0, 360).
func GMST(t time.Time) float64 {
	return normalizeDeg(deg(sidereal.Mean(JulianDate(t)).Rad()))
}

// LocalSiderealTime returns the local mean sidereal time in degrees for an
// east-positive longitude.
func LocalSiderealTime(t time.Time, longitudeDeg float64) float64 {
	return normalizeDeg(GMST(t) + longitudeDeg)
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
