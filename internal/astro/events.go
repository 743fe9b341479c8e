package astro

import (
	"time"

	"github.com/soniakeys/meeus/v3/rise"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

// solarToSidereal rescales a fraction of a sidereal turn measured in solar
// seconds, as rise.ApproxTimes reports it, to elapsed UT.
const solarToSidereal = 360 / 360.98564736629

// IsUp reports whether e is above horizonDeg at t.
func (l Location) IsUp(t time.Time, e Equatorial, horizonDeg float64) bool {
	return l.AltAz(t, e).Alt > horizonDeg
}

// NextMeridianTransit returns the next upper culmination of e at or after t.
func (l Location) NextMeridianTransit(t time.Time, e Equatorial) time.Time {
	ha := l.HourAngle(t, e)
	remaining := normalizeDeg(360 - ha)
	return t.Add(secondsToDuration(remaining / siderealRate))
}

// NextSetTime returns the next time e sinks below horizonDeg after t.
// ok is false when e never sets (circumpolar above horizonDeg) or never rises.
func (l Location) NextSetTime(t time.Time, e Equatorial, horizonDeg float64) (set time.Time, ok bool) {
	_, _, tSet, err := rise.ApproxTimes(l.globe(), unit.AngleFromDeg(horizonDeg),
		sidereal.Mean(JulianDate(t)), unit.RAFromDeg(e.RA), unit.AngleFromDeg(e.Dec))
	if err != nil {
		// rise.ErrorCircumpolar
		return time.Time{}, false
	}
	return t.Add(secondsToDuration(tSet.Sec() * solarToSidereal)), true
}

// SunAltitude returns the Sun's altitude in degrees at t.
func (l Location) SunAltitude(t time.Time) float64 {
	return l.AltAz(t, SunPosition(t)).Alt
}

// IsDark reports whether the Sun is below horizonDeg.
func (l Location) IsDark(t time.Time, horizonDeg float64) bool {
	return l.SunAltitude(t) < horizonDeg
}

const (
	sunSearchStep    = 10 * time.Minute
	sunSearchHorizon = 48 * time.Hour
)

// EndOfNight returns the next time after t that the Sun rises through
// horizonDeg. ok is false when no such crossing occurs within two days.
func (l Location) EndOfNight(t time.Time, horizonDeg float64) (time.Time, bool) {
	prev := t
	prevAlt := l.SunAltitude(prev)
	for step := sunSearchStep; step <= sunSearchHorizon; step += sunSearchStep {
		cur := t.Add(step)
		curAlt := l.SunAltitude(cur)
		if prevAlt < horizonDeg && curAlt >= horizonDeg {
			return l.bisectSun(prev, cur, horizonDeg), true
		}
		prev, prevAlt = cur, curAlt
	}
	return time.Time{}, false
}

// bisectSun narrows an upward crossing bracketed by lo and hi to one second.
func (l Location) bisectSun(lo, hi time.Time, horizonDeg float64) time.Time {
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2)
		if l.SunAltitude(mid) < horizonDeg {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}
