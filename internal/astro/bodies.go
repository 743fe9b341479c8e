package astro

import (
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/moonposition"
	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/solar"
)

// SunPosition returns the geocentric apparent position of the Sun.
func SunPosition(t time.Time) Equatorial {
	ra, dec := solar.ApparentEquatorial(JulianDate(t))
	return Equatorial{RA: normalizeDeg(ra.Deg()), Dec: dec.Deg(), Frame: "gcrs"}
}

// MoonPosition returns the geocentric position of the Moon. Topocentric
// parallax (up to 1 degree) is not applied.
func MoonPosition(t time.Time) Equatorial {
	jd := JulianDate(t)
	lon, lat, _ := moonposition.Position(jd)
	sinEps, cosEps := nutation.MeanObliquity(jd).Sincos()
	ra, dec := coord.EclToEq(lon, lat, sinEps, cosEps)
	return Equatorial{RA: normalizeDeg(ra.Deg()), Dec: dec.Deg(), Frame: "gcrs"}
}
