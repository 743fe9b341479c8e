package astro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/globe"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/unit"
)

// Equatorial is a sky position. RA and Dec are in degrees.
type Equatorial struct {
	RA    float64 `json:"ra" yaml:"ra"`
	Dec   float64 `json:"dec" yaml:"dec"`
	Frame string  `json:"frame,omitempty" yaml:"frame,omitempty"` // e.g. "icrs", "fk5:J2000"
}

func (e Equatorial) String() string {
	return fmt.Sprintf("ra=%.5f dec=%+.5f", e.RA, e.Dec)
}

// Horizontal is a topocentric position. Azimuth is measured from north through east.
type Horizontal struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// Location is an observer on the ground. Longitude is east positive.
type Location struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

// HourAngle returns the local hour angle of e in degrees [0, 360).
func (l Location) HourAngle(t time.Time, e Equatorial) float64 {
	return normalizeDeg(LocalSiderealTime(t, l.Longitude) - e.RA)
}

// AltAz converts e to horizontal coordinates as seen from l at t.
// Refraction is ignored.
func (l Location) AltAz(t time.Time, e Equatorial) Horizontal {
	g := l.globe()
	a, h := coord.EqToHz(unit.RAFromDeg(e.RA), unit.AngleFromDeg(e.Dec),
		g.Lat, g.Lon, sidereal.Mean(JulianDate(t)))
	// Azimuth comes back measured westward from south.
	return Horizontal{Alt: h.Deg(), Az: normalizeDeg(a.Deg() + 180)}
}

// globe converts l to the west-positive longitude convention.
func (l Location) globe() globe.Coord {
	return globe.Coord{
		Lat: unit.AngleFromDeg(l.Latitude),
		Lon: unit.AngleFromDeg(-l.Longitude),
	}
}

// Separation returns the great-circle distance between a and b in degrees.
// The Vincenty form stays accurate at both small and antipodal separations.
func Separation(a, b Equatorial) float64 {
	ra1, dec1 := rad(a.RA), rad(a.Dec)
	ra2, dec2 := rad(b.RA), rad(b.Dec)
	dra := ra2 - ra1

	num1 := math.Cos(dec2) * math.Sin(dra)
	num2 := math.Cos(dec1)*math.Sin(dec2) - math.Sin(dec1)*math.Cos(dec2)*math.Cos(dra)
	den := math.Sin(dec1)*math.Sin(dec2) + math.Cos(dec1)*math.Cos(dec2)*math.Cos(dra)

	return deg(math.Atan2(math.Hypot(num1, num2), den))
}

// Offset returns b relative to a in arcseconds along RA (scaled by cos dec) and Dec.
func Offset(a, b Equatorial) (dRA, dDec float64) {
	dra := b.RA - a.RA
	if dra > 180 {
		dra -= 360
	} else if dra < -180 {
		dra += 360
	}
	return dra * math.Cos(rad(a.Dec)) * 3600, (b.Dec - a.Dec) * 3600
}

// ParseEquatorial parses "RA Dec" in one of the forms
//
//	20h00m43.71s +22d42m39.06s
//	20:00:43.71 +22:42:39.06
//	300.182 22.711
//
// Sexagesimal RA is in hours; plain decimal RA is in degrees.
func ParseEquatorial(s string) (Equatorial, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Equatorial{}, fmt.Errorf("parse position %q: expected \"<ra> <dec>\"", s)
	}

	ra, raSexagesimal, err := parseAngle(parts[0])
	if err != nil {
		return Equatorial{}, fmt.Errorf("parse ra %q: %w", parts[0], err)
	}
	if raSexagesimal {
		ra *= 15
	}
	dec, _, err := parseAngle(parts[1])
	if err != nil {
		return Equatorial{}, fmt.Errorf("parse dec %q: %w", parts[1], err)
	}

	if ra < 0 || ra >= 360 {
		return Equatorial{}, fmt.Errorf("ra out of range: %.5f", ra)
	}
	if dec < -90 || dec > 90 {
		return Equatorial{}, fmt.Errorf("dec out of range: %.5f", dec)
	}
	return Equatorial{RA: ra, Dec: dec, Frame: "icrs"}, nil
}

func parseAngle(s string) (float64, bool, error) {
	sign := 1.0
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	norm := strings.NewReplacer("h", ":", "d", ":", "m", ":", "s", "", "'", ":", "\"", "").Replace(s)
	norm = strings.TrimSuffix(norm, ":")
	if !strings.Contains(norm, ":") {
		v, err := strconv.ParseFloat(norm, 64)
		if err != nil {
			return 0, false, err
		}
		return sign * v, false, nil
	}

	fields := strings.Split(norm, ":")
	if len(fields) > 3 {
		return 0, true, fmt.Errorf("too many components")
	}
	var total float64
	scale := 1.0
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, true, err
		}
		total += v / scale
		scale *= 60
	}
	return sign * total, true, nil
}
