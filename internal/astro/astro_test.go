package astro

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var maunaLoa = Location{Latitude: 19.54, Longitude: -155.58, Elevation: 3400}

func TestJulianDate(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want float64
	}{
		{"J2000", time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 2451545.0},
		{"Unix epoch", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 2440587.5},
		{"non-UTC input", time.Date(2000, 1, 1, 14, 0, 0, 0, time.FixedZone("EET", 2*3600)), 2451545.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, JulianDate(tt.t), 1e-6)
		})
	}
}

func TestGMST_J2000(t *testing.T) {
	got := GMST(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.InDelta(t, 280.46062, got, 1e-3)
}

func TestAltAz_OnMeridian(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	loc := Location{Latitude: 30, Longitude: 10}
	target := Equatorial{RA: LocalSiderealTime(now, loc.Longitude), Dec: 0}

	hz := loc.AltAz(now, target)
	assert.InDelta(t, 60, hz.Alt, 1e-6)
	assert.InDelta(t, 180, hz.Az, 1e-6)

	zenith := Equatorial{RA: target.RA, Dec: 30}
	assert.InDelta(t, 90, loc.AltAz(now, zenith).Alt, 1e-4)
}

func TestAltAz_RisingInEast(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	loc := Location{Latitude: 0, Longitude: 0}
	// Hour angle of -90 degrees puts an equatorial target on the eastern horizon.
	target := Equatorial{RA: normalizeDeg(LocalSiderealTime(now, 0) + 90), Dec: 0}

	hz := loc.AltAz(now, target)
	assert.InDelta(t, 0, hz.Alt, 1e-6)
	assert.InDelta(t, 90, hz.Az, 1e-6)
}

func TestSeparation(t *testing.T) {
	tests := []struct {
		name string
		a, b Equatorial
		want float64
	}{
		{"identical", Equatorial{RA: 10, Dec: 20}, Equatorial{RA: 10, Dec: 20}, 0},
		{"quarter circle", Equatorial{RA: 0, Dec: 0}, Equatorial{RA: 90, Dec: 0}, 90},
		{"pole to equator", Equatorial{RA: 0, Dec: 90}, Equatorial{RA: 123, Dec: 0}, 90},
		{"antipodes", Equatorial{RA: 0, Dec: 0}, Equatorial{RA: 180, Dec: 0}, 180},
		{"wraps RA", Equatorial{RA: 359, Dec: 0}, Equatorial{RA: 1, Dec: 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Separation(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Separation(tt.b, tt.a), 1e-9)
		})
	}
}

func TestOffset(t *testing.T) {
	dRA, dDec := Offset(Equatorial{RA: 359.99, Dec: 60}, Equatorial{RA: 0.01, Dec: 60.001})
	assert.InDelta(t, 0.02*0.5*3600, dRA, 1e-6)
	assert.InDelta(t, 3.6, dDec, 1e-6)
}

func TestParseEquatorial(t *testing.T) {
	tests := []struct {
		in      string
		ra, dec float64
		wantErr bool
	}{
		{"20h00m43.7135s +22d42m39.0645s", 300.182140, 22.710851, false},
		{"20:00:43.7135 +22:42:39.0645", 300.182140, 22.710851, false},
		{"05:35:17.3 -05:23:28", 83.822083, -5.391111, false},
		{"83.822 -5.391", 83.822, -5.391, false},
		{"-00h10m00s +10d", 0, 0, true},
		{"12:00:00", 0, 0, true},
		{"12:00:00 +95:00:00", 0, 0, true},
		{"ab cd", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEquatorial(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.ra, got.RA, 1e-5)
			assert.InDelta(t, tt.dec, got.Dec, 1e-5)
		})
	}
}

func TestSunPosition_Solstice(t *testing.T) {
	sun := SunPosition(time.Date(2026, 6, 21, 8, 24, 0, 0, time.UTC))
	assert.InDelta(t, 23.44, sun.Dec, 0.05)
	assert.InDelta(t, 90, sun.RA, 0.5)
}

func TestMoonPosition_Syzygies(t *testing.T) {
	// Total lunar eclipse of 2026-03-03: Moon opposite the Sun.
	eclipse := time.Date(2026, 3, 3, 11, 33, 0, 0, time.UTC)
	assert.Greater(t, Separation(MoonPosition(eclipse), SunPosition(eclipse)), 178.0)

	// Annular solar eclipse of 2026-02-17: Moon in front of the Sun.
	annular := time.Date(2026, 2, 17, 12, 12, 0, 0, time.UTC)
	assert.Less(t, Separation(MoonPosition(annular), SunPosition(annular)), 2.0)
}

func TestMoonPosition_MeeusExample(t *testing.T) {
	// Example 47.a of Astronomical Algorithms: 1992 April 12, 0h TD.
	moon := MoonPosition(time.Date(1992, 4, 12, 0, 0, 0, 0, time.UTC))
	assert.InDelta(t, 134.688470, moon.RA, 0.05)
	assert.InDelta(t, 13.768368, moon.Dec, 0.05)
}

func TestNextMeridianTransit(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	target := Equatorial{RA: 83.82, Dec: -5.39}

	transit := maunaLoa.NextMeridianTransit(now, target)
	require.False(t, transit.Before(now))
	assert.Less(t, transit.Sub(now), 24*time.Hour)

	ha := maunaLoa.HourAngle(transit, target)
	if ha > 180 {
		ha -= 360
	}
	assert.InDelta(t, 0, ha, 0.01)
}

func TestNextSetTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	target := Equatorial{RA: 83.82, Dec: -5.39}

	set, ok := maunaLoa.NextSetTime(now, target, 30)
	require.True(t, ok)
	require.True(t, set.After(now))
	assert.InDelta(t, 30, maunaLoa.AltAz(set, target).Alt, 0.05)
	// Setting happens in the west.
	assert.Greater(t, maunaLoa.AltAz(set, target).Az, 180.0)
}

func TestNextSetTime_Circumpolar(t *testing.T) {
	polaris := Equatorial{RA: 37.95, Dec: 89.26}
	_, ok := Location{Latitude: 60}.NextSetTime(time.Now(), polaris, 0)
	assert.False(t, ok)
}

func TestIsDarkAndEndOfNight(t *testing.T) {
	// Local midnight in Hawaii on the June solstice.
	midnight := time.Date(2026, 6, 21, 10, 0, 0, 0, time.UTC)
	require.True(t, maunaLoa.IsDark(midnight, -12))

	end, ok := maunaLoa.EndOfNight(midnight, -18)
	require.True(t, ok)
	assert.True(t, end.After(time.Date(2026, 6, 21, 14, 0, 0, 0, time.UTC)), "end=%s", end)
	assert.True(t, end.Before(time.Date(2026, 6, 21, 15, 30, 0, 0, time.UTC)), "end=%s", end)
	assert.InDelta(t, -18, maunaLoa.SunAltitude(end), 0.05)

	noon := time.Date(2026, 6, 21, 22, 0, 0, 0, time.UTC)
	assert.False(t, maunaLoa.IsDark(noon, -12))
	next, ok := maunaLoa.EndOfNight(noon, -18)
	require.True(t, ok)
	assert.True(t, next.After(noon.Add(12*time.Hour)), "end of the following night expected, got %s", next)
}

func TestEndOfNight_PolarSummer(t *testing.T) {
	_, ok := Location{Latitude: 78, Longitude: 15}.EndOfNight(time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC), -18)
	assert.False(t, ok)
	assert.False(t, math.IsNaN(Location{Latitude: 78}.SunAltitude(time.Now())))
}
