package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/msageha/observatory/internal/astro"
)

// Mauna Loa at local midnight in January: dark, with roughly six hours of
// astronomical night left.
var (
	testLocation = astro.Location{Latitude: 19.536, Longitude: -155.576, Elevation: 3397}
	testTime     = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
)

// atHourAngle returns a coordinate at declination dec that is ha degrees past
// the meridian at t.
func atHourAngle(t time.Time, ha, dec float64) astro.Equatorial {
	lst := astro.LocalSiderealTime(t, testLocation.Longitude)
	ra := math.Mod(lst-ha+720, 360)
	return astro.Equatorial{RA: ra, Dec: dec, Frame: "icrs"}
}

func zenith(t time.Time) astro.Equatorial {
	return atHourAngle(t, 0, testLocation.Latitude)
}

// nadir is never above any horizon.
func nadir(t time.Time) astro.Equatorial {
	return atHourAngle(t, 180, -testLocation.Latitude)
}

func position(e astro.Equatorial) string {
	ra := e.RA
	if ra >= 359.99995 {
		ra = 0
	}
	return fmt.Sprintf("%.5f %+.5f", ra, e.Dec)
}

func fieldConfig(name string, e astro.Equatorial, priority float64) FieldConfig {
	return FieldConfig{Name: name, Position: position(e), Priority: &priority}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func fixedMoon(e astro.Equatorial) func(time.Time) astro.Equatorial {
	return func(time.Time) astro.Equatorial { return e }
}

type flatHorizon float64

func (h flatHorizon) MinElevation(float64) float64 { return float64(h) }
