package simulator

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/hardware"
)

// Analyzer "plate-solves" images written by the simulated camera by reading
// the CRVAL1/CRVAL2 cards. Images without them solve to the target itself.
type Analyzer struct {
	drift hardware.GuideOffset
}

func NewAnalyzer(drift hardware.GuideOffset) *Analyzer {
	return &Analyzer{drift: drift}
}

func (a *Analyzer) MeasurePointingError(_ context.Context, imagePath string, target astro.Equatorial) (hardware.PointingSolution, error) {
	cards, err := readFITSHeader(imagePath)
	if err != nil {
		return hardware.PointingSolution{}, fmt.Errorf("solve %s: %w", imagePath, err)
	}
	center := target
	if ra, dec, ok := solvedCenter(cards); ok {
		center = astro.Equatorial{RA: ra, Dec: dec, Frame: target.Frame}
	}
	return hardware.PointingSolution{
		Center:     center,
		Separation: astro.Separation(center, target),
	}, nil
}

func solvedCenter(cards map[string]string) (ra, dec float64, ok bool) {
	rs, ok1 := cards["CRVAL1"]
	ds, ok2 := cards["CRVAL2"]
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	ra, err1 := strconv.ParseFloat(rs, 64)
	dec, err2 := strconv.ParseFloat(ds, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return ra, dec, true
}

func (a *Analyzer) MeasureGuideOffset(_ context.Context, reference, image string) (hardware.GuideOffset, error) {
	for _, p := range []string{reference, image} {
		if _, err := os.Stat(p); err != nil {
			return hardware.GuideOffset{}, fmt.Errorf("guide offset: %w", err)
		}
	}
	if reference == image {
		return hardware.GuideOffset{}, nil
	}
	return a.drift, nil
}
