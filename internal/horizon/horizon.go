// Package horizon turns sparse obstruction points into a per-degree minimum
// elevation line.
package horizon

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// ErrInvalidObstruction is returned for malformed obstruction data.
var ErrInvalidObstruction = errors.New("invalid obstruction")

// Point is one obstruction vertex. Alt and Az are in degrees.
type Point struct {
	Alt float64
	Az  float64
}

// Line holds the minimum observable elevation for each integer azimuth.
type Line [360]float64

// Horizon is immutable once built.
type Horizon struct {
	line         Line
	defaultElev  float64
	obstructions [][]Point
}

// New builds a Horizon. Each obstruction needs at least two points; points
// with a negative azimuth have 360 added. Integer azimuths covered by an
// obstruction take its linearly interpolated elevation (the highest one
// where obstructions overlap); every other azimuth takes defaultElevation.
func New(obstructions [][]Point, defaultElevation float64) (*Horizon, error) {
	h := &Horizon{defaultElev: defaultElevation}
	for i := range h.line {
		h.line[i] = defaultElevation
	}

	covered := make([]bool, 360)
	for i, obs := range obstructions {
		pts, err := normalize(obs)
		if err != nil {
			return nil, fmt.Errorf("obstruction %d: %w", i, err)
		}
		h.obstructions = append(h.obstructions, pts)

		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		for j, p := range pts {
			xs[j], ys[j] = p.Az, p.Alt
		}

		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("obstruction %d: fit: %w", i, err)
		}

		first := int(math.Ceil(xs[0]))
		last := int(math.Floor(xs[len(xs)-1]))
		for az := first; az <= last; az++ {
			idx := az % 360
			elev := pl.Predict(float64(az))
			if !covered[idx] || elev > h.line[idx] {
				h.line[idx] = elev
				covered[idx] = true
			}
		}
	}

	return h, nil
}

// normalize validates and sorts a segment by azimuth. Points sharing an
// azimuth collapse to the highest altitude so the abscissae stay strictly
// increasing.
func normalize(obs []Point) ([]Point, error) {
	if len(obs) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidObstruction, len(obs))
	}

	pts := make([]Point, 0, len(obs))
	for _, p := range obs {
		if math.IsNaN(p.Alt) || math.IsNaN(p.Az) {
			return nil, fmt.Errorf("%w: NaN coordinate", ErrInvalidObstruction)
		}
		if p.Alt < 0 || p.Alt > 90 {
			return nil, fmt.Errorf("%w: altitude %.2f outside 0-90", ErrInvalidObstruction, p.Alt)
		}
		az := p.Az
		if az < 0 {
			az += 360
		}
		if az < 0 || az > 360 {
			return nil, fmt.Errorf("%w: azimuth %.2f outside 0-360", ErrInvalidObstruction, p.Az)
		}
		pts = append(pts, Point{Alt: p.Alt, Az: az})
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Az < pts[j].Az })

	merged := pts[:1]
	for _, p := range pts[1:] {
		last := &merged[len(merged)-1]
		if p.Az == last.Az {
			last.Alt = math.Max(last.Alt, p.Alt)
			continue
		}
		merged = append(merged, p)
	}
	if len(merged) < 2 {
		return nil, fmt.Errorf("%w: obstruction spans no azimuth range", ErrInvalidObstruction)
	}
	return merged, nil
}

// Line returns a copy of the 360-element elevation line.
func (h *Horizon) Line() Line {
	return h.line
}

// MinElevation returns the line value at the integer-truncated azimuth.
func (h *Horizon) MinElevation(az float64) float64 {
	idx := int(az) % 360
	if idx < 0 {
		idx += 360
	}
	return h.line[idx]
}

func (h *Horizon) DefaultElevation() float64 { return h.defaultElev }

// Obstructions returns the normalized obstruction segments.
func (h *Horizon) Obstructions() [][]Point {
	out := make([][]Point, len(h.obstructions))
	for i, o := range h.obstructions {
		out[i] = append([]Point(nil), o...)
	}
	return out
}

// FromPairs converts [[alt, az], ...] lists as found in configuration.
func FromPairs(pairs [][][2]float64) [][]Point {
	out := make([][]Point, 0, len(pairs))
	for _, seg := range pairs {
		pts := make([]Point, 0, len(seg))
		for _, p := range seg {
			pts = append(pts, Point{Alt: p[0], Az: p[1]})
		}
		out = append(out, pts)
	}
	return out
}
