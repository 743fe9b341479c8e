package scheduler

import (
	"fmt"
	"time"

	"github.com/msageha/observatory/internal/astro"
)

// Context carries the values computed once per scheduling pass and shared by
// every constraint evaluation in that pass.
type Context struct {
	Location   astro.Location
	EndOfNight time.Time
	Moon       astro.Equatorial
	MinMoonSep float64
	// Observed holds the names of previously selected observations, excluding
	// the current selection.
	Observed map[string]bool
}

// Result is the outcome of one constraint for one observation. Score is
// unweighted; the scheduler applies the constraint's weight.
type Result struct {
	Veto  bool
	Score float64
}

// Constraint is a stateless veto/score evaluator.
type Constraint interface {
	Name() string
	Weight() float64
	Evaluate(t time.Time, obs *Observation, ctx *Context) (Result, error)
}

// HorizonLine provides the minimum observable elevation at an azimuth.
type HorizonLine interface {
	MinElevation(az float64) float64
}

type weighted struct {
	weight float64
}

func newWeighted(w float64) (weighted, error) {
	if w < 0 {
		return weighted{}, fmt.Errorf("constraint weight must be >= 0, got %v", w)
	}
	return weighted{weight: w}, nil
}

func (w weighted) Weight() float64 { return w.weight }

// Altitude vetoes targets below the horizon line at their current azimuth.
type Altitude struct {
	weighted
	horizon HorizonLine
}

func NewAltitude(horizon HorizonLine, weight float64) (*Altitude, error) {
	if horizon == nil {
		return nil, fmt.Errorf("altitude constraint requires a horizon")
	}
	w, err := newWeighted(weight)
	if err != nil {
		return nil, err
	}
	return &Altitude{weighted: w, horizon: horizon}, nil
}

func (a *Altitude) Name() string { return "altitude" }

func (a *Altitude) Evaluate(t time.Time, obs *Observation, ctx *Context) (Result, error) {
	hz := ctx.Location.AltAz(t, obs.Field().Coord())
	if hz.Alt < a.horizon.MinElevation(hz.Az) {
		return Result{Veto: true}, nil
	}
	return Result{Score: 1}, nil
}

// Duration scores targets by how long they remain observable before setting,
// crossing the meridian, or the night ending.
type Duration struct {
	weighted
	horizon float64
}

func NewDuration(horizonDeg, weight float64) (*Duration, error) {
	w, err := newWeighted(weight)
	if err != nil {
		return nil, err
	}
	return &Duration{weighted: w, horizon: horizonDeg}, nil
}

func (d *Duration) Name() string { return fmt.Sprintf("duration above %.0f°", d.horizon) }

func (d *Duration) Evaluate(t time.Time, obs *Observation, ctx *Context) (Result, error) {
	coord := obs.Field().Coord()
	if !ctx.Location.IsUp(t, coord, d.horizon) {
		return Result{Veto: true}, nil
	}

	endOfNight := ctx.EndOfNight
	total := endOfNight.Sub(t)
	if total <= 0 {
		return Result{Veto: true}, nil
	}
	minimum := obs.MinimumDuration()

	end := endOfNight
	if set, ok := ctx.Location.NextSetTime(t, coord, d.horizon); ok && set.Before(end) {
		end = set
	}
	// Rising targets are only usable until they cross the meridian.
	if transit := ctx.Location.NextMeridianTransit(t, coord); transit.Before(end) {
		end = transit
	}

	remaining := end.Sub(t)
	if remaining < minimum {
		return Result{Veto: true}, nil
	}
	return Result{Score: remaining.Seconds() / total.Seconds()}, nil
}

// DefaultMinMoonSep is the Moon separation below which targets are vetoed.
const DefaultMinMoonSep = 15.0

// MoonAvoidance vetoes targets too close to the Moon and favors distant ones.
type MoonAvoidance struct {
	weighted
}

func NewMoonAvoidance(weight float64) (*MoonAvoidance, error) {
	w, err := newWeighted(weight)
	if err != nil {
		return nil, err
	}
	return &MoonAvoidance{weighted: w}, nil
}

func (m *MoonAvoidance) Name() string { return "moon avoidance" }

func (m *MoonAvoidance) Evaluate(_ time.Time, obs *Observation, ctx *Context) (Result, error) {
	minSep := ctx.MinMoonSep
	if minSep <= 0 {
		minSep = DefaultMinMoonSep
	}
	sep := astro.Separation(ctx.Moon, obs.Field().Coord())
	if sep < minSep {
		return Result{Veto: true}, nil
	}
	return Result{Score: sep / 180}, nil
}

// AlreadyVisited vetoes fields that were selected earlier in the history.
type AlreadyVisited struct {
	weighted
}

func NewAlreadyVisited(weight float64) (*AlreadyVisited, error) {
	w, err := newWeighted(weight)
	if err != nil {
		return nil, err
	}
	return &AlreadyVisited{weighted: w}, nil
}

func (a *AlreadyVisited) Name() string { return "already visited" }

func (a *AlreadyVisited) Evaluate(_ time.Time, obs *Observation, ctx *Context) (Result, error) {
	if ctx.Observed[obs.Name()] {
		return Result{Veto: true}, nil
	}
	return Result{}, nil
}
