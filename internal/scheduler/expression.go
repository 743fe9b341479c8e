package scheduler

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/msageha/observatory/internal/astro"
)

// Rule is a named CEL expression. A rule evaluating to true vetoes the observation.
//
// Variables:
//
//	observation.name, observation.priority, observation.exposure_count,
//	observation.min_exposures, observation.exptime_sec
//	target.alt, target.az, target.moon_sep, target.hour_angle
type Rule struct {
	Name string
	Veto string
}

type compiledRule struct {
	name string
	prg  cel.Program
}

// Expression applies operator-defined veto rules. It never adds score.
type Expression struct {
	weighted
	rules []compiledRule
}

func NewExpression(rules []Rule, weight float64) (*Expression, error) {
	w, err := newWeighted(weight)
	if err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Variable("observation", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	e := &Expression{weighted: w}
	for _, r := range rules {
		ast, issues := env.Compile(r.Veto)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %q: compile: %w", r.Name, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %q: expression must be boolean, got %s", r.Name, out)
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("rule %q: program: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{name: r.Name, prg: prg})
	}
	return e, nil
}

func (e *Expression) Name() string { return "expression" }

func (e *Expression) Evaluate(t time.Time, obs *Observation, ctx *Context) (Result, error) {
	if len(e.rules) == 0 {
		return Result{}, nil
	}

	coord := obs.Field().Coord()
	hz := ctx.Location.AltAz(t, coord)
	ha := ctx.Location.HourAngle(t, coord)
	if ha > 180 {
		ha -= 360
	}
	input := map[string]any{
		"observation": map[string]any{
			"name":           obs.Name(),
			"priority":       obs.Priority(),
			"exposure_count": int64(obs.ExposureCount()),
			"min_exposures":  int64(obs.MinExposures()),
			"exptime_sec":    obs.ExposureTime().Seconds(),
		},
		"target": map[string]any{
			"alt":        hz.Alt,
			"az":         hz.Az,
			"moon_sep":   astro.Separation(ctx.Moon, coord),
			"hour_angle": ha / 15,
		},
	}

	for _, r := range e.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return Result{}, fmt.Errorf("rule %q: eval: %w", r.name, err)
		}
		veto, ok := out.Value().(bool)
		if !ok {
			return Result{}, fmt.Errorf("rule %q: result not bool", r.name)
		}
		if veto {
			return Result{Veto: true}, nil
		}
	}
	return Result{}, nil
}
