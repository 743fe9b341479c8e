package scheduler

import (
	"fmt"

	"github.com/msageha/observatory/internal/model"
)

// DefaultConstraintTypes is used when the configuration names no constraints.
var DefaultConstraintTypes = []string{"altitude", "duration", "moon_avoidance"}

// BuildConstraints constructs the configured constraints in order. Weights
// default to 1. Expression rules, when present, always get an expression
// constraint even if the list does not name one.
func BuildConstraints(cfg model.SchedulerConfig, horizon HorizonLine) ([]Constraint, error) {
	entries := cfg.Constraints
	if len(entries) == 0 {
		for _, typ := range DefaultConstraintTypes {
			entries = append(entries, model.ConstraintConfig{Type: typ})
		}
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{Name: r.Name, Veto: r.Veto})
	}

	var (
		out     []Constraint
		hasExpr bool
	)
	for _, e := range entries {
		weight := 1.0
		if e.Weight != nil {
			weight = *e.Weight
		}

		var (
			c   Constraint
			err error
		)
		switch e.Type {
		case "altitude":
			c, err = NewAltitude(horizon, weight)
		case "duration":
			c, err = NewDuration(cfg.DurationHorizon, weight)
		case "moon_avoidance":
			c, err = NewMoonAvoidance(weight)
		case "already_visited":
			c, err = NewAlreadyVisited(weight)
		case "expression":
			hasExpr = true
			c, err = NewExpression(rules, weight)
		default:
			return nil, fmt.Errorf("unknown constraint type %q", e.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("constraint %s: %w", e.Type, err)
		}
		out = append(out, c)
	}

	if !hasExpr && len(rules) > 0 {
		c, err := NewExpression(rules, 1)
		if err != nil {
			return nil, fmt.Errorf("constraint expression: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
