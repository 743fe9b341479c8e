// Package scheduler selects the next observation from a pool of candidates
// using weighted veto/score constraints.
package scheduler

import "errors"

var (
	// ErrInvalidObservation is returned when field or exposure parameters are invalid.
	ErrInvalidObservation = errors.New("invalid observation")
	// ErrNoObservation means the pool is empty or every candidate was vetoed.
	ErrNoObservation = errors.New("no observation available")
)
