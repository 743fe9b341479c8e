package scheduler

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultExposureTime = 120 * time.Second
	DefaultMinExposures = 60
	DefaultSetSize      = 10
	DefaultPriority     = 100.0
)

// ObservationParams are the exposure parameters of an Observation.
// MaxExposures of 0 means no maximum.
type ObservationParams struct {
	ExposureTime time.Duration
	MinExposures int
	MaxExposures int
	SetSize      int
	Priority     float64
	Filter       string // empty leaves the filter wheel alone
}

// Observation is the schedulable unit: a Field plus exposure bookkeeping.
// Mutable progress is guarded so the control loop and admin readers can share it.
type Observation struct {
	field        *Field
	exposureTime time.Duration
	minExposures int
	maxExposures int
	setSize      int
	priority     float64
	filter       string

	mu            sync.RWMutex
	exposureCount int
	merit         float64
	seqStart      *time.Time
	sequenceID    string
	exposures     []string
}

// NewObservation validates params. When MaxExposures is set and below
// MinExposures, MinExposures is lowered to match.
func NewObservation(field *Field, p ObservationParams) (*Observation, error) {
	if field == nil {
		return nil, fmt.Errorf("%w: nil field", ErrInvalidObservation)
	}
	name := field.Name()
	if p.ExposureTime <= 0 {
		return nil, fmt.Errorf("%w: %s: exposure time must be > 0, got %s", ErrInvalidObservation, name, p.ExposureTime)
	}
	if p.SetSize <= 0 {
		return nil, fmt.Errorf("%w: %s: exposure set size must be > 0, got %d", ErrInvalidObservation, name, p.SetSize)
	}
	if p.MinExposures < 0 || p.MaxExposures < 0 {
		return nil, fmt.Errorf("%w: %s: exposure counts must be non-negative", ErrInvalidObservation, name)
	}
	if p.MinExposures%p.SetSize != 0 {
		return nil, fmt.Errorf("%w: %s: min exposures %d is not a multiple of set size %d", ErrInvalidObservation, name, p.MinExposures, p.SetSize)
	}
	if p.MaxExposures%p.SetSize != 0 {
		return nil, fmt.Errorf("%w: %s: max exposures %d is not a multiple of set size %d", ErrInvalidObservation, name, p.MaxExposures, p.SetSize)
	}
	if !(p.Priority > 0) {
		return nil, fmt.Errorf("%w: %s: priority must be > 0, got %v", ErrInvalidObservation, name, p.Priority)
	}

	minExp := p.MinExposures
	if p.MaxExposures > 0 && p.MaxExposures < minExp {
		minExp = p.MaxExposures
	}

	return &Observation{
		field:        field,
		exposureTime: p.ExposureTime,
		minExposures: minExp,
		maxExposures: p.MaxExposures,
		setSize:      p.SetSize,
		priority:     p.Priority,
		filter:       p.Filter,
	}, nil
}

func (o *Observation) Field() *Field               { return o.field }
func (o *Observation) Name() string                { return o.field.Name() }
func (o *Observation) ExposureTime() time.Duration { return o.exposureTime }
func (o *Observation) MinExposures() int           { return o.minExposures }
func (o *Observation) MaxExposures() int           { return o.maxExposures }
func (o *Observation) SetSize() int                { return o.setSize }
func (o *Observation) Filter() string              { return o.filter }
func (o *Observation) Priority() float64           { return o.priority }

// MinimumDuration is the total exposure time needed to reach MinExposures.
func (o *Observation) MinimumDuration() time.Duration {
	return o.exposureTime * time.Duration(o.minExposures)
}

// SetDuration is the exposure time of one set.
func (o *Observation) SetDuration() time.Duration {
	return o.exposureTime * time.Duration(o.setSize)
}

func (o *Observation) ExposureCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.exposureCount
}

func (o *Observation) Merit() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.merit
}

func (o *Observation) setMerit(m float64) {
	o.mu.Lock()
	o.merit = m
	o.mu.Unlock()
}

// SequenceStart returns when the observation became the current selection.
func (o *Observation) SequenceStart() (time.Time, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.seqStart == nil {
		return time.Time{}, false
	}
	return *o.seqStart, true
}

func (o *Observation) SequenceID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sequenceID
}

func (o *Observation) startSequence(t time.Time, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ts := t
	o.seqStart = &ts
	o.sequenceID = id
}

// AddExposure records a captured image and increments the exposure count.
func (o *Observation) AddExposure(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exposureCount++
	o.exposures = append(o.exposures, path)
	return o.exposureCount
}

// Exposures returns the image paths recorded since the last reset.
func (o *Observation) Exposures() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.exposures...)
}

// SetIsFinished reports whether the minimum has been reached on a set boundary.
func (o *Observation) SetIsFinished() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.exposureCount >= o.minExposures && o.exposureCount%o.setSize == 0
}

// SameParams reports whether o and other describe the same field and
// exposure plan. Progress is not compared.
func (o *Observation) SameParams(other *Observation) bool {
	return o.Field().Coord() == other.Field().Coord() &&
		o.Priority() == other.Priority() &&
		o.ExposureTime() == other.ExposureTime() &&
		o.MinExposures() == other.MinExposures() &&
		o.MaxExposures() == other.MaxExposures() &&
		o.SetSize() == other.SetSize() &&
		o.Filter() == other.Filter()
}

// IsComplete reports whether a configured maximum has been reached.
func (o *Observation) IsComplete() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxExposures > 0 && o.exposureCount >= o.maxExposures
}

// Reset clears progress so the observation can be scheduled again.
func (o *Observation) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exposureCount = 0
	o.merit = 0
	o.seqStart = nil
	o.sequenceID = ""
	o.exposures = nil
}

// ObservationStatus is a point-in-time copy for reporting.
type ObservationStatus struct {
	Name          string     `json:"name"`
	FieldName     string     `json:"field_name"`
	RA            float64    `json:"ra"`
	Dec           float64    `json:"dec"`
	Priority      float64    `json:"priority"`
	ExposureTime  float64    `json:"exptime_sec"`
	MinExposures  int        `json:"min_nexp"`
	MaxExposures  int        `json:"max_nexp,omitempty"`
	SetSize       int        `json:"exp_set_size"`
	Filter        string     `json:"filter,omitempty"`
	ExposureCount int        `json:"exposure_count"`
	Merit         float64    `json:"merit"`
	SequenceStart *time.Time `json:"sequence_start,omitempty"`
	SequenceID    string     `json:"sequence_id,omitempty"`
}

func (o *Observation) Status() ObservationStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := ObservationStatus{
		Name:          o.field.Name(),
		FieldName:     o.field.FieldName(),
		RA:            o.field.Coord().RA,
		Dec:           o.field.Coord().Dec,
		Priority:      o.priority,
		ExposureTime:  o.exposureTime.Seconds(),
		MinExposures:  o.minExposures,
		MaxExposures:  o.maxExposures,
		SetSize:       o.setSize,
		Filter:        o.filter,
		ExposureCount: o.exposureCount,
		Merit:         o.merit,
		SequenceID:    o.sequenceID,
	}
	if o.seqStart != nil {
		ts := *o.seqStart
		st.SequenceStart = &ts
	}
	return st
}

func (o *Observation) String() string {
	return fmt.Sprintf("%s: %s exposures in blocks of %d, minimum %d, priority %.0f",
		o.field.Name(), o.exposureTime, o.setSize, o.minExposures, o.priority)
}
