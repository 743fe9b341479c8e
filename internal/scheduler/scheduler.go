package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

// DefaultObserveHorizon is the Sun altitude bounding the usable night.
const DefaultObserveHorizon = -18.0

// HistoryEntry records one selection of a new current observation.
type HistoryEntry struct {
	Time        time.Time
	Observation *Observation
}

// Ranked is one surviving candidate of a scheduling pass.
type Ranked struct {
	Observation *Observation
	Score       float64
}

// Decision is the outcome of GetObservation. Observation is nil when there is
// nothing to observe; Reason then says why.
type Decision struct {
	Observation *Observation
	Score       float64
	Reason      string
}

func (d Decision) Found() bool { return d.Observation != nil }

// Err returns ErrNoObservation (wrapped with the reason) when nothing was found.
func (d Decision) Err() error {
	if d.Found() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoObservation, d.Reason)
}

const (
	ReasonEmptyPool = "pool is empty"
	ReasonAllVetoed = "all candidates vetoed"
)

// Scheduler owns the observation pool, the current selection and the
// selection history. All methods are safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	location       astro.Location
	constraints    []Constraint
	observeHorizon float64
	minMoonSep     float64
	moon           func(time.Time) astro.Equatorial

	observations map[string]*Observation
	order        []string
	current      *Observation
	history      []HistoryEntry

	log *logging.Logger
}

func New(location astro.Location, constraints []Constraint, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		location:       location,
		constraints:    constraints,
		observeHorizon: DefaultObserveHorizon,
		minMoonSep:     DefaultMinMoonSep,
		moon:           astro.MoonPosition,
		observations:   make(map[string]*Observation),
		log:            logger,
	}
}

// SetObserveHorizon sets the Sun altitude used to find the end of the night.
func (s *Scheduler) SetObserveHorizon(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeHorizon = deg
}

func (s *Scheduler) SetMinMoonSep(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deg > 0 {
		s.minMoonSep = deg
	}
}

// SetMoonFunc replaces the Moon ephemeris.
func (s *Scheduler) SetMoonFunc(fn func(time.Time) astro.Equatorial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moon = fn
}

func (s *Scheduler) Location() astro.Location { return s.location }

func (s *Scheduler) Constraints() []Constraint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Constraint(nil), s.constraints...)
}

// AddObservation builds a Field and Observation from cfg and inserts it into
// the pool. An existing entry with the same name is replaced in place.
func (s *Scheduler) AddObservation(cfg FieldConfig) (*Observation, error) {
	obs, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(obs)
	return obs, nil
}

func (s *Scheduler) insertLocked(obs *Observation) {
	name := obs.Name()
	if prev, ok := s.observations[name]; ok {
		s.log.Warnf("observation_replace name=%q", name)
		if s.current == prev {
			s.current = nil
		}
	} else {
		s.order = append(s.order, name)
		s.log.Infof("observation_add name=%q priority=%.1f", name, obs.Priority())
	}
	s.observations[name] = obs
}

// RemoveObservation drops name from the pool. It reports whether anything was removed.
func (s *Scheduler) RemoveObservation(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) bool {
	obs, ok := s.observations[name]
	if !ok {
		return false
	}
	delete(s.observations, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.current == obs {
		s.current = nil
	}
	s.log.Infof("observation_remove name=%q", name)
	return true
}

// SyncResult reports what a Sync changed.
type SyncResult struct {
	Added   []string
	Removed []string
	Errors  []error
}

// Sync makes the pool match cfgs: entries not named in cfgs are removed and
// every valid record is (re)added. Invalid records are reported and leave
// any existing entry of that name untouched.
func (s *Scheduler) Sync(cfgs []FieldConfig) SyncResult {
	var res SyncResult
	built := make([]*Observation, 0, len(cfgs))
	keep := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		keep[c.Name] = true
		obs, err := c.Build()
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		built = append(built, obs)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range append([]string(nil), s.order...) {
		if !keep[name] {
			s.removeLocked(name)
			res.Removed = append(res.Removed, name)
		}
	}
	for _, obs := range built {
		if prev, ok := s.observations[obs.Name()]; ok && prev.SameParams(obs) {
			continue
		}
		s.insertLocked(obs)
		res.Added = append(res.Added, obs.Name())
	}
	return res
}

// Observation returns the pool entry for name.
func (s *Scheduler) Observation(name string) (*Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, ok := s.observations[name]
	return obs, ok
}

// Observations returns the pool in insertion order.
func (s *Scheduler) Observations() []*Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Observation, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.observations[name])
	}
	return out
}

func (s *Scheduler) CurrentObservation() *Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ObservedHistory returns the selections in the order they were made.
func (s *Scheduler) ObservedHistory() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// ResetObservedList clears the selection history.
func (s *Scheduler) ResetObservedList() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// GetObservation ranks the pool at t and makes the winner the current
// observation. A Decision without an Observation is the normal "nothing to
// do" outcome; a non-nil error means a constraint failed.
func (s *Scheduler) GetObservation(t time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		s.setCurrentLocked(nil, t)
		return Decision{Reason: ReasonEmptyPool}, nil
	}

	ranked, err := s.rankLocked(t)
	if err != nil {
		return Decision{}, err
	}
	if len(ranked) == 0 {
		s.log.Warnf("no valid observations found")
		s.setCurrentLocked(nil, t)
		return Decision{Reason: ReasonAllVetoed}, nil
	}

	best := ranked[0]
	s.log.Infof("best_observation name=%q score=%.3f", best.Observation.Name(), best.Score)
	s.setCurrentLocked(best.Observation, t)
	best.Observation.setMerit(best.Score)
	return Decision{Observation: best.Observation, Score: best.Score}, nil
}

// Rank scores every candidate at t without changing the current selection.
func (s *Scheduler) Rank(t time.Time) ([]Ranked, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankLocked(t)
}

func (s *Scheduler) rankLocked(t time.Time) ([]Ranked, error) {
	ctx := s.contextLocked(t)

	ranked := make([]Ranked, 0, len(s.order))
	for _, name := range s.order {
		obs := s.observations[name]
		if obs.IsComplete() {
			s.log.Debugf("skip name=%q reason=complete", name)
			continue
		}

		score := 0.0
		vetoed := false
		for _, c := range s.constraints {
			r, err := c.Evaluate(t, obs, ctx)
			if err != nil {
				return nil, fmt.Errorf("constraint %s on %q: %w", c.Name(), name, err)
			}
			if r.Veto {
				s.log.Debugf("veto name=%q constraint=%q", name, c.Name())
				vetoed = true
				break
			}
			score += r.Score * c.Weight()
		}
		if vetoed {
			continue
		}
		score += obs.Priority()
		s.log.Debugf("score name=%q total=%.3f", name, score)
		ranked = append(ranked, Ranked{Observation: obs, Score: score})
	}

	// Stable: equal scores keep pool insertion order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

func (s *Scheduler) contextLocked(t time.Time) *Context {
	end, ok := s.location.EndOfNight(t, s.observeHorizon)
	if !ok {
		// No sunrise within two days: polar night runs a full day, polar day has no night.
		if s.location.IsDark(t, s.observeHorizon) {
			end = t.Add(24 * time.Hour)
		} else {
			end = t
		}
	}

	observed := make(map[string]bool, len(s.history))
	for _, h := range s.history {
		if h.Observation != s.current {
			observed[h.Observation.Name()] = true
		}
	}

	return &Context{
		Location:   s.location,
		EndOfNight: end,
		Moon:       s.moon(t),
		MinMoonSep: s.minMoonSep,
		Observed:   observed,
	}
}

// setCurrentLocked switches the current selection. Switching to a different
// observation resets the previous one and starts a new sequence; reselecting
// the same observation changes nothing.
func (s *Scheduler) setCurrentLocked(obs *Observation, t time.Time) {
	if obs == nil {
		if s.current != nil {
			s.current.Reset()
			s.current = nil
		}
		return
	}
	if s.current != nil && s.current.Name() == obs.Name() {
		return
	}
	if s.current != nil {
		s.current.Reset()
	}

	id, err := model.GenerateID(model.IDTypeSequence, t)
	if err != nil {
		s.log.Errorf("sequence id: %v", err)
	}
	obs.startSequence(t, id)
	s.current = obs
	s.history = append(s.history, HistoryEntry{Time: t, Observation: obs})
	s.log.Infof("current_observation name=%q sequence=%s", obs.Name(), id)
}
