// Package orchestrator runs the observatory state machine. One control loop
// owns the state; hardware waits run on their own goroutines and hand their
// continuation back to the loop. Every transition except into the parking
// family is gated on the safety check.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
	"github.com/msageha/observatory/internal/scheduler"
)

var (
	// ErrParkFailed stops the control loop: without a working park the
	// hardware cannot be made safe.
	ErrParkFailed = errors.New("park failed")
	// ErrInitializationFailed stops the control loop once the mount is parked.
	ErrInitializationFailed = errors.New("initialization failed")
	ErrWaitTimeout          = errors.New("wait timed out")
	ErrNotRunning           = errors.New("orchestrator is not running")
)

// Safety is the darkness and weather gate. Implementations must be safe for
// concurrent use; waits consult it from their own goroutines.
type Safety interface {
	IsDark() bool
	IsWeatherSafe() bool
}

// Planner is the part of the scheduler the orchestrator drives.
type Planner interface {
	GetObservation(t time.Time) (scheduler.Decision, error)
	CurrentObservation() *scheduler.Observation
	ObservedHistory() []scheduler.HistoryEntry
	ResetObservedList()
	Location() astro.Location
}

type Publisher interface {
	Publish(eventType events.EventType, data map[string]any)
}

type Deps struct {
	Hardware  *hardware.Registry
	Scheduler Planner
	Safety    Safety
	Events    Publisher
	Log       *logging.Logger
	Clock     func() time.Time
}

// Status is a point-in-time view for the admin surface and the snapshot file.
type Status struct {
	State             model.State                  `json:"state" yaml:"state"`
	Since             time.Time                    `json:"since" yaml:"since"`
	Safe              bool                         `json:"safe" yaml:"safe"`
	Hold              bool                         `json:"hold" yaml:"hold"`
	Initialized       bool                         `json:"initialized" yaml:"initialized"`
	PointingIteration int                          `json:"pointing_iteration" yaml:"pointing_iteration"`
	Observation       *scheduler.ObservationStatus `json:"observation,omitempty" yaml:"observation,omitempty"`
	Mount             hardware.MountStatus         `json:"mount" yaml:"mount"`
	LastError         string                       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt         time.Time                    `json:"updated_at" yaml:"updated_at"`
}

type Orchestrator struct {
	cfg    Config
	hw     *hardware.Registry
	sched  Planner
	safety Safety
	bus    Publisher
	log    *logging.Logger
	clock  func() time.Time

	queue   chan continuation
	cmds    chan func()
	stopped chan struct{}
	wg      sync.WaitGroup

	// Owned by the control loop.
	baseCtx     context.Context
	state       model.State
	since       time.Time
	epoch       uint64
	stateCtx    context.Context
	stateCancel context.CancelFunc
	pending     []continuation

	initialized       bool
	hold              bool
	pointingIteration int
	onTarget          bool // mount still on the pointed target of obs
	obs               *scheduler.Observation
	imageDir          string
	reference         string
	lastExposures     []string
	pendingOffset     *hardware.GuideOffset
	pendingFatal      error
	fatal             error

	mu       sync.RWMutex
	snapshot Status
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Hardware == nil || deps.Hardware.Mount == nil || deps.Hardware.Analyzer == nil || len(deps.Hardware.Cameras) == 0 {
		return nil, fmt.Errorf("orchestrator: mount, camera and analyzer are required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("orchestrator: scheduler is required")
	}
	if deps.Safety == nil {
		return nil, fmt.Errorf("orchestrator: safety check is required")
	}
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		hw:      deps.Hardware,
		sched:   deps.Scheduler,
		safety:  deps.Safety,
		bus:     deps.Events,
		log:     deps.Log,
		clock:   deps.Clock,
		queue:   make(chan continuation, 16),
		cmds:    make(chan func()),
		stopped: make(chan struct{}),
		baseCtx: context.Background(),
		state:   model.StateParked,
	}
	o.since = o.clock()
	o.stateCtx, o.stateCancel = context.WithCancel(o.baseCtx)
	o.refresh()
	return o, nil
}

// Run drives the state machine until ctx is cancelled or a fatal error
// occurs. On cancellation an active observatory is parked before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.stopped)

	o.baseCtx = ctx
	o.newEpoch()
	defer func() {
		o.stateCancel()
		o.wg.Wait()
	}()

	ticker := time.NewTicker(o.cfg.SafetyCheckInterval)
	defer ticker.Stop()

	o.log.Infof("orchestrator started state=%s auto_start=%t", o.state, o.cfg.AutoStart)
	if o.cfg.AutoStart {
		o.start()
	}

	for {
		for len(o.pending) > 0 && o.fatal == nil {
			c := o.pending[0]
			o.pending = o.pending[1:]
			if c.epoch == o.epoch {
				c.fn()
			}
		}
		if o.fatal != nil {
			o.log.Errorf("orchestrator stopped: %v", o.fatal)
			return o.fatal
		}

		select {
		case <-ctx.Done():
			o.shutdownPark()
			o.log.Infof("orchestrator stopped state=%s", o.state)
			return nil
		case c := <-o.queue:
			if c.epoch == o.epoch {
				c.fn()
			} else {
				o.log.Debugf("drop stale continuation epoch=%d current=%d", c.epoch, o.epoch)
			}
		case fn := <-o.cmds:
			fn()
		case <-ticker.C:
			o.periodicSafetyCheck()
		}
	}
}

// do runs fn on the control loop and waits for it to finish.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume starts (or restarts) observing from parked or sleeping and clears
// an operator hold.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.do(ctx, o.start)
}

// Park parks the observatory and holds it parked until Resume.
func (o *Orchestrator) Park(ctx context.Context, reason string) error {
	return o.do(ctx, func() {
		o.hold = true
		o.log.Infof("operator_park state=%s reason=%q", o.state, reason)
		switch o.state {
		case model.StateParking, model.StateParked:
			o.refresh()
		case model.StateSleeping, model.StateHousekeeping:
			o.goTo(model.StateParked)
		default:
			o.goTo(model.StateParking)
		}
	})
}

// Status returns the latest snapshot with a fresh copy of the cached mount status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	st := o.snapshot
	o.mu.RUnlock()
	st.Mount = o.hw.Mount.Status()
	if obs := o.sched.CurrentObservation(); obs != nil && st.Observation != nil && obs.Name() == st.Observation.Name {
		s := obs.Status()
		st.Observation = &s
	}
	return st
}

func (o *Orchestrator) State() model.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot.State
}

func (o *Orchestrator) start() {
	o.hold = false
	switch o.state {
	case model.StateParked, model.StateSleeping:
	default:
		o.log.Infof("resume ignored state=%s", o.state)
		o.refresh()
		return
	}
	if ok, reason := o.safe(); !ok {
		o.log.Infof("resume deferred until safe reason=%q", reason)
		if o.state == model.StateParked {
			o.goTo(model.StateSleeping)
		}
		return
	}
	if o.initialized {
		o.goTo(model.StateReady)
	} else {
		o.goTo(model.StateInitializing)
	}
}

// safe evaluates both halves of the safety check.
func (o *Orchestrator) safe() (bool, string) {
	dark := o.safety.IsDark()
	weather := o.safety.IsWeatherSafe()
	var reasons []string
	if !dark {
		reasons = append(reasons, "not dark")
	}
	if !weather {
		reasons = append(reasons, "weather unsafe")
	}
	return dark && weather, strings.Join(reasons, ", ")
}

func (o *Orchestrator) periodicSafetyCheck() {
	if o.state.BypassesSafety() {
		return
	}
	if ok, reason := o.safe(); !ok {
		o.safetyPark(reason)
	}
}

// goTo performs a transition and runs the new state's entry action. Entering
// any state outside the parking family first passes the safety check; an
// unsafe check diverts to parking instead.
func (o *Orchestrator) goTo(to model.State) {
	if !to.BypassesSafety() {
		if ok, reason := o.safe(); !ok {
			o.log.Warnf("transition blocked from=%s to=%s reason=%q", o.state, to, reason)
			o.safetyPark(reason)
			return
		}
	}
	if err := model.ValidateStateTransition(o.state, to); err != nil {
		o.log.Errorf("transition rejected: %v", err)
		o.fail(err)
		return
	}

	from := o.state
	o.newEpoch()
	o.state = to
	o.since = o.clock()
	o.log.Infof("transition from=%s to=%s", from, to)

	data := map[string]any{"from": string(from), "to": string(to)}
	if o.obs != nil {
		data["observation"] = o.obs.Name()
		data["sequence_id"] = o.obs.SequenceID()
	}
	o.publish(events.EventStateTransition, data)
	o.refresh()

	o.enter(to)
}

// next schedules a transition on the control loop within the current epoch.
func (o *Orchestrator) next(to model.State) {
	o.pending = append(o.pending, continuation{epoch: o.epoch, fn: func() { o.goTo(to) }})
}

// newEpoch cancels every wait of the current state.
func (o *Orchestrator) newEpoch() {
	if o.stateCancel != nil {
		o.stateCancel()
	}
	o.epoch++
	o.stateCtx, o.stateCancel = context.WithCancel(o.baseCtx)
}

// safetyPark routes an unsafe condition to parking. States that already hold
// the mount parked are left alone.
func (o *Orchestrator) safetyPark(reason string) {
	if o.state.BypassesSafety() {
		return
	}
	o.log.Warnf("safety_park state=%s reason=%q", o.state, reason)
	o.publish(events.EventSafetyPark, map[string]any{"state": string(o.state), "reason": reason})
	o.setLastError("unsafe: " + reason)
	o.goTo(model.StateParking)
}

// fail routes a hardware, scheduling or timeout failure to parking. During
// parking itself the failure is fatal.
func (o *Orchestrator) fail(err error) {
	switch o.state {
	case model.StateParking:
		o.parkFailed(err)
		return
	case model.StateParked:
		o.log.Errorf("failure while parked: %v", err)
		o.setLastError(err.Error())
		return
	}
	o.log.Errorf("state=%s error: %v", o.state, err)
	o.setLastError(err.Error())
	o.goTo(model.StateParking)
}

func (o *Orchestrator) parkFailed(err error) {
	o.fatal = errors.Join(fmt.Errorf("%w: %w", ErrParkFailed, err), o.pendingFatal)
	o.halt()
}

// halt stops the loop with o.fatal.
func (o *Orchestrator) halt() {
	o.log.Errorf("fatal state=%s error=%v", o.state, o.fatal)
	o.setLastError(o.fatal.Error())
	o.publish(events.EventFatal, map[string]any{"state": string(o.state), "error": o.fatal.Error()})
	o.newEpoch()
}

func (o *Orchestrator) publish(t events.EventType, data map[string]any) {
	if o.bus != nil {
		o.bus.Publish(t, data)
	}
}

func (o *Orchestrator) setLastError(msg string) {
	o.mu.Lock()
	o.snapshot.LastError = msg
	o.mu.Unlock()
}

// refresh copies loop-owned fields into the snapshot.
func (o *Orchestrator) refresh() {
	ok, _ := o.safe()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshot.State = o.state
	o.snapshot.Since = o.since
	o.snapshot.Safe = ok
	o.snapshot.Hold = o.hold
	o.snapshot.Initialized = o.initialized
	o.snapshot.PointingIteration = o.pointingIteration
	o.snapshot.Observation = nil
	if o.obs != nil {
		st := o.obs.Status()
		o.snapshot.Observation = &st
	}
	o.snapshot.UpdatedAt = o.clock()
}

// callCtx bounds one blocking device call to the current state.
func (o *Orchestrator) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(o.stateCtx, o.cfg.CommandTimeout)
}

// shutdownPark parks synchronously when the loop stops with the mount out.
func (o *Orchestrator) shutdownPark() {
	o.stateCancel()
	if o.state.BypassesSafety() && o.state != model.StateParking {
		return
	}
	o.log.Infof("shutdown_park state=%s", o.state)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.MoveTimeout)
	defer cancel()
	if err := o.hw.Mount.Park(ctx); err != nil {
		o.log.Errorf("shutdown park: %v", err)
		return
	}
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		st, err := o.hw.Mount.Poll(ctx)
		if err == nil && st.Parked {
			o.state = model.StateParked
			o.since = o.clock()
			o.refresh()
			return
		}
		select {
		case <-ctx.Done():
			o.log.Errorf("shutdown park: mount not parked after %s", o.cfg.MoveTimeout)
			return
		case <-ticker.C:
		}
	}
}
