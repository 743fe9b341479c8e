package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/hardware/simulator"
	"github.com/msageha/observatory/internal/model"
	"github.com/msageha/observatory/internal/scheduler"
)

// Mauna Loa at local midnight in January.
var (
	site     = astro.Location{Latitude: 19.536, Longitude: -155.576, Elevation: 3397}
	midnight = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
)

const settle = 5 * time.Second

type fakeSafety struct {
	dark    atomic.Bool
	weather atomic.Bool
}

func newFakeSafety() *fakeSafety {
	s := &fakeSafety{}
	s.dark.Store(true)
	s.weather.Store(true)
	return s
}

func (s *fakeSafety) IsDark() bool        { return s.dark.Load() }
func (s *fakeSafety) IsWeatherSafe() bool { return s.weather.Load() }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(t events.EventType, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events.Event{Type: t, Timestamp: time.Now(), Data: data})
}

func (r *recorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// transitions returns the target state of every transition so far.
func (r *recorder) transitions() []string {
	var out []string
	for _, e := range r.ofType(events.EventStateTransition) {
		out = append(out, e.String("to"))
	}
	return out
}

type harnessOptions struct {
	mount    map[string]string
	analyzer map[string]string
	config   func(*Config)
	registry func(*simulator.Rig, *hardware.Registry)
}

type harness struct {
	t      *testing.T
	o      *Orchestrator
	rig    *simulator.Rig
	reg    *hardware.Registry
	sched  *scheduler.Scheduler
	safety *fakeSafety
	rec    *recorder
	dir    string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func fastConfig(dir string) Config {
	return Config{
		PollInterval:        2 * time.Millisecond,
		SafetyCheckInterval: 10 * time.Millisecond,
		WaitSafeInterval:    10 * time.Millisecond,
		PointingExptime:     5 * time.Millisecond,
		FileTimeout:         2 * time.Second,
		ReadoutTimeout:      10 * time.Millisecond,
		MoveTimeout:         2 * time.Second,
		CommandTimeout:      time.Second,
		ImagesDir:           filepath.Join(dir, "images"),
	}
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	dir := t.TempDir()
	rig := simulator.NewRig()
	reg, err := hardware.NewRegistry(model.HardwareConfig{
		Mount:    model.DeviceConfig{Name: "mount", Options: opts.mount},
		Cameras:  []model.DeviceConfig{{Name: "cam0", Primary: true}},
		Analyzer: model.DeviceConfig{Name: "solver", Options: opts.analyzer},
	}, rig.Backends(), nil)
	require.NoError(t, err)
	if opts.registry != nil {
		opts.registry(rig, reg)
	}

	cfg := fastConfig(dir)
	if opts.config != nil {
		opts.config(&cfg)
	}

	h := &harness{
		t:      t,
		rig:    rig,
		reg:    reg,
		sched:  scheduler.New(site, nil, nil),
		safety: newFakeSafety(),
		rec:    &recorder{},
		dir:    dir,
	}
	h.o, err = New(cfg, Deps{
		Hardware:  reg,
		Scheduler: h.sched,
		Safety:    h.safety,
		Events:    h.rec,
		Clock:     func() time.Time { return midnight },
	})
	require.NoError(t, err)
	return h
}

// addTarget adds a field at the zenith at midnight.
func (h *harness) addTarget(name string, exposures, setSize int) {
	h.t.Helper()
	exptime := 0.01
	lst := astro.LocalSiderealTime(midnight, site.Longitude)
	cfg := scheduler.FieldConfig{
		Name:       name,
		Position:   fmt.Sprintf("%.5f %+.5f", lst, site.Latitude),
		ExpTimeSec: &exptime,
		MinNexp:    &exposures,
		ExpSetSize: &setSize,
	}
	if exposures > 0 {
		cfg.MaxNexp = &exposures
	}
	_, err := h.sched.AddObservation(cfg)
	require.NoError(h.t, err)
}

func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.err = h.o.Run(ctx)
		close(h.done)
	}()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(settle):
			h.t.Error("Run did not return")
		}
		_ = h.reg.Close()
	})
}

// result waits for Run to return.
func (h *harness) result() error {
	h.t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(settle):
		h.t.Fatal("Run did not return")
		return nil
	}
}

func (h *harness) resume() {
	h.t.Helper()
	require.NoError(h.t, h.o.Resume(context.Background()))
}

// waitFor waits until the most recent transition entered s.
func (h *harness) waitFor(s model.State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		tr := h.rec.transitions()
		return len(tr) > 0 && tr[len(tr)-1] == string(s) && h.o.State() == s
	}, settle, time.Millisecond, "waiting for state %s", s)
}

func (h *harness) glob(pattern string) []string {
	h.t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dir, "images", "*", "*", pattern))
	require.NoError(h.t, err)
	return matches
}

func TestRun_ObservesUntilCompleteThenParks(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount:    map[string]string{"pointing_error_deg": "0.2"},
		analyzer: map[string]string{"drift_ra_arcsec": "10"},
	})
	h.addTarget("HD 1", 3, 3)
	h.run()
	h.resume()

	require.Eventually(t, func() bool {
		return len(h.rec.ofType(events.EventExposureTaken)) == 3
	}, settle, time.Millisecond)
	h.waitFor(model.StateParked)

	assert.Equal(t, []string{
		"initializing", "ready", "scheduling",
		"slewing", "pointing", "slewing", "pointing",
		"tracking", "observing", "analyzing",
		"observing", "analyzing",
		"tracking", "observing", "analyzing",
		"scheduling", "parking", "parked",
	}, h.rec.transitions())

	assert.Len(t, h.glob("pointing_*.fits"), 2)
	assert.Len(t, h.glob("cam0_*.fits"), 3)
	assert.NotEmpty(t, h.rig.Mount().Corrections())

	selected := h.rec.ofType(events.EventObservationSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "HD 1", selected[0].String("observation"))
	assert.NotEmpty(t, selected[0].String("sequence_id"))

	measured := h.rec.ofType(events.EventPointingMeasured)
	require.Len(t, measured, 2)
	assert.InDelta(t, 0.2, measured[0].Data["separation_deg"], 1e-3)
	assert.InDelta(t, 0.02, measured[1].Data["separation_deg"], 1e-3)

	taken := h.rec.ofType(events.EventExposureTaken)
	assert.Equal(t, 3, taken[2].Data["exposure_count"])
	assert.NotEqual(t, taken[0].String("image_id"), taken[1].String("image_id"))

	st := h.o.Status()
	assert.Equal(t, model.StateParked, st.State)
	assert.True(t, st.Initialized)
	assert.True(t, st.Mount.Parked)
	assert.Contains(t, st.LastError, "all candidates vetoed")

	h.cancel()
	assert.NoError(t, h.result())
}

func TestRun_ReselectedObservationKeepsPointing(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount: map[string]string{"pointing_error_deg": "0.2"},
	})
	h.addTarget("HD 1", 6, 3)
	h.run()
	h.resume()

	require.Eventually(t, func() bool {
		return len(h.rec.ofType(events.EventExposureTaken)) == 6
	}, settle, time.Millisecond)
	h.waitFor(model.StateParked)

	assert.Equal(t, []string{
		"initializing", "ready", "scheduling",
		"slewing", "pointing", "slewing", "pointing",
		"tracking", "observing", "analyzing",
		"observing", "analyzing",
		"observing", "analyzing",
		"scheduling", "tracking", "observing", "analyzing",
		"observing", "analyzing",
		"observing", "analyzing",
		"scheduling", "parking", "parked",
	}, h.rec.transitions())

	assert.Len(t, h.glob("pointing_*.fits"), 2)
	assert.Len(t, h.glob("cam0_*.fits"), 6)
	assert.Len(t, h.rec.ofType(events.EventObservationSelected), 1)
	assert.Len(t, h.rec.ofType(events.EventPointingMeasured), 2)
}

func TestRun_ReselectionAfterParkSlewsAgain(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addTarget("HD 1", 1000, 1000)
	h.run()
	h.resume()

	require.Eventually(t, func() bool {
		return len(h.rec.ofType(events.EventExposureTaken)) >= 1
	}, settle, time.Millisecond)
	require.NoError(t, h.o.Park(context.Background(), "maintenance"))
	h.waitFor(model.StateParked)

	h.resume()
	require.Eventually(t, func() bool {
		tr := h.rec.transitions()
		last := -1
		for i, s := range tr {
			if s == "parked" {
				last = i
			}
		}
		after := tr[last+1:]
		return len(after) >= 3 && after[0] == "ready" && after[1] == "scheduling" && after[2] == "slewing"
	}, settle, time.Millisecond)
	assert.Len(t, h.rec.ofType(events.EventObservationSelected), 1)
}

func TestRun_PointingStopsAtIterationCap(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount:  map[string]string{"pointing_error_deg": "1", "sync_residual": "0.9"},
		config: func(c *Config) { c.MaxPointingIterations = 3 },
	})
	h.addTarget("HD 1", 1, 1)
	h.run()
	h.resume()

	require.Eventually(t, func() bool {
		return len(h.rec.ofType(events.EventExposureTaken)) == 1
	}, settle, time.Millisecond)
	h.waitFor(model.StateParked)

	measured := h.rec.ofType(events.EventPointingMeasured)
	require.Len(t, measured, 3)
	for i, e := range measured {
		assert.Equal(t, i, e.Data["iteration"])
		assert.Greater(t, e.Data["separation_deg"], 0.05)
	}
	assert.Len(t, h.glob("pointing_*.fits"), 3)
}

func TestInitializeHardware_StartsHomeMove(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount: map[string]string{"home_sec": "3600"},
	})
	t.Cleanup(func() { _ = h.reg.Close() })
	ctx := context.Background()

	require.NoError(t, h.o.initializeHardware(ctx))

	st, err := h.reg.Mount.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, st.Parked)
	assert.True(t, st.Slewing)
	assert.False(t, st.AtHome)

	// Entering ready does not restart the move already under way.
	require.NoError(t, h.o.startHome(ctx))
	st, err = h.reg.Mount.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, st.Slewing)
}

func TestRun_EmptyPoolParks(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.run()
	h.resume()
	h.waitFor(model.StateParked)

	assert.Equal(t, []string{"initializing", "ready", "scheduling", "parking", "parked"}, h.rec.transitions())
	st := h.o.Status()
	assert.True(t, st.Initialized)
	assert.Contains(t, st.LastError, scheduler.ReasonEmptyPool)
}

func TestRun_MissingImageTimesOutAndParks(t *testing.T) {
	h := newHarness(t, harnessOptions{
		config: func(c *Config) { c.FileTimeout = 50 * time.Millisecond },
		registry: func(rig *simulator.Rig, reg *hardware.Registry) {
			reg.Cameras = []hardware.Camera{
				simulator.NewCamera("cam0", simulator.CameraConfig{Primary: true, NeverWrite: true}, rig, nil),
			}
		},
	})
	h.addTarget("HD 1", 1, 1)
	h.run()
	h.resume()
	h.waitFor(model.StateParked)

	tr := h.rec.transitions()
	assert.Contains(t, tr, "pointing")
	assert.NotContains(t, tr, "tracking")
	assert.Contains(t, h.o.Status().LastError, "wait timed out")
}

func TestRun_ParkFailureIsFatal(t *testing.T) {
	h := newHarness(t, harnessOptions{mount: map[string]string{"fail_park": "true"}})
	h.run()
	h.resume()

	err := h.result()
	require.ErrorIs(t, err, ErrParkFailed)
	assert.NotEmpty(t, h.rec.ofType(events.EventFatal))
	assert.ErrorIs(t, h.o.Resume(context.Background()), ErrNotRunning)
}

func TestRun_InitializationFailureParksThenStops(t *testing.T) {
	h := newHarness(t, harnessOptions{
		registry: func(_ *simulator.Rig, reg *hardware.Registry) {
			reg.Mount = simulator.NewMount("mount", simulator.MountConfig{FailInitialize: true}, nil)
		},
	})
	h.run()
	h.resume()

	err := h.result()
	require.ErrorIs(t, err, ErrInitializationFailed)
	assert.NotErrorIs(t, err, ErrParkFailed)
	assert.Equal(t, []string{"initializing", "parking", "parked"}, h.rec.transitions())
}

func TestRun_UnsafeWhileWaitingParksAndSleeps(t *testing.T) {
	h := newHarness(t, harnessOptions{mount: map[string]string{"never_home": "true"}})
	h.run()
	h.resume()
	h.waitFor(model.StateReady)

	h.safety.weather.Store(false)
	h.waitFor(model.StateSleeping)

	parks := h.rec.ofType(events.EventSafetyPark)
	require.Len(t, parks, 1)
	assert.Equal(t, "ready", parks[0].String("state"))
	assert.Equal(t, "weather unsafe", parks[0].String("reason"))
	assert.True(t, h.rig.Mount().Status().Parked)

	h.safety.weather.Store(true)
	h.waitFor(model.StateReady)
	tr := h.rec.transitions()
	assert.Equal(t, []string{"parking", "parked", "sleeping", "ready"}, tr[len(tr)-4:])
}

func TestRun_DaybreakDuringObservingParksAndCleansUp(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addTarget("HD 1", 0, 1000)
	h.run()
	h.resume()

	require.Eventually(t, func() bool {
		return len(h.rec.ofType(events.EventExposureTaken)) >= 2
	}, settle, time.Millisecond)
	require.Len(t, h.sched.ObservedHistory(), 1)

	h.safety.dark.Store(false)
	require.Eventually(t, func() bool {
		tr := h.rec.transitions()
		return len(tr) >= 2 && tr[len(tr)-2] == "housekeeping" && tr[len(tr)-1] == "parked"
	}, settle, time.Millisecond)

	parks := h.rec.ofType(events.EventSafetyPark)
	require.NotEmpty(t, parks)
	assert.Equal(t, "not dark", parks[0].String("reason"))
	assert.Empty(t, h.sched.ObservedHistory())
	assert.Equal(t, model.StateParked, h.o.State())
}

func TestRun_AutoStartSleepsUntilSafe(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount:  map[string]string{"never_home": "true"},
		config: func(c *Config) { c.AutoStart = true },
	})
	h.safety.weather.Store(false)
	h.run()
	h.waitFor(model.StateSleeping)
	assert.False(t, h.o.Status().Initialized)

	h.safety.weather.Store(true)
	h.waitFor(model.StateReady)
	assert.Equal(t, []string{"sleeping", "initializing", "ready"}, h.rec.transitions())
}

func TestPark_HoldsUntilResume(t *testing.T) {
	h := newHarness(t, harnessOptions{
		mount:  map[string]string{"never_home": "true"},
		config: func(c *Config) { c.AutoStart = true },
	})
	h.run()
	h.waitFor(model.StateReady)

	require.NoError(t, h.o.Park(context.Background(), "maintenance"))
	h.waitFor(model.StateParked)
	assert.True(t, h.o.Status().Hold)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.StateParked, h.o.State())
	assert.Empty(t, h.rec.ofType(events.EventSafetyPark))

	h.resume()
	h.waitFor(model.StateReady)
	assert.False(t, h.o.Status().Hold)
	tr := h.rec.transitions()
	assert.Equal(t, []string{"parking", "parked", "ready"}, tr[len(tr)-3:])
}

func TestGoTo_SafetyDominatesActiveStates(t *testing.T) {
	successors := map[model.State]model.State{
		model.StateReady:      model.StateScheduling,
		model.StateScheduling: model.StateSlewing,
		model.StateSlewing:    model.StatePointing,
		model.StatePointing:   model.StateTracking,
		model.StateTracking:   model.StateObserving,
		model.StateObserving:  model.StateAnalyzing,
		model.StateAnalyzing:  model.StateObserving,
	}
	for from, to := range successors {
		t.Run(string(from)+"->"+string(to), func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			t.Cleanup(func() {
				h.o.stateCancel()
				h.o.wg.Wait()
			})
			require.NoError(t, h.reg.Mount.Connect(context.Background()))

			h.safety.dark.Store(false)
			h.o.state = from
			h.o.goTo(to)

			assert.Equal(t, model.StateParking, h.o.state)
			parks := h.rec.ofType(events.EventSafetyPark)
			require.Len(t, parks, 1)
			assert.Equal(t, string(from), parks[0].String("state"))
			assert.Equal(t, []string{"parking"}, h.rec.transitions())
		})
	}
}

func TestGoTo_ParkingFamilyIgnoresSafety(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	t.Cleanup(func() {
		h.o.stateCancel()
		h.o.wg.Wait()
	})
	h.safety.weather.Store(false)

	h.o.goTo(model.StateSleeping)
	assert.Equal(t, model.StateSleeping, h.o.state)
	h.o.goTo(model.StateParked)
	assert.Equal(t, model.StateParked, h.o.state)
	assert.Empty(t, h.rec.ofType(events.EventSafetyPark))
}

func TestGoTo_RejectsIllegalTransition(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	t.Cleanup(func() {
		h.o.stateCancel()
		h.o.wg.Wait()
	})

	h.o.goTo(model.StateObserving)
	assert.Equal(t, model.StateParked, h.o.state)
	assert.Empty(t, h.rec.transitions())
	assert.Contains(t, h.o.Status().LastError, "invalid state transition")
}

func TestNew_RequiresDevicesAndCollaborators(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	_, err := New(Config{}, Deps{Scheduler: h.sched, Safety: h.safety})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Hardware: h.reg, Safety: h.safety})
	assert.Error(t, err)
	_, err = New(Config{}, Deps{Hardware: h.reg, Scheduler: h.sched})
	assert.Error(t, err)

	o, err := New(Config{}, Deps{Hardware: h.reg, Scheduler: h.sched, Safety: h.safety})
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, o.cfg.PollInterval)
	assert.Equal(t, model.StateParked, o.Status().State)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(model.OrchestratorConfig{
		PollIntervalSec:       2,
		PointingExptimeSec:    15,
		FileTimeoutSec:        60,
		ReadoutTimeoutSec:     10,
		MaxCorrectionMs:       2500,
		GuideRateArcsecPerSec: 15,
		ImagesDir:             "frames",
		AutoStart:             true,
	}, "/srv/obs")

	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.PointingExptime)
	assert.Equal(t, 2500*time.Millisecond, cfg.Corrections.Max)
	assert.Equal(t, 15.0, cfg.Corrections.GuideRate)
	assert.Equal(t, filepath.Join("/srv/obs", "frames"), cfg.ImagesDir)
	assert.True(t, cfg.AutoStart)

	cfg = cfg.withDefaults()
	assert.Equal(t, DefaultWaitSafeInterval, cfg.WaitSafeInterval)
	assert.Equal(t, 60*time.Second, cfg.fileTimeout(5*time.Second))
	assert.Equal(t, 130*time.Second, cfg.fileTimeout(120*time.Second))

	abs := ConfigFrom(model.OrchestratorConfig{ImagesDir: "/data/images"}, "/srv/obs")
	assert.Equal(t, "/data/images", abs.ImagesDir)
}

func TestCapture_CreatesImageDir(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addTarget("HD 1", 1, 1)
	d, err := h.sched.GetObservation(midnight)
	require.NoError(t, err)
	h.o.obs = d.Observation
	cam := h.reg.PrimaryCamera()
	require.NoError(t, cam.Connect(context.Background()))
	t.Cleanup(func() { _ = cam.Close() })

	path := filepath.Join(h.dir, "images", "a", "b", "x.fits")
	id, err := h.o.capture(cam, time.Millisecond, path, "science")
	require.NoError(t, err)
	assert.Regexp(t, `^img_20260115T100000_[0-9a-f]{8}$`, id)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, settle, time.Millisecond)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), id)
}
