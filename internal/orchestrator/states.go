package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/model"
)

// enter runs the entry action of the state just entered.
func (o *Orchestrator) enter(s model.State) {
	switch s {
	case model.StateInitializing:
		o.enterInitializing()
	case model.StateReady:
		o.enterReady()
	case model.StateScheduling:
		o.enterScheduling()
	case model.StateSlewing:
		o.enterSlewing()
	case model.StatePointing:
		o.enterPointing()
	case model.StateTracking:
		o.enterTracking()
	case model.StateObserving:
		o.enterObserving()
	case model.StateAnalyzing:
		o.enterAnalyzing()
	case model.StateParking:
		o.enterParking()
	case model.StateParked:
		o.enterParked()
	case model.StateSleeping:
		o.enterSleeping()
	case model.StateHousekeeping:
		o.enterHousekeeping()
	}
}

func (o *Orchestrator) enterInitializing() {
	ctx, cancel := context.WithTimeout(o.stateCtx, o.cfg.MoveTimeout)
	defer cancel()

	if err := o.initializeHardware(ctx); err != nil {
		o.pendingFatal = fmt.Errorf("%w: %w", ErrInitializationFailed, err)
		o.log.Errorf("initialization: %v", err)
		o.setLastError(o.pendingFatal.Error())
		o.goTo(model.StateParking)
		return
	}
	o.initialized = true
	o.refresh()
	o.next(model.StateReady)
}

func (o *Orchestrator) initializeHardware(ctx context.Context) error {
	m := o.hw.Mount
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("connect mount: %w", err)
	}
	if err := m.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize mount: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.startHome(gctx) })
	for _, cam := range o.hw.Cameras {
		g.Go(func() error {
			if err := cam.Connect(gctx); err != nil {
				return fmt.Errorf("connect camera %s: %w", cam.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error { return o.hw.ConnectAccessories(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if o.hw.Dome != nil {
		if err := o.hw.Dome.Open(ctx); err != nil {
			return fmt.Errorf("open dome: %w", err)
		}
	}
	if o.hw.Focuser != nil && o.cfg.FocusPosition > 0 {
		if err := o.hw.Focuser.MoveTo(ctx, o.cfg.FocusPosition); err != nil {
			return fmt.Errorf("focus: %w", err)
		}
	}
	return nil
}

// startHome unparks the mount and starts a home move without waiting for it.
// A move already under way is left alone.
func (o *Orchestrator) startHome(ctx context.Context) error {
	m := o.hw.Mount
	st, err := m.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll mount: %w", err)
	}
	if st.Parked {
		if err := m.Unpark(ctx); err != nil {
			return fmt.Errorf("unpark: %w", err)
		}
	}
	if st.Parked || (!st.AtHome && !st.Slewing) {
		if err := m.SlewToHome(ctx); err != nil {
			return fmt.Errorf("slew to home: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) enterReady() {
	ctx, cancel := o.callCtx()
	defer cancel()

	if err := o.startHome(ctx); err != nil {
		o.fail(err)
		return
	}
	if o.hw.Dome != nil && !o.hw.Dome.IsOpen() {
		if err := o.hw.Dome.Open(ctx); err != nil {
			o.fail(fmt.Errorf("open dome: %w", err))
			return
		}
	}
	o.waitMount("home position", 0, func(st hardware.MountStatus) bool {
		return st.AtHome && !st.Slewing
	}, func() { o.goTo(model.StateScheduling) })
}

func (o *Orchestrator) enterScheduling() {
	now := o.clock()
	d, err := o.sched.GetObservation(now)
	if err != nil {
		o.fail(fmt.Errorf("schedule: %w", err))
		return
	}
	if !d.Found() {
		o.log.Infof("nothing to observe reason=%q", d.Reason)
		o.obs = nil
		o.setLastError(d.Err().Error())
		o.goTo(model.StateParking)
		return
	}

	obs := d.Observation
	target := obs.Field().Coord()
	if !o.sched.Location().IsUp(now, target, 0) {
		o.fail(fmt.Errorf("target %s is below the horizon", obs.Name()))
		return
	}

	if o.obs == obs && o.onTarget {
		o.log.Infof("continuing observation name=%q sequence_id=%s exposures=%d", obs.Name(), obs.SequenceID(), obs.ExposureCount())
		o.refresh()
		o.next(model.StateTracking)
		return
	}

	if o.obs != obs {
		o.obs = obs
		o.imageDir = filepath.Join(o.cfg.ImagesDir, obs.Field().FieldName(), obs.SequenceID())
		o.log.Infof("observation_selected name=%q score=%.3f sequence_id=%s", obs.Name(), d.Score, obs.SequenceID())
		o.publish(events.EventObservationSelected, map[string]any{
			"observation": obs.Name(),
			"sequence_id": obs.SequenceID(),
			"score":       d.Score,
			"priority":    obs.Priority(),
		})
	}
	o.pointingIteration = 0
	o.reference = ""
	o.pendingOffset = nil

	ctx, cancel := o.callCtx()
	defer cancel()
	if err := o.hw.Mount.SetTarget(ctx, target); err != nil {
		o.fail(fmt.Errorf("set target: %w", err))
		return
	}
	o.refresh()
	o.next(model.StateSlewing)
}

func (o *Orchestrator) enterSlewing() {
	o.onTarget = false
	ctx, cancel := o.callCtx()
	defer cancel()

	if fw := o.hw.FilterWheel; fw != nil && o.obs != nil && o.obs.Filter() != "" && fw.Filter() != o.obs.Filter() {
		if err := fw.SetFilter(ctx, o.obs.Filter()); err != nil {
			o.fail(fmt.Errorf("set filter %s: %w", o.obs.Filter(), err))
			return
		}
		o.log.Infof("filter=%s", o.obs.Filter())
	}
	if err := o.hw.Mount.SlewToTarget(ctx); err != nil {
		o.fail(fmt.Errorf("slew: %w", err))
		return
	}
	o.waitMount("slew", o.cfg.MoveTimeout, func(st hardware.MountStatus) bool {
		return st.Tracking && !st.Slewing
	}, func() { o.goTo(model.StatePointing) })
}

func (o *Orchestrator) enterPointing() {
	cam := o.hw.PrimaryCamera()
	path := filepath.Join(o.imageDir, fmt.Sprintf("pointing_%03d.fits", o.pointingIteration))
	if _, err := o.capture(cam, o.cfg.PointingExptime, path, "pointing"); err != nil {
		o.fail(err)
		return
	}
	o.waitFiles("pointing image", []string{path}, o.cfg.fileTimeout(o.cfg.PointingExptime), func() {
		o.evaluatePointing(path)
	})
}

// evaluatePointing measures the pointing image and either accepts the
// pointing or syncs the mount and slews again.
func (o *Orchestrator) evaluatePointing(path string) {
	ctx, cancel := o.callCtx()
	defer cancel()

	target := o.obs.Field().Coord()
	sol, err := o.hw.Analyzer.MeasurePointingError(ctx, path, target)
	if err != nil {
		o.fail(fmt.Errorf("measure pointing: %w", err))
		return
	}
	o.log.Infof("pointing iteration=%d separation_deg=%.4f", o.pointingIteration, sol.Separation)
	o.publish(events.EventPointingMeasured, map[string]any{
		"observation":    o.obs.Name(),
		"iteration":      o.pointingIteration,
		"separation_deg": sol.Separation,
		"path":           path,
	})

	if sol.Separation < o.cfg.PointingThreshold {
		o.onTarget = true
		o.goTo(model.StateTracking)
		return
	}
	if o.pointingIteration+1 >= o.cfg.MaxPointingIterations {
		o.log.Warnf("pointing not converged after %d iterations separation_deg=%.4f", o.pointingIteration+1, sol.Separation)
		o.onTarget = true
		o.goTo(model.StateTracking)
		return
	}

	o.pointingIteration++
	if err := o.hw.Mount.Sync(ctx, sol.Center); err != nil {
		o.fail(fmt.Errorf("sync: %w", err))
		return
	}
	if err := o.hw.Mount.SetTarget(ctx, target); err != nil {
		o.fail(fmt.Errorf("set target: %w", err))
		return
	}
	o.goTo(model.StateSlewing)
}

func (o *Orchestrator) enterTracking() {
	if o.pendingOffset != nil {
		ctx, cancel := o.callCtx()
		defer cancel()
		for _, c := range hardware.CorrectionsFor(*o.pendingOffset, o.cfg.Corrections) {
			if err := o.hw.Mount.ApplyTrackingCorrection(ctx, c); err != nil {
				o.fail(fmt.Errorf("tracking correction %s: %w", c, err))
				return
			}
			o.log.Debugf("correction %s", c)
		}
		o.pendingOffset = nil
	}
	o.next(model.StateObserving)
}

func (o *Orchestrator) enterObserving() {
	exptime := o.obs.ExposureTime()
	seq := o.obs.ExposureCount()

	cams := []hardware.Camera{o.hw.PrimaryCamera()}
	for _, c := range o.hw.Cameras {
		if c != cams[0] {
			cams = append(cams, c)
		}
	}
	paths := make([]string, 0, len(cams))
	var imageID string
	for i, cam := range cams {
		path := filepath.Join(o.imageDir, fmt.Sprintf("%s_%03d.fits", cam.Name(), seq))
		id, err := o.capture(cam, exptime, path, "science")
		if err != nil {
			o.fail(err)
			return
		}
		if i == 0 {
			imageID = id
		}
		paths = append(paths, path)
	}

	o.waitFiles("exposure", paths, o.cfg.fileTimeout(exptime), func() {
		count := o.obs.AddExposure(paths[0])
		o.lastExposures = paths
		o.log.Infof("exposure_taken observation=%q count=%d path=%s", o.obs.Name(), count, paths[0])
		o.publish(events.EventExposureTaken, map[string]any{
			"observation":    o.obs.Name(),
			"sequence_id":    o.obs.SequenceID(),
			"path":           paths[0],
			"image_id":       imageID,
			"exposure_count": count,
			"exptime_sec":    exptime.Seconds(),
		})
		o.goTo(model.StateAnalyzing)
	})
}

func (o *Orchestrator) enterAnalyzing() {
	image := o.lastExposures[0]
	var corrections []hardware.TrackingCorrection
	if o.reference == "" {
		o.reference = image
	} else {
		ctx, cancel := o.callCtx()
		off, err := o.hw.Analyzer.MeasureGuideOffset(ctx, o.reference, image)
		cancel()
		if err != nil {
			o.fail(fmt.Errorf("guide offset: %w", err))
			return
		}
		corrections = hardware.CorrectionsFor(off, o.cfg.Corrections)
		if len(corrections) > 0 {
			o.pendingOffset = &off
		}
	}
	o.refresh()

	switch {
	case o.obs.IsComplete():
		o.log.Infof("observation complete name=%q exposures=%d", o.obs.Name(), o.obs.ExposureCount())
		o.goTo(model.StateScheduling)
	case o.obs.SetIsFinished():
		o.goTo(model.StateScheduling)
	case len(corrections) > 0:
		o.goTo(model.StateTracking)
	default:
		o.goTo(model.StateObserving)
	}
}

func (o *Orchestrator) enterParking() {
	o.onTarget = false
	ctx, cancel := o.callCtx()
	defer cancel()

	if err := o.hw.Mount.Park(ctx); err != nil {
		o.parkFailed(fmt.Errorf("park mount: %w", err))
		return
	}
	if o.hw.Dome != nil && o.hw.Dome.IsOpen() {
		if err := o.hw.Dome.CloseShutter(ctx); err != nil {
			o.parkFailed(fmt.Errorf("close dome: %w", err))
			return
		}
	}
	o.spawn(waitSpec{
		what:     "park",
		interval: o.cfg.PollInterval,
		timeout:  o.cfg.MoveTimeout,
		poll: func(ctx context.Context) (bool, error) {
			st, err := o.hw.Mount.Poll(ctx)
			if err != nil {
				return false, err
			}
			return st.Parked, nil
		},
		then:    func() { o.goTo(model.StateParked) },
		onError: o.parkFailed,
	})
}

func (o *Orchestrator) enterParked() {
	if o.pendingFatal != nil {
		o.fatal = o.pendingFatal
		o.halt()
		return
	}
	if o.hold {
		return
	}
	dark := o.safety.IsDark()
	switch {
	case !dark && len(o.sched.ObservedHistory()) > 0:
		o.next(model.StateHousekeeping)
	case (dark && !o.safety.IsWeatherSafe()) || o.cfg.AutoStart:
		o.next(model.StateSleeping)
	}
}

func (o *Orchestrator) enterSleeping() {
	o.waitSafe(func() {
		if o.initialized {
			o.goTo(model.StateReady)
		} else {
			o.goTo(model.StateInitializing)
		}
	})
}

func (o *Orchestrator) enterHousekeeping() {
	n := len(o.sched.ObservedHistory())
	o.sched.ResetObservedList()
	o.obs = nil
	o.log.Infof("housekeeping cleared_history=%d", n)
	if o.cfg.AutoStart {
		o.next(model.StateSleeping)
	} else {
		o.next(model.StateParked)
	}
}

// capture starts an exposure bound to the current state and returns the image
// ID stamped into its header. Leaving the state aborts it.
func (o *Orchestrator) capture(cam hardware.Camera, exptime time.Duration, path, kind string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	imageID, err := model.GenerateID(model.IDTypeImage, o.clock())
	if err != nil {
		return "", err
	}
	header := map[string]string{
		"IMAGEID":  imageID,
		"OBJECT":   o.obs.Name(),
		"IMAGETYP": kind,
		"SEQID":    o.obs.SequenceID(),
		"FRAMENUM": strconv.Itoa(o.obs.ExposureCount()),
	}
	if f := o.obs.Filter(); f != "" {
		header["FILTER"] = f
	}
	if err := cam.Capture(o.stateCtx, exptime, path, header); err != nil {
		return "", fmt.Errorf("capture %s on %s: %w", kind, cam.Name(), err)
	}
	return imageID, nil
}
