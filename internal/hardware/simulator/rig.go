package simulator

import (
	"strings"
	"sync"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

// Rig ties the simulated devices built from one configuration together.
type Rig struct {
	mu    sync.Mutex
	mount *Mount
}

func NewRig() *Rig { return &Rig{} }

// Mount returns the simulated mount built through this rig, if any.
func (r *Rig) Mount() *Mount {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mount
}

func (r *Rig) skyPosition() (astro.Equatorial, bool) {
	m := r.Mount()
	if m == nil {
		return astro.Equatorial{}, false
	}
	if st := m.Status(); !st.Tracking {
		return astro.Equatorial{}, false
	}
	return m.SkyPosition(), true
}

// Backends returns the "simulator" backend for every role.
func (r *Rig) Backends() hardware.Backends {
	return hardware.Backends{
		Mounts:       map[string]hardware.MountFactory{"simulator": r.newMount},
		Cameras:      map[string]hardware.CameraFactory{"simulator": r.newCamera},
		Domes:        map[string]hardware.DomeFactory{"simulator": newDome},
		Focusers:     map[string]hardware.FocuserFactory{"simulator": newFocuser},
		FilterWheels: map[string]hardware.FilterWheelFactory{"simulator": newFilterWheel},
		Analyzers:    map[string]hardware.AnalyzerFactory{"simulator": newAnalyzer},
	}
}

func (r *Rig) newMount(cfg model.DeviceConfig, log *logging.Logger) (hardware.Mount, error) {
	opts := hardware.Options(cfg.Options)
	var (
		mc  MountConfig
		err error
	)
	if mc.SlewTime, err = opts.Seconds("slew_sec", 0); err != nil {
		return nil, err
	}
	if mc.HomeTime, err = opts.Seconds("home_sec", 0); err != nil {
		return nil, err
	}
	if mc.ParkTime, err = opts.Seconds("park_sec", 0); err != nil {
		return nil, err
	}
	if mc.PointingError, err = opts.Float("pointing_error_deg", 0); err != nil {
		return nil, err
	}
	if mc.SyncResidual, err = opts.Float("sync_residual", 0.1); err != nil {
		return nil, err
	}
	if mc.NeverHome, err = opts.Bool("never_home", false); err != nil {
		return nil, err
	}
	if mc.FailPark, err = opts.Bool("fail_park", false); err != nil {
		return nil, err
	}

	m := NewMount(cfg.Name, mc, log)
	r.mu.Lock()
	r.mount = m
	r.mu.Unlock()
	return m, nil
}

func (r *Rig) newCamera(cfg model.DeviceConfig, log *logging.Logger) (hardware.Camera, error) {
	speedup, err := hardware.Options(cfg.Options).Float("speedup", 1)
	if err != nil {
		return nil, err
	}
	return NewCamera(cfg.Name, CameraConfig{Primary: cfg.Primary, Speedup: speedup}, r, log), nil
}

func newDome(cfg model.DeviceConfig, _ *logging.Logger) (hardware.Dome, error) {
	return NewDome(cfg.Name), nil
}

func newFocuser(cfg model.DeviceConfig, _ *logging.Logger) (hardware.Focuser, error) {
	pos, err := hardware.Options(cfg.Options).Int("position", 0)
	if err != nil {
		return nil, err
	}
	return NewFocuser(cfg.Name, pos), nil
}

func newFilterWheel(cfg model.DeviceConfig, _ *logging.Logger) (hardware.FilterWheel, error) {
	var filters []string
	if s := hardware.Options(cfg.Options).String("filters", ""); s != "" {
		for _, f := range strings.Split(s, ",") {
			if f = strings.TrimSpace(f); f != "" {
				filters = append(filters, f)
			}
		}
	}
	return NewFilterWheel(cfg.Name, filters), nil
}

func newAnalyzer(cfg model.DeviceConfig, _ *logging.Logger) (hardware.ImageAnalyzer, error) {
	opts := hardware.Options(cfg.Options)
	ra, err := opts.Float("drift_ra_arcsec", 0)
	if err != nil {
		return nil, err
	}
	dec, err := opts.Float("drift_dec_arcsec", 0)
	if err != nil {
		return nil, err
	}
	return NewAnalyzer(hardware.GuideOffset{DeltaRA: ra, DeltaDec: dec}), nil
}
