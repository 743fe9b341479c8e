package hardware

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

type (
	MountFactory       = func(cfg model.DeviceConfig, log *logging.Logger) (Mount, error)
	CameraFactory      = func(cfg model.DeviceConfig, log *logging.Logger) (Camera, error)
	DomeFactory        = func(cfg model.DeviceConfig, log *logging.Logger) (Dome, error)
	FocuserFactory     = func(cfg model.DeviceConfig, log *logging.Logger) (Focuser, error)
	FilterWheelFactory = func(cfg model.DeviceConfig, log *logging.Logger) (FilterWheel, error)
	AnalyzerFactory    = func(cfg model.DeviceConfig, log *logging.Logger) (ImageAnalyzer, error)
)

// Backends maps a backend name (the "backend" key of a device entry) to its
// constructor, per role.
type Backends struct {
	Mounts       map[string]MountFactory
	Cameras      map[string]CameraFactory
	Domes        map[string]DomeFactory
	Focusers     map[string]FocuserFactory
	FilterWheels map[string]FilterWheelFactory
	Analyzers    map[string]AnalyzerFactory
}

// Merge returns b with every entry of other added, other winning on conflict.
func (b Backends) Merge(other Backends) Backends {
	return Backends{
		Mounts:       mergeMap(b.Mounts, other.Mounts),
		Cameras:      mergeMap(b.Cameras, other.Cameras),
		Domes:        mergeMap(b.Domes, other.Domes),
		Focusers:     mergeMap(b.Focusers, other.Focusers),
		FilterWheels: mergeMap(b.FilterWheels, other.FilterWheels),
		Analyzers:    mergeMap(b.Analyzers, other.Analyzers),
	}
}

func mergeMap[V any](a, b map[string]V) map[string]V {
	out := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Registry holds every device constructed for this process. It is built once
// at startup and passed to the components that need devices.
type Registry struct {
	Mount       Mount
	Cameras     []Camera
	Dome        Dome
	Focuser     Focuser
	FilterWheel FilterWheel
	Analyzer    ImageAnalyzer
}

// NewRegistry constructs the devices named in cfg. A mount, at least one
// camera and an analyzer are required; dome, focuser and filter wheel are
// optional.
func NewRegistry(cfg model.HardwareConfig, backends Backends, log *logging.Logger) (*Registry, error) {
	if log == nil {
		log = logging.Discard()
	}
	r := &Registry{}

	var err error
	if r.Mount, err = build("mount", cfg.Mount, backends.Mounts, log); err != nil {
		return nil, err
	}

	if len(cfg.Cameras) == 0 {
		return nil, fmt.Errorf("hardware: at least one camera is required")
	}
	for i, c := range cfg.Cameras {
		if i == 0 && !anyPrimary(cfg.Cameras) {
			c.Primary = true
		}
		cam, err := build("camera", c, backends.Cameras, log)
		if err != nil {
			return nil, err
		}
		r.Cameras = append(r.Cameras, cam)
	}

	if cfg.Dome != nil {
		if r.Dome, err = build("dome", *cfg.Dome, backends.Domes, log); err != nil {
			return nil, err
		}
	}
	if cfg.Focuser != nil {
		if r.Focuser, err = build("focuser", *cfg.Focuser, backends.Focusers, log); err != nil {
			return nil, err
		}
	}
	if cfg.FilterWheel != nil {
		if r.FilterWheel, err = build("filter_wheel", *cfg.FilterWheel, backends.FilterWheels, log); err != nil {
			return nil, err
		}
	}
	if r.Analyzer, err = build("analyzer", cfg.Analyzer, backends.Analyzers, log); err != nil {
		return nil, err
	}
	return r, nil
}

func build[T any](role string, cfg model.DeviceConfig, factories map[string]func(model.DeviceConfig, *logging.Logger) (T, error), log *logging.Logger) (T, error) {
	var zero T
	backend := cfg.Backend
	if backend == "" {
		backend = "simulator"
	}
	f, ok := factories[backend]
	if !ok {
		return zero, fmt.Errorf("hardware: unknown %s backend %q", role, backend)
	}
	name := cfg.Name
	if name == "" {
		name = role
	}
	dev, err := f(cfg, log.With(role+"/"+name))
	if err != nil {
		return zero, fmt.Errorf("hardware: %s %q: %w", role, name, err)
	}
	log.Infof("device_ready role=%s name=%q backend=%s", role, name, backend)
	return dev, nil
}

func anyPrimary(cams []model.DeviceConfig) bool {
	for _, c := range cams {
		if c.Primary {
			return true
		}
	}
	return false
}

// PrimaryCamera returns the camera whose images are used for pointing and guiding.
func (r *Registry) PrimaryCamera() Camera {
	for _, c := range r.Cameras {
		if c.Primary() {
			return c
		}
	}
	if len(r.Cameras) > 0 {
		return r.Cameras[0]
	}
	return nil
}

// ConnectAccessories connects the optional devices that are present.
func (r *Registry) ConnectAccessories(ctx context.Context) error {
	var errs []error
	if r.Dome != nil {
		if err := r.Dome.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dome: %w", err))
		}
	}
	if r.Focuser != nil {
		if err := r.Focuser.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("focuser: %w", err))
		}
	}
	if r.FilterWheel != nil {
		if err := r.FilterWheel.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("filter wheel: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every device. It returns all close errors joined.
func (r *Registry) Close() error {
	var errs []error
	if r.Mount != nil {
		errs = append(errs, r.Mount.Close())
	}
	for _, c := range r.Cameras {
		errs = append(errs, c.Close())
	}
	if r.Dome != nil {
		errs = append(errs, r.Dome.Close())
	}
	if r.Focuser != nil {
		errs = append(errs, r.Focuser.Close())
	}
	if r.FilterWheel != nil {
		errs = append(errs, r.FilterWheel.Close())
	}
	return errors.Join(errs...)
}
