// Package simulator provides in-process devices for every hardware role.
// The devices of one Rig share a sky: the camera stamps images with where the
// simulated mount is really pointing and the analyzer reads that back.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/logging"
)

type motion int

const (
	motionNone motion = iota
	motionTarget
	motionHome
	motionPark
)

// MountConfig tunes the simulated mount. Zero durations complete a move on
// the next Poll.
type MountConfig struct {
	SlewTime time.Duration
	HomeTime time.Duration
	ParkTime time.Duration
	// PointingError is the Dec offset, in degrees, between where the mount
	// thinks it points and where it really points until it is synced.
	PointingError float64
	// SyncResidual is the fraction of the error left after each Sync.
	SyncResidual float64

	NeverHome      bool
	FailInitialize bool
	FailSlew       bool
	FailPark       bool

	Clock func() time.Time
}

type Mount struct {
	name string
	cfg  MountConfig
	log  *logging.Logger

	mu          sync.Mutex
	connected   bool
	initialized bool
	parked      bool
	atHome      bool
	tracking    bool
	position    astro.Equatorial
	target      *astro.Equatorial
	moving      motion
	moveEnd     time.Time
	pointingErr float64
	corrections []hardware.TrackingCorrection
	status      hardware.MountStatus
}

func NewMount(name string, cfg MountConfig, log *logging.Logger) *Mount {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SyncResidual <= 0 || cfg.SyncResidual > 1 {
		cfg.SyncResidual = 0.1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Mount{
		name:        name,
		cfg:         cfg,
		log:         log,
		parked:      true,
		pointingErr: cfg.PointingError,
	}
}

func (m *Mount) Name() string { return m.name }

func (m *Mount) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mount) Initialize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return hardware.ErrNotConnected
	}
	if m.cfg.FailInitialize {
		return fmt.Errorf("simulated initialization failure")
	}
	m.initialized = true
	return nil
}

func (m *Mount) Poll(context.Context) (hardware.MountStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return m.status, hardware.ErrNotConnected
	}
	now := m.cfg.Clock()
	if m.moving != motionNone && !now.Before(m.moveEnd) {
		switch m.moving {
		case motionTarget:
			m.position = *m.target
			m.tracking = true
		case motionHome:
			m.atHome = !m.cfg.NeverHome
		case motionPark:
			m.parked = true
		}
		m.moving = motionNone
	}

	st := hardware.MountStatus{
		Connected:   m.connected,
		Initialized: m.initialized,
		Parked:      m.parked,
		AtHome:      m.atHome,
		Tracking:    m.tracking,
		Slewing:     m.moving != motionNone,
		Position:    m.position,
		UpdatedAt:   now,
	}
	if m.target != nil {
		t := *m.target
		st.Target = &t
	}
	switch {
	case st.Parked:
		st.State = "Parked"
	case st.Slewing:
		st.State = "Slewing"
	case st.Tracking:
		st.State = "Tracking"
	case st.AtHome:
		st.State = "Stopped - Zero Position"
	default:
		st.State = "Stopped - Not at Zero Position"
	}
	m.status = st
	return st, nil
}

func (m *Mount) Status() hardware.MountStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Mount) SetTarget(_ context.Context, coord astro.Equatorial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	c := coord
	m.target = &c
	return nil
}

func (m *Mount) Sync(_ context.Context, coord astro.Equatorial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	m.position = coord
	m.pointingErr *= m.cfg.SyncResidual
	m.log.Debugf("sync position=%s residual=%.4f", coord, m.pointingErr)
	return nil
}

func (m *Mount) SlewToTarget(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	if m.target == nil {
		return hardware.ErrNoTarget
	}
	if m.cfg.FailSlew {
		return fmt.Errorf("simulated slew failure")
	}
	m.startLocked(motionTarget, m.cfg.SlewTime)
	return nil
}

func (m *Mount) SlewToHome(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	m.target = nil
	m.startLocked(motionHome, m.cfg.HomeTime)
	return nil
}

func (m *Mount) Park(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return hardware.ErrNotConnected
	}
	if m.cfg.FailPark {
		return fmt.Errorf("simulated park failure")
	}
	if m.parked {
		return nil
	}
	m.target = nil
	m.startLocked(motionPark, m.cfg.ParkTime)
	return nil
}

func (m *Mount) Unpark(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return hardware.ErrNotConnected
	}
	m.parked = false
	return nil
}

func (m *Mount) ApplyTrackingCorrection(_ context.Context, c hardware.TrackingCorrection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	m.corrections = append(m.corrections, c)
	m.log.Debugf("guide axis=%s direction=%s duration=%s", c.Axis, c.Direction, c.Duration)
	return nil
}

func (m *Mount) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Corrections returns the guide pulses applied so far.
func (m *Mount) Corrections() []hardware.TrackingCorrection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]hardware.TrackingCorrection(nil), m.corrections...)
}

// SkyPosition is where the mount really points, including its pointing error.
func (m *Mount) SkyPosition() astro.Equatorial {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.position
	p.Dec += m.pointingErr
	if p.Dec > 90 {
		p.Dec = 180 - p.Dec
	}
	return p
}

func (m *Mount) readyLocked() error {
	if !m.connected {
		return hardware.ErrNotConnected
	}
	if m.parked {
		return hardware.ErrParked
	}
	return nil
}

func (m *Mount) startLocked(mv motion, d time.Duration) {
	m.moving = mv
	m.moveEnd = m.cfg.Clock().Add(d)
	m.tracking = false
	m.atHome = false
	m.log.Debugf("move kind=%d duration=%s", mv, d)
}
