// Package hardware defines the device roles the orchestrator drives. Each role
// is a capability interface with one implementation per backend; backends are
// chosen from configuration when the Registry is built.
package hardware

import (
	"context"
	"errors"
	"time"

	"github.com/msageha/observatory/internal/astro"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrParked       = errors.New("mount is parked")
	ErrNoTarget     = errors.New("mount target not set")
)

// MountStatus is a snapshot of the mount's state as of UpdatedAt. It only
// changes when Poll is called.
type MountStatus struct {
	Connected   bool              `json:"connected"`
	Initialized bool              `json:"initialized"`
	Parked      bool              `json:"parked"`
	AtHome      bool              `json:"at_home"`
	Tracking    bool              `json:"tracking"`
	Slewing     bool              `json:"slewing"`
	State       string            `json:"state,omitempty"`
	Position    astro.Equatorial  `json:"position"`
	Target      *astro.Equatorial `json:"target,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Mount interface {
	Name() string
	Connect(ctx context.Context) error
	Initialize(ctx context.Context) error
	// Poll queries the device and returns a fresh status.
	Poll(ctx context.Context) (MountStatus, error)
	// Status returns the result of the last Poll without touching the device.
	Status() MountStatus
	SetTarget(ctx context.Context, coord astro.Equatorial) error
	// Sync tells the mount it is actually pointing at coord.
	Sync(ctx context.Context, coord astro.Equatorial) error
	SlewToTarget(ctx context.Context) error
	SlewToHome(ctx context.Context) error
	Park(ctx context.Context) error
	Unpark(ctx context.Context) error
	ApplyTrackingCorrection(ctx context.Context, c TrackingCorrection) error
	Close() error
}

// Camera starts exposures asynchronously. Completion is observed by the
// appearance of the destination file.
type Camera interface {
	Name() string
	Primary() bool
	Connect(ctx context.Context) error
	Capture(ctx context.Context, exptime time.Duration, dest string, header map[string]string) error
	Close() error
}

type Dome interface {
	Name() string
	Connect(ctx context.Context) error
	Open(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	IsOpen() bool
	Close() error
}

type Focuser interface {
	Name() string
	Connect(ctx context.Context) error
	MoveTo(ctx context.Context, position int) error
	Position() int
	Close() error
}

type FilterWheel interface {
	Name() string
	Connect(ctx context.Context) error
	SetFilter(ctx context.Context, filter string) error
	Filter() string
	Close() error
}

// PointingSolution is the plate-solved center of a pointing image.
type PointingSolution struct {
	Center     astro.Equatorial `json:"center"`
	Separation float64          `json:"separation_deg"`
}

// GuideOffset is the drift between two images in arcseconds.
type GuideOffset struct {
	DeltaRA  float64 `json:"delta_ra_arcsec"`
	DeltaDec float64 `json:"delta_dec_arcsec"`
}

type ImageAnalyzer interface {
	MeasurePointingError(ctx context.Context, imagePath string, target astro.Equatorial) (PointingSolution, error)
	MeasureGuideOffset(ctx context.Context, reference, image string) (GuideOffset, error)
}
