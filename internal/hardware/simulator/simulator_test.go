package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/model"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func waitForFile(t *testing.T, path string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMount_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
	m := NewMount("sim", MountConfig{SlewTime: time.Minute, HomeTime: 30 * time.Second, Clock: clock.Now}, nil)

	_, err := m.Poll(ctx)
	assert.ErrorIs(t, err, hardware.ErrNotConnected)

	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Initialize(ctx))
	st, err := m.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, st.Parked)
	assert.Equal(t, "Parked", st.State)

	target := astro.Equatorial{RA: 120, Dec: 30}
	assert.ErrorIs(t, m.SetTarget(ctx, target), hardware.ErrParked)

	require.NoError(t, m.Unpark(ctx))
	require.NoError(t, m.SlewToHome(ctx))
	st, _ = m.Poll(ctx)
	assert.True(t, st.Slewing)
	assert.False(t, st.AtHome)

	clock.Advance(30 * time.Second)
	st, _ = m.Poll(ctx)
	assert.True(t, st.AtHome)
	assert.Equal(t, "Stopped - Zero Position", st.State)

	assert.ErrorIs(t, m.SlewToTarget(ctx), hardware.ErrNoTarget)
	require.NoError(t, m.SetTarget(ctx, target))
	require.NoError(t, m.SlewToTarget(ctx))
	clock.Advance(59 * time.Second)
	st, _ = m.Poll(ctx)
	assert.True(t, st.Slewing)
	assert.False(t, st.Tracking)
	clock.Advance(time.Second)
	st, _ = m.Poll(ctx)
	assert.True(t, st.Tracking)
	assert.Equal(t, target, st.Position)
	assert.Equal(t, st, m.Status())

	c := hardware.TrackingCorrection{Axis: hardware.AxisRA, Duration: time.Second, Direction: hardware.DirectionEast}
	require.NoError(t, m.ApplyTrackingCorrection(ctx, c))
	assert.Equal(t, []hardware.TrackingCorrection{c}, m.Corrections())

	require.NoError(t, m.Park(ctx))
	st, _ = m.Poll(ctx)
	assert.True(t, st.Parked, "zero park time completes on the next poll")
}

func TestMount_FaultInjection(t *testing.T) {
	ctx := context.Background()

	m := NewMount("sim", MountConfig{NeverHome: true, FailPark: true, FailInitialize: true}, nil)
	require.NoError(t, m.Connect(ctx))
	assert.Error(t, m.Initialize(ctx))
	require.NoError(t, m.Unpark(ctx))
	require.NoError(t, m.SlewToHome(ctx))
	st, _ := m.Poll(ctx)
	assert.False(t, st.AtHome)
	assert.Error(t, m.Park(ctx))
}

func TestMount_SyncReducesPointingError(t *testing.T) {
	ctx := context.Background()
	m := NewMount("sim", MountConfig{PointingError: 0.5, SyncResidual: 0.1}, nil)
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Unpark(ctx))

	target := astro.Equatorial{RA: 200, Dec: 10}
	require.NoError(t, m.SetTarget(ctx, target))
	require.NoError(t, m.SlewToTarget(ctx))
	_, _ = m.Poll(ctx)
	assert.InDelta(t, 0.5, astro.Separation(m.SkyPosition(), target), 1e-9)

	require.NoError(t, m.Sync(ctx, m.SkyPosition()))
	require.NoError(t, m.SetTarget(ctx, target))
	require.NoError(t, m.SlewToTarget(ctx))
	_, _ = m.Poll(ctx)
	assert.InDelta(t, 0.05, astro.Separation(m.SkyPosition(), target), 1e-9)
}

func TestCameraAndAnalyzer(t *testing.T) {
	ctx := context.Background()
	rig := NewRig()
	backends := rig.Backends()

	mount, err := backends.Mounts["simulator"](model.DeviceConfig{Name: "mount", Options: map[string]string{"pointing_error_deg": "0.2"}}, nil)
	require.NoError(t, err)
	cam, err := backends.Cameras["simulator"](model.DeviceConfig{Name: "cam", Options: map[string]string{"speedup": "1000"}}, nil)
	require.NoError(t, err)
	analyzer, err := backends.Analyzers["simulator"](model.DeviceConfig{Options: map[string]string{"drift_ra_arcsec": "3"}}, nil)
	require.NoError(t, err)

	require.NoError(t, mount.Connect(ctx))
	require.NoError(t, mount.Unpark(ctx))
	target := astro.Equatorial{RA: 50, Dec: 20}
	require.NoError(t, mount.SetTarget(ctx, target))
	require.NoError(t, mount.SlewToTarget(ctx))
	_, err = mount.Poll(ctx)
	require.NoError(t, err)

	dir := t.TempDir()
	dest := filepath.Join(dir, "pointing_000.fits")
	assert.ErrorIs(t, cam.Capture(ctx, time.Second, dest, nil), hardware.ErrNotConnected)
	require.NoError(t, cam.Connect(ctx))
	require.NoError(t, cam.Capture(ctx, time.Second, dest, map[string]string{"OBJECT": "M31"}))
	waitForFile(t, dest)

	hdr, err := readFITSHeader(dest)
	require.NoError(t, err)
	assert.Equal(t, "M31", hdr["OBJECT"])
	assert.Equal(t, "1.000", hdr["EXPTIME"])

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size()%fitsBlock)

	sol, err := analyzer.MeasurePointingError(ctx, dest, target)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, sol.Separation, 1e-5)
	assert.InDelta(t, 20.2, sol.Center.Dec, 1e-5)

	second := filepath.Join(dir, "img_001.fits")
	require.NoError(t, cam.Capture(ctx, time.Second, second, nil))
	waitForFile(t, second)
	off, err := analyzer.MeasureGuideOffset(ctx, dest, second)
	require.NoError(t, err)
	assert.Equal(t, hardware.GuideOffset{DeltaRA: 3}, off)

	_, err = analyzer.MeasureGuideOffset(ctx, dest, filepath.Join(dir, "missing.fits"))
	assert.Error(t, err)

	require.NoError(t, cam.Close())
}

func TestCamera_CloseAbortsPendingExposure(t *testing.T) {
	ctx := context.Background()
	cam := NewCamera("cam", CameraConfig{}, nil, nil)
	require.NoError(t, cam.Connect(ctx))
	dest := filepath.Join(t.TempDir(), "long.fits")
	require.NoError(t, cam.Capture(ctx, time.Hour, dest, nil))
	require.NoError(t, cam.Close())
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
}

func TestAccessories(t *testing.T) {
	ctx := context.Background()

	d := NewDome("dome")
	assert.ErrorIs(t, d.Open(ctx), hardware.ErrNotConnected)
	require.NoError(t, d.Connect(ctx))
	require.NoError(t, d.Open(ctx))
	assert.True(t, d.IsOpen())
	require.NoError(t, d.CloseShutter(ctx))
	assert.False(t, d.IsOpen())

	f := NewFocuser("focuser", 100)
	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.MoveTo(ctx, 4200))
	assert.Equal(t, 4200, f.Position())

	w := NewFilterWheel("wheel", []string{"L", "R"})
	assert.Equal(t, "L", w.Filter())
	require.NoError(t, w.Connect(ctx))
	require.NoError(t, w.SetFilter(ctx, "R"))
	var unknown *UnknownFilterError
	assert.ErrorAs(t, w.SetFilter(ctx, "Ha"), &unknown)
	assert.Equal(t, "R", w.Filter())
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := model.HardwareConfig{
		Mount:       model.DeviceConfig{Name: "mount", Backend: "simulator"},
		Cameras:     []model.DeviceConfig{{Name: "cam0"}, {Name: "cam1"}},
		Dome:        &model.DeviceConfig{Name: "dome"},
		FilterWheel: &model.DeviceConfig{Name: "wheel", Options: map[string]string{"filters": "g, r ,i"}},
		Analyzer:    model.DeviceConfig{Name: "solver"},
	}
	rig := NewRig()
	reg, err := hardware.NewRegistry(cfg, rig.Backends(), nil)
	require.NoError(t, err)

	assert.Same(t, rig.Mount(), reg.Mount)
	require.Len(t, reg.Cameras, 2)
	assert.Equal(t, "cam0", reg.PrimaryCamera().Name())
	assert.NotNil(t, reg.Dome)
	assert.Nil(t, reg.Focuser)
	require.NoError(t, reg.ConnectAccessories(context.Background()))
	require.NoError(t, reg.FilterWheel.SetFilter(context.Background(), "i"))
	require.NoError(t, reg.Close())

	cfg.Mount.Backend = "ascom"
	_, err = hardware.NewRegistry(cfg, rig.Backends(), nil)
	assert.ErrorContains(t, err, `unknown mount backend "ascom"`)

	cfg.Mount.Backend = ""
	cfg.Cameras = nil
	_, err = hardware.NewRegistry(cfg, rig.Backends(), nil)
	assert.Error(t, err)
}
