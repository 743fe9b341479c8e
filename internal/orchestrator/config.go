package orchestrator

import (
	"path/filepath"
	"time"

	"github.com/msageha/observatory/internal/hardware"
	"github.com/msageha/observatory/internal/model"
)

const (
	DefaultPollInterval          = 5 * time.Second
	DefaultSafetyCheckInterval   = 30 * time.Second
	DefaultWaitSafeInterval      = 5 * time.Minute
	DefaultMaxPointingIterations = 3
	DefaultPointingThreshold     = 0.05 // degrees
	DefaultPointingExptime       = 30 * time.Second
	DefaultFileTimeout           = 60 * time.Second
	DefaultReadoutTimeout        = 10 * time.Second
	DefaultMoveTimeout           = 5 * time.Minute
	DefaultCommandTimeout        = 30 * time.Second
)

type Config struct {
	PollInterval          time.Duration
	SafetyCheckInterval   time.Duration
	WaitSafeInterval      time.Duration
	MaxPointingIterations int
	PointingThreshold     float64
	PointingExptime       time.Duration
	// FileTimeout is the shortest wait for an exposure's file; longer
	// exposures wait for exposure time plus ReadoutTimeout.
	FileTimeout    time.Duration
	ReadoutTimeout time.Duration
	// MoveTimeout bounds slews and parking. The wait for the home position
	// is unbounded.
	MoveTimeout    time.Duration
	CommandTimeout time.Duration
	Corrections    hardware.CorrectionLimits
	ImagesDir      string
	FocusPosition  int
	AutoStart      bool
}

// ConfigFrom converts the orchestrator section of the daemon config.
// A relative images_dir is resolved against baseDir.
func ConfigFrom(mc model.OrchestratorConfig, baseDir string) Config {
	imagesDir := mc.ImagesDir
	if imagesDir == "" {
		imagesDir = "images"
	}
	if !filepath.IsAbs(imagesDir) {
		imagesDir = filepath.Join(baseDir, imagesDir)
	}
	return Config{
		PollInterval:          seconds(mc.PollIntervalSec),
		SafetyCheckInterval:   seconds(mc.SafetyCheckIntervalSec),
		WaitSafeInterval:      seconds(mc.WaitSafeIntervalSec),
		MaxPointingIterations: mc.MaxPointingIterations,
		PointingThreshold:     mc.PointingThresholdDeg,
		PointingExptime:       seconds(mc.PointingExptimeSec),
		FileTimeout:           seconds(mc.FileTimeoutSec),
		ReadoutTimeout:        seconds(mc.ReadoutTimeoutSec),
		MoveTimeout:           seconds(mc.MoveTimeoutSec),
		Corrections: hardware.CorrectionLimits{
			GuideRate: mc.GuideRateArcsecPerSec,
			Min:       time.Duration(mc.MinCorrectionMs) * time.Millisecond,
			Max:       time.Duration(mc.MaxCorrectionMs) * time.Millisecond,
		},
		ImagesDir:     imagesDir,
		FocusPosition: mc.FocusPosition,
		AutoStart:     mc.AutoStart,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SafetyCheckInterval <= 0 {
		c.SafetyCheckInterval = DefaultSafetyCheckInterval
	}
	if c.WaitSafeInterval <= 0 {
		c.WaitSafeInterval = DefaultWaitSafeInterval
	}
	if c.MaxPointingIterations <= 0 {
		c.MaxPointingIterations = DefaultMaxPointingIterations
	}
	if c.PointingThreshold <= 0 {
		c.PointingThreshold = DefaultPointingThreshold
	}
	if c.PointingExptime <= 0 {
		c.PointingExptime = DefaultPointingExptime
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.ReadoutTimeout <= 0 {
		c.ReadoutTimeout = DefaultReadoutTimeout
	}
	if c.MoveTimeout <= 0 {
		c.MoveTimeout = DefaultMoveTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.ImagesDir == "" {
		c.ImagesDir = "images"
	}
	return c
}

// fileTimeout is how long to wait for the file of an exposure of length exptime.
func (c Config) fileTimeout(exptime time.Duration) time.Duration {
	return max(c.FileTimeout, exptime+c.ReadoutTimeout)
}
