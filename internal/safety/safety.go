// Package safety decides whether the observatory may operate: it must be dark
// at the site and the latest weather record must report safe conditions.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/observatory/internal/astro"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
	yamlutil "github.com/msageha/observatory/internal/yaml"
)

const (
	DefaultDarkHorizon = -12.0
	DefaultStaleAfter  = 180 * time.Second

	SimulateNight   = "night"
	SimulateWeather = "weather"
	SimulateAll     = "all"
)

// WeatherRecord is the weather.yaml document written by the weather station bridge.
type WeatherRecord struct {
	SchemaVersion int               `yaml:"schema_version"`
	FileType      string            `yaml:"file_type"`
	Safe          bool              `yaml:"safe"`
	UpdatedAt     time.Time         `yaml:"updated_at"`
	Conditions    map[string]string `yaml:"conditions,omitempty"`
}

type Config struct {
	Location    astro.Location
	DarkHorizon float64 // Sun altitude below which it counts as dark
	WeatherFile string
	StaleAfter  time.Duration

	SimulateNight   bool
	SimulateWeather bool

	Clock func() time.Time
}

// Report is one evaluation of both halves of the check.
type Report struct {
	Time        time.Time `json:"time" yaml:"time"`
	Dark        bool      `json:"dark" yaml:"dark"`
	WeatherSafe bool      `json:"weather_safe" yaml:"weather_safe"`
	SunAltitude float64   `json:"sun_altitude" yaml:"sun_altitude"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (r Report) Safe() bool { return r.Dark && r.WeatherSafe }

// Monitor implements the orchestrator's safety collaborator.
type Monitor struct {
	cfg Config
	log *logging.Logger

	mu         sync.Mutex
	lastSafe   *bool
	lastReason string
}

func NewMonitor(cfg Config, log *logging.Logger) *Monitor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Monitor{cfg: cfg, log: log}
}

// ConfigFrom builds a monitor configuration from the daemon config. Relative
// weather paths are resolved against baseDir.
func ConfigFrom(cfg model.Config, baseDir string) Config {
	horizon := DefaultDarkHorizon
	if cfg.Location.Horizon != nil {
		horizon = *cfg.Location.Horizon
	}
	file := cfg.Weather.File
	if file == "" {
		file = "weather.yaml"
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}
	out := Config{
		Location: astro.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
			Elevation: cfg.Location.Elevation,
		},
		DarkHorizon: horizon,
		WeatherFile: file,
		StaleAfter:  time.Duration(cfg.Weather.StaleSec) * time.Second,
	}
	for _, s := range cfg.Orchestrator.Simulators {
		switch s {
		case SimulateNight:
			out.SimulateNight = true
		case SimulateWeather:
			out.SimulateWeather = true
		case SimulateAll:
			out.SimulateNight = true
			out.SimulateWeather = true
		}
	}
	return out
}

func (m *Monitor) IsDark() bool {
	dark, _ := m.dark(m.cfg.Clock())
	return dark
}

func (m *Monitor) dark(t time.Time) (bool, float64) {
	alt := m.cfg.Location.SunAltitude(t)
	if m.cfg.SimulateNight {
		return true, alt
	}
	return alt < m.cfg.DarkHorizon, alt
}

func (m *Monitor) IsWeatherSafe() bool {
	safe, _ := m.weather(m.cfg.Clock())
	return safe
}

func (m *Monitor) weather(now time.Time) (bool, string) {
	if m.cfg.SimulateWeather {
		return true, ""
	}
	rec, err := ReadWeather(m.cfg.WeatherFile)
	if err != nil {
		return false, err.Error()
	}
	if !rec.Safe {
		return false, "weather station reports unsafe"
	}
	if age := now.Sub(rec.UpdatedAt); age > m.cfg.StaleAfter {
		return false, fmt.Sprintf("weather record stale (%s old)", age.Truncate(time.Second))
	}
	return true, ""
}

// Check evaluates both halves and logs when the overall verdict changes.
func (m *Monitor) Check() Report {
	now := m.cfg.Clock()
	dark, alt := m.dark(now)
	weatherSafe, reason := m.weather(now)
	if !dark {
		reason = joinReason(fmt.Sprintf("sun altitude %.1f above %.1f", alt, m.cfg.DarkHorizon), reason)
	}
	r := Report{Time: now, Dark: dark, WeatherSafe: weatherSafe, SunAltitude: alt, Reason: reason}

	m.mu.Lock()
	defer m.mu.Unlock()
	safe := r.Safe()
	if m.lastSafe == nil || *m.lastSafe != safe || (!safe && reason != m.lastReason) {
		if safe {
			m.log.Infof("safety_ok sun_alt=%.1f", alt)
		} else {
			m.log.Warnf("safety_unsafe dark=%t weather_safe=%t reason=%q", dark, weatherSafe, reason)
		}
	}
	m.lastSafe = &safe
	m.lastReason = reason
	return r
}

func joinReason(a, b string) string {
	if b == "" {
		return a
	}
	return a + "; " + b
}

// ReadWeather loads the weather record, falling back to its backup.
func ReadWeather(path string) (WeatherRecord, error) {
	var rec WeatherRecord
	_, err := yamlutil.ReadWithRecovery(path, &rec)
	if errors.Is(err, yamlutil.ErrNotExist) {
		return rec, fmt.Errorf("no weather record at %s", path)
	}
	if err != nil {
		return rec, fmt.Errorf("read weather record: %w", err)
	}
	if rec.FileType != "weather" {
		return rec, fmt.Errorf("weather record: file_type %q", rec.FileType)
	}
	return rec, nil
}

// WriteWeather atomically replaces the weather record.
func WriteWeather(path string, rec WeatherRecord) error {
	rec.SchemaVersion = yamlutil.CurrentSchemaVersion
	rec.FileType = "weather"
	return yamlutil.AtomicWrite(path, rec)
}
