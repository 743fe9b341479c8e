// Package model defines the data structures for the observatory's configuration and control state.
package model

type Config struct {
	Observatory  ObservatoryConfig  `yaml:"observatory"`
	Location     LocationConfig     `yaml:"location"`
	Horizon      HorizonConfig      `yaml:"horizon"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Hardware     HardwareConfig     `yaml:"hardware"`
	Weather      WeatherConfig      `yaml:"weather"`
	Store        StoreConfig        `yaml:"store"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Notify       NotifyConfig       `yaml:"notify"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ObservatoryConfig struct {
	Name    string `yaml:"name"`
	Created string `yaml:"created"`
	Root    string `yaml:"root"`
}

type LocationConfig struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`  // degrees, north positive
	Longitude float64 `yaml:"longitude"` // degrees, east positive
	Elevation float64 `yaml:"elevation"` // meters
	// Sun altitudes; nil selects the default, so 0 is a valid setting.
	Horizon        *float64 `yaml:"horizon,omitempty"`         // counts as dark
	ObserveHorizon *float64 `yaml:"observe_horizon,omitempty"` // bounds the observing night
	Timezone       string   `yaml:"timezone"`
}

// HorizonConfig lists obstruction segments as [[alt, az], ...] point lists.
type HorizonConfig struct {
	Obstructions     [][][2]float64 `yaml:"obstructions"`
	DefaultElevation float64        `yaml:"default_elevation"`
}

type SchedulerConfig struct {
	FieldsFile      string                 `yaml:"fields_file"`
	Constraints     []ConstraintConfig     `yaml:"constraints"`
	MinMoonSepDeg   float64                `yaml:"min_moon_sep_deg"`
	DurationHorizon float64                `yaml:"duration_horizon"`
	Rules           []ExpressionRuleConfig `yaml:"rules"`
}

// ConstraintConfig enables one constraint. Type is one of altitude, duration,
// moon_avoidance, already_visited, expression.
type ConstraintConfig struct {
	Type   string   `yaml:"type"`
	Weight *float64 `yaml:"weight,omitempty"`
}

type ExpressionRuleConfig struct {
	Name string `yaml:"name"`
	Veto string `yaml:"veto"`
}

type OrchestratorConfig struct {
	PollIntervalSec        float64  `yaml:"poll_interval_sec"`
	SafetyCheckIntervalSec float64  `yaml:"safety_check_interval_sec"`
	WaitSafeIntervalSec    float64  `yaml:"wait_safe_interval_sec"`
	MaxPointingIterations  int      `yaml:"max_pointing_iterations"`
	PointingThresholdDeg   float64  `yaml:"pointing_threshold_deg"`
	PointingExptimeSec     float64  `yaml:"pointing_exptime_sec"`
	FileTimeoutSec         float64  `yaml:"file_timeout_sec"`
	ReadoutTimeoutSec      float64  `yaml:"readout_timeout_sec"`
	MoveTimeoutSec         float64  `yaml:"move_timeout_sec"`
	GuideRateArcsecPerSec  float64  `yaml:"guide_rate_arcsec_per_sec"`
	MinCorrectionMs        int      `yaml:"min_correction_ms"`
	MaxCorrectionMs        int      `yaml:"max_correction_ms"`
	ImagesDir              string   `yaml:"images_dir"`
	FocusPosition          int      `yaml:"focus_position"`
	Simulators             []string `yaml:"simulators"`
	AutoStart              bool     `yaml:"auto_start"`
}

type HardwareConfig struct {
	Mount       DeviceConfig   `yaml:"mount"`
	Cameras     []DeviceConfig `yaml:"cameras"`
	Dome        *DeviceConfig  `yaml:"dome,omitempty"`
	Focuser     *DeviceConfig  `yaml:"focuser,omitempty"`
	FilterWheel *DeviceConfig  `yaml:"filter_wheel,omitempty"`
	Analyzer    DeviceConfig   `yaml:"analyzer"`
}

// DeviceConfig selects a backend for one device role. Options are backend specific.
type DeviceConfig struct {
	Name    string            `yaml:"name"`
	Backend string            `yaml:"backend"`
	Port    string            `yaml:"port,omitempty"`
	Primary bool              `yaml:"primary,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

type WeatherConfig struct {
	File     string `yaml:"file"`
	StaleSec int    `yaml:"stale_sec"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type NotifyConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Command        string `yaml:"command"`
	MinIntervalSec int    `yaml:"min_interval_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}
