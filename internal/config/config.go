package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Zero-degree move policies.
const (
	ZeroSkip    = "skip"    // a 0° move sends nothing
	ZeroExecute = "execute" // a 0° move sends a 0-pulse command (dir +1, one status)
)

// Serial drivers.
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// StepperConfig holds the wiring of one stepper axis on the device.
type StepperConfig struct {
	PulsePin     int `yaml:"pulse_pin"`
	DirPin       int `yaml:"dir_pin"`
	EnablePin    int `yaml:"enable_pin"`    // 0 = not used
	CWLevel      int `yaml:"cw_level"`      // dir line level for clockwise (0/1)
	CCWLevel     int `yaml:"ccw_level"`     // dir line level for counter-clockwise (0/1)
	EnableActive int `yaml:"enable_active"` // enable line level that powers the driver (0/1)
}

// GearConfig defines the degrees-to-pulses conversion constants.
type GearConfig struct {
	Microstep    int     `yaml:"microstep"`      // microsteps per full step
	GearTeeth    int     `yaml:"gear_teeth"`     // teeth on the driven gear
	StepAngleDeg float64 `yaml:"step_angle_deg"` // degrees per full step
}

// SerialConfig describes the host<->device link.
type SerialConfig struct {
	Device        string `yaml:"device"`          // e.g. /dev/ttyACM0
	Baud          int    `yaml:"baud"`            // fixed framing 8N1, raw
	Driver        string `yaml:"driver"`          // "bugst" (default) or "tarm"
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // poll interval of the status reader
	WaitHost      bool   `yaml:"wait_host"`       // device side: wait for DSR before announcing
}

// LogConfig describes the rotating position log.
type LogConfig struct {
	Dir     string `yaml:"dir"`      // directory holding the log files
	Base    string `yaml:"base"`     // base file name without extension
	MaxSize string `yaml:"max_size"` // rotation threshold, e.g. "10MB"; "" or "0" disables rotation
}

// MovesConfig holds the defaults for individual moves.
type MovesConfig struct {
	DelayUs      int     `yaml:"delay_us"`      // pulse half-period in microseconds
	Report       int     `yaml:"report"`        // status every N pulses
	AzimuthDeg   float64 `yaml:"azimuth_deg"`   // default azimuth move
	ElevationDeg float64 `yaml:"elevation_deg"` // default elevation move
	ZeroDegrees  string  `yaml:"zero_degrees"`  // "skip" or "execute"
}

// SweepConfig defines the observe-mode pattern.
type SweepConfig struct {
	AzimuthDeg       float64 `yaml:"azimuth_deg"`        // azimuth swing per leg (default 360)
	ElevationStepDeg float64 `yaml:"elevation_step_deg"` // elevation step between legs (default 10)
	ElevationSpanDeg float64 `yaml:"elevation_span_deg"` // reverse elevation after this much travel (default 360)
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	StopPollMs int  `yaml:"stop_poll_ms"` // emergency stop input poll interval
}

// Config aggregates all application configuration.
type Config struct {
	AzimuthStepper   StepperConfig  `yaml:"azimuth_stepper"`
	ElevationStepper StepperConfig  `yaml:"elevation_stepper"`
	Gear             GearConfig     `yaml:"gear"`
	Serial           SerialConfig   `yaml:"serial"`
	Log              LogConfig      `yaml:"log"`
	Moves            MovesConfig    `yaml:"moves"`
	Sweep            SweepConfig    `yaml:"sweep"`
	Defaults         DefaultsConfig `yaml:"defaults"`
}

// Default returns the configuration used when no file is given. Pin numbers
// follow the reference Pico wiring.
func Default() *Config {
	cfg := &Config{
		AzimuthStepper:   StepperConfig{PulsePin: 22, DirPin: 17, EnablePin: 27, CWLevel: 0, CCWLevel: 1, EnableActive: 0},
		ElevationStepper: StepperConfig{PulsePin: 13, DirPin: 11, EnablePin: 9, CWLevel: 0, CCWLevel: 1, EnableActive: 0},
	}
	cfg.applyDefaults()
	return cfg
}

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 64 << 10

// Load reads a YAML file and returns the configuration. Unknown keys are
// ignored.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %s, limit is %s", path,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(MaxConfigFileBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gear.Microstep <= 0 {
		c.Gear.Microstep = 4
	}
	if c.Gear.GearTeeth <= 0 {
		c.Gear.GearTeeth = 113
	}
	if c.Gear.StepAngleDeg <= 0 {
		c.Gear.StepAngleDeg = 1.8
	}
	if c.Serial.Device == "" {
		c.Serial.Device = "/dev/ttyACM0"
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.Driver == "" {
		c.Serial.Driver = DriverBugst
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		c.Serial.ReadTimeoutMs = 100
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "."
	}
	if c.Log.Base == "" {
		c.Log.Base = "combined_step_log"
	}
	if c.Moves.DelayUs <= 0 {
		c.Moves.DelayUs = 225
	}
	if c.Moves.Report <= 0 {
		c.Moves.Report = 100
	}
	if c.Moves.ZeroDegrees == "" {
		c.Moves.ZeroDegrees = ZeroSkip
	}
	if c.Sweep.AzimuthDeg == 0 {
		c.Sweep.AzimuthDeg = 360
	}
	if c.Sweep.ElevationStepDeg == 0 {
		c.Sweep.ElevationStepDeg = 10
	}
	if c.Sweep.ElevationSpanDeg <= 0 {
		c.Sweep.ElevationSpanDeg = 360
	}
	if c.Defaults.StopPollMs <= 0 {
		c.Defaults.StopPollMs = 100
	}
}

// Validate checks the values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Moves.ZeroDegrees {
	case ZeroSkip, ZeroExecute:
	default:
		return fmt.Errorf("moves.zero_degrees must be %q or %q, got %q", ZeroSkip, ZeroExecute, c.Moves.ZeroDegrees)
	}
	switch c.Serial.Driver {
	case DriverBugst, DriverTarm:
	default:
		return fmt.Errorf("serial.driver must be %q or %q, got %q", DriverBugst, DriverTarm, c.Serial.Driver)
	}
	if _, err := c.MaxLogSize(); err != nil {
		return err
	}
	if strings.ContainsRune(c.Log.Base, os.PathSeparator) {
		return fmt.Errorf("log.base must be a file name, got %q", c.Log.Base)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	for name, s := range map[string]StepperConfig{"azimuth_stepper": c.AzimuthStepper, "elevation_stepper": c.ElevationStepper} {
		if s.PulsePin <= 0 || s.DirPin <= 0 {
			return fmt.Errorf("%s: pulse_pin and dir_pin are required", name)
		}
		if !isLevel(s.CWLevel) || !isLevel(s.CCWLevel) || !isLevel(s.EnableActive) {
			return fmt.Errorf("%s: levels must be 0 or 1", name)
		}
	}
	return nil
}

func isLevel(v int) bool { return v == 0 || v == 1 }

// StepDelay returns the pulse half-period.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Moves.DelayUs) * time.Microsecond
}

// ReadTimeout returns the status reader poll interval.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// StopPollInterval returns the emergency stop input poll interval.
func (c *Config) StopPollInterval() time.Duration {
	return time.Duration(c.Defaults.StopPollMs) * time.Millisecond
}

// MaxLogSize returns the log rotation threshold in bytes (0 = no rotation).
func (c *Config) MaxLogSize() (int64, error) {
	return ParseSize(c.Log.MaxSize)
}

// ParseSize parses a human size such as "10MB", "512KiB" or "4096".
// An empty string means 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}
