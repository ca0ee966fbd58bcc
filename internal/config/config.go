package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 * 1024

// ErrInvalid is wrapped by every validation error returned from Load.
var ErrInvalid = errors.New("invalid config")

// Default pulse widths (microseconds) and pins (BCM) of the stock robot.
var (
	DefaultPins       = [4]int{17, 27, 22, 23}
	DefaultHomePulses = [4]int{1470, 1430, 1490, 1490}
)

const (
	DefaultMinPulse = 500
	DefaultMaxPulse = 2500
	DefaultPort     = 12345
)

// ServoConfig describes the four leg servos. Index i is channel i.
type ServoConfig struct {
	Pins       [4]int `yaml:"pins"`        // BCM pin (pigpiod), channel (maestro) or bus id (feetech)
	HomePulses [4]int `yaml:"home_pulses"` // calibrated neutral pulse width (us)
	MinPulses  [4]int `yaml:"min_pulses"`  // lower clamp (us)
	MaxPulses  [4]int `yaml:"max_pulses"`  // upper clamp (us)
}

// ServiceConfig selects the pulse-width service backend.
type ServiceConfig struct {
	Backend  string `yaml:"backend"`   // "mock", "pigpiod", "maestro" or "feetech"
	Address  string `yaml:"address"`   // pigpiod host:port
	Port     string `yaml:"port"`      // serial device for maestro/feetech
	BaudRate int    `yaml:"baud_rate"` // serial baud rate
}

// MotionConfig tunes the synchronized driver and the controller.
type MotionConfig struct {
	TickMs     int `yaml:"tick_ms"`      // delay between two synchronized micro-updates
	StepUs     int `yaml:"step_us"`      // default pulse change per tick on the widest channel
	JogStep    int `yaml:"jog_step"`     // move_up/move_down delta (offset units, 1 = 10us)
	HomeTrimUs int `yaml:"home_trim_us"` // home_up/home_down delta (us)
	StrideMm   int `yaml:"stride_mm"`    // distance covered by one walking step
}

// AutoConfig tunes the autonomous loop.
type AutoConfig struct {
	IntervalMs int `yaml:"interval_ms"` // pause between two autonomous commands
	ObstacleMm int `yaml:"obstacle_mm"` // range below which the pilot backs off
}

// RangerConfig describes the optional HC-SR04 range sensor.
type RangerConfig struct {
	Enabled    bool `yaml:"enabled"`
	TriggerPin int  `yaml:"trigger_pin"`
	EchoPin    int  `yaml:"echo_pin"`
	TimeoutMs  int  `yaml:"timeout_ms"`
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	Port    int `yaml:"port"`     // TCP command port
	WebPort int `yaml:"web_port"` // status web server, 0 = disabled
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Servos   ServoConfig    `yaml:"servos"`
	Service  ServiceConfig  `yaml:"service"`
	Motion   MotionConfig   `yaml:"motion"`
	Auto     AutoConfig     `yaml:"auto"`
	Ranger   RangerConfig   `yaml:"ranger"`
	Server   ServerConfig   `yaml:"server"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory and contains no traversal.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty config path", ErrInvalid)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%w: config path %q contains traversal", ErrInvalid, path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("%w: config path %q must end in .yaml", ErrInvalid, path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("%w: config path %q must be inside a configs/ directory", ErrInvalid, path)
	}
	return nil
}

// Default returns a configuration with every default applied, as Load would
// produce from an empty file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("%w: config file larger than %d bytes", ErrInvalid, MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	for i := range 4 {
		if cfg.Servos.Pins[i] == 0 {
			cfg.Servos.Pins[i] = DefaultPins[i]
		}
		if cfg.Servos.HomePulses[i] == 0 {
			cfg.Servos.HomePulses[i] = DefaultHomePulses[i]
		}
		if cfg.Servos.MinPulses[i] == 0 {
			cfg.Servos.MinPulses[i] = DefaultMinPulse
		}
		if cfg.Servos.MaxPulses[i] == 0 {
			cfg.Servos.MaxPulses[i] = DefaultMaxPulse
		}
	}

	if cfg.Service.Backend == "" {
		cfg.Service.Backend = "mock"
	}
	if cfg.Service.Address == "" {
		cfg.Service.Address = "localhost:8888" // pigpiod default socket
	}
	if cfg.Service.BaudRate <= 0 {
		switch cfg.Service.Backend {
		case "feetech":
			cfg.Service.BaudRate = 1_000_000
		default:
			cfg.Service.BaudRate = 9600
		}
	}

	if cfg.Motion.TickMs <= 0 {
		cfg.Motion.TickMs = 10
	}
	if cfg.Motion.StepUs <= 0 {
		cfg.Motion.StepUs = 25
	}
	if cfg.Motion.JogStep <= 0 {
		cfg.Motion.JogStep = 5
	}
	if cfg.Motion.HomeTrimUs <= 0 {
		cfg.Motion.HomeTrimUs = 10
	}
	if cfg.Motion.StrideMm <= 0 {
		cfg.Motion.StrideMm = 40
	}

	if cfg.Auto.IntervalMs <= 0 {
		cfg.Auto.IntervalMs = 1000
	}
	if cfg.Auto.ObstacleMm <= 0 {
		cfg.Auto.ObstacleMm = 150
	}

	if cfg.Ranger.TimeoutMs <= 0 {
		cfg.Ranger.TimeoutMs = 30 // ~5m round trip
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
}

// Validate checks ranges that have no sensible default.
func (c *Config) Validate() error {
	switch c.Service.Backend {
	case "mock", "pigpiod", "maestro", "feetech":
	default:
		return fmt.Errorf("%w: unsupported service backend: %s", ErrInvalid, c.Service.Backend)
	}
	if (c.Service.Backend == "maestro" || c.Service.Backend == "feetech") && c.Service.Port == "" {
		return fmt.Errorf("%w: service.port is required for backend %s", ErrInvalid, c.Service.Backend)
	}

	for i := range 4 {
		lo, hi, home := c.Servos.MinPulses[i], c.Servos.MaxPulses[i], c.Servos.HomePulses[i]
		if lo >= hi {
			return fmt.Errorf("%w: servo %d min_pulse %d must be below max_pulse %d", ErrInvalid, i, lo, hi)
		}
		if home < lo || home > hi {
			return fmt.Errorf("%w: servo %d home_pulse %d outside [%d, %d]", ErrInvalid, i, home, lo, hi)
		}
	}

	if c.Ranger.Enabled && (c.Ranger.TriggerPin <= 0 || c.Ranger.EchoPin <= 0) {
		return fmt.Errorf("%w: ranger.trigger_pin and ranger.echo_pin are required", ErrInvalid)
	}
	if c.Server.Port > 65535 || c.Server.WebPort < 0 || c.Server.WebPort > 65535 {
		return fmt.Errorf("%w: port out of range", ErrInvalid)
	}
	return nil
}

// Tick returns the delay between two synchronized micro-updates.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Motion.TickMs) * time.Millisecond
}

// AutoInterval returns the pause between two autonomous commands.
func (c *Config) AutoInterval() time.Duration {
	return time.Duration(c.Auto.IntervalMs) * time.Millisecond
}

// RangerTimeout returns how long the range sensor waits for an echo.
func (c *Config) RangerTimeout() time.Duration {
	return time.Duration(c.Ranger.TimeoutMs) * time.Millisecond
}
