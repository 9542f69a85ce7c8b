package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard"
	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/comms"
	"github.com/mlsorensen/gobalance/pkg/stream"
)

// DefaultPath is read when no -config flag is given. A missing file at this
// path is not an error.
const DefaultPath = "gobalance.yml"

// Config represents the application configuration
type Config struct {
	Address        string          `yaml:"address"`
	Interpreter    string          `yaml:"interpreter"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	ReceiveTimeout time.Duration   `yaml:"receive_timeout"`
	Discovery      DiscoveryConfig `yaml:"discovery"`
	Transport      TransportConfig `yaml:"transport"`
	Log            LogConfig       `yaml:"log"`
	Stream         StreamConfig    `yaml:"stream"`
}

// DiscoveryConfig controls the inquiry run when no address is given.
type DiscoveryConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	Name           string        `yaml:"name"`
	DefaultAddress string        `yaml:"default_address"`
}

// TransportConfig holds the L2CAP channel numbers.
type TransportConfig struct {
	ControlPSM uint16 `yaml:"control_psm"`
	DataPSM    uint16 `yaml:"data_psm"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StreamConfig enables the live outputs. Empty values disable them.
type StreamConfig struct {
	Listen      string `yaml:"listen"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load reads filename, applies environment overrides and fills defaults.
// A missing file is only an error when it is not DefaultPath.
func Load(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, fs.ErrNotExist) && filename == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("GOBALANCE_ADDRESS"); addr != "" {
		c.Address = addr
	}
	if interp := os.Getenv("GOBALANCE_INTERPRETER"); interp != "" {
		c.Interpreter = interp
	}
	if level := os.Getenv("GOBALANCE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if natsURL := os.Getenv("GOBALANCE_NATS_URL"); natsURL != "" {
		c.Stream.NATSURL = natsURL
	}
}

func (c *Config) setDefaults() {
	if c.Interpreter == "" {
		c.Interpreter = balanceboard.InterpreterCalibrated
	}
	if c.PollInterval <= 0 {
		c.PollInterval = balanceboard.DefaultPollInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = balanceboard.DefaultReceiveTimeout
	}
	if c.Discovery.Timeout <= 0 {
		c.Discovery.Timeout = 10 * time.Second
	}
	if c.Discovery.Name == "" {
		c.Discovery.Name = comms.DeviceName
	}
	if c.Discovery.DefaultAddress == "" {
		c.Discovery.DefaultAddress = comms.DefaultAddress
	}
	if c.Transport.ControlPSM == 0 {
		c.Transport.ControlPSM = comms.ControlPSM
	}
	if c.Transport.DataPSM == 0 {
		c.Transport.DataPSM = comms.DataPSM
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Stream.NATSSubject == "" {
		c.Stream.NATSSubject = stream.DefaultSubjectPrefix
	}
}

// Validate checks values that would only fail later at connect time.
func (c *Config) Validate() error {
	switch c.Interpreter {
	case balanceboard.InterpreterRaw, balanceboard.InterpreterCalibrated:
	default:
		return fmt.Errorf("invalid interpreter %q, want %q or %q", c.Interpreter, balanceboard.InterpreterRaw, balanceboard.InterpreterCalibrated)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q, want console or json", c.Log.Format)
	}
	return nil
}
