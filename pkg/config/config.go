package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const (
	DefaultUnit           = unit.Name("creelmt-winder-display.service")
	DefaultPollInterval   = 3000 * time.Millisecond
	DefaultCommandTimeout = 5 * time.Second
)

// Config represents the top-level configuration file structure
type Config struct {
	Unit        UnitConfig            `yaml:"unit"`
	Supervision SupervisionConfig     `yaml:"supervision"`
	Backend     processmanager.Config `yaml:"backend"`
	Logging     logging.ZapConfig     `yaml:"logging"`
	Control     ControlConfig         `yaml:"control"`
}

type UnitConfig struct {
	Name unit.Name `yaml:"name" validate:"required,unit_name"`
}

type SupervisionConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"gt=0"`
	LogLines       int           `yaml:"log_lines" validate:"gte=1,lte=100000"`
	WatchUnitFiles *bool         `yaml:"watch_unit_files,omitempty"` // Pointer to distinguish unset from false
	// UnitDirs overrides the directories watched for unit file changes
	UnitDirs []string `yaml:"unit_dirs,omitempty" validate:"omitempty,dive,required"`
}

type ControlConfig struct {
	// GRPCPort serves the health probe; 0 disables it
	GRPCPort int `yaml:"grpc_port,omitempty" validate:"gte=0,lte=65535"`
	// MetricsAddress serves /metrics, /snapshot and /healthz; empty disables it
	MetricsAddress string `yaml:"metrics_address,omitempty" validate:"omitempty,listen_address"`
}

// IsWatchEnabled defaults to true
func (s SupervisionConfig) IsWatchEnabled() bool {
	return s.WatchUnitFiles == nil || *s.WatchUnitFiles
}

// Overrides come from the command line; zero values leave the file or default in place
type Overrides struct {
	Unit           string
	PollInterval   time.Duration
	CommandTimeout time.Duration
	Backend        string
	LogLevel       string
	GRPCPort       int
	MetricsAddress string
	NoWatch        bool
}

func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads configuration from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewConfigError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// Load reads filename when set, otherwise starts from defaults, then applies
// overrides and validates. Every failure is a ConfigError.
func Load(filename string, overrides Overrides) (*Config, error) {
	config := DefaultConfig()
	if filename != "" {
		loaded, err := LoadConfigFromFile(filename)
		if err != nil {
			if errors.IsConfigError(err) {
				return nil, err
			}
			return nil, errors.NewConfigError("failed to load configuration", err).WithContext("filename", filename)
		}
		config = loaded
	}

	ApplyOverrides(config, overrides)

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func ApplyOverrides(config *Config, overrides Overrides) {
	if overrides.Unit != "" {
		config.Unit.Name = unit.Name(overrides.Unit)
	}
	if overrides.PollInterval != 0 {
		config.Supervision.PollInterval = overrides.PollInterval
	}
	if overrides.CommandTimeout != 0 {
		config.Supervision.CommandTimeout = overrides.CommandTimeout
	}
	if overrides.Backend != "" {
		config.Backend.Type = processmanager.BackendType(overrides.Backend)
	}
	if overrides.LogLevel != "" {
		config.Logging.Level = overrides.LogLevel
	}
	if overrides.GRPCPort != 0 {
		config.Control.GRPCPort = overrides.GRPCPort
	}
	if overrides.MetricsAddress != "" {
		config.Control.MetricsAddress = overrides.MetricsAddress
	}
	if overrides.NoWatch {
		watch := false
		config.Supervision.WatchUnitFiles = &watch
	}
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Unit.Name == "" {
		config.Unit.Name = DefaultUnit
	}

	if config.Supervision.PollInterval == 0 {
		config.Supervision.PollInterval = DefaultPollInterval
	}
	if config.Supervision.CommandTimeout == 0 {
		config.Supervision.CommandTimeout = DefaultCommandTimeout
	}
	if config.Supervision.LogLines == 0 {
		config.Supervision.LogLines = unit.DefaultLogLines
	}
	if config.Supervision.WatchUnitFiles == nil {
		watch := true
		config.Supervision.WatchUnitFiles = &watch
	}

	backendDefaults := processmanager.DefaultConfig()
	if config.Backend.Type == "" {
		config.Backend.Type = backendDefaults.Type
	}
	if config.Backend.SystemctlPath == "" {
		config.Backend.SystemctlPath = backendDefaults.SystemctlPath
	}
	if config.Backend.JournalctlPath == "" {
		config.Backend.JournalctlPath = backendDefaults.JournalctlPath
	}
	if config.Backend.UserScope == nil {
		config.Backend.UserScope = backendDefaults.UserScope
	}

	loggingDefaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = loggingDefaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = loggingDefaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = loggingDefaults.Output
	}
}

// Summary is a one-line description for the startup log
func (c *Config) Summary() string {
	return "unit: " + string(c.Unit.Name) +
		", poll_interval: " + c.Supervision.PollInterval.String() +
		", command_timeout: " + c.Supervision.CommandTimeout.String() +
		", backend: " + string(c.Backend.Type)
}
