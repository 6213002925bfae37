package processmanager

import (
	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/process"
)

type BackendType string

const (
	BackendSystemctl BackendType = "systemctl"
	BackendDBus      BackendType = "dbus"
)

const (
	DefaultSystemctlPath  = "/usr/bin/systemctl"
	DefaultJournalctlPath = "/usr/bin/journalctl"
)

type Config struct {
	Type           BackendType `yaml:"type" validate:"omitempty,oneof=systemctl dbus"`
	SystemctlPath  string      `yaml:"systemctl_path,omitempty"`
	JournalctlPath string      `yaml:"journalctl_path,omitempty"`
	UserScope      *bool       `yaml:"user_scope,omitempty"` // Pointer to distinguish unset from false
}

func DefaultConfig() Config {
	userScope := true
	return Config{
		Type:           BackendSystemctl,
		SystemctlPath:  DefaultSystemctlPath,
		JournalctlPath: DefaultJournalctlPath,
		UserScope:      &userScope,
	}
}

// IsUserScope defaults to true
func (c Config) IsUserScope() bool {
	return c.UserScope == nil || *c.UserScope
}

// New creates the configured backend
func New(config Config, runner process.Runner, logger logging.Logger) (ProcessManager, error) {
	systemctl := NewSystemctlManager(config, runner, logger)

	switch config.Type {
	case BackendSystemctl, "":
		return systemctl, nil
	case BackendDBus:
		return NewDBusManager(config, systemctl, logger), nil
	default:
		return nil, errors.NewConfigError("unsupported process manager backend: "+string(config.Type), nil).
			WithContext("supported_backends", "systemctl, dbus")
	}
}
