package processmanager

import (
	"context"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/process"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// SystemctlManager drives systemctl and journalctl. The unit name is always
// the last argv token, after "--" for systemctl.
type SystemctlManager struct {
	config Config
	runner process.Runner
	logger logging.Logger
}

func NewSystemctlManager(config Config, runner process.Runner, logger logging.Logger) *SystemctlManager {
	if config.SystemctlPath == "" {
		config.SystemctlPath = DefaultSystemctlPath
	}
	if config.JournalctlPath == "" {
		config.JournalctlPath = DefaultJournalctlPath
	}
	return &SystemctlManager{
		config: config,
		runner: runner,
		logger: logger,
	}
}

func (m *SystemctlManager) systemctl(verb string, name unit.Name) process.Command {
	args := make([]string, 0, 4)
	if m.config.IsUserScope() {
		args = append(args, "--user")
	}
	args = append(args, verb, "--", string(name))
	return process.Command{Path: m.config.SystemctlPath, Args: args}
}

func (m *SystemctlManager) query(ctx context.Context, verb string, name unit.Name) (string, error) {
	result, err := m.runner.Run(ctx, m.systemctl(verb, name))
	if err != nil {
		return "", errors.NewQueryError(verb+" query failed", err).WithContext("unit", string(name))
	}
	answer := strings.TrimSpace(result.Stdout)
	m.logger.Debugf("Query answered, verb: %s, unit: %s, answer: %q, exit_code: %d", verb, name, answer, result.ExitCode)
	return answer, nil
}

func (m *SystemctlManager) IsActive(ctx context.Context, name unit.Name) (string, error) {
	return m.query(ctx, "is-active", name)
}

func (m *SystemctlManager) IsEnabled(ctx context.Context, name unit.Name) (string, error) {
	return m.query(ctx, "is-enabled", name)
}

func (m *SystemctlManager) Invoke(ctx context.Context, action unit.Action, name unit.Name) (Invocation, error) {
	if !action.Valid() {
		return Invocation{}, errors.NewValidationError("unknown action: "+string(action), nil)
	}

	result, err := m.runner.Run(ctx, m.systemctl(string(action), name))
	if err != nil {
		return Invocation{}, errors.NewActionError(string(action)+" could not be executed", err).WithContext("unit", string(name))
	}

	return Invocation{ExitCode: result.ExitCode, Stderr: result.Stderr}, nil
}

func (m *SystemctlManager) Logs(ctx context.Context, name unit.Name, lines int) (process.Result, error) {
	args := make([]string, 0, 7)
	if m.config.IsUserScope() {
		args = append(args, "--user")
	}
	args = append(args, "-u", string(name), "-n", strconv.Itoa(lines), "--no-pager", "--output=short")

	result, err := m.runner.Run(ctx, process.Command{Path: m.config.JournalctlPath, Args: args})
	if err != nil {
		return process.Result{}, errors.NewQueryError("journal query failed", err).WithContext("unit", string(name))
	}
	return result, nil
}
