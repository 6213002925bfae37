package processmanager

import (
	"context"

	"github.com/core-tools/hsu-unitwatch/pkg/process"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// Querier answers the two read-only state queries with the manager's raw
// one-line answer ("active", "inactive", "enabled", "static", ...). An error
// means the query could not be executed at all.
type Querier interface {
	IsActive(ctx context.Context, name unit.Name) (string, error)
	IsEnabled(ctx context.Context, name unit.Name) (string, error)
}

// Invocation is the outcome of a control command that was executed
type Invocation struct {
	ExitCode int
	Stderr   string
}

// ActionInvoker runs exactly one control command per call. An error means the
// command could not be executed; a refused command is a non-zero ExitCode.
type ActionInvoker interface {
	Invoke(ctx context.Context, action unit.Action, name unit.Name) (Invocation, error)
}

// Journal reads the last lines of a unit's log output
type Journal interface {
	Logs(ctx context.Context, name unit.Name, lines int) (process.Result, error)
}

// ProcessManager is the user-scoped service manager as seen by the supervisor
type ProcessManager interface {
	Querier
	ActionInvoker
	Journal
}
