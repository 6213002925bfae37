package unit

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
)

// Name identifies the supervised unit, e.g. "demo.service"
type Name string

func (n Name) String() string {
	return string(n)
}

// Snapshot is a point-in-time observation of a unit. Active and Enabled are
// always observed by the same poll.
type Snapshot struct {
	Active     bool      `json:"active"`
	Enabled    bool      `json:"enabled"`
	ObservedAt time.Time `json:"observed_at"`
}

// SameState compares the (active, enabled) pair, ignoring ObservedAt
func (s Snapshot) SameState(other Snapshot) bool {
	return s.Active == other.Active && s.Enabled == other.Enabled
}

// Describe renders "<unit>: active|inactive"
func (s Snapshot) Describe(name Name) string {
	state := "inactive"
	if s.Active {
		state = "active"
	}
	return fmt.Sprintf("%s: %s", name, state)
}

// AllowedActions lists the actions that make sense for this snapshot
func (s Snapshot) AllowedActions() []Action {
	actions := make([]Action, 0, 3)
	if s.Active {
		actions = append(actions, ActionStop)
	} else {
		actions = append(actions, ActionStart)
	}
	actions = append(actions, ActionRestart)
	if s.Enabled {
		actions = append(actions, ActionDisable)
	} else {
		actions = append(actions, ActionEnable)
	}
	return actions
}

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

var allActions = []Action{ActionStart, ActionStop, ActionRestart, ActionEnable, ActionDisable}

// Actions returns every supported action in a stable order
func Actions() []Action {
	return append([]Action(nil), allActions...)
}

func ParseAction(s string) (Action, error) {
	for _, a := range allActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", errors.NewValidationError("unknown action: "+s, nil).
		WithContext("supported_actions", "start, stop, restart, enable, disable")
}

func (a Action) Valid() bool {
	_, err := ParseAction(string(a))
	return err == nil
}

// ChangesEnablement is true for enable/disable
func (a Action) ChangesEnablement() bool {
	return a == ActionEnable || a == ActionDisable
}

type ActionRequest struct {
	Action Action
	Unit   Name
}

func (r ActionRequest) String() string {
	return fmt.Sprintf("%s %s", r.Action, r.Unit)
}

type ActionResult struct {
	Request    ActionRequest
	Succeeded  bool
	ExitCode   int
	StderrText string
}

// Err returns an ActionError for a failed result and nil otherwise
func (r ActionResult) Err() error {
	if r.Succeeded {
		return nil
	}
	return errors.NewActionError(fmt.Sprintf("%s failed with exit code %d", r.Request, r.ExitCode), nil).
		WithContext("unit", string(r.Request.Unit)).
		WithContext("action", string(r.Request.Action)).
		WithContext("exit_code", r.ExitCode).
		WithContext("stderr", r.StderrText)
}

const DefaultLogLines = 100

type LogQuery struct {
	Unit      Name
	LineCount int
}

// LogText is raw journal output, or the reason it could not be read
type LogText string
