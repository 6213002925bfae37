package controller

import (
	"context"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// ExitCodeNotExecuted marks a result whose command never produced an exit code
const ExitCodeNotExecuted = -1

type Options struct {
	// Timeout bounds each invocation; zero means no bound beyond ctx
	Timeout time.Duration
}

// UnitController executes exactly one control command per request. It never retries.
type UnitController struct {
	invoker processmanager.ActionInvoker
	options Options
	logger  logging.Logger
}

func NewUnitController(invoker processmanager.ActionInvoker, options Options, logger logging.Logger) *UnitController {
	return &UnitController{
		invoker: invoker,
		options: options,
		logger:  logger,
	}
}

func (c *UnitController) Perform(ctx context.Context, request unit.ActionRequest) unit.ActionResult {
	if err := unit.ValidateName(request.Unit); err != nil {
		return notExecuted(request, err)
	}
	if !request.Action.Valid() {
		return notExecuted(request, errors.NewValidationError("unknown action: "+string(request.Action), nil))
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	c.logger.Infof("Performing action, action: %s, unit: %s", request.Action, request.Unit)

	invocation, err := c.invoker.Invoke(ctx, request.Action, request.Unit)
	if err != nil {
		c.logger.Errorf("Action could not be executed, action: %s, unit: %s, error: %v", request.Action, request.Unit, err)
		return notExecuted(request, err)
	}

	result := unit.ActionResult{
		Request:    request,
		Succeeded:  invocation.ExitCode == 0,
		ExitCode:   invocation.ExitCode,
		StderrText: invocation.Stderr,
	}

	if result.Succeeded {
		c.logger.Infof("Action succeeded, action: %s, unit: %s", request.Action, request.Unit)
	} else {
		c.logger.Warnf("Action failed, action: %s, unit: %s, exit_code: %d, stderr: %q",
			request.Action, request.Unit, result.ExitCode, result.StderrText)
	}

	return result
}

func notExecuted(request unit.ActionRequest, err error) unit.ActionResult {
	return unit.ActionResult{
		Request:    request,
		Succeeded:  false,
		ExitCode:   ExitCodeNotExecuted,
		StderrText: err.Error(),
	}
}
