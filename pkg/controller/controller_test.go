package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, action unit.Action, name unit.Name) (processmanager.Invocation, error) {
	args := m.Called(ctx, action, name)
	return args.Get(0).(processmanager.Invocation), args.Error(1)
}

func request(action unit.Action) unit.ActionRequest {
	return unit.ActionRequest{Action: action, Unit: "demo.service"}
}

func TestPerform_Success(t *testing.T) {
	invoker := &MockInvoker{}
	invoker.On("Invoke", mock.Anything, unit.ActionStart, unit.Name("demo.service")).
		Return(processmanager.Invocation{ExitCode: 0}, nil).Once()

	controller := NewUnitController(invoker, Options{}, logging.Nop())
	result := controller.Perform(context.Background(), request(unit.ActionStart))

	assert.True(t, result.Succeeded)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, request(unit.ActionStart), result.Request)
	invoker.AssertExpectations(t)
}

func TestPerform_NonZeroExitKeepsStderrVerbatim(t *testing.T) {
	invoker := &MockInvoker{}
	invoker.On("Invoke", mock.Anything, unit.ActionStop, unit.Name("demo.service")).
		Return(processmanager.Invocation{ExitCode: 1, Stderr: "Unit busy\n"}, nil)

	controller := NewUnitController(invoker, Options{}, logging.Nop())
	result := controller.Perform(context.Background(), request(unit.ActionStop))

	assert.False(t, result.Succeeded)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Unit busy\n", result.StderrText)
}

func TestPerform_NotExecuted(t *testing.T) {
	invoker := &MockInvoker{}
	invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything).
		Return(processmanager.Invocation{}, errors.NewActionError("enable could not be executed", nil))

	controller := NewUnitController(invoker, Options{}, logging.Nop())
	result := controller.Perform(context.Background(), request(unit.ActionEnable))

	assert.False(t, result.Succeeded)
	assert.Equal(t, ExitCodeNotExecuted, result.ExitCode)
	assert.Contains(t, result.StderrText, "enable could not be executed")
}

func TestPerform_AppliesTimeout(t *testing.T) {
	invoker := &MockInvoker{}
	invoker.On("Invoke", mock.Anything, unit.ActionRestart, unit.Name("demo.service")).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			deadline, ok := ctx.Deadline()
			assert.True(t, ok)
			assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
		}).
		Return(processmanager.Invocation{ExitCode: 0}, nil)

	controller := NewUnitController(invoker, Options{Timeout: 2 * time.Second}, logging.Nop())
	result := controller.Perform(context.Background(), request(unit.ActionRestart))
	assert.True(t, result.Succeeded)
}

func TestPerform_RejectsUnsafeRequests(t *testing.T) {
	invoker := &MockInvoker{}
	controller := NewUnitController(invoker, Options{}, logging.Nop())

	result := controller.Perform(context.Background(), unit.ActionRequest{Action: unit.ActionStart, Unit: "--all"})
	assert.False(t, result.Succeeded)
	assert.Equal(t, ExitCodeNotExecuted, result.ExitCode)

	result = controller.Perform(context.Background(), unit.ActionRequest{Action: "mask", Unit: "demo.service"})
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.StderrText, "unknown action")

	invoker.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
}
