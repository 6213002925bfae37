package process

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
)

const tracerName = "github.com/core-tools/hsu-unitwatch/pkg/process"

// Command is one external invocation. Args are passed as argv tokens, never through a shell.
type Command struct {
	Path string
	Args []string
}

// Result of a command that ran to completion, whatever its exit code
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes commands. A non-nil error means the command could not be
// run or did not finish; a non-zero exit is reported through Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type RunnerOptions struct {
	// Timeout bounds every invocation; zero means no bound beyond ctx
	Timeout time.Duration
	// WaitDelay bounds waiting for output pipes after the process was killed
	WaitDelay time.Duration
}

type execRunner struct {
	options RunnerOptions
	logger  logging.Logger
	tracer  trace.Tracer
}

func NewRunner(options RunnerOptions, logger logging.Logger) Runner {
	if options.WaitDelay == 0 {
		options.WaitDelay = time.Second
	}
	return &execRunner{
		options: options,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

func (r *execRunner) Run(ctx context.Context, command Command) (Result, error) {
	if ctx == nil {
		return Result{}, errors.NewValidationError("context cannot be nil", nil)
	}
	if command.Path == "" {
		return Result{}, errors.NewValidationError("executable path cannot be empty", nil)
	}

	ctx, span := r.tracer.Start(ctx, "process.Run", trace.WithAttributes(
		attribute.String("process.executable", command.Path),
		attribute.StringSlice("process.args", command.Args),
	))
	defer span.End()

	if r.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.options.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	setupProcessAttributes(cmd)
	cmd.WaitDelay = r.options.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debugf("Running command, path: %s, args: %v", command.Path, command.Args)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			r.logger.Warnf("Command timed out, path: %s, args: %v, elapsed: %v", command.Path, command.Args, elapsed)
			return Result{}, errors.NewTimeoutError("command timed out", ctxErr).
				WithContext("path", command.Path).
				WithContext("timeout", r.options.Timeout.String())
		}
		return Result{}, errors.NewCancelledError("command cancelled", ctxErr).WithContext("path", command.Path)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			result := Result{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
			span.SetAttributes(attribute.Int("process.exit_code", result.ExitCode))
			r.logger.Debugf("Command exited, path: %s, args: %v, exit_code: %d, elapsed: %v",
				command.Path, command.Args, result.ExitCode, elapsed)
			return result, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warnf("Failed to run command, path: %s, args: %v, error: %v", command.Path, command.Args, err)
		return Result{}, errors.NewProcessError("failed to run command", err).WithContext("path", command.Path)
	}

	span.SetAttributes(attribute.Int("process.exit_code", 0))
	r.logger.Debugf("Command finished, path: %s, args: %v, elapsed: %v", command.Path, command.Args, elapsed)

	return Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
