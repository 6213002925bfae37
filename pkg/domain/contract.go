package domain

import (
	"context"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
)

type UnitStatus string

const (
	StatusActive   UnitStatus = "active"
	StatusInactive UnitStatus = "inactive"
	// StatusUnknown means the supervisor has not completed a poll yet
	StatusUnknown UnitStatus = "unknown"
)

// Contract is what a running supervisor exposes to local clients
type Contract interface {
	Status(ctx context.Context) (UnitStatus, error)
}

type RetryOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
}

// RetryStatus asks for the status until the supervisor answers or attempts run out
func RetryStatus(ctx context.Context, contract Contract, options RetryOptions, logger logging.Logger) (UnitStatus, error) {
	if options.RetryAttempts <= 0 {
		options.RetryAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= options.RetryAttempts; attempt++ {
		status, err := contract.Status(ctx)
		if err == nil {
			return status, nil
		}
		lastErr = err
		logger.Debugf("Status attempt failed, attempt: %d/%d, error: %v", attempt, options.RetryAttempts, err)

		if attempt == options.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return StatusUnknown, errors.NewCancelledError("status retry cancelled", ctx.Err())
		case <-time.After(options.RetryInterval):
		}
	}

	return StatusUnknown, errors.NewIOError("supervisor did not answer", lastErr).
		WithContext("attempts", options.RetryAttempts)
}
