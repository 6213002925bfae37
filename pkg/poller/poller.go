package poller

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const (
	answerActive  = "active"
	answerEnabled = "enabled"
)

type Options struct {
	// Timeout bounds each query; zero means no bound beyond ctx
	Timeout time.Duration
}

// StatusPoller observes the (active, enabled) pair of one unit
type StatusPoller struct {
	unit    unit.Name
	querier processmanager.Querier
	options Options
	logger  logging.Logger
	now     func() time.Time
}

func NewStatusPoller(name unit.Name, querier processmanager.Querier, options Options, logger logging.Logger) *StatusPoller {
	return &StatusPoller{
		unit:    name,
		querier: querier,
		options: options,
		logger:  logger,
		now:     time.Now,
	}
}

// Poll runs both queries concurrently. Any answer other than the exact
// "active" / "enabled" counts as false. If either query cannot be executed
// the result is a QueryError and no snapshot.
func (p *StatusPoller) Poll(ctx context.Context) (unit.Snapshot, error) {
	if p.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.Timeout)
		defer cancel()
	}

	var activeAnswer, enabledAnswer string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		answer, err := p.querier.IsActive(gctx, p.unit)
		activeAnswer = answer
		return err
	})
	g.Go(func() error {
		answer, err := p.querier.IsEnabled(gctx, p.unit)
		enabledAnswer = answer
		return err
	})

	if err := g.Wait(); err != nil {
		p.logger.Warnf("Poll failed, unit: %s, error: %v", p.unit, err)
		if errors.IsQueryError(err) {
			return unit.Snapshot{}, err
		}
		return unit.Snapshot{}, errors.NewQueryError("status query failed", err).WithContext("unit", string(p.unit))
	}

	snapshot := unit.Snapshot{
		Active:     activeAnswer == answerActive,
		Enabled:    enabledAnswer == answerEnabled,
		ObservedAt: p.now(),
	}

	p.logger.Debugf("Polled unit, unit: %s, is-active: %q, is-enabled: %q", p.unit, activeAnswer, enabledAnswer)

	return snapshot, nil
}
