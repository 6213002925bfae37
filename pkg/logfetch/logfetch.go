package logfetch

import (
	"context"
	"strings"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

type Options struct {
	// Timeout bounds each read; zero means no bound beyond ctx
	Timeout time.Duration
	// DefaultLines is used when Fetch is called with a non-positive count
	DefaultLines int
}

// LogFetcher reads the tail of the unit's journal. It holds no mutable state
// and may be called from any goroutine.
type LogFetcher struct {
	unit    unit.Name
	journal processmanager.Journal
	options Options
	logger  logging.Logger
}

func NewLogFetcher(name unit.Name, journal processmanager.Journal, options Options, logger logging.Logger) *LogFetcher {
	if options.DefaultLines <= 0 {
		options.DefaultLines = unit.DefaultLogLines
	}
	return &LogFetcher{
		unit:    name,
		journal: journal,
		options: options,
		logger:  logger,
	}
}

// Fetch never fails: if the journal cannot be read the returned text is the reason
func (f *LogFetcher) Fetch(ctx context.Context, lineCount int) unit.LogText {
	return f.FetchQuery(ctx, unit.LogQuery{Unit: f.unit, LineCount: lineCount})
}

func (f *LogFetcher) FetchQuery(ctx context.Context, query unit.LogQuery) unit.LogText {
	if query.LineCount <= 0 {
		query.LineCount = f.options.DefaultLines
	}
	if err := unit.ValidateName(query.Unit); err != nil {
		return unit.LogText(err.Error())
	}

	if f.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.options.Timeout)
		defer cancel()
	}

	result, err := f.journal.Logs(ctx, query.Unit, query.LineCount)
	if err != nil {
		f.logger.Warnf("Failed to read logs, unit: %s, lines: %d, error: %v", query.Unit, query.LineCount, err)
		return unit.LogText(err.Error())
	}

	if result.ExitCode == 0 {
		return unit.LogText(result.Stdout)
	}

	f.logger.Warnf("Log read exited non-zero, unit: %s, exit_code: %d", query.Unit, result.ExitCode)
	if strings.TrimSpace(result.Stdout) != "" {
		return unit.LogText(result.Stdout)
	}
	return unit.LogText(result.Stderr)
}
