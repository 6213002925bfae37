package runner

import (
	"context"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/config"
	"github.com/core-tools/hsu-unitwatch/pkg/console"
	"github.com/core-tools/hsu-unitwatch/pkg/control"
	"github.com/core-tools/hsu-unitwatch/pkg/controller"
	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logfetch"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/monitoring"
	"github.com/core-tools/hsu-unitwatch/pkg/poller"
	"github.com/core-tools/hsu-unitwatch/pkg/process"
	"github.com/core-tools/hsu-unitwatch/pkg/processmanager"
	"github.com/core-tools/hsu-unitwatch/pkg/supervisor"
	"github.com/core-tools/hsu-unitwatch/pkg/watch"
)

const stopTimeout = 5 * time.Second

type Options struct {
	Config *config.Config

	// Console enables the line-command front-end on In/Out
	Console bool
	In      io.Reader
	Out     io.Writer

	// Manager replaces the backend built from Config.Backend
	Manager processmanager.ProcessManager
	// HandleSignals stops the supervisor on SIGINT/SIGTERM
	HandleSignals bool
}

// Run supervises the configured unit until ctx is done, a signal arrives or
// the console asks to quit
func Run(ctx context.Context, options Options, logger logging.Logger) error {
	cfg := options.Config
	if cfg == nil {
		return errors.NewConfigError("configuration cannot be nil", nil)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	logger.Infof("Unit supervisor starting, %s", cfg.Summary())

	name := cfg.Unit.Name
	timeout := cfg.Supervision.CommandTimeout

	manager := options.Manager
	if manager == nil {
		var err error
		manager, err = newManager(cfg, logger)
		if err != nil {
			return err
		}
	}

	statusPoller := poller.NewStatusPoller(name, manager, poller.Options{Timeout: timeout},
		logging.Component(logger, "poller"))
	unitController := controller.NewUnitController(manager, controller.Options{Timeout: timeout},
		logging.Component(logger, "controller"))
	logFetcher := logfetch.NewLogFetcher(name, manager,
		logfetch.Options{Timeout: timeout, DefaultLines: cfg.Supervision.LogLines},
		logging.Component(logger, "logfetch"))

	metrics := monitoring.NewMetrics(name)

	sup, err := supervisor.New(name, statusPoller, unitController, logFetcher, nil,
		supervisor.Options{
			PollInterval: cfg.Supervision.PollInterval,
			LogLines:     cfg.Supervision.LogLines,
			Recorder:     metrics,
		},
		logging.Component(logger, "supervisor"))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	// stoppers run in reverse order once the supervisor is done
	var stoppers []func() error
	defer func() {
		if err := stopAll(stoppers); err != nil {
			logger.Warnf("Unit supervisor shutdown incomplete, error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if options.Console {
		in, out := options.In, options.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		frontEnd := console.New(in, out, sup, sup, logging.Component(logger, "console"))
		if err := sup.Subscribe(frontEnd); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := frontEnd.Run(ctx); err != nil {
				logger.Warnf("Console stopped, error: %v", err)
			}
		}()
	}

	if cfg.Control.GRPCPort > 0 {
		controlServer := control.NewServer(control.ServerOptions{Port: cfg.Control.GRPCPort}, name,
			logging.Component(logger, "control"))
		if err := sup.Subscribe(controlServer.Handler()); err != nil {
			return err
		}
		if err := controlServer.Start(ctx); err != nil {
			return err
		}
		stoppers = append(stoppers, func() error {
			controlServer.Stop()
			return nil
		})
	}

	if cfg.Control.MetricsAddress != "" {
		metricsLogger := logging.Component(logger, "monitoring")
		metricsServer := monitoring.NewServer(cfg.Control.MetricsAddress,
			monitoring.NewRouter(sup, metrics, metricsLogger), metricsLogger)
		if err := metricsServer.Start(ctx); err != nil {
			return err
		}
		stoppers = append(stoppers, func() error {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			return metricsServer.Stop(stopCtx)
		})
	}

	if cfg.Supervision.IsWatchEnabled() {
		dirs := cfg.Supervision.UnitDirs
		if len(dirs) == 0 {
			dirs = watch.DefaultUnitDirs(cfg.Backend.IsUserScope())
		}
		watcher := watch.New(watch.Options{Unit: name, Dirs: dirs}, sup.RequestRefresh,
			logging.Component(logger, "watch"))
		if err := watcher.Start(ctx); err != nil {
			// polling still converges, only slower
			logger.Warnf("Unit file watching disabled, error: %v", err)
		} else {
			stoppers = append(stoppers, watcher.Stop)
		}
	}

	if options.HandleSignals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitForSignal(ctx, sup, logger)
		}()
	}

	err = sup.Run(ctx)
	cancel()

	logger.Infof("Unit supervisor stopped, unit: %s", name)
	return err
}

func stopAll(stoppers []func() error) error {
	collection := errors.NewErrorCollection()
	for i := len(stoppers) - 1; i >= 0; i-- {
		collection.Add(stoppers[i]())
	}
	return collection.ToError()
}

func newManager(cfg *config.Config, logger logging.Logger) (processmanager.ProcessManager, error) {
	if cfg.Backend.Type == processmanager.BackendSystemctl {
		if _, err := process.ValidateExecutable(cfg.Backend.SystemctlPath); err != nil {
			// every poll will report a QueryError until the tool appears
			logger.Warnf("systemctl is not usable, path: %s, error: %v", cfg.Backend.SystemctlPath, err)
		}
	}

	runner := process.NewRunner(process.RunnerOptions{Timeout: cfg.Supervision.CommandTimeout},
		logging.Component(logger, "process"))

	manager, err := processmanager.New(cfg.Backend, runner, logging.Component(logger, "processmanager"))
	if err != nil {
		return nil, errors.NewConfigError("failed to create process manager backend", err)
	}
	return manager, nil
}

func waitForSignal(ctx context.Context, sup *supervisor.Supervisor, logger logging.Logger) {
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Unit supervisor received signal: %v", receivedSignal)
		sup.RequestShutdown()
	case <-ctx.Done():
	}
}

// ValidateConfigFile loads and validates a configuration without running anything
func ValidateConfigFile(configFile string, overrides config.Overrides) (*config.Config, error) {
	return config.Load(configFile, overrides)
}
