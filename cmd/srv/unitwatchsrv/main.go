package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-unitwatch/pkg/config"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/runner"
)

type flagOptions struct {
	Config         string        `long:"config" short:"c" description:"path to the YAML configuration file"`
	Unit           string        `long:"unit" short:"u" description:"unit to supervise (default creelmt-winder-display.service)"`
	PollInterval   time.Duration `long:"poll-interval" description:"status poll interval, e.g. 3000ms"`
	CommandTimeout time.Duration `long:"command-timeout" description:"bound on every systemctl/journalctl invocation"`
	Backend        string        `long:"backend" choice:"systemctl" choice:"dbus" description:"process manager backend"`
	LogLevel       string        `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
	GRPCPort       int           `long:"grpc-port" description:"serve the gRPC health probe on this port"`
	MetricsAddress string        `long:"metrics-address" description:"serve /metrics, /snapshot and /healthz on host:port"`
	NoWatch        bool          `long:"no-watch" description:"do not watch unit files for changes"`
	NoConsole      bool          `long:"no-console" description:"do not read commands from stdin"`
	ValidateOnly   bool          `long:"validate-only" description:"validate the configuration and exit"`

	Args struct {
		Unit string `positional-arg-name:"UNIT"`
	} `positional-args:"yes"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	unitName := opts.Unit
	if opts.Args.Unit != "" {
		unitName = opts.Args.Unit
	}

	overrides := config.Overrides{
		Unit:           unitName,
		PollInterval:   opts.PollInterval,
		CommandTimeout: opts.CommandTimeout,
		Backend:        opts.Backend,
		LogLevel:       opts.LogLevel,
		GRPCPort:       opts.GRPCPort,
		MetricsAddress: opts.MetricsAddress,
		NoWatch:        opts.NoWatch,
	}

	cfg, err := runner.ValidateConfigFile(opts.Config, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if opts.ValidateOnly {
		fmt.Printf("Configuration is valid, %s\n", cfg.Summary())
		return
	}

	backend, err := logging.NewZapBackend(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()

	logger := backend.Logger("unitwatch: ")

	err = runner.Run(context.Background(), runner.Options{
		Config:        cfg,
		Console:       !opts.NoConsole,
		HandleSignals: true,
	}, logger)
	if err != nil {
		logger.Errorf("Unit supervisor failed: %v", err)
		backend.Sync()
		os.Exit(1)
	}
}
