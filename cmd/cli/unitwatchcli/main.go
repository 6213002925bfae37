package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-unitwatch/pkg/control"
	"github.com/core-tools/hsu-unitwatch/pkg/domain"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

type flagOptions struct {
	Port     int           `long:"port" short:"p" required:"true" description:"gRPC port of the running supervisor"`
	Unit     string        `long:"unit" short:"u" required:"true" description:"supervised unit"`
	Retries  int           `long:"retries" default:"3" description:"attempts before giving up"`
	Interval time.Duration `long:"retry-interval" default:"1s" description:"pause between attempts"`
	Verbose  bool          `long:"verbose" short:"v" description:"debug logging"`
}

// Exit codes follow systemctl is-active
const (
	exitActive   = 0
	exitFailure  = 1
	exitInactive = 3
	exitUnknown  = 4
)

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(exitFailure)
	}

	logConfig := logging.DefaultZapConfig()
	logConfig.Level = "warn"
	if opts.Verbose {
		logConfig.Level = "debug"
	}
	backend, err := logging.NewZapBackend(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(exitFailure)
	}
	defer backend.Sync()
	logger := backend.Logger("unitwatch-client: ")

	if err := unit.ValidateName(unit.Name(opts.Unit)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid unit: %v\n", err)
		os.Exit(exitFailure)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Retries+1)*(opts.Interval+5*time.Second))
	defer cancel()

	conn, err := control.Dial(ctx, "127.0.0.1:"+strconv.Itoa(opts.Port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitFailure)
	}
	defer conn.Close()

	gateway := control.NewGRPCClientGateway(conn, unit.Name(opts.Unit), logger)
	status, err := domain.RetryStatus(ctx, gateway, domain.RetryOptions{
		RetryAttempts: opts.Retries,
		RetryInterval: opts.Interval,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(exitFailure)
	}

	fmt.Println(status)

	switch status {
	case domain.StatusActive:
		os.Exit(exitActive)
	case domain.StatusInactive:
		os.Exit(exitInactive)
	default:
		os.Exit(exitUnknown)
	}
}
