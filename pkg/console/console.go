package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// Intents is the request side of the supervisor
type Intents interface {
	RequestToggle()
	RequestAction(action unit.Action)
	RequestLogs()
	RequestRefresh()
	RequestShutdown()
}

type StatusSource interface {
	Unit() unit.Name
	Snapshot() (unit.Snapshot, bool)
}

const helpText = `commands:
  toggle                          start if inactive, stop if active
  start | stop | restart          control the unit
  enable | disable                change boot-time enablement
  logs                            show recent log output
  refresh                         poll now
  status                          show the last known state
  help                            this text
  quit                            stop supervising and exit
`

// Console is a line-oriented front-end: it turns typed commands into intents
// and prints whatever the supervisor reports.
type Console struct {
	in      io.Reader
	out     io.Writer
	intents Intents
	source  StatusSource
	logger  logging.Logger

	mutex sync.Mutex
}

func New(in io.Reader, out io.Writer, intents Intents, source StatusSource, logger logging.Logger) *Console {
	return &Console{
		in:      in,
		out:     out,
		intents: intents,
		source:  source,
		logger:  logger,
	}
}

// Run reads commands until ctx is done, input ends or "quit" is typed. End
// of input does not stop the supervisor.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return errors.NewIOError("failed to read console input", err)
			}
			c.logger.Debugf("Console input closed")
			return nil
		case line := <-lines:
			if quit := c.Execute(line); quit {
				return nil
			}
		}
	}
}

// Execute handles one command line and reports whether it was "quit"
func (c *Console) Execute(line string) bool {
	command := strings.ToLower(strings.TrimSpace(line))
	switch command {
	case "":
		return false
	case "toggle":
		c.intents.RequestToggle()
	case "logs":
		c.intents.RequestLogs()
	case "refresh":
		c.intents.RequestRefresh()
	case "status":
		c.printStatus()
	case "help", "?":
		c.printf("%s", helpText)
	case "quit", "exit":
		c.intents.RequestShutdown()
		return true
	default:
		action, err := unit.ParseAction(command)
		if err != nil {
			c.printf("unknown command %q, type \"help\"\n", command)
			return false
		}
		c.intents.RequestAction(action)
	}
	return false
}

func (c *Console) printStatus() {
	snapshot, ok := c.source.Snapshot()
	if !ok {
		c.printf("%s: unknown\n", c.source.Unit())
		return
	}
	c.printSnapshot(snapshot)
}

func (c *Console) printSnapshot(snapshot unit.Snapshot) {
	enabled := "disabled"
	if snapshot.Enabled {
		enabled = "enabled"
	}
	c.printf("%s (%s) at %s, actions: %s\n",
		snapshot.Describe(c.source.Unit()),
		enabled,
		snapshot.ObservedAt.Format("15:04:05"),
		joinActions(snapshot.AllowedActions()))
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, err := fmt.Fprintf(c.out, format, args...); err != nil {
		c.logger.Warnf("Failed to write to console, error: %v", err)
	}
}

func (c *Console) OnSnapshotChanged(snapshot unit.Snapshot) {
	c.printSnapshot(snapshot)
}

func (c *Console) OnActionFailed(request unit.ActionRequest, message string) {
	c.printf("%s failed: %s\n", request, message)
}

func (c *Console) OnLogsReady(text unit.LogText) {
	if text == "" {
		c.printf("(no log output)\n")
		return
	}
	out := string(text)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	c.printf("%s", out)
}

func (c *Console) OnQueryError(err error) {
	c.printf("status poll failed: %v\n", err)
}

func joinActions(actions []unit.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
