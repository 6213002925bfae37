package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/errors"
	"github.com/core-tools/hsu-unitwatch/pkg/logging"
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const DefaultPollInterval = 3000 * time.Millisecond

type Poller interface {
	Poll(ctx context.Context) (unit.Snapshot, error)
}

type Controller interface {
	Perform(ctx context.Context, request unit.ActionRequest) unit.ActionResult
}

type LogFetcher interface {
	Fetch(ctx context.Context, lineCount int) unit.LogText
}

type Options struct {
	PollInterval time.Duration
	// LogLines is passed to the fetcher for RequestLogs; zero uses its default
	LogLines int
	Recorder Recorder
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{time.NewTicker(d)}
}

type intentKind int

const (
	intentToggle intentKind = iota
	intentAction
	intentLogs
	intentRefresh
)

type intent struct {
	kind   intentKind
	action unit.Action
}

type resultKind int

const (
	resultPoll resultKind = iota
	resultAction
	resultLogs
)

type workResult struct {
	kind     resultKind
	snapshot unit.Snapshot
	err      error
	action   unit.ActionResult
	logs     unit.LogText
	elapsed  time.Duration
}

// queued is an action waiting for dispatch. A toggle is resolved only when it
// is dispatched, against the snapshot current at that moment.
type queued struct {
	toggle bool
	action unit.Action
}

// loopState is owned by the loop goroutine
type loopState struct {
	known    bool
	snapshot unit.Snapshot

	queue []queued

	// actionInFlight covers an action and its reconciling poll
	actionInFlight bool
	reconciling    bool
	pollInFlight   bool
	pendingPoll    bool
	// forceEmit makes the next poll outcome publish even an unchanged pair
	forceEmit bool
}

// Supervisor is the single owner of the unit's snapshot. It polls on a fixed
// interval, serializes actions against polls and reports to the sink.
type Supervisor struct {
	unit       unit.Name
	poller     Poller
	controller Controller
	logs       LogFetcher
	sink       MultiSink
	options    Options
	logger     logging.Logger

	intentMutex sync.Mutex
	intents     []intent
	wake        chan struct{}

	results  chan workResult
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool

	snapshotMutex sync.RWMutex
	published     unit.Snapshot
	publishedOK   bool

	newTicker func(time.Duration) ticker
}

func New(name unit.Name, poller Poller, controller Controller, logs LogFetcher, sink EventSink, options Options, logger logging.Logger) (*Supervisor, error) {
	if err := unit.ValidateName(name); err != nil {
		return nil, errors.NewConfigError("invalid unit name", err)
	}
	if poller == nil || controller == nil || logs == nil {
		return nil, errors.NewConfigError("poller, controller and log fetcher are required", nil)
	}
	if options.PollInterval == 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.PollInterval < 0 {
		return nil, errors.NewConfigError("poll interval must be positive", nil).
			WithContext("poll_interval", options.PollInterval.String())
	}
	if options.Recorder == nil {
		options.Recorder = nopRecorder{}
	}
	sinks := MultiSink{}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	return &Supervisor{
		unit:       name,
		poller:     poller,
		controller: controller,
		logs:       logs,
		sink:       sinks,
		options:    options,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		results:    make(chan workResult),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		newTicker:  newTimeTicker,
	}, nil
}

// Subscribe adds a sink. Sinks can only be added before Run.
func (s *Supervisor) Subscribe(sink EventSink) error {
	if s.running.Load() {
		return errors.NewInternalError("cannot subscribe to a running supervisor", nil).WithContext("unit", string(s.unit))
	}
	s.sink = append(s.sink, sink)
	return nil
}

func (s *Supervisor) Unit() unit.Name {
	return s.unit
}

// Snapshot returns the last published snapshot. ok is false until the first
// poll completed.
func (s *Supervisor) Snapshot() (snapshot unit.Snapshot, ok bool) {
	s.snapshotMutex.RLock()
	defer s.snapshotMutex.RUnlock()
	return s.published, s.publishedOK
}

// Done is closed when Run returns
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) RequestToggle() {
	s.enqueue(intent{kind: intentToggle})
}

func (s *Supervisor) RequestAction(action unit.Action) {
	s.enqueue(intent{kind: intentAction, action: action})
}

func (s *Supervisor) RequestLogs() {
	s.enqueue(intent{kind: intentLogs})
}

// RequestRefresh asks for an out-of-band poll. Requests made while a poll or
// action is in flight collapse into one.
func (s *Supervisor) RequestRefresh() {
	s.enqueue(intent{kind: intentRefresh})
}

func (s *Supervisor) RequestShutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// enqueue never blocks and never drops, so it is safe from any goroutine
// including sink callbacks
func (s *Supervisor) enqueue(i intent) {
	s.intentMutex.Lock()
	s.intents = append(s.intents, i)
	s.intentMutex.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) drainIntents() []intent {
	s.intentMutex.Lock()
	defer s.intentMutex.Unlock()
	intents := s.intents
	s.intents = nil
	return intents
}

// Run processes ticks, intents and results until ctx is done or shutdown is
// requested. Invocations still running at that point are abandoned.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.NewInternalError("supervisor already started", nil).WithContext("unit", string(s.unit))
	}
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Infof("Starting supervisor, unit: %s, poll_interval: %v", s.unit, s.options.PollInterval)

	ticker := s.newTicker(s.options.PollInterval)
	defer ticker.Stop()

	state := &loopState{}
	s.startPoll(ctx, state)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Supervisor stopped, unit: %s, reason: %v", s.unit, ctx.Err())
			return nil
		case <-s.stop:
			s.logger.Infof("Supervisor stopped, unit: %s, reason: shutdown requested", s.unit)
			return nil
		case <-ticker.C():
			s.onTick(ctx, state)
		case <-s.wake:
			for _, i := range s.drainIntents() {
				s.onIntent(ctx, state, i)
			}
		case r := <-s.results:
			s.onResult(ctx, state, r)
		}
	}
}

func (s *Supervisor) onTick(ctx context.Context, state *loopState) {
	if state.actionInFlight || state.pollInFlight {
		s.logger.Debugf("Tick skipped, unit: %s, action_in_flight: %t, poll_in_flight: %t",
			s.unit, state.actionInFlight, state.pollInFlight)
		s.options.Recorder.ObserveTickSkipped()
		return
	}
	s.startPoll(ctx, state)
}

func (s *Supervisor) onIntent(ctx context.Context, state *loopState, i intent) {
	switch i.kind {
	case intentToggle:
		s.logger.Debugf("Toggle requested, unit: %s", s.unit)
		state.queue = append(state.queue, queued{toggle: true})
		s.options.Recorder.ObserveQueueDepth(len(state.queue))
		s.dispatchNext(ctx, state)
	case intentAction:
		s.logger.Debugf("Action requested, action: %s, unit: %s", i.action, s.unit)
		state.queue = append(state.queue, queued{action: i.action})
		s.options.Recorder.ObserveQueueDepth(len(state.queue))
		s.dispatchNext(ctx, state)
	case intentLogs:
		s.startLogs(ctx)
	case intentRefresh:
		if state.actionInFlight || state.pollInFlight {
			state.pendingPoll = true
			return
		}
		s.startPoll(ctx, state)
	}
}

func (s *Supervisor) onResult(ctx context.Context, state *loopState, r workResult) {
	switch r.kind {
	case resultPoll:
		s.onPollDone(ctx, state, r)
	case resultAction:
		s.onActionDone(ctx, state, r)
	case resultLogs:
		s.sink.OnLogsReady(r.logs)
	}
}

func (s *Supervisor) onPollDone(ctx context.Context, state *loopState, r workResult) {
	state.pollInFlight = false
	s.options.Recorder.ObservePoll(r.elapsed, r.err)

	force := state.forceEmit
	state.forceEmit = false

	if r.err != nil {
		s.logger.Warnf("Status poll failed, keeping last known state, unit: %s, error: %v", s.unit, r.err)
		s.sink.OnQueryError(r.err)
		if force && state.known {
			s.sink.OnSnapshotChanged(state.snapshot)
		}
	} else {
		changed := !state.known || !state.snapshot.SameState(r.snapshot)
		state.known = true
		state.snapshot = r.snapshot
		s.publish(r.snapshot)

		if changed || force {
			s.logger.Infof("Unit state, unit: %s, active: %t, enabled: %t",
				s.unit, r.snapshot.Active, r.snapshot.Enabled)
			s.sink.OnSnapshotChanged(r.snapshot)
		}
	}

	if state.reconciling {
		state.reconciling = false
		state.actionInFlight = false
	}

	if len(state.queue) > 0 {
		s.dispatchNext(ctx, state)
		return
	}
	if state.pendingPoll {
		s.startPoll(ctx, state)
	}
}

func (s *Supervisor) onActionDone(ctx context.Context, state *loopState, r workResult) {
	s.options.Recorder.ObserveAction(r.action, r.elapsed)

	if !r.action.Succeeded {
		message := failureMessage(r.action)
		s.logger.Warnf("Action failed, error: %v, message: %s", r.action.Err(), message)
		s.sink.OnActionFailed(r.action.Request, message)
		state.forceEmit = true
	}

	state.reconciling = true
	s.startPoll(ctx, state)
}

// dispatchNext starts the head of the queue once no action and no poll is in flight
func (s *Supervisor) dispatchNext(ctx context.Context, state *loopState) {
	if state.actionInFlight || state.pollInFlight || len(state.queue) == 0 {
		return
	}

	next := state.queue[0]
	state.queue = state.queue[1:]
	s.options.Recorder.ObserveQueueDepth(len(state.queue))

	action := next.action
	if next.toggle {
		action = resolveToggle(state)
		s.logger.Debugf("Toggle resolved, action: %s, unit: %s, known: %t, active: %t",
			action, s.unit, state.known, state.snapshot.Active)
	}

	request := unit.ActionRequest{Action: action, Unit: s.unit}
	state.actionInFlight = true

	go func() {
		start := time.Now()
		result := s.controller.Perform(ctx, request)
		s.deliver(ctx, workResult{kind: resultAction, action: result, elapsed: time.Since(start)})
	}()
}

func resolveToggle(state *loopState) unit.Action {
	if state.known && state.snapshot.Active {
		return unit.ActionStop
	}
	return unit.ActionStart
}

func (s *Supervisor) startPoll(ctx context.Context, state *loopState) {
	state.pollInFlight = true
	state.pendingPoll = false

	go func() {
		start := time.Now()
		snapshot, err := s.poller.Poll(ctx)
		s.deliver(ctx, workResult{kind: resultPoll, snapshot: snapshot, err: err, elapsed: time.Since(start)})
	}()
}

func (s *Supervisor) startLogs(ctx context.Context) {
	go func() {
		start := time.Now()
		text := s.logs.Fetch(ctx, s.options.LogLines)
		s.deliver(ctx, workResult{kind: resultLogs, logs: text, elapsed: time.Since(start)})
	}()
}

// deliver hands a result to the loop, or drops it if the loop is gone
func (s *Supervisor) deliver(ctx context.Context, r workResult) {
	select {
	case s.results <- r:
	case <-ctx.Done():
	}
}

func (s *Supervisor) publish(snapshot unit.Snapshot) {
	s.snapshotMutex.Lock()
	s.published = snapshot
	s.publishedOK = true
	s.snapshotMutex.Unlock()

	s.options.Recorder.ObserveSnapshot(snapshot)
}

func failureMessage(result unit.ActionResult) string {
	if message := strings.TrimSpace(result.StderrText); message != "" {
		return message
	}
	if result.Request.Action.ChangesEnablement() {
		return "Failed to change enable state"
	}
	return fmt.Sprintf("Failed to %s %s", result.Request.Action, result.Request.Unit)
}
