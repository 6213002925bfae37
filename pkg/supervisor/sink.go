package supervisor

import (
	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// EventSink receives state from the supervisor. Callbacks are made from the
// supervisor goroutine, one at a time, and must not block.
type EventSink interface {
	OnSnapshotChanged(snapshot unit.Snapshot)
	OnActionFailed(request unit.ActionRequest, message string)
	OnLogsReady(text unit.LogText)
}

// QueryErrorObserver is optionally implemented by sinks that want to see
// failed polls. The snapshot is left unchanged when this fires.
type QueryErrorObserver interface {
	OnQueryError(err error)
}

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

func (m MultiSink) OnSnapshotChanged(snapshot unit.Snapshot) {
	for _, sink := range m {
		sink.OnSnapshotChanged(snapshot)
	}
}

func (m MultiSink) OnActionFailed(request unit.ActionRequest, message string) {
	for _, sink := range m {
		sink.OnActionFailed(request, message)
	}
}

func (m MultiSink) OnLogsReady(text unit.LogText) {
	for _, sink := range m {
		sink.OnLogsReady(text)
	}
}

func (m MultiSink) OnQueryError(err error) {
	for _, sink := range m {
		if observer, ok := sink.(QueryErrorObserver); ok {
			observer.OnQueryError(err)
		}
	}
}
