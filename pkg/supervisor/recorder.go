package supervisor

import (
	"time"

	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

// Recorder receives loop measurements, typically backed by metrics
type Recorder interface {
	ObservePoll(elapsed time.Duration, err error)
	ObserveAction(result unit.ActionResult, elapsed time.Duration)
	ObserveSnapshot(snapshot unit.Snapshot)
	ObserveTickSkipped()
	ObserveQueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) ObservePoll(time.Duration, error)               {}
func (nopRecorder) ObserveAction(unit.ActionResult, time.Duration) {}
func (nopRecorder) ObserveSnapshot(unit.Snapshot)                  {}
func (nopRecorder) ObserveTickSkipped()                            {}
func (nopRecorder) ObserveQueueDepth(int)                          {}
