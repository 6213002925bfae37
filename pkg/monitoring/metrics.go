package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/core-tools/hsu-unitwatch/pkg/unit"
)

const namespace = "unitwatch"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics records supervisor activity on its own registry so that several
// instances (tests, mostly) never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	actions      *prometheus.CounterVec
	actionTime   *prometheus.HistogramVec
	ticksSkipped prometheus.Counter
	queueDepth   prometheus.Gauge
	active       prometheus.Gauge
	enabled      prometheus.Gauge
	observedAt   prometheus.Gauge
}

func NewMetrics(name unit.Name) *Metrics {
	labels := prometheus.Labels{"unit": string(name)}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "polls_total",
			Help:        "Status polls by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "poll_duration_seconds",
			Help:        "Time spent on one status poll.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "actions_total",
			Help:        "Control actions by action and outcome.",
			ConstLabels: labels,
		}, []string{"action", "outcome"}),
		actionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "action_duration_seconds",
			Help:        "Time spent on one control action.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"action"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ticks_skipped_total",
			Help:        "Poll ticks coalesced because an action or poll was in flight.",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "action_queue_depth",
			Help:        "Actions waiting for dispatch.",
			ConstLabels: labels,
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "unit_active",
			Help:        "1 if the last successful poll saw the unit active.",
			ConstLabels: labels,
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "unit_enabled",
			Help:        "1 if the last successful poll saw the unit enabled.",
			ConstLabels: labels,
		}),
		observedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "snapshot_timestamp_seconds",
			Help:        "Unix time of the last successful poll.",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.polls, m.pollDuration,
		m.actions, m.actionTime,
		m.ticksSkipped, m.queueDepth,
		m.active, m.enabled, m.observedAt,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePoll(elapsed time.Duration, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.polls.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAction(result unit.ActionResult, elapsed time.Duration) {
	outcome := outcomeSuccess
	if !result.Succeeded {
		outcome = outcomeFailure
	}
	action := string(result.Request.Action)
	m.actions.WithLabelValues(action, outcome).Inc()
	m.actionTime.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSnapshot(snapshot unit.Snapshot) {
	m.active.Set(boolValue(snapshot.Active))
	m.enabled.Set(boolValue(snapshot.Enabled))
	m.observedAt.Set(float64(snapshot.ObservedAt.UnixNano()) / 1e9)
}

func (m *Metrics) ObserveTickSkipped() {
	m.ticksSkipped.Inc()
}

func (m *Metrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
