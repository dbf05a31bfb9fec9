package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onflow/quorumnet/module"
)

type HarnessCollector struct {
	nodeStarts        prometheus.Counter
	nodeStartFailures prometheus.Counter
	nodeStartDuration prometheus.Histogram
	nodeStops         *prometheus.CounterVec
	pollAttempts      *prometheus.CounterVec
	pollDuration      *prometheus.HistogramVec
	phaseWaitDuration *prometheus.HistogramVec
	quorumsMined      prometheus.Counter
	lastQuorumHeight  prometheus.Gauge
	mockTime          prometheus.Gauge
	cacheBuilds       prometheus.Counter
	cacheBuildSeconds prometheus.Gauge
	cacheReuses       prometheus.Counter
	cacheClonedBytes  prometheus.Counter
	outcomes          *prometheus.CounterVec
	scenarioDuration  prometheus.Gauge
}

var _ module.HarnessMetrics = (*HarnessCollector)(nil)

// NewHarnessCollector creates the harness collectors and registers them with registerer.
// A nil registerer registers with the prometheus default registry.
func NewHarnessCollector(registerer prometheus.Registerer) *HarnessCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	hc := &HarnessCollector{

		nodeStarts: factory.NewCounter(prometheus.CounterOpts{
			Name:      "node_starts_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemProcess,
			Help:      "the number of node processes that became ready",
		}),

		nodeStartFailures: factory.NewCounter(prometheus.CounterOpts{
			Name:      "node_start_failures_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemProcess,
			Help:      "the number of node processes that failed to become ready",
		}),

		nodeStartDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:      "node_start_duration_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemProcess,
			Help:      "the time from process launch until the node answered its liveness probe",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		nodeStops: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "node_stops_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemProcess,
			Help:      "the number of node processes stopped, by whether they had to be killed",
		}, []string{LabelForced}),

		pollAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "attempts_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemPoll,
			Help:      "the number of condition evaluations performed by wait loops",
		}, []string{LabelWait}),

		pollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "duration_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemPoll,
			Help:      "the time spent in wait loops",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{LabelWait, LabelResult}),

		phaseWaitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "phase_wait_duration_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemQuorum,
			Help:      "the time spent waiting for all quorum members to reach a DKG phase",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{LabelPhase}),

		quorumsMined: factory.NewCounter(prometheus.CounterOpts{
			Name:      "mined_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemQuorum,
			Help:      "the number of quorums mined",
		}),

		lastQuorumHeight: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "last_mined_height",
			Namespace: namespaceHarness,
			Subsystem: subsystemQuorum,
			Help:      "the height of the most recently mined quorum",
		}),

		mockTime: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "mock_time_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemQuorum,
			Help:      "the simulated time last set on the network",
		}),

		cacheBuilds: factory.NewCounter(prometheus.CounterOpts{
			Name:      "builds_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemCache,
			Help:      "the number of chain snapshots mined from scratch",
		}),

		cacheBuildSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "build_duration_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemCache,
			Help:      "the time the last snapshot build took",
		}),

		cacheReuses: factory.NewCounter(prometheus.CounterOpts{
			Name:      "reuses_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemCache,
			Help:      "the number of times a valid snapshot was reused",
		}),

		cacheClonedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name:      "cloned_bytes_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemCache,
			Help:      "the number of bytes copied from the snapshot into node data directories",
		}),

		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name:      "outcomes_total",
			Namespace: namespaceHarness,
			Subsystem: subsystemScenario,
			Help:      "the number of finished scenarios by verdict",
		}, []string{LabelOutcome}),

		scenarioDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "duration_seconds",
			Namespace: namespaceHarness,
			Subsystem: subsystemScenario,
			Help:      "the wall time of the last finished scenario",
		}),
	}

	return hc
}

func (hc *HarnessCollector) NodeStarted(duration time.Duration) {
	hc.nodeStarts.Inc()
	hc.nodeStartDuration.Observe(duration.Seconds())
}

func (hc *HarnessCollector) NodeStartFailed() {
	hc.nodeStartFailures.Inc()
}

func (hc *HarnessCollector) NodeStopped(forced bool) {
	hc.nodeStops.With(prometheus.Labels{LabelForced: strconv.FormatBool(forced)}).Inc()
}

func (hc *HarnessCollector) PollCompleted(name string, attempts int, duration time.Duration, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultTimeout
	}
	hc.pollAttempts.With(prometheus.Labels{LabelWait: name}).Add(float64(attempts))
	hc.pollDuration.With(prometheus.Labels{LabelWait: name, LabelResult: result}).Observe(duration.Seconds())
}

func (hc *HarnessCollector) PhaseWaitDuration(phase string, duration time.Duration) {
	hc.phaseWaitDuration.With(prometheus.Labels{LabelPhase: phase}).Observe(duration.Seconds())
}

func (hc *HarnessCollector) QuorumMined(height uint64) {
	hc.quorumsMined.Inc()
	hc.lastQuorumHeight.Set(float64(height))
}

func (hc *HarnessCollector) MockTimeAdvanced(unix int64) {
	hc.mockTime.Set(float64(unix))
}

func (hc *HarnessCollector) CacheBuilt(duration time.Duration) {
	hc.cacheBuilds.Inc()
	hc.cacheBuildSeconds.Set(duration.Seconds())
}

func (hc *HarnessCollector) CacheReused() {
	hc.cacheReuses.Inc()
}

func (hc *HarnessCollector) CacheCloned(bytes int64) {
	hc.cacheClonedBytes.Add(float64(bytes))
}

func (hc *HarnessCollector) TestFinished(outcome string, duration time.Duration) {
	hc.outcomes.With(prometheus.Labels{LabelOutcome: outcome}).Inc()
	hc.scenarioDuration.Set(duration.Seconds())
}
