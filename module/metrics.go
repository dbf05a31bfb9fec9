package module

import (
	"time"
)

// ProcessMetrics tracks the lifecycle of supervised node processes.
type ProcessMetrics interface {
	// NodeStarted is called once a node answered its liveness probe.
	NodeStarted(duration time.Duration)

	// NodeStartFailed is called when a node did not become ready.
	NodeStartFailed()

	// NodeStopped is called after a node process exited. forced is true if
	// the process had to be killed after the grace period.
	NodeStopped(forced bool)
}

// PollMetrics tracks the poll-until loops used for all waits.
type PollMetrics interface {
	// PollCompleted records a finished wait, successful or not.
	PollCompleted(name string, attempts int, duration time.Duration, success bool)
}

// QuorumMetrics tracks the progress of quorum formation.
type QuorumMetrics interface {
	// PhaseWaitDuration records the time spent waiting for all members to reach phase.
	PhaseWaitDuration(phase string, duration time.Duration)

	// QuorumMined is called for each quorum that appeared in the quorum list.
	QuorumMined(height uint64)

	// MockTimeAdvanced records the simulated time last set on the network.
	MockTimeAdvanced(unix int64)
}

// CacheMetrics tracks usage of the pre-mined chain snapshot.
type CacheMetrics interface {
	// CacheBuilt is called after a snapshot was mined from scratch.
	CacheBuilt(duration time.Duration)

	// CacheReused is called when a valid snapshot was found.
	CacheReused()

	// CacheCloned records the number of bytes copied into node data directories.
	CacheCloned(bytes int64)
}

// OutcomeMetrics tracks test verdicts.
type OutcomeMetrics interface {
	TestFinished(outcome string, duration time.Duration)
}

// HarnessMetrics is the full set of metrics reported by a harness run.
type HarnessMetrics interface {
	ProcessMetrics
	PollMetrics
	QuorumMetrics
	CacheMetrics
	OutcomeMetrics
}
