package metrics

import (
	"time"

	"github.com/onflow/quorumnet/module"
)

type NoopCollector struct{}

var _ module.HarnessMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector {
	nc := &NoopCollector{}
	return nc
}

func (nc *NoopCollector) NodeStarted(duration time.Duration)                                     {}
func (nc *NoopCollector) NodeStartFailed()                                                       {}
func (nc *NoopCollector) NodeStopped(forced bool)                                                {}
func (nc *NoopCollector) PollCompleted(name string, attempts int, d time.Duration, success bool) {}
func (nc *NoopCollector) PhaseWaitDuration(phase string, duration time.Duration)                 {}
func (nc *NoopCollector) QuorumMined(height uint64)                                              {}
func (nc *NoopCollector) MockTimeAdvanced(unix int64)                                            {}
func (nc *NoopCollector) CacheBuilt(duration time.Duration)                                      {}
func (nc *NoopCollector) CacheReused()                                                           {}
func (nc *NoopCollector) CacheCloned(bytes int64)                                                {}
func (nc *NoopCollector) TestFinished(outcome string, duration time.Duration)                    {}
