package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarnessCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	hc := NewHarnessCollector(registry)

	hc.NodeStarted(2 * time.Second)
	hc.NodeStarted(time.Second)
	hc.NodeStartFailed()
	hc.NodeStopped(true)
	hc.NodeStopped(false)
	hc.NodeStopped(false)
	hc.QuorumMined(288)
	hc.PollCompleted("blocks_synced", 4, time.Second, true)
	hc.TestFinished("PASSED", time.Minute)

	assert.Equal(t, float64(2), testutil.ToFloat64(hc.nodeStarts))
	assert.Equal(t, float64(1), testutil.ToFloat64(hc.nodeStartFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(hc.nodeStops.WithLabelValues("true")))
	assert.Equal(t, float64(2), testutil.ToFloat64(hc.nodeStops.WithLabelValues("false")))
	assert.Equal(t, float64(288), testutil.ToFloat64(hc.lastQuorumHeight))
	assert.Equal(t, float64(4), testutil.ToFloat64(hc.pollAttempts.WithLabelValues("blocks_synced")))
	assert.Equal(t, float64(1), testutil.ToFloat64(hc.outcomes.WithLabelValues("PASSED")))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestHarnessCollector_SeparateRegistries checks that collectors bound to
// different registries do not collide.
func TestHarnessCollector_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewHarnessCollector(prometheus.NewRegistry())
		NewHarnessCollector(prometheus.NewRegistry())
	})
}

func TestServer(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewHarnessCollector(registry)
	collector.QuorumMined(48)

	server := NewServer(zerolog.Nop(), 0, registry)
	require.NoError(t, server.Start())
	defer server.Shutdown(time.Second)

	resp, err := http.Get("http://" + server.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "quorumnet_quorum_mined_total 1")
}
