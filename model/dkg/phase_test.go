package dkg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhase_Next(t *testing.T) {
	phases := Phases()
	require.Len(t, phases, PhaseCount)

	for i := 0; i < len(phases)-1; i++ {
		next, ok := phases[i].Next()
		require.True(t, ok)
		assert.Equal(t, phases[i+1], next)
	}

	_, ok := PhaseFinalize.Next()
	assert.False(t, ok)
	_, ok = PhaseUnknown.Next()
	assert.False(t, ok)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "init", PhaseInit.String())
	assert.Equal(t, "finalize", PhaseFinalize.String())
	assert.Equal(t, "unknown", Phase(42).String())
}

func TestCounterForPhase(t *testing.T) {
	assert.Equal(t, CounterNone, CounterForPhase(PhaseInit))
	assert.Equal(t, CounterReceivedContributions, CounterForPhase(PhaseContribute))
	assert.Equal(t, CounterReceivedComplaints, CounterForPhase(PhaseComplain))
	assert.Equal(t, CounterReceivedJustifications, CounterForPhase(PhaseJustify))
	assert.Equal(t, CounterReceivedPrematureCommitments, CounterForPhase(PhaseCommit))
	assert.Equal(t, CounterNone, CounterForPhase(PhaseFinalize))
}

// TestStatus_Decode checks that a dkgstatus reply as emitted by a node decodes
// into the per-session view, and that a node without a session decodes with
// no sessions.
func TestStatus_Decode(t *testing.T) {
	raw := `{
		"time": 1600000000,
		"session": {
			"llmq_test": {
				"llmqType": 100,
				"quorumHash": "00ab",
				"quorumHeight": 264,
				"phase": 3,
				"receivedContributions": 3,
				"receivedComplaints": 0
			}
		},
		"quorumConnections": {
			"llmq_test": [
				{"proTxHash": "aa", "connected": true},
				{"proTxHash": "bb", "connected": false}
			]
		},
		"minableCommitments": {}
	}`

	var status Status
	require.NoError(t, json.Unmarshal([]byte(raw), &status))

	session, ok := status.Session("llmq_test")
	require.True(t, ok)
	assert.Equal(t, PhaseComplain, session.Phase)
	assert.Equal(t, "00ab", session.QuorumHash)

	count, ok := session.Count(CounterReceivedContributions)
	require.True(t, ok)
	assert.Equal(t, 3, count)

	_, ok = session.Count(Counter("bogus"))
	assert.False(t, ok)

	conns, ok := status.Connections("llmq_test")
	require.True(t, ok)
	assert.Equal(t, 1, ConnectedCount(conns))

	_, ok = status.Commitment("llmq_test")
	assert.False(t, ok)

	var empty Status
	require.NoError(t, json.Unmarshal([]byte(`{"time": 1, "session": {}}`), &empty))
	_, ok = empty.Session("llmq_test")
	assert.False(t, ok)
}

func TestQuorumList(t *testing.T) {
	list := QuorumList{"llmq_test": {"cc", "bb", "aa"}}

	latest, ok := list.Latest("llmq_test")
	require.True(t, ok)
	assert.Equal(t, "cc", latest)
	assert.Equal(t, 3, list.Count("llmq_test"))
	assert.True(t, list.Contains("llmq_test", "bb"))
	assert.False(t, list.Contains("llmq_test", "dd"))

	_, ok = list.Latest("llmq_other")
	assert.False(t, ok)
}
