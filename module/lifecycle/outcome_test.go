package lifecycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onflow/quorumnet/module/process"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
		exit int
	}{
		{"success", nil, Passed, 0},
		{"skip", Skip("no wallet"), Skipped, 77},
		{"wrapped skip", fmt.Errorf("setup: %w", Skip("no zmq")), Skipped, 77},
		{"assertion", NewAssertionViolation("height %d", 3), Failed, 1},
		{"start timeout", process.NewProcessStartTimeoutError("node0", 0, errors.New("refused")), Failed, 1},
		{"unexpected", errors.New("boom"), Failed, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			outcome := Classify(c.err)
			assert.Equal(t, c.want, outcome)
			assert.Equal(t, c.exit, outcome.ExitCode())
		})
	}
}

func TestAssertions(t *testing.T) {
	assert.NoError(t, AssertEqual("height", uint64(200), uint64(200)))

	err := AssertEqual("height", uint64(199), uint64(200))
	assert.True(t, IsAssertionViolation(err))
	assert.Contains(t, err.Error(), "height mismatch")

	assert.NoError(t, Assert(true, "never"))
	err = Assert(false, "node %d is behind", 2)
	assert.True(t, IsAssertionViolation(err))
	assert.Equal(t, "assertion failed: node 2 is behind", err.Error())
}
