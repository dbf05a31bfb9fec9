package process

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/metrics"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
)

type SupervisorSuite struct {
	suite.Suite
	net        *fakenet.Network
	supervisor *Supervisor
	root       string
}

func TestSupervisor(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func (s *SupervisorSuite) SetupTest() {
	s.net = fakenet.NewNetwork(fakenet.DefaultConfig())
	s.root = s.T().TempDir()
	cfg := Config{
		StartTimeout: time.Second,
		StopGrace:    200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		MaxParallel:  2,
	}
	s.supervisor = NewSupervisor(unittest.Logger(), cfg, s.net.Launcher(), s.net.ClientFactory(), metrics.NewNoopCollector())
}

func (s *SupervisorSuite) spec(index int) NodeSpec {
	return NodeSpec{
		Index:   index,
		Binary:  "syscoind",
		Dir:     filepath.Join(s.root, fmt.Sprintf("node%d", index)),
		RPC:     module.RPCEndpoint{Host: "127.0.0.1", Port: 21000 + index},
		P2PPort: 11000 + index,
	}
}

func (s *SupervisorSuite) TestStartAndStop() {
	ctx := context.Background()

	h, err := s.supervisor.Start(ctx, s.spec(0))
	s.Require().NoError(err)
	s.Assert().Equal("node0", h.Name())
	s.Assert().True(h.Running())

	tracked, ok := s.supervisor.Handle(0)
	s.Require().True(ok)
	s.Assert().Same(h, tracked)

	count, err := h.Client.GetBlockCount(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(uint64(0), count)

	s.Require().NoError(s.supervisor.Stop(ctx, h, time.Second))
	s.Assert().False(h.Running())
	s.Assert().NoError(h.ExitErr())
	s.Assert().Empty(s.supervisor.Handles())
	s.Assert().False(s.net.Running(h.RPC().Port))
}

func (s *SupervisorSuite) TestStartTwiceFails() {
	_, err := s.supervisor.Start(context.Background(), s.spec(0))
	s.Require().NoError(err)

	_, err = s.supervisor.Start(context.Background(), s.spec(0))
	s.Require().Error(err)
}

func (s *SupervisorSuite) TestStartTimeout() {
	spec := s.spec(0)
	s.net.HangLaunch(spec.RPC.Port)

	_, err := s.supervisor.Start(context.Background(), spec)
	s.Require().Error(err)
	s.Assert().True(IsProcessStartTimeoutError(err))
	s.Assert().Empty(s.supervisor.Handles())
	s.Assert().False(s.net.Running(spec.RPC.Port), "timed out node must be killed")
}

func (s *SupervisorSuite) TestProcessExitsDuringStartup() {
	spec := s.spec(0)
	crash := errors.New("exit status 1")
	s.net.FailLaunch(spec.RPC.Port, crash)

	_, err := s.supervisor.Start(context.Background(), spec)
	s.Require().Error(err)
	s.Assert().True(IsNodeExitedError(err))
	s.Assert().ErrorIs(err, crash)
	s.Assert().False(IsProcessStartTimeoutError(err))
}

// TestStartManyRollsBack checks that a single failing start in a batch stops
// every node of the batch which did start.
func (s *SupervisorSuite) TestStartManyRollsBack() {
	specs := []NodeSpec{s.spec(0), s.spec(1), s.spec(2), s.spec(3)}
	s.net.FailLaunch(specs[2].RPC.Port, errors.New("exit status 1"))

	handles, err := s.supervisor.StartMany(context.Background(), specs, 2)
	s.Require().Error(err)
	s.Assert().Nil(handles)
	s.Assert().Empty(s.supervisor.Handles())
	for _, spec := range specs {
		s.Assert().False(s.net.Running(spec.RPC.Port), "node %d still running", spec.Index)
	}
}

func (s *SupervisorSuite) TestStartMany() {
	specs := []NodeSpec{s.spec(0), s.spec(1), s.spec(2)}

	handles, err := s.supervisor.StartMany(context.Background(), specs, 0)
	s.Require().NoError(err)
	s.Require().Len(handles, 3)
	for i, h := range handles {
		s.Assert().Equal(i, h.Index())
	}
	s.Assert().Len(s.supervisor.Handles(), 3)

	s.Require().NoError(s.supervisor.StopAll(context.Background(), time.Second))
	s.Assert().Empty(s.supervisor.Handles())
}

func (s *SupervisorSuite) TestStopKillsAfterGrace() {
	spec := s.spec(0)
	s.net.IgnoreStop(spec.RPC.Port)

	h, err := s.supervisor.Start(context.Background(), spec)
	s.Require().NoError(err)

	unittest.RequireReturnsBefore(s.T(), func() {
		s.Require().NoError(s.supervisor.Stop(context.Background(), h, 50*time.Millisecond))
	}, time.Second, "forced stop")
	s.Assert().False(h.Running())
	s.Assert().Error(h.ExitErr())
}

func (s *SupervisorSuite) TestKeepRunning() {
	h, err := s.supervisor.Start(context.Background(), s.spec(0))
	s.Require().NoError(err)
	h.SetKeepRunning(true)

	s.Require().NoError(s.supervisor.StopAll(context.Background(), time.Second))
	s.Assert().True(h.Running())
	s.Assert().True(s.net.Running(h.RPC().Port))

	_, err = s.supervisor.Restart(context.Background(), h)
	s.Assert().Error(err)
}

func (s *SupervisorSuite) TestRestartKeepsChain() {
	ctx := context.Background()
	h, err := s.supervisor.Start(ctx, s.spec(0))
	s.Require().NoError(err)

	_, err = h.Client.Generate(ctx, 5)
	s.Require().NoError(err)

	restarted, err := s.supervisor.Restart(ctx, h, "-reindex")
	s.Require().NoError(err)
	s.Assert().NotSame(h, restarted)
	s.Assert().Equal([]string{"-reindex"}, restarted.Args())

	count, err := restarted.Client.GetBlockCount(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(uint64(5), count)
}

func (s *SupervisorSuite) TestWaitForExit() {
	spec := s.spec(0)
	h, err := s.supervisor.Start(context.Background(), spec)
	s.Require().NoError(err)

	// still running
	err = s.supervisor.WaitForExit(context.Background(), h, 20*time.Millisecond)
	s.Require().Error(err)
	s.Assert().ErrorIs(err, context.DeadlineExceeded)

	s.net.Crash(spec.RPC.Port)
	err = s.supervisor.WaitForExit(context.Background(), h, time.Second)
	s.Require().Error(err)
	s.Assert().Empty(s.supervisor.Handles())
}

func TestNodeSpecName(t *testing.T) {
	assert.Equal(t, "node3", NodeSpec{Index: 3}.name())
	assert.Equal(t, "control", NodeSpec{Index: 0, Name: "control"}.name())
}

func TestProcessStartTimeoutError(t *testing.T) {
	last := errors.New("connection refused")
	err := fmt.Errorf("batch: %w", NewProcessStartTimeoutError("node1", time.Second, last))
	require.True(t, IsProcessStartTimeoutError(err))
	assert.ErrorIs(t, err, last)
	assert.False(t, IsNodeExitedError(err))
}
