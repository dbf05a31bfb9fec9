package mocktime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/module/mock"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
	"github.com/onflow/quorumnet/utils/unittest/nettest"
)

type CoordinatorSuite struct {
	suite.Suite
	fixture *nettest.Fixture
	nodes   []*process.NodeHandle
	metrics *mock.QuorumMetrics
	now     time.Time
	clock   *Coordinator
}

func TestCoordinator(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.fixture = nettest.New(s.T(), fakenet.DefaultConfig())
	s.nodes = s.fixture.StartNodes(s.T(), 3)
	s.metrics = mock.NewQuorumMetrics(s.T())
	s.now = time.Unix(1_700_000_000, 0)
	s.clock = NewCoordinator(unittest.Logger(), s.fixture.Network, s.metrics,
		WithClock(func() time.Time { return s.now }),
		WithWorkers(2),
	)
}

// TestBumpAllNodes checks that every registered node receives the same time.
func (s *CoordinatorSuite) TestBumpAllNodes() {
	s.metrics.On("MockTimeAdvanced", int64(1_700_000_001)).Once()

	t, err := s.clock.Bump(context.Background(), 1)
	s.Require().NoError(err)
	s.Assert().Equal(int64(1_700_000_001), t)
	s.Assert().Equal(t, s.clock.Current())

	for _, h := range s.nodes {
		s.Assert().Equal(t, s.fixture.Fake.MockTime(nettest.Port(h)), h.Name())
	}
}

// TestBumpSubset checks that only the given nodes are updated.
func (s *CoordinatorSuite) TestBumpSubset() {
	s.metrics.On("MockTimeAdvanced", int64(1_700_000_010)).Once()

	_, err := s.clock.Bump(context.Background(), 10, s.nodes[1])
	s.Require().NoError(err)

	s.Assert().Equal(int64(0), s.fixture.Fake.MockTime(nettest.Port(s.nodes[0])))
	s.Assert().Equal(int64(1_700_000_010), s.fixture.Fake.MockTime(nettest.Port(s.nodes[1])))
	s.Assert().Equal(int64(0), s.fixture.Fake.MockTime(nettest.Port(s.nodes[2])))
}

// TestBumpIsRelativeToWallClock checks that consecutive bumps do not
// accumulate, each one is relative to the clock at call time.
func (s *CoordinatorSuite) TestBumpIsRelativeToWallClock() {
	s.metrics.On("MockTimeAdvanced", int64(1_700_000_005)).Twice()

	_, err := s.clock.Bump(context.Background(), 5)
	s.Require().NoError(err)
	t, err := s.clock.Bump(context.Background(), 5)
	s.Require().NoError(err)
	s.Assert().Equal(int64(1_700_000_005), t)
}

// TestSetAggregatesFailures checks that a failing node does not prevent the
// others from being updated and that the failure is reported.
func (s *CoordinatorSuite) TestSetAggregatesFailures() {
	s.metrics.On("MockTimeAdvanced", int64(42)).Once()
	s.fixture.Fake.Crash(nettest.Port(s.nodes[0]))

	err := s.clock.Set(context.Background(), 42)
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "node0")
	s.Assert().ErrorIs(err, fakenet.ErrConnectionRefused)

	s.Assert().Equal(int64(42), s.fixture.Fake.MockTime(nettest.Port(s.nodes[1])))
	s.Assert().Equal(int64(42), s.fixture.Fake.MockTime(nettest.Port(s.nodes[2])))
}

func TestArgs(t *testing.T) {
	metrics := mock.NewQuorumMetrics(t)
	metrics.On("MockTimeAdvanced", int64(1234)).Once()

	clock := NewCoordinator(unittest.Logger(), emptySet{}, metrics)
	assert.Empty(t, clock.Args())

	require.NoError(t, clock.Set(context.Background(), 1234))
	assert.Equal(t, []string{"-mocktime=1234"}, clock.Args())
}

type emptySet struct{}

func (emptySet) Nodes() []*process.NodeHandle { return nil }
