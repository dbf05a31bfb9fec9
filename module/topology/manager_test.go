package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/unittest"
	"github.com/onflow/quorumnet/utils/unittest/fakenet"
	"github.com/onflow/quorumnet/utils/unittest/nettest"
)

type ManagerSuite struct {
	suite.Suite
	fixture *nettest.Fixture
	nodes   []*process.NodeHandle
	manager *Manager
	ctx     context.Context
}

func TestManager(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.fixture = nettest.New(s.T(), fakenet.DefaultConfig())
	s.nodes = s.fixture.StartNodes(s.T(), 4)
	s.manager = NewManager(unittest.Logger(), Config{
		ConnectTimeout: time.Second,
		SyncTimeout:    time.Second,
		PollInterval:   5 * time.Millisecond,
		MaxParallel:    2,
	}, s.fixture.Metrics)
}

func (s *ManagerSuite) peerCount(h *process.NodeHandle) int {
	peers, err := h.Client.GetPeerInfo(s.ctx)
	s.Require().NoError(err)
	return len(peers)
}

func (s *ManagerSuite) generate(h *process.NodeHandle, n int) string {
	hashes, err := h.Client.Generate(s.ctx, n)
	s.Require().NoError(err)
	return hashes[len(hashes)-1]
}

// TestConnectChain checks that a line of nodes shares blocks end to end.
func (s *ManagerSuite) TestConnectChain() {
	s.Require().NoError(s.manager.ConnectChain(s.ctx, s.nodes))

	s.Assert().Equal(1, s.peerCount(s.nodes[0]))
	s.Assert().Equal(2, s.peerCount(s.nodes[1]))
	s.Assert().Equal(2, s.peerCount(s.nodes[2]))
	s.Assert().Equal(1, s.peerCount(s.nodes[3]))

	tip := s.generate(s.nodes[3], 3)
	s.Require().NoError(s.manager.AwaitAllSynced(s.ctx, s.nodes, 0))

	best, err := s.nodes[0].Client.GetBestBlockHash(s.ctx)
	s.Require().NoError(err)
	s.Assert().Equal(tip, best)
}

// TestConnectAllTo checks the star topology around one target.
func (s *ManagerSuite) TestConnectAllTo() {
	s.Require().NoError(s.manager.ConnectAllTo(s.ctx, s.nodes, s.nodes[0], 0))

	s.Assert().Equal(3, s.peerCount(s.nodes[0]))
	for _, h := range s.nodes[1:] {
		s.Assert().Equal(1, s.peerCount(h), h.Name())
	}
}

// TestConnectToStoppedNodeTimesOut checks that a one-shot connection to an
// unreachable node is reported once the wait expires.
func (s *ManagerSuite) TestConnectToStoppedNodeTimesOut() {
	s.Require().NoError(s.fixture.Supervisor.Stop(s.ctx, s.nodes[1], time.Second))

	err := s.manager.Connect(s.ctx, s.nodes[0], s.nodes[1])
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "node0")
}

func (s *ManagerSuite) TestDisconnect() {
	s.Require().NoError(s.manager.Connect(s.ctx, s.nodes[0], s.nodes[1]))
	s.Require().NoError(s.manager.Disconnect(s.ctx, s.nodes[0], s.nodes[1]))

	s.Assert().Equal(0, s.peerCount(s.nodes[0]))
	s.Assert().Equal(0, s.peerCount(s.nodes[1]))

	// disconnecting unconnected nodes is a no-op
	s.Require().NoError(s.manager.Disconnect(s.ctx, s.nodes[0], s.nodes[1]))
}

// TestSplitAndRejoin checks that the halves of a split network diverge and
// converge on the longest chain once rejoined.
func (s *ManagerSuite) TestSplitAndRejoin() {
	s.Require().NoError(s.manager.ConnectChain(s.ctx, s.nodes))
	s.Require().NoError(s.manager.SplitInto(s.ctx, s.nodes[:2], s.nodes[2:]))
	s.Assert().True(s.manager.Split())

	long := s.generate(s.nodes[0], 3)
	short := s.generate(s.nodes[3], 1)
	s.Require().NoError(s.manager.AwaitBlocksSynced(s.ctx, s.nodes[:2], 0))
	s.Require().NoError(s.manager.AwaitBlocksSynced(s.ctx, s.nodes[2:], 0))

	err := s.manager.AwaitBlocksSynced(s.ctx, s.nodes, 50*time.Millisecond)
	s.Require().Error(err)
	s.Assert().True(IsSyncTimeoutError(err))
	s.Assert().Contains(err.Error(), long)
	s.Assert().Contains(err.Error(), short)

	s.Require().NoError(s.manager.Rejoin(s.ctx))
	s.Assert().False(s.manager.Split())
	for _, h := range s.nodes {
		best, err := h.Client.GetBestBlockHash(s.ctx)
		s.Require().NoError(err)
		s.Assert().Equal(long, best, h.Name())
	}
}

func (s *ManagerSuite) TestRejoinWithoutSplit() {
	s.Require().Error(s.manager.Rejoin(s.ctx))
}

// TestMempoolDiverges checks that the mempool wait reports the missing
// transaction when the nodes cannot exchange it.
func (s *ManagerSuite) TestMempoolDiverges() {
	s.generate(s.nodes[0], 1)
	address, err := s.nodes[1].Client.GetNewAddress(s.ctx)
	s.Require().NoError(err)
	txID, err := s.nodes[0].Client.SendToAddress(s.ctx, address, 1)
	s.Require().NoError(err)

	err = s.manager.AwaitMempoolSynced(s.ctx, s.nodes[:2], 50*time.Millisecond)
	s.Require().Error(err)
	s.Assert().True(IsSyncTimeoutError(err))
	s.Assert().Contains(err.Error(), txID)

	s.Require().NoError(s.manager.Connect(s.ctx, s.nodes[1], s.nodes[0]))
	s.Require().NoError(s.manager.AwaitMempoolSynced(s.ctx, s.nodes[:2], 0))
}

func (s *ManagerSuite) TestAwaitPeerAuthTimesOut() {
	s.Require().NoError(s.manager.Connect(s.ctx, s.nodes[1], s.nodes[0]))

	err := s.manager.AwaitPeerAuth(s.ctx, s.nodes[0], 1, 50*time.Millisecond)
	s.Require().Error(err)
}

// TestAwaitEmptyNodeSet checks that waits on no nodes succeed at once, as
// happens when one side of a split or a stopped network is empty.
func (s *ManagerSuite) TestAwaitEmptyNodeSet() {
	s.Require().NotPanics(func() {
		s.Assert().NoError(s.manager.AwaitBlocksSynced(s.ctx, nil, 50*time.Millisecond))
		s.Assert().NoError(s.manager.AwaitMempoolSynced(s.ctx, []*process.NodeHandle{}, 50*time.Millisecond))
		s.Assert().NoError(s.manager.AwaitAllSynced(s.ctx, nil, 0))
	})
}

// TestAwaitBlocksSyncedIdempotent checks that a converged network passes
// the wait immediately, however often it is asked.
func (s *ManagerSuite) TestAwaitBlocksSyncedIdempotent() {
	s.Require().NoError(s.manager.ConnectChain(s.ctx, s.nodes))
	s.generate(s.nodes[0], 2)
	s.Require().NoError(s.manager.AwaitBlocksSynced(s.ctx, s.nodes, 0))

	for i := 0; i < 2; i++ {
		unittest.RequireReturnsBefore(s.T(), func() {
			s.Require().NoError(s.manager.AwaitBlocksSynced(s.ctx, s.nodes, 0))
		}, 100*time.Millisecond, "converged network did not pass the sync wait at once")
	}
}

// TestFailedSplitRestoresLinks checks that a split aborted by an unreachable
// node restores the links it already severed and leaves the network unsplit.
func (s *ManagerSuite) TestFailedSplitRestoresLinks() {
	s.Require().NoError(s.manager.ConnectChain(s.ctx, s.nodes))
	s.fixture.Fake.Crash(s.nodes[3].RPC().Port)

	err := s.manager.SplitInto(s.ctx, s.nodes[1:2], s.nodes[2:])
	s.Require().Error(err)
	s.Assert().False(s.manager.Split())
	s.Require().Error(s.manager.Rejoin(s.ctx))

	connected, err := s.manager.connected(s.ctx, s.nodes[1], s.nodes[2])
	s.Require().NoError(err)
	s.Assert().True(connected)

	s.Require().NoError(s.manager.SplitInto(s.ctx, s.nodes[:2], s.nodes[2:3]))
	s.Require().NoError(s.manager.Rejoin(s.ctx))
}
