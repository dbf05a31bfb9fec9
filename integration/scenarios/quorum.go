package scenarios

import (
	"context"
	"fmt"

	"github.com/onflow/quorumnet/module/lifecycle"
	"github.com/onflow/quorumnet/module/quorum"
)

// QuorumFormation mines consecutive quorums on a network of three
// masternodes and checks each one is complete and listed.
type QuorumFormation struct {
	Quorums int
}

func (s *QuorumFormation) Configure(params *lifecycle.Params) {
	params.NumNodes = 4
	params.Masternodes = 3
	params.FastDIP3 = true
	if s.Quorums <= 0 {
		s.Quorums = 1
	}
}

func (s *QuorumFormation) Run(ctx context.Context, env *lifecycle.Env) error {
	cfg := env.Quorum.Config()

	var previous *quorum.QuorumResult
	for i := 0; i < s.Quorums; i++ {
		q, err := env.Quorum.MineQuorum(ctx, env.Quorum.DefaultExpectations())
		if err != nil {
			return fmt.Errorf("could not mine quorum %d: %w", i, err)
		}
		env.Log.Info().Str("quorum", q.Hash).Uint64("height", q.Height).Msg("quorum mined")

		if err := checkQuorum(ctx, env, q, cfg.LLMQSize); err != nil {
			return err
		}
		if previous != nil {
			if err := lifecycle.Assert(q.Hash != previous.Hash, "quorum %s mined twice", q.Hash); err != nil {
				return err
			}
			if err := lifecycle.AssertEqual("quorum height", q.Height, previous.Height+cfg.DKGInterval); err != nil {
				return err
			}
		}
		previous = q
	}

	list, err := env.Node(0).Client.QuorumList(ctx, s.Quorums)
	if err != nil {
		return err
	}
	latest, _ := list.Latest(cfg.LLMQName)
	return lifecycle.AssertEqual("latest listed quorum", latest, previous.Hash)
}

// MasternodeRemoval revokes one of four masternodes and checks that the
// next quorum forms without it.
type MasternodeRemoval struct{}

func (s *MasternodeRemoval) Configure(params *lifecycle.Params) {
	params.NumNodes = 5
	params.Masternodes = 4
	params.FastDIP3 = true
}

func (s *MasternodeRemoval) Run(ctx context.Context, env *lifecycle.Env) error {
	removed := env.Quorum.Masternodes()[0]
	if err := env.Quorum.RemoveMasternode(ctx, removed); err != nil {
		return err
	}

	list, err := env.Node(0).Client.MasternodeListStatus(ctx)
	if err != nil {
		return err
	}
	if err := lifecycle.AssertEqual("masternode list size", len(list), len(env.Quorum.Masternodes())); err != nil {
		return err
	}

	q, err := env.Quorum.MineQuorum(ctx, env.Quorum.DefaultExpectations())
	if err != nil {
		return err
	}
	if err := checkQuorum(ctx, env, q, env.Quorum.Config().LLMQSize); err != nil {
		return err
	}
	for _, member := range q.Members {
		if err := lifecycle.Assert(member != removed.ProTxHash, "removed masternode %s is a member of quorum %s", member, q.Hash); err != nil {
			return err
		}
	}
	return nil
}

// checkQuorum asserts that q is anchored at a round boundary and that all of
// its size members are running masternodes.
func checkQuorum(ctx context.Context, env *lifecycle.Env, q *quorum.QuorumResult, size int) error {
	interval := env.Quorum.Config().DKGInterval
	if err := lifecycle.Assert(q.Height%interval == 0, "quorum %s anchored at height %d, not a multiple of %d", q.Hash, q.Height, interval); err != nil {
		return err
	}
	if err := lifecycle.AssertEqual("quorum members", len(q.Members), size); err != nil {
		return err
	}
	members, err := env.Quorum.QuorumMasternodes(ctx, q.Hash)
	if err != nil {
		return err
	}
	if err := lifecycle.AssertEqual("known quorum members", len(members), size); err != nil {
		return err
	}
	for _, mn := range members {
		if err := lifecycle.Assert(mn.Node != nil && mn.Node.Running(), "member %s is not running", mn.ProTxHash); err != nil {
			return err
		}
	}
	return nil
}
