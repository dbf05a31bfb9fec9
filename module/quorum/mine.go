package quorum

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/retry"
)

// DefaultExpectations expect a complete quorum with no complaints: every
// member connects to all others and every message category is fully
// delivered.
func (o *Orchestrator) DefaultExpectations() Expectations {
	return Expectations{
		Members:       o.cfg.LLMQSize,
		Connections:   o.cfg.LLMQSize - 1,
		Contributions: o.cfg.LLMQSize,
		Commitments:   o.cfg.LLMQSize,
	}
}

func (e Expectations) count(phase dkg.Phase) int {
	switch phase {
	case dkg.PhaseContribute:
		return e.Contributions
	case dkg.PhaseComplain:
		return e.Complaints
	case dkg.PhaseJustify:
		return e.Justifications
	case dkg.PhaseCommit:
		return e.Commitments
	default:
		return 0
	}
}

// MineQuorum drives one DKG round from the next interval boundary to a mined
// commitment. The control node mines every block; between phases the mock
// time of the control node and the masternodes is bumped so their schedulers
// progress. Once the new quorum is listed, SignHeightOffset more blocks are
// mined so it can take part in signing.
//
// Expected errors during normal operations:
//   - PhaseTimeoutError if the masternodes did not agree on a phase in time
//   - retry.TimeoutError if connections, probes, commitment or mining stalled
func (o *Orchestrator) MineQuorum(ctx context.Context, exp Expectations) (*QuorumResult, error) {
	ctrl, err := o.control()
	if err != nil {
		return nil, err
	}
	infos := exp.Masternodes
	if len(infos) == 0 {
		infos = o.startedMasternodes()
	}
	members := masternodeNodes(infos)
	nodes := append([]*process.NodeHandle{ctrl}, members...)

	o.log.Info().
		Int("members", exp.Members).
		Int("connections", exp.Connections).
		Int("contributions", exp.Contributions).
		Int("complaints", exp.Complaints).
		Int("justifications", exp.Justifications).
		Int("commitments", exp.Commitments).
		Msg("mining quorum")

	before, err := ctrl.Client.QuorumList(ctx, o.cfg.QuorumListCount)
	if err != nil {
		return nil, err
	}

	// advance to the next round boundary
	height, err := ctrl.Client.GetBlockCount(ctx)
	if err != nil {
		return nil, err
	}
	skip := o.cfg.DKGInterval - height%o.cfg.DKGInterval
	if err := o.mine(ctx, ctrl, nodes, int(skip)); err != nil {
		return nil, err
	}
	anchor, err := ctrl.Client.GetBestBlockHash(ctx)
	if err != nil {
		return nil, err
	}
	log := o.log.With().Str("anchor", anchor).Uint64("height", height+skip).Logger()

	bump := func(ctx context.Context) error {
		_, err := o.clock.Bump(ctx, 1, nodes...)
		return err
	}

	for _, phase := range dkg.Phases() {
		log.Info().Msgf("waiting for phase %d (%s)", phase, phase)
		err := o.WaitForPhase(ctx, PhaseWait{
			Anchor:          anchor,
			Phase:           phase,
			ExpectedMembers: exp.Members,
			Counter:         dkg.CounterForPhase(phase),
			ExpectedCount:   exp.count(phase),
			Nodes:           members,
		})
		if err != nil {
			return nil, err
		}

		if phase == dkg.PhaseInit {
			if err := o.WaitForConnections(ctx, exp.Connections, nodes, 0, bump); err != nil {
				return nil, err
			}
			sporks, err := ctrl.Client.SporkShow(ctx)
			if err != nil {
				return nil, err
			}
			if sporks[SporkAllConnected] == 0 {
				if err := o.WaitForProbes(ctx, infos, 0, bump); err != nil {
					return nil, err
				}
			}
		}
		if phase == dkg.PhaseFinalize {
			break
		}
		if err := o.mine(ctx, ctrl, nodes, o.cfg.PhaseBlocks); err != nil {
			return nil, err
		}
	}

	log.Info().Msg("waiting for final commitment")
	if err := o.WaitForCommitment(ctx, anchor, nodes, 0); err != nil {
		return nil, err
	}

	log.Info().Msg("mining final commitment")
	if err := bump(ctx); err != nil {
		return nil, err
	}
	if _, err := ctrl.Client.Generate(ctx, 1); err != nil {
		return nil, err
	}
	err = retry.Until(ctx, o.log, "quorum list", o.cfg.MineTimeout, o.cfg.MinePoll, func(ctx context.Context) error {
		after, err := ctrl.Client.QuorumList(ctx, o.cfg.QuorumListCount)
		if err != nil {
			return err
		}
		if !cmp.Equal(before, after) {
			return nil
		}
		if err := o.mine(ctx, ctrl, nodes, 1); err != nil {
			return err
		}
		return retry.Pendingf("quorum list unchanged at %v", after[o.cfg.LLMQName])
	}, retry.WithMetrics(o.metrics))
	if err != nil {
		return nil, err
	}

	latest, err := ctrl.Client.QuorumList(ctx, 1)
	if err != nil {
		return nil, err
	}
	hash, ok := latest.Latest(o.cfg.LLMQName)
	if !ok {
		return nil, fmt.Errorf("no %s quorum listed after mining", o.cfg.LLMQName)
	}
	info, err := ctrl.Client.QuorumInfo(ctx, o.cfg.LLMQType, hash)
	if err != nil {
		return nil, err
	}

	if _, err := ctrl.Client.Generate(ctx, o.cfg.SignHeightOffset); err != nil {
		return nil, err
	}
	if err := o.topology.AwaitBlocksSynced(ctx, nodes, 0); err != nil {
		return nil, err
	}

	result := &QuorumResult{
		Hash:       hash,
		Height:     info.Height,
		MinedBlock: info.MinedBlock,
	}
	for _, m := range info.Members {
		result.Members = append(result.Members, m.ProTxHash)
	}
	o.metrics.QuorumMined(info.Height)
	o.log.Info().
		Uint64("height", info.Height).
		Str("quorum", hash).
		Str("mined_block", info.MinedBlock).
		Msg("new quorum")
	return result, nil
}

// mine bumps the mock time of nodes by one second, mines count blocks on
// miner and waits for nodes to sync them.
func (o *Orchestrator) mine(ctx context.Context, miner *process.NodeHandle, nodes []*process.NodeHandle, count int) error {
	if _, err := o.clock.Bump(ctx, 1, nodes...); err != nil {
		return err
	}
	if _, err := miner.Client.Generate(ctx, count); err != nil {
		return err
	}
	return o.topology.AwaitBlocksSynced(ctx, nodes, 0)
}

func (o *Orchestrator) startedMasternodes() []*MasternodeInfo {
	var started []*MasternodeInfo
	for _, info := range o.infos {
		if info.Node != nil {
			started = append(started, info)
		}
	}
	return started
}

// QuorumMasternodes returns the registered masternodes that are members of
// the quorum with the given hash. Members not in the registry are skipped.
func (o *Orchestrator) QuorumMasternodes(ctx context.Context, hash string) ([]*MasternodeInfo, error) {
	ctrl, err := o.control()
	if err != nil {
		return nil, err
	}
	info, err := ctrl.Client.QuorumInfo(ctx, o.cfg.LLMQType, hash)
	if err != nil {
		return nil, err
	}
	var result []*MasternodeInfo
	for _, m := range info.Members {
		if mn, ok := o.Masternode(m.ProTxHash); ok {
			result = append(result, mn)
		}
	}
	return result, nil
}
