package scenarios

import (
	"context"
	"fmt"

	"github.com/onflow/quorumnet/module/lifecycle"
	"github.com/onflow/quorumnet/module/process"
)

// ChainSplit mines competing chains on both halves of a split network and
// checks that the longer one wins once the halves are joined.
type ChainSplit struct {
	// ShortBranch and LongBranch are the blocks mined by nodes 0 and 2
	// while the network is split.
	ShortBranch int
	LongBranch  int
}

func (s *ChainSplit) Configure(params *lifecycle.Params) {
	params.NumNodes = 4
	if s.ShortBranch == 0 {
		s.ShortBranch = 2
	}
	if s.LongBranch <= s.ShortBranch {
		s.LongBranch = s.ShortBranch + 3
	}
}

func (s *ChainSplit) Run(ctx context.Context, env *lifecycle.Env) error {
	start, err := env.Node(0).Client.GetBlockCount(ctx)
	if err != nil {
		return err
	}

	if err := env.SplitNetwork(ctx); err != nil {
		return err
	}
	nodes := env.Nodes()
	if err := mineOn(ctx, env, nodes[0], nodes[:2], s.ShortBranch); err != nil {
		return err
	}
	if err := mineOn(ctx, env, nodes[2], nodes[2:], s.LongBranch); err != nil {
		return err
	}

	short, err := bestHash(ctx, nodes[0])
	if err != nil {
		return err
	}
	long, err := bestHash(ctx, nodes[2])
	if err != nil {
		return err
	}
	if err := lifecycle.Assert(short != long, "both halves report tip %s", short); err != nil {
		return err
	}

	if err := env.JoinNetwork(ctx); err != nil {
		return err
	}
	for _, h := range env.Nodes() {
		height, err := h.Client.GetBlockCount(ctx)
		if err != nil {
			return err
		}
		if err := lifecycle.AssertEqual(fmt.Sprintf("height of %s", h.Name()), height, start+uint64(s.LongBranch)); err != nil {
			return err
		}
		tip, err := bestHash(ctx, h)
		if err != nil {
			return err
		}
		if err := lifecycle.AssertEqual(fmt.Sprintf("tip of %s", h.Name()), tip, long); err != nil {
			return err
		}
	}
	return nil
}

// NodeRestart restarts a node and checks that it keeps its chain and
// catches up with blocks mined while it was down.
type NodeRestart struct{}

func (s *NodeRestart) Configure(params *lifecycle.Params) {
	params.NumNodes = 3
}

func (s *NodeRestart) Run(ctx context.Context, env *lifecycle.Env) error {
	if err := mineOn(ctx, env, env.Node(0), env.Nodes(), 5); err != nil {
		return err
	}
	before, err := env.Node(2).Client.GetBlockCount(ctx)
	if err != nil {
		return err
	}

	if err := env.StopNode(ctx, 2); err != nil {
		return err
	}
	if err := mineOn(ctx, env, env.Node(0), env.Nodes(), 3); err != nil {
		return err
	}

	restarted, err := env.StartNode(ctx, 2)
	if err != nil {
		return err
	}
	height, err := restarted.Client.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	if err := lifecycle.AssertEqual("height after restart", height, before); err != nil {
		return err
	}

	if err := env.Topology.Connect(ctx, restarted, env.Node(0)); err != nil {
		return err
	}
	if err := env.SyncAll(ctx); err != nil {
		return err
	}
	height, err = restarted.Client.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	return lifecycle.AssertEqual("height after catching up", height, before+3)
}

// mineOn bumps the mock time of nodes, mines count blocks on miner and
// waits for nodes to agree on the tip.
func mineOn(ctx context.Context, env *lifecycle.Env, miner *process.NodeHandle, nodes []*process.NodeHandle, count int) error {
	if err := env.BumpMockTime(ctx, 0, nodes...); err != nil {
		return err
	}
	if _, err := miner.Client.Generate(ctx, count); err != nil {
		return fmt.Errorf("%s could not mine %d blocks: %w", miner.Name(), count, err)
	}
	return env.SyncBlocks(ctx, nodes...)
}

func bestHash(ctx context.Context, h *process.NodeHandle) (string, error) {
	hash, err := h.Client.GetBestBlockHash(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get tip of %s: %w", h.Name(), err)
	}
	return hash, nil
}
