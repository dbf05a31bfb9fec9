package quorum

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/retry"
)

// WaitForPhase blocks until the expected number of masternodes report an
// active session for the round anchored at w.Anchor in phase w.Phase, and,
// if a counter is given, have received at least w.ExpectedCount messages of
// that kind. Nodes without a session for the quorum type are neither counted
// nor treated as disagreeing.
//
// Expected errors during normal operations:
//   - PhaseTimeoutError if the condition did not hold before the timeout
func (o *Orchestrator) WaitForPhase(ctx context.Context, w PhaseWait) error {
	nodes := w.Nodes
	if len(nodes) == 0 {
		nodes = masternodeNodes(o.infos)
	}
	timeout := w.Timeout
	if timeout == 0 {
		timeout = o.cfg.PhaseTimeout
	}

	var (
		snapshot  map[string]*dkg.SessionStatus
		reporting int
	)
	check := func(ctx context.Context) error {
		snapshot = make(map[string]*dkg.SessionStatus, len(nodes))
		reporting = 0
		var disagreement error

		for _, node := range nodes {
			status, err := node.Client.DKGStatus(ctx)
			if err != nil {
				return fmt.Errorf("could not query dkg status of %s: %w", node.Name(), err)
			}
			session, ok := status.Session(o.cfg.LLMQName)
			if !ok {
				snapshot[node.Name()] = nil
				continue
			}
			snapshot[node.Name()] = &session
			reporting++

			if disagreement != nil {
				continue
			}
			switch {
			case session.QuorumHash != w.Anchor:
				disagreement = retry.Pendingf("%s is in round %s", node.Name(), session.QuorumHash)
			case session.Phase != w.Phase:
				disagreement = retry.Pendingf("%s is in phase %d", node.Name(), session.Phase)
			case w.Counter != dkg.CounterNone:
				count, known := session.Count(w.Counter)
				if !known {
					return fmt.Errorf("unknown session counter %q", w.Counter)
				}
				if count < w.ExpectedCount {
					disagreement = retry.Pendingf("%s has %d %s, want %d", node.Name(), count, w.Counter, w.ExpectedCount)
				}
			}
		}
		if disagreement != nil {
			return disagreement
		}
		if reporting != w.ExpectedMembers {
			return retry.Pendingf("%d of %d members report a session", reporting, w.ExpectedMembers)
		}
		return nil
	}

	start := time.Now()
	name := fmt.Sprintf("dkg phase %s", w.Phase)
	err := retry.Until(ctx, o.log, name, timeout, o.cfg.PhasePoll, check, retry.WithMetrics(o.metrics))
	o.metrics.PhaseWaitDuration(w.Phase.String(), time.Since(start))
	if retry.IsTimeoutError(err) {
		return NewPhaseTimeoutError(w.Anchor, w.Phase, w.ExpectedMembers, reporting, timeout, snapshot)
	}
	return err
}

// WaitForConnections blocks until every node with an active session reports
// at least expected established intra-quorum connections. onPending, if set,
// runs after each unsuccessful poll.
func (o *Orchestrator) WaitForConnections(
	ctx context.Context,
	expected int,
	nodes []*process.NodeHandle,
	timeout time.Duration,
	onPending func(ctx context.Context) error,
) error {
	if timeout == 0 {
		timeout = o.cfg.ConnectionTimeout
	}
	check := func(ctx context.Context) error {
		for _, node := range nodes {
			status, err := node.Client.DKGStatus(ctx)
			if err != nil {
				return fmt.Errorf("could not query dkg status of %s: %w", node.Name(), err)
			}
			if len(status.Sessions) == 0 {
				continue
			}
			conns, ok := status.Connections(o.cfg.LLMQName)
			if !ok {
				return retry.Pendingf("%s reports no quorum connections", node.Name())
			}
			if n := dkg.ConnectedCount(conns); n < expected {
				return retry.Pendingf("%s has %d quorum connections, want %d", node.Name(), n, expected)
			}
		}
		return nil
	}
	return retry.Until(ctx, o.log, "quorum connections", timeout, o.cfg.StatusPoll, withPendingHook(check, onPending), retry.WithMetrics(o.metrics))
}

// WaitForProbes blocks until every inbound quorum connection of the given
// masternodes is backed by a recent probe. Peers among infos are expected
// online and need a recent successful probe; other peers only need a recent
// probe attempt.
func (o *Orchestrator) WaitForProbes(ctx context.Context, infos []*MasternodeInfo, timeout time.Duration, onPending func(ctx context.Context) error) error {
	if timeout == 0 {
		timeout = o.cfg.ProbeTimeout
	}
	online := make(map[string]bool, len(infos))
	for _, info := range infos {
		online[info.ProTxHash] = true
	}
	maxAge := int64(o.cfg.ProbeMaxAge / time.Second)

	check := func(ctx context.Context) error {
		for _, info := range infos {
			status, err := info.Node.Client.DKGStatus(ctx)
			if err != nil {
				return fmt.Errorf("could not query dkg status of %s: %w", info.Node.Name(), err)
			}
			if len(status.Sessions) == 0 {
				continue
			}
			conns, ok := status.Connections(o.cfg.LLMQName)
			if !ok {
				return retry.Pendingf("%s reports no quorum connections", info.Node.Name())
			}
			for _, conn := range conns {
				if conn.ProTxHash == info.ProTxHash || conn.Outbound {
					continue
				}
				peer, err := info.Node.Client.ProTxInfo(ctx, conn.ProTxHash)
				if err != nil {
					return fmt.Errorf("could not query protx %s: %w", conn.ProTxHash, err)
				}
				meta := peer.MetaInfo
				if online[conn.ProTxHash] {
					if meta.LastOutboundSuccessElapsed > maxAge {
						return retry.Pendingf("%s has no recent successful probe of %s", info.Node.Name(), conn.ProTxHash)
					}
				} else if meta.LastOutboundAttemptElapsed > maxAge && meta.LastOutboundSuccessElapsed > maxAge {
					return retry.Pendingf("%s has no recent probe attempt of %s", info.Node.Name(), conn.ProTxHash)
				}
			}
		}
		return nil
	}
	return retry.Until(ctx, o.log, "masternode probes", timeout, o.cfg.StatusPoll, withPendingHook(check, onPending), retry.WithMetrics(o.metrics))
}

// WaitForCommitment blocks until every node reports a minable commitment for
// the round anchored at anchor.
func (o *Orchestrator) WaitForCommitment(ctx context.Context, anchor string, nodes []*process.NodeHandle, timeout time.Duration) error {
	if timeout == 0 {
		timeout = o.cfg.CommitmentTimeout
	}
	check := func(ctx context.Context) error {
		for _, node := range nodes {
			status, err := node.Client.DKGStatus(ctx)
			if err != nil {
				return fmt.Errorf("could not query dkg status of %s: %w", node.Name(), err)
			}
			commitment, ok := status.Commitment(o.cfg.LLMQName)
			if !ok {
				return retry.Pendingf("%s has no minable commitment", node.Name())
			}
			if commitment.QuorumHash != anchor {
				return retry.Pendingf("%s has a minable commitment for %s", node.Name(), commitment.QuorumHash)
			}
		}
		return nil
	}
	return retry.Until(ctx, o.log, "quorum commitment", timeout, o.cfg.CommitmentPoll, check, retry.WithMetrics(o.metrics))
}

// WaitForSporksSame blocks until every node reports the same spork values as
// the first one.
func (o *Orchestrator) WaitForSporksSame(ctx context.Context, nodes []*process.NodeHandle, timeout time.Duration) error {
	if len(nodes) < 2 {
		return nil
	}
	if timeout == 0 {
		timeout = o.cfg.SporkTimeout
	}
	check := func(ctx context.Context) error {
		want, err := nodes[0].Client.SporkShow(ctx)
		if err != nil {
			return retry.Pending(err)
		}
		for _, node := range nodes[1:] {
			got, err := node.Client.SporkShow(ctx)
			if err != nil {
				return retry.Pending(err)
			}
			if !cmp.Equal(want, got) {
				return retry.Pendingf("sporks of %s differ: %s", node.Name(), cmp.Diff(want, got))
			}
		}
		return nil
	}
	return retry.Until(ctx, o.log, "sporks", timeout, o.cfg.SporkPoll, check, retry.WithMetrics(o.metrics))
}

// withPendingHook runs hook whenever cond reports a pending condition.
func withPendingHook(cond retry.Condition, hook func(ctx context.Context) error) retry.Condition {
	if hook == nil {
		return cond
	}
	return func(ctx context.Context) error {
		err := cond(ctx)
		if err == nil || !retry.IsPending(err) {
			return err
		}
		if hookErr := hook(ctx); hookErr != nil {
			return hookErr
		}
		return err
	}
}
