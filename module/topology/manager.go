// Package topology shapes the peer graph of a test network and waits for
// nodes to converge on the same chain and mempool.
package topology

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/onflow/quorumnet/client"
	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/utils/retry"
)

// errCodeNodeNotConnected is returned by disconnectnode for unknown peers.
const errCodeNodeNotConnected = -29

type Config struct {
	// ConnectTimeout bounds the wait for a new link to be seen by both ends.
	ConnectTimeout time.Duration
	// SyncTimeout is the default bound of the sync waits.
	SyncTimeout  time.Duration
	PollInterval time.Duration
	MaxParallel  int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 60 * time.Second,
		SyncTimeout:    60 * time.Second,
		PollInterval:   time.Second,
		MaxParallel:    process.DefaultMaxParallel,
	}
}

type edge struct {
	from, to *process.NodeHandle
}

// Manager connects and disconnects nodes. Only the recorded partition is
// state, everything else is read back from the nodes.
type Manager struct {
	log     zerolog.Logger
	cfg     Config
	metrics module.PollMetrics

	mu       sync.Mutex
	boundary []edge
	members  []*process.NodeHandle
}

func NewManager(log zerolog.Logger, cfg Config, metrics module.PollMetrics) *Manager {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = process.DefaultMaxParallel
	}
	return &Manager{
		log:     log.With().Str("component", "topology").Logger(),
		cfg:     cfg,
		metrics: metrics,
	}
}

func (m *Manager) timeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return m.cfg.SyncTimeout
	}
	return timeout
}

// peerIDs returns the ids under which node sees peer.
func peerIDs(ctx context.Context, node, peer *process.NodeHandle) ([]int, error) {
	peers, err := node.Client.GetPeerInfo(ctx)
	if err != nil {
		return nil, err
	}
	comment := "(" + testnet.UserAgentComment(peer.Index()) + ")"
	var ids []int
	for _, p := range peers {
		if strings.Contains(p.SubVer, comment) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (m *Manager) connected(ctx context.Context, a, b *process.NodeHandle) (bool, error) {
	ids, err := peerIDs(ctx, a, b)
	if err != nil || len(ids) == 0 {
		return false, err
	}
	ids, err = peerIDs(ctx, b, a)
	return len(ids) > 0, err
}

// Connect asks a to open a one-shot connection to b and waits until both
// nodes list each other as peers.
func (m *Manager) Connect(ctx context.Context, a, b *process.NodeHandle) error {
	if err := a.Client.AddNode(ctx, b.P2PAddr()); err != nil {
		return fmt.Errorf("could not connect %s to %s: %w", a.Name(), b.Name(), err)
	}
	err := retry.Until(ctx, m.log, "connect", m.cfg.ConnectTimeout, m.cfg.PollInterval, func(ctx context.Context) error {
		ok, err := m.connected(ctx, a, b)
		if err != nil {
			return retry.Pending(err)
		}
		if !ok {
			return retry.Pendingf("%s and %s do not see each other", a.Name(), b.Name())
		}
		return nil
	}, retry.WithMetrics(m.metrics))
	if err != nil {
		return fmt.Errorf("could not connect %s to %s: %w", a.Name(), b.Name(), err)
	}
	m.log.Debug().Str("from", a.Name()).Str("to", b.Name()).Msg("nodes connected")
	return nil
}

// Disconnect drops every connection a has to b and waits until a no longer
// lists b as a peer.
func (m *Manager) Disconnect(ctx context.Context, a, b *process.NodeHandle) error {
	ids, err := peerIDs(ctx, a, b)
	if err != nil {
		return fmt.Errorf("could not list peers of %s: %w", a.Name(), err)
	}
	for _, id := range ids {
		err := a.Client.DisconnectNode(ctx, id)
		// the peer may have gone away on its own in the meantime
		if err != nil && !client.IsRPCErrorCode(err, errCodeNodeNotConnected) {
			return fmt.Errorf("could not disconnect %s from %s: %w", a.Name(), b.Name(), err)
		}
	}
	err = retry.Until(ctx, m.log, "disconnect", m.cfg.ConnectTimeout, m.cfg.PollInterval, func(ctx context.Context) error {
		ids, err := peerIDs(ctx, a, b)
		if err != nil {
			return retry.Pending(err)
		}
		if len(ids) > 0 {
			return retry.Pendingf("%s still lists %s", a.Name(), b.Name())
		}
		return nil
	}, retry.WithMetrics(m.metrics))
	if err != nil {
		return fmt.Errorf("could not disconnect %s from %s: %w", a.Name(), b.Name(), err)
	}
	m.log.Debug().Str("from", a.Name()).Str("to", b.Name()).Msg("nodes disconnected")
	return nil
}

// ConnectChain connects node i+1 to node i for every i, forming a line.
func (m *Manager) ConnectChain(ctx context.Context, nodes []*process.NodeHandle) error {
	for i := 0; i+1 < len(nodes); i++ {
		if err := m.Connect(ctx, nodes[i+1], nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// ConnectAllTo connects every node to target, at most maxParallel at a time.
// All connects are awaited; the first failure is returned.
func (m *Manager) ConnectAllTo(ctx context.Context, nodes []*process.NodeHandle, target *process.NodeHandle, maxParallel int) error {
	if maxParallel <= 0 {
		maxParallel = m.cfg.MaxParallel
	}
	g := new(errgroup.Group)
	g.SetLimit(maxParallel)
	for _, h := range nodes {
		if h == target {
			continue
		}
		h := h
		g.Go(func() error {
			return m.Connect(ctx, h, target)
		})
	}
	return g.Wait()
}

// SplitInto severs every link between the two groups and waits for each
// group to sync on its own. The severed links are recorded for Rejoin.
func (m *Manager) SplitInto(ctx context.Context, groupA, groupB []*process.NodeHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members != nil {
		return fmt.Errorf("network is already split")
	}
	// links severed before a failure are restored so the next split starts
	// from the full network
	var severed []edge
	restore := func(cause error) error {
		for _, e := range severed {
			if err := m.Connect(ctx, e.from, e.to); err != nil {
				m.log.Warn().Err(err).Str("from", e.from.Name()).Str("to", e.to.Name()).Msg("could not restore link")
			}
		}
		return cause
	}

	for _, a := range groupA {
		for _, b := range groupB {
			for _, e := range []edge{{a, b}, {b, a}} {
				ids, err := peerIDs(ctx, e.from, e.to)
				if err != nil {
					return restore(fmt.Errorf("could not list peers of %s: %w", e.from.Name(), err))
				}
				if len(ids) == 0 {
					continue
				}
				if err := m.Disconnect(ctx, e.from, e.to); err != nil {
					return restore(err)
				}
				severed = append(severed, e)
			}
		}
	}
	m.boundary = severed
	m.members = append(append([]*process.NodeHandle(nil), groupA...), groupB...)
	m.log.Info().Int("severed", len(m.boundary)).Msg("network split")

	if err := m.AwaitAllSynced(ctx, groupA, 0); err != nil {
		return fmt.Errorf("first half did not sync after split: %w", err)
	}
	if err := m.AwaitAllSynced(ctx, groupB, 0); err != nil {
		return fmt.Errorf("second half did not sync after split: %w", err)
	}
	return nil
}

// Rejoin restores the links severed by SplitInto and waits for the whole
// network to sync.
func (m *Manager) Rejoin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.members == nil {
		return fmt.Errorf("network is not split")
	}
	for _, e := range m.boundary {
		if err := m.Connect(ctx, e.from, e.to); err != nil {
			return err
		}
	}
	union := m.members
	m.boundary = nil
	m.members = nil
	m.log.Info().Msg("network rejoined")

	sort.Slice(union, func(i, j int) bool { return union[i].Index() < union[j].Index() })
	return m.AwaitAllSynced(ctx, union, 0)
}

// Split returns true while links severed by SplitInto are not restored.
func (m *Manager) Split() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members != nil
}

// AwaitBlocksSynced waits until all nodes report the same best block. An
// empty node set is trivially synced.
//
// Expected errors during normal operations:
//   - SyncTimeoutError listing the best block of every node
func (m *Manager) AwaitBlocksSynced(ctx context.Context, nodes []*process.NodeHandle, timeout time.Duration) error {
	if len(nodes) == 0 {
		return nil
	}
	timeout = m.timeout(timeout)
	var last []string
	err := retry.Until(ctx, m.log, "sync_blocks", timeout, m.cfg.PollInterval, func(ctx context.Context) error {
		hashes := make([]string, len(nodes))
		for i, h := range nodes {
			hash, err := h.Client.GetBestBlockHash(ctx)
			if err != nil {
				return retry.Pending(err)
			}
			hashes[i] = hash
		}
		last = hashes
		for _, hash := range hashes[1:] {
			if hash != hashes[0] {
				return retry.Pendingf("best blocks differ")
			}
		}
		return nil
	}, retry.WithMetrics(m.metrics))
	if retry.IsTimeoutError(err) {
		var detail strings.Builder
		for i, h := range nodes {
			hash := "<unknown>"
			if i < len(last) {
				hash = last[i]
			}
			fmt.Fprintf(&detail, "  %s: %s\n", h.Name(), hash)
		}
		return NewSyncTimeoutError("blocks", timeout, detail.String())
	}
	return err
}

// AwaitMempoolSynced waits until all nodes hold the same set of unconfirmed
// transactions.
//
// Expected errors during normal operations:
//   - SyncTimeoutError with the difference of every node to the first one
func (m *Manager) AwaitMempoolSynced(ctx context.Context, nodes []*process.NodeHandle, timeout time.Duration) error {
	if len(nodes) == 0 {
		return nil
	}
	timeout = m.timeout(timeout)
	var last [][]string
	err := retry.Until(ctx, m.log, "sync_mempools", timeout, m.cfg.PollInterval, func(ctx context.Context) error {
		pools := make([][]string, len(nodes))
		for i, h := range nodes {
			pool, err := h.Client.GetRawMempool(ctx)
			if err != nil {
				return retry.Pending(err)
			}
			sort.Strings(pool)
			pools[i] = pool
		}
		last = pools
		for _, pool := range pools[1:] {
			if !cmp.Equal(pools[0], pool) {
				return retry.Pendingf("mempools differ")
			}
		}
		return nil
	}, retry.WithMetrics(m.metrics))
	if retry.IsTimeoutError(err) {
		var detail strings.Builder
		for i := 1; i < len(last); i++ {
			if diff := cmp.Diff(last[0], last[i]); diff != "" {
				fmt.Fprintf(&detail, "  %s vs %s (-want +got):\n%s", nodes[0].Name(), nodes[i].Name(), diff)
			}
		}
		return NewSyncTimeoutError("mempool", timeout, detail.String())
	}
	return err
}

// AwaitAllSynced waits for blocks, then mempools.
func (m *Manager) AwaitAllSynced(ctx context.Context, nodes []*process.NodeHandle, timeout time.Duration) error {
	if err := m.AwaitBlocksSynced(ctx, nodes, timeout); err != nil {
		return err
	}
	return m.AwaitMempoolSynced(ctx, nodes, timeout)
}

// AwaitPeerAuth waits until node has at least count peers that proved to be
// registered masternodes.
func (m *Manager) AwaitPeerAuth(ctx context.Context, node *process.NodeHandle, count int, timeout time.Duration) error {
	return retry.Until(ctx, m.log, "mnauth", m.timeout(timeout), m.cfg.PollInterval, func(ctx context.Context) error {
		peers, err := node.Client.GetPeerInfo(ctx)
		if err != nil {
			return retry.Pending(err)
		}
		verified := 0
		for _, p := range peers {
			if p.Verified() {
				verified++
			}
		}
		if verified < count {
			return retry.Pendingf("%s has %d of %d authenticated peers", node.Name(), verified, count)
		}
		return nil
	}, retry.WithMetrics(m.metrics))
}
