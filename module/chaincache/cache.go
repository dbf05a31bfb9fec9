// Package chaincache builds a pre-mined chain once and hands out copies of it
// to the nodes of every test run.
package chaincache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/util"
	"github.com/onflow/quorumnet/utils/io"
)

// snapshotNode is the index of the node that builds the snapshot.
const snapshotNode = 0

// RetainedDirs are the chain subdirectories kept in a snapshot. Entries that
// the node did not create are ignored.
var RetainedDirs = []string{
	"chainstate",
	"blocks",
	"blockindex",
	"evodb",
	"llmq",
	"assets",
	"ethereumminttx",
	"ethereumtxroots",
	"geth",
}

// Beneficiaries receive the block rewards of the snapshot chain, one batch
// after the other.
var Beneficiaries = []string{
	"mjTkW3DjgyZck4KbiRusZsqTgaYTxdSz6z",
	"msX6jQXvxiNhx3Q62PKeLPrhrqZQdSimTg",
	"mnonCMyH9TmAsSj3M59DsbH8H63U3RKoFP",
	"mqJupas8Dt2uestQDvV2NH3RU8uZh2dqQR",
}

// BuildParams shape the snapshot chain.
type BuildParams struct {
	TargetHeight  uint64
	MatureBatches int
	BatchSize     int
}

// DefaultBuildParams give every beneficiary 25 mature and 25 immature blocks,
// except the last batch which is one block short so the tip is recent enough
// for nodes to leave initial block download.
func DefaultBuildParams() BuildParams {
	return BuildParams{
		TargetHeight:  199,
		MatureBatches: 8,
		BatchSize:     25,
	}
}

type Config struct {
	// Dir holds the snapshot, its manifest and the build lock.
	Dir string
	// Network is the template of the snapshot node's network, its Root is
	// replaced by Dir.
	Network   testnet.NetworkConfig
	StopGrace time.Duration
	// LockRetry is the interval between attempts to take the build lock.
	LockRetry time.Duration
}

// Cache manages the snapshot in one directory. Concurrent harness processes
// sharing the directory serialize on a file lock, so the snapshot is built
// once.
type Cache struct {
	log        zerolog.Logger
	cfg        Config
	supervisor *process.Supervisor
	metrics    module.CacheMetrics
}

func New(log zerolog.Logger, cfg Config, supervisor *process.Supervisor, metrics module.CacheMetrics) *Cache {
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 100 * time.Millisecond
	}
	cfg.Network.Root = cfg.Dir
	return &Cache{
		log:        log.With().Str("component", "chain_cache").Str("dir", cfg.Dir).Logger(),
		cfg:        cfg,
		supervisor: supervisor,
		metrics:    metrics,
	}
}

// SnapshotDir returns the data directory of the snapshot.
func (c *Cache) SnapshotDir() string {
	return testnet.DatadirPath(c.cfg.Dir, snapshotNode)
}

func (c *Cache) manifestPath() string {
	return filepath.Join(c.cfg.Dir, ManifestFile)
}

// Manifest returns the manifest of a valid snapshot of the given height.
func (c *Cache) Manifest(height uint64) (*Manifest, error) {
	m, err := readManifest(c.manifestPath())
	if err != nil {
		return nil, err
	}
	if err := m.validate(c.SnapshotDir(), c.cfg.Network.Chain, height); err != nil {
		return nil, err
	}
	return m, nil
}

// BuildOnce makes sure a valid snapshot exists, building it if needed. An
// existing snapshot that does not match its manifest or params is deleted and
// rebuilt.
func (c *Cache) BuildOnce(ctx context.Context, params BuildParams) (*Manifest, error) {
	lock := io.NewFileLock(c.cfg.Dir)
	if err := lock.Lock(ctx, c.cfg.LockRetry); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			c.log.Warn().Err(err).Msg("could not release cache lock")
		}
	}()

	m, err := c.Manifest(params.TargetHeight)
	if err == nil {
		c.metrics.CacheReused()
		c.log.Debug().Uint64("height", m.Height).Time("created_at", m.CreatedAt).Msg("using existing chain snapshot")
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) || io.FileExists(c.SnapshotDir()) {
		c.log.Warn().Err(err).Msg("discarding invalid chain snapshot")
	}
	if err := c.discard(); err != nil {
		return nil, err
	}

	start := time.Now()
	m, err = c.build(ctx, params)
	if err != nil {
		// never leave a half built snapshot behind
		if discardErr := c.discard(); discardErr != nil {
			c.log.Error().Err(discardErr).Msg("could not remove partial chain snapshot")
		}
		return nil, fmt.Errorf("could not build chain snapshot: %w", err)
	}
	c.metrics.CacheBuilt(time.Since(start))
	return m, nil
}

func (c *Cache) discard() error {
	if err := os.Remove(c.manifestPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove manifest: %w", err)
	}
	if err := os.RemoveAll(c.SnapshotDir()); err != nil {
		return fmt.Errorf("could not remove snapshot: %w", err)
	}
	return nil
}

func (c *Cache) build(ctx context.Context, params BuildParams) (*Manifest, error) {
	net := testnet.NewNetwork(c.cfg.Network)
	if _, err := net.InitializeDatadir(snapshotNode); err != nil {
		return nil, err
	}
	c.log.Info().Uint64("height", params.TargetHeight).Msg("building chain snapshot")

	h, err := c.supervisor.Start(ctx, net.Spec(snapshotNode, "-disablewallet"))
	if err != nil {
		return nil, err
	}
	mineErr := c.mine(ctx, h, params)
	if err := c.supervisor.Stop(ctx, h, c.cfg.StopGrace); err != nil {
		return nil, fmt.Errorf("could not stop snapshot node: %w", err)
	}
	if mineErr != nil {
		return nil, mineErr
	}

	chainDir := testnet.ChainDir(c.SnapshotDir(), c.cfg.Network.Chain)
	if err := os.RemoveAll(filepath.Join(chainDir, "wallets")); err != nil {
		return nil, fmt.Errorf("could not remove wallets: %w", err)
	}
	removed, err := io.RemoveAllExcept(chainDir, RetainedDirs)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Strs("removed", removed).Msg("cleaned snapshot")

	var retained []string
	for _, dir := range RetainedDirs {
		if io.IsDir(filepath.Join(chainDir, dir)) {
			retained = append(retained, dir)
		}
	}

	m := &Manifest{
		Chain:     c.cfg.Network.Chain,
		Height:    params.TargetHeight,
		Retained:  retained,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(c.manifestPath(), m); err != nil {
		return nil, err
	}

	size, err := io.DirSize(c.SnapshotDir())
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("size", units.HumanSize(float64(size))).Msg("chain snapshot built")
	return m, nil
}

// mine extends the chain of the snapshot node to the target height.
func (c *Cache) mine(ctx context.Context, h *process.NodeHandle, params BuildParams) error {
	best, err := h.Client.GetBestBlockHash(ctx)
	if err != nil {
		return err
	}
	tip, err := h.Client.GetBlockHeader(ctx, best)
	if err != nil {
		return err
	}
	// blocks must not end up in the future of the nodes cloned from the snapshot
	if err := h.Client.SetMockTime(ctx, tip.Time); err != nil {
		return err
	}

	for i := 0; i < params.MatureBatches; i++ {
		n := params.BatchSize
		if i == params.MatureBatches-1 {
			n--
		}
		address := Beneficiaries[i%len(Beneficiaries)]
		if _, err := h.Client.GenerateToAddress(ctx, n, address); err != nil {
			return fmt.Errorf("could not generate batch %d: %w", i, err)
		}
	}

	info, err := h.Client.GetBlockchainInfo(ctx)
	if err != nil {
		return err
	}
	if info.Blocks != params.TargetHeight {
		return fmt.Errorf("snapshot chain has height %d, want %d", info.Blocks, params.TargetHeight)
	}
	return nil
}

// Clone copies the snapshot into the data directories of nodes 0 to
// nodeCount-1 of dest and points their config at their own ports.
func (c *Cache) Clone(ctx context.Context, dest *testnet.Network, nodeCount int) error {
	logProgress := util.LogProgress(c.log, util.DefaultLogProgressConfig("cloning chain snapshot", nodeCount))
	for i := 0; i < nodeCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.CopyDir(c.SnapshotDir(), dest.Datadir(i), "stdout", "stderr", io.LockFileName)
		if err != nil {
			return err
		}
		if _, err := dest.InitializeDatadir(i); err != nil {
			return err
		}
		c.metrics.CacheCloned(n)
		c.log.Debug().Int("node", i).Str("size", units.HumanSize(float64(n))).Msg("snapshot copied")
		logProgress(1)
	}
	return nil
}

// InitializeClean prepares empty data directories for nodes 0 to
// nodeCount-1 of dest, for runs that build their own chain.
func InitializeClean(dest *testnet.Network, nodeCount int) error {
	for i := 0; i < nodeCount; i++ {
		if _, err := dest.InitializeDatadir(i); err != nil {
			return err
		}
	}
	return nil
}
