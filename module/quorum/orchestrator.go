// Package quorum registers masternodes and drives the DKG rounds that form
// quorums out of them, observing every phase through the nodes' status
// queries.
package quorum

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/onflow/quorumnet/integration/testnet"
	"github.com/onflow/quorumnet/model/chain"
	"github.com/onflow/quorumnet/module"
	"github.com/onflow/quorumnet/module/mocktime"
	"github.com/onflow/quorumnet/module/process"
	"github.com/onflow/quorumnet/module/topology"
	"github.com/onflow/quorumnet/utils/io"
	"github.com/onflow/quorumnet/utils/retry"
)

const (
	// SporkKey is the regtest spork signing key given to the control node.
	SporkKey = "cVpF924EspNh8KjYsfhgY96mmxvT6DgdWiTYMtMjuM74hJaU5psW"
	// BLSKeyArg passes the operator secret to a masternode.
	BLSKeyArg = "-masternodeblsprivkey="
	// SporkAllConnected is the spork making all quorum members connect to
	// each other, which makes probing unnecessary.
	SporkAllConnected = "SPORK_21_QUORUM_ALL_CONNECTED"

	controlNode = 0
	// feeReserve is sent to the collateral address to pay registration fees.
	feeReserve    = 0.001
	statusEnabled = "ENABLED"
)

type Config struct {
	LLMQName      string
	LLMQType      int
	LLMQSize      int
	LLMQThreshold int
	// DKGInterval is the number of blocks between round boundaries.
	DKGInterval uint64
	// PhaseBlocks are mined to move the round from one phase to the next.
	PhaseBlocks int
	// SignHeightOffset blocks are mined on top of a new quorum's commitment
	// so the quorum becomes eligible for signing.
	SignHeightOffset int
	// QuorumListCount is the number of quorums compared to detect a new one.
	QuorumListCount int
	Collateral      float64
	Fee             float64
	// DIP3Height is the height the control node mines to unless FastDIP3 is set.
	DIP3Height uint64
	FastDIP3   bool
	// ProbeMaxAge is the age after which a masternode probe counts as failed.
	ProbeMaxAge time.Duration
	MaxParallel int
	// StopGrace is the time the control node gets to shut down before its
	// data directory is copied.
	StopGrace time.Duration

	PhaseTimeout      time.Duration
	PhasePoll         time.Duration
	ConnectionTimeout time.Duration
	ProbeTimeout      time.Duration
	CommitmentTimeout time.Duration
	CommitmentPoll    time.Duration
	// MineTimeout bounds mining blocks until the commitment lands.
	MineTimeout   time.Duration
	MinePoll      time.Duration
	SporkTimeout  time.Duration
	SporkPoll     time.Duration
	MnsyncTimeout time.Duration
	StatusPoll    time.Duration
}

func DefaultConfig() Config {
	return Config{
		LLMQName:          "llmq_test",
		LLMQType:          100,
		LLMQSize:          3,
		LLMQThreshold:     2,
		DKGInterval:       24,
		PhaseBlocks:       2,
		SignHeightOffset:  8,
		QuorumListCount:   10,
		Collateral:        100,
		Fee:               0.0001,
		DIP3Height:        500,
		ProbeMaxAge:       55 * time.Minute,
		MaxParallel:       process.DefaultMaxParallel,
		StopGrace:         60 * time.Second,
		PhaseTimeout:      30 * time.Second,
		PhasePoll:         100 * time.Millisecond,
		ConnectionTimeout: 60 * time.Second,
		ProbeTimeout:      30 * time.Second,
		CommitmentTimeout: 15 * time.Second,
		CommitmentPoll:    500 * time.Millisecond,
		MineTimeout:       60 * time.Second,
		MinePoll:          2 * time.Second,
		SporkTimeout:      30 * time.Second,
		SporkPoll:         500 * time.Millisecond,
		MnsyncTimeout:     60 * time.Second,
		StatusPoll:        time.Second,
	}
}

// NodeArgs returns the arguments every node of a masternode network runs with.
func (c Config) NodeArgs() []string {
	args := []string{
		"-mncollateral=" + strconv.FormatFloat(c.Collateral, 'f', -1, 64),
		fmt.Sprintf("-llmqtestparams=%d:%d", c.LLMQSize, c.LLMQThreshold),
	}
	if c.FastDIP3 {
		args = append(args, "-dip3params=30:50")
	}
	return args
}

// Metrics is the subset of harness metrics reported by the orchestrator.
type Metrics interface {
	module.QuorumMetrics
	module.PollMetrics
}

// Orchestrator owns the masternode registry of a test network. Node 0 of the
// network is the control node: it funds registrations and mines every block.
type Orchestrator struct {
	log        zerolog.Logger
	cfg        Config
	supervisor *process.Supervisor
	net        *testnet.Network
	clock      *mocktime.Coordinator
	topology   *topology.Manager
	metrics    Metrics

	infos []*MasternodeInfo
}

func NewOrchestrator(
	log zerolog.Logger,
	cfg Config,
	supervisor *process.Supervisor,
	net *testnet.Network,
	clock *mocktime.Coordinator,
	topology *topology.Manager,
	metrics Metrics,
) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = process.DefaultMaxParallel
	}
	return &Orchestrator{
		log:        log.With().Str("component", "quorum_orchestrator").Logger(),
		cfg:        cfg,
		supervisor: supervisor,
		net:        net,
		clock:      clock,
		topology:   topology,
		metrics:    metrics,
	}
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

func (o *Orchestrator) control() (*process.NodeHandle, error) {
	h, ok := o.net.Node(controlNode)
	if !ok {
		return nil, fmt.Errorf("control node is not running")
	}
	return h, nil
}

// Masternodes returns the registered masternodes in registration order.
func (o *Orchestrator) Masternodes() []*MasternodeInfo {
	return append([]*MasternodeInfo(nil), o.infos...)
}

// Masternode returns the registered masternode with the given ProTx hash.
func (o *Orchestrator) Masternode(proTxHash string) (*MasternodeInfo, bool) {
	for _, info := range o.infos {
		if info.ProTxHash == proTxHash {
			return info, true
		}
	}
	return nil, false
}

// masternodeNodes returns the handles of the started masternodes among infos.
func masternodeNodes(infos []*MasternodeInfo) []*process.NodeHandle {
	nodes := make([]*process.NodeHandle, 0, len(infos))
	for _, info := range infos {
		if info.Node != nil {
			nodes = append(nodes, info.Node)
		}
	}
	return nodes
}

// RegisterMasternode funds and registers a new masternode identity from the
// control node's wallet, mines the registration and waits for all nodes to
// sync. The masternode is assigned the next free network slot; it is not
// started.
func (o *Orchestrator) RegisterMasternode(ctx context.Context, collateral float64, mode FundingMode) (*MasternodeInfo, error) {
	ctrl, err := o.control()
	if err != nil {
		return nil, err
	}
	c := ctrl.Client

	// the slot is claimed only once the registration is sent
	index := o.net.Size()

	keys, err := c.BLSGenerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not generate operator key: %w", err)
	}
	address, err := c.GetNewAddress(ctx)
	if err != nil {
		return nil, err
	}
	txID, err := c.SendToAddress(ctx, address, collateral)
	if err != nil {
		return nil, fmt.Errorf("could not fund collateral: %w", err)
	}
	raw, err := c.GetRawTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	vout, ok := raw.FindOutput(collateral)
	if !ok {
		return nil, fmt.Errorf("collateral transaction %s has no output of %v", txID, collateral)
	}
	outpoint := chain.Outpoint{TxID: txID, Vout: vout}
	if err := c.LockUnspent(ctx, false, []chain.Outpoint{outpoint}); err != nil {
		return nil, err
	}
	if _, err := c.SendToAddress(ctx, address, feeReserve); err != nil {
		return nil, fmt.Errorf("could not fund registration fee: %w", err)
	}

	info := &MasternodeInfo{
		OperatorKey:       *keys,
		CollateralAddress: address,
		Collateral:        outpoint,
		Service:           o.net.P2PAddr(index),
		Index:             index,
	}
	for _, addr := range []*string{&info.OwnerAddress, &info.VotingAddress, &info.PayoutAddress} {
		if *addr, err = c.GetNewAddress(ctx); err != nil {
			return nil, err
		}
	}

	req := module.ProTxRegistration{
		CollateralAddress: address,
		IPAndPort:         info.Service,
		OwnerAddress:      info.OwnerAddress,
		OperatorPubKey:    keys.Public,
		VotingAddress:     info.VotingAddress,
		OperatorReward:    0,
		PayoutAddress:     info.PayoutAddress,
		FundAddress:       address,
	}
	switch mode {
	case FundAndRegister:
		if err := c.LockUnspent(ctx, true, []chain.Outpoint{outpoint}); err != nil {
			return nil, err
		}
		if info.ProTxHash, err = c.ProTxRegisterFund(ctx, req); err != nil {
			return nil, fmt.Errorf("could not register masternode: %w", err)
		}
		// the registration transaction holds the collateral itself
		raw, err := c.GetRawTransaction(ctx, info.ProTxHash)
		if err != nil {
			return nil, err
		}
		vout, ok := raw.FindOutput(collateral)
		if !ok {
			return nil, fmt.Errorf("registration %s has no collateral output", info.ProTxHash)
		}
		info.Collateral = chain.Outpoint{TxID: info.ProTxHash, Vout: vout}
	case FundThenRegister:
		if _, err := c.Generate(ctx, 1); err != nil {
			return nil, err
		}
		if info.ProTxHash, err = c.ProTxRegister(ctx, outpoint, req); err != nil {
			return nil, fmt.Errorf("could not register masternode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown funding mode %d", mode)
	}
	o.net.Reserve(index + 1)

	if _, err := c.Generate(ctx, 1); err != nil {
		return nil, err
	}
	o.infos = append(o.infos, info)
	if err := o.topology.AwaitAllSynced(ctx, o.net.Nodes(), 0); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("protx", info.ProTxHash).
		Str("collateral", fmt.Sprintf("%s:%d", info.Collateral.TxID, info.Collateral.Vout)).
		Str("mode", mode.String()).
		Int("index", index).
		Msg("masternode registered")
	return info, nil
}

// PrepareMasternodes registers count masternodes, alternating between the
// two funding modes.
func (o *Orchestrator) PrepareMasternodes(ctx context.Context, count int) error {
	o.log.Info().Int("count", count).Msg("preparing masternodes")
	for i := 0; i < count; i++ {
		mode := FundAndRegister
		if i%2 == 1 {
			mode = FundThenRegister
		}
		if _, err := o.RegisterMasternode(ctx, o.cfg.Collateral, mode); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMasternode spends the masternode's collateral, which revokes its
// registration, and drops it from the registry. Its node keeps running.
func (o *Orchestrator) RemoveMasternode(ctx context.Context, info *MasternodeInfo) error {
	ctrl, err := o.control()
	if err != nil {
		return err
	}
	c := ctrl.Client

	address, err := c.GetNewAddress(ctx)
	if err != nil {
		return err
	}
	raw, err := c.CreateRawTransaction(ctx, []chain.Outpoint{info.Collateral}, map[string]float64{
		address: o.cfg.Collateral - o.cfg.Fee,
	})
	if err != nil {
		return fmt.Errorf("could not create collateral spend: %w", err)
	}
	signed, err := c.SignRawTransaction(ctx, raw)
	if err != nil {
		return err
	}
	if !signed.Complete {
		return fmt.Errorf("collateral spend of %s is not fully signed", info.ProTxHash)
	}
	if _, err := c.SendRawTransaction(ctx, signed.Hex); err != nil {
		return fmt.Errorf("could not send collateral spend: %w", err)
	}
	if _, err := c.Generate(ctx, 1); err != nil {
		return err
	}
	if err := o.topology.AwaitAllSynced(ctx, o.net.Nodes(), 0); err != nil {
		return err
	}

	for i, registered := range o.infos {
		if registered == info {
			o.infos = append(o.infos[:i], o.infos[i+1:]...)
			break
		}
	}
	o.log.Info().Str("protx", info.ProTxHash).Msg("masternode removed")
	return nil
}

func (o *Orchestrator) controlArgs() []string {
	return append([]string{"-sporkkey=" + SporkKey}, o.cfg.NodeArgs()...)
}

// startControl starts node 0 and registers it.
func (o *Orchestrator) startControl(ctx context.Context) (*process.NodeHandle, error) {
	args := append(o.controlArgs(), o.clock.Args()...)
	h, err := o.supervisor.Start(ctx, o.net.Spec(controlNode, args...))
	if err != nil {
		return nil, err
	}
	o.net.Add(h)
	return h, nil
}

// PrepareDatadirs stops the control node, copies its data directory to the
// slot of every registered masternode not yet started, replacing what is
// there, and restarts it.
func (o *Orchestrator) PrepareDatadirs(ctx context.Context) error {
	ctrl, err := o.control()
	if err != nil {
		return err
	}
	if err := o.supervisor.Stop(ctx, ctrl, o.cfg.StopGrace); err != nil {
		return err
	}
	o.net.Remove(controlNode)

	for _, info := range o.infos {
		if info.Node != nil {
			continue
		}
		dest := o.net.Datadir(info.Index)
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		if _, err := io.CopyDir(o.net.Datadir(controlNode), dest, "stdout", "stderr", io.LockFileName); err != nil {
			return err
		}
		if _, err := o.net.InitializeDatadir(info.Index); err != nil {
			return err
		}
	}

	_, err = o.startControl(ctx)
	return err
}

// StartMasternodes starts the given masternodes in parallel, finishes their
// masternode sync and checks that every node runs the identity it was
// registered with. It returns once the control node has authenticated all of
// them and they agree with it on the spork values.
func (o *Orchestrator) StartMasternodes(ctx context.Context, infos []*MasternodeInfo, extraArgs ...string) error {
	ctrl, err := o.control()
	if err != nil {
		return err
	}
	o.log.Info().Int("count", len(infos)).Msg("starting masternodes")

	specs := make([]process.NodeSpec, len(infos))
	for i, info := range infos {
		args := []string{BLSKeyArg + info.OperatorKey.Secret}
		args = append(args, o.cfg.NodeArgs()...)
		args = append(args, o.clock.Args()...)
		args = append(args, extraArgs...)
		specs[i] = o.net.Spec(info.Index, args...)
	}
	handles, err := o.supervisor.StartMany(ctx, specs, o.cfg.MaxParallel)
	if err != nil {
		return err
	}
	for i, h := range handles {
		o.net.Add(h)
		infos[i].Node = h
	}

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.MaxParallel)
	for _, info := range infos {
		info := info
		g.Go(func() error {
			if err := o.forceFinishMnsync(ctx, info.Node); err != nil {
				return err
			}
			return o.checkIdentity(ctx, info)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	nodes := masternodeNodes(infos)
	if err := o.topology.ConnectAllTo(ctx, nodes, ctrl, o.cfg.MaxParallel); err != nil {
		return err
	}
	if err := o.topology.AwaitPeerAuth(ctx, ctrl, len(nodes), 0); err != nil {
		return err
	}
	return o.WaitForSporksSame(ctx, append([]*process.NodeHandle{ctrl}, nodes...), 0)
}

// forceFinishMnsync steps the node's masternode sync until it reports done.
func (o *Orchestrator) forceFinishMnsync(ctx context.Context, h *process.NodeHandle) error {
	return retry.Until(ctx, o.log, "mnsync", o.cfg.MnsyncTimeout, o.cfg.PhasePoll, func(ctx context.Context) error {
		status, err := h.Client.MnsyncStatus(ctx)
		if err != nil {
			return retry.Pending(err)
		}
		if status.IsSynced {
			return nil
		}
		if err := h.Client.MnsyncNext(ctx); err != nil {
			return retry.Pending(err)
		}
		return retry.Pendingf("%s is at %s", h.Name(), status.AssetName)
	}, retry.WithMetrics(o.metrics))
}

func (o *Orchestrator) checkIdentity(ctx context.Context, info *MasternodeInfo) error {
	status, err := info.Node.Client.MasternodeStatus(ctx)
	if err != nil {
		return fmt.Errorf("could not query masternode status of %s: %w", info.Node.Name(), err)
	}
	if status.ProTxHash != info.ProTxHash ||
		status.State.OwnerAddress != info.OwnerAddress ||
		status.State.VotingAddress != info.VotingAddress {
		return fmt.Errorf("%s runs masternode %s (owner %s, voting %s), registered %s (owner %s, voting %s)",
			info.Node.Name(), status.ProTxHash, status.State.OwnerAddress, status.State.VotingAddress,
			info.ProTxHash, info.OwnerAddress, info.VotingAddress)
	}
	return nil
}

// SetupParams shape a masternode network.
type SetupParams struct {
	// Nodes is the total node count: the control node, simple nodes and masternodes.
	Nodes       int
	Masternodes int
}

// SetupNetwork builds a masternode network on a clean chain: it starts and
// funds the control node, starts the simple nodes, activates DIP3, registers
// and starts the masternodes and checks that all of them are enabled.
func (o *Orchestrator) SetupNetwork(ctx context.Context, params SetupParams) error {
	simple := params.Nodes - params.Masternodes - 1
	if simple < 0 {
		return fmt.Errorf("%d nodes cannot hold a control node and %d masternodes", params.Nodes, params.Masternodes)
	}

	o.log.Info().Msg("creating and starting control node")
	if _, err := o.net.InitializeDatadir(controlNode); err != nil {
		return err
	}
	ctrl, err := o.startControl(ctx)
	if err != nil {
		return err
	}

	required := o.cfg.Collateral*float64(params.Masternodes) + 1
	o.log.Info().Float64("required", required).Msg("generating coins")
	for {
		balance, err := ctrl.Client.GetBalance(ctx)
		if err != nil {
			return err
		}
		if balance >= required {
			break
		}
		if _, err := o.clock.Bump(ctx, 1); err != nil {
			return err
		}
		if _, err := ctrl.Client.Generate(ctx, 10); err != nil {
			return err
		}
	}

	o.log.Info().Int("count", simple).Msg("creating and starting simple nodes")
	for i := 1; i <= simple; i++ {
		if _, err := o.net.InitializeDatadir(i); err != nil {
			return err
		}
		args := append(o.cfg.NodeArgs(), o.clock.Args()...)
		h, err := o.supervisor.Start(ctx, o.net.Spec(i, args...))
		if err != nil {
			return err
		}
		o.net.Add(h)
		for j := 0; j < i; j++ {
			if err := o.topology.Connect(ctx, o.net.MustNode(j), h); err != nil {
				return err
			}
		}
	}

	if !o.cfg.FastDIP3 {
		o.log.Info().Uint64("height", o.cfg.DIP3Height).Msg("activating DIP3")
		for {
			height, err := ctrl.Client.GetBlockCount(ctx)
			if err != nil {
				return err
			}
			if height >= o.cfg.DIP3Height {
				break
			}
			if _, err := ctrl.Client.Generate(ctx, 10); err != nil {
				return err
			}
		}
	}
	if err := o.topology.AwaitAllSynced(ctx, o.net.Nodes(), 0); err != nil {
		return err
	}

	if err := o.PrepareMasternodes(ctx, params.Masternodes); err != nil {
		return err
	}
	if err := o.PrepareDatadirs(ctx); err != nil {
		return err
	}
	if err := o.StartMasternodes(ctx, o.Masternodes()); err != nil {
		return err
	}
	if ctrl, err = o.control(); err != nil {
		return err
	}

	// simple nodes lost their link to the control node when it restarted
	for i := 1; i <= simple; i++ {
		if err := o.topology.Connect(ctx, o.net.MustNode(i), ctrl); err != nil {
			return err
		}
	}

	if _, err := o.clock.Bump(ctx, 1); err != nil {
		return err
	}
	if _, err := ctrl.Client.Generate(ctx, 1); err != nil {
		return err
	}
	if err := o.topology.AwaitAllSynced(ctx, o.net.Nodes(), 0); err != nil {
		return err
	}
	if _, err := o.clock.Bump(ctx, 1); err != nil {
		return err
	}

	list, err := ctrl.Client.MasternodeListStatus(ctx)
	if err != nil {
		return err
	}
	if len(list) != params.Masternodes {
		return fmt.Errorf("masternode list holds %d entries, want %d", len(list), params.Masternodes)
	}
	for outpoint, status := range list {
		if status != statusEnabled {
			return fmt.Errorf("masternode %s is %s, want %s", outpoint, status, statusEnabled)
		}
	}
	o.log.Info().Int("masternodes", params.Masternodes).Int("simple", simple).Msg("masternode network ready")
	return nil
}
