// Package fakenet simulates a network of ledger nodes in memory. It serves the
// node control interface, launches "processes" that are plain goroutine-free
// state machines, and derives DKG progress from chain height so harness
// components can be exercised end to end without node binaries.
package fakenet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module"
)

// ErrConnectionRefused is returned by clients of nodes that are not running.
var ErrConnectionRefused = errors.New("connection refused")

const (
	// ChainName is the name of the chain subdirectory inside a data directory.
	ChainName = "regtest"
	// GenesisTime is the timestamp of the genesis block.
	GenesisTime = 1296688602
	// BLSKeyArg is the argument prefix carrying a masternode operator key.
	BLSKeyArg = "-masternodeblsprivkey="
	// MockTimeArg is the argument prefix setting the initial mock time.
	MockTimeArg = "-mocktime="
	// UserAgentArg is the argument prefix of the comment nodes add to their
	// user agent.
	UserAgentArg = "-uacomment="

	chainFile  = "chain.json"
	walletFile = "wallet.json"
)

// Config parameterizes the simulated network.
type Config struct {
	LLMQName    string
	LLMQType    int
	QuorumSize  int
	DKGInterval uint64
	// PhaseBlocks is the number of blocks each DKG phase lasts.
	PhaseBlocks uint64
	// MiningWindowEnd is the last round offset at which a commitment is mined.
	MiningWindowEnd uint64
	BlockReward     float64
	Collateral      float64
	Fee             float64
	// WarmupPolls is the number of liveness probes a node answers with a
	// warm-up error after launch.
	WarmupPolls int
	// MnsyncSteps is the number of `mnsync next` calls needed to finish sync.
	MnsyncSteps int
}

// DefaultConfig returns the parameters of the test quorum type.
func DefaultConfig() Config {
	return Config{
		LLMQName:        "llmq_test",
		LLMQType:        100,
		QuorumSize:      3,
		DKGInterval:     24,
		PhaseBlocks:     2,
		MiningWindowEnd: 18,
		BlockReward:     500,
		Collateral:      100,
		Fee:             0.0001,
		WarmupPolls:     1,
		MnsyncSteps:     3,
	}
}

type block struct {
	Hash       string   `json:"hash"`
	Height     uint64   `json:"height"`
	Time       int64    `json:"time"`
	Txs        []string `json:"txs,omitempty"`
	Commitment string   `json:"commitment,omitempty"`
}

type registration struct {
	proTxHash  string
	collateral string
	vout       int
	owner      string
	voting     string
	payout     string
	operator   string
	service    string
	spent      bool
}

// StatusHook can modify the dkgstatus reply of the named node.
type StatusHook func(nodeName string, status *dkg.Status)

// Network is the simulated network. All methods are safe for concurrent use.
type Network struct {
	mu  sync.Mutex
	cfg Config

	nodes       map[int]*node // by rpc port
	byP2P       map[int]*node
	counter     uint64
	txs         map[string]*transaction
	regs        []*registration
	blsPublic   map[string]string // secret -> public
	quorumRound map[string][]string
	sporks      map[string]int64
	nodeSporks  map[string]map[string]int64 // by node name
	statusHook  StatusHook

	failLaunch  map[int]error
	hangLaunch  map[int]bool
	ignoreStop  map[int]bool
	generations map[string]int // by node name
}

// NewNetwork creates an empty network.
func NewNetwork(cfg Config) *Network {
	return &Network{
		cfg:         cfg,
		nodes:       make(map[int]*node),
		byP2P:       make(map[int]*node),
		txs:         make(map[string]*transaction),
		blsPublic:   make(map[string]string),
		quorumRound: make(map[string][]string),
		sporks: map[string]int64{
			"SPORK_17_QUORUM_DKG_ENABLED":   0,
			"SPORK_21_QUORUM_ALL_CONNECTED": 0,
		},
		nodeSporks:  make(map[string]map[string]int64),
		failLaunch:  make(map[int]error),
		hangLaunch:  make(map[int]bool),
		ignoreStop:  make(map[int]bool),
		generations: make(map[string]int),
	}
}

// Launcher returns a module.Launcher starting simulated nodes.
func (n *Network) Launcher() module.Launcher {
	return launcher{net: n}
}

// ClientFactory returns a module.ClientFactory for simulated nodes.
func (n *Network) ClientFactory() module.ClientFactory {
	return func(_ context.Context, endpoint module.RPCEndpoint) (module.NodeClient, error) {
		return &Client{net: n, port: endpoint.Port}, nil
	}
}

// Client returns a client for the node serving rpcPort.
func (n *Network) Client(rpcPort int) *Client {
	return &Client{net: n, port: rpcPort}
}

// FailLaunch makes the next launch of the node serving rpcPort exit
// immediately with err.
func (n *Network) FailLaunch(rpcPort int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failLaunch[rpcPort] = err
}

// HangLaunch makes nodes serving rpcPort never finish warming up.
func (n *Network) HangLaunch(rpcPort int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hangLaunch[rpcPort] = true
}

// IgnoreStop makes the node serving rpcPort ignore graceful stop requests.
func (n *Network) IgnoreStop(rpcPort int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ignoreStop[rpcPort] = true
}

// Crash terminates the node serving rpcPort with a non-zero exit status.
func (n *Network) Crash(rpcPort int) {
	n.mu.Lock()
	nd, ok := n.nodes[rpcPort]
	if ok {
		n.removeLocked(nd)
	}
	n.mu.Unlock()
	if ok {
		nd.proc.exit(errors.New("exit status 1"))
	}
}

// SetStatusHook installs a hook applied to every dkgstatus reply.
func (n *Network) SetStatusHook(hook StatusHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusHook = hook
}

// SetSpork sets a spork value on every node.
func (n *Network) SetSpork(name string, value int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sporks[name] = value
}

// SetNodeSpork overrides a spork value on the named node only.
func (n *Network) SetNodeSpork(node, name string, value int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodeSporks[node] == nil {
		n.nodeSporks[node] = make(map[string]int64)
	}
	n.nodeSporks[node][name] = value
}

// Generations returns the number of blocks mined by the named node.
func (n *Network) Generations(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.generations[name]
}

// Running returns true if a node serves rpcPort.
func (n *Network) Running(rpcPort int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.nodes[rpcPort]
	return ok
}

// MockTime returns the mock time of the node serving rpcPort.
func (n *Network) MockTime(rpcPort int) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nd, ok := n.nodes[rpcPort]; ok {
		return nd.mockTime
	}
	return 0
}

// Height returns the chain height of the node serving rpcPort.
func (n *Network) Height(rpcPort int) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nd, ok := n.nodes[rpcPort]; ok {
		return nd.tip().Height
	}
	return 0
}

func (n *Network) nextHash(parts ...string) string {
	n.counter++
	h := sha256.Sum256([]byte(strings.Join(parts, "/") + "/" + strconv.FormatUint(n.counter, 10)))
	return hex.EncodeToString(h[:])
}

func (n *Network) launch(spec module.LaunchSpec) (*process, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	proc := newProcess()
	if err, ok := n.failLaunch[spec.RPC.Port]; ok {
		delete(n.failLaunch, spec.RPC.Port)
		proc.exit(err)
		return proc, nil
	}
	if _, ok := n.nodes[spec.RPC.Port]; ok {
		return nil, fmt.Errorf("rpc port %d already in use", spec.RPC.Port)
	}

	chainDir := filepath.Join(spec.Dir, ChainName)
	for _, sub := range []string{"blocks", "chainstate", "wallets", "evodb", "llmq", "blockindex"} {
		if err := os.MkdirAll(filepath.Join(chainDir, sub), 0755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(filepath.Join(chainDir, "peers.dat"), []byte("peers"), 0644); err != nil {
		return nil, err
	}

	blocks, err := loadChain(chainDir)
	if err != nil {
		return nil, err
	}

	var mockTime int64
	if v := argValue(spec.Args, MockTimeArg); v != "" {
		mockTime, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mock time %q: %w", v, err)
		}
	}

	w, err := loadWallet(chainDir)
	if err != nil {
		return nil, err
	}

	nd := &node{
		name:     spec.Name,
		dir:      spec.Dir,
		rpcPort:  spec.RPC.Port,
		p2pPort:  spec.P2PPort,
		chain:    blocks,
		mockTime: mockTime,
		mempool:  make(map[string]struct{}),
		links:    make(map[*node]*link),
		wallet:   w.Addresses,
		locked:   w.Locked,
		balance:  w.Balance,
		warmup:   n.cfg.WarmupPolls,
		hang:     n.hangLaunch[spec.RPC.Port],
		proc:     proc,
		blsKey:   argValue(spec.Args, BLSKeyArg),
		comment:  argValue(spec.Args, UserAgentArg),
		stopping: false,
	}
	n.nodes[nd.rpcPort] = nd
	if nd.p2pPort != 0 {
		n.byP2P[nd.p2pPort] = nd
	}

	proc.onExit = func() {
		n.mu.Lock()
		n.removeLocked(nd)
		n.mu.Unlock()
	}

	return proc, nil
}

func argValue(args []string, prefix string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, prefix) {
			return strings.TrimPrefix(arg, prefix)
		}
	}
	return ""
}

func loadChain(chainDir string) ([]*block, error) {
	raw, err := os.ReadFile(filepath.Join(chainDir, "blocks", chainFile))
	if errors.Is(err, os.ErrNotExist) {
		return []*block{{Hash: "genesis", Height: 0, Time: GenesisTime}}, nil
	}
	if err != nil {
		return nil, err
	}
	var blocks []*block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("corrupted chain file: %w", err)
	}
	return blocks, nil
}

type wallet struct {
	Addresses map[string]bool `json:"addresses"`
	Locked    map[string]bool `json:"locked"`
	Balance   float64         `json:"balance"`
}

func loadWallet(chainDir string) (*wallet, error) {
	w := &wallet{Addresses: make(map[string]bool), Locked: make(map[string]bool)}
	raw, err := os.ReadFile(filepath.Join(chainDir, "wallets", walletFile))
	if errors.Is(err, os.ErrNotExist) {
		return w, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, w); err != nil {
		return nil, fmt.Errorf("corrupted wallet file: %w", err)
	}
	return w, nil
}

func (n *Network) persistLocked(nd *node) error {
	raw, err := json.Marshal(nd.chain)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(nd.dir, ChainName, "blocks", chainFile), raw, 0644); err != nil {
		return err
	}
	raw, err = json.Marshal(wallet{Addresses: nd.wallet, Locked: nd.locked, Balance: nd.balance})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(nd.dir, ChainName, "wallets", walletFile), raw, 0644)
}

// removeLocked detaches a node from the network. It is idempotent.
func (n *Network) removeLocked(nd *node) {
	if cur, ok := n.nodes[nd.rpcPort]; !ok || cur != nd {
		return
	}
	for peer := range nd.links {
		delete(peer.links, nd)
	}
	nd.links = make(map[*node]*link)
	delete(n.nodes, nd.rpcPort)
	if nd.p2pPort != 0 && n.byP2P[nd.p2pPort] == nd {
		delete(n.byP2P, nd.p2pPort)
	}
}

func (n *Network) nodeLocked(port int) (*node, error) {
	nd, ok := n.nodes[port]
	if !ok || nd.stopping {
		return nil, fmt.Errorf("dial 127.0.0.1:%d: %w", port, ErrConnectionRefused)
	}
	return nd, nil
}

// component returns all nodes reachable from nd over peer links.
func (n *Network) component(nd *node) []*node {
	seen := map[*node]bool{nd: true}
	queue := []*node{nd}
	for i := 0; i < len(queue); i++ {
		for peer := range queue[i].links {
			if !seen[peer] {
				seen[peer] = true
				queue = append(queue, peer)
			}
		}
	}
	return queue
}

// propagateLocked makes every node of nd's component adopt the longest chain
// and the union of all mempools.
func (n *Network) propagateLocked(nd *node) {
	members := n.component(nd)

	best := nd
	for _, m := range members {
		if len(m.chain) > len(best.chain) {
			best = m
		}
	}
	for _, m := range members {
		if m != best && len(m.chain) < len(best.chain) {
			m.chain = append([]*block(nil), best.chain...)
		}
	}

	pool := make(map[string]struct{})
	for _, m := range members {
		for txID := range m.mempool {
			pool[txID] = struct{}{}
		}
	}
	for _, m := range members {
		confirmed := m.confirmed()
		m.mempool = make(map[string]struct{}, len(pool))
		for txID := range pool {
			if !confirmed[txID] {
				m.mempool[txID] = struct{}{}
			}
		}
	}
}

// activeRegistrations returns the registrations confirmed in chain and not spent.
func (n *Network) activeRegistrations(chain []*block) []*registration {
	confirmed := make(map[string]bool)
	for _, b := range chain {
		for _, txID := range b.Txs {
			confirmed[txID] = true
		}
	}
	var active []*registration
	for _, reg := range n.regs {
		if reg.spent || !confirmed[reg.proTxHash] {
			continue
		}
		active = append(active, reg)
	}
	return active
}

// registrationFor returns the registration operated by the node's BLS key.
func (n *Network) registrationFor(nd *node) *registration {
	if nd.blsKey == "" {
		return nil
	}
	public := n.blsPublic[nd.blsKey]
	for _, reg := range n.regs {
		if reg.operator == public && !reg.spent {
			return reg
		}
	}
	return nil
}

// roundMembers returns the registrations of the running masternodes which
// form the quorum of the current round, in registration order.
func (n *Network) roundMembers(chain []*block) []*registration {
	running := make(map[string]bool)
	for _, nd := range n.nodes {
		if reg := n.registrationFor(nd); reg != nil {
			running[reg.proTxHash] = true
		}
	}
	var members []*registration
	for _, reg := range n.activeRegistrations(chain) {
		if !running[reg.proTxHash] {
			continue
		}
		members = append(members, reg)
		if len(members) == n.cfg.QuorumSize {
			break
		}
	}
	return members
}

// round returns the anchor block and the offset of tip within the DKG round.
func (n *Network) round(chain []*block) (*block, uint64) {
	tip := chain[len(chain)-1]
	offset := tip.Height % n.cfg.DKGInterval
	return chain[tip.Height-offset], offset
}

func committed(chain []*block, anchor string) bool {
	for _, b := range chain {
		if b.Commitment == anchor {
			return true
		}
	}
	return false
}

// minableLocked returns the anchor whose commitment can be mined on top of chain.
func (n *Network) minableLocked(chain []*block) (string, bool) {
	anchor, offset := n.round(chain)
	if anchor.Height == 0 {
		return "", false
	}
	finalize := (dkg.PhaseCount - 1) * n.cfg.PhaseBlocks
	if offset < finalize || offset >= n.cfg.MiningWindowEnd {
		return "", false
	}
	if committed(chain, anchor.Hash) {
		return "", false
	}
	if len(n.roundMembers(chain)) < n.cfg.QuorumSize {
		return "", false
	}
	return anchor.Hash, true
}

func (n *Network) generateLocked(nd *node, count int, address string) []string {
	hashes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		tip := nd.tip()
		b := &block{
			Hash:   n.nextHash(tip.Hash, nd.name),
			Height: tip.Height + 1,
			Time:   nd.now(),
		}
		if anchor, ok := n.minableLocked(nd.chain); ok {
			b.Commitment = anchor
			var members []string
			for _, reg := range n.roundMembers(nd.chain) {
				members = append(members, reg.proTxHash)
			}
			n.quorumRound[anchor] = members
		}
		for txID := range nd.mempool {
			b.Txs = append(b.Txs, txID)
		}
		nd.mempool = make(map[string]struct{})
		nd.chain = append(nd.chain, b)
		if nd.wallet[address] {
			nd.balance += n.cfg.BlockReward
		}
		hashes = append(hashes, b.Hash)
		n.propagateLocked(nd)
	}
	n.generations[nd.name] += count
	return hashes
}
