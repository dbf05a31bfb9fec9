package fakenet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/onflow/quorumnet/client"
	"github.com/onflow/quorumnet/model/chain"
	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module"
)

type transaction struct {
	raw    chain.RawTransaction
	inputs []chain.Outpoint
}

type rawDraft struct {
	Inputs  []chain.Outpoint   `json:"inputs"`
	Outputs map[string]float64 `json:"outputs"`
}

// Client is a module.NodeClient bound to the node serving an rpc port.
type Client struct {
	net  *Network
	port int
}

var _ module.NodeClient = (*Client)(nil)

// ready returns the node if it is running and done warming up.
func (c *Client) ready(method string) (*node, error) {
	nd, err := c.net.nodeLocked(c.port)
	if err != nil {
		return nil, err
	}
	if nd.hang || nd.warmup > 0 {
		return nil, client.NewRPCError(method, client.ErrCodeInWarmup, "Loading block index...")
	}
	return nd, nil
}

func (c *Client) GetBlockCount(_ context.Context) (uint64, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.net.nodeLocked(c.port)
	if err != nil {
		return 0, err
	}
	if nd.hang || nd.warmup > 0 {
		if nd.warmup > 0 {
			nd.warmup--
		}
		return 0, client.NewRPCError("getblockcount", client.ErrCodeInWarmup, "Loading block index...")
	}
	return nd.tip().Height, nil
}

func (c *Client) GetBestBlockHash(_ context.Context) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getbestblockhash")
	if err != nil {
		return "", err
	}
	return nd.tip().Hash, nil
}

func (c *Client) GetBlockchainInfo(_ context.Context) (*chain.BlockchainInfo, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getblockchaininfo")
	if err != nil {
		return nil, err
	}
	tip := nd.tip()
	return &chain.BlockchainInfo{
		Chain:                ChainName,
		Blocks:               tip.Height,
		Headers:              tip.Height,
		BestBlockHash:        tip.Hash,
		InitialBlockDownload: nd.now()-tip.Time > int64((24 * time.Hour).Seconds()),
	}, nil
}

func (c *Client) GetBlockHeader(_ context.Context, hash string) (*chain.BlockHeader, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getblockheader")
	if err != nil {
		return nil, err
	}
	b, ok := nd.hasBlock(hash)
	if !ok {
		return nil, client.NewRPCError("getblockheader", client.ErrCodeInvalidAddressOrKey, "Block not found")
	}
	return &chain.BlockHeader{Hash: b.Hash, Height: b.Height, Time: b.Time}, nil
}

func (c *Client) GetBlockHex(_ context.Context, hash string) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getblock")
	if err != nil {
		return "", err
	}
	b, ok := nd.hasBlock(hash)
	if !ok {
		return "", client.NewRPCError("getblock", client.ErrCodeInvalidAddressOrKey, "Block not found")
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (c *Client) SubmitBlock(_ context.Context, blockHex string) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("submitblock")
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return "", client.NewRPCError("submitblock", -22, "Block decode failed")
	}
	var b block
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", client.NewRPCError("submitblock", -22, "Block decode failed")
	}
	if _, ok := nd.hasBlock(b.Hash); ok {
		return "duplicate", nil
	}
	if b.Height != nd.tip().Height+1 {
		return "inconclusive", nil
	}
	nd.chain = append(nd.chain, &b)
	c.net.propagateLocked(nd)
	return "", nil
}

func (c *Client) Generate(ctx context.Context, n int) ([]string, error) {
	c.net.mu.Lock()
	nd, err := c.ready("generatetoaddress")
	if err != nil {
		c.net.mu.Unlock()
		return nil, err
	}
	address := ""
	for addr := range nd.wallet {
		if address == "" || addr < address {
			address = addr
		}
	}
	if address == "" {
		address = "y" + c.net.nextHash("address", nd.name)[:33]
		nd.wallet[address] = true
	}
	c.net.mu.Unlock()
	return c.GenerateToAddress(ctx, n, address)
}

func (c *Client) GenerateToAddress(_ context.Context, n int, address string) ([]string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("generatetoaddress")
	if err != nil {
		return nil, err
	}
	return c.net.generateLocked(nd, n, address), nil
}

func (c *Client) GetRawMempool(_ context.Context) ([]string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getrawmempool")
	if err != nil {
		return nil, err
	}
	txIDs := make([]string, 0, len(nd.mempool))
	for txID := range nd.mempool {
		txIDs = append(txIDs, txID)
	}
	sort.Strings(txIDs)
	return txIDs, nil
}

func (c *Client) AddNode(_ context.Context, addr string) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("addnode")
	if err != nil {
		return err
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return client.NewRPCError("addnode", client.ErrCodeMisc, "invalid address")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return client.NewRPCError("addnode", client.ErrCodeMisc, "invalid address")
	}
	peer, ok := c.net.byP2P[port]
	if !ok || peer == nd || peer.stopping {
		// onetry connections fail silently
		return nil
	}
	nd.connect(peer, true)
	peer.connect(nd, false)
	c.net.propagateLocked(nd)
	return nil
}

func (c *Client) DisconnectNode(_ context.Context, peerID int) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("disconnectnode")
	if err != nil {
		return err
	}
	for peer, l := range nd.links {
		if l.peerID == peerID {
			delete(nd.links, peer)
			delete(peer.links, nd)
			return nil
		}
	}
	return client.NewRPCError("disconnectnode", -29, "Node not found in connected nodes")
}

func (c *Client) GetPeerInfo(_ context.Context) ([]chain.PeerInfo, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getpeerinfo")
	if err != nil {
		return nil, err
	}
	peers := make([]chain.PeerInfo, 0, len(nd.links))
	for peer, l := range nd.links {
		info := chain.PeerInfo{ID: l.peerID, Addr: l.addr, Inbound: !l.outbound, SubVer: peer.userAgent()}
		if reg := c.net.registrationFor(peer); reg != nil {
			info.VerifiedProRegTxHash = reg.proTxHash
		}
		peers = append(peers, info)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func (c *Client) SetMockTime(_ context.Context, unix int64) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("setmocktime")
	if err != nil {
		return err
	}
	nd.mockTime = unix
	return nil
}

func (c *Client) Stop(_ context.Context) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.net.nodeLocked(c.port)
	if err != nil {
		return err
	}
	if c.net.ignoreStop[c.port] {
		return nil
	}
	if err := c.net.persistLocked(nd); err != nil {
		return client.NewRPCError("stop", client.ErrCodeMisc, err.Error())
	}
	nd.stopping = true
	go func() {
		time.Sleep(10 * time.Millisecond)
		nd.proc.exit(nil)
	}()
	return nil
}

func (c *Client) MnsyncStatus(_ context.Context) (*chain.MnsyncStatus, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("mnsync")
	if err != nil {
		return nil, err
	}
	status := &chain.MnsyncStatus{AssetName: "MASTERNODE_SYNC_BLOCKCHAIN"}
	if nd.mnsync >= c.net.cfg.MnsyncSteps {
		status.AssetName = "MASTERNODE_SYNC_FINISHED"
		status.IsSynced = true
	}
	return status, nil
}

func (c *Client) MnsyncNext(_ context.Context) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("mnsync")
	if err != nil {
		return err
	}
	nd.mnsync++
	return nil
}

func (c *Client) SporkShow(_ context.Context) (map[string]int64, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("spork")
	if err != nil {
		return nil, err
	}
	sporks := make(map[string]int64, len(c.net.sporks))
	for name, value := range c.net.sporks {
		sporks[name] = value
	}
	for name, value := range c.net.nodeSporks[nd.name] {
		sporks[name] = value
	}
	return sporks, nil
}

func (c *Client) DKGStatus(_ context.Context) (*dkg.Status, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("quorum")
	if err != nil {
		return nil, err
	}

	cfg := c.net.cfg
	status := &dkg.Status{
		Time:               nd.now(),
		Sessions:           make(map[string]dkg.SessionStatus),
		QuorumConnections:  make(map[string][]dkg.QuorumConnection),
		MinableCommitments: make(map[string]dkg.MinableCommitment),
	}

	anchor, offset := c.net.round(nd.chain)
	phase := dkg.Phase(offset/cfg.PhaseBlocks + 1)
	members := c.net.roundMembers(nd.chain)
	self := c.net.registrationFor(nd)

	isMember := false
	for _, m := range members {
		if self != nil && m.proTxHash == self.proTxHash {
			isMember = true
		}
	}

	if isMember && anchor.Height > 0 && phase.Valid() && len(members) == cfg.QuorumSize {
		session := dkg.SessionStatus{
			LLMQType:     cfg.LLMQType,
			QuorumHash:   anchor.Hash,
			QuorumHeight: anchor.Height,
			Phase:        phase,
		}
		if phase >= dkg.PhaseContribute {
			session.ReceivedContributions = len(members)
			session.SentContributions = true
		}
		if phase >= dkg.PhaseCommit {
			session.ReceivedPrematureCommitments = len(members)
			session.SentPrematureCommitment = true
		}
		status.Sessions[cfg.LLMQName] = session

		var conns []dkg.QuorumConnection
		for i, m := range members {
			if m.proTxHash == self.proTxHash {
				continue
			}
			conns = append(conns, dkg.QuorumConnection{
				ProTxHash: m.proTxHash,
				Connected: true,
				Address:   m.service,
				Outbound:  i%2 == 0,
			})
		}
		status.QuorumConnections[cfg.LLMQName] = conns
	}

	if hash, ok := c.net.minableLocked(nd.chain); ok {
		status.MinableCommitments[cfg.LLMQName] = dkg.MinableCommitment{
			LLMQType:     cfg.LLMQType,
			QuorumHash:   hash,
			SignersCount: len(members),
			ValidMembers: len(members),
		}
	}

	if c.net.statusHook != nil {
		c.net.statusHook(nd.name, status)
	}
	return status, nil
}

func (c *Client) QuorumList(_ context.Context, count int) (dkg.QuorumList, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("quorum")
	if err != nil {
		return nil, err
	}
	hashes := []string{}
	for i := len(nd.chain) - 1; i >= 0 && len(hashes) < count; i-- {
		if nd.chain[i].Commitment != "" {
			hashes = append(hashes, nd.chain[i].Commitment)
		}
	}
	return dkg.QuorumList{c.net.cfg.LLMQName: hashes}, nil
}

func (c *Client) QuorumInfo(_ context.Context, llmqType int, hash string) (*dkg.QuorumInfo, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("quorum")
	if err != nil {
		return nil, err
	}
	if llmqType != c.net.cfg.LLMQType {
		return nil, client.NewRPCError("quorum", -8, "invalid LLMQ type")
	}
	anchor, ok := nd.hasBlock(hash)
	if !ok {
		return nil, client.NewRPCError("quorum", client.ErrCodeInvalidAddressOrKey, "quorum not found")
	}
	for _, b := range nd.chain {
		if b.Commitment != hash {
			continue
		}
		info := &dkg.QuorumInfo{
			Height:     anchor.Height,
			Type:       c.net.cfg.LLMQName,
			QuorumHash: hash,
			MinedBlock: b.Hash,
		}
		for _, proTxHash := range c.net.quorumRound[hash] {
			info.Members = append(info.Members, dkg.QuorumMember{ProTxHash: proTxHash, Valid: true})
		}
		return info, nil
	}
	return nil, client.NewRPCError("quorum", client.ErrCodeInvalidAddressOrKey, "quorum not found")
}

func (c *Client) ProTxInfo(_ context.Context, proTxHash string) (*dkg.ProTxInfo, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if _, err := c.ready("protx"); err != nil {
		return nil, err
	}
	for _, reg := range c.net.regs {
		if reg.proTxHash == proTxHash {
			return &dkg.ProTxInfo{ProTxHash: proTxHash}, nil
		}
	}
	return nil, client.NewRPCError("protx", client.ErrCodeInvalidAddressOrKey, proTxHash+" not found")
}

func (c *Client) MasternodeListStatus(_ context.Context) (map[string]string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("masternodelist")
	if err != nil {
		return nil, err
	}
	list := make(map[string]string)
	for _, reg := range c.net.activeRegistrations(nd.chain) {
		list[fmt.Sprintf("%s-%d", reg.collateral, reg.vout)] = "ENABLED"
	}
	return list, nil
}

func (c *Client) MasternodeStatus(_ context.Context) (*dkg.MasternodeStatus, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("masternode")
	if err != nil {
		return nil, err
	}
	reg := c.net.registrationFor(nd)
	if reg == nil {
		return nil, client.NewRPCError("masternode", client.ErrCodeMisc, "This is not a masternode")
	}
	return &dkg.MasternodeStatus{
		ProTxHash: reg.proTxHash,
		Status:    "Ready",
		State: dkg.MasternodeState{
			Service:        reg.service,
			OwnerAddress:   reg.owner,
			VotingAddress:  reg.voting,
			PayoutAddress:  reg.payout,
			PubKeyOperator: reg.operator,
		},
	}, nil
}

func (c *Client) GetNewAddress(_ context.Context) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getnewaddress")
	if err != nil {
		return "", err
	}
	address := "y" + c.net.nextHash("address", nd.name)[:33]
	nd.wallet[address] = true
	return address, nil
}

// addTxLocked records a transaction paying outputs in order and broadcasts it.
func (c *Client) addTxLocked(nd *node, inputs []chain.Outpoint, outputs []chain.TxOut) string {
	txID := c.net.nextHash("tx", nd.name)
	for i := range outputs {
		outputs[i].N = i
	}
	c.net.txs[txID] = &transaction{
		raw:    chain.RawTransaction{TxID: txID, Vout: outputs},
		inputs: inputs,
	}
	nd.mempool[txID] = struct{}{}
	c.net.propagateLocked(nd)
	return txID
}

func payTo(address string, value float64) chain.TxOut {
	return chain.TxOut{Value: value, ScriptPubKey: chain.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{address}}}
}

func (c *Client) SendToAddress(_ context.Context, address string, amount float64) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("sendtoaddress")
	if err != nil {
		return "", err
	}
	fee := c.net.cfg.Fee
	if amount+fee > nd.balance {
		return "", client.NewRPCError("sendtoaddress", -6, "Insufficient funds")
	}
	if nd.wallet[address] {
		nd.balance -= fee
	} else {
		nd.balance -= amount + fee
	}
	change := "y" + c.net.nextHash("change", nd.name)[:33]
	nd.wallet[change] = true
	return c.addTxLocked(nd, nil, []chain.TxOut{payTo(change, 1), payTo(address, amount)}), nil
}

func (c *Client) LockUnspent(_ context.Context, unlock bool, outputs []chain.Outpoint) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("lockunspent")
	if err != nil {
		return err
	}
	for _, out := range outputs {
		tx, ok := c.net.txs[out.TxID]
		if !ok || out.Vout >= len(tx.raw.Vout) {
			return client.NewRPCError("lockunspent", -8, "Invalid parameter, unknown transaction")
		}
		key := fmt.Sprintf("%s-%d", out.TxID, out.Vout)
		if unlock {
			delete(nd.locked, key)
		} else {
			nd.locked[key] = true
		}
	}
	return nil
}

func (c *Client) GetBalance(_ context.Context) (float64, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("getbalance")
	if err != nil {
		return 0, err
	}
	return nd.balance, nil
}

func (c *Client) GetRawTransaction(_ context.Context, txID string) (*chain.RawTransaction, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if _, err := c.ready("getrawtransaction"); err != nil {
		return nil, err
	}
	tx, ok := c.net.txs[txID]
	if !ok {
		return nil, client.NewRPCError("getrawtransaction", client.ErrCodeInvalidAddressOrKey, "No such mempool or blockchain transaction")
	}
	raw := tx.raw
	return &raw, nil
}

func (c *Client) CreateRawTransaction(_ context.Context, inputs []chain.Outpoint, outputs map[string]float64) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if _, err := c.ready("createrawtransaction"); err != nil {
		return "", err
	}
	for _, in := range inputs {
		if _, ok := c.net.txs[in.TxID]; !ok {
			return "", client.NewRPCError("createrawtransaction", -8, "Invalid parameter, unknown input")
		}
	}
	raw, err := json.Marshal(rawDraft{Inputs: inputs, Outputs: outputs})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (c *Client) SignRawTransaction(_ context.Context, txHex string) (*chain.SignedTransaction, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if _, err := c.ready("signrawtransactionwithwallet"); err != nil {
		return nil, err
	}
	return &chain.SignedTransaction{Hex: txHex, Complete: true}, nil
}

func (c *Client) SendRawTransaction(_ context.Context, txHex string) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("sendrawtransaction")
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", client.NewRPCError("sendrawtransaction", -22, "TX decode failed")
	}
	var draft rawDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return "", client.NewRPCError("sendrawtransaction", -22, "TX decode failed")
	}

	for _, in := range draft.Inputs {
		for _, reg := range c.net.regs {
			if reg.collateral == in.TxID && reg.vout == in.Vout {
				reg.spent = true
			}
		}
	}

	addresses := make([]string, 0, len(draft.Outputs))
	for address := range draft.Outputs {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	outputs := make([]chain.TxOut, 0, len(addresses))
	for _, address := range addresses {
		outputs = append(outputs, payTo(address, draft.Outputs[address]))
	}
	return c.addTxLocked(nd, draft.Inputs, outputs), nil
}

func (c *Client) BLSGenerate(_ context.Context) (*dkg.BLSKeyPair, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("bls")
	if err != nil {
		return nil, err
	}
	keys := &dkg.BLSKeyPair{
		Secret: c.net.nextHash("bls-secret", nd.name),
		Public: c.net.nextHash("bls-public", nd.name) + c.net.nextHash("bls-public", nd.name)[:32],
	}
	c.net.blsPublic[keys.Secret] = keys.Public
	return keys, nil
}

func (c *Client) registerLocked(method string, nd *node, collateral chain.Outpoint, req module.ProTxRegistration) (string, error) {
	for _, reg := range c.net.regs {
		if !reg.spent && reg.service == req.IPAndPort {
			return "", client.NewRPCError(method, -1, "bad-protx-dup-addr")
		}
	}
	reg := &registration{
		collateral: collateral.TxID,
		vout:       collateral.Vout,
		owner:      req.OwnerAddress,
		voting:     req.VotingAddress,
		payout:     req.PayoutAddress,
		operator:   req.OperatorPubKey,
		service:    req.IPAndPort,
	}
	outputs := []chain.TxOut{payTo(req.PayoutAddress, 0)}
	if collateral.TxID == "" {
		outputs = []chain.TxOut{payTo(req.CollateralAddress, c.net.cfg.Collateral)}
	}
	reg.proTxHash = c.addTxLocked(nd, nil, outputs)
	if collateral.TxID == "" {
		reg.collateral = reg.proTxHash
		reg.vout = 0
	}
	c.net.regs = append(c.net.regs, reg)
	return reg.proTxHash, nil
}

func (c *Client) ProTxRegisterFund(_ context.Context, req module.ProTxRegistration) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("protx")
	if err != nil {
		return "", err
	}
	if nd.balance < c.net.cfg.Collateral+c.net.cfg.Fee {
		return "", client.NewRPCError("protx", -6, "Insufficient funds")
	}
	nd.balance -= c.net.cfg.Fee
	return c.registerLocked("protx", nd, chain.Outpoint{}, req)
}

func (c *Client) ProTxRegister(_ context.Context, collateral chain.Outpoint, req module.ProTxRegistration) (string, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	nd, err := c.ready("protx")
	if err != nil {
		return "", err
	}
	tx, ok := c.net.txs[collateral.TxID]
	if !ok || collateral.Vout >= len(tx.raw.Vout) || tx.raw.Vout[collateral.Vout].Value != c.net.cfg.Collateral {
		return "", client.NewRPCError("protx", -8, "invalid collateral")
	}
	if !nd.confirmed()[collateral.TxID] {
		return "", client.NewRPCError("protx", -8, "collateral not confirmed")
	}
	nd.balance -= c.net.cfg.Fee
	return c.registerLocked("protx", nd, collateral, req)
}
