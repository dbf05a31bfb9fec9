// Package client binds the harness' node interface to a node's JSON-RPC
// control interface over HTTP.
package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/onflow/quorumnet/model/chain"
	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module"
)

// DefaultTimeout is the default per-call timeout.
const DefaultTimeout = 60 * time.Second

// Client is a NodeClient talking JSON-RPC to a single node.
type Client struct {
	log      zerolog.Logger
	endpoint module.RPCEndpoint
	rpc      *rpc.Client

	mu            sync.Mutex
	miningAddress string
}

var _ module.NodeClient = (*Client)(nil)

// Dial creates a client for endpoint. The node does not need to be up yet, the
// connection is established on the first call.
func Dial(ctx context.Context, log zerolog.Logger, endpoint module.RPCEndpoint, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(endpoint.User + ":" + endpoint.Password))
	rpcClient, err := rpc.DialOptions(ctx, endpoint.URL(),
		rpc.WithHTTPClient(&http.Client{Timeout: timeout}),
		rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", "Basic "+credentials)
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create rpc client for %s: %w", endpoint.URL(), err)
	}

	return &Client{
		log:      log.With().Str("component", "rpc_client").Str("endpoint", endpoint.URL()).Logger(),
		endpoint: endpoint,
		rpc:      rpcClient,
	}, nil
}

// NewFactory returns a module.ClientFactory creating clients with the given
// per-call timeout.
func NewFactory(log zerolog.Logger, timeout time.Duration) module.ClientFactory {
	return func(ctx context.Context, endpoint module.RPCEndpoint) (module.NodeClient, error) {
		return Dial(ctx, log, endpoint, timeout)
	}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	c.log.Trace().Str("method", method).Interface("args", args).Msg("rpc call")
	err := c.rpc.CallContext(ctx, result, method, args...)
	return translateError(method, err)
}

func (c *Client) GetBlockCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := c.call(ctx, &count, "getblockcount")
	return count, err
}

func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	err := c.call(ctx, &hash, "getbestblockhash")
	return hash, err
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*chain.BlockchainInfo, error) {
	var info chain.BlockchainInfo
	if err := c.call(ctx, &info, "getblockchaininfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetBlockHeader(ctx context.Context, hash string) (*chain.BlockHeader, error) {
	var header chain.BlockHeader
	if err := c.call(ctx, &header, "getblockheader", hash, true); err != nil {
		return nil, err
	}
	return &header, nil
}

func (c *Client) GetBlockHex(ctx context.Context, hash string) (string, error) {
	var raw string
	err := c.call(ctx, &raw, "getblock", hash, 0)
	return raw, err
}

func (c *Client) SubmitBlock(ctx context.Context, blockHex string) (string, error) {
	var result *string
	if err := c.call(ctx, &result, "submitblock", blockHex); err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return *result, nil
}

// Generate mines n blocks to an address owned by the node's wallet. The
// address is requested once and reused for the lifetime of the client.
func (c *Client) Generate(ctx context.Context, n int) ([]string, error) {
	address, err := c.walletMiningAddress(ctx)
	if err != nil {
		return nil, err
	}
	return c.GenerateToAddress(ctx, n, address)
}

func (c *Client) walletMiningAddress(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.miningAddress != "" {
		return c.miningAddress, nil
	}
	address, err := c.GetNewAddress(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get mining address: %w", err)
	}
	c.miningAddress = address
	return address, nil
}

func (c *Client) GenerateToAddress(ctx context.Context, n int, address string) ([]string, error) {
	var hashes []string
	err := c.call(ctx, &hashes, "generatetoaddress", n, address)
	return hashes, err
}

func (c *Client) GetRawMempool(ctx context.Context) ([]string, error) {
	var txIDs []string
	err := c.call(ctx, &txIDs, "getrawmempool")
	return txIDs, err
}

func (c *Client) AddNode(ctx context.Context, addr string) error {
	return c.call(ctx, nil, "addnode", addr, "onetry")
}

func (c *Client) DisconnectNode(ctx context.Context, peerID int) error {
	return c.call(ctx, nil, "disconnectnode", "", peerID)
}

func (c *Client) GetPeerInfo(ctx context.Context) ([]chain.PeerInfo, error) {
	var peers []chain.PeerInfo
	err := c.call(ctx, &peers, "getpeerinfo")
	return peers, err
}

func (c *Client) SetMockTime(ctx context.Context, unix int64) error {
	return c.call(ctx, nil, "setmocktime", unix)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, nil, "stop")
}

func (c *Client) MnsyncStatus(ctx context.Context) (*chain.MnsyncStatus, error) {
	var status chain.MnsyncStatus
	if err := c.call(ctx, &status, "mnsync", "status"); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) MnsyncNext(ctx context.Context) error {
	return c.call(ctx, nil, "mnsync", "next")
}

func (c *Client) SporkShow(ctx context.Context) (map[string]int64, error) {
	var sporks map[string]int64
	err := c.call(ctx, &sporks, "spork", "show")
	return sporks, err
}

func (c *Client) DKGStatus(ctx context.Context) (*dkg.Status, error) {
	var status dkg.Status
	if err := c.call(ctx, &status, "quorum", "dkgstatus"); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) QuorumList(ctx context.Context, count int) (dkg.QuorumList, error) {
	var list dkg.QuorumList
	err := c.call(ctx, &list, "quorum", "list", count)
	return list, err
}

func (c *Client) QuorumInfo(ctx context.Context, llmqType int, hash string) (*dkg.QuorumInfo, error) {
	var info dkg.QuorumInfo
	if err := c.call(ctx, &info, "quorum", "info", llmqType, hash); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) ProTxInfo(ctx context.Context, proTxHash string) (*dkg.ProTxInfo, error) {
	var info dkg.ProTxInfo
	if err := c.call(ctx, &info, "protx", "info", proTxHash); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) MasternodeListStatus(ctx context.Context) (map[string]string, error) {
	var list map[string]string
	err := c.call(ctx, &list, "masternodelist", "status")
	return list, err
}

func (c *Client) MasternodeStatus(ctx context.Context) (*dkg.MasternodeStatus, error) {
	var status dkg.MasternodeStatus
	if err := c.call(ctx, &status, "masternode", "status"); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) GetNewAddress(ctx context.Context) (string, error) {
	var address string
	err := c.call(ctx, &address, "getnewaddress")
	return address, err
}

func (c *Client) SendToAddress(ctx context.Context, address string, amount float64) (string, error) {
	var txID string
	err := c.call(ctx, &txID, "sendtoaddress", address, amount)
	return txID, err
}

func (c *Client) LockUnspent(ctx context.Context, unlock bool, outputs []chain.Outpoint) error {
	var ok bool
	return c.call(ctx, &ok, "lockunspent", unlock, outputs)
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := c.call(ctx, &balance, "getbalance")
	return balance, err
}

func (c *Client) GetRawTransaction(ctx context.Context, txID string) (*chain.RawTransaction, error) {
	var tx chain.RawTransaction
	if err := c.call(ctx, &tx, "getrawtransaction", txID, 1); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) CreateRawTransaction(ctx context.Context, inputs []chain.Outpoint, outputs map[string]float64) (string, error) {
	var raw string
	err := c.call(ctx, &raw, "createrawtransaction", inputs, outputs)
	return raw, err
}

func (c *Client) SignRawTransaction(ctx context.Context, txHex string) (*chain.SignedTransaction, error) {
	var signed chain.SignedTransaction
	if err := c.call(ctx, &signed, "signrawtransactionwithwallet", txHex); err != nil {
		return nil, err
	}
	return &signed, nil
}

func (c *Client) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	var txID string
	err := c.call(ctx, &txID, "sendrawtransaction", txHex)
	return txID, err
}

func (c *Client) BLSGenerate(ctx context.Context) (*dkg.BLSKeyPair, error) {
	var keys dkg.BLSKeyPair
	if err := c.call(ctx, &keys, "bls", "generate"); err != nil {
		return nil, err
	}
	return &keys, nil
}

func (c *Client) ProTxRegisterFund(ctx context.Context, req module.ProTxRegistration) (string, error) {
	args := []interface{}{"register_fund", req.CollateralAddress, req.IPAndPort, req.OwnerAddress,
		req.OperatorPubKey, req.VotingAddress, req.OperatorReward, req.PayoutAddress}
	if req.FundAddress != "" {
		args = append(args, req.FundAddress)
	}
	var proTxHash string
	err := c.call(ctx, &proTxHash, "protx", args...)
	return proTxHash, err
}

func (c *Client) ProTxRegister(ctx context.Context, collateral chain.Outpoint, req module.ProTxRegistration) (string, error) {
	args := []interface{}{"register", collateral.TxID, collateral.Vout, req.IPAndPort, req.OwnerAddress,
		req.OperatorPubKey, req.VotingAddress, req.OperatorReward, req.PayoutAddress}
	if req.FundAddress != "" {
		args = append(args, req.FundAddress)
	}
	var proTxHash string
	err := c.call(ctx, &proTxHash, "protx", args...)
	return proTxHash, err
}
