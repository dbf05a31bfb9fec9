package module

import (
	"context"
	"fmt"

	"github.com/onflow/quorumnet/model/chain"
	"github.com/onflow/quorumnet/model/dkg"
)

// ChainClient exposes the chain-level queries and block production calls of a node.
type ChainClient interface {
	// GetBlockCount returns the height of the node's best chain. It doubles as the
	// liveness probe during startup.
	GetBlockCount(ctx context.Context) (uint64, error)

	GetBestBlockHash(ctx context.Context) (string, error)

	GetBlockchainInfo(ctx context.Context) (*chain.BlockchainInfo, error)

	GetBlockHeader(ctx context.Context, hash string) (*chain.BlockHeader, error)

	// GetBlockHex returns the serialized block for hash.
	GetBlockHex(ctx context.Context, hash string) (string, error)

	// SubmitBlock submits a serialized block. An empty result string means accepted.
	SubmitBlock(ctx context.Context, blockHex string) (string, error)

	// Generate mines n blocks to the node's configured mining address and returns their hashes.
	Generate(ctx context.Context, n int) ([]string, error)

	// GenerateToAddress mines n blocks paying the coinbase to address.
	GenerateToAddress(ctx context.Context, n int, address string) ([]string, error)

	GetRawMempool(ctx context.Context) ([]string, error)
}

// NetworkClient exposes peer management of a node.
type NetworkClient interface {
	// AddNode asks the node to attempt a single outbound connection to addr.
	AddNode(ctx context.Context, addr string) error

	// DisconnectNode drops the peer with the given node id.
	DisconnectNode(ctx context.Context, peerID int) error

	GetPeerInfo(ctx context.Context) ([]chain.PeerInfo, error)
}

// MockTimeClient exposes the node's simulated clock.
type MockTimeClient interface {
	// SetMockTime overrides the node's notion of the current time, in unix seconds.
	SetMockTime(ctx context.Context, unix int64) error
}

// ControlClient exposes node control and sync status calls.
type ControlClient interface {
	// Stop requests a graceful shutdown of the node process.
	Stop(ctx context.Context) error

	MnsyncStatus(ctx context.Context) (*chain.MnsyncStatus, error)

	// MnsyncNext forces the node's masternode sync state machine forward by one step.
	MnsyncNext(ctx context.Context) error

	// SporkShow returns the node's spork values keyed by spork name.
	SporkShow(ctx context.Context) (map[string]int64, error)
}

// QuorumClient exposes the quorum and masternode status surface of a node.
type QuorumClient interface {
	// DKGStatus returns the node's view of the active DKG sessions.
	DKGStatus(ctx context.Context) (*dkg.Status, error)

	// QuorumList returns the most recent count quorum hashes per quorum type.
	QuorumList(ctx context.Context, count int) (dkg.QuorumList, error)

	QuorumInfo(ctx context.Context, llmqType int, hash string) (*dkg.QuorumInfo, error)

	ProTxInfo(ctx context.Context, proTxHash string) (*dkg.ProTxInfo, error)

	// MasternodeListStatus returns masternode status strings keyed by collateral outpoint.
	MasternodeListStatus(ctx context.Context) (map[string]string, error)

	// MasternodeStatus returns the identity the node operates as. It fails on
	// nodes not started with an operator key.
	MasternodeStatus(ctx context.Context) (*dkg.MasternodeStatus, error)
}

// WalletClient exposes the wallet calls used to fund and register masternodes.
type WalletClient interface {
	GetNewAddress(ctx context.Context) (string, error)

	// SendToAddress sends amount coins to address and returns the transaction id.
	SendToAddress(ctx context.Context, address string, amount float64) (string, error)

	// LockUnspent locks (unlock == false) or unlocks the given outputs in the wallet.
	LockUnspent(ctx context.Context, unlock bool, outputs []chain.Outpoint) error

	GetBalance(ctx context.Context) (float64, error)

	GetRawTransaction(ctx context.Context, txID string) (*chain.RawTransaction, error)

	CreateRawTransaction(ctx context.Context, inputs []chain.Outpoint, outputs map[string]float64) (string, error)

	SignRawTransaction(ctx context.Context, txHex string) (*chain.SignedTransaction, error)

	SendRawTransaction(ctx context.Context, txHex string) (string, error)

	// BLSGenerate creates a fresh operator key pair.
	BLSGenerate(ctx context.Context) (*dkg.BLSKeyPair, error)

	// ProTxRegisterFund funds the collateral and registers the masternode in a single
	// transaction, returning the ProRegTx hash.
	ProTxRegisterFund(ctx context.Context, req ProTxRegistration) (string, error)

	// ProTxRegister registers a masternode against an existing collateral output,
	// returning the ProRegTx hash.
	ProTxRegister(ctx context.Context, collateral chain.Outpoint, req ProTxRegistration) (string, error)
}

// ProTxRegistration carries the arguments shared by both registration calls.
type ProTxRegistration struct {
	CollateralAddress string
	IPAndPort         string
	OwnerAddress      string
	OperatorPubKey    string
	VotingAddress     string
	OperatorReward    float64
	PayoutAddress     string
	FundAddress       string
}

// NodeClient is the full query and command surface the harness needs from a
// running node.
type NodeClient interface {
	ChainClient
	NetworkClient
	MockTimeClient
	ControlClient
	QuorumClient
	WalletClient
}

// RPCEndpoint locates the control interface of a node.
type RPCEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
}

// URL returns the http URL of the endpoint, without credentials.
func (e RPCEndpoint) URL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// ClientFactory creates a NodeClient bound to endpoint. Creating a client must
// not require the node to be reachable yet.
type ClientFactory func(ctx context.Context, endpoint RPCEndpoint) (NodeClient, error)
