package quorum

import (
	"time"

	"github.com/onflow/quorumnet/model/chain"
	"github.com/onflow/quorumnet/model/dkg"
	"github.com/onflow/quorumnet/module/process"
)

// FundingMode selects how a masternode registration is funded.
type FundingMode int

const (
	// FundAndRegister creates the collateral and the registration in a
	// single `protx register_fund` transaction.
	FundAndRegister FundingMode = iota
	// FundThenRegister confirms a collateral payment first and registers it
	// with `protx register` afterwards.
	FundThenRegister
)

func (m FundingMode) String() string {
	switch m {
	case FundAndRegister:
		return "register_fund"
	case FundThenRegister:
		return "register"
	default:
		return "unknown"
	}
}

// MasternodeInfo is a registered masternode identity. Node is attached once
// the masternode's process runs.
type MasternodeInfo struct {
	ProTxHash         string
	OwnerAddress      string
	VotingAddress     string
	PayoutAddress     string
	OperatorKey       dkg.BLSKeyPair
	CollateralAddress string
	Collateral        chain.Outpoint
	// Service is the p2p address the masternode is registered with.
	Service string
	// Index is the network slot the masternode runs in.
	Index int
	Node  *process.NodeHandle
}

// Expectations parameterize MineQuorum.
type Expectations struct {
	Members        int
	Connections    int
	Contributions  int
	Complaints     int
	Justifications int
	Commitments    int
	// Masternodes are the expected quorum candidates, all started
	// masternodes if empty.
	Masternodes []*MasternodeInfo
}

// QuorumResult describes a mined quorum.
type QuorumResult struct {
	Hash string
	// Height is the height of the round's anchor block.
	Height     uint64
	MinedBlock string
	Members    []string
}

// PhaseWait describes a WaitForPhase condition.
type PhaseWait struct {
	Anchor          string
	Phase           dkg.Phase
	ExpectedMembers int
	// Counter, if set, must reach ExpectedCount on every reporting member.
	Counter       dkg.Counter
	ExpectedCount int
	// Nodes are polled for their session, the started masternodes if empty.
	Nodes   []*process.NodeHandle
	Timeout time.Duration
}
