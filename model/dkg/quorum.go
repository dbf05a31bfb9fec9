package dkg

// QuorumMember is a member entry of a quorum info reply.
type QuorumMember struct {
	ProTxHash      string `json:"proTxHash"`
	PubKeyOperator string `json:"pubKeyOperator"`
	Valid          bool   `json:"valid"`
	PubKeyShare    string `json:"pubKeyShare"`
}

// QuorumInfo describes a mined quorum.
type QuorumInfo struct {
	Height          uint64         `json:"height"`
	Type            string         `json:"type"`
	QuorumHash      string         `json:"quorumHash"`
	MinedBlock      string         `json:"minedBlock"`
	Members         []QuorumMember `json:"members"`
	QuorumPublicKey string         `json:"quorumPublicKey"`
}

// QuorumList maps quorum type names to quorum hashes, most recent first.
type QuorumList map[string][]string

// Count returns the number of quorums listed for the given type.
func (l QuorumList) Count(llmq string) int {
	return len(l[llmq])
}

// Latest returns the most recent quorum hash for the given type.
func (l QuorumList) Latest(llmq string) (string, bool) {
	hashes := l[llmq]
	if len(hashes) == 0 {
		return "", false
	}
	return hashes[0], true
}

// Contains returns true if hash is listed for the given type.
func (l QuorumList) Contains(llmq, hash string) bool {
	for _, h := range l[llmq] {
		if h == hash {
			return true
		}
	}
	return false
}

// ProTxMetaInfo holds the probing bookkeeping of a registered masternode.
type ProTxMetaInfo struct {
	LastOutboundAttemptElapsed int64 `json:"lastOutboundAttemptElapsed"`
	LastOutboundSuccessElapsed int64 `json:"lastOutboundSuccessElapsed"`
}

// ProTxInfo is the subset of a `protx info` reply used by the orchestrator.
type ProTxInfo struct {
	ProTxHash string        `json:"proTxHash"`
	MetaInfo  ProTxMetaInfo `json:"metaInfo"`
}

// BLSKeyPair is an operator key pair produced by `bls generate`.
type BLSKeyPair struct {
	Secret string `json:"secret"`
	Public string `json:"public"`
}

// MasternodeState is the registered state of a masternode.
type MasternodeState struct {
	Service          string `json:"service"`
	RegisteredHeight uint64 `json:"registeredHeight"`
	OwnerAddress     string `json:"ownerAddress"`
	VotingAddress    string `json:"votingAddress"`
	PayoutAddress    string `json:"payoutAddress"`
	PubKeyOperator   string `json:"pubKeyOperator"`
}

// MasternodeStatus is the reply of `masternode status` on a node running as
// a masternode.
type MasternodeStatus struct {
	ProTxHash string          `json:"proTxHash"`
	Status    string          `json:"status"`
	State     MasternodeState `json:"dmnState"`
}
