package dkg

// Counter names one of the per-category message counters of a DKG session.
// The value is the JSON key used by the status query surface.
type Counter string

const (
	CounterNone                         Counter = ""
	CounterReceivedContributions        Counter = "receivedContributions"
	CounterReceivedComplaints           Counter = "receivedComplaints"
	CounterReceivedJustifications       Counter = "receivedJustifications"
	CounterReceivedPrematureCommitments Counter = "receivedPrematureCommitments"
)

// CounterForPhase returns the message counter which is checked when waiting
// for the given phase. Init and Finalize have no counter.
func CounterForPhase(p Phase) Counter {
	switch p {
	case PhaseContribute:
		return CounterReceivedContributions
	case PhaseComplain:
		return CounterReceivedComplaints
	case PhaseJustify:
		return CounterReceivedJustifications
	case PhaseCommit:
		return CounterReceivedPrematureCommitments
	default:
		return CounterNone
	}
}

// SessionStatus is a single node's view of the active DKG session for one
// quorum type. It is ephemeral and superseded by the next round.
type SessionStatus struct {
	LLMQType                     int    `json:"llmqType"`
	QuorumHash                   string `json:"quorumHash"`
	QuorumHeight                 uint64 `json:"quorumHeight"`
	Phase                        Phase  `json:"phase"`
	SentContributions            bool   `json:"sentContributions"`
	SentComplaint                bool   `json:"sentComplaint"`
	SentJustification            bool   `json:"sentJustification"`
	SentPrematureCommitment      bool   `json:"sentPrematureCommitment"`
	Aborted                      bool   `json:"aborted"`
	BadMembers                   int    `json:"badMembers"`
	WeComplain                   int    `json:"weComplain"`
	ReceivedContributions        int    `json:"receivedContributions"`
	ReceivedComplaints           int    `json:"receivedComplaints"`
	ReceivedJustifications       int    `json:"receivedJustifications"`
	ReceivedPrematureCommitments int    `json:"receivedPrematureCommitments"`
}

// Count returns the value of the given counter. The second return value is
// false for an unknown counter name.
func (s SessionStatus) Count(c Counter) (int, bool) {
	switch c {
	case CounterReceivedContributions:
		return s.ReceivedContributions, true
	case CounterReceivedComplaints:
		return s.ReceivedComplaints, true
	case CounterReceivedJustifications:
		return s.ReceivedJustifications, true
	case CounterReceivedPrematureCommitments:
		return s.ReceivedPrematureCommitments, true
	default:
		return 0, false
	}
}

// QuorumConnection is one intra-quorum connection as reported by dkgstatus.
type QuorumConnection struct {
	ProTxHash string `json:"proTxHash"`
	Connected bool   `json:"connected"`
	Address   string `json:"address"`
	Outbound  bool   `json:"outbound"`
}

// MinableCommitment is a final commitment waiting to be mined.
type MinableCommitment struct {
	Version      int    `json:"version"`
	LLMQType     int    `json:"llmqType"`
	QuorumHash   string `json:"quorumHash"`
	SignersCount int    `json:"signersCount"`
	ValidMembers int    `json:"validMembersCount"`
}

// Status is the full reply of a node's dkgstatus query. All maps are keyed by
// quorum type name (e.g. "llmq_test"). A node without an active session
// reports an empty Sessions map.
type Status struct {
	Time               int64                         `json:"time"`
	Sessions           map[string]SessionStatus      `json:"session"`
	QuorumConnections  map[string][]QuorumConnection `json:"quorumConnections"`
	MinableCommitments map[string]MinableCommitment  `json:"minableCommitments"`
}

// Session returns the session for the given quorum type, if present.
func (s *Status) Session(llmq string) (SessionStatus, bool) {
	if s == nil {
		return SessionStatus{}, false
	}
	session, ok := s.Sessions[llmq]
	return session, ok
}

// Connections returns the quorum connections for the given quorum type. The
// second return value is false if the node did not report any.
func (s *Status) Connections(llmq string) ([]QuorumConnection, bool) {
	if s == nil || s.QuorumConnections == nil {
		return nil, false
	}
	conns, ok := s.QuorumConnections[llmq]
	return conns, ok
}

// ConnectedCount returns the number of established connections in conns.
func ConnectedCount(conns []QuorumConnection) int {
	n := 0
	for _, c := range conns {
		if c.Connected {
			n++
		}
	}
	return n
}

// Commitment returns the minable commitment for the given quorum type.
func (s *Status) Commitment(llmq string) (MinableCommitment, bool) {
	if s == nil || s.MinableCommitments == nil {
		return MinableCommitment{}, false
	}
	c, ok := s.MinableCommitments[llmq]
	return c, ok
}
