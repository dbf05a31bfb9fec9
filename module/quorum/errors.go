package quorum

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/onflow/quorumnet/model/dkg"
)

// PhaseTimeoutError is returned when the masternodes did not agree on a DKG
// phase in time. It carries the last session snapshot observed per node, a
// nil entry meaning the node reported no session for the round.
type PhaseTimeoutError struct {
	Anchor    string
	Phase     dkg.Phase
	Expected  int
	Reporting int
	Timeout   time.Duration
	Snapshot  map[string]*dkg.SessionStatus
}

func NewPhaseTimeoutError(anchor string, phase dkg.Phase, expected, reporting int, timeout time.Duration, snapshot map[string]*dkg.SessionStatus) error {
	return PhaseTimeoutError{
		Anchor:    anchor,
		Phase:     phase,
		Expected:  expected,
		Reporting: reporting,
		Timeout:   timeout,
		Snapshot:  snapshot,
	}
}

func (e PhaseTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase %d (%s) of round %s not reached within %s: %d of %d members reporting",
		e.Phase, e.Phase, e.Anchor, e.Timeout, e.Reporting, e.Expected)

	names := make([]string, 0, len(e.Snapshot))
	for name := range e.Snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := e.Snapshot[name]
		if s == nil {
			fmt.Fprintf(&b, "\n  %s: no session", name)
			continue
		}
		fmt.Fprintf(&b, "\n  %s: quorum=%s phase=%d contributions=%d complaints=%d justifications=%d commitments=%d aborted=%t",
			name, s.QuorumHash, s.Phase, s.ReceivedContributions, s.ReceivedComplaints,
			s.ReceivedJustifications, s.ReceivedPrematureCommitments, s.Aborted)
	}
	return b.String()
}

func IsPhaseTimeoutError(err error) bool {
	var phaseErr PhaseTimeoutError
	return errors.As(err, &phaseErr)
}
