package dkg

// Phase is the ordinal of a DKG session phase as reported by a node's
// `quorum dkgstatus` call. Phases advance strictly forward within one round.
type Phase int

const (
	// PhaseUnknown indicates that the node did not report a phase.
	PhaseUnknown Phase = iota
	// PhaseInit is the first phase, the session exists but no messages were exchanged.
	PhaseInit
	// PhaseContribute is the phase in which members broadcast their contributions.
	PhaseContribute
	// PhaseComplain is the phase in which members complain about invalid contributions.
	PhaseComplain
	// PhaseJustify is the phase in which accused members justify their contributions.
	PhaseJustify
	// PhaseCommit is the phase in which members broadcast premature commitments.
	PhaseCommit
	// PhaseFinalize is the final phase, the aggregated commitment becomes minable.
	PhaseFinalize
)

// PhaseCount is the number of phases in a complete DKG round.
const PhaseCount = 6

// String returns the string representation of a phase.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseContribute:
		return "contribute"
	case PhaseComplain:
		return "complain"
	case PhaseJustify:
		return "justify"
	case PhaseCommit:
		return "commit"
	case PhaseFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// Valid returns true if p is one of the six round phases.
func (p Phase) Valid() bool {
	return p >= PhaseInit && p <= PhaseFinalize
}

// Next returns the phase following p. The second return value is false if p
// is the final phase or not a valid phase.
func (p Phase) Next() (Phase, bool) {
	if !p.Valid() || p == PhaseFinalize {
		return PhaseUnknown, false
	}
	return p + 1, true
}

// Phases returns all round phases in order.
func Phases() []Phase {
	return []Phase{PhaseInit, PhaseContribute, PhaseComplain, PhaseJustify, PhaseCommit, PhaseFinalize}
}
