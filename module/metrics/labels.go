package metrics

const (
	LabelWait    = "wait"
	LabelResult  = "result"
	LabelPhase   = "phase"
	LabelForced  = "forced"
	LabelOutcome = "outcome"
)

const (
	ResultSuccess = "success"
	ResultTimeout = "timeout"
)
