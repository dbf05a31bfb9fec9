package metrics

// Prometheus metric namespaces
const (
	namespaceHarness = "quorumnet"
)

// Harness subsystems
const (
	subsystemProcess  = "process"
	subsystemPoll     = "poll"
	subsystemQuorum   = "quorum"
	subsystemCache    = "chain_cache"
	subsystemScenario = "scenario"
)
