// Package scenarios holds the scenarios the quorumnet command runs by name.
package scenarios

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/onflow/quorumnet/module/lifecycle"
)

var registry = map[string]func() lifecycle.Scenario{
	"chain_split":        func() lifecycle.Scenario { return &ChainSplit{} },
	"node_restart":       func() lifecycle.Scenario { return &NodeRestart{} },
	"llmq_dkg":           func() lifecycle.Scenario { return &QuorumFormation{Quorums: 2} },
	"masternode_removal": func() lifecycle.Scenario { return &MasternodeRemoval{} },
}

// Lookup returns a fresh instance of the scenario registered as name.
func Lookup(name string) (lifecycle.Scenario, error) {
	create, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q, available: %v", name, Names())
	}
	return create(), nil
}

// Names returns the registered scenario names in order.
func Names() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}
