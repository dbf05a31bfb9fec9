package testnet

const (
	// PortMin is the lowest port assigned to a node.
	PortMin = 11000
	// PortRange is the size of the p2p and rpc port ranges.
	PortRange = 5000
	// MaxNodes is the maximum number of nodes in one network.
	MaxNodes = 30
)

// Ports assigns p2p and rpc ports to node indices. Concurrent harness runs
// pick distinct seeds so their port ranges do not overlap.
type Ports struct {
	Seed int
}

func (p Ports) offset() int {
	return (MaxNodes * p.Seed) % (PortRange - 1 - MaxNodes)
}

// P2P returns the p2p port of node n.
func (p Ports) P2P(n int) int {
	return PortMin + n + p.offset()
}

// RPC returns the rpc port of node n.
func (p Ports) RPC(n int) int {
	return PortMin + PortRange + n + p.offset()
}
