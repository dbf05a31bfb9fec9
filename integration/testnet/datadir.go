package testnet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DatadirPath returns the data directory of node n under root.
func DatadirPath(root string, n int) string {
	return filepath.Join(root, fmt.Sprintf("node%d", n))
}

// ChainDir returns the chain-specific subdirectory of a data directory.
func ChainDir(datadir, chain string) string {
	return filepath.Join(datadir, chain)
}

// ConfOptions are the node-local settings written to a node's config file.
type ConfOptions struct {
	Chain       string
	ConfFile    string
	P2PPort     int
	RPCPort     int
	RPCUser     string
	RPCPassword string
	// Extra lines are appended to the chain section verbatim.
	Extra []string
}

// InitializeDatadir creates the data directory of node n under root and
// (re)writes its config file. Existing chain data is left untouched, so it is
// also used to re-target a cloned snapshot at the node's own ports.
func InitializeDatadir(root string, n int, opts ConfOptions) (string, error) {
	datadir := DatadirPath(root, n)
	if err := os.MkdirAll(datadir, 0755); err != nil {
		return "", fmt.Errorf("could not create data directory for node %d: %w", n, err)
	}

	var conf strings.Builder
	fmt.Fprintf(&conf, "%s=1\n", opts.Chain)
	fmt.Fprintf(&conf, "[%s]\n", opts.Chain)
	fmt.Fprintf(&conf, "port=%d\n", opts.P2PPort)
	fmt.Fprintf(&conf, "rpcport=%d\n", opts.RPCPort)
	fmt.Fprintf(&conf, "rpcuser=%s\n", opts.RPCUser)
	fmt.Fprintf(&conf, "rpcpassword=%s\n", opts.RPCPassword)
	for _, line := range []string{
		"server=1",
		"keypool=1",
		"discover=0",
		"dnsseed=0",
		"listenonion=0",
		"upnp=0",
		"natpmp=0",
		"printtoconsole=0",
		"shrinkdebugfile=0",
		"fallbackfee=0.0002",
		"bind=127.0.0.1",
		"rpcbind=127.0.0.1",
		"rpcallowip=127.0.0.1",
	} {
		conf.WriteString(line + "\n")
	}
	for _, line := range opts.Extra {
		conf.WriteString(line + "\n")
	}

	path := filepath.Join(datadir, opts.ConfFile)
	if err := os.WriteFile(path, []byte(conf.String()), 0644); err != nil {
		return "", fmt.Errorf("could not write config of node %d: %w", n, err)
	}
	return datadir, nil
}
