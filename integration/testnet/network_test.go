package testnet

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(root string) NetworkConfig {
	return NetworkConfig{
		Root:        root,
		Binary:      "syscoind",
		Chain:       "regtest",
		ConfFile:    "syscoin.conf",
		RPCUser:     "quorumnet",
		RPCPassword: "quorumnet",
		PortSeed:    7,
		BaseArgs:    []string{"-mncollateral=100"},
	}
}

func TestPorts(t *testing.T) {
	a := Ports{Seed: 1}
	b := Ports{Seed: 2}

	assert.Equal(t, PortMin+30, a.P2P(0))
	assert.Equal(t, PortMin+PortRange+30, a.RPC(0))

	// neighbouring seeds never share ports
	for i := 0; i < MaxNodes; i++ {
		for j := 0; j < MaxNodes; j++ {
			assert.NotEqual(t, a.P2P(i), b.P2P(j))
			assert.NotEqual(t, a.RPC(i), b.RPC(j))
		}
	}

	// p2p and rpc ranges never overlap
	assert.Less(t, a.P2P(MaxNodes-1), PortMin+PortRange)
}

func TestInitializeDatadir(t *testing.T) {
	root := t.TempDir()
	net := NewNetwork(testConfig(root))

	datadir, err := net.InitializeDatadir(3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node3"), datadir)

	conf, err := os.ReadFile(filepath.Join(datadir, "syscoin.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "regtest=1\n[regtest]\n")
	assert.Contains(t, string(conf), "rpcuser=quorumnet\n")
	assert.Contains(t, string(conf), "port="+itoa(net.Ports().P2P(3))+"\n")
	assert.Contains(t, string(conf), "rpcport="+itoa(net.Ports().RPC(3))+"\n")

	// rewriting keeps chain data
	require.NoError(t, os.MkdirAll(filepath.Join(datadir, "regtest", "blocks"), 0755))
	_, err = net.InitializeDatadir(3)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(datadir, "regtest", "blocks"))

	_, err = net.InitializeDatadir(MaxNodes)
	assert.Error(t, err)
}

func TestSpec(t *testing.T) {
	net := NewNetwork(testConfig(t.TempDir()))

	spec := net.Spec(2, "-masternodeblsprivkey=aa")
	assert.Equal(t, 2, spec.Index)
	assert.Equal(t, net.Datadir(2), spec.Dir)
	assert.Equal(t, net.Ports().RPC(2), spec.RPC.Port)
	assert.Equal(t, "quorumnet", spec.RPC.User)
	assert.Equal(t, "-datadir="+net.Datadir(2), spec.Args[0])
	assert.Contains(t, spec.Args, "-uacomment=testnode2")
	assert.Contains(t, spec.Args, "-mncollateral=100")
	assert.Equal(t, "-masternodeblsprivkey=aa", spec.Args[len(spec.Args)-1])
}

func TestRegistry(t *testing.T) {
	net := NewNetwork(testConfig(t.TempDir()))
	assert.Equal(t, 0, net.Size())

	net.Reserve(4)
	assert.Equal(t, 4, net.Size())
	assert.Empty(t, net.Nodes())

	_, ok := net.Node(1)
	assert.False(t, ok)
	assert.Panics(t, func() { net.MustNode(1) })
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
