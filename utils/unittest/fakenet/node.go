package fakenet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onflow/quorumnet/module"
)

type link struct {
	peerID   int
	addr     string
	outbound bool
}

type node struct {
	name     string
	dir      string
	rpcPort  int
	p2pPort  int
	chain    []*block
	mempool  map[string]struct{}
	links    map[*node]*link
	nextPeer int
	mockTime int64
	wallet   map[string]bool
	locked   map[string]bool
	balance  float64
	warmup   int
	hang     bool
	mnsync   int
	blsKey   string
	comment  string
	stopping bool
	proc     *process
}

func (nd *node) userAgent() string {
	comment := nd.comment
	if comment == "" {
		comment = nd.name
	}
	return "/Syscoin Core:4.4.0(" + comment + ")/"
}

func (nd *node) tip() *block {
	return nd.chain[len(nd.chain)-1]
}

func (nd *node) now() int64 {
	if nd.mockTime != 0 {
		return nd.mockTime
	}
	return time.Now().Unix()
}

func (nd *node) confirmed() map[string]bool {
	confirmed := make(map[string]bool)
	for _, b := range nd.chain {
		for _, txID := range b.Txs {
			confirmed[txID] = true
		}
	}
	return confirmed
}

func (nd *node) hasBlock(hash string) (*block, bool) {
	for _, b := range nd.chain {
		if b.Hash == hash {
			return b, true
		}
	}
	return nil, false
}

func (nd *node) connect(peer *node, outbound bool) {
	if _, ok := nd.links[peer]; ok {
		return
	}
	nd.nextPeer++
	addr := fmt.Sprintf("127.0.0.1:%d", peer.p2pPort)
	nd.links[peer] = &link{peerID: nd.nextPeer, addr: addr, outbound: outbound}
}

// process is a simulated OS process. It exits exactly once.
type process struct {
	once   sync.Once
	done   chan struct{}
	err    error
	onExit func()
}

var _ module.Process = (*process)(nil)

func newProcess() *process {
	return &process{done: make(chan struct{})}
}

func (p *process) exit(err error) {
	p.once.Do(func() {
		if p.onExit != nil {
			p.onExit()
		}
		p.err = err
		close(p.done)
	})
}

// Pid returns 0, simulated processes have no OS process.
func (p *process) Pid() int {
	return 0
}

func (p *process) Wait() error {
	<-p.done
	return p.err
}

func (p *process) Kill() error {
	p.exit(fmt.Errorf("signal: killed"))
	return nil
}

type launcher struct {
	net *Network
}

func (l launcher) Launch(_ context.Context, spec module.LaunchSpec) (module.Process, error) {
	return l.net.launch(spec)
}
