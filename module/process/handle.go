package process

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/onflow/quorumnet/module"
)

// NodeSpec describes a node to start.
type NodeSpec struct {
	Index int
	// Name defaults to "node<Index>".
	Name    string
	Binary  string
	Dir     string
	Args    []string
	RPC     module.RPCEndpoint
	P2PPort int
}

func (s NodeSpec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("node%d", s.Index)
}

// NodeHandle references a running node process. Handles are created by
// Supervisor.Start and owned by the Supervisor, every other component only
// holds references.
type NodeHandle struct {
	Client module.NodeClient

	spec        NodeSpec
	proc        module.Process
	keepRunning *atomic.Bool
	exited      chan struct{}
	exitErr     error
	startedAt   time.Time
}

func newHandle(spec NodeSpec, proc module.Process) *NodeHandle {
	h := &NodeHandle{
		spec:        spec,
		proc:        proc,
		keepRunning: atomic.NewBool(false),
		exited:      make(chan struct{}),
	}
	go func() {
		h.exitErr = proc.Wait()
		close(h.exited)
	}()
	return h
}

// Index returns the node's position in the network.
func (h *NodeHandle) Index() int {
	return h.spec.Index
}

// Name returns the node's log name.
func (h *NodeHandle) Name() string {
	return h.spec.name()
}

// Dir returns the node's data directory.
func (h *NodeHandle) Dir() string {
	return h.spec.Dir
}

// Args returns the arguments the node was started with.
func (h *NodeHandle) Args() []string {
	return append([]string(nil), h.spec.Args...)
}

// RPC returns the node's control endpoint.
func (h *NodeHandle) RPC() module.RPCEndpoint {
	return h.spec.RPC
}

// P2PAddr returns the address peers connect to.
func (h *NodeHandle) P2PAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", h.spec.P2PPort)
}

// Spec returns a copy of the spec the node was started from.
func (h *NodeHandle) Spec() NodeSpec {
	spec := h.spec
	spec.Args = h.Args()
	return spec
}

// Pid returns the OS process id, 0 if unknown.
func (h *NodeHandle) Pid() int {
	return h.proc.Pid()
}

// SetKeepRunning sets the flag which makes Stop leave the process running.
func (h *NodeHandle) SetKeepRunning(keep bool) {
	h.keepRunning.Store(keep)
}

// KeepRunning returns the keep-running flag.
func (h *NodeHandle) KeepRunning() bool {
	return h.keepRunning.Load()
}

// Exited returns a channel closed once the process terminated.
func (h *NodeHandle) Exited() <-chan struct{} {
	return h.exited
}

// ExitErr returns the exit error of the process. It must only be called after
// Exited is closed.
func (h *NodeHandle) ExitErr() error {
	return h.exitErr
}

// Running returns true until the process terminated.
func (h *NodeHandle) Running() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Uptime returns the time since the node became ready.
func (h *NodeHandle) Uptime() time.Duration {
	if h.startedAt.IsZero() {
		return 0
	}
	return time.Since(h.startedAt)
}
