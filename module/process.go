package module

import (
	"context"
)

// LaunchSpec describes one node process to launch.
type LaunchSpec struct {
	// Name identifies the process in logs, e.g. "node3".
	Name string
	// Binary is the path of the node executable.
	Binary string
	// Args are the command line arguments, not including the binary.
	Args []string
	// Dir is the node's data directory. Process output is written there.
	Dir string
	// RPC is the control endpoint the node will serve.
	RPC RPCEndpoint
	// P2PPort is the port the node listens on for peers.
	P2PPort int
}

// Process is a launched node process.
type Process interface {
	// Pid returns the OS process id.
	Pid() int

	// Wait blocks until the process has exited and returns its exit error.
	// It may be called concurrently and more than once; every call returns
	// the same result.
	Wait() error

	// Kill forcibly terminates the process.
	Kill() error
}

// Launcher starts node processes.
type Launcher interface {
	// Launch starts the process described by spec and returns without waiting
	// for it to become ready.
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
