package process

import (
	"errors"
	"fmt"
	"time"
)

// ProcessStartTimeoutError is returned when a node did not answer its liveness
// probe before the startup timeout.
type ProcessStartTimeoutError struct {
	Node    string
	Timeout time.Duration
	err     error
}

// NewProcessStartTimeoutError creates a ProcessStartTimeoutError. err is the
// last probe result.
func NewProcessStartTimeoutError(node string, timeout time.Duration, err error) error {
	return ProcessStartTimeoutError{Node: node, Timeout: timeout, err: err}
}

func (e ProcessStartTimeoutError) Error() string {
	return fmt.Sprintf("%s did not become ready within %s: %v", e.Node, e.Timeout, e.err)
}

func (e ProcessStartTimeoutError) Unwrap() error {
	return e.err
}

// IsProcessStartTimeoutError returns whether err is a ProcessStartTimeoutError
func IsProcessStartTimeoutError(err error) bool {
	var errStartTimeout ProcessStartTimeoutError
	return errors.As(err, &errStartTimeout)
}

// NodeExitedError is returned when a node process terminated while the
// supervisor expected it to run.
type NodeExitedError struct {
	Node string
	err  error
}

func NewNodeExitedError(node string, err error) error {
	return NodeExitedError{Node: node, err: err}
}

func (e NodeExitedError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s exited unexpectedly with status 0", e.Node)
	}
	return fmt.Sprintf("%s exited unexpectedly: %v", e.Node, e.err)
}

func (e NodeExitedError) Unwrap() error {
	return e.err
}

// IsNodeExitedError returns whether err is a NodeExitedError
func IsNodeExitedError(err error) bool {
	var errExited NodeExitedError
	return errors.As(err, &errExited)
}
