package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Error codes reported by nodes which the harness reacts to.
const (
	// ErrCodeInWarmup is returned while the node is still loading its state.
	ErrCodeInWarmup = -28
	// ErrCodeMisc is the generic error code.
	ErrCodeMisc = -1
	// ErrCodeInvalidAddressOrKey is returned for unknown blocks, transactions and masternodes.
	ErrCodeInvalidAddressOrKey = -5
)

// RPCError is an error reply of a node's control interface.
type RPCError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.Method, e.Code, e.Message)
}

// NewRPCError creates an RPCError for the given method.
func NewRPCError(method string, code int, message string) *RPCError {
	return &RPCError{Method: method, Code: code, Message: message}
}

// AsRPCError returns the RPCError wrapped in err, if any.
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// IsWarmupError returns true if err is the reply of a node which is running
// but not ready to serve calls yet.
func IsWarmupError(err error) bool {
	rpcErr, ok := AsRPCError(err)
	return ok && rpcErr.Code == ErrCodeInWarmup
}

// IsRPCErrorCode returns true if err is an RPCError with the given code.
func IsRPCErrorCode(err error, code int) bool {
	rpcErr, ok := AsRPCError(err)
	return ok && rpcErr.Code == code
}

type errorReply struct {
	Error *RPCError `json:"error"`
}

// translateError converts the errors produced by the JSON-RPC transport into
// an RPCError when the node sent an error reply. Nodes answering in legacy
// mode report errors with a non-2xx HTTP status and the error object in the
// body. Transport failures are returned wrapped but otherwise unchanged.
func translateError(method string, err error) error {
	if err == nil {
		return nil
	}

	var httpErr rpc.HTTPError
	var httpErrPtr *rpc.HTTPError
	var body []byte
	switch {
	case errors.As(err, &httpErr):
		body = httpErr.Body
	case errors.As(err, &httpErrPtr):
		body = httpErrPtr.Body
	}
	if len(body) > 0 {
		var reply errorReply
		if jsonErr := json.Unmarshal(body, &reply); jsonErr == nil && reply.Error != nil {
			reply.Error.Method = method
			return reply.Error
		}
	}

	var replyErr rpc.Error
	if errors.As(err, &replyErr) {
		return NewRPCError(method, replyErr.ErrorCode(), replyErr.Error())
	}

	return fmt.Errorf("%s: %w", method, err)
}
