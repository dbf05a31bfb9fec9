package topology

import (
	"errors"
	"fmt"
	"time"
)

// SyncTimeoutError is returned when nodes did not converge on the same view
// of the chain or mempool in time.
type SyncTimeoutError struct {
	// What names the compared state, "blocks" or "mempool".
	What    string
	Timeout time.Duration
	// Detail describes the diverging state of the nodes at timeout.
	Detail string
}

func NewSyncTimeoutError(what string, timeout time.Duration, detail string) error {
	return SyncTimeoutError{What: what, Timeout: timeout, Detail: detail}
}

func (e SyncTimeoutError) Error() string {
	return fmt.Sprintf("%s did not sync within %s:\n%s", e.What, e.Timeout, e.Detail)
}

func IsSyncTimeoutError(err error) bool {
	var syncErr SyncTimeoutError
	return errors.As(err, &syncErr)
}
