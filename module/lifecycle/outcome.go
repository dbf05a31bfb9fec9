// Package lifecycle drives a scenario through setup, execution and shutdown
// of a test network and turns the result into a verdict.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
)

// Outcome is the verdict of a scenario run.
type Outcome int

const (
	Passed Outcome = iota
	Failed
	Skipped
)

// Exit codes reported for each outcome.
const (
	ExitPassed  = 0
	ExitFailed  = 1
	ExitSkipped = 77
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "PASSED"
	case Failed:
		return "FAILED"
	case Skipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// ExitCode returns the process exit code for the outcome.
func (o Outcome) ExitCode() int {
	switch o {
	case Passed:
		return ExitPassed
	case Skipped:
		return ExitSkipped
	default:
		return ExitFailed
	}
}

// Result is the verdict of a run together with the error that caused it.
type Result struct {
	Outcome  Outcome
	Err      error
	Duration time.Duration
	// TmpDir is the run's directory, empty once it was cleaned up.
	TmpDir string
}

// ExplicitSkip is returned by a scenario that decided not to run, e.g.
// because the node binary lacks a feature it needs.
type ExplicitSkip struct {
	Reason string
}

// Skip returns an ExplicitSkip with the given reason.
func Skip(reason string) error {
	return ExplicitSkip{Reason: reason}
}

func (e ExplicitSkip) Error() string {
	return "test skipped: " + e.Reason
}

func IsExplicitSkip(err error) bool {
	var skip ExplicitSkip
	return errors.As(err, &skip)
}

// AssertionViolation is returned when a scenario observed a network state
// it did not expect.
type AssertionViolation struct {
	Msg string
}

func NewAssertionViolation(format string, args ...interface{}) error {
	return AssertionViolation{Msg: fmt.Sprintf(format, args...)}
}

func (e AssertionViolation) Error() string {
	return "assertion failed: " + e.Msg
}

func IsAssertionViolation(err error) bool {
	var violation AssertionViolation
	return errors.As(err, &violation)
}

// AssertEqual returns an AssertionViolation showing the difference if got
// and want differ.
func AssertEqual(what string, got, want interface{}) error {
	if diff := cmp.Diff(want, got); diff != "" {
		return NewAssertionViolation("%s mismatch (-want +got):\n%s", what, diff)
	}
	return nil
}

// Assert returns an AssertionViolation with the formatted message unless cond holds.
func Assert(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	return NewAssertionViolation(format, args...)
}

// Classify maps the error of a run to its outcome. Only an explicit skip
// and success are not failures.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Passed
	case IsExplicitSkip(err):
		return Skipped
	default:
		return Failed
	}
}
