package cmdutil

import (
	"errors"
	"fmt"

	"github.com/schmitthub/plexup/internal/bootstrap"
	"github.com/schmitthub/plexup/internal/coverage"
	"github.com/schmitthub/plexup/internal/executor"
)

// FlagError indicates bad flags or arguments. Main() prints the error
// followed by the command's usage string when it sees this type.
type FlagError struct {
	err error
}

func (e *FlagError) Error() string { return e.err.Error() }
func (e *FlagError) Unwrap() error { return e.err }

// FlagErrorf creates a FlagError with a formatted message.
func FlagErrorf(format string, args ...any) error {
	return &FlagError{err: fmt.Errorf(format, args...)}
}

// SilentError signals that the error has already been displayed to the user.
// Main() will exit non-zero but not print anything additional.
var SilentError = errors.New("SilentError")

// Exit codes. Distinct codes let the surrounding workflow tell a red suite
// from an environment that never came up.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitBootstrapTimeout = 2
	ExitClaimFailed      = 3
	ExitContainerStart   = 4
	ExitTestFailure      = 5
	ExitThresholdUnmet   = 6
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, bootstrap.ErrBootstrapTimeout):
		return ExitBootstrapTimeout
	case errors.Is(err, bootstrap.ErrClaimFailed):
		return ExitClaimFailed
	case errors.Is(err, bootstrap.ErrContainerStart):
		return ExitContainerStart
	case errors.Is(err, executor.ErrTestFailure):
		return ExitTestFailure
	case errors.Is(err, coverage.ErrThresholdUnmet):
		return ExitThresholdUnmet
	default:
		return ExitError
	}
}
