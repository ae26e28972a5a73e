package domain

import "errors"

var (
	// ErrTransientFetch marks a retryable failure isolated to one sub-call.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrPartialData marks a run that continues with a subset of its inputs.
	ErrPartialData = errors.New("partial data")
	// ErrFatalData aborts the run: no report is composed without its data.
	ErrFatalData = errors.New("fatal data error")
	// ErrAuthorization marks an inbound command from a sender outside the allow-list.
	ErrAuthorization = errors.New("sender not authorized")
	// ErrDelivery means the composed report could not be sent.
	ErrDelivery = errors.New("delivery failed")
	// ErrLockContention means another run holds the schedule lock.
	ErrLockContention = errors.New("another run is in progress")

	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("schedule state was modified concurrently")
	ErrNotDue          = errors.New("schedule is not due")
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitLockContention = 2
)

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrLockContention):
		return ExitLockContention
	default:
		return ExitFailure
	}
}
