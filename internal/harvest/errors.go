package harvest

import "errors"

// Sentinel errors shared across packages. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrInvalidInput marks a missing or unresolvable required parameter.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unknown job, lead, or record.
	ErrNotFound = errors.New("not found")
	// ErrTransientFetch marks a single page or place lookup failure.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrFatalWorker marks a failure that prevents a worker from making progress.
	ErrFatalWorker = errors.New("fatal worker error")
	// ErrCancelled marks a clean early exit after a stop request.
	ErrCancelled = errors.New("cancelled")
	// ErrBusy is returned when the worker pool cannot accept more work.
	ErrBusy = errors.New("worker pool busy")
	// ErrTerminal is returned when a job in a terminal state is updated.
	ErrTerminal = errors.New("job already terminal")
	// ErrDuplicate is returned when a lead with the same place id exists.
	ErrDuplicate = errors.New("duplicate record")
)
