// Package provider defines the driver abstraction through which the
// elasticity controller turns a desired block count into actual compute
// capacity (spec.md §4.7): submitting a block launches a worker.Pool
// somewhere, and status/cancel let the poller track and reclaim it.
package provider

import "time"

// BlockState mirrors poller.BlockState; it is redefined here (rather than
// imported, which would create an import cycle) since both packages need
// it and provider is the lower-level one.
type BlockState string

const (
	StatePending   BlockState = "PENDING"
	StateRunning   BlockState = "RUNNING"
	StateFailed    BlockState = "FAILED"
	StateCancelled BlockState = "CANCELLED"
)

// BlockStatus is a point-in-time view of one submitted block.
type BlockStatus struct {
	ID        string
	State     BlockState
	SubmitErr error
}

// Driver is implemented by each supported backend (local subprocess,
// batch-queue, cloud instance group, ...). Every method must be safe for
// concurrent use, since the poller may call Status from its own goroutine
// while Submit/Cancel run from the management thread.
type Driver interface {
	// Submit launches one block and returns its provider-assigned ID.
	Submit() (string, error)

	// Cancel terminates the block with the given ID. Cancelling an
	// already-terminal block is a no-op.
	Cancel(id string) error

	// Status returns the current state of every block this driver has
	// submitted, oldest first.
	Status() []BlockStatus

	// Label identifies this driver for logging, e.g. "local".
	Label() string
}

// PollingStatusDriver is satisfied by drivers whose Status implementation
// needs to probe external state (e.g. signal(0) on a PID, or a batch
// scheduler's squeue); StatusInterval names a good poll cadence for such
// drivers so callers don't have to guess.
type PollingStatusDriver interface {
	Driver
	StatusInterval() time.Duration
}
