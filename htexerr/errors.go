// Package htexerr centralizes the error taxonomy shared by every component
// of the execution core, following the same sentinel-error-plus-typed-error
// pattern the teacher uses throughout Chapter12/dbspgraph (errJobAborted,
// errMasterShuttingDown, ErrUnableToReserveWorkers).
package htexerr

import (
	"golang.org/x/xerrors"
)

// Codec-layer sentinels.
var (
	ErrSerializationFailed = xerrors.New("htexec: serialization failed")
	ErrDeserialization     = xerrors.New("htexec: deserialization failed")
	ErrPayloadTooLarge     = xerrors.New("htexec: payload exceeds buffer threshold")
	ErrFraming             = xerrors.New("htexec: malformed frame")
)

// Protocol / structural sentinels.
var (
	ErrBadMessage                = xerrors.New("htexec: unrecognized protocol message")
	ErrScalingFailed             = xerrors.New("htexec: provider refused block submission")
	ErrInterchangeStartupTimeout = xerrors.New("htexec: interchange did not complete startup handshake in time")
	ErrNoRunnableBlocks          = xerrors.New("htexec: all blocks terminated while tasks remain")
	ErrConfiguration             = xerrors.New("htexec: invalid configuration")
	ErrShutdown                  = xerrors.New("htexec: executor is shutting down")
)

// WorkerLostError wraps the worker identity whose heartbeat timed out. It is
// surfaced to every Future whose task was in that worker's in-flight set.
type WorkerLostError struct {
	WorkerID string
}

func (e *WorkerLostError) Error() string {
	return "htexec: worker " + e.WorkerID + " lost (heartbeat timeout)"
}

// RemoteError carries a failed task's error message across the wire. A
// worker can't serialize an arbitrary Go error value (the concrete type
// living on the other side of the call is unknown to the executor), so
// execute() wraps it in RemoteError before handing it to Codec.Serialize;
// the executor's management thread deserializes it back into an error on
// the way out.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// BadStateError wraps the reason an executor was marked bad. Every future
// that observes ExecutorBad can unwrap down to the original cause.
type BadStateError struct {
	Reason error
}

func (e *BadStateError) Error() string {
	return "htexec: executor is bad: " + e.Reason.Error()
}

func (e *BadStateError) Unwrap() error { return e.Reason }
