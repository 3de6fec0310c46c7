package executor

import (
	"context"
	"sync/atomic"

	"github.com/parallex/htexec/taskid"
	"github.com/parallex/htexec/wire"
)

// Future represents the eventual result of one submitted task. It is safe
// for concurrent use; Wait/Result/Value may be called from multiple goroutines, and
// at most one of them observes the done channel close first but all
// observe the same resolved value.
type Future struct {
	id taskid.ID

	done   chan struct{}
	result wire.Result
	value  interface{}
	err    error

	resolved  atomic.Bool
	cancelled atomic.Bool
}

func newFuture(id taskid.ID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the task ID this future tracks.
func (f *Future) ID() taskid.ID { return f.id }

// Done returns a channel that is closed once the future resolves, i.e. a
// Result or an error (WorkerLostError, ExecutorBad) has been recorded.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the task's payload and any execution error. It must only
// be called after Done() has been closed; calling it earlier returns the
// zero Result and a nil error.
func (f *Future) Result() (wire.Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return wire.Result{}, nil
	}
}

// Cancelled reports whether the future was resolved via cancellation
// rather than a Result from the interchange.
func (f *Future) Cancelled() bool { return f.cancelled.Load() }

// Value returns the task's Codec-deserialized return value and any
// execution error. It must only be called after Done() has been closed;
// calling it earlier returns (nil, nil).
func (f *Future) Value() (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, nil
	}
}

// resolve records res, its deserialized value, and closes done. Only the
// first call has any effect.
func (f *Future) resolve(res wire.Result, value interface{}, err error) {
	if !f.resolved.CompareAndSwap(false, true) {
		return
	}
	f.result = res
	f.value = value
	f.err = err
	close(f.done)
}

// cancel resolves the future as cancelled with err as the recorded failure
// reason (htexerr.ErrShutdown, or the *htexerr.BadStateError recorded by
// SetBadStateAndFailAll).
func (f *Future) cancel(err error) {
	if !f.resolved.CompareAndSwap(false, true) {
		return
	}
	f.cancelled.Store(true)
	f.err = err
	close(f.done)
}
