package poller

import "github.com/parallex/htexec/htexerr"

// BlockState mirrors the provider.Driver lifecycle states relevant to the
// elasticity controller.
type BlockState string

const (
	BlockPending   BlockState = "PENDING"
	BlockRunning   BlockState = "RUNNING"
	BlockFailed    BlockState = "FAILED"
	BlockCancelled BlockState = "CANCELLED"
)

// Terminal reports whether a block in this state will never transition
// again.
func (s BlockState) Terminal() bool {
	return s == BlockFailed || s == BlockCancelled
}

// JobErrorHandler watches block states and outstanding task counts and
// decides when the executor has become unrecoverable: every known block
// has reached a terminal state while tasks are still pending, meaning no
// worker will ever claim them.
type JobErrorHandler struct {
	onBad func(error)
}

// NewJobErrorHandler constructs a JobErrorHandler that calls onBad every
// time Check detects the no-runnable-blocks condition.
func NewJobErrorHandler(onBad func(error)) *JobErrorHandler {
	return &JobErrorHandler{onBad: onBad}
}

// Check inspects the current block states and pending task count, firing
// onBad if every block is terminal while pendingTasks > 0.
func (h *JobErrorHandler) Check(blocks []BlockState, pendingTasks int) {
	if len(blocks) == 0 || pendingTasks == 0 {
		return
	}
	for _, b := range blocks {
		if !b.Terminal() {
			return
		}
	}
	h.onBad(htexerr.ErrNoRunnableBlocks)
}
