// Package poller implements the elasticity controller described in
// spec.md §4.6: it periodically samples interchange/executor status,
// decides how many provider blocks should be running, and drives a
// provider.Driver to match. Its config/validate shape follows
// Chapter10/linksrus/service/frontend/frontend.go's Config.validate
// pattern; its event-driven tick loop is built on github.com/juju/clock so
// tests can advance time deterministically, the same tool
// Chapter04/dialer/retrying_dialer.go uses for its backoff waits.
package poller

import (
	"math"
	"time"
)

// Strategy turns a Sample into a desired block count. ParallelismStrategy
// implements the eager-scale-out / hysteretic-scale-in policy described in
// spec.md §4.6.
type Strategy interface {
	// Desired returns how many blocks should be running given the current
	// sample and the number of blocks already running.
	Desired(sample Sample, runningBlocks int) int
}

// Sample is a point-in-time view of interchange/executor load, gathered by
// whatever wires Poller.Tick to the interchange and executor (typically a
// small adapter in cmd/htexecutor).
type Sample struct {
	PendingTasks      int
	RegisteredWorkers int
	FreeCapacity      int
	TasksPerBlock     int // expected task slots contributed by one block
}

// ParallelismConfig parameterizes ParallelismStrategy.
type ParallelismConfig struct {
	MinBlocks int
	MaxBlocks int

	// Parallelism is the spec.md §4.6 scalar in [0,1] controlling how
	// aggressively pending load is converted into blocks: 1.0 requests
	// enough blocks to cover every pending task immediately, while a
	// smaller value keeps some tasks queued per block rather than
	// launching new capacity for each one. Defaults to 1.0.
	Parallelism float64

	// IdleScaleInDelay is how long the strategy must observe the desired
	// block count sitting below the running count before it recommends
	// scaling in, avoiding thrashing on a momentary lull.
	IdleScaleInDelay time.Duration
}

// ParallelismStrategy scales out immediately to cover pending load (eager
// scale-out) but only scales in after load has stayed idle for
// IdleScaleInDelay (hysteretic scale-in). Desired is always computed as the
// absolute block count spec.md §4.6 prescribes, not an increment off the
// currently running count.
type ParallelismStrategy struct {
	cfg ParallelismConfig

	idleSince time.Time
	wasIdle   bool
}

// NewParallelismStrategy constructs a ParallelismStrategy. MinBlocks
// defaults to 0, MaxBlocks to 1, and Parallelism to 1.0 if left unset.
func NewParallelismStrategy(cfg ParallelismConfig) *ParallelismStrategy {
	if cfg.MaxBlocks <= 0 {
		cfg.MaxBlocks = 1
	}
	if cfg.MinBlocks < 0 {
		cfg.MinBlocks = 0
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1.0
	}
	return &ParallelismStrategy{cfg: cfg}
}

// Desired implements Strategy, reading the current time from time.Now;
// desiredAt takes now explicitly so tests can step the idle timer without
// waiting.
func (s *ParallelismStrategy) Desired(sample Sample, runningBlocks int) int {
	return s.desiredAt(time.Now(), sample, runningBlocks)
}

// desiredAt implements the spec.md §4.6 formula
// ceil(active_tasks x parallelism / tasks_per_block), clamped to
// [MinBlocks, MaxBlocks]. Scale-out to a higher desired count is applied
// immediately; scale-in to a lower one only takes effect once it has held
// for IdleScaleInDelay, and then the running count drops straight to the
// computed desired value rather than decrementing by one block at a time.
func (s *ParallelismStrategy) desiredAt(now time.Time, sample Sample, runningBlocks int) int {
	tasksPerBlock := sample.TasksPerBlock
	if tasksPerBlock <= 0 {
		tasksPerBlock = 1
	}
	needed := int(math.Ceil(float64(sample.PendingTasks) * s.cfg.Parallelism / float64(tasksPerBlock)))
	desired := clamp(needed, s.cfg.MinBlocks, s.cfg.MaxBlocks)

	if desired >= runningBlocks {
		s.wasIdle = false
		return desired
	}

	if !s.wasIdle {
		s.wasIdle = true
		s.idleSince = now
		return runningBlocks
	}
	if now.Sub(s.idleSince) < s.cfg.IdleScaleInDelay {
		return runningBlocks
	}
	return desired
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
