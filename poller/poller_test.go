package poller

import (
	"testing"
	"time"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(StrategyTestSuite))
var _ = gc.Suite(new(PollerTestSuite))
var _ = gc.Suite(new(JobErrorTestSuite))

type StrategyTestSuite struct{}

func (s *StrategyTestSuite) TestScaleOutIsEager(c *gc.C) {
	strat := NewParallelismStrategy(ParallelismConfig{MaxBlocks: 10})
	desired := strat.desiredAt(time.Now(), Sample{PendingTasks: 5, TasksPerBlock: 2}, 0)
	c.Assert(desired, gc.Equals, 3)
}

func (s *StrategyTestSuite) TestScaleInWaitsForIdleDelay(c *gc.C) {
	strat := NewParallelismStrategy(ParallelismConfig{MinBlocks: 0, MaxBlocks: 10, IdleScaleInDelay: time.Minute})
	now := time.Now()

	// First idle observation: no change yet.
	d := strat.desiredAt(now, Sample{}, 3)
	c.Assert(d, gc.Equals, 3)

	// Still within the idle delay window.
	d = strat.desiredAt(now.Add(30*time.Second), Sample{}, 3)
	c.Assert(d, gc.Equals, 3)

	// Past the delay: drop straight to the computed desired count.
	d = strat.desiredAt(now.Add(90*time.Second), Sample{}, 3)
	c.Assert(d, gc.Equals, 0)
}

func (s *StrategyTestSuite) TestParallelismScalesDownNeeded(c *gc.C) {
	strat := NewParallelismStrategy(ParallelismConfig{MaxBlocks: 10, Parallelism: 0.5})
	desired := strat.desiredAt(time.Now(), Sample{PendingTasks: 5, TasksPerBlock: 1}, 0)
	c.Assert(desired, gc.Equals, 3) // ceil(5*0.5/1) == 3
}

func (s *StrategyTestSuite) TestScaleInRespectsMinBlocks(c *gc.C) {
	strat := NewParallelismStrategy(ParallelismConfig{MinBlocks: 1, MaxBlocks: 10, IdleScaleInDelay: 0})
	now := time.Now()
	strat.desiredAt(now, Sample{}, 1)
	d := strat.desiredAt(now.Add(time.Millisecond), Sample{}, 1)
	c.Assert(d, gc.Equals, 1)
}

type PollerTestSuite struct{}

func (s *PollerTestSuite) TestTickCallsScaleOnChange(c *gc.C) {
	var scaledTo []int
	calls := 0
	strat := NewParallelismStrategy(ParallelismConfig{MaxBlocks: 10, IdleScaleInDelay: time.Hour})

	p, err := New(Config{
		Strategy: strat,
		Sample: func() Sample {
			calls++
			if calls == 1 {
				return Sample{PendingTasks: 4, TasksPerBlock: 2}
			}
			return Sample{}
		},
		Scale: func(n int) error {
			scaledTo = append(scaledTo, n)
			return nil
		},
	})
	c.Assert(err, gc.IsNil)

	c.Assert(p.Tick(), gc.IsNil)
	c.Assert(scaledTo, gc.DeepEquals, []int{2})

	// Now idle; the first idle tick just starts the hysteresis timer and
	// should not trigger another Scale call since running == desired.
	c.Assert(p.Tick(), gc.IsNil)
	c.Assert(scaledTo, gc.DeepEquals, []int{2})
}

func (s *PollerTestSuite) TestTickRunsJobErrorHandler(c *gc.C) {
	var badErr error
	handler := NewJobErrorHandler(func(err error) { badErr = err })

	p, err := New(Config{
		Strategy:        NewParallelismStrategy(ParallelismConfig{MaxBlocks: 10}),
		Sample:          func() Sample { return Sample{PendingTasks: 5} },
		Scale:           func(n int) error { return nil },
		JobErrorHandler: handler,
		Blocks:          func() []BlockState { return []BlockState{BlockFailed, BlockCancelled} },
	})
	c.Assert(err, gc.IsNil)

	c.Assert(p.Tick(), gc.IsNil)
	c.Assert(badErr, gc.Not(gc.IsNil))
}

type JobErrorTestSuite struct{}

func (s *JobErrorTestSuite) TestFiresWhenAllBlocksTerminal(c *gc.C) {
	var got error
	h := NewJobErrorHandler(func(err error) { got = err })

	h.Check([]BlockState{BlockRunning}, 5)
	c.Assert(got, gc.IsNil)

	h.Check([]BlockState{BlockFailed, BlockCancelled}, 5)
	c.Assert(got, gc.Not(gc.IsNil))
}

func (s *JobErrorTestSuite) TestNoFireWithoutPendingTasks(c *gc.C) {
	var got error
	h := NewJobErrorHandler(func(err error) { got = err })
	h.Check([]BlockState{BlockFailed}, 0)
	c.Assert(got, gc.IsNil)
}
