package local

import (
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/parallex/htexec/provider"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(LocalDriverTestSuite))

type LocalDriverTestSuite struct{}

func (s *LocalDriverTestSuite) TestSubmitRunsAndCompletes(c *gc.C) {
	d := New(Config{Command: "sh", Args: []string{"-c", "exit 0"}})
	id, err := d.Submit()
	c.Assert(err, gc.IsNil)
	c.Assert(id, gc.Not(gc.Equals), "")

	c.Assert(waitForState(d, id, provider.StateCancelled, 2*time.Second) ||
		waitForState(d, id, provider.StateFailed, 0), gc.Equals, true)
}

func (s *LocalDriverTestSuite) TestCancelSendsSignal(c *gc.C) {
	d := New(Config{Command: "sleep", Args: []string{"30"}})
	id, err := d.Submit()
	c.Assert(err, gc.IsNil)

	c.Assert(waitForState(d, id, provider.StateRunning, 2*time.Second), gc.Equals, true)

	c.Assert(d.Cancel(id), gc.IsNil)

	statuses := d.Status()
	c.Assert(statuses[0].State, gc.Equals, provider.StateCancelled)
}

func (s *LocalDriverTestSuite) TestSubmitInvalidCommand(c *gc.C) {
	d := New(Config{Command: "/no/such/binary"})
	_, err := d.Submit()
	c.Assert(err, gc.Not(gc.IsNil))
}

func waitForState(d *Driver, id string, want provider.BlockState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, st := range d.Status() {
			if st.ID == id && st.State == want {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
