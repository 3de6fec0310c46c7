package interchange

import (
	"strconv"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/taskid"
	"github.com/parallex/htexec/transport"
	"github.com/parallex/htexec/wire"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(InterchangeTestSuite))

type InterchangeTestSuite struct{}

func (s *InterchangeTestSuite) TestConfigValidateDefaults(c *gc.C) {
	cfg := Config{}
	err := cfg.Validate()
	c.Assert(err, gc.Not(gc.IsNil))

	cfg = Config{InterfaceAddr: "127.0.0.1", Codec: codec.New(codec.NewRegistry())}
	err = cfg.Validate()
	c.Assert(err, gc.IsNil)
	c.Assert(cfg.Logger, gc.Not(gc.IsNil))
	c.Assert(cfg.HeartbeatPeriod, gc.Equals, 5*time.Second)
	c.Assert(cfg.HeartbeatThreshold, gc.Equals, 15*time.Second)
}

func (s *InterchangeTestSuite) TestEndToEndDispatchAndResult(c *gc.C) {
	ic, err := New(Config{
		InterfaceAddr:      "127.0.0.1",
		Codec:              codec.New(codec.NewRegistry()),
		HeartbeatPeriod:    50 * time.Millisecond,
		HeartbeatThreshold: 5 * time.Second,
	})
	c.Assert(err, gc.IsNil)
	defer ic.Shutdown()

	go ic.Run()

	worker, err := transport.NewDealerSocket("worker-a")
	c.Assert(err, gc.IsNil)
	defer worker.Close()
	c.Assert(worker.Connect(dealURL(ic.WorkerPort())), gc.IsNil)

	regData, err := wire.Encode(wire.Registration{WorkerID: "worker-a", Capacity: 1})
	c.Assert(err, gc.IsNil)
	c.Assert(worker.Send([][]byte{regData}), gc.IsNil)

	// Give the main loop a moment to process registration.
	time.Sleep(100 * time.Millisecond)

	executor, err := transport.NewDealerSocket("executor-a")
	c.Assert(err, gc.IsNil)
	defer executor.Close()
	c.Assert(executor.Connect(dealURL(ic.TaskPort())), gc.IsNil)

	taskEnv := wire.Task{ID: taskid.New(), Payload: []byte("payload")}
	taskData, err := wire.Encode(taskEnv)
	c.Assert(err, gc.IsNil)
	c.Assert(executor.Send([][]byte{taskData}), gc.IsNil)

	// Worker should receive the dispatched task.
	frames, err := worker.Recv(5 * time.Second)
	c.Assert(err, gc.IsNil)
	env, err := wire.Decode(frames[0])
	c.Assert(err, gc.IsNil)
	received, ok := env.(wire.Task)
	c.Assert(ok, gc.Equals, true)
	c.Assert(received.ID, gc.Equals, taskEnv.ID)

	// Worker reports completion.
	resData, err := wire.Encode(wire.Result{Kind: wire.ResultOk, ID: taskEnv.ID, Payload: []byte("done")})
	c.Assert(err, gc.IsNil)
	c.Assert(worker.Send([][]byte{resData}), gc.IsNil)

	select {
	case res := <-ic.Results():
		c.Assert(res.ID, gc.Equals, taskEnv.ID)
		c.Assert(res.Kind, gc.Equals, wire.ResultOk)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for result")
	}

	// The executor's DEALER should also see the forwarded result.
	execFrames, err := executor.Recv(5 * time.Second)
	c.Assert(err, gc.IsNil)
	execEnv, err := wire.Decode(execFrames[0])
	c.Assert(err, gc.IsNil)
	execRes, ok := execEnv.(wire.Result)
	c.Assert(ok, gc.Equals, true)
	c.Assert(execRes.ID, gc.Equals, taskEnv.ID)
}

func dealURL(port int) string {
	return "tcp://127.0.0.1:" + strconv.Itoa(port)
}
