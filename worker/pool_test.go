package worker

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

var _ = gc.Suite(new(PoolTestSuite))

type PoolTestSuite struct{}

func double(x int) int { return x * 2 }

func (s *PoolTestSuite) TestExecuteInvokesRegisteredCallable(c *gc.C) {
	registry := codec.NewRegistry()
	registry.RegisterFunc("double", double)
	cdc := codec.New(registry)

	cfg := Config{Codec: cdc, Capacity: 1}
	c.Assert(cfg.Validate(), gc.IsNil)

	p := &Pool{cfg: cfg, identity: "w", slots: newSlotPool(1), inFlight: make(map[taskid.ID]struct{}), stopCh: make(chan struct{})}

	payload, err := cdc.PackApply("double", []interface{}{21}, nil)
	c.Assert(err, gc.IsNil)

	task := wire.Task{ID: taskid.New(), Payload: payload}
	res := p.execute(task)
	c.Assert(res.Kind, gc.Equals, wire.ResultOk)

	out, err := cdc.Deserialize(res.Payload)
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.Equals, 42)
}

func (s *PoolTestSuite) TestExecuteMalformedPayloadReturnsErr(c *gc.C) {
	cdc := codec.New(codec.NewRegistry())
	cfg := Config{Codec: cdc, Capacity: 1}
	c.Assert(cfg.Validate(), gc.IsNil)

	p := &Pool{cfg: cfg, identity: "w"}
	task := wire.Task{ID: taskid.New(), Payload: []byte{0x01, 0x02, 0x03}}
	res := p.execute(task)
	c.Assert(res.Kind, gc.Equals, wire.ResultErr)
}

func (s *PoolTestSuite) TestEndToEndRegistrationAndTask(c *gc.C) {
	router, err := transport.NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()
	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	registry := codec.NewRegistry()
	registry.RegisterFunc("double", double)
	cdc := codec.New(registry)

	p, err := New("worker-1", Config{
		InterchangeAddr: "tcp://127.0.0.1:" + portString(port),
		Codec:           cdc,
		Capacity:        2,
		HeartbeatPeriod: 50 * time.Millisecond,
	})
	c.Assert(err, gc.IsNil)
	c.Assert(p.Dial(time.Second), gc.IsNil)
	defer p.Close()

	go p.Run()
	defer p.Stop()

	identity, frames, err := router.RecvIdentified(5 * time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(string(identity), gc.Equals, "worker-1")
	env, err := wire.Decode(frames[0])
	c.Assert(err, gc.IsNil)
	reg, ok := env.(wire.Registration)
	c.Assert(ok, gc.Equals, true)
	c.Assert(reg.Capacity, gc.Equals, 2)

	payload, err := cdc.PackApply("double", []interface{}{10}, nil)
	c.Assert(err, gc.IsNil)
	taskEnv := wire.Task{ID: taskid.New(), Payload: payload}
	data, err := wire.Encode(taskEnv)
	c.Assert(err, gc.IsNil)
	c.Assert(router.SendTo(identity, [][]byte{data}), gc.IsNil)

	select {
	case res := <-p.Results():
		c.Assert(res.Kind, gc.Equals, wire.ResultOk)
		c.Assert(res.ID, gc.Equals, taskEnv.ID)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for result")
	}
}

func portString(port int) string {
	return strconv.Itoa(port)
}
