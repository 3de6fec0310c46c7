package executor

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/htexerr"
	"github.com/parallex/htexec/transport"
	"github.com/parallex/htexec/wire"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ExecutorTestSuite))

type ExecutorTestSuite struct{}

func (s *ExecutorTestSuite) TestConfigValidate(c *gc.C) {
	cfg := Config{}
	c.Assert(cfg.Validate(), gc.Not(gc.IsNil))

	cfg = Config{InterchangeTaskAddr: "tcp://127.0.0.1:1", Codec: codec.New(codec.NewRegistry())}
	c.Assert(cfg.Validate(), gc.IsNil)
}

func (s *ExecutorTestSuite) TestSubmitAndResolve(c *gc.C) {
	router, err := transport.NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()
	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	registry := codec.NewRegistry()
	registry.RegisterFunc("double", func(x int) int { return x * 2 })
	cdc := codec.New(registry)

	ex, err := New(Config{InterchangeTaskAddr: "tcp://127.0.0.1:" + strconv.Itoa(port), Codec: cdc})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Start(), gc.IsNil)
	defer ex.Shutdown()

	future, err := ex.Submit("double", []interface{}{21}, nil)
	c.Assert(err, gc.IsNil)

	identity, frames, err := router.RecvIdentified(5 * time.Second)
	c.Assert(err, gc.IsNil)
	env, err := wire.Decode(frames[0])
	c.Assert(err, gc.IsNil)
	task, ok := env.(wire.Task)
	c.Assert(ok, gc.Equals, true)
	c.Assert(task.ID, gc.Equals, future.ID())

	payload, err := cdc.Serialize("ok-payload")
	c.Assert(err, gc.IsNil)
	resData, err := wire.Encode(wire.Result{Kind: wire.ResultOk, ID: task.ID, Payload: payload})
	c.Assert(err, gc.IsNil)
	c.Assert(router.SendTo(identity, [][]byte{resData}), gc.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Assert(future.Wait(ctx), gc.IsNil)

	value, err := future.Value()
	c.Assert(err, gc.IsNil)
	c.Assert(value, gc.Equals, "ok-payload")
}

func (s *ExecutorTestSuite) TestSubmitResolvesWithRemoteError(c *gc.C) {
	router, err := transport.NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()
	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	registry := codec.NewRegistry()
	registry.RegisterFunc("boom", func() error { return nil })
	cdc := codec.New(registry)

	ex, err := New(Config{InterchangeTaskAddr: "tcp://127.0.0.1:" + strconv.Itoa(port), Codec: cdc})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Start(), gc.IsNil)
	defer ex.Shutdown()

	future, err := ex.Submit("boom", nil, nil)
	c.Assert(err, gc.IsNil)

	identity, frames, err := router.RecvIdentified(5 * time.Second)
	c.Assert(err, gc.IsNil)
	env, err := wire.Decode(frames[0])
	c.Assert(err, gc.IsNil)
	task := env.(wire.Task)

	payload, err := cdc.Serialize(&htexerr.RemoteError{Message: "boom: it broke"})
	c.Assert(err, gc.IsNil)
	resData, err := wire.Encode(wire.Result{Kind: wire.ResultErr, ID: task.ID, Payload: payload})
	c.Assert(err, gc.IsNil)
	c.Assert(router.SendTo(identity, [][]byte{resData}), gc.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Assert(future.Wait(ctx), gc.IsNil)

	_, err = future.Value()
	c.Assert(err, gc.Not(gc.IsNil))
	c.Assert(err.Error(), gc.Equals, "boom: it broke")
}

func (s *ExecutorTestSuite) TestManageFailsAllOnBadMessage(c *gc.C) {
	router, err := transport.NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()
	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	registry := codec.NewRegistry()
	registry.RegisterFunc("noop", func() {})
	cdc := codec.New(registry)

	ex, err := New(Config{InterchangeTaskAddr: "tcp://127.0.0.1:" + strconv.Itoa(port), Codec: cdc})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Start(), gc.IsNil)
	defer ex.Shutdown()

	future, err := ex.Submit("noop", nil, nil)
	c.Assert(err, gc.IsNil)

	identity, _, err := router.RecvIdentified(5 * time.Second)
	c.Assert(err, gc.IsNil)

	badData, err := wire.Encode(wire.Heartbeat{WorkerID: "w-1"})
	c.Assert(err, gc.IsNil)
	c.Assert(router.SendTo(identity, [][]byte{badData}), gc.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.Assert(future.Wait(ctx), gc.IsNil)
	c.Assert(future.Cancelled(), gc.Equals, true)

	_, err = ex.Submit("noop", nil, nil)
	c.Assert(err, gc.Not(gc.IsNil))
}

func (s *ExecutorTestSuite) TestSetBadStateFailsAll(c *gc.C) {
	router, err := transport.NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()
	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	registry := codec.NewRegistry()
	registry.RegisterFunc("noop", func() {})
	cdc := codec.New(registry)
	ex, err := New(Config{InterchangeTaskAddr: "tcp://127.0.0.1:" + strconv.Itoa(port), Codec: cdc})
	c.Assert(err, gc.IsNil)
	c.Assert(ex.Start(), gc.IsNil)
	defer ex.Shutdown()

	future, err := ex.Submit("noop", nil, nil)
	c.Assert(err, gc.IsNil)

	ex.SetBadStateAndFailAll(errors.New("boom"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Assert(future.Wait(ctx), gc.IsNil)
	c.Assert(future.Cancelled(), gc.Equals, true)

	_, err = ex.Submit("noop", nil, nil)
	c.Assert(err, gc.Not(gc.IsNil))
}
