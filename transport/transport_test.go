package transport

import (
	"strconv"
	"testing"
	"time"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(TransportTestSuite))

type TransportTestSuite struct{}

func (s *TransportTestSuite) TestRouterDealerRoundTrip(c *gc.C) {
	router, err := NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()

	port, err := router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)
	c.Assert(port, gc.Not(gc.Equals), 0)

	dealer, err := NewDealerSocket("worker-1")
	c.Assert(err, gc.IsNil)
	defer dealer.Close()

	c.Assert(dealer.Connect(routerURL("127.0.0.1", port)), gc.IsNil)

	c.Assert(dealer.Send([][]byte{[]byte("hello")}), gc.IsNil)

	identity, frames, err := router.RecvIdentified(5 * time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(string(identity), gc.Equals, "worker-1")
	c.Assert(frames, gc.DeepEquals, [][]byte{[]byte("hello")})

	c.Assert(router.SendTo(identity, [][]byte{[]byte("world")}), gc.IsNil)

	reply, err := dealer.Recv(5 * time.Second)
	c.Assert(err, gc.IsNil)
	c.Assert(reply, gc.DeepEquals, [][]byte{[]byte("world")})
}

func (s *TransportTestSuite) TestRecvTimeout(c *gc.C) {
	router, err := NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()

	_, err = router.Bind("127.0.0.1", 0, 0)
	c.Assert(err, gc.IsNil)

	_, _, err = router.RecvIdentified(50 * time.Millisecond)
	c.Assert(err, gc.Equals, ErrTimeout)
}

func (s *TransportTestSuite) TestBindPortRange(c *gc.C) {
	router, err := NewRouterSocket()
	c.Assert(err, gc.IsNil)
	defer router.Close()

	port, err := router.Bind("127.0.0.1", 40100, 40200)
	c.Assert(err, gc.IsNil)
	c.Assert(port >= 40100 && port <= 40200, gc.Equals, true)
}

func routerURL(host string, port int) string {
	return "tcp://" + host + ":" + strconv.Itoa(port)
}
