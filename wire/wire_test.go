package wire

import (
	"testing"
	"time"

	"github.com/parallex/htexec/taskid"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(WireTestSuite))

type WireTestSuite struct{}

func (s *WireTestSuite) TestEncodeDecodeRoundTrip(c *gc.C) {
	id := taskid.New()

	cases := []Envelope{
		Task{ID: id, Payload: []byte("payload")},
		Result{Kind: ResultOk, ID: id, Payload: []byte("ok")},
		Result{Kind: ResultErr, ID: id, Payload: []byte("boom")},
		Result{Kind: ResultInfo, ID: id, StartedAt: time.Now().UTC()},
		Heartbeat{WorkerID: "w1", ActiveTaskIDs: []taskid.ID{id}, WallTime: time.Now().UTC()},
		Registration{WorkerID: "w1", Capacity: 4},
		Shutdown{},
	}

	for _, env := range cases {
		data, err := Encode(env)
		c.Assert(err, gc.IsNil)

		decoded, err := Decode(data)
		c.Assert(err, gc.IsNil)
		c.Assert(decoded, gc.DeepEquals, env)
	}
}

func (s *WireTestSuite) TestDecodeMalformed(c *gc.C) {
	_, err := Decode([]byte("not a gob stream"))
	c.Assert(err, gc.Not(gc.IsNil))
}
