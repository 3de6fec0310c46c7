// Package wire defines the tagged-union protocol spoken between the
// executor, the interchange, and worker pools. Every message is an explicit
// Go type implementing Envelope; there is no string-keyed map on the wire,
// per the "duck-typed message dictionaries" resolution recorded in
// SPEC_FULL.md's DESIGN NOTES.
package wire

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/parallex/htexec/taskid"
	"golang.org/x/xerrors"
)

func init() {
	gob.Register(Task{})
	gob.Register(Result{})
	gob.Register(Heartbeat{})
	gob.Register(Registration{})
	gob.Register(Shutdown{})
}

// Envelope is implemented by every message that can travel between
// submitter, interchange, and worker.
type Envelope interface {
	envelope()
}

// Task carries one unit of opaque, codec-packed work from the submitter,
// through the interchange, to a worker.
type Task struct {
	ID       taskid.ID
	Payload  []byte // codec.PackApply(func, args, kwargs)
	TraceCtx []byte // opaque opentracing span-context carrier, may be empty
}

func (Task) envelope() {}

// ResultKind tags which of the three Result variants a message carries.
type ResultKind int

const (
	// ResultOk carries a successfully computed, codec-serialized value.
	ResultOk ResultKind = iota
	// ResultErr carries a codec-serialized exception/error object.
	ResultErr
	// ResultInfo is an optional task-start notification, informational only.
	ResultInfo
)

// Result is the tagged union of Ok/Err/Info result variants described in
// spec.md §3. Kind selects which of Payload/StartedAt is meaningful.
type Result struct {
	Kind      ResultKind
	ID        taskid.ID
	Payload   []byte    // set when Kind == ResultOk or ResultErr
	StartedAt time.Time // set when Kind == ResultInfo
}

func (Result) envelope() {}

// Heartbeat is emitted periodically by every worker pool to report which
// tasks it currently considers in-flight.
type Heartbeat struct {
	WorkerID      string
	ActiveTaskIDs []taskid.ID
	WallTime      time.Time
}

func (Heartbeat) envelope() {}

// Registration is sent once by a worker pool immediately after connecting,
// advertising how many concurrent task slots it offers.
type Registration struct {
	WorkerID string
	Capacity int
}

func (Registration) envelope() {}

// Shutdown is the typed control sentinel that replaces an untyped nil
// "exit" message. A worker that receives it ends its poll loop, and an
// interchange that receives it on its task channel shuts down; no
// component in this module sends it.
type Shutdown struct{}

func (Shutdown) envelope() {}

// Encode gob-encodes an Envelope for transmission as a single ZeroMQ message
// frame. The outer envelope encoding is independent of codec's own
// byte-framing scheme (§4.1): codec only ever produces the opaque
// Task.Payload / Result.Payload bytes carried inside.
func Encode(e Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return nil, xerrors.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode restores an Envelope previously produced by Encode. The
// executor's management thread treats an error here as
// htexerr.ErrBadMessage; the interchange and worker log the frame and drop
// it.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, xerrors.Errorf("wire: decode: %w", err)
	}
	return e, nil
}
