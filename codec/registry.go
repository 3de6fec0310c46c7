package codec

import (
	"bytes"
	"encoding/gob"
	"reflect"
	"sync"

	"golang.org/x/xerrors"

	"github.com/parallex/htexec/htexerr"
)

// dataMethod is the fixed-width one-byte header prepended to every
// serialized value, mirroring the fixed-width-header scheme of spec.md
// §4.1. Named callables are never serialized directly; PackApply instead
// serializes the callable's registered name as an ordinary data value and
// resolves it through the Registry on the receiving side, so a single
// method tag covers every payload the wire ever carries.
const dataMethod byte = 0x01

// callable is what the registry stores for a named function: enough
// reflection metadata to invoke it once its gob-decoded arguments arrive.
type callable struct {
	name string
	fn   reflect.Value
}

// Registry holds the named-callable registration table described in
// spec.md §4.1 ("a registry of methods for callable vs data payloads").
// Go cannot serialize closures, so callables must be registered ahead of
// time by name; this is the direct Go analogue of the source's dynamic
// method-registry, resolved explicitly rather than guessed at (see
// SPEC_FULL.md §4.1).
type Registry struct {
	mu     sync.RWMutex
	byName map[string]callable
}

// NewRegistry creates an empty callable registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]callable)}
}

// init registers the concrete types that routinely flow through an
// interface{}-typed Serialize/Deserialize call (PackApply's positional
// args, Invoke's return values): gob refuses to encode a concrete type
// behind an interface unless it has been registered, exactly like
// wire.init registers every Envelope implementation.
func init() {
	for _, v := range []interface{}{
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0), "", false, []byte(nil),
		[]interface{}(nil), map[string]interface{}(nil),
		&htexerr.RemoteError{}, &htexerr.WorkerLostError{},
	} {
		gob.Register(v)
	}
}

// RegisterFunc registers fn under name so it can be referenced from
// PackApply/UnpackApply. fn must be a function value.
func (r *Registry) RegisterFunc(name string, fn interface{}) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic("codec: RegisterFunc requires a function value")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = callable{name: name, fn: v}
}

func (r *Registry) lookup(name string) (callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// serializeData encodes v using gob and prefixes it with dataMethod.
func serializeData(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(dataMethod)
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, xerrors.Errorf("codec: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// deserializeData decodes the body of a dataMethod-tagged buffer (tag
// already stripped) back into an interface{}. Serialize's self-check calls
// it on the bytes it has just encoded, following the "self-check by
// serializing and deserializing" rule of spec.md §4.1; no re-encoding
// comparison is made, since for plain gob data the decode step is itself
// sufficient verification as gob already rejects malformed streams.
func deserializeData(body []byte) (interface{}, error) {
	var v interface{}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&v); err != nil {
		return nil, xerrors.Errorf("codec: gob decode: %w", err)
	}
	return v, nil
}
