// Package codec implements the opaque serialize/deserialize capability
// consumed by the executor, interchange, and worker (spec.md §4.1). The
// core never inspects the bytes it produces; it only frames and threshold-
// checks them.
package codec

import (
	"reflect"

	"github.com/parallex/htexec/htexerr"
	"golang.org/x/xerrors"
)

// DefaultBufferThreshold is the default BUFFER_THRESHOLD tunable (1 MiB).
const DefaultBufferThreshold = 1 << 20

// Codec packs and unpacks callables, arguments, and return values for the
// wire. All methods are safe for concurrent use.
type Codec struct {
	registry  *Registry
	threshold int
}

// Option configures a Codec.
type Option func(*Codec)

// WithBufferThreshold overrides DefaultBufferThreshold.
func WithBufferThreshold(n int) Option {
	return func(c *Codec) { c.threshold = n }
}

// New creates a Codec backed by registry. Pass nil to get an empty registry
// usable for pure data (non-callable) serialization.
func New(registry *Registry, opts ...Option) *Codec {
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Codec{registry: registry, threshold: DefaultBufferThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the callable registry backing this Codec, so callers can
// register additional named functions after construction.
func (c *Codec) Registry() *Registry { return c.registry }

// PackApply packs a named, pre-registered callable plus its positional and
// keyword arguments into a single byte buffer suitable for Task.Payload.
// funcName must have been registered via Registry.RegisterFunc.
func (c *Codec) PackApply(funcName string, args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	if _, ok := c.registry.lookup(funcName); !ok {
		return nil, xerrors.Errorf("codec: pack_apply: unknown callable %q", funcName)
	}

	funcFrame, err := c.Serialize(funcName)
	if err != nil {
		return nil, err
	}
	argsFrame, err := c.Serialize(args)
	if err != nil {
		return nil, err
	}
	kwargsFrame, err := c.Serialize(kwargs)
	if err != nil {
		return nil, err
	}

	return PackBuffers([][]byte{funcFrame, argsFrame, kwargsFrame}), nil
}

// UnpackApply reverses PackApply, returning the callable's registered name,
// its positional arguments, and its keyword arguments. Exactly three frames
// are required; anything else is htexerr.ErrFraming.
func (c *Codec) UnpackApply(payload []byte) (funcName string, args []interface{}, kwargs map[string]interface{}, err error) {
	frames, err := UnpackBuffers(payload)
	if err != nil {
		return "", nil, nil, err
	}
	if len(frames) != 3 {
		return "", nil, nil, xerrors.Errorf("codec: unpack_apply: expected 3 frames, got %d: %w", len(frames), htexerr.ErrFraming)
	}

	funcVal, err := c.Deserialize(frames[0])
	if err != nil {
		return "", nil, nil, err
	}
	name, ok := funcVal.(string)
	if !ok {
		return "", nil, nil, xerrors.Errorf("codec: unpack_apply: func frame did not decode to a name: %w", htexerr.ErrDeserialization)
	}

	argsVal, err := c.Deserialize(frames[1])
	if err != nil {
		return "", nil, nil, err
	}
	kwargsVal, err := c.Deserialize(frames[2])
	if err != nil {
		return "", nil, nil, err
	}

	args, _ = argsVal.([]interface{})
	kwargs, _ = kwargsVal.(map[string]interface{})
	return name, args, kwargs, nil
}

// Invoke looks up funcName in the registry and calls it with args, which
// must match the registered function's parameter types.
func (c *Codec) Invoke(funcName string, args []interface{}) ([]interface{}, error) {
	call, ok := c.registry.lookup(funcName)
	if !ok {
		return nil, xerrors.Errorf("codec: invoke: unknown callable %q", funcName)
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(call.fn.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}

	out := call.fn.Call(in)
	results := make([]interface{}, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

// Serialize encodes obj into the tagged wire form described in spec.md
// §4.1: try each registered method in turn (here, the single dataMethod
// path, since callables are only ever referenced by name via PackApply, not
// serialized directly) until one succeeds, self-checking via round-trip.
// Enforces BUFFER_THRESHOLD.
func (c *Codec) Serialize(obj interface{}) ([]byte, error) {
	body, err := serializeData(obj)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err, htexerr.ErrSerializationFailed)
	}

	// Self-check: the value we just produced must decode back cleanly.
	if _, err := deserializeData(body[1:]); err != nil {
		return nil, xerrors.Errorf("codec: serialize self-check failed: %w", htexerr.ErrSerializationFailed)
	}

	if c.threshold > 0 && len(body) > c.threshold {
		return nil, xerrors.Errorf("codec: %d bytes exceeds threshold %d: %w", len(body), c.threshold, htexerr.ErrPayloadTooLarge)
	}

	return body, nil
}

// Deserialize reverses Serialize, dispatching on the fixed-width method tag.
func (c *Codec) Deserialize(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, xerrors.Errorf("codec: empty payload: %w", htexerr.ErrDeserialization)
	}

	switch data[0] {
	case dataMethod:
		v, err := deserializeData(data[1:])
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", err, htexerr.ErrDeserialization)
		}
		return v, nil
	default:
		return nil, xerrors.Errorf("codec: unrecognized method tag %d: %w", data[0], htexerr.ErrDeserialization)
	}
}
