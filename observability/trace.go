package observability

import (
	"bytes"
	"encoding/gob"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// TracerPool keeps track of instantiated tracers and provides a helper for
// closing all of them at once, adapted verbatim from
// Chapter11/tracing/tracer/tracer.go's Pool.
var TracerPool = new(tracerPool)

type tracerPool struct {
	mu      sync.Mutex
	closers []io.Closer
}

// Close shuts down every tracer instance tracked by the pool.
func (p *tracerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, closer := range p.closers {
		if cErr := closer.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}
	p.closers = nil
	return err
}

// MustGetTracer obtains a Jaeger tracer for serviceName or panics.
func MustGetTracer(serviceName string) opentracing.Tracer {
	tracer, err := GetTracer(serviceName)
	if err != nil {
		panic(err)
	}
	return tracer
}

// GetTracer obtains and returns a Jaeger tracer for serviceName, sampling
// every span (appropriate for a low-volume control-plane task like ours;
// callers that need to run at production task rates should sample). Close
// TracerPool before process exit to flush spans.
func GetTracer(serviceName string) (opentracing.Tracer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, err
	}

	cfg.Sampler = &jaegercfg.SamplerConfig{
		Type:  jaeger.SamplerTypeConst,
		Param: 1,
	}
	cfg.ServiceName = serviceName

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, err
	}

	TracerPool.mu.Lock()
	TracerPool.closers = append(TracerPool.closers, closer)
	TracerPool.mu.Unlock()
	return tracer, nil
}

// StartTaskSpan starts a span named operation for a task, continuing the
// trace in carrier if one was propagated across the wire in
// wire.Task.TraceCtx. It returns the span and a fresh carrier to embed in
// the next hop.
func StartTaskSpan(tracer opentracing.Tracer, operation string, carrier []byte) (opentracing.Span, []byte) {
	var span opentracing.Span
	if textMap, ok := decodeCarrier(carrier); ok {
		if parent, err := tracer.Extract(opentracing.TextMap, opentracing.TextMapCarrier(textMap)); err == nil {
			span = tracer.StartSpan(operation, opentracing.ChildOf(parent))
		}
	}
	if span == nil {
		span = tracer.StartSpan(operation)
	}
	return span, encodeCarrier(tracer, span)
}

func encodeCarrier(tracer opentracing.Tracer, span opentracing.Span) []byte {
	textMap := opentracing.TextMapCarrier(make(map[string]string))
	if err := tracer.Inject(span.Context(), opentracing.TextMap, textMap); err != nil {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]string(textMap)); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeCarrier(data []byte) (map[string]string, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var m map[string]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, false
	}
	return m, true
}
