// Package executor implements the client-facing handle described in
// spec.md §4.5: Submit enqueues a task and returns a Future, while a
// background management goroutine drains completions off the interchange
// and resolves them. Start also owns the interchange's lifecycle: it spawns
// the interchange subprocess, waits for its startup handshake, and
// provisions the initial blocks through a provider.Driver. Its Start/Close
// lifecycle and config-validation shape are grounded in
// Chapter12/dbspgraph/master.go's Master type.
package executor

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/metrics"
	"github.com/parallex/htexec/observability"
	"github.com/parallex/htexec/provider"
)

// DefaultHandshakeTimeout bounds how long Start waits for a spawned
// interchange to report its listening address, per spec.md §4.5's
// INTERCHANGE_LAUNCH_TIMEOUT.
const DefaultHandshakeTimeout = 120 * time.Second

// Config collects everything needed to construct an Executor.
type Config struct {
	// InterchangeTaskAddr is the address of the interchange's task-facing
	// ROUTER socket, e.g. "tcp://127.0.0.1:54321". Required unless
	// InterchangeBinary is set, in which case Start discovers it via the
	// startup handshake and overwrites this field.
	InterchangeTaskAddr string

	// InterchangeBinary, when non-empty, is spawned by Start as a
	// subprocess running the interchange; Start then waits for it to
	// report its task address over an inherited handshake pipe before
	// connecting. Leave empty to connect to an already-running
	// interchange at InterchangeTaskAddr instead (as executor tests do).
	InterchangeBinary string

	// InterchangeArgs are additional arguments appended to the spawned
	// interchange, after the handshake descriptor flag Start adds itself.
	InterchangeArgs []string

	// HandshakeTimeout bounds the wait for the spawned interchange's
	// startup handshake. Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Provider submits and cancels compute blocks for ScaleOut/ScaleIn.
	// Required when InitBlocks > 0 or when ScaleOut/ScaleIn are called.
	Provider provider.Driver

	// InitBlocks is the number of blocks Start submits through Provider
	// before returning, per spec.md §4.5. A submission failure for any of
	// them aborts Start with htexerr.ErrScalingFailed.
	InitBlocks int

	// Codec packs task payloads for dispatch and unpacks result payloads.
	Codec *codec.Codec

	// Logger defaults to a discard logger.
	Logger *logrus.Entry

	// Metrics is optional.
	Metrics *metrics.Registry

	// Tracer is optional; when set, Submit starts a span for each task and
	// propagates its context to the worker via wire.Task.TraceCtx.
	Tracer opentracing.Tracer
}

// Validate checks required fields and fills in defaults.
func (cfg *Config) Validate() error {
	var err error
	if cfg.InterchangeTaskAddr == "" && cfg.InterchangeBinary == "" {
		err = multierror.Append(err, xerrors.New("executor: neither interchange task address nor interchange binary specified"))
	}
	if cfg.Codec == nil {
		err = multierror.Append(err, xerrors.New("executor: codec not specified"))
	}
	if cfg.InitBlocks > 0 && cfg.Provider == nil {
		err = multierror.Append(err, xerrors.New("executor: init blocks requested but no provider specified"))
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NullLogger()
	}
	return err
}
