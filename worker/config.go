// Package worker implements the process that connects to an interchange,
// advertises execution capacity, and runs submitted tasks against a local
// codec.Registry (spec.md §4.4). Its Dial/Close/Config shape is grounded in
// Chapter12/dbspgraph/worker.go's Worker type, re-pointed at a ZeroMQ DEALER
// connection instead of a gRPC stream, and its slot accounting borrows the
// Get/Put recycling idiom from other_examples' ygrebnov-workers pool.
package worker

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/observability"
)

// Config collects everything needed to construct a Pool.
type Config struct {
	// InterchangeAddr is the worker-facing ROUTER address to dial, e.g.
	// "tcp://10.0.0.1:54321". When empty, Pool.Dial performs address-probe
	// discovery against ProbeCandidates instead.
	InterchangeAddr string

	// ProbeCandidates lists host:port pairs that Dial races in parallel when
	// InterchangeAddr is empty; the first to accept a connection is used.
	ProbeCandidates []string

	// Capacity is the number of tasks this worker will run concurrently.
	Capacity int

	// HeartbeatPeriod is how often the worker reports liveness and its
	// current in-flight task set.
	HeartbeatPeriod time.Duration

	// Codec decodes PackApply payloads and invokes the named callable.
	Codec *codec.Codec

	// Logger defaults to a discard logger.
	Logger *logrus.Entry

	// Tracer is optional; when set, execute continues the span the
	// executor started for each task.
	Tracer opentracing.Tracer
}

// Validate checks required fields and fills in defaults.
func (cfg *Config) Validate() error {
	var err error
	if cfg.InterchangeAddr == "" && len(cfg.ProbeCandidates) == 0 {
		err = multierror.Append(err, xerrors.New("worker: neither interchange address nor probe candidates specified"))
	}
	if cfg.Codec == nil {
		err = multierror.Append(err, xerrors.New("worker: codec not specified"))
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NullLogger()
	}
	return err
}
