// Package interchange implements the routing hub that sits between an
// Executor and a pool of workers: it queues submitted tasks, tracks worker
// liveness and capacity, and dispatches each task to exactly one worker
// (spec.md §4.3). Its shape is grounded in
// Chapter12/dbspgraph/master.go and worker_pool.go's single-authority
// connection-registry pattern, re-expressed over the transport package's
// ZeroMQ sockets instead of gRPC streams.
package interchange

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/metrics"
	"github.com/parallex/htexec/observability"
)

// Config collects everything needed to construct an Interchange.
type Config struct {
	// InterfaceAddr is the address the worker- and task-facing ROUTER
	// sockets bind to, e.g. "0.0.0.0".
	InterfaceAddr string

	// WorkerPortRange and TaskPortRange restrict the ports bound for the
	// worker- and task-facing sockets respectively. A [0,0] range asks the
	// OS for an ephemeral port.
	WorkerPortRange [2]int
	TaskPortRange   [2]int

	// HeartbeatPeriod is how often a registered worker is expected to send
	// a Heartbeat envelope.
	HeartbeatPeriod time.Duration

	// HeartbeatThreshold is how long a worker may go without a heartbeat
	// before it is evicted. It is marked stale earlier, once one
	// HeartbeatPeriod has passed without a heartbeat.
	HeartbeatThreshold time.Duration

	// Codec serializes/deserializes task payloads. Required.
	Codec *codec.Codec

	// Logger defaults to a discard logger, matching
	// Chapter12/dbspgraph/config.go's MasterConfig.Validate.
	Logger *logrus.Entry

	// Metrics is optional; when nil, dispatch/liveness events are not
	// recorded.
	Metrics *metrics.Registry
}

// Validate checks required fields and fills in defaults, aggregating every
// violation via multierror exactly as MasterConfig.Validate does.
func (cfg *Config) Validate() error {
	var err error
	if cfg.InterfaceAddr == "" {
		err = multierror.Append(err, xerrors.New("interchange: interface address not specified"))
	}
	if cfg.Codec == nil {
		err = multierror.Append(err, xerrors.New("interchange: codec not specified"))
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 5 * time.Second
	}
	if cfg.HeartbeatThreshold <= 0 {
		cfg.HeartbeatThreshold = 3 * cfg.HeartbeatPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NullLogger()
	}
	return err
}
