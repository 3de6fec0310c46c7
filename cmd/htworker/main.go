// Command htworker runs a worker.Pool as a standalone process, registering
// whatever callables this build wants to expose and connecting to the
// interchange whose address it is given (or discovering it via
// addressprobe when none is given). Grounded the same way as
// cmd/htinterchange on Chapter11/linksrus/textindexer/main.go's
// urfave/cli + signal-driven shutdown shape.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/observability"
	"github.com/parallex/htexec/worker"
)

var (
	appName = "htworker"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	root := logrus.New()
	root.SetFormatter(new(logrus.JSONFormatter))
	logger = root.WithFields(logrus.Fields{"app": appName, "sha": appSha, "host": host})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "interchange", EnvVar: "HTEXEC_INTERCHANGE_ADDR", Usage: "tcp://host:port of the interchange worker channel; leave empty to use -probe-candidates"},
		cli.StringFlag{Name: "probe-candidates", EnvVar: "HTEXEC_PROBE_CANDIDATES", Usage: "comma-separated host:port candidates to race when -interchange is empty"},
		cli.IntFlag{Name: "capacity", Value: 4, EnvVar: "HTEXEC_CAPACITY"},
		cli.StringFlag{Name: "id", EnvVar: "HTEXEC_WORKER_ID", Usage: "worker identity; a UUID is generated if empty"},
		cli.BoolFlag{Name: "tracing", EnvVar: "HTEXEC_TRACING", Usage: "report per-task spans to Jaeger (configured via standard JAEGER_* env vars)"},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	registry := codec.NewRegistry()
	registerBuiltins(registry)
	cdc := codec.New(registry)

	identity := appCtx.String("id")
	if identity == "" {
		identity = uuid.NewString()
	}

	var candidates []string
	if raw := appCtx.String("probe-candidates"); raw != "" {
		candidates = strings.Split(raw, ",")
	}

	var tracer opentracing.Tracer
	if appCtx.Bool("tracing") {
		tracer = observability.MustGetTracer(appName)
		defer func() {
			if err := observability.TracerPool.Close(); err != nil {
				logger.WithField("err", err).Warn("failed to flush tracer on shutdown")
			}
		}()
	}

	pool, err := worker.New(identity, worker.Config{
		InterchangeAddr: appCtx.String("interchange"),
		ProbeCandidates: candidates,
		Capacity:        appCtx.Int("capacity"),
		HeartbeatPeriod: 5 * time.Second,
		Codec:           cdc,
		Logger:          logger,
		Tracer:          tracer,
	})
	if err != nil {
		return err
	}

	if err := pool.Dial(10 * time.Second); err != nil {
		return err
	}
	defer pool.Close()

	go func() {
		if err := pool.Run(); err != nil {
			logger.WithField("err", err).Error("worker run loop exited")
		}
	}()

	logger.WithField("identity", identity).Info("worker connected")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down due to signal")
	pool.Stop()
	return nil
}

// registerBuiltins registers the callables this deployment knows how to
// run. The execution core itself defines none; a real deployment would
// register its domain-specific functions here before Dial.
func registerBuiltins(registry *codec.Registry) {}
