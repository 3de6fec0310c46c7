// Command htexecutor is the process-model root described by spec.md §4.5:
// it owns the executor's task-submitting DEALER socket, spawns the
// interchange as a subprocess and waits out its startup handshake,
// provisions init_blocks through a provider.Driver, and drives the
// elasticity controller (package poller) against that same Provider. Its
// urfave/cli flag layout and signal-driven shutdown are grounded in
// Chapter11/linksrus/textindexer/main.go, the same pattern cmd/htinterchange
// and cmd/htworker follow.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/executor"
	"github.com/parallex/htexec/metrics"
	"github.com/parallex/htexec/poller"
	"github.com/parallex/htexec/provider/local"
)

var (
	appName = "htexecutor"
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
		cli.StringFlag{Name: "interchange-binary", Value: "htinterchange", EnvVar: "HTEXEC_INTERCHANGE_BINARY"},
		cli.StringFlag{Name: "interface", Value: "0.0.0.0", EnvVar: "HTEXEC_INTERFACE"},
		cli.StringFlag{Name: "worker-command", Value: "htworker", EnvVar: "HTEXEC_WORKER_COMMAND"},
		cli.IntFlag{Name: "init-blocks", Value: 1, EnvVar: "HTEXEC_INIT_BLOCKS"},
		cli.IntFlag{Name: "min-blocks", Value: 0, EnvVar: "HTEXEC_MIN_BLOCKS"},
		cli.IntFlag{Name: "max-blocks", Value: 4, EnvVar: "HTEXEC_MAX_BLOCKS"},
		cli.IntFlag{Name: "tasks-per-block", Value: 1, EnvVar: "HTEXEC_TASKS_PER_BLOCK"},
		cli.Float64Flag{Name: "parallelism", Value: 1.0, EnvVar: "HTEXEC_PARALLELISM", Usage: "fraction in [0,1] of pending tasks to convert into blocks immediately"},
		cli.StringFlag{Name: "status-addr", Value: ":8089", EnvVar: "HTEXEC_STATUS_ADDR"},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	cdc := codec.New(codec.NewRegistry())

	var ex *executor.Executor
	driver := local.New(local.Config{
		Command: appCtx.String("worker-command"),
		ArgsFunc: func() []string {
			return []string{"-interchange", ex.WorkerAddr()}
		},
	})

	ex, err := executor.New(executor.Config{
		InterchangeBinary: appCtx.String("interchange-binary"),
		InterchangeArgs:   []string{"-interface", appCtx.String("interface")},
		Provider:          driver,
		InitBlocks:        appCtx.Int("init-blocks"),
		Codec:             cdc,
		Logger:            logger,
		Metrics:           metrics.NewRegistry("htexec_executor"),
	})
	if err != nil {
		return err
	}

	if err := ex.Start(); err != nil {
		return err
	}
	defer ex.Shutdown()

	logger.WithField("worker_addr", ex.WorkerAddr()).Info("executor started, interchange handshake complete")

	jobErrHandler := poller.NewJobErrorHandler(func(reason error) {
		logger.WithError(reason).Error("executor: no runnable blocks remain with tasks pending")
		ex.SetBadStateAndFailAll(reason)
	})

	pollr, err := poller.New(poller.Config{
		Strategy: poller.NewParallelismStrategy(poller.ParallelismConfig{
			MinBlocks:        appCtx.Int("min-blocks"),
			MaxBlocks:        appCtx.Int("max-blocks"),
			Parallelism:      appCtx.Float64("parallelism"),
			IdleScaleInDelay: 2 * time.Minute,
		}),
		Sample: func() poller.Sample {
			st := ex.Status()
			return poller.Sample{
				PendingTasks:  st.PendingTasks,
				TasksPerBlock: appCtx.Int("tasks-per-block"),
			}
		},
		Scale: func(desired int) error {
			running := len(ex.Status().Blocks)
			switch {
			case desired > running:
				return ex.ScaleOut(desired - running)
			case desired < running:
				return ex.ScaleIn(running - desired)
			default:
				return nil
			}
		},
		JobErrorHandler: jobErrHandler,
		Blocks: func() []poller.BlockState {
			blocks := ex.Status().Blocks
			states := make([]poller.BlockState, len(blocks))
			for i, b := range blocks {
				states[i] = poller.BlockState(b.State)
			}
			return states
		},
		ListenAddr: appCtx.String("status-addr"),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	pollr.SetRunningBlocks(len(ex.Status().Blocks))

	go func() { _ = pollr.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down due to signal")

	pollr.Stop()
	return nil
}
