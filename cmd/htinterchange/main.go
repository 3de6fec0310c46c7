// Command htinterchange runs the routing hub described by package
// interchange as a standalone process. It is normally spawned by
// cmd/htexecutor (spec.md §4.5's "executor spawns interchange"), which
// passes -handshake-fd so this process can report its task and worker addresses back
// over an inherited pipe; it can also be run standalone against a fixed
// -interface for manual testing. Its urfave/cli flag layout and
// signal-driven shutdown are grounded in
// Chapter11/linksrus/textindexer/main.go.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/codec"
	"github.com/parallex/htexec/interchange"
	"github.com/parallex/htexec/metrics"
)

var (
	appName = "htinterchange"
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
		cli.StringFlag{Name: "interface", Value: "0.0.0.0", EnvVar: "HTEXEC_INTERFACE"},
		cli.IntFlag{Name: "handshake-fd", Value: -1, Usage: "inherited file descriptor to report the task and worker addresses on, for a spawning executor"},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	cdc := codec.New(codec.NewRegistry())

	ic, err := interchange.New(interchange.Config{
		InterfaceAddr: appCtx.String("interface"),
		Codec:         cdc,
		Logger:        logger,
		Metrics:       metrics.NewRegistry("htexec_interchange"),
	})
	if err != nil {
		return err
	}

	if fd := appCtx.Int("handshake-fd"); fd >= 0 {
		taskAddr := fmt.Sprintf("tcp://127.0.0.1:%d", ic.TaskPort())
		workerAddr := fmt.Sprintf("tcp://127.0.0.1:%d", ic.WorkerPort())
		if err := reportHandshake(fd, taskAddr+" "+workerAddr); err != nil {
			return err
		}
	}

	go ic.Run()

	logger.WithFields(logrus.Fields{
		"task_port":   ic.TaskPort(),
		"worker_port": ic.WorkerPort(),
	}).Info("interchange listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down due to signal")

	return ic.Shutdown()
}

// reportHandshake writes "<taskAddr> <workerAddr>", newline-terminated, to
// the inherited pipe descriptor fd and closes it, completing the spec.md
// §4.5 startup handshake: the spawning executor blocks on reading this
// line (or timing out after HandshakeTimeout) before it connects its own
// DEALER socket and, in turn, exposes workerAddr so its provider.Driver can
// launch workers pointed at the right worker channel.
func reportHandshake(fd int, line string) error {
	f := os.NewFile(uintptr(fd), "handshake")
	if f == nil {
		return xerrors.Errorf("interchange: invalid handshake fd %d", fd)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return xerrors.Errorf("interchange: write handshake: %w", err)
	}
	return nil
}
