// Package local implements a provider.Driver that runs each block as a
// local subprocess, grounded in ch04/pinger/pinger.go's os/exec.Command
// usage. It exists primarily as a reference implementation for running the
// test suite and single-host deployments without a real batch scheduler or
// cloud API.
package local

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/provider"
)

// Config configures a Driver.
type Config struct {
	// Command and Args launch one worker.Pool process, e.g.
	// Command: "htworker", Args: []string{"-interchange", addr}.
	Command string
	Args    []string

	// ArgsFunc, if set, is called fresh on every Submit instead of using
	// the static Args, for callers that only learn the launch arguments
	// (e.g. the interchange's worker address, discovered via the startup
	// handshake) after the Driver has already been constructed.
	ArgsFunc func() []string
}

func (cfg *Config) args() []string {
	if cfg.ArgsFunc != nil {
		return cfg.ArgsFunc()
	}
	return cfg.Args
}

type block struct {
	id      string
	cmd     *exec.Cmd
	state   provider.BlockState
	lastErr error
}

// Driver launches/monitors/kills local OS processes as blocks.
type Driver struct {
	cfg Config

	mu     sync.Mutex
	blocks []*block
}

// New constructs a local Driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Label implements provider.Driver.
func (d *Driver) Label() string { return "local" }

// StatusInterval implements provider.PollingStatusDriver.
func (d *Driver) StatusInterval() time.Duration { return time.Second }

// Submit implements provider.Driver.
func (d *Driver) Submit() (string, error) {
	cmd := exec.Command(d.cfg.Command, d.cfg.args()...)
	b := &block{id: uuid.NewString(), cmd: cmd, state: provider.StatePending}

	d.mu.Lock()
	d.blocks = append(d.blocks, b)
	d.mu.Unlock()

	if err := cmd.Start(); err != nil {
		d.mu.Lock()
		b.state = provider.StateFailed
		b.lastErr = err
		d.mu.Unlock()
		return "", xerrors.Errorf("local: start block: %w", err)
	}

	d.mu.Lock()
	b.state = provider.StateRunning
	d.mu.Unlock()

	go d.wait(b)

	return b.id, nil
}

func (d *Driver) wait(b *block) {
	err := b.cmd.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if b.state == provider.StateCancelled {
		return
	}
	if err != nil {
		b.state = provider.StateFailed
		b.lastErr = err
	} else {
		b.state = provider.StateCancelled
	}
}

// Cancel implements provider.Driver by sending SIGTERM to the block's
// process; the signal goes to that process only, not to a process group.
func (d *Driver) Cancel(id string) error {
	d.mu.Lock()
	var target *block
	for _, b := range d.blocks {
		if b.id == id {
			target = b
			break
		}
	}
	d.mu.Unlock()

	if target == nil {
		return xerrors.Errorf("local: unknown block %q", id)
	}

	d.mu.Lock()
	if target.state != provider.StateRunning && target.state != provider.StatePending {
		d.mu.Unlock()
		return nil
	}
	target.state = provider.StateCancelled
	d.mu.Unlock()

	if target.cmd.Process == nil {
		return nil
	}
	if err := target.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return xerrors.Errorf("local: signal block %q: %w", id, err)
	}
	return nil
}

// Status implements provider.Driver. A RUNNING block is double-checked
// with the signal(0) liveness probe to catch the race where the process
// has already exited but the wait goroutine has not yet updated state.
func (d *Driver) Status() []provider.BlockStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]provider.BlockStatus, len(d.blocks))
	for i, b := range d.blocks {
		if b.state == provider.StateRunning && !isAlive(b.cmd) {
			b.state = provider.StateFailed
		}
		out[i] = provider.BlockStatus{ID: b.id, State: b.state, SubmitErr: b.lastErr}
	}
	return out
}

// isAlive reports whether the OS process backing a block is still running,
// using the conventional signal(0) liveness probe (no signal is actually
// delivered; only the permission/existence check is performed).
func isAlive(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}
