package executor

import (
	"bufio"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/htexerr"
	"github.com/parallex/htexec/observability"
	"github.com/parallex/htexec/provider"
	"github.com/parallex/htexec/taskid"
	"github.com/parallex/htexec/transport"
	"github.com/parallex/htexec/wire"
)

// Executor is the client-facing handle onto a running interchange: Submit
// enqueues work and returns a Future; a background goroutine drains
// interchange results and resolves the matching Future. When configured
// with a provider.Driver, it also owns block provisioning directly
// (ScaleOut/ScaleIn), tracking submitted blocks here so Status can report
// them to the poller/strategy.
type Executor struct {
	cfg    Config
	dealer *transport.DealerSocket

	interchangeCmd *exec.Cmd
	workerAddr     string

	tasksMu sync.Mutex
	tasks   map[taskid.ID]*Future
	spans   map[taskid.ID]opentracing.Span

	blocksMu sync.Mutex
	blocks   []BlockStatus

	bad atomic.Pointer[htexerr.BadStateError]

	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
}

// BlockStatus is a point-in-time view of one provider block submitted by
// this Executor via ScaleOut.
type BlockStatus struct {
	ID          string
	State       provider.BlockState
	SubmittedAt time.Time
}

// New constructs an Executor. Start must be called before Submit.
func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("executor: invalid config: %w", err)
	}
	return &Executor{
		cfg:    cfg,
		tasks:  make(map[taskid.ID]*Future),
		spans:  make(map[taskid.ID]opentracing.Span),
		stopCh: make(chan struct{}),
	}, nil
}

// Start connects to the interchange's task channel and launches the
// management goroutine that drains results. If Config.InterchangeBinary is
// set, Start first spawns it as a subprocess and waits for its startup
// handshake to learn its task address, failing with
// htexerr.ErrInterchangeStartupTimeout if it doesn't complete in time. Once
// connected, Start submits Config.InitBlocks initial blocks through
// Config.Provider; a submission failure aborts Start with
// htexerr.ErrScalingFailed.
func (e *Executor) Start() error {
	if e.cfg.InterchangeBinary != "" {
		taskAddr, workerAddr, err := e.spawnInterchange()
		if err != nil {
			return err
		}
		e.cfg.InterchangeTaskAddr = taskAddr
		e.workerAddr = workerAddr
	}

	dealer, err := transport.NewDealerSocket("")
	if err != nil {
		return xerrors.Errorf("executor: new dealer socket: %w", err)
	}
	if err := dealer.Connect(e.cfg.InterchangeTaskAddr); err != nil {
		_ = dealer.Close()
		return xerrors.Errorf("executor: connect %s: %w", e.cfg.InterchangeTaskAddr, err)
	}
	e.dealer = dealer

	e.stoppedWg.Add(1)
	go e.manage()

	if e.cfg.InitBlocks > 0 {
		if err := e.ScaleOut(e.cfg.InitBlocks); err != nil {
			return err
		}
	}
	return nil
}

// spawnInterchange launches Config.InterchangeBinary with an inherited pipe
// descriptor it must write "<taskAddr> <workerAddr>" to, and returns both
// addresses once received. This mirrors spec.md §4.5's "bind submitter
// sockets, spawn interchange, wait for port handshake" sequence: Go has no
// shared-memory queue to hand off like Parsl's multiprocessing.Queue, so
// the handoff runs over an os.Pipe inherited as fd 3 via cmd.ExtraFiles.
func (e *Executor) spawnInterchange() (taskAddr, workerAddr string, err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", "", xerrors.Errorf("executor: create handshake pipe: %w", err)
	}
	defer r.Close()

	args := append([]string{"-handshake-fd", "3"}, e.cfg.InterchangeArgs...)
	cmd := exec.Command(e.cfg.InterchangeBinary, args...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = w.Close()
		return "", "", xerrors.Errorf("executor: spawn interchange: %w", err)
	}
	_ = w.Close()
	e.interchangeCmd = cmd

	type handshakeResult struct {
		taskAddr, workerAddr string
		err                  error
	}
	resultCh := make(chan handshakeResult, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		if scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) != 2 {
				resultCh <- handshakeResult{err: xerrors.Errorf("executor: malformed handshake line %q", scanner.Text())}
				return
			}
			resultCh <- handshakeResult{taskAddr: fields[0], workerAddr: fields[1]}
			return
		}
		resultCh <- handshakeResult{err: xerrors.Errorf("executor: handshake pipe closed before reporting an address: %w", scanner.Err())}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			_ = cmd.Process.Kill()
			return "", "", res.err
		}
		return res.taskAddr, res.workerAddr, nil
	case <-time.After(e.cfg.HandshakeTimeout):
		_ = cmd.Process.Kill()
		return "", "", htexerr.ErrInterchangeStartupTimeout
	}
}

// WorkerAddr returns the interchange's worker-facing address, known once
// Start has completed the startup handshake with a spawned interchange.
// Empty when InterchangeBinary was not set.
func (e *Executor) WorkerAddr() string { return e.workerAddr }

// ScaleOut submits n additional blocks through Config.Provider and appends
// them to the tracked block list. A submission failure wraps
// htexerr.ErrScalingFailed and stops further submissions in this call; any
// blocks already submitted are kept.
func (e *Executor) ScaleOut(n int) error {
	if n <= 0 {
		return nil
	}
	if e.cfg.Provider == nil {
		return xerrors.Errorf("executor: scale_out requested but no provider configured: %w", htexerr.ErrScalingFailed)
	}
	for i := 0; i < n; i++ {
		id, err := e.cfg.Provider.Submit()
		if err != nil {
			return xerrors.Errorf("executor: submit block: %s: %w", err, htexerr.ErrScalingFailed)
		}
		e.blocksMu.Lock()
		e.blocks = append(e.blocks, BlockStatus{ID: id, State: provider.StatePending, SubmittedAt: time.Now()})
		e.blocksMu.Unlock()
	}
	return nil
}

// ScaleIn cancels the n oldest non-terminal blocks by SubmittedAt (FIFO
// eviction, per spec.md §4.5). Cancelled blocks stay in the tracked list:
// Status's refresh copies the provider's state onto them, and no block is
// ever removed from the list, whatever its state. In-flight tasks on a
// cancelled block are not drained and will later surface as
// WorkerLostError once the interchange notices the worker vanished.
func (e *Executor) ScaleIn(n int) error {
	if n <= 0 {
		return nil
	}
	if e.cfg.Provider == nil {
		return xerrors.Errorf("executor: scale_in requested but no provider configured: %w", htexerr.ErrScalingFailed)
	}

	e.blocksMu.Lock()
	ordered := make([]BlockStatus, len(e.blocks))
	copy(ordered, e.blocks)
	e.blocksMu.Unlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt) })

	toCancel := make([]string, 0, n)
	for _, b := range ordered {
		if len(toCancel) >= n {
			break
		}
		if b.State == provider.StateFailed || b.State == provider.StateCancelled {
			continue
		}
		toCancel = append(toCancel, b.ID)
	}

	var result error
	for _, id := range toCancel {
		if err := e.cfg.Provider.Cancel(id); err != nil {
			result = multierror.Append(result, xerrors.Errorf("executor: cancel block %s: %w", id, err))
		}
	}
	return result
}

// refreshBlocks reconciles tracked block state against Config.Provider's
// current view, preserving the SubmittedAt recorded at ScaleOut time since
// the provider itself has no notion of submission order.
func (e *Executor) refreshBlocks() {
	if e.cfg.Provider == nil {
		return
	}
	statuses := e.cfg.Provider.Status()
	byID := make(map[string]provider.BlockState, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st.State
	}

	e.blocksMu.Lock()
	for i := range e.blocks {
		if st, ok := byID[e.blocks[i].ID]; ok {
			e.blocks[i].State = st
		}
	}
	e.blocksMu.Unlock()
}

// Submit packs funcName(args, kwargs) via Config.Codec, dispatches it to
// the interchange, and returns a Future tracking its completion. Submit
// fails immediately if the executor has been marked bad (see
// SetBadStateAndFailAll).
func (e *Executor) Submit(funcName string, args []interface{}, kwargs map[string]interface{}) (*Future, error) {
	if bad := e.bad.Load(); bad != nil {
		return nil, bad
	}

	payload, err := e.cfg.Codec.PackApply(funcName, args, kwargs)
	if err != nil {
		return nil, xerrors.Errorf("executor: pack_apply: %w", err)
	}

	id := taskid.New()
	future := newFuture(id)

	task := wire.Task{ID: id, Payload: payload}
	if e.cfg.Tracer != nil {
		span, carrier := observability.StartTaskSpan(e.cfg.Tracer, "htexec.task", nil)
		task.TraceCtx = carrier
		e.tasksMu.Lock()
		e.spans[id] = span
		e.tasksMu.Unlock()
	}

	e.tasksMu.Lock()
	e.tasks[id] = future
	e.tasksMu.Unlock()

	data, err := wire.Encode(task)
	if err != nil {
		e.removeTask(id)
		return nil, xerrors.Errorf("executor: encode task: %w", err)
	}
	if err := e.dealer.Send([][]byte{data}); err != nil {
		e.removeTask(id)
		return nil, xerrors.Errorf("executor: dispatch task: %w", err)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.TasksDispatched.Inc()
	}
	return future, nil
}

func (e *Executor) removeTask(id taskid.ID) {
	e.tasksMu.Lock()
	delete(e.tasks, id)
	delete(e.spans, id)
	e.tasksMu.Unlock()
}

// manage is the sole reader of the interchange's task-channel DEALER
// socket; it demultiplexes incoming Result envelopes to the matching
// Future. An envelope that doesn't decode to a Result is a structural
// protocol violation (htexerr.ErrBadMessage), not something to log and
// skip: per spec.md §4.5 it is fatal and fails every outstanding and
// future Submit.
func (e *Executor) manage() {
	defer e.stoppedWg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		frames, err := e.dealer.Recv(200 * time.Millisecond)
		if err != nil {
			if err != transport.ErrTimeout {
				e.cfg.Logger.WithError(err).Warn("executor: recv error")
			}
			continue
		}
		if len(frames) == 0 {
			continue
		}
		env, err := wire.Decode(frames[0])
		if err != nil {
			e.cfg.Logger.WithError(err).Error("executor: malformed envelope on task channel")
			e.SetBadStateAndFailAll(htexerr.ErrBadMessage)
			e.stop()
			return
		}
		res, ok := env.(wire.Result)
		if !ok {
			e.cfg.Logger.Errorf("executor: unrecognized envelope on task channel: %T", env)
			e.SetBadStateAndFailAll(htexerr.ErrBadMessage)
			e.stop()
			return
		}

		e.handleResult(res)
	}
}

func (e *Executor) handleResult(res wire.Result) {
	if res.Kind == wire.ResultInfo {
		return
	}
	e.tasksMu.Lock()
	future, ok := e.tasks[res.ID]
	delete(e.tasks, res.ID)
	span := e.spans[res.ID]
	delete(e.spans, res.ID)
	e.tasksMu.Unlock()
	if !ok {
		return
	}
	if span != nil {
		if res.Kind == wire.ResultErr {
			span.SetTag("error", true)
		}
		span.Finish()
	}

	switch res.Kind {
	case wire.ResultErr:
		val, derr := e.cfg.Codec.Deserialize(res.Payload)
		if derr != nil {
			future.resolve(res, nil, xerrors.Errorf("executor: deserialize task error: %s: %w", derr, htexerr.ErrDeserialization))
			return
		}
		if taskErr, ok := val.(error); ok {
			future.resolve(res, nil, taskErr)
			return
		}
		future.resolve(res, nil, xerrors.Errorf("executor: task failed: %v", val))
	default:
		if len(res.Payload) == 0 {
			future.resolve(res, nil, nil)
			return
		}
		val, derr := e.cfg.Codec.Deserialize(res.Payload)
		if derr != nil {
			future.resolve(res, nil, xerrors.Errorf("executor: deserialize task result: %s: %w", derr, htexerr.ErrDeserialization))
			return
		}
		future.resolve(res, val, nil)
	}
}

// stop closes stopCh if it isn't already closed, signaling manage to exit.
func (e *Executor) stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// Status summarizes the executor's outstanding tasks and known blocks.
type Status struct {
	PendingTasks int
	Blocks       []BlockStatus
	Bad          error
}

// Status returns a point-in-time snapshot, refreshing tracked block state
// from Config.Provider first.
func (e *Executor) Status() Status {
	e.refreshBlocks()

	e.tasksMu.Lock()
	pending := len(e.tasks)
	e.tasksMu.Unlock()

	e.blocksMu.Lock()
	blocks := make([]BlockStatus, len(e.blocks))
	copy(blocks, e.blocks)
	e.blocksMu.Unlock()

	var bad error
	if b := e.bad.Load(); b != nil {
		bad = b
	}
	return Status{PendingTasks: pending, Blocks: blocks, Bad: bad}
}

// SetBadStateAndFailAll marks the executor unusable and fails every
// outstanding and future Submit with reason, mirroring Parsl's bad_state
// behavior when the interchange is unreachable or all blocks have failed.
// Once set, the bad state cannot be cleared short of constructing a new
// Executor.
func (e *Executor) SetBadStateAndFailAll(reason error) {
	badErr := &htexerr.BadStateError{Reason: reason}
	if !e.bad.CompareAndSwap(nil, badErr) {
		return
	}

	e.tasksMu.Lock()
	pending := make([]*Future, 0, len(e.tasks))
	for _, f := range e.tasks {
		pending = append(pending, f)
	}
	for _, span := range e.spans {
		span.SetTag("error", true)
		span.Finish()
	}
	e.tasks = make(map[taskid.ID]*Future)
	e.spans = make(map[taskid.ID]opentracing.Span)
	e.tasksMu.Unlock()

	for _, f := range pending {
		f.cancel(badErr)
	}
}

// Shutdown stops the management goroutine, fails any outstanding futures
// with htexerr.ErrShutdown, closes the interchange connection, and if this
// Executor spawned the interchange itself, terminates that subprocess.
func (e *Executor) Shutdown() error {
	e.stop()
	e.stoppedWg.Wait()

	e.tasksMu.Lock()
	pending := make([]*Future, 0, len(e.tasks))
	for _, f := range e.tasks {
		pending = append(pending, f)
	}
	for _, span := range e.spans {
		span.Finish()
	}
	e.tasks = make(map[taskid.ID]*Future)
	e.spans = make(map[taskid.ID]opentracing.Span)
	e.tasksMu.Unlock()
	for _, f := range pending {
		f.cancel(htexerr.ErrShutdown)
	}

	var result error
	if e.dealer != nil {
		if err := e.dealer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.interchangeCmd != nil && e.interchangeCmd.Process != nil {
		_ = e.interchangeCmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { _ = e.interchangeCmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = e.interchangeCmd.Process.Kill()
			<-done
		}
	}
	return result
}
