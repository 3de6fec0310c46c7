package interchange

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/parallex/htexec/htexerr"
	"github.com/parallex/htexec/transport"
	"github.com/parallex/htexec/wire"
)

// pollTimeout bounds each iteration of the cooperative main loop so that
// liveness sweeps and queue drains happen even when no socket is readable.
const pollTimeout = 200 * time.Millisecond

// Interchange is the single-threaded routing hub described in package
// interchange's doc comment. All mutable state outside workerRegistry is
// confined to the goroutine running Run; callers interact with it only
// through Results, Status and Shutdown, which are all safe for concurrent
// use. Tasks arrive over the bound task-facing ROUTER socket rather than a
// direct method call.
type Interchange struct {
	cfg Config

	taskRouter   *transport.RouterSocket
	workerRouter *transport.RouterSocket

	taskPort   int
	workerPort int

	registry *workerRegistry

	pending *list.List // of wire.Task, FIFO

	mu          sync.Mutex
	taskClient  []byte // identity of the connected executor DEALER
	resultsOut  chan wire.Result
	shutdownCh  chan struct{}
	shutdownErr error
	stopped     chan struct{}
}

// New constructs an Interchange, binding its task- and worker-facing
// sockets, but does not start the main loop; call Run for that.
func New(cfg Config) (*Interchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("interchange: invalid config: %w", err)
	}

	taskRouter, err := transport.NewRouterSocket()
	if err != nil {
		return nil, xerrors.Errorf("interchange: task router: %w", err)
	}
	taskPort, err := taskRouter.Bind(cfg.InterfaceAddr, cfg.TaskPortRange[0], cfg.TaskPortRange[1])
	if err != nil {
		_ = taskRouter.Close()
		return nil, xerrors.Errorf("interchange: bind task router: %w", err)
	}

	workerRouter, err := transport.NewRouterSocket()
	if err != nil {
		_ = taskRouter.Close()
		return nil, xerrors.Errorf("interchange: worker router: %w", err)
	}
	workerPort, err := workerRouter.Bind(cfg.InterfaceAddr, cfg.WorkerPortRange[0], cfg.WorkerPortRange[1])
	if err != nil {
		_ = taskRouter.Close()
		_ = workerRouter.Close()
		return nil, xerrors.Errorf("interchange: bind worker router: %w", err)
	}

	return &Interchange{
		cfg:          cfg,
		taskRouter:   taskRouter,
		workerRouter: workerRouter,
		taskPort:     taskPort,
		workerPort:   workerPort,
		registry:     newWorkerRegistry(),
		pending:      list.New(),
		resultsOut:   make(chan wire.Result, 256),
		shutdownCh:   make(chan struct{}),
		stopped:      make(chan struct{}),
	}, nil
}

// TaskPort returns the bound port the owning Executor's DEALER connects to.
func (ic *Interchange) TaskPort() int { return ic.taskPort }

// WorkerPort returns the bound port workers connect their DEALER sockets to.
func (ic *Interchange) WorkerPort() int { return ic.workerPort }

// Results returns a channel that receives a copy of every result the
// interchange forwards to the executor over the task socket, for
// in-process observers. A result is not copied when the channel's buffer
// is full.
func (ic *Interchange) Results() <-chan wire.Result { return ic.resultsOut }

// Status is a point-in-time snapshot returned by the interchange for the
// status poller / strategy to consume.
type Status struct {
	RegisteredWorkers int
	FreeCapacity      int
	PendingTasks      int
}

// Status returns a snapshot of queue depth and worker capacity.
func (ic *Interchange) Status() Status {
	workers, free := ic.registry.Count()
	ic.mu.Lock()
	pending := ic.pending.Len()
	ic.mu.Unlock()
	return Status{RegisteredWorkers: workers, FreeCapacity: free, PendingTasks: pending}
}

// Shutdown stops the main loop and releases both sockets. Safe to call
// once; a second call is a no-op.
func (ic *Interchange) Shutdown() error {
	select {
	case <-ic.shutdownCh:
	default:
		close(ic.shutdownCh)
	}
	<-ic.stopped
	_ = ic.taskRouter.Close()
	_ = ic.workerRouter.Close()
	return ic.shutdownErr
}

// Run executes the cooperative main loop: it polls both ROUTER sockets,
// dispatches queued tasks to the least-loaded worker with free capacity,
// and periodically sweeps for missed heartbeats. It blocks until Shutdown
// is called.
func (ic *Interchange) Run() {
	defer close(ic.stopped)

	lastSweep := time.Now()
	for {
		select {
		case <-ic.shutdownCh:
			return
		default:
		}

		ic.pollOnce()

		now := time.Now()
		if now.Sub(lastSweep) >= ic.cfg.HeartbeatPeriod {
			ic.sweepLiveness(now)
			lastSweep = now
		}

		ic.dispatchPending()
	}
}

func (ic *Interchange) pollOnce() {
	if identity, frames, err := ic.taskRouter.RecvIdentified(pollTimeout / 2); err == nil {
		ic.handleTaskFrame(identity, frames)
	}
	if identity, frames, err := ic.workerRouter.RecvIdentified(pollTimeout / 2); err == nil {
		ic.handleWorkerFrame(identity, frames)
	}
}

func (ic *Interchange) handleTaskFrame(identity []byte, frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	env, err := wire.Decode(frames[0])
	if err != nil {
		ic.cfg.Logger.WithError(err).Warn("interchange: malformed task-channel envelope")
		return
	}
	switch t := env.(type) {
	case wire.Task:
		ic.mu.Lock()
		ic.taskClient = identity
		ic.pending.PushBack(t)
		ic.mu.Unlock()
		if ic.cfg.Metrics != nil {
			ic.cfg.Metrics.PendingQueueDepth.Inc()
		}
	case wire.Shutdown:
		go func() { _ = ic.Shutdown() }()
	default:
		ic.cfg.Logger.Warnf("interchange: unexpected envelope on task channel: %T", env)
	}
}

func (ic *Interchange) handleWorkerFrame(identity []byte, frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	env, err := wire.Decode(frames[0])
	if err != nil {
		ic.cfg.Logger.WithError(err).Warn("interchange: malformed worker-channel envelope")
		return
	}

	workerID := string(identity)
	switch e := env.(type) {
	case wire.Registration:
		ic.registry.Register(workerID, e.Capacity, time.Now())
		if ic.cfg.Metrics != nil {
			workers, _ := ic.registry.Count()
			ic.cfg.Metrics.WorkersRegistered.Set(float64(workers))
		}
		ic.cfg.Logger.WithField("worker", workerID).Info("interchange: worker registered")
	case wire.Heartbeat:
		ic.registry.Heartbeat(workerID, e.ActiveTaskIDs, time.Now())
	case wire.Result:
		if e.Kind != wire.ResultInfo {
			ic.registry.RecordCompletion(workerID, e.ID)
		}
		ic.emitResult(e)
	default:
		ic.cfg.Logger.Warnf("interchange: unexpected envelope on worker channel: %T", env)
	}
}

func (ic *Interchange) emitResult(res wire.Result) {
	if ic.cfg.Metrics != nil {
		if res.Kind == wire.ResultOk {
			ic.cfg.Metrics.TasksCompleted.Inc()
		} else if res.Kind == wire.ResultErr {
			ic.cfg.Metrics.TasksFailed.Inc()
		}
	}
	select {
	case ic.resultsOut <- res:
	default:
	}

	ic.mu.Lock()
	client := ic.taskClient
	ic.mu.Unlock()
	if client == nil {
		return
	}
	data, err := wire.Encode(res)
	if err != nil {
		ic.cfg.Logger.WithError(err).Error("interchange: failed to encode result for executor")
		return
	}
	if err := ic.taskRouter.SendTo(client, [][]byte{data}); err != nil {
		ic.cfg.Logger.WithError(err).Error("interchange: failed to forward result to executor")
	}
}

func (ic *Interchange) dispatchPending() {
	for {
		ic.mu.Lock()
		front := ic.pending.Front()
		if front == nil {
			ic.mu.Unlock()
			return
		}
		task := front.Value.(wire.Task)
		ic.mu.Unlock()

		workerID, ok := ic.registry.LeastLoaded()
		if !ok {
			return
		}

		data, err := wire.Encode(task)
		if err != nil {
			ic.cfg.Logger.WithError(err).Error("interchange: failed to encode task, dropping")
			ic.popPending()
			continue
		}
		if err := ic.workerRouter.SendTo([]byte(workerID), [][]byte{data}); err != nil {
			ic.cfg.Logger.WithError(err).WithField("worker", workerID).Error("interchange: dispatch failed")
			return
		}
		ic.registry.RecordDispatch(workerID, task.ID)
		ic.popPending()
		if ic.cfg.Metrics != nil {
			ic.cfg.Metrics.TasksDispatched.Inc()
			ic.cfg.Metrics.PendingQueueDepth.Dec()
		}
	}
}

func (ic *Interchange) popPending() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if front := ic.pending.Front(); front != nil {
		ic.pending.Remove(front)
	}
}

func (ic *Interchange) sweepLiveness(now time.Time) {
	newlyStale, evicted := ic.registry.SweepStale(now, ic.cfg.HeartbeatPeriod, ic.cfg.HeartbeatThreshold)
	for _, id := range newlyStale {
		ic.cfg.Logger.WithField("worker", id).Warn("interchange: worker missed heartbeat period, marked stale")
	}
	for id, lostTasks := range evicted {
		ic.cfg.Logger.WithField("worker", id).Warn("interchange: worker evicted after prolonged silence")
		if ic.cfg.Metrics != nil {
			ic.cfg.Metrics.WorkersEvicted.Inc()
		}
		for _, tid := range lostTasks {
			ic.emitResult(wire.Result{
				Kind:    wire.ResultErr,
				ID:      tid,
				Payload: ic.encodeLostError(id),
			})
		}
	}
	if len(evicted) > 0 && ic.cfg.Metrics != nil {
		workers, _ := ic.registry.Count()
		ic.cfg.Metrics.WorkersRegistered.Set(float64(workers))
	}
}

// encodeLostError serializes a WorkerLostError through Config.Codec, the
// same way a worker's own task failures are serialized, so the executor's
// management thread can Deserialize every Err payload uniformly. A
// serialization failure here (which would mean the codec itself is broken)
// falls back to the bare error string rather than dropping the result.
func (ic *Interchange) encodeLostError(workerID string) []byte {
	werr := &htexerr.WorkerLostError{WorkerID: workerID}
	data, err := ic.cfg.Codec.Serialize(werr)
	if err != nil {
		ic.cfg.Logger.WithError(err).Error("interchange: failed to serialize WorkerLostError payload")
		return []byte(werr.Error())
	}
	return data
}
