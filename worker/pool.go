package worker

import (
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/parallex/htexec/addressprobe"
	"github.com/parallex/htexec/htexerr"
	"github.com/parallex/htexec/observability"
	"github.com/parallex/htexec/taskid"
	"github.com/parallex/htexec/transport"
	"github.com/parallex/htexec/wire"
)

// Pool is a single worker process: it connects to an interchange, announces
// its identity and capacity, and executes tasks pulled off the wire
// concurrently up to Capacity, exactly mirroring Worker.Dial/RunJob/Close's
// connect-then-serve lifecycle.
type Pool struct {
	cfg      Config
	identity string

	dealer *transport.DealerSocket
	slots  *slotPool

	mu         sync.Mutex
	inFlight   map[taskid.ID]struct{}
	stopCh     chan struct{}
	stoppedWg  sync.WaitGroup
	resultsMu  sync.Mutex
	resultsOut chan wire.Result
}

// New constructs a Pool. Dial must be called before Run.
func New(identity string, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("worker: invalid config: %w", err)
	}
	return &Pool{
		cfg:        cfg,
		identity:   identity,
		slots:      newSlotPool(cfg.Capacity),
		inFlight:   make(map[taskid.ID]struct{}),
		stopCh:     make(chan struct{}),
		resultsOut: make(chan wire.Result, cfg.Capacity),
	}, nil
}

// Dial resolves the interchange address (directly or via address-probe
// discovery) and connects the DEALER socket.
func (p *Pool) Dial(timeout time.Duration) error {
	addr := p.cfg.InterchangeAddr
	if addr == "" {
		found, err := addressprobe.Probe(p.cfg.ProbeCandidates, timeout)
		if err != nil {
			return xerrors.Errorf("worker: address probe failed: %w", err)
		}
		addr = found
	}

	dealer, err := transport.NewDealerSocket(p.identity)
	if err != nil {
		return xerrors.Errorf("worker: new dealer socket: %w", err)
	}
	if err := dealer.Connect(addr); err != nil {
		_ = dealer.Close()
		return xerrors.Errorf("worker: connect %s: %w", addr, err)
	}
	p.dealer = dealer

	reg := wire.Registration{WorkerID: p.identity, Capacity: p.cfg.Capacity}
	data, err := wire.Encode(reg)
	if err != nil {
		return xerrors.Errorf("worker: encode registration: %w", err)
	}
	if err := p.dealer.Send([][]byte{data}); err != nil {
		return xerrors.Errorf("worker: send registration: %w", err)
	}
	return nil
}

// Close disconnects from the interchange.
func (p *Pool) Close() error {
	if p.dealer != nil {
		return p.dealer.Close()
	}
	return nil
}

// Stop signals Run to exit and blocks until it has.
func (p *Pool) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.stoppedWg.Wait()
}

// Run drives the worker's control loop: it alternates between polling for
// incoming tasks/shutdown and sending periodic heartbeats, executing each
// received task in its own goroutine bounded by the slot pool.
func (p *Pool) Run() error {
	p.stoppedWg.Add(1)
	defer p.stoppedWg.Done()

	lastHeartbeat := time.Now()
	for {
		select {
		case <-p.stopCh:
			return nil
		default:
		}

		frames, err := p.dealer.Recv(100 * time.Millisecond)
		if err == nil {
			p.handleFrames(frames)
		} else if err != transport.ErrTimeout {
			p.cfg.Logger.WithError(err).Warn("worker: recv error")
		}

		if time.Since(lastHeartbeat) >= p.cfg.HeartbeatPeriod {
			if err := p.sendHeartbeat(); err != nil {
				p.cfg.Logger.WithError(err).Warn("worker: heartbeat send failed")
			}
			lastHeartbeat = time.Now()
		}
	}
}

func (p *Pool) handleFrames(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	env, err := wire.Decode(frames[0])
	if err != nil {
		p.cfg.Logger.WithError(err).Warn("worker: malformed envelope")
		return
	}
	switch t := env.(type) {
	case wire.Task:
		p.dispatchTask(t)
	case wire.Shutdown:
		go p.Stop()
	default:
		p.cfg.Logger.Warnf("worker: unexpected envelope: %T", env)
	}
}

func (p *Pool) dispatchTask(t wire.Task) {
	s := p.slots.Get()

	p.mu.Lock()
	p.inFlight[t.ID] = struct{}{}
	p.mu.Unlock()

	go func() {
		defer p.slots.Put(s)
		res := p.execute(t)

		p.mu.Lock()
		delete(p.inFlight, t.ID)
		p.mu.Unlock()

		select {
		case p.resultsOut <- res:
		default:
		}

		data, err := wire.Encode(res)
		if err != nil {
			p.cfg.Logger.WithError(err).Error("worker: failed to encode result")
			return
		}
		if err := p.dealer.Send([][]byte{data}); err != nil {
			p.cfg.Logger.WithError(err).Error("worker: failed to send result")
		}
	}()
}

func (p *Pool) execute(t wire.Task) wire.Result {
	started := time.Now().UTC()

	if p.cfg.Tracer != nil {
		span, _ := observability.StartTaskSpan(p.cfg.Tracer, "htexec.task.execute", t.TraceCtx)
		defer span.Finish()
	}

	funcName, args, kwargs, err := p.cfg.Codec.UnpackApply(t.Payload)
	if err != nil {
		return p.errorResult(t.ID, started, err)
	}
	_ = kwargs // named-callable registry dispatch is positional-only; kwargs is preserved for future use

	results, err := p.cfg.Codec.Invoke(funcName, args)
	if err != nil {
		return p.errorResult(t.ID, started, err)
	}

	var payload []byte
	if len(results) > 0 {
		encoded, err := p.cfg.Codec.Serialize(results[0])
		if err != nil {
			return p.errorResult(t.ID, started, err)
		}
		payload = encoded
	}
	return wire.Result{Kind: wire.ResultOk, ID: t.ID, StartedAt: started, Payload: payload}
}

// errorResult packs a task failure into a RemoteError and serializes it
// through Codec, so the executor's management thread can Deserialize every
// Err payload uniformly rather than treating it as a bare string.
func (p *Pool) errorResult(id taskid.ID, started time.Time, taskErr error) wire.Result {
	payload, err := p.cfg.Codec.Serialize(&htexerr.RemoteError{Message: taskErr.Error()})
	if err != nil {
		p.cfg.Logger.WithError(err).Error("worker: failed to serialize task error, falling back to raw message")
		payload = []byte(taskErr.Error())
	}
	return wire.Result{Kind: wire.ResultErr, ID: id, StartedAt: started, Payload: payload}
}

func (p *Pool) sendHeartbeat() error {
	p.mu.Lock()
	ids := make([]taskid.ID, 0, len(p.inFlight))
	for id := range p.inFlight {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	hb := wire.Heartbeat{WorkerID: p.identity, ActiveTaskIDs: ids, WallTime: time.Now().UTC()}
	data, err := wire.Encode(hb)
	if err != nil {
		return err
	}
	return p.dealer.Send([][]byte{data})
}

// Results exposes completed/failed results for local observers (e.g. the
// local provider driver's test harness); it is not consumed by Run itself.
// A result is not copied when the channel's buffer of Capacity entries is
// full; it is still sent to the interchange.
func (p *Pool) Results() <-chan wire.Result { return p.resultsOut }
