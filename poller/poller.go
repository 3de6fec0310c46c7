package poller

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/parallex/htexec/observability"
)

// SampleFunc returns the current interchange/executor Sample.
type SampleFunc func() Sample

// ScaleFunc is invoked with the number of blocks the strategy wants
// running; the driving provider.Driver owns actually submitting or
// cancelling blocks.
type ScaleFunc func(desired int) error

// BlocksFunc returns the current state of every tracked block, for the
// Job-Error Handler to inspect each tick.
type BlocksFunc func() []BlockState

// Config collects everything needed to construct a Poller.
type Config struct {
	Strategy Strategy
	Sample   SampleFunc
	Scale    ScaleFunc

	// JobErrorHandler and Blocks are optional; when both are set, Tick
	// runs the Job-Error Handler (spec.md §4.6 step 2) before consulting
	// Strategy, so a bad state detected mid-tick (e.g. every block
	// terminal while tasks remain) is reported on every tick rather than
	// only from tests exercising JobErrorHandler directly.
	JobErrorHandler *JobErrorHandler
	Blocks          BlocksFunc

	// Period is how often Tick is invoked when Run drives the loop itself.
	Period time.Duration

	// Clock defaults to clock.WallClock; tests inject a fake one.
	Clock clock.Clock

	// ListenAddr, if non-empty, exposes a /status JSON endpoint.
	ListenAddr string

	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Strategy == nil {
		err = multierror.Append(err, xerrors.New("poller: strategy not specified"))
	}
	if cfg.Sample == nil {
		err = multierror.Append(err, xerrors.New("poller: sample function not specified"))
	}
	if cfg.Scale == nil {
		err = multierror.Append(err, xerrors.New("poller: scale function not specified"))
	}
	if (cfg.JobErrorHandler == nil) != (cfg.Blocks == nil) {
		err = multierror.Append(err, xerrors.New("poller: job error handler and blocks function must be set together"))
	}
	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NullLogger()
	}
	return err
}

// Poller drives Strategy.Desired off of periodic samples and forwards the
// result to Scale, optionally exposing the last decision over HTTP.
type Poller struct {
	cfg Config

	mu            sync.Mutex
	lastSample    Sample
	runningBlocks int
	lastDesired   int
	lastErr       error

	router   *mux.Router
	listener net.Listener

	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
}

// New constructs a Poller.
func New(cfg Config) (*Poller, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("poller: invalid config: %w", err)
	}

	p := &Poller{cfg: cfg, stopCh: make(chan struct{})}
	if cfg.ListenAddr != "" {
		p.router = mux.NewRouter()
		p.router.HandleFunc("/status", p.renderStatus).Methods("GET")
	}
	return p, nil
}

// SetRunningBlocks updates the running-block count the next Tick will use
// as its baseline, for callers that track block lifecycle independently
// (e.g. after a provider.Driver reports a block as terminated).
func (p *Poller) SetRunningBlocks(n int) {
	p.mu.Lock()
	p.runningBlocks = n
	p.mu.Unlock()
}

// Tick samples current load, asks the strategy for a desired block count,
// and invokes Scale if it differs from the last known running-block
// count. It is exported so callers can drive it from their own loop
// (tests) instead of Run.
func (p *Poller) Tick() error {
	sample := p.cfg.Sample()

	if p.cfg.JobErrorHandler != nil {
		p.cfg.JobErrorHandler.Check(p.cfg.Blocks(), sample.PendingTasks)
	}

	p.mu.Lock()
	running := p.runningBlocks
	p.mu.Unlock()

	desired := p.cfg.Strategy.Desired(sample, running)

	var scaleErr error
	if desired != running {
		scaleErr = p.cfg.Scale(desired)
		if scaleErr == nil {
			running = desired
		}
	}

	p.mu.Lock()
	p.lastSample = sample
	p.lastDesired = desired
	p.runningBlocks = running
	p.lastErr = scaleErr
	p.mu.Unlock()

	if scaleErr != nil {
		p.cfg.Logger.WithError(scaleErr).Warn("poller: scale request failed")
		return xerrors.Errorf("poller: scale to %d blocks: %w", desired, scaleErr)
	}
	return nil
}

// Run starts the optional HTTP status listener (if configured) and drives
// Tick every Period using cfg.Clock, until Stop is called.
func (p *Poller) Run() error {
	if p.router != nil {
		ln, err := net.Listen("tcp", p.cfg.ListenAddr)
		if err != nil {
			return xerrors.Errorf("poller: listen %s: %w", p.cfg.ListenAddr, err)
		}
		p.listener = ln
		srv := &http.Server{Handler: p.router}
		go func() { _ = srv.Serve(ln) }()
	}

	p.stoppedWg.Add(1)
	defer p.stoppedWg.Done()
	for {
		select {
		case <-p.stopCh:
			return nil
		case <-p.cfg.Clock.After(p.cfg.Period):
			if err := p.Tick(); err != nil {
				p.cfg.Logger.WithError(err).Warn("poller: tick failed")
			}
		}
	}
}

// Stop halts Run and closes the status listener, if any.
func (p *Poller) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.stoppedWg.Wait()
	if p.listener != nil {
		_ = p.listener.Close()
	}
}

type statusResponse struct {
	Sample        Sample `json:"sample"`
	RunningBlocks int    `json:"running_blocks"`
	DesiredBlocks int    `json:"desired_blocks"`
	LastError     string `json:"last_error,omitempty"`
}

func (p *Poller) renderStatus(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	resp := statusResponse{
		Sample:        p.lastSample,
		RunningBlocks: p.runningBlocks,
		DesiredBlocks: p.lastDesired,
	}
	if p.lastErr != nil {
		resp.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
