// Package addressprobe resolves which of several candidate interchange
// addresses a worker can actually reach, for deployments where the worker
// was not handed an unambiguous address at launch (spec.md §4.8). The
// race-the-candidates shape is grounded in
// Chapter04/dialer/retrying_dialer.go's DialFunc abstraction, generalized
// from "retry one address" to "race several addresses" using
// github.com/juju/clock for the per-attempt timeout so tests can inject a
// fake clock.
package addressprobe

import (
	"context"
	"net"
	"time"

	"github.com/juju/clock"
	"golang.org/x/xerrors"
)

// ErrNoReachableCandidate is returned when none of the candidates accepted
// a connection within the timeout.
var ErrNoReachableCandidate = xerrors.New("addressprobe: no candidate address was reachable")

// DialFunc matches net.Dialer.DialContext's signature so tests can substitute
// a fake dialer.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Probe races a TCP dial against every candidate ("host:port" form,
// matching the addresses a RouterSocket.Bind reports) and returns the
// "tcp://host:port" URL of the first one to accept a connection.
// Unreachable candidates are simply slower losers of the race, not errors,
// mirroring how Parsl-style workers probe every locally visible interface
// plus any operator-supplied public address.
func Probe(candidates []string, timeout time.Duration) (string, error) {
	return probeWithDialer(context.Background(), clock.WallClock, defaultDial, candidates, timeout)
}

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func probeWithDialer(parent context.Context, clk clock.Clock, dial DialFunc, candidates []string, timeout time.Duration) (string, error) {
	if len(candidates) == 0 {
		return "", xerrors.New("addressprobe: no candidates supplied")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type result struct {
		addr string
		conn net.Conn
		err  error
	}
	resultsCh := make(chan result, len(candidates))

	for _, addr := range candidates {
		addr := addr
		go func() {
			conn, err := dial(ctx, "tcp", addr)
			resultsCh <- result{addr: addr, conn: conn, err: err}
		}()
	}

	deadline := clk.After(timeout)
	var firstErr error
	for i := 0; i < len(candidates); i++ {
		select {
		case r := <-resultsCh:
			if r.err == nil {
				_ = r.conn.Close()
				return "tcp://" + r.addr, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
		case <-deadline:
			return "", ErrNoReachableCandidate
		case <-parent.Done():
			return "", parent.Err()
		}
	}
	return "", xerrors.Errorf("%w: last error: %v", ErrNoReachableCandidate, firstErr)
}
