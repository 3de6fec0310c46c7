package addressprobe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestProbeReturnsFirstReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	candidates := []string{"127.0.0.1:1", ln.Addr().String()}
	got, err := Probe(candidates, 2*time.Second)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	want := "tcp://" + ln.Addr().String()
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestProbeNoneReachableWithFakeClock(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	blockingDial := func(ctx context.Context, network, address string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		for {
			select {
			case <-doneCh:
				return
			default:
				clk.Advance(time.Second)
			}
		}
	}()

	_, err := probeWithDialer(context.Background(), clk, blockingDial, []string{"a:1", "b:2"}, 5*time.Second)
	if err != ErrNoReachableCandidate {
		t.Fatalf("expected ErrNoReachableCandidate, got %v", err)
	}
}
