// Package transport abstracts the asynchronous, message-oriented,
// identity-addressed bidirectional pipes used between the executor, the
// interchange, and worker pools (spec.md §4.2). It wraps ZeroMQ ROUTER and
// DEALER sockets, grounded in the multipart-identity pattern used by
// other_examples' kusanagi-sdk-go balancer (message index constants,
// Identity()/FwIdentity() accessors) and the zmq4-based forwarder in
// other_examples' PayRpc/Bitcoin-Sprint.
package transport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
	"golang.org/x/xerrors"
)

// ErrTimeout is returned by Recv when no message arrived within the given
// timeout.
var ErrTimeout = xerrors.New("transport: receive timed out")

// Socket is the common surface shared by DealerSocket and RouterSocket.
type Socket interface {
	Send(frames [][]byte) error
	Recv(timeout time.Duration) ([][]byte, error)
	Underlying() *zmq.Socket
	Close() error
}

type baseSocket struct {
	sock *zmq.Socket
}

func (b *baseSocket) Underlying() *zmq.Socket { return b.sock }

func (b *baseSocket) Close() error {
	return b.sock.Close()
}

// Send writes a multipart message. The final frame is sent without the
// SNDMORE flag.
func (b *baseSocket) Send(frames [][]byte) error {
	if len(frames) == 0 {
		return xerrors.New("transport: cannot send an empty message")
	}
	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}
	_, err := b.sock.SendMessage(parts...)
	return err
}

// Recv blocks for up to timeout waiting for a multipart message. A poller
// with a single socket is used so the timeout is enforced without relying on
// SetRcvtimeo (which some zmq4 builds apply inconsistently to ROUTER
// sockets).
func (b *baseSocket) Recv(timeout time.Duration) ([][]byte, error) {
	poller := zmq.NewPoller()
	poller.Add(b.sock, zmq.POLLIN)

	polled, err := poller.Poll(timeout)
	if err != nil {
		return nil, xerrors.Errorf("transport: poll: %w", err)
	}
	if len(polled) == 0 {
		return nil, ErrTimeout
	}

	frames, err := b.sock.RecvMessageBytes(0)
	if err != nil {
		return nil, xerrors.Errorf("transport: recv: %w", err)
	}
	return frames, nil
}

// DealerSocket is the initiator side of a transport pipe: it connects out to
// a known URL and preserves a stable identity across the connection.
type DealerSocket struct {
	baseSocket
}

// NewDealerSocket creates an unconnected DEALER socket with the given
// stable identity (ZeroMQ assigns one when identity is empty); call
// Connect to dial.
func NewDealerSocket(identity string) (*DealerSocket, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, xerrors.Errorf("transport: new dealer socket: %w", err)
	}
	if identity != "" {
		if err := sock.SetIdentity(identity); err != nil {
			_ = sock.Close()
			return nil, xerrors.Errorf("transport: set identity: %w", err)
		}
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, xerrors.Errorf("transport: set linger: %w", err)
	}
	return &DealerSocket{baseSocket{sock: sock}}, nil
}

// Connect dials the given URL (e.g. "tcp://10.0.0.1:9000").
func (d *DealerSocket) Connect(url string) error {
	if err := d.sock.Connect(url); err != nil {
		return xerrors.Errorf("transport: connect %s: %w", url, err)
	}
	return nil
}

// RouterSocket is the listener side of a transport pipe: every received
// message is tagged with the sending peer's identity frame, and outgoing
// messages must be addressed by prefixing that identity frame.
type RouterSocket struct {
	baseSocket
}

// NewRouterSocket creates an (unbound) ROUTER socket.
func NewRouterSocket() (*RouterSocket, error) {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, xerrors.Errorf("transport: new router socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, xerrors.Errorf("transport: set linger: %w", err)
	}
	if err := sock.SetRouterMandatory(1); err != nil {
		_ = sock.Close()
		return nil, xerrors.Errorf("transport: set router mandatory: %w", err)
	}
	return &RouterSocket{baseSocket{sock: sock}}, nil
}

// Bind binds the socket to the first free port in [lo, hi] (inclusive) on
// host, returning the bound port. If lo == hi == 0, the OS chooses an
// ephemeral port.
func (r *RouterSocket) Bind(host string, lo, hi int) (int, error) {
	if lo == 0 && hi == 0 {
		if err := r.sock.Bind(fmt.Sprintf("tcp://%s:*", host)); err != nil {
			return 0, xerrors.Errorf("transport: bind ephemeral: %w", err)
		}
		endpoint, err := r.sock.GetLastEndpoint()
		if err != nil {
			return 0, xerrors.Errorf("transport: get last endpoint: %w", err)
		}
		return parsePort(endpoint)
	}

	var lastErr error
	for port := lo; port <= hi; port++ {
		url := fmt.Sprintf("tcp://%s:%d", host, port)
		if err := r.sock.Bind(url); err != nil {
			lastErr = err
			continue
		}
		return port, nil
	}
	return 0, xerrors.Errorf("transport: no free port in [%d, %d]: %w", lo, hi, lastErr)
}

func parsePort(endpoint string) (int, error) {
	var port int
	idx := -1
	for i := len(endpoint) - 1; i >= 0; i-- {
		if endpoint[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, xerrors.Errorf("transport: malformed endpoint %q", endpoint)
	}
	if _, err := fmt.Sscanf(endpoint[idx+1:], "%d", &port); err != nil {
		return 0, xerrors.Errorf("transport: malformed endpoint %q: %w", endpoint, err)
	}
	return port, nil
}

// RecvIdentified reads a multipart message on the ROUTER socket and splits
// off the leading identity frame added automatically by ZeroMQ.
func (r *RouterSocket) RecvIdentified(timeout time.Duration) (identity []byte, frames [][]byte, err error) {
	msg, err := r.Recv(timeout)
	if err != nil {
		return nil, nil, err
	}
	if len(msg) == 0 {
		return nil, nil, xerrors.New("transport: empty router message")
	}
	return msg[0], msg[1:], nil
}

// SendTo writes frames to the peer identified by identity.
func (r *RouterSocket) SendTo(identity []byte, frames [][]byte) error {
	full := make([][]byte, 0, len(frames)+1)
	full = append(full, identity)
	full = append(full, frames...)
	return r.Send(full)
}
