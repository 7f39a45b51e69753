// Package proxypair implements the connection pair: the state for one
// client↔upstream socket pair, its pending message-ID→fingerprint map, and
// its attached filter instances. The pending-message-ID map lives here
// rather than keyed globally by stringified socket identity, so cross-pair
// confusion is structurally impossible.
package proxypair

import (
	"net"
	"sync"

	"github.com/achetronic/ldapdoxy/filter"
)

// State names the connection pair's lifecycle state. States are otherwise
// implicit in which descriptors are registered, but naming them keeps logs
// and tests legible.
type State int

const (
	// AwaitingClient: the pair exists but has no upstream connection yet.
	AwaitingClient State = iota
	// Connected: at least one request has been forwarded upstream.
	Connected
	// Closing: draining or destroyed; no further reads are attempted.
	Closing
)

func (s State) String() string {
	switch s {
	case AwaitingClient:
		return "AwaitingClient"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Pair owns exactly one client socket and at most one upstream socket,
// the upstream created lazily on the first forwarded request: there is
// never a server socket without a client socket.
type Pair struct {
	mu    sync.Mutex
	state State

	// writeMu serializes writes to Client. A cache hit replayed from the
	// handle goroutine and an upstream response forwarded from pumpUpstream's
	// own goroutine both target this socket once the pair is Connected;
	// without this lock their BER frames could interleave mid-write.
	writeMu sync.Mutex

	Client net.Conn
	Server net.Conn

	// pendingByMsgID maps a client-assigned messageID to the cache
	// fingerprint under which the eventual response(s) must be stored.
	// Entries exist only for cacheable requests.
	pendingByMsgID map[uint64]string

	Runner *filter.Runner
}

// New creates a Pair in AwaitingClient state around an already-accepted
// client connection.
func New(client net.Conn, runner *filter.Runner) *Pair {
	return &Pair{
		Client:         client,
		state:          AwaitingClient,
		pendingByMsgID: make(map[uint64]string),
		Runner:         runner,
	}
}

// State reports the pair's current lifecycle state.
func (p *Pair) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// MarkConnected transitions AwaitingClient→Connected on the first forwarded
// request, once Server has been dialed.
func (p *Pair) MarkConnected(server net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Server = server
	p.state = Connected
}

// SetPending records that messageID's eventual response(s) belong to
// fingerprint. Never called for bindRequest messages.
func (p *Pair) SetPending(messageID uint64, fingerprint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingByMsgID[messageID] = fingerprint
}

// Fingerprint returns the fingerprint pending for messageID and whether one
// was found.
func (p *Pair) Fingerprint(messageID uint64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fp, ok := p.pendingByMsgID[messageID]
	return fp, ok
}

// ClearPending removes messageID's pending entry, called once its response
// stream completes (searchResDone).
func (p *Pair) ClearPending(messageID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingByMsgID, messageID)
}

// WriteClient writes buf to Client in full, draining short writes, and
// serializes the write against any other writer of Client's frames so a
// cache-hit replay and an upstream forward can never interleave on the wire.
func (p *Pair) WriteClient(buf []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for len(buf) > 0 {
		n, err := p.Client.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Close transitions the pair to Closing and releases both sockets
// synchronously, so a closing pair never lingers with an open descriptor.
func (p *Pair) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Closing {
		return
	}
	p.state = Closing
	if p.Client != nil {
		_ = p.Client.Close()
	}
	if p.Server != nil {
		_ = p.Server.Close()
	}
}
