package nodelink

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/wire"
)

// Handler receives frames addressed to one SublinkId. pkg/router's
// RemoteRouterLink implements this to turn wire frames back into
// RouterLink method calls, the same role Transport.Inject plays for a
// dmsg.ClientConn dispatching frames to the right Transport by channel id.
type Handler interface {
	HandleFrame(f wire.Frame) error
}

// NodeLink multiplexes RouterLinks (SublinkIds) over one transport
// connection to a single peer node, generating outgoing message sequence
// numbers and owning that connection's Memory. Grounded on
// dmsg.ClientConn/dmsg.Transport: one net.Conn, one read loop, dispatch by
// a small integer id kept in a map guarded by its own mutex.
type NodeLink struct {
	log *logging.Logger

	conn net.Conn

	local  cipher.NodeName
	remote cipher.NodeName

	mem Memory

	mu       sync.Mutex
	handlers map[SublinkId]Handler
	closed   bool
	doneCh   chan struct{}
	doneOnce sync.Once

	outSeq uint64 // atomic
}

// New wraps conn as a NodeLink to remote, identified locally as local.
// The Handshake message exchanging NodeNames must already have completed
// by the time New is called (pkg/node performs it as part of dialing).
func New(conn net.Conn, local, remote cipher.NodeName, mem Memory) *NodeLink {
	return &NodeLink{
		log:      logging.MustGetLogger("nodelink"),
		conn:     conn,
		local:    local,
		remote:   remote,
		mem:      mem,
		handlers: make(map[SublinkId]Handler),
		doneCh:   make(chan struct{}),
	}
}

// LocalName returns this end's NodeName.
func (nl *NodeLink) LocalName() cipher.NodeName { return nl.local }

// RemoteName returns the peer's NodeName.
func (nl *NodeLink) RemoteName() cipher.NodeName { return nl.remote }

// Memory returns the NodeLink's Memory allocator.
func (nl *NodeLink) Memory() Memory { return nl.mem }

// AllocateSublink reserves a fresh SublinkId and binds handler to it.
func (nl *NodeLink) AllocateSublink(handler Handler) SublinkId {
	id := nl.mem.AllocateSublinkIds(1)
	nl.mu.Lock()
	nl.handlers[id] = handler
	nl.mu.Unlock()
	return id
}

// BindSublink binds handler to an already-known id, used when the peer
// names the sublink (e.g. accepting a dialed RouterLink).
func (nl *NodeLink) BindSublink(id SublinkId, handler Handler) {
	nl.mu.Lock()
	nl.handlers[id] = handler
	nl.mu.Unlock()
}

// Unbind removes a sublink's handler. RemoteRouterLink.Deactivate does not
// call it.
func (nl *NodeLink) Unbind(id SublinkId) {
	nl.mu.Lock()
	delete(nl.handlers, id)
	nl.mu.Unlock()
}

// Send encodes payload as the given message type addressed to sublink and
// writes it to the connection.
func (nl *NodeLink) Send(t wire.Type, sublink SublinkId, payload interface{}) error {
	pay, err := wire.EncodePayload(payload)
	if err != nil {
		return errors.Wrap(err, "nodelink: encode payload")
	}
	seq := atomic.AddUint64(&nl.outSeq, 1)
	frame := wire.MakeFrame(t, uint64(sublink), seq, pay)

	nl.mu.Lock()
	closed := nl.closed
	nl.mu.Unlock()
	if closed {
		return fmt.Errorf("nodelink: connection to %s is closed", nl.remote)
	}
	if err := wire.WriteFrame(nl.conn, frame); err != nil {
		return errors.Wrap(err, "nodelink: write frame")
	}
	return nil
}

// Serve runs the NodeLink's read loop, dispatching each inbound frame to
// its bound Handler, until reading from the connection fails. An error a
// Handler returns, a protocol violation included, is logged and the frame
// dropped; it does not close the connection.
// Grounded on ClientConn.Serve's for-loop: read one frame, look up its
// destination by id, forward or drop with a log line, repeat.
func (nl *NodeLink) Serve() error {
	log := nl.log.WithField("remote", nl.remote.String())
	for {
		f, err := wire.ReadFrame(nl.conn)
		if err != nil {
			nl.Close()
			return errors.Wrap(err, "nodelink: read failed")
		}

		id := SublinkId(f.Sublink())
		nl.mu.Lock()
		handler, ok := nl.handlers[id]
		nl.mu.Unlock()

		if !ok {
			log.WithField("sublink", id).WithField("type", f.Type()).
				Warn("nodelink: no handler for sublink, dropping frame")
			continue
		}

		if err := handler.HandleFrame(f); err != nil {
			log.WithError(err).WithField("sublink", id).
				WithField("type", f.Type()).Warn("nodelink: handler rejected frame")
		}
	}
}

// Close shuts down the connection. Idempotent.
func (nl *NodeLink) Close() error {
	var err error
	nl.doneOnce.Do(func() {
		nl.mu.Lock()
		nl.closed = true
		nl.mu.Unlock()
		close(nl.doneCh)
		err = nl.conn.Close()
	})
	return err
}

// Done returns a channel closed once the NodeLink has shut down.
func (nl *NodeLink) Done() <-chan struct{} { return nl.doneCh }
