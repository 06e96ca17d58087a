// Package node implements Node: the per-process owner of every NodeLink to
// other mesh processes, responsible for dialing and accepting the raw
// connections a NodeLink multiplexes RouterLinks over, and for satisfying
// router.BypassDialer so the proxy-bypass protocol can reach a node it has
// no existing connection to. Grounded on the teacher's pkg/dmsg.Client
// (findOrConnectToServer's dial-then-noise-wrap-then-construct sequence)
// and pkg/transport/manager.go's Manager (a *logging.Logger field, a
// mutex-guarded map keyed by peer identity, a New constructor taking a
// config struct).
package node

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/nodelink"
	"github.com/skycoin/meshrouter/pkg/router"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/wire"
)

// DefaultHandshakeTimeout bounds how long a dial or accept waits for the
// noise handshake and the identity frame that follows it.
const DefaultHandshakeTimeout = 5 * time.Second

// Config configures a Node.
type Config struct {
	PubKey           cipher.PubKey
	SecKey           cipher.SecKey
	HandshakeTimeout time.Duration
}

// Node owns every NodeLink this process holds open to other mesh
// processes, dialing and accepting the raw connections they multiplex
// RouterLinks over.
type Node struct {
	Logger *logging.Logger

	pk        cipher.PubKey
	sk        cipher.SecKey
	name      cipher.NodeName
	hsTimeout time.Duration

	mu       sync.Mutex
	links    map[cipher.NodeName]*nodelink.NodeLink
	listener net.Listener
	closed   bool

	// OnAccept, if set, is invoked once for every inbound NodeLink after
	// its handshake completes, on its own goroutine, letting the caller
	// register application-level handlers on fresh sublinks before Serve
	// starts dispatching frames.
	OnAccept func(*nodelink.NodeLink)
}

// New constructs a Node identified by cfg.PubKey/SecKey.
func New(cfg Config) *Node {
	hs := cfg.HandshakeTimeout
	if hs == 0 {
		hs = DefaultHandshakeTimeout
	}
	return &Node{
		Logger:    logging.MustGetLogger("node"),
		pk:        cfg.PubKey,
		sk:        cfg.SecKey,
		name:      cipher.NodeNameFromPubKey(cfg.PubKey),
		hsTimeout: hs,
		links:     make(map[cipher.NodeName]*nodelink.NodeLink),
	}
}

// LocalName returns this process's NodeName.
func (n *Node) LocalName() cipher.NodeName { return n.name }

// Addr returns the address ListenAndServe is accepting connections on, or
// nil if it hasn't been called yet.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Link returns the already-open NodeLink to node, if any.
func (n *Node) Link(node cipher.NodeName) (*nodelink.NodeLink, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nl, ok := n.links[node]
	return nl, ok
}

// Dial opens a NodeLink to remotePK at addr, or returns the existing one if
// this process already holds a connection to that node. Grounded on
// dmsg.Client.findOrConnectToServer's dial/wrap/construct/store sequence.
func (n *Node) Dial(addr string, remotePK cipher.PubKey) (*nodelink.NodeLink, error) {
	remoteName := cipher.NodeNameFromPubKey(remotePK)
	if nl, ok := n.Link(remoteName); ok {
		return nl, nil
	}

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "node: dial")
	}

	secure, gotPK, err := wrapSecure(raw, n.pk, n.sk, remotePK, true, n.hsTimeout)
	if err != nil {
		raw.Close() // nolint:errcheck
		return nil, errors.Wrap(err, "node: noise handshake")
	}
	if gotPK != remotePK {
		secure.Close() // nolint:errcheck
		return nil, fmt.Errorf("node: dialed %s but handshake authenticated %s", remotePK, gotPK)
	}

	if err := n.exchangeHandshake(secure); err != nil {
		secure.Close() // nolint:errcheck
		return nil, errors.Wrap(err, "node: identity exchange")
	}

	return n.register(secure, remoteName), nil
}

// ListenAndServe accepts inbound connections on addr until Close is called,
// wrapping each in a NodeLink and running its Serve loop on its own
// goroutine. Grounded on pkg/dmsg.Server's accept loop.
func (n *Node) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "node: listen")
	}

	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()

	for {
		raw, err := l.Accept()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "node: accept")
		}
		go n.acceptConn(raw)
	}
}

func (n *Node) acceptConn(raw net.Conn) {
	secure, remotePK, err := wrapSecure(raw, n.pk, n.sk, cipher.PubKey{}, false, n.hsTimeout)
	if err != nil {
		n.Logger.WithError(err).Debug("node: inbound noise handshake failed")
		raw.Close() // nolint:errcheck
		return
	}
	if err := n.exchangeHandshake(secure); err != nil {
		n.Logger.WithError(err).Debug("node: inbound identity exchange failed")
		secure.Close() // nolint:errcheck
		return
	}

	nl := n.register(secure, cipher.NodeNameFromPubKey(remotePK))
	if n.OnAccept != nil {
		n.OnAccept(nl)
	}
	n.serve(nl)
}

// exchangeHandshake sends and receives one wire.Handshake frame on the
// as-yet-unmultiplexed connection, within the handshake timeout. It checks
// only that the peer answers with a well-formed Handshake frame; the
// NodeName the frame carries is not compared with the one derived from
// the noise-authenticated key.
func (n *Node) exchangeHandshake(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(n.hsTimeout)); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{}) // nolint:errcheck

	pay, err := wire.EncodePayload(wire.Handshake{NodeName: n.name})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.MakeFrame(wire.TypeHandshake, 0, 0, pay)); err != nil {
		return err
	}

	f, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if f.Type() != wire.TypeHandshake {
		return fmt.Errorf("node: expected Handshake frame, got %s", f.Type())
	}
	var msg wire.Handshake
	if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
		return err
	}
	return nil
}

func (n *Node) register(conn net.Conn, remote cipher.NodeName) *nodelink.NodeLink {
	nl := nodelink.New(conn, n.name, remote, nodelink.NewInMemory())
	n.mu.Lock()
	n.links[remote] = nl
	n.mu.Unlock()
	return nl
}

func (n *Node) serve(nl *nodelink.NodeLink) {
	if err := nl.Serve(); err != nil {
		n.Logger.WithError(err).WithField("remote", nl.RemoteName().String()).Debug("node: link closed")
	}
	n.mu.Lock()
	if n.links[nl.RemoteName()] == nl {
		delete(n.links, nl.RemoteName())
	}
	n.mu.Unlock()
}

// Close shuts down the listener and every open NodeLink.
func (n *Node) Close() error {
	n.mu.Lock()
	n.closed = true
	l := n.listener
	links := make([]*nodelink.NodeLink, 0, len(n.links))
	for _, nl := range n.links {
		links = append(links, nl)
	}
	n.mu.Unlock()

	if l != nil {
		l.Close() // nolint:errcheck
	}
	for _, nl := range links {
		nl.Close() // nolint:errcheck
	}
	return nil
}

// DialRouterLink implements router.BypassDialer: it reuses (never opens) an
// existing NodeLink to node and binds a RemoteRouterLink to sublink on it.
//
// A nonzero sublink is always the peer's own existing binding for whichever
// router is taking over (spec.md §4.7's targets are always routers already
// mid-route, so their sublink is already live on their own NodeLink — no
// rendezvous is needed, the same way a dmsg.Transport's channel id keeps
// meaning the same thing regardless of which peer resumes sending on it).
// sublink == 0 asks to rendezvous with a node this process has no reserved
// address on yet, which needs a directory or introduction service outside
// this core's scope; that case fails closed with KindFailedPrecondition, a
// documented limitation rather than a silent wrong answer — the router-side
// caller (pkg/router/bypass.go's dialAndSplice) already treats a dial
// failure as "leave this proxy in place a while longer," so failing closed
// here degrades to a slower route rather than a broken one.
func (n *Node) DialRouterLink(target cipher.NodeName, sublink uint64, linkType routerlink.Type, localRouter *router.Router) (routerlink.RouterLink, error) {
	if sublink == 0 {
		return nil, &router.Error{Kind: router.KindFailedPrecondition,
			Msg: "node: DialRouterLink needs a directory service to reach a node with no reserved sublink"}
	}

	nl, ok := n.Link(target)
	if !ok {
		return nil, fmt.Errorf("node: no open NodeLink to %s", target)
	}

	side := routerlink.SideA
	link := router.NewRemoteLink(nl, nodelink.SublinkId(sublink), linkType, side, localRouter, target, nodelink.SublinkId(sublink))
	nl.BindSublink(nodelink.SublinkId(sublink), link)
	return link, nil
}
