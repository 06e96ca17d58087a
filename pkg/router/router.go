// Package router implements Router: the per-endpoint state machine that
// queues, sequences, and forwards parcels along a route, including the
// Flush reconciliation loop and the proxy-bypass protocol that
// transparently shortens a route once a portal has moved. Grounded on the
// teacher's pkg/router/router.go for its ambient shape (Config struct, a
// *logging.Logger field, a single guarding mutex, a New constructor) and
// on pkg/transport/manager.go's Close for the "stage work into a local
// slice under the lock, act on it after releasing the lock" discipline
// Flush depends on throughout.
package router

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// Status bits, spec.md §3's portal-visible flags.
const (
	StatusPeerClosed uint32 = 1 << iota
	StatusDead
)

// Status is a snapshot of a Router's portal-visible state, handed to
// Trap observers and returned by QueryStatus.
type Status struct {
	PeerClosed      bool
	Dead            bool
	NumLocalParcels uint32
	NumLocalBytes   uint32
}

// TrapSet is the minimal observer set fired by a Router on state changes
// relevant to its portal, spec.md §2's "TrapSet / Portal glue".
type TrapSet struct {
	mu       sync.Mutex
	handlers []func(Status)
}

// Add registers a handler. Order of firing across handlers is
// unspecified.
func (t *TrapSet) Add(h func(Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// fire calls every registered handler with s, outside of any Router
// mutex.
func (t *TrapSet) fire(s Status) {
	t.mu.Lock()
	handlers := append([]func(Status){}, t.handlers...)
	t.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

// Router is the primary entity of a route: a per-endpoint state machine
// that may be terminal (owns a portal, inwardEdge is nil) or a proxy
// (inwardEdge is present, created when a portal was sent elsewhere),
// spec.md §3.
type Router struct {
	log *logging.Logger

	mu sync.Mutex

	localNode cipher.NodeName
	dialer    BypassDialer

	outbound *sequence.Queue[*parcel.Parcel]
	inbound  *sequence.Queue[*parcel.Parcel]

	outwardEdge *routeedge.Edge // required
	inwardEdge  *routeedge.Edge // present iff this router is a proxy
	bridge      *routeedge.Edge // present only while merged via Merge

	status          uint32
	numLocalParcels uint32
	numLocalBytes   uint32

	isDisconnected     bool
	forceBypassAttempt bool

	traps *TrapSet
}

// BypassDialer lets a Router reach a node it has no existing link to, the
// step the proxy-bypass protocol needs whenever the router taking over a
// retiring proxy's slot does not already hold a connection to the far
// side (spec.md §4.7's remote self-bypass and bridge-bypass variants).
// Routers that never sit on a route crossing a NodeLink can leave this
// unset; SetBypassDialer wires it in once a node's connection manager is
// available.
type BypassDialer interface {
	DialRouterLink(node cipher.NodeName, sublink uint64, linkType routerlink.Type, localRouter *Router) (routerlink.RouterLink, error)
}

// NewTerminal constructs a terminal Router (no inward edge) whose outward
// edge's sole link is outwardLink. localNode identifies the process this
// router lives in, stamped on bypass lock requests it issues.
func NewTerminal(outwardLink routerlink.RouterLink, localNode cipher.NodeName) *Router {
	return &Router{
		log:         logging.MustGetLogger("router"),
		localNode:   localNode,
		outbound:    sequence.NewQueue[*parcel.Parcel](),
		inbound:     sequence.NewQueue[*parcel.Parcel](),
		outwardEdge: routeedge.New(outwardLink),
		traps:       &TrapSet{},
	}
}

// NewProxy constructs a proxy Router (has both edges) from its two links.
// Deserialize builds a terminal router instead, and SerializeNewRouter
// turns an existing terminal router into a proxy in place.
func NewProxy(outwardLink, inwardLink routerlink.RouterLink, localNode cipher.NodeName) *Router {
	r := NewTerminal(outwardLink, localNode)
	r.inwardEdge = routeedge.New(inwardLink)
	return r
}

// SetBypassDialer wires in the dialer used to reach a node this router has
// no existing link to during a self- or bridge-bypass. Must be called
// before the router can complete either bypass variant that crosses to a
// previously-unconnected node.
func (r *Router) SetBypassDialer(d BypassDialer) {
	r.mu.Lock()
	r.dialer = d
	r.mu.Unlock()
}

// IsTerminal reports whether this router owns a portal directly.
func (r *Router) IsTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inwardEdge == nil
}

// AddTrap registers an observer fired on every status-relevant state
// change.
func (r *Router) AddTrap(h func(Status)) {
	r.traps.Add(h)
}

// QueryStatus returns a snapshot of the router's portal-visible state.
func (r *Router) QueryStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Router) statusLocked() Status {
	return Status{
		PeerClosed:      r.status&StatusPeerClosed != 0,
		Dead:            r.status&StatusDead != 0,
		NumLocalParcels: r.numLocalParcels,
		NumLocalBytes:   r.numLocalBytes,
	}
}

func (r *Router) setStatusLocked(bit uint32) (changed bool) {
	if r.status&bit != 0 {
		return false
	}
	r.status |= bit
	return true
}

// SendOutboundParcel assigns the next outbound sequence number to a
// freshly created parcel and either hands it directly to the outward link
// (the uncontended fast path) or queues it for Flush to pick up. Called by
// a terminal router's portal when the application sends data; spec.md
// §4.5.
func (r *Router) SendOutboundParcel(data []byte, objects []parcel.Object) (*parcel.Parcel, error) {
	r.mu.Lock()
	sn := r.outbound.Current()
	p := parcel.New(data, objects)
	p.SequenceNumber = sn

	var fastLink routerlink.RouterLink
	if link, ok := r.outwardEdge.PickLinkFor(sn); ok {
		if r.outbound.MaybeSkip(sn) {
			fastLink = link
		}
	}
	needsFlush := fastLink == nil
	r.mu.Unlock()

	if fastLink != nil {
		if err := fastLink.AcceptParcel(p); err != nil {
			return nil, errors.Wrap(err, "router: send outbound parcel")
		}
		return p, nil
	}

	r.mu.Lock()
	err := r.outbound.Push(sn, p)
	r.mu.Unlock()
	if err != nil {
		return nil, newError(KindInvalidArgument, "send outbound parcel: %s", err)
	}

	if needsFlush {
		r.Flush()
	}
	return p, nil
}

// AcceptInboundParcel delivers a parcel that arrived via the outward edge.
// If this router is terminal, it is queued for local consumption and
// traps fire; otherwise Flush will forward it via the inward edge.
// spec.md §4.5.
func (r *Router) AcceptInboundParcel(p *parcel.Parcel) error {
	r.mu.Lock()
	err := r.inbound.Push(p.SequenceNumber, p)
	terminal := r.inwardEdge == nil
	if err == nil && terminal {
		r.numLocalParcels++
		r.numLocalBytes += uint32(p.Size())
	}
	status := r.statusLocked()
	r.mu.Unlock()

	if err != nil {
		// An out-of-range push is not a fault: disconnection can have
		// already truncated this sequence.
		r.log.WithError(err).Debug("router: dropped inbound parcel")
		return nil
	}

	if terminal {
		r.traps.fire(status)
	}
	r.Flush()
	return nil
}

// AcceptParcelFromInwardEdge delivers a parcel that arrived via the inward
// edge (proxy routers only): it is queued as outbound data to be forwarded
// onward via the outward edge.
func (r *Router) AcceptParcelFromInwardEdge(p *parcel.Parcel) error {
	r.mu.Lock()
	err := r.outbound.Push(p.SequenceNumber, p)
	r.mu.Unlock()

	if err != nil {
		r.log.WithError(err).Debug("router: dropped parcel from inward edge")
		return nil
	}
	r.Flush()
	return nil
}

// PopInboundParcel returns the next in-order inbound parcel for a terminal
// router's portal to consume, if one is ready, and retires it from the
// NumLocalParcels/NumLocalBytes counters QueryStatus reports. Consuming the
// final parcel of a peer-closed route is what actually reaches DEAD in the
// common close-before-read ordering: AcceptRouteClosureFrom only catches
// the closure-arrives-after-every-parcel-already-read ordering, spec.md
// §8's "k reaches inbound.final_length exactly when the route is DEAD".
func (r *Router) PopInboundParcel() (*parcel.Parcel, bool) {
	p, ok := r.inbound.Pop()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	r.numLocalParcels--
	r.numLocalBytes -= uint32(p.Size())
	becameDead := r.status&StatusPeerClosed != 0 && r.inbound.IsFullyConsumed() && r.setStatusLocked(StatusDead)
	status := r.statusLocked()
	r.mu.Unlock()

	if becameDead {
		r.traps.fire(status)
	}
	return p, true
}

// PeekInboundParcel returns the next in-order inbound parcel without
// removing it, the read half of a portal's two-phase get.
func (r *Router) PeekInboundParcel() (*parcel.Parcel, bool) {
	return r.inbound.Peek()
}

// DropPeekedInboundParcel removes the parcel PeekInboundParcel most
// recently returned, completing a portal's two-phase get. The caller is
// responsible for not calling this without a prior successful peek.
func (r *Router) DropPeekedInboundParcel() {
	_, _ = r.PopInboundParcel()
}

// CloseRoute closes the local side of the route: the outbound direction's
// final length is fixed at its current length, and closure propagates
// outward once the final sequence number is forwarded. spec.md §4.5.
func (r *Router) CloseRoute() error {
	r.mu.Lock()
	current := r.outbound.Current()
	r.mu.Unlock()

	if err := r.outbound.SetFinalLength(current); err != nil {
		return newError(KindFailedPrecondition, "close route: %s", err)
	}
	r.Flush()
	return nil
}

// Edge identifies which edge a closure/disconnect notification arrived
// on, spec.md §4.5/§6's link_type parameter.
type Edge byte

const (
	// EdgeOutward is the router's single required edge.
	EdgeOutward Edge = iota
	// EdgeInward is present only on proxies.
	EdgeInward
	// EdgeBridge is present only while merged.
	EdgeBridge
)

// AcceptRouteClosureFrom records the peer-announced final sequence length
// for the direction associated with the given edge. spec.md §4.5.
func (r *Router) AcceptRouteClosureFrom(edge Edge, length sequence.Number) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch edge {
	case EdgeOutward:
		_ = r.inbound.SetFinalLength(length)
		if r.inwardEdge == nil {
			if r.setStatusLocked(StatusPeerClosed) {
				if r.inbound.IsFullyConsumed() {
					r.setStatusLocked(StatusDead)
				}
				status := r.statusLocked()
				r.mu.Unlock()
				r.traps.fire(status)
				r.mu.Lock()
			}
		}
	case EdgeInward:
		_ = r.outbound.SetFinalLength(length)
	case EdgeBridge:
		_ = r.outbound.SetFinalLength(length)
		r.bridge = nil
	}

	go r.Flush()
	return nil
}

// AcceptRouteDisconnectedFrom force-terminates both directions and
// propagates disconnection to every live edge, spec.md §4.5/§5
// Cancellation.
func (r *Router) AcceptRouteDisconnectedFrom(edge Edge) error {
	r.mu.Lock()
	if r.isDisconnected {
		r.mu.Unlock()
		return nil
	}
	r.isDisconnected = true
	r.outbound.ForceTerminate()
	r.inbound.ForceTerminate()

	var links []routerlink.RouterLink
	if l, ok := r.outwardEdge.PrimaryLinkOrNil(); ok {
		links = append(links, l)
	}
	if d, ok := r.outwardEdge.DecayingLink(); ok {
		links = append(links, d)
	}
	if r.inwardEdge != nil {
		if l, ok := r.inwardEdge.PrimaryLinkOrNil(); ok {
			links = append(links, l)
		}
		if d, ok := r.inwardEdge.DecayingLink(); ok {
			links = append(links, d)
		}
	}
	if r.bridge != nil {
		if l, ok := r.bridge.PrimaryLinkOrNil(); ok {
			links = append(links, l)
		}
	}

	terminal := r.inwardEdge == nil
	var status Status
	if terminal {
		r.setStatusLocked(StatusPeerClosed)
		r.setStatusLocked(StatusDead)
		status = r.statusLocked()
	}
	r.mu.Unlock()

	for _, l := range links {
		_ = l.AcceptRouteDisconnected()
		l.Deactivate()
	}

	if terminal {
		r.traps.fire(status)
	}
	return nil
}

// SetInwardLink installs link as the (initially edge-less) inward edge's
// primary, completing BeginProxyingToNewRouter once the peer has
// confirmed receipt of a SerializeNewRouter descriptor.
func (r *Router) SetInwardLink(link routerlink.RouterLink) {
	r.mu.Lock()
	if r.inwardEdge == nil {
		r.inwardEdge = &routeedge.Edge{}
	}
	r.inwardEdge.SetPrimaryLink(link)
	r.mu.Unlock()
	r.Flush()
}

// SetOutwardLink installs link as the outward edge's primary, used to wire
// a router's required edge once its peer exists, when the two can't be
// constructed simultaneously (e.g. two freshly created local routers
// joined by a NewLocalLinkPair).
func (r *Router) SetOutwardLink(link routerlink.RouterLink) {
	r.mu.Lock()
	r.outwardEdge.SetPrimaryLink(link)
	r.mu.Unlock()
	r.Flush()
}

