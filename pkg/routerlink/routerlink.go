// Package routerlink defines the RouterLink capability set: the abstract
// channel a Router uses to talk to whichever router sits on the other end
// of one direction of a route, whether that peer lives in the same
// process (LocalRouterLink) or across a NodeLink (RemoteRouterLink). Only
// the interface lives here, matching the split the teacher draws between
// pkg/transport.Transport (the capability set) and the dmsg/tcp packages
// that implement it — the concrete Local/Remote variants live in
// pkg/router, since they need direct access to Router internals that
// would otherwise create an import cycle.
package routerlink

import (
	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/linkstate"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// Type is the role a link plays within a route.
type Type byte

const (
	// Central is the link spanning the two terminal routers of a route,
	// possibly via proxies still awaiting bypass.
	Central Type = iota
	// PeripheralInward connects a proxy to its inward peer (the router
	// one hop closer to the portal that sent this proxy elsewhere).
	PeripheralInward
	// PeripheralOutward connects a proxy to its outward peer.
	PeripheralOutward
	// Bridge is the link installed by Merge, splicing two routes.
	Bridge
)

func (t Type) String() string {
	switch t {
	case Central:
		return "central"
	case PeripheralInward:
		return "peripheral-inward"
	case PeripheralOutward:
		return "peripheral-outward"
	case Bridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// HasLinkState reports whether links of this type carry a RouterLinkState
// cell. Only Central and Bridge links participate in the bypass lock
// protocol; peripheral links decay away on their own schedule.
func (t Type) HasLinkState() bool {
	return t == Central || t == Bridge
}

// Side identifies which of the two ends of a link this RouterLink
// represents.
type Side = linkstate.Side

// Ends of a link.
const (
	SideA = linkstate.SideA
	SideB = linkstate.SideB
)

// BypassTarget names the node and sublink a bypass should connect to, the
// payload of a BypassPeer wire message.
type BypassTarget struct {
	Node    cipher.NodeName
	Sublink uint64
}

// RouterLink is the capability set a Router uses to talk across one
// direction of one hop of a route: spec.md §3/§4.4.
type RouterLink interface {
	// GetType returns the link's role.
	GetType() Type

	// GetLinkState returns the shared RouterLinkState cell for this link,
	// if its type carries one (Central or Bridge); ok is false otherwise.
	GetLinkState() (state *linkstate.State, ok bool)

	// AcceptParcel delivers a parcel to whatever sits on the other side of
	// the link.
	AcceptParcel(p *parcel.Parcel) error

	// AcceptRouteClosure notifies the other side that length is the final
	// sequence length in this link's direction.
	AcceptRouteClosure(length sequence.Number) error

	// AcceptRouteDisconnected notifies the other side that the route has
	// been force-terminated by a disconnection.
	AcceptRouteDisconnected() error

	// MarkSideStable sets this link's local side stable in its
	// RouterLinkState, unblocking bypass attempts from the other side.
	MarkSideStable()

	// TryLockForBypass attempts to lock this link's state for a bypass
	// negotiation, stamping requester as the node allowed to follow up.
	TryLockForBypass(requester cipher.NodeName) bool

	// TryLockForClosure attempts to lock this link's state so Flush can
	// safely tear it down once its queue is fully consumed.
	TryLockForClosure() bool

	// Unlock releases a lock taken by TryLockForBypass or
	// TryLockForClosure.
	Unlock()

	// FlushOtherSideIfWaiting nudges the peer to re-run Flush if it had
	// previously recorded that it was waiting on a state change here.
	FlushOtherSideIfWaiting()

	// CanNodeRequestBypass reports whether node is the node allowed to
	// follow up the lock this link currently holds.
	CanNodeRequestBypass(node cipher.NodeName) bool

	// Deactivate releases the link's resources once it is no longer
	// needed (decayed away, or the route died). Idempotent.
	Deactivate()

	// LocalPeerName returns the NodeName of the process on the other end
	// of this link — used to pick the bypass path (local vs remote
	// peer) without type-switching on the concrete link type.
	LocalPeerName() (cipher.NodeName, bool)

	// LocalPeerRouter returns the peer Router directly (as interface{},
	// since this package cannot import pkg/router without a cycle) when
	// the peer lives in the same process; ok is false for a
	// RemoteRouterLink. This is the "GetLocalPeer -> Option<Router>"
	// primitive the bypass protocol branches on to pick the local-peer
	// vs remote-peer code path without a type switch on the concrete
	// link type.
	LocalPeerRouter() (peer interface{}, ok bool)

	// BypassPeer asks the peer at the other end of this link to begin a
	// remote or local self-bypass naming target as the new far end.
	BypassPeer(target BypassTarget) error

	// BypassPeerWithLink installs a freshly-created link (identified by
	// newSublink on the local NodeLink, carrying newState) as this link's
	// replacement, for the local-outward-peer bypass variant.
	BypassPeerWithLink(newSublink uint64, newState *linkstate.State, lengthFromOutwardPeer sequence.Number) error

	// StopProxying tells a proxy to retire: lengthToProxy/lengthFromProxy
	// are the negotiated decay thresholds in each direction.
	StopProxying(lengthToProxy, lengthFromProxy sequence.Number) error

	// StopProxyingToLocalPeer is the local-peer variant of StopProxying.
	StopProxyingToLocalPeer(lengthToProxy sequence.Number) error

	// ProxyWillStop informs an inward peer of the decay length it should
	// expect once its downstream proxy finishes stopping.
	ProxyWillStop(lengthToProxy sequence.Number) error
}
