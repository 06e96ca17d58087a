package router

import (
	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/linkstate"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// localLinkShared is the state two LocalRouterLink instances on either
// side of an in-process connection share: the RouterLinkState cell (if
// this link's type carries one).
// Grounded on dmsg.Transport's own conn-shared doneCh/doneOnce pair
// (pkg/dmsg/transport.go), generalized from "shared connection" to
// "shared in-process link".
type localLinkShared struct {
	state *linkstate.State // nil unless linkType.HasLinkState()
}

// LocalRouterLink is a RouterLink whose peer lives in the same process: it
// delivers synchronously by calling straight into the peer Router, spec.md
// §4.4.
type LocalRouterLink struct {
	shared   *localLinkShared
	side     routerlink.Side
	linkType routerlink.Type

	peer *Router
}

// NewLocalLinkPair builds the two LocalRouterLink ends of an in-process
// connection between a and b, typed linkType from a's perspective and the
// mirrored type from b's (Central/Bridge are symmetric; the
// peripheral-inward/outward split is asymmetric, set by aType/bType
// explicitly so callers needn't infer it). Which of the peer's Accept
// methods a delivered parcel reaches is derived from linkType via
// peerEdge, not fixed at construction — this matters once a link is
// spliced into a different router during bypass, where the correct
// target depends on which edge slot it ends up occupying, not on how it
// was originally built.
func NewLocalLinkPair(a, b *Router, aType, bType routerlink.Type) (aLink, bLink *LocalRouterLink) {
	shared := &localLinkShared{}
	if aType.HasLinkState() {
		shared.state = linkstate.New()
		// A freshly built pair has no decaying link on either side, so
		// both sides start stable.
		shared.state.SetSideStable(linkstate.SideA)
		shared.state.SetSideStable(linkstate.SideB)
	}

	aLink = &LocalRouterLink{shared: shared, side: routerlink.SideA, linkType: aType, peer: b}
	bLink = &LocalRouterLink{shared: shared, side: routerlink.SideB, linkType: bType, peer: a}
	return aLink, bLink
}

// GetType returns the link's role from its owner's perspective.
func (l *LocalRouterLink) GetType() routerlink.Type { return l.linkType }

// GetLinkState returns the shared RouterLinkState cell, if this link's
// type carries one.
func (l *LocalRouterLink) GetLinkState() (*linkstate.State, bool) {
	if l.shared.state == nil {
		return nil, false
	}
	return l.shared.state, true
}

// AcceptParcel delivers p to whichever of the peer's accept paths this
// link represents. Dispatch goes through peerEdge rather than a callback
// fixed at construction, so delivery stays correct even after the link is
// spliced into a different edge slot on the peer during bypass.
func (l *LocalRouterLink) AcceptParcel(p *parcel.Parcel) error {
	switch l.peerEdge() {
	case EdgeInward, EdgeBridge:
		return l.peer.AcceptParcelFromInwardEdge(p)
	default:
		return l.peer.AcceptInboundParcel(p)
	}
}

// AcceptRouteClosure notifies the peer router of the final sequence
// length in this link's direction. Which edge of the peer it maps to is
// implied by linkType, mirroring AcceptParcelFromInwardEdge/AcceptInboundParcel's split.
func (l *LocalRouterLink) AcceptRouteClosure(length sequence.Number) error {
	return l.peer.AcceptRouteClosureFrom(l.peerEdge(), length)
}

// AcceptRouteDisconnected notifies the peer of a force-terminating
// disconnection.
func (l *LocalRouterLink) AcceptRouteDisconnected() error {
	return l.peer.AcceptRouteDisconnectedFrom(l.peerEdge())
}

// peerEdge reports which of the peer's edges this link is bound to, the
// mirror image of l.linkType from the peer's point of view.
func (l *LocalRouterLink) peerEdge() Edge {
	switch l.linkType {
	case routerlink.PeripheralInward:
		// We are the proxy's inward edge; the peer holds us as its
		// outward edge.
		return EdgeOutward
	case routerlink.PeripheralOutward:
		return EdgeInward
	case routerlink.Bridge:
		return EdgeBridge
	default:
		return EdgeOutward
	}
}

// MarkSideStable sets this link's local side stable in the shared state.
func (l *LocalRouterLink) MarkSideStable() {
	if l.shared.state != nil {
		l.shared.state.SetSideStable(l.side)
	}
}

// TryLockForBypass attempts the shared state's bypass lock for this
// link's side, stamping requester.
func (l *LocalRouterLink) TryLockForBypass(requester cipher.NodeName) bool {
	if l.shared.state == nil {
		return false
	}
	if !l.shared.state.TryLock(l.side) {
		return false
	}
	l.shared.state.SetAllowedBypassRequestSource(requester)
	return true
}

// TryLockForClosure attempts the shared state's lock for Flush's closure
// check.
func (l *LocalRouterLink) TryLockForClosure() bool {
	if l.shared.state == nil {
		// Peripheral links carry no lock; closure is always permitted.
		return true
	}
	return l.shared.state.TryLock(l.side)
}

// Unlock releases this side's lock.
func (l *LocalRouterLink) Unlock() {
	if l.shared.state != nil {
		l.shared.state.Unlock(l.side)
	}
}

// FlushOtherSideIfWaiting re-runs the peer's Flush if it had recorded
// itself waiting; for a local link this is simply calling Flush directly,
// since there is no transport hop to nudge across.
func (l *LocalRouterLink) FlushOtherSideIfWaiting() {
	otherSide := routerlink.SideB
	if l.side == routerlink.SideB {
		otherSide = routerlink.SideA
	}
	if l.shared.state != nil && !l.shared.state.ResetWaitingBit(otherSide) {
		return
	}
	l.peer.Flush()
}

// CanNodeRequestBypass reports whether node matches the node stamped by
// the most recent successful TryLockForBypass on this side.
func (l *LocalRouterLink) CanNodeRequestBypass(node cipher.NodeName) bool {
	if l.shared.state == nil {
		return false
	}
	return l.shared.state.CanNodeRequestBypass(node)
}

// Deactivate is a no-op for a local link: there is no connection to tear
// down, and the peer reference is dropped by the garbage collector once
// both sides are unreachable.
func (l *LocalRouterLink) Deactivate() {}

// LocalPeerName always reports false: a LocalRouterLink's peer is this
// process, not a named remote node.
func (l *LocalRouterLink) LocalPeerName() (cipher.NodeName, bool) {
	return cipher.NodeName{}, false
}

// LocalPeerRouter returns the peer Router directly.
func (l *LocalRouterLink) LocalPeerRouter() (interface{}, bool) {
	return l.peer, true
}

// BypassPeer is unimplemented on a local link: self-bypass across an
// in-process connection never needs to ask the peer to dial anywhere,
// since StartSelfBypassToLocalPeer installs the replacement link directly
// (spec.md §4.4's "bypass operations that only make sense across
// processes are unimplemented").
func (l *LocalRouterLink) BypassPeer(routerlink.BypassTarget) error {
	return newError(KindFailedPrecondition, "BypassPeer is not meaningful on a local link")
}

// BypassPeerWithLink is unimplemented on a local link for the same
// reason.
func (l *LocalRouterLink) BypassPeerWithLink(uint64, *linkstate.State, sequence.Number) error {
	return newError(KindFailedPrecondition, "BypassPeerWithLink is not meaningful on a local link")
}

// StopProxying tells the peer proxy router to retire.
func (l *LocalRouterLink) StopProxying(lengthToProxy, lengthFromProxy sequence.Number) error {
	return l.peer.handleStopProxying(lengthToProxy, lengthFromProxy)
}

// StopProxyingToLocalPeer is the local-peer variant.
func (l *LocalRouterLink) StopProxyingToLocalPeer(lengthToProxy sequence.Number) error {
	return l.peer.handleStopProxyingToLocalPeer(lengthToProxy)
}

// ProxyWillStop informs the inward peer of the proxy's expected decay
// length.
func (l *LocalRouterLink) ProxyWillStop(lengthToProxy sequence.Number) error {
	return l.peer.handleProxyWillStop(lengthToProxy)
}
