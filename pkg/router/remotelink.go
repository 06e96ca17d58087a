package router

import (
	"github.com/pkg/errors"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/linkstate"
	"github.com/skycoin/meshrouter/pkg/nodelink"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
	"github.com/skycoin/meshrouter/pkg/wire"
)

// remoteConn is the subset of *nodelink.NodeLink a RemoteRouterLink needs:
// narrowed to ease testing without a live connection.
type remoteConn interface {
	Send(t wire.Type, sublink nodelink.SublinkId, payload interface{}) error
	RemoteName() cipher.NodeName
	Memory() nodelink.Memory
}

// RemoteRouterLink is a RouterLink whose peer lives across a NodeLink:
// every capability call becomes a wire message, spec.md §4.4. Grounded on
// pkg/dmsg.Transport, which plays the identical role of "one instance per
// logical channel over a shared multiplexed connection" (its own id +
// conn + local/remote key fields mirror this type's sublink + conn +
// local/remote node fields).
type RemoteRouterLink struct {
	conn     remoteConn
	sublink  nodelink.SublinkId
	linkType routerlink.Type

	fragment      *nodelink.Fragment // possibly pending
	sideIsStable  bool               // recorded if MarkSideStable arrives before fragment resolves
	side          routerlink.Side
	localRouter   *Router
	peerNodeName  cipher.NodeName
	peerSublink   nodelink.SublinkId
}

// NewRemoteLink constructs a RemoteRouterLink bound to sublink on conn,
// addressed to peerNodeName/peerSublink on the far side, delivering into
// localRouter.
func NewRemoteLink(conn remoteConn, sublink nodelink.SublinkId, linkType routerlink.Type, side routerlink.Side, localRouter *Router, peerNodeName cipher.NodeName, peerSublink nodelink.SublinkId) *RemoteRouterLink {
	l := &RemoteRouterLink{
		conn:         conn,
		sublink:      sublink,
		linkType:     linkType,
		side:         side,
		localRouter:  localRouter,
		peerNodeName: peerNodeName,
		peerSublink:  peerSublink,
	}
	if linkType.HasLinkState() {
		if frag, ok := conn.Memory().TryAllocateRouterLinkState(); ok {
			l.fragment = frag
			// A freshly allocated link has no decaying link on either
			// side, so both sides start stable.
			if state, ok := frag.TryGet(); ok {
				state.SetSideStable(routerlink.SideA)
				state.SetSideStable(routerlink.SideB)
			}
		}
	}
	return l
}

// BindFragment attaches a possibly-still-pending RouterLinkState fragment
// received from the peer (e.g. via an AcceptBypassLink/BypassPeerWithLink
// message), replaying a queued MarkSideStable once it resolves. spec.md
// §4.4's "side_is_stable flag" note.
func (l *RemoteRouterLink) BindFragment(frag *nodelink.Fragment) {
	l.fragment = frag
	if l.sideIsStable {
		frag.WaitAsync(func(state *linkstate.State) {
			state.SetSideStable(l.side)
		})
	}
}

// RemoteTarget exposes this link's peer node/sublink identity, used by the
// bypass protocol to build a routerlink.BypassTarget without a type
// switch on the concrete link.
func (l *RemoteRouterLink) RemoteTarget() routerlink.BypassTarget {
	return routerlink.BypassTarget{Node: l.peerNodeName, Sublink: uint64(l.peerSublink)}
}

// GetType returns the link's role.
func (l *RemoteRouterLink) GetType() routerlink.Type { return l.linkType }

// GetLinkState returns the shared state if the fragment has resolved.
func (l *RemoteRouterLink) GetLinkState() (*linkstate.State, bool) {
	if l.fragment == nil {
		return nil, false
	}
	return l.fragment.TryGet()
}

// AcceptParcel encodes p as an AcceptParcel wire message.
func (l *RemoteRouterLink) AcceptParcel(p *parcel.Parcel) error {
	objs := make([]wire.ObjectDescriptor, len(p.Objects))
	for i, o := range p.Objects {
		objs[i] = wire.ObjectDescriptor{Kind: byte(o.Kind), Box: o.Box}
	}
	return l.conn.Send(wire.TypeAcceptParcel, l.sublink, wire.AcceptParcel{
		SequenceNumber: uint64(p.SequenceNumber),
		Data:           p.Data,
		Objects:        objs,
	})
}

// AcceptRouteClosure encodes a RouteClosed wire message.
func (l *RemoteRouterLink) AcceptRouteClosure(length sequence.Number) error {
	return l.conn.Send(wire.TypeRouteClosed, l.sublink, wire.RouteClosed{SequenceLength: uint64(length)})
}

// AcceptRouteDisconnected encodes a RouteDisconnected wire message.
func (l *RemoteRouterLink) AcceptRouteDisconnected() error {
	return l.conn.Send(wire.TypeRouteDisconnected, l.sublink, struct{}{})
}

// MarkSideStable sets the local side stable once the fragment is
// addressable, recording the intent for replay if it is still pending.
func (l *RemoteRouterLink) MarkSideStable() {
	l.sideIsStable = true
	if l.fragment == nil {
		return
	}
	l.fragment.WaitAsync(func(state *linkstate.State) {
		state.SetSideStable(l.side)
	})
}

// TryLockForBypass attempts the lock if the fragment is addressable;
// unaddressable means "not yet", so it fails closed.
func (l *RemoteRouterLink) TryLockForBypass(requester cipher.NodeName) bool {
	state, ok := l.GetLinkState()
	if !ok {
		return false
	}
	if !state.TryLock(l.side) {
		return false
	}
	state.SetAllowedBypassRequestSource(requester)
	return true
}

// TryLockForClosure attempts the lock, or succeeds trivially for
// peripheral links with no shared state.
func (l *RemoteRouterLink) TryLockForClosure() bool {
	state, ok := l.GetLinkState()
	if !ok {
		return !l.linkType.HasLinkState()
	}
	return state.TryLock(l.side)
}

// Unlock releases the lock.
func (l *RemoteRouterLink) Unlock() {
	if state, ok := l.GetLinkState(); ok {
		state.Unlock(l.side)
	}
}

// FlushOtherSideIfWaiting sends a FlushRouter nudge across the wire.
func (l *RemoteRouterLink) FlushOtherSideIfWaiting() {
	otherSide := routerlink.SideB
	if l.side == routerlink.SideB {
		otherSide = routerlink.SideA
	}
	state, ok := l.GetLinkState()
	if ok && !state.ResetWaitingBit(otherSide) {
		return
	}
	_ = l.conn.Send(wire.TypeFlushRouter, l.sublink, wire.FlushRouter{})
}

// CanNodeRequestBypass checks the shared state's authorization stamp.
func (l *RemoteRouterLink) CanNodeRequestBypass(node cipher.NodeName) bool {
	state, ok := l.GetLinkState()
	if !ok {
		return false
	}
	return state.CanNodeRequestBypass(node)
}

// Deactivate does nothing: the link stays bound in its NodeLink's sublink
// map.
func (l *RemoteRouterLink) Deactivate() {}

// LocalPeerName reports the remote node this link addresses.
func (l *RemoteRouterLink) LocalPeerName() (cipher.NodeName, bool) {
	return l.peerNodeName, true
}

// LocalPeerRouter always reports false: the peer is remote.
func (l *RemoteRouterLink) LocalPeerRouter() (interface{}, bool) {
	return nil, false
}

// BypassPeer sends a BypassPeer wire message naming target.
func (l *RemoteRouterLink) BypassPeer(target routerlink.BypassTarget) error {
	return l.conn.Send(wire.TypeBypassPeer, l.sublink, wire.BypassPeer{
		TargetNode:    target.Node,
		TargetSublink: uint64(target.Sublink),
	})
}

// BypassPeerWithLink sends a BypassPeerWithLink wire message.
func (l *RemoteRouterLink) BypassPeerWithLink(newSublink uint64, newState *linkstate.State, lengthFromOutwardPeer sequence.Number) error {
	return l.conn.Send(wire.TypeBypassPeerWithLink, l.sublink, wire.BypassPeerWithLink{
		NewSublink:            newSublink,
		LengthFromOutwardPeer: uint64(lengthFromOutwardPeer),
	})
}

// StopProxying sends a StopProxying wire message.
func (l *RemoteRouterLink) StopProxying(lengthToProxy, lengthFromProxy sequence.Number) error {
	return l.conn.Send(wire.TypeStopProxying, l.sublink, wire.StopProxying{
		LengthToProxy:   uint64(lengthToProxy),
		LengthFromProxy: uint64(lengthFromProxy),
	})
}

// StopProxyingToLocalPeer sends a StopProxyingToLocalPeer wire message.
func (l *RemoteRouterLink) StopProxyingToLocalPeer(lengthToProxy sequence.Number) error {
	return l.conn.Send(wire.TypeStopProxyingToLocalPeer, l.sublink, wire.StopProxyingToLocalPeer{
		LengthToProxy: uint64(lengthToProxy),
	})
}

// ProxyWillStop sends a ProxyWillStop wire message.
func (l *RemoteRouterLink) ProxyWillStop(lengthToProxy sequence.Number) error {
	return l.conn.Send(wire.TypeProxyWillStop, l.sublink, wire.ProxyWillStop{
		LengthToProxy: uint64(lengthToProxy),
	})
}

// HandleFrame turns an inbound wire.Frame back into a call against
// localRouter, implementing nodelink.Handler. Only a message type with no
// case below is reported as *Error with KindProtocolViolation; a
// StopProxying received by a non-proxy or a bypass request from an
// unauthorized node is not detected here. The NodeLink's Serve loop logs
// a returned error and keeps the connection open.
func (l *RemoteRouterLink) HandleFrame(f wire.Frame) error {
	switch f.Type() {
	case wire.TypeAcceptParcel:
		var msg wire.AcceptParcel
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode AcceptParcel")
		}
		objs := make([]parcel.Object, len(msg.Objects))
		for i, o := range msg.Objects {
			objs[i] = parcel.Object{Kind: parcel.ObjectKind(o.Kind), Box: o.Box}
		}
		p := parcel.New(msg.Data, objs)
		p.SequenceNumber = sequence.Number(msg.SequenceNumber)
		return l.deliverParcel(p)

	case wire.TypeRouteClosed:
		var msg wire.RouteClosed
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode RouteClosed")
		}
		return l.localRouter.AcceptRouteClosureFrom(l.localEdge(), sequence.Number(msg.SequenceLength))

	case wire.TypeRouteDisconnected:
		return l.localRouter.AcceptRouteDisconnectedFrom(l.localEdge())

	case wire.TypeFlushRouter:
		l.localRouter.Flush()
		return nil

	case wire.TypeBypassPeer:
		var msg wire.BypassPeer
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode BypassPeer")
		}
		return l.localRouter.handleBypassPeer(routerlink.BypassTarget{Node: msg.TargetNode, Sublink: msg.TargetSublink})

	case wire.TypeStopProxying:
		var msg wire.StopProxying
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode StopProxying")
		}
		return l.localRouter.handleStopProxying(sequence.Number(msg.LengthToProxy), sequence.Number(msg.LengthFromProxy))

	case wire.TypeStopProxyingToLocalPeer:
		var msg wire.StopProxyingToLocalPeer
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode StopProxyingToLocalPeer")
		}
		return l.localRouter.handleStopProxyingToLocalPeer(sequence.Number(msg.LengthToProxy))

	case wire.TypeProxyWillStop:
		var msg wire.ProxyWillStop
		if err := wire.DecodePayload(f.Pay(), &msg); err != nil {
			return errors.Wrap(err, "remotelink: decode ProxyWillStop")
		}
		return l.localRouter.handleProxyWillStop(sequence.Number(msg.LengthToProxy))

	case wire.TypeAcceptBypassLink:
		// The local-outward-peer bypass variant this answers
		// (BypassPeerWithLink handing the replacement link's fragment
		// straight across instead of the target node dialing it) needs a
		// cross-process RouterLinkState transfer this NodeLink doesn't
		// carry yet; see the locality-mixed bypass dialing Open Question
		// in DESIGN.md. The length negotiation itself (StopProxying/
		// ProxyWillStop/StopProxyingToLocalPeer above) does not depend on
		// this and is fully wired regardless.
		return newError(KindFailedPrecondition, "AcceptBypassLink: fragment hand-off not supported on sublink %d", l.sublink)

	default:
		return newError(KindProtocolViolation, "unexpected wire message type %s on sublink %d", f.Type(), l.sublink)
	}
}

// deliverParcel routes an arrived AcceptParcel to whichever local Router
// method matches this link's edge: PeripheralInward and Bridge links occupy
// an inward-facing edge, so their traffic is forwarded onward via
// AcceptParcelFromInwardEdge; Central and PeripheralOutward links occupy the
// outward edge and feed AcceptInboundParcel instead.
func (l *RemoteRouterLink) deliverParcel(p *parcel.Parcel) error {
	switch l.linkType {
	case routerlink.PeripheralInward, routerlink.Bridge:
		return l.localRouter.AcceptParcelFromInwardEdge(p)
	default:
		return l.localRouter.AcceptInboundParcel(p)
	}
}

// localEdge maps this link's type to the local Router's own Edge label for
// closure/disconnect dispatch: linkType already names which of the local
// router's edges this link occupies (routerlink.Type's doc comment), so no
// mirroring is needed here the way LocalRouterLink.peerEdge mirrors it for
// the other side.
func (l *RemoteRouterLink) localEdge() Edge {
	switch l.linkType {
	case routerlink.PeripheralInward:
		return EdgeInward
	case routerlink.Bridge:
		return EdgeBridge
	default:
		return EdgeOutward
	}
}
