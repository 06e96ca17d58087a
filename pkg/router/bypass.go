package router

import (
	"github.com/pkg/errors"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// remoteTarget is implemented by RemoteRouterLink to expose the node and
// sublink a bypass message should name, without a type switch on the
// concrete link in this package.
type remoteTarget interface {
	RemoteTarget() routerlink.BypassTarget
}

// maybeStartSelfBypass attempts to eliminate this proxy router entirely
// once both its edges are stable, spec.md §4.7. Called by Flush with no
// lock held, after it has already decided the router is a candidate
// (sitting on a Central outward link with at least one just-finished
// decay, or a caller forced the attempt via forceBypassAttempt).
func (r *Router) maybeStartSelfBypass() {
	r.mu.Lock()
	if r.inwardEdge == nil {
		r.mu.Unlock()
		return
	}
	outwardLink, ok := r.outwardEdge.PrimaryLinkOrNil()
	if !ok || outwardLink.GetType() != routerlink.Central || !r.outwardEdge.IsStable() {
		r.mu.Unlock()
		return
	}
	inwardLink, ok := r.inwardEdge.PrimaryLinkOrNil()
	if !ok || !r.inwardEdge.IsStable() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if peer, ok := outwardLink.LocalPeerRouter(); ok {
		r.startSelfBypassToLocalPeer(peer.(*Router), inwardLink)
		return
	}
	r.startSelfBypassToRemotePeer(outwardLink, inwardLink)
}

// startSelfBypassToRemotePeer is spec.md §4.7's "self-bypass — remote
// outward peer" case: P locks its link to O, then asks I to establish a
// direct link to O and take P's place.
func (r *Router) startSelfBypassToRemotePeer(outwardLink, inwardLink routerlink.RouterLink) {
	var inwardNodeName cipher.NodeName
	if name, ok := inwardLink.LocalPeerName(); ok {
		inwardNodeName = name
	} else {
		r.mu.Lock()
		inwardNodeName = r.localNode
		r.mu.Unlock()
	}

	if !outwardLink.TryLockForBypass(inwardNodeName) {
		return
	}

	target, ok := outwardLink.(remoteTarget)
	if !ok {
		outwardLink.Unlock()
		r.log.Debug("router: self-bypass outward link cannot report a remote target")
		return
	}

	r.mu.Lock()
	sentOutward := r.outbound.Current()
	sentInward := r.inbound.Current()
	err1 := r.outwardEdge.BeginPrimaryLinkDecay(nil)
	err2 := r.inwardEdge.BeginPrimaryLinkDecay(nil)
	r.mu.Unlock()
	if err1 != nil || err2 != nil {
		outwardLink.Unlock()
		r.log.Debug("router: self-bypass decay setup failed, already mid-bypass")
		return
	}

	if err := inwardLink.BypassPeer(target.RemoteTarget()); err != nil {
		r.log.WithError(err).Debug("router: self-bypass BypassPeer send failed")
	}
	r.notifyBypassNeighbors(outwardLink, inwardLink, sentOutward, sentInward)
}

// startSelfBypassToLocalPeer is spec.md §4.7's "self-bypass — local
// outward peer" case: since O lives in this process, P can splice O and I
// together directly rather than negotiating a remote lock. If I is itself
// local too, the splice is a synchronous three-router operation; if I is
// remote, O dials it directly using its own BypassDialer.
func (r *Router) startSelfBypassToLocalPeer(peerO *Router, inwardLink routerlink.RouterLink) {
	if peerIface, ok := inwardLink.LocalPeerRouter(); ok {
		peerI := peerIface.(*Router)
		newO, newI := NewLocalLinkPair(peerO, peerI, routerlink.Central, routerlink.Central)
		if !peerO.replaceLinkToPeer(r, newO) || !peerI.replaceLinkToPeer(r, newI) {
			r.log.Debug("router: local self-bypass splice failed to locate a peer edge")
			return
		}
		r.retireBothEdges()
		peerO.Flush()
		peerI.Flush()
		return
	}

	inwardNodeName, ok := inwardLink.LocalPeerName()
	if !ok {
		return
	}
	if !r.dialAndSplice(peerO, inwardNodeName) {
		return
	}
	r.retireBothEdges()
}

// dialAndSplice asks localPeer to dial remoteNodeName directly and
// installs the result as localPeer's replacement link for whichever edge
// currently points at r, reporting whether it succeeded.
func (r *Router) dialAndSplice(localPeer *Router, remoteNodeName cipher.NodeName) bool {
	localPeer.mu.Lock()
	dialer := localPeer.dialer
	localPeer.mu.Unlock()
	if dialer == nil {
		r.log.Debug("router: bypass needs a dialer on the local peer taking over")
		return false
	}
	newLink, err := dialer.DialRouterLink(remoteNodeName, 0, routerlink.Central, localPeer)
	if err != nil {
		r.log.WithError(err).Debug("router: bypass dial failed")
		return false
	}
	if !localPeer.replaceLinkToPeer(r, newLink) {
		r.log.Debug("router: bypass dial succeeded but no matching peer edge to replace")
		return false
	}
	localPeer.Flush()
	return true
}

// retireBothEdges begins decaying both of a proxy's edges to nil, marking
// them as having no replacement: r is being eliminated entirely, so
// nothing further will ever be picked to send on either one once their
// existing decaying links finish draining. The two peers now holding r's
// old links as their own decaying link are told the lengths at which to
// drop them, spec.md §4.7 steps 6-7.
func (r *Router) retireBothEdges() {
	r.mu.Lock()
	oldOutward, _ := r.outwardEdge.PrimaryLinkOrNil()
	oldInward, _ := r.inwardEdge.PrimaryLinkOrNil()
	sentOutward := r.outbound.Current()
	sentInward := r.inbound.Current()
	err1 := r.outwardEdge.BeginPrimaryLinkDecay(nil)
	err2 := r.inwardEdge.BeginPrimaryLinkDecay(nil)
	r.mu.Unlock()
	if err1 == nil && err2 == nil {
		r.notifyBypassNeighbors(oldOutward, oldInward, sentOutward, sentInward)
	}
	r.Flush()
}

// notifyBypassNeighbors records r's own just-begun decay thresholds and
// tells the two neighbors that now hold r's old links as their decaying
// link the lengths at which each should drop it, spec.md §4.7 steps 6-7.
// r's own outbound/inbound positions at the moment decay began are the
// split point every router along the route agrees on: outwardPeer sees
// them mirrored (its own send direction is r's inbound direction, and vice
// versa, since they are opposite ends of the same edge), while inwardPeer
// sees them in the same orientation r itself uses outbound/inbound.
// Either peer link may be nil (bridge bypass has no inward peer; a
// freshly serialized proxy's inward edge may have no primary yet).
func (r *Router) notifyBypassNeighbors(outwardPeer, inwardPeer routerlink.RouterLink, sentOutward, sentInward sequence.Number) {
	_ = r.handleStopProxying(sentOutward, sentInward)

	if outwardPeer != nil {
		if err := outwardPeer.StopProxying(sentInward, sentOutward); err != nil {
			r.log.WithError(err).Debug("router: bypass StopProxying send failed")
		}
	}
	if inwardPeer != nil {
		if err := inwardPeer.StopProxyingToLocalPeer(sentOutward); err != nil {
			r.log.WithError(err).Debug("router: bypass StopProxyingToLocalPeer send failed")
		}
		if err := inwardPeer.ProxyWillStop(sentInward); err != nil {
			r.log.WithError(err).Debug("router: bypass ProxyWillStop send failed")
		}
	}
}

// replaceLinkToPeer finds whichever of r's edges currently has oldPeer as
// its live primary link's local peer, and begins decaying that edge to
// newLink. Used instead of naming an edge explicitly because which edge
// faces a given peer depends on that peer's own role in the route, not on
// r's.
func (r *Router) replaceLinkToPeer(oldPeer *Router, newLink routerlink.RouterLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if edgeMatchesPeer(r.outwardEdge, oldPeer) {
		return r.outwardEdge.BeginPrimaryLinkDecay(newLink) == nil
	}
	if r.inwardEdge != nil && edgeMatchesPeer(r.inwardEdge, oldPeer) {
		return r.inwardEdge.BeginPrimaryLinkDecay(newLink) == nil
	}
	if r.bridge != nil && edgeMatchesPeer(r.bridge, oldPeer) {
		return r.bridge.BeginPrimaryLinkDecay(newLink) == nil
	}
	return false
}

func edgeMatchesPeer(e *routeedge.Edge, peer *Router) bool {
	link, ok := e.PrimaryLinkOrNil()
	if !ok {
		return false
	}
	p, ok := link.LocalPeerRouter()
	if !ok {
		return false
	}
	router, ok := p.(*Router)
	return ok && router == peer
}

// maybeStartBridgeBypass is spec.md §4.7's bridge-bypass: a terminal
// router left over from Merge (outward edge plus a bridge edge, no inward
// edge) tries to splice its two neighbors directly together, eliminating
// itself. The three locality sub-cases mirror self-bypass's, generalized
// from a fixed outward/inward pair to whichever two edges are present.
func (r *Router) maybeStartBridgeBypass() {
	r.mu.Lock()
	if r.inwardEdge != nil || r.bridge == nil {
		r.mu.Unlock()
		return
	}
	outwardLink, ok := r.outwardEdge.PrimaryLinkOrNil()
	if !ok || !r.outwardEdge.IsStable() {
		r.mu.Unlock()
		return
	}
	bridgeLink, ok := r.bridge.PrimaryLinkOrNil()
	if !ok || !r.bridge.IsStable() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	peerOIface, oLocal := outwardLink.LocalPeerRouter()
	peerBIface, bLocal := bridgeLink.LocalPeerRouter()

	switch {
	case oLocal && bLocal:
		peerO := peerOIface.(*Router)
		peerB := peerBIface.(*Router)
		newO, newB := NewLocalLinkPair(peerO, peerB, routerlink.Central, routerlink.Central)
		if !peerO.replaceLinkToPeer(r, newO) || !peerB.replaceLinkToPeer(r, newB) {
			r.log.Debug("router: local bridge bypass splice failed to locate a peer edge")
			return
		}
		r.retireOutwardAndBridge()
		peerO.Flush()
		peerB.Flush()

	case oLocal && !bLocal:
		peerO := peerOIface.(*Router)
		bridgeNodeName, ok := bridgeLink.LocalPeerName()
		if !ok {
			return
		}
		if r.dialAndSplice(peerO, bridgeNodeName) {
			r.retireOutwardAndBridge()
		}

	case !oLocal && bLocal:
		peerB := peerBIface.(*Router)
		outwardNodeName, ok := outwardLink.LocalPeerName()
		if !ok {
			return
		}
		if r.dialAndSplice(peerB, outwardNodeName) {
			r.retireOutwardAndBridge()
		}

	default:
		target, ok := outwardLink.(remoteTarget)
		if !ok {
			return
		}
		var bridgeNodeName cipher.NodeName
		if name, ok := bridgeLink.LocalPeerName(); ok {
			bridgeNodeName = name
		} else {
			r.mu.Lock()
			bridgeNodeName = r.localNode
			r.mu.Unlock()
		}
		if !outwardLink.TryLockForBypass(bridgeNodeName) {
			return
		}
		r.mu.Lock()
		sentOutward := r.outbound.Current()
		sentInward := r.inbound.Current()
		err1 := r.outwardEdge.BeginPrimaryLinkDecay(nil)
		err2 := r.bridge.BeginPrimaryLinkDecay(nil)
		r.mu.Unlock()
		if err1 != nil || err2 != nil {
			outwardLink.Unlock()
			return
		}
		if err := bridgeLink.BypassPeer(target.RemoteTarget()); err != nil {
			r.log.WithError(err).Debug("router: bridge bypass BypassPeer send failed")
		}
		r.notifyBypassNeighbors(outwardLink, bridgeLink, sentOutward, sentInward)
	}
}

func (r *Router) retireOutwardAndBridge() {
	r.mu.Lock()
	oldOutward, _ := r.outwardEdge.PrimaryLinkOrNil()
	var oldBridge routerlink.RouterLink
	if r.bridge != nil {
		oldBridge, _ = r.bridge.PrimaryLinkOrNil()
	}
	sentOutward := r.outbound.Current()
	sentInward := r.inbound.Current()
	err1 := r.outwardEdge.BeginPrimaryLinkDecay(nil)
	var err2 error
	if r.bridge != nil {
		err2 = r.bridge.BeginPrimaryLinkDecay(nil)
	}
	r.mu.Unlock()
	if err1 == nil && err2 == nil {
		r.notifyBypassNeighbors(oldOutward, oldBridge, sentOutward, sentInward)
	}
	r.Flush()
}

// handleBypassPeer is the receiving end of BypassPeer: r is being asked to
// stop relaying through whichever proxy sent this message and instead
// deal with target directly, dialing it fresh over r.dialer.
func (r *Router) handleBypassPeer(target routerlink.BypassTarget) error {
	r.mu.Lock()
	dialer := r.dialer
	r.mu.Unlock()
	if dialer == nil {
		return newError(KindFailedPrecondition, "handleBypassPeer: no bypass dialer configured")
	}

	newLink, err := dialer.DialRouterLink(target.Node, target.Sublink, routerlink.Central, r)
	if err != nil {
		return errors.Wrap(err, "handleBypassPeer: dial failed")
	}

	r.mu.Lock()
	err = r.outwardEdge.BeginPrimaryLinkDecay(newLink)
	r.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "handleBypassPeer: decay setup")
	}

	r.Flush()
	return nil
}

// handleStopProxying records the negotiated decay thresholds on both of a
// proxy's edges once its bypass replacement link is confirmed live,
// spec.md §4.7 step "P records length_to_decaying_link /
// length_from_decaying_link on both edges".
func (r *Router) handleStopProxying(lengthToProxy, lengthFromProxy sequence.Number) error {
	r.mu.Lock()
	if _, ok := r.outwardEdge.DecayingLink(); ok {
		_ = r.outwardEdge.SetLengthToDecayingLink(lengthToProxy)
		_ = r.outwardEdge.SetLengthFromDecayingLink(lengthFromProxy)
	}
	if r.inwardEdge != nil {
		if _, ok := r.inwardEdge.DecayingLink(); ok {
			_ = r.inwardEdge.SetLengthToDecayingLink(lengthFromProxy)
			_ = r.inwardEdge.SetLengthFromDecayingLink(lengthToProxy)
		}
	}
	if r.bridge != nil {
		if _, ok := r.bridge.DecayingLink(); ok {
			_ = r.bridge.SetLengthToDecayingLink(lengthFromProxy)
			_ = r.bridge.SetLengthFromDecayingLink(lengthToProxy)
		}
	}
	r.mu.Unlock()
	r.Flush()
	return nil
}

// handleStopProxyingToLocalPeer is StopProxying's single-direction variant
// used when the peer informing r is itself local and already knows the
// reverse-direction length some other way.
func (r *Router) handleStopProxyingToLocalPeer(lengthToProxy sequence.Number) error {
	r.mu.Lock()
	if _, ok := r.outwardEdge.DecayingLink(); ok {
		_ = r.outwardEdge.SetLengthToDecayingLink(lengthToProxy)
	}
	r.mu.Unlock()
	r.Flush()
	return nil
}

// handleProxyWillStop tells an inward peer the length it should expect to
// see arrive on its own decaying link once its downstream proxy finishes
// retiring, ahead of that proxy's StopProxying confirmation.
func (r *Router) handleProxyWillStop(lengthToProxy sequence.Number) error {
	r.mu.Lock()
	if _, ok := r.outwardEdge.DecayingLink(); ok {
		_ = r.outwardEdge.SetLengthFromDecayingLink(lengthToProxy)
	}
	r.mu.Unlock()
	r.Flush()
	return nil
}
