package router

import (
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// transmission pairs a parcel and its sequence number with the link chosen
// to carry it, collected under the mutex and sent after it is released — the staging pattern grounded on
// pkg/transport/manager.go's Close.
type transmission struct {
	link routerlink.RouterLink
	sn   sequence.Number
	p    *parcel.Parcel
}

// Flush is the single reconciliation routine run after any state change:
// it transmits everything newly eligible, retires decayed links, and
// tries to shorten the route, spec.md §4.6.
func (r *Router) Flush() {
	r.mu.Lock()

	onCentralLink := false
	if link, ok := r.outwardEdge.PrimaryLinkOrNil(); ok {
		onCentralLink = link.GetType() == routerlink.Central
	}

	var toSend []transmission
	outboundEligible := r.outbound.NextAvailableLink(func(n sequence.Number) (any, bool) {
		return r.outwardEdge.PickLinkFor(n)
	})
	for _, item := range outboundEligible {
		toSend = append(toSend, transmission{link: item.Link.(routerlink.RouterLink), sn: item.Number, p: item.Item})
	}
	// NextAvailableLink only peeks; popping here (still under r.mu, before
	// any RouterLink method is called) removes exactly the contiguous run
	// just selected for transmission so a later Flush doesn't resend it.
	for range outboundEligible {
		r.outbound.Pop()
	}

	var inwardEdgeForFlush *edgeHandle
	if r.inwardEdge != nil {
		inwardEdgeForFlush = &edgeHandle{edge: r.inwardEdge, kind: EdgeInward}
	} else if r.bridge != nil {
		inwardEdgeForFlush = &edgeHandle{edge: r.bridge, kind: EdgeBridge}
	}
	if inwardEdgeForFlush != nil {
		inboundEligible := r.inbound.NextAvailableLink(func(n sequence.Number) (any, bool) {
			return inwardEdgeForFlush.edge.PickLinkFor(n)
		})
		for _, item := range inboundEligible {
			toSend = append(toSend, transmission{link: item.Link.(routerlink.RouterLink), sn: item.Number, p: item.Item})
		}
		for range inboundEligible {
			r.inbound.Pop()
		}
	}

	outwardOldDecaying, _ := r.outwardEdge.DecayingLink()
	outwardSent := r.outbound.Current()
	outwardReceived := r.inbound.Current()
	outwardDecayed := r.outwardEdge.MaybeFinishDecay(outwardSent, outwardReceived)

	var inwardOldDecaying routerlink.RouterLink
	inwardDecayed := false
	if inwardEdgeForFlush != nil {
		inwardOldDecaying, _ = inwardEdgeForFlush.edge.DecayingLink()
		inwardDecayed = inwardEdgeForFlush.edge.MaybeFinishDecay(outwardReceived, outwardSent)
	}

	allStable := r.outwardEdge.IsStable() && (r.inwardEdge == nil || r.inwardEdge.IsStable()) && (r.bridge == nil || r.bridge.IsStable())
	if allStable && (outwardDecayed || inwardDecayed) {
		if link, ok := r.outwardEdge.PrimaryLinkOrNil(); ok && link.GetType() == routerlink.Central {
			link.MarkSideStable()
		}
	}

	var deadLinks []routerlink.RouterLink
	var closureNotices []struct {
		link   routerlink.RouterLink
		length sequence.Number
	}

	// The outward link is released once either direction it carries has
	// nothing left to transfer: outbound fully sent, or inbound fully
	// received (spec.md §4.6 steps 6-7). Only the first case announces the
	// final outbound length to the peer.
	if link, ok := r.outwardEdge.PrimaryLinkOrNil(); ok && onCentralLink {
		if r.outbound.IsFullyConsumed() && link.TryLockForClosure() {
			closureNotices = append(closureNotices, struct {
				link   routerlink.RouterLink
				length sequence.Number
			}{link, r.outbound.Current()})
			deadLinks = append(deadLinks, link)
		} else if r.inbound.IsFullyConsumed() {
			deadLinks = append(deadLinks, link)
		}
	}

	if inwardEdgeForFlush != nil && r.inbound.IsFullyConsumed() {
		if link, ok := inwardEdgeForFlush.edge.PrimaryLinkOrNil(); ok && link.TryLockForClosure() {
			closureNotices = append(closureNotices, struct {
				link   routerlink.RouterLink
				length sequence.Number
			}{link, r.inbound.Current()})
			deadLinks = append(deadLinks, link)
		}
	}

	forceBypass := r.forceBypassAttempt
	r.forceBypassAttempt = false
	droppedDecayingLink := outwardDecayed || inwardDecayed
	hasOnlyBridge := r.inwardEdge == nil && r.bridge != nil

	r.mu.Unlock()

	for _, t := range toSend {
		if err := t.link.AcceptParcel(t.p); err != nil {
			r.log.WithError(err).WithField("sn", t.sn).Debug("router: flush transmit failed")
		}
	}

	if outwardDecayed && outwardOldDecaying != nil {
		outwardOldDecaying.Deactivate()
	}
	if inwardDecayed && inwardOldDecaying != nil {
		inwardOldDecaying.Deactivate()
	}

	if hasOnlyBridge {
		r.maybeStartBridgeBypass()
	}

	for _, c := range closureNotices {
		_ = c.link.AcceptRouteClosure(c.length)
	}
	for _, l := range deadLinks {
		l.Deactivate()
	}

	if onCentralLink && (droppedDecayingLink || forceBypass) {
		r.maybeStartSelfBypass()
	} else if link, ok := r.outwardEdge.PrimaryLinkOrNil(); ok {
		link.FlushOtherSideIfWaiting()
	}
}

// edgeHandle pairs an edge with which Edge label it plays, used by Flush
// to treat the inward edge and the bridge edge uniformly when deciding
// where inbound parcels forward to.
type edgeHandle struct {
	edge *routeedge.Edge
	kind Edge
}
