package router

import (
	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
	"github.com/skycoin/meshrouter/pkg/wire"
)

// SerializeNewRouter converts a terminal router into a proxy in place
// because its portal is being relocated to another process inside the
// parcel currently being sent, and returns the descriptor the destination
// needs to reconstruct the router there, spec.md §4.8. The new inward
// edge is left with no primary link; BeginProxyingToNewRouter completes
// it once the destination confirms it bound the named sublink. The two
// "Has" flags are always true in this implementation — both queues always
// have a well-defined current position — and exist to mirror ipcz's
// RouterDescriptor shape for a future variant that transfers a route
// still mid-setup, where one direction genuinely has no traffic yet.
func SerializeNewRouter(r *Router, localNode cipher.NodeName, nextRouterSublink uint64) *wire.RouterDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inwardEdge == nil {
		r.inwardEdge = &routeedge.Edge{}
	}

	return &wire.RouterDescriptor{
		NextRouterName:                localNode,
		NextRouterSublink:             nextRouterSublink,
		NextOutgoingSequenceLength:    uint64(r.outbound.Current()),
		HasNextOutgoingSequenceLength: true,
		NextIncomingSequenceLength:    uint64(r.inbound.Current()),
		HasNextIncomingSequenceLength: true,
	}
}

// Deserialize reconstructs the router side of a freshly arrived portal
// transfer: a terminal router whose outward edge continues the route back
// through outwardLink, its queues starting at the positions descr reports
// so parcels already in flight on either direction land at the sequence
// numbers the sender expects, spec.md §4.8. Binding outwardLink itself —
// typically a RemoteRouterLink freshly attached to descr.NextRouterSublink
// on the NodeLink the parcel arrived on, or a fresh LocalRouterLink half
// if the portal moved within one process — is the caller's job.
func Deserialize(descr *wire.RouterDescriptor, outwardLink routerlink.RouterLink, localNode cipher.NodeName) *Router {
	r := NewTerminal(outwardLink, localNode)

	r.mu.Lock()
	if descr.HasNextOutgoingSequenceLength {
		r.outbound = sequence.NewQueueAt[*parcel.Parcel](sequence.Number(descr.NextOutgoingSequenceLength))
	}
	if descr.HasNextIncomingSequenceLength {
		r.inbound = sequence.NewQueueAt[*parcel.Parcel](sequence.Number(descr.NextIncomingSequenceLength))
	}
	r.mu.Unlock()

	return r
}

// BeginProxyingToNewRouter completes the sender side of a portal transfer
// once the destination confirms it has bound the sublink named in the
// RouterDescriptor SerializeNewRouter produced: installs link as the new
// proxy's inward primary and flushes whatever queued up while the inward
// edge had nowhere to go.
func (r *Router) BeginProxyingToNewRouter(link routerlink.RouterLink) {
	r.SetInwardLink(link)
}
