package router

import (
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
)

// MergeRoute splices two independent routes into one by installing a
// Bridge link directly between a and b and immediately attempting to
// eliminate both via bridge bypass, spec.md §3/§4.7. Both must be plain
// terminal routers (no inward edge, no bridge already installed) that
// have not yet exchanged any traffic — the same precondition
// ipcz::Portal::Merge places on its two portals via CanSendFrom/
// HasLocalPeer, since a bridge splice with traffic already in flight on
// either side has no well-defined sequence-number correspondence.
//
// Unlike spec.md §5 rule 2's general "acquire both router mutexes via an
// ordered multi-lock primitive", a and b's mutexes are never held
// together here: each precondition check and field write locks only its
// own router, which is sufficient because nothing observes a and b as a
// pair until after both bridge fields are set and Flush is called.
func MergeRoute(a, b *Router) error {
	a.mu.Lock()
	aBusy := a.inwardEdge != nil || a.bridge != nil ||
		a.outbound.Current() != 0 || a.inbound.Current() != 0
	a.mu.Unlock()
	if aBusy {
		return newError(KindFailedPrecondition, "merge: first router is not a plain terminal route")
	}

	b.mu.Lock()
	bBusy := b.inwardEdge != nil || b.bridge != nil ||
		b.outbound.Current() != 0 || b.inbound.Current() != 0
	b.mu.Unlock()
	if bBusy {
		return newError(KindFailedPrecondition, "merge: second router is not a plain terminal route")
	}
	if a == b {
		return newError(KindInvalidArgument, "merge: cannot merge a route with itself")
	}

	aBridge, bBridge := NewLocalLinkPair(a, b, routerlink.Bridge, routerlink.Bridge)

	a.mu.Lock()
	a.bridge = routeedge.New(aBridge)
	a.mu.Unlock()

	b.mu.Lock()
	b.bridge = routeedge.New(bBridge)
	b.mu.Unlock()

	a.Flush()
	b.Flush()
	return nil
}
