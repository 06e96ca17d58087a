// Package routeedge implements RouteEdge: a Router's side of one
// direction of a route — its primary link plus, during a bypass, a
// decaying link still draining parcels below a negotiated sequence
// threshold. Modeled on spec.md §3/§4.3, and in texture on the teacher's
// RouteGroup (pkg/router/route_group.go), which similarly tracks a small
// ordered set of links/rules alongside the sequence bookkeeping needed to
// know which one a given packet belongs on.
package routeedge

import (
	"fmt"

	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// Edge holds one Router's primary link for one direction of a route, plus
// an optional decaying link left over from a bypass that hasn't finished
// draining yet.
type Edge struct {
	primary  routerlink.RouterLink
	decaying routerlink.RouterLink

	// lengthToDecayingLink is the first sequence number that must NOT go
	// on the decaying link: SNs below it still belong there, SNs at or
	// above it go on primary.
	lengthToDecayingLink sequence.Number
	hasLengthTo          bool

	// lengthFromDecayingLink is the final length expected to arrive on
	// the decaying link in the inbound direction.
	lengthFromDecayingLink sequence.Number
	hasLengthFrom          bool
}

// New creates an Edge with primary as its only link.
func New(primary routerlink.RouterLink) *Edge {
	return &Edge{primary: primary}
}

// PrimaryLink returns the edge's primary link, or nil if none is set
// (e.g. a freshly SerializeNewRouter'd inward edge, per spec.md §4.8).
func (e *Edge) PrimaryLink() routerlink.RouterLink {
	return e.primary
}

// SetPrimaryLink installs link as the primary, used once a proxy's inward
// edge learns its link after BeginProxyingToNewRouter, or when installing
// a brand new outward link (Router.SetOutwardLink).
func (e *Edge) SetPrimaryLink(link routerlink.RouterLink) {
	e.primary = link
}

// PrimaryLinkOrNil returns the edge's primary link and true if one is set.
func (e *Edge) PrimaryLinkOrNil() (routerlink.RouterLink, bool) {
	if e.primary == nil {
		return nil, false
	}
	return e.primary, true
}

// DecayingLink returns the edge's decaying link, if any.
func (e *Edge) DecayingLink() (routerlink.RouterLink, bool) {
	if e.decaying == nil {
		return nil, false
	}
	return e.decaying, true
}

// IsStable reports whether the edge has no decaying link — i.e. neither
// side of its primary link is mid-bypass.
func (e *Edge) IsStable() bool {
	return e.decaying == nil
}

// BeginPrimaryLinkDecay moves the current primary link into the decaying
// slot and installs newPrimary in its place. It is the only way a
// decaying link is ever installed (spec.md §4.3): at most one decay cycle
// is in flight on an edge at a time.
func (e *Edge) BeginPrimaryLinkDecay(newPrimary routerlink.RouterLink) error {
	if e.decaying != nil {
		return fmt.Errorf("routeedge: decay already in progress")
	}
	if e.primary == nil {
		return fmt.Errorf("routeedge: cannot decay a nil primary link")
	}
	e.decaying = e.primary
	e.primary = newPrimary
	e.hasLengthTo = false
	e.hasLengthFrom = false
	return nil
}

// SetLengthToDecayingLink sets the outbound decay threshold: it may be set
// at most once per decay cycle.
func (e *Edge) SetLengthToDecayingLink(n sequence.Number) error {
	if e.decaying == nil {
		return fmt.Errorf("routeedge: no decaying link to set a length on")
	}
	if e.hasLengthTo {
		return fmt.Errorf("routeedge: length_to_decaying_link already set")
	}
	e.lengthToDecayingLink = n
	e.hasLengthTo = true
	return nil
}

// SetLengthFromDecayingLink sets the inbound decay threshold: it may be
// set at most once per decay cycle.
func (e *Edge) SetLengthFromDecayingLink(n sequence.Number) error {
	if e.decaying == nil {
		return fmt.Errorf("routeedge: no decaying link to set a length on")
	}
	if e.hasLengthFrom {
		return fmt.Errorf("routeedge: length_from_decaying_link already set")
	}
	e.lengthFromDecayingLink = n
	e.hasLengthFrom = true
	return nil
}

// LengthToDecayingLink returns the outbound decay threshold, if set.
func (e *Edge) LengthToDecayingLink() (sequence.Number, bool) {
	return e.lengthToDecayingLink, e.hasLengthTo
}

// LengthFromDecayingLink returns the inbound decay threshold, if set.
func (e *Edge) LengthFromDecayingLink() (sequence.Number, bool) {
	return e.lengthFromDecayingLink, e.hasLengthFrom
}

// ShouldTransmitOnDecayingLink reports whether sequence number n belongs
// on the decaying link rather than primary.
func (e *Edge) ShouldTransmitOnDecayingLink(n sequence.Number) bool {
	return e.decaying != nil && e.hasLengthTo && n < e.lengthToDecayingLink
}

// PickLinkFor returns the link a parcel at sequence number n should be
// sent on, preferring the decaying link while n is still below its
// threshold. ok is false if the edge has no usable link for n yet (e.g. a
// freshly serialized proxy's inward edge, still awaiting its primary).
func (e *Edge) PickLinkFor(n sequence.Number) (link routerlink.RouterLink, ok bool) {
	if e.ShouldTransmitOnDecayingLink(n) {
		return e.decaying, true
	}
	if e.primary != nil {
		return e.primary, true
	}
	return nil, false
}

// MaybeFinishDecay drops the decaying link once sent reaches
// lengthToDecayingLink and received reaches lengthFromDecayingLink,
// returning whether it did so. Idempotent: once the decaying link is
// dropped, subsequent calls are no-ops returning false.
func (e *Edge) MaybeFinishDecay(sent, received sequence.Number) bool {
	if e.decaying == nil {
		return false
	}
	if !e.hasLengthTo || !e.hasLengthFrom {
		return false
	}
	if sent < e.lengthToDecayingLink || received < e.lengthFromDecayingLink {
		return false
	}
	e.decaying = nil
	return true
}
