// Package parcel defines Parcel, the ordered unit of transport that flows
// between portals, and APIObject, the small closed set of things that can
// be attached to one (a sent portal, or an opaque box of bytes).
package parcel

import (
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// ObjectKind distinguishes the variants of APIObject that can ride along
// with a Parcel.
type ObjectKind byte

const (
	// ObjectPortal is a portal being relocated to the receiving process.
	ObjectPortal ObjectKind = iota
	// ObjectBox is an opaque, non-portal attachment (e.g. a shared buffer
	// handle in the full system; the core only needs to route it).
	ObjectBox
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectPortal:
		return "portal"
	case ObjectBox:
		return "box"
	default:
		return "unknown"
	}
}

// Object is one attachment of a Parcel. RouterDescriptor is populated only
// for ObjectPortal objects and carries what SerializeNewRouter wrote for
// the destination to reconstruct a proxy/terminal router on arrival (see
// pkg/wire.RouterDescriptor).
type Object struct {
	Kind   ObjectKind
	Box    []byte
	Router interface{} // *wire.RouterDescriptor; interface{} avoids an import cycle with pkg/wire.
}

// Parcel is the ordered unit of transport carried by a route. It is
// created at send time with SequenceNumber left at its zero value; the
// Router fills it in before handing the parcel to a RouterLink.
type Parcel struct {
	SequenceNumber sequence.Number
	Data           []byte
	Objects        []Object
}

// New creates a Parcel from raw bytes and optional attached objects. The
// sequence number is assigned later, by the owning Router.
func New(data []byte, objects []Object) *Parcel {
	return &Parcel{Data: data, Objects: objects}
}

// Size returns the number of payload bytes the parcel carries, the figure
// Router status counters and put-limit checks are expressed in.
func (p *Parcel) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}
