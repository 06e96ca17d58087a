package wire

import "github.com/skycoin/meshrouter/pkg/cipher"

// ObjectDescriptor describes one parcel.Object for wire transmission: a
// portal reference names the sublink id a fresh RemoteRouterLink should be
// allocated on at the receiving end, since a live Router can't be
// serialized directly onto the wire (spec.md §4.8).
type ObjectDescriptor struct {
	Kind byte // parcel.ObjectKind
	Box  []byte
	// Sublink is set when Kind is a portal object: the sublink id the
	// receiver should bind a new RemoteRouterLink to, paired with an
	// AcceptRouter descriptor sent just before this frame.
	Sublink uint64
	HasRouter bool
}

// AcceptParcel is the payload of TypeAcceptParcel: spec.md §6.
type AcceptParcel struct {
	SequenceNumber uint64
	Data           []byte
	Objects        []ObjectDescriptor
}

// RouteClosed is the payload of TypeRouteClosed.
type RouteClosed struct {
	SequenceLength uint64
}

// FlushRouter is the payload of TypeFlushRouter: an empty nudge asking the
// peer to re-run its Flush loop, sent when FlushOtherSideIfWaiting fires
// across a NodeLink rather than within one process.
type FlushRouter struct{}

// BypassPeer is the payload of TypeBypassPeer.
type BypassPeer struct {
	TargetNode    cipher.NodeName
	TargetSublink uint64
}

// AcceptBypassLink is the payload of TypeAcceptBypassLink, sent by the
// node that receives a BypassPeer naming it as the target back to the
// router that is mid-bypass, carrying the new link's negotiated lengths.
type AcceptBypassLink struct {
	NewSublink            uint64
	LengthFromOutwardPeer uint64
}

// BypassPeerWithLink is the payload of TypeBypassPeerWithLink: the
// local-outward-peer bypass variant, where the replacement link is handed
// over directly instead of being dialed by the target node.
type BypassPeerWithLink struct {
	NewSublink            uint64
	LengthFromOutwardPeer uint64
}

// StopProxying is the payload of TypeStopProxying.
type StopProxying struct {
	LengthToProxy   uint64
	LengthFromProxy uint64
}

// ProxyWillStop is the payload of TypeProxyWillStop.
type ProxyWillStop struct {
	LengthToProxy uint64
}

// StopProxyingToLocalPeer is the payload of TypeStopProxyingToLocalPeer.
type StopProxyingToLocalPeer struct {
	LengthToProxy uint64
}

// RouterDescriptor is the payload of TypeAcceptRouter: the serialized form
// of a newly transferred proxy router, spec.md §4.8.
type RouterDescriptor struct {
	NextRouterName   cipher.NodeName
	NextRouterSublink uint64
	NextOutgoingSequenceLength uint64
	HasNextOutgoingSequenceLength bool
	NextIncomingSequenceLength uint64
	HasNextIncomingSequenceLength bool
}

// Handshake is the payload of TypeHandshake, sent immediately after the
// noise session completes to exchange the two ends' node identities,
// mirroring dmsg.Client's post-handshake hello.
type Handshake struct {
	NodeName cipher.NodeName
}
