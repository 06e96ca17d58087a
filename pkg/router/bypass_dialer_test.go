package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/routerlink"
)

// fakeDialer stands in for a pkg/node.Node during tests that exercise the
// dialAndSplice/handleBypassPeer paths without a real NodeLink: it
// fabricates a LocalRouterLink pair between the caller and a stand-in
// Router the test can assert against directly, playing the role a real
// dial-then-BindSublink round trip would play once connected to an
// actual remote process.
type fakeDialer struct {
	standIn *Router
	calls   []cipher.NodeName
}

func (d *fakeDialer) DialRouterLink(node cipher.NodeName, sublink uint64, linkType routerlink.Type, localRouter *Router) (routerlink.RouterLink, error) {
	d.calls = append(d.calls, node)
	callerLink, standInLink := NewLocalLinkPair(localRouter, d.standIn, linkType, linkType)
	d.standIn.SetOutwardLink(standInLink)
	return callerLink, nil
}

// TestSelfBypassToRemoteInwardPeerUsesDialer covers
// startSelfBypassToLocalPeer's "I is remote" branch: P's outward peer O is
// local, but P's inward peer is only reachable through a RemoteRouterLink,
// so O must dial it fresh via its BypassDialer rather than splice directly.
func TestSelfBypassToRemoteInwardPeerUsesDialer(t *testing.T) {
	o := NewTerminal(nil, cipher.NodeName{})
	p := NewTerminal(nil, cipher.NodeName{})

	pToO, oToP := NewLocalLinkPair(p, o, routerlink.Central, routerlink.Central)
	p.SetOutwardLink(pToO)
	o.SetOutwardLink(oToP)

	iStandIn := NewTerminal(nil, cipher.NodeName{})
	dialer := &fakeDialer{standIn: iStandIn}
	o.SetBypassDialer(dialer)

	conn := newFakeConn()
	inward := NewRemoteLink(conn, 4, routerlink.PeripheralInward, routerlink.SideA, p, conn.remote, 4)
	p.SetInwardLink(inward)

	p.mu.Lock()
	p.forceBypassAttempt = true
	p.mu.Unlock()
	p.Flush()

	require.Eventually(t, func() bool {
		return len(dialer.calls) == 1
	}, time.Second, time.Millisecond)
	require.Equal(t, conn.remote, dialer.calls[0])

	require.Eventually(t, func() bool {
		link, ok := o.outwardEdgeLink()
		if !ok {
			return false
		}
		peer, ok := link.LocalPeerRouter()
		return ok && peer.(*Router) == iStandIn
	}, time.Second, time.Millisecond)

	_, err := iStandIn.SendOutboundParcel([]byte("via dialed splice"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := o.PopInboundParcel()
		return ok && string(got.Data) == "via dialed splice"
	}, time.Second, time.Millisecond)
}

// TestHandleBypassPeerDialsAndDecaysOutwardEdge covers the receiving side
// of BypassPeer directly: a router being asked to stop relaying through
// its old proxy dials the named target and begins decaying its outward
// edge to the freshly dialed link.
func TestHandleBypassPeerDialsAndDecaysOutwardEdge(t *testing.T) {
	oldProxy := NewTerminal(nil, cipher.NodeName{})
	r := NewTerminal(nil, cipher.NodeName{})
	proxyLink, rLink := NewLocalLinkPair(oldProxy, r, routerlink.Central, routerlink.Central)
	oldProxy.SetOutwardLink(proxyLink)
	r.SetOutwardLink(rLink)

	target := NewTerminal(nil, cipher.NodeName{})
	dialer := &fakeDialer{standIn: target}
	r.SetBypassDialer(dialer)

	targetName := cipher.NodeName{9, 9}
	require.NoError(t, r.handleBypassPeer(routerlink.BypassTarget{Node: targetName, Sublink: 5}))

	require.Equal(t, []cipher.NodeName{targetName}, dialer.calls)

	require.Eventually(t, func() bool {
		link, ok := r.outwardEdgeLink()
		if !ok {
			return false
		}
		peer, ok := link.LocalPeerRouter()
		return ok && peer.(*Router) == target
	}, time.Second, time.Millisecond)
}

// TestHandleBypassPeerFailsWithoutDialer covers handleBypassPeer's guard
// against being asked to bypass before a dialer has been configured.
func TestHandleBypassPeerFailsWithoutDialer(t *testing.T) {
	r := NewTerminal(nil, cipher.NodeName{})
	err := r.handleBypassPeer(routerlink.BypassTarget{Node: cipher.NodeName{1}, Sublink: 1})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindFailedPrecondition, kind)
}
