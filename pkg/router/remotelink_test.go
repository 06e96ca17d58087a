package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/nodelink"
	"github.com/skycoin/meshrouter/pkg/routeedge"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/wire"
)

// fakeConn is a remoteConn that records every frame it would have sent
// across a NodeLink, without a live connection: the same "narrow the
// interface for testing" grounding remotelink.go's own doc comment names.
type fakeConn struct {
	remote cipher.NodeName
	mem    nodelink.Memory
	sent   []wire.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{remote: cipher.NodeName{0xAA}, mem: nodelink.NewInMemory()}
}

func (c *fakeConn) Send(t wire.Type, sublink nodelink.SublinkId, payload interface{}) error {
	pay, err := wire.EncodePayload(payload)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, wire.MakeFrame(t, uint64(sublink), 0, pay))
	return nil
}

func (c *fakeConn) RemoteName() cipher.NodeName { return c.remote }
func (c *fakeConn) Memory() nodelink.Memory     { return c.mem }

func acceptParcelFrame(t *testing.T, sublink nodelink.SublinkId, seq uint64, data string) wire.Frame {
	t.Helper()
	pay, err := wire.EncodePayload(wire.AcceptParcel{SequenceNumber: seq, Data: []byte(data)})
	require.NoError(t, err)
	return wire.MakeFrame(wire.TypeAcceptParcel, uint64(sublink), 0, pay)
}

func TestRemoteLinkPeripheralInwardForwardsToOutwardEdge(t *testing.T) {
	o := NewTerminal(nil, cipher.NodeName{})
	p := NewTerminal(nil, cipher.NodeName{})
	pToO, oToP := NewLocalLinkPair(p, o, routerlink.Central, routerlink.Central)
	p.SetOutwardLink(pToO)
	o.SetOutwardLink(oToP)

	conn := newFakeConn()
	inward := NewRemoteLink(conn, 7, routerlink.PeripheralInward, routerlink.SideA, p, conn.remote, 7)
	p.SetInwardLink(inward)

	require.NoError(t, inward.HandleFrame(acceptParcelFrame(t, 7, 0, "via remote inward")))

	require.Eventually(t, func() bool {
		got, ok := o.PopInboundParcel()
		return ok && string(got.Data) == "via remote inward"
	}, time.Second, time.Millisecond)
}

func TestRemoteLinkCentralDeliversToLocalTerminal(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	outward := NewRemoteLink(conn, 3, routerlink.Central, routerlink.SideA, p, conn.remote, 3)
	p.SetOutwardLink(outward)

	require.NoError(t, outward.HandleFrame(acceptParcelFrame(t, 3, 0, "via remote outward")))

	require.Eventually(t, func() bool {
		got, ok := p.PopInboundParcel()
		return ok && string(got.Data) == "via remote outward"
	}, time.Second, time.Millisecond)
}

func TestRemoteLinkBridgeForwardsToOutwardEdge(t *testing.T) {
	o := NewTerminal(nil, cipher.NodeName{})
	p := NewTerminal(nil, cipher.NodeName{})
	pToO, oToP := NewLocalLinkPair(p, o, routerlink.Central, routerlink.Central)
	p.SetOutwardLink(pToO)
	o.SetOutwardLink(oToP)

	conn := newFakeConn()
	bridge := NewRemoteLink(conn, 9, routerlink.Bridge, routerlink.SideA, p, conn.remote, 9)
	p.mu.Lock()
	p.bridge = routeedge.New(bridge)
	p.mu.Unlock()

	require.NoError(t, bridge.HandleFrame(acceptParcelFrame(t, 9, 0, "via bridge")))

	require.Eventually(t, func() bool {
		got, ok := o.PopInboundParcel()
		return ok && string(got.Data) == "via bridge"
	}, time.Second, time.Millisecond)
}

func TestRemoteLinkHandleFrameRouteClosed(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	outward := NewRemoteLink(conn, 1, routerlink.Central, routerlink.SideA, p, conn.remote, 1)
	p.SetOutwardLink(outward)

	pay, err := wire.EncodePayload(wire.RouteClosed{SequenceLength: 0})
	require.NoError(t, err)
	frame := wire.MakeFrame(wire.TypeRouteClosed, 1, 0, pay)

	require.NoError(t, outward.HandleFrame(frame))
	require.True(t, p.QueryStatus().PeerClosed)
}

func TestRemoteLinkHandleFrameRouteDisconnected(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	outward := NewRemoteLink(conn, 1, routerlink.Central, routerlink.SideA, p, conn.remote, 1)
	p.SetOutwardLink(outward)

	frame := wire.MakeFrame(wire.TypeRouteDisconnected, 1, 0, nil)
	require.NoError(t, outward.HandleFrame(frame))

	status := p.QueryStatus()
	require.True(t, status.PeerClosed)
	require.True(t, status.Dead)
}

func TestRemoteLinkHandleFrameUnknownTypeIsProtocolViolation(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	outward := NewRemoteLink(conn, 1, routerlink.Central, routerlink.SideA, p, conn.remote, 1)
	p.SetOutwardLink(outward)

	frame := wire.MakeFrame(wire.Type(255), 1, 0, nil)
	err := outward.HandleFrame(frame)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindProtocolViolation, kind)
}

func TestRemoteLinkCapabilityCallsEncodeExpectedFrames(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	outward := NewRemoteLink(conn, 5, routerlink.Central, routerlink.SideA, p, conn.remote, 5)

	require.NoError(t, outward.AcceptRouteClosure(42))
	require.NoError(t, outward.AcceptRouteDisconnected())
	require.NoError(t, outward.BypassPeer(routerlink.BypassTarget{Node: cipher.NodeName{1}, Sublink: 99}))
	require.NoError(t, outward.StopProxying(1, 2))

	require.Len(t, conn.sent, 4)

	var closed wire.RouteClosed
	require.NoError(t, wire.DecodePayload(conn.sent[0].Pay(), &closed))
	require.Equal(t, uint64(42), closed.SequenceLength)

	require.Equal(t, wire.TypeRouteDisconnected, conn.sent[1].Type())

	var bypass wire.BypassPeer
	require.NoError(t, wire.DecodePayload(conn.sent[2].Pay(), &bypass))
	require.Equal(t, uint64(99), bypass.TargetSublink)

	var stop wire.StopProxying
	require.NoError(t, wire.DecodePayload(conn.sent[3].Pay(), &stop))
	require.Equal(t, uint64(1), stop.LengthToProxy)
	require.Equal(t, uint64(2), stop.LengthFromProxy)

	for _, f := range conn.sent {
		require.Equal(t, uint64(5), uint64(f.Sublink()))
	}
}

func TestRemoteLinkBypassLockRoundTrip(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	requester := cipher.NodeName{7}
	link := NewRemoteLink(conn, 2, routerlink.Central, routerlink.SideA, p, conn.remote, 2)

	require.True(t, link.TryLockForBypass(requester))
	require.True(t, link.CanNodeRequestBypass(requester))
	require.False(t, link.CanNodeRequestBypass(cipher.NodeName{8}))
	link.Unlock()

	require.True(t, link.TryLockForClosure())
	link.Unlock()
}

func TestRemoteLinkRemoteTargetReportsPeerAddress(t *testing.T) {
	p := NewTerminal(nil, cipher.NodeName{})
	conn := newFakeConn()
	peer := cipher.NodeName{3}
	link := NewRemoteLink(conn, 2, routerlink.Central, routerlink.SideA, p, peer, 11)

	target := link.RemoteTarget()
	require.Equal(t, peer, target.Node)
	require.Equal(t, uint64(11), target.Sublink)
}
