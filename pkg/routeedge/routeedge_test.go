package routeedge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/linkstate"
	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/routerlink"
	"github.com/skycoin/meshrouter/pkg/sequence"
)

// stubLink is a minimal routerlink.RouterLink used only to distinguish
// "which link got picked" in these tests.
type stubLink struct {
	name string
}

func (s *stubLink) GetType() routerlink.Type                     { return routerlink.Central }
func (s *stubLink) GetLinkState() (*linkstate.State, bool)       { return nil, false }
func (s *stubLink) AcceptParcel(*parcel.Parcel) error            { return nil }
func (s *stubLink) AcceptRouteClosure(sequence.Number) error     { return nil }
func (s *stubLink) AcceptRouteDisconnected() error                { return nil }
func (s *stubLink) MarkSideStable()                               {}
func (s *stubLink) TryLockForBypass(cipher.NodeName) bool         { return false }
func (s *stubLink) TryLockForClosure() bool                       { return false }
func (s *stubLink) Unlock()                                       {}
func (s *stubLink) FlushOtherSideIfWaiting()                      {}
func (s *stubLink) CanNodeRequestBypass(cipher.NodeName) bool      { return false }
func (s *stubLink) Deactivate()                                   {}
func (s *stubLink) LocalPeerName() (cipher.NodeName, bool)         { return cipher.NodeName{}, false }
func (s *stubLink) LocalPeerRouter() (interface{}, bool)           { return nil, false }
func (s *stubLink) BypassPeer(routerlink.BypassTarget) error       { return nil }
func (s *stubLink) BypassPeerWithLink(uint64, *linkstate.State, sequence.Number) error {
	return nil
}
func (s *stubLink) StopProxying(sequence.Number, sequence.Number) error { return nil }
func (s *stubLink) StopProxyingToLocalPeer(sequence.Number) error       { return nil }
func (s *stubLink) ProxyWillStop(sequence.Number) error                 { return nil }

func TestEdgePickLinkBeforeDecay(t *testing.T) {
	primary := &stubLink{name: "primary"}
	e := New(primary)
	require.True(t, e.IsStable())

	link, ok := e.PickLinkFor(0)
	require.True(t, ok)
	require.Same(t, primary, link)
}

func TestEdgeDecayRouting(t *testing.T) {
	oldPrimary := &stubLink{name: "old"}
	newPrimary := &stubLink{name: "new"}
	e := New(oldPrimary)

	require.NoError(t, e.BeginPrimaryLinkDecay(newPrimary))
	require.False(t, e.IsStable())
	require.NoError(t, e.SetLengthToDecayingLink(5))

	link, ok := e.PickLinkFor(4)
	require.True(t, ok)
	require.Same(t, oldPrimary, link)

	link, ok = e.PickLinkFor(5)
	require.True(t, ok)
	require.Same(t, newPrimary, link)
}

func TestEdgeBeginDecayTwiceFails(t *testing.T) {
	e := New(&stubLink{name: "primary"})
	require.NoError(t, e.BeginPrimaryLinkDecay(&stubLink{name: "new"}))
	require.Error(t, e.BeginPrimaryLinkDecay(&stubLink{name: "other"}))
}

func TestEdgeSetLengthOnceOnly(t *testing.T) {
	e := New(&stubLink{name: "primary"})
	require.NoError(t, e.BeginPrimaryLinkDecay(&stubLink{name: "new"}))
	require.NoError(t, e.SetLengthToDecayingLink(3))
	require.Error(t, e.SetLengthToDecayingLink(4))
}

func TestEdgeMaybeFinishDecayIdempotent(t *testing.T) {
	e := New(&stubLink{name: "primary"})
	require.NoError(t, e.BeginPrimaryLinkDecay(&stubLink{name: "new"}))
	require.NoError(t, e.SetLengthToDecayingLink(2))
	require.NoError(t, e.SetLengthFromDecayingLink(3))

	require.False(t, e.MaybeFinishDecay(1, 3))
	require.False(t, e.MaybeFinishDecay(2, 2))
	require.True(t, e.MaybeFinishDecay(2, 3))
	require.True(t, e.IsStable())

	// idempotent: decaying already dropped.
	require.False(t, e.MaybeFinishDecay(2, 3))
}
