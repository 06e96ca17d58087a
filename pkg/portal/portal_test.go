package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/router"
	"github.com/skycoin/meshrouter/pkg/routerlink"
)

// newPair builds two Portals wired directly to each other by a local
// Central link pair, the shape ipcz::Portal::CreatePair gives a freshly
// created route with no proxies.
func newPair(t *testing.T) (a, b *Portal) {
	t.Helper()
	ra := router.NewTerminal(nil, cipher.NodeName{})
	rb := router.NewTerminal(nil, cipher.NodeName{})
	aLink, bLink := router.NewLocalLinkPair(ra, rb, routerlink.Central, routerlink.Central)
	ra.SetOutwardLink(aLink)
	rb.SetOutwardLink(bLink)
	return New(ra), New(rb)
}

func TestPutGetRoundTrip(t *testing.T) {
	a, b := newPair(t)

	require.NoError(t, a.Put([]byte("hello"), nil))

	require.Eventually(t, func() bool {
		data, ok := b.Get()
		if !ok {
			return false
		}
		require.Equal(t, "hello", string(data))
		return true
	}, time.Second, time.Millisecond)
}

func TestPutRespectsLimits(t *testing.T) {
	a, _ := newPair(t)

	err := a.Put([]byte("too long"), &PutLimits{MaxQueuedBytes: 3})
	require.Error(t, err)
	kind, ok := router.KindOf(err)
	require.True(t, ok)
	require.Equal(t, router.KindResourceExhausted, kind)
}

func TestTwoPhasePut(t *testing.T) {
	a, b := newPair(t)

	ticket, err := a.BeginPut(5, nil)
	require.NoError(t, err)
	copy(ticket.Bytes(), "abcde")
	require.NoError(t, a.CommitPut(ticket, 5))

	require.Eventually(t, func() bool {
		data, ok := b.Get()
		return ok && string(data) == "abcde"
	}, time.Second, time.Millisecond)
}

func TestTwoPhasePutAbort(t *testing.T) {
	a, _ := newPair(t)

	ticket, err := a.BeginPut(4, nil)
	require.NoError(t, err)
	require.NoError(t, a.AbortPut(ticket))

	require.Error(t, a.CommitPut(ticket, 0))
}

func TestTwoPhaseGet(t *testing.T) {
	a, b := newPair(t)
	require.NoError(t, a.Put([]byte("peek me"), nil))

	require.Eventually(t, func() bool {
		_, ok := b.router.PeekInboundParcel()
		return ok
	}, time.Second, time.Millisecond)

	data, err := b.BeginGet()
	require.NoError(t, err)
	require.Equal(t, "peek me", string(data))

	_, err = b.BeginGet()
	require.Error(t, err)

	require.NoError(t, b.CommitGet(len(data)))

	_, ok := b.Get()
	require.False(t, ok)
}

func TestTwoPhaseGetAbortLeavesParcelInPlace(t *testing.T) {
	a, b := newPair(t)
	require.NoError(t, a.Put([]byte("still here"), nil))

	require.Eventually(t, func() bool {
		_, ok := b.router.PeekInboundParcel()
		return ok
	}, time.Second, time.Millisecond)

	_, err := b.BeginGet()
	require.NoError(t, err)
	require.NoError(t, b.AbortGet())

	data, ok := b.Get()
	require.True(t, ok)
	require.Equal(t, "still here", string(data))
}

func TestCloseFiresPeerClosedTrap(t *testing.T) {
	a, b := newPair(t)

	statusCh := make(chan router.Status, 4)
	b.Trap(func(s router.Status) { statusCh <- s })

	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		return b.QueryStatus().PeerClosed
	}, time.Second, time.Millisecond)
}

func TestMergeSplicesTwoRoutesTogether(t *testing.T) {
	// o1 <-central-> m1    o2 <-central-> m2
	// Merge(m1, m2) should eliminate m1/m2 entirely, leaving o1 and o2
	// talking directly.
	o1 := router.NewTerminal(nil, cipher.NodeName{})
	m1 := router.NewTerminal(nil, cipher.NodeName{})
	o1Link, m1Link := router.NewLocalLinkPair(o1, m1, routerlink.Central, routerlink.Central)
	o1.SetOutwardLink(o1Link)
	m1.SetOutwardLink(m1Link)

	o2 := router.NewTerminal(nil, cipher.NodeName{})
	m2 := router.NewTerminal(nil, cipher.NodeName{})
	o2Link, m2Link := router.NewLocalLinkPair(o2, m2, routerlink.Central, routerlink.Central)
	o2.SetOutwardLink(o2Link)
	m2.SetOutwardLink(m2Link)

	pm1, pm2 := New(m1), New(m2)
	require.NoError(t, pm1.Merge(pm2))

	po1 := New(o1)
	require.NoError(t, po1.Put([]byte("across the merge"), nil))

	po2 := New(o2)
	require.Eventually(t, func() bool {
		data, ok := po2.Get()
		return ok && string(data) == "across the merge"
	}, time.Second, time.Millisecond)
}
