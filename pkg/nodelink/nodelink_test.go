package nodelink

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
	"github.com/skycoin/meshrouter/pkg/linkstate"
	"github.com/skycoin/meshrouter/pkg/wire"
)

type recordingHandler struct {
	frames chan wire.Frame
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{frames: make(chan wire.Frame, 8)}
}

func (h *recordingHandler) HandleFrame(f wire.Frame) error {
	h.frames <- f
	return nil
}

func namePair(t *testing.T) (a, b cipher.NodeName) {
	t.Helper()
	pkA, _ := cipher.GenerateKeyPair()
	pkB, _ := cipher.GenerateKeyPair()
	return cipher.NodeNameFromPubKey(pkA), cipher.NodeNameFromPubKey(pkB)
}

func TestNodeLinkSendDispatchesToBoundSublink(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	nameA, nameB := namePair(t)
	linkA := New(connA, nameA, nameB, NewInMemory())
	linkB := New(connB, nameB, nameA, NewInMemory())

	h := newRecordingHandler()
	linkB.BindSublink(7, h)

	go linkB.Serve()

	require.NoError(t, linkA.Send(wire.TypeFlushRouter, 7, wire.FlushRouter{}))

	select {
	case f := <-h.frames:
		require.Equal(t, wire.TypeFlushRouter, f.Type())
		require.Equal(t, uint64(7), f.Sublink())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestNodeLinkDropsFrameForUnknownSublink(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	nameA, nameB := namePair(t)
	linkA := New(connA, nameA, nameB, NewInMemory())
	linkB := New(connB, nameB, nameA, NewInMemory())

	h := newRecordingHandler()
	linkB.BindSublink(1, h)
	go linkB.Serve()

	require.NoError(t, linkA.Send(wire.TypeFlushRouter, 99, wire.FlushRouter{}))

	select {
	case <-h.frames:
		t.Fatal("handler for sublink 1 should not have received a frame addressed to 99")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNodeLinkCloseIsIdempotent(t *testing.T) {
	connA, connB := net.Pipe()
	defer connB.Close()

	nameA, nameB := namePair(t)
	linkA := New(connA, nameA, nameB, NewInMemory())

	require.NoError(t, linkA.Close())
	require.NoError(t, linkA.Close())

	select {
	case <-linkA.Done():
	default:
		t.Fatal("Done() channel should be closed")
	}
}

func TestInMemoryResolveBufferFiresWaiters(t *testing.T) {
	mem := NewInMemory()
	id := mem.AllocateBufferId()

	fired := make(chan struct{}, 1)
	mem.WaitForBufferAsync(id, func() { fired <- struct{}{} })

	frag, ok := mem.TryAllocateRouterLinkState()
	require.True(t, ok)
	state, ok := frag.TryGet()
	require.True(t, ok)

	mem.ResolveBuffer(id, state)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("waiter never fired")
	}
}

func TestFragmentWaitAsyncSynchronousWhenAddressable(t *testing.T) {
	mem := NewInMemory()
	frag, ok := mem.TryAllocateRouterLinkState()
	require.True(t, ok)

	called := false
	frag.WaitAsync(func(s *linkstate.State) {
		require.NotNil(t, s)
		called = true
	})
	require.True(t, called, "WaitAsync must call back synchronously once already addressable")
}
