// Package nodelink implements NodeLink: the multiplexer that carries many
// RouterLinks over one transport connection, addressed by SublinkId, plus
// the Memory abstraction spec.md §3/§6 places between a NodeLink and
// whatever backs its shared RouterLinkState cells. Grounded on the
// teacher's dmsg.ClientConn/dmsg.Transport split (pkg/dmsg/client.go,
// pkg/dmsg/transport.go): one connection multiplexing many logical
// transports by a small integer id, dispatched by a single Serve loop.
package nodelink

import (
	"sync"

	"github.com/google/uuid"

	"github.com/skycoin/meshrouter/pkg/linkstate"
)

// SublinkId addresses one RouterLink multiplexed over a NodeLink.
type SublinkId uint64

// BufferId names a block of shared memory a Fragment is carved from. The
// core never actually maps shared memory (spec.md's explicit Non-goal); a
// BufferId here just needs to be a stable, comparable handle two nodes can
// agree names the same buffer, so it is a UUID rather than a locally
// allocated counter — grounded on the teacher's own use of
// `github.com/google/uuid` wherever a value needs to be unique across
// processes without central coordination (skywire's transport/route ids).
type BufferId = uuid.UUID

// FragmentDescriptor names a typed slice of a shared buffer: spec.md's
// (BufferId, offset, size) triple.
type FragmentDescriptor struct {
	Buffer BufferId
	Offset uint32
	Size   uint32
}

// fragmentStatus is a Fragment's addressability state.
type fragmentStatus byte

const (
	fragmentPending fragmentStatus = iota
	fragmentAddressable
)

// Fragment is a typed slice of memory that may not be addressable yet: its
// backing buffer might have arrived out of order relative to the
// descriptor naming it. Since this core never actually maps real shared
// memory, an Addressable Fragment simply owns its own backing State value;
// a Pending one holds registered one-shot waiters that fire once the
// buffer arrives.
type Fragment struct {
	mu     sync.Mutex
	status fragmentStatus
	state  *linkstate.State
	descr  FragmentDescriptor
	waiters []func(*linkstate.State)
}

// newAddressableFragment wraps an already-available state.
func newAddressableFragment(descr FragmentDescriptor, state *linkstate.State) *Fragment {
	return &Fragment{status: fragmentAddressable, state: state, descr: descr}
}

// newPendingFragment creates a Fragment whose buffer has not arrived yet.
func newPendingFragment(descr FragmentDescriptor) *Fragment {
	return &Fragment{status: fragmentPending, descr: descr}
}

// Descriptor returns the fragment's naming triple.
func (f *Fragment) Descriptor() FragmentDescriptor {
	return f.descr
}

// TryGet returns the fragment's State if addressable.
func (f *Fragment) TryGet() (*linkstate.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != fragmentAddressable {
		return nil, false
	}
	return f.state, true
}

// WaitAsync registers cb to run once the fragment becomes addressable. If
// it already is, cb runs synchronously on the calling goroutine — callers
// must not hold a Router mutex when calling WaitAsync, mirroring spec.md
// §5's rule that the state allocator's async path may resolve inline.
func (f *Fragment) WaitAsync(cb func(*linkstate.State)) {
	f.mu.Lock()
	if f.status == fragmentAddressable {
		state := f.state
		f.mu.Unlock()
		cb(state)
		return
	}
	f.waiters = append(f.waiters, cb)
	f.mu.Unlock()
}

// resolve marks the fragment addressable and fires any pending waiters.
func (f *Fragment) resolve(state *linkstate.State) {
	f.mu.Lock()
	if f.status == fragmentAddressable {
		f.mu.Unlock()
		return
	}
	f.status = fragmentAddressable
	f.state = state
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		w(state)
	}
}

// Memory is the allocator a NodeLink uses for SublinkIds, BufferIds, and
// RouterLinkState cells: spec.md §3/§6's Memory interface, kept abstract
// so a future implementation can back it with real shared memory without
// touching the router/link logic above it.
type Memory interface {
	// AllocateSublinkIds reserves n consecutive SublinkIds and returns the
	// first.
	AllocateSublinkIds(n int) SublinkId

	// AllocateBufferId reserves a fresh BufferId.
	AllocateBufferId() BufferId

	// AllocateRouterLinkState asynchronously allocates a fresh
	// RouterLinkState cell, invoking cb with its Fragment once ready. cb
	// may run synchronously.
	AllocateRouterLinkState(cb func(*Fragment))

	// TryAllocateRouterLinkState attempts a synchronous allocation,
	// succeeding when capacity is immediately available.
	TryAllocateRouterLinkState() (*Fragment, bool)

	// GetFragment returns the Fragment named by descr, creating a Pending
	// one if its buffer hasn't arrived yet.
	GetFragment(descr FragmentDescriptor) *Fragment

	// WaitForBufferAsync invokes cb once buffer id arrives, resolving any
	// Fragments that reference it. cb may run synchronously if the buffer
	// is already known.
	WaitForBufferAsync(id BufferId, cb func())

	// ResolveBuffer is called once a buffer's contents are known (e.g. a
	// LocalRouterLink installing a freshly allocated state cell, or a
	// RemoteRouterLink receiving one from its peer). It resolves every
	// Fragment previously handed out against id.
	ResolveBuffer(id BufferId, state *linkstate.State)
}

// inMemory is a Memory backed by plain Go maps: the only implementation
// this core ships, since real shared-memory buffer mapping is out of
// scope (spec.md's Non-goals). It still honors the Pending/Addressable
// distinction so RemoteRouterLink code paths exercise the same
// synchronization discipline they would need against a real backing
// store.
type inMemory struct {
	mu sync.Mutex

	nextSublink SublinkId
	fragments   map[BufferId]*Fragment
	waiters     map[BufferId][]func()
}

// NewInMemory constructs the default Memory implementation.
func NewInMemory() Memory {
	return &inMemory{
		fragments: make(map[BufferId]*Fragment),
		waiters:   make(map[BufferId][]func()),
	}
}

func (m *inMemory) AllocateSublinkIds(n int) SublinkId {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.nextSublink
	m.nextSublink += SublinkId(n)
	return first
}

func (m *inMemory) AllocateBufferId() BufferId {
	return uuid.New()
}

func (m *inMemory) AllocateRouterLinkState(cb func(*Fragment)) {
	frag, _ := m.TryAllocateRouterLinkState()
	cb(frag)
}

func (m *inMemory) TryAllocateRouterLinkState() (*Fragment, bool) {
	id := m.AllocateBufferId()
	descr := FragmentDescriptor{Buffer: id, Size: 0}
	frag := newAddressableFragment(descr, linkstate.New())

	m.mu.Lock()
	m.fragments[id] = frag
	m.mu.Unlock()
	return frag, true
}

func (m *inMemory) GetFragment(descr FragmentDescriptor) *Fragment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frag, ok := m.fragments[descr.Buffer]; ok {
		return frag
	}
	frag := newPendingFragment(descr)
	m.fragments[descr.Buffer] = frag
	return frag
}

func (m *inMemory) WaitForBufferAsync(id BufferId, cb func()) {
	m.mu.Lock()
	if _, ok := m.fragments[id]; ok {
		if frag := m.fragments[id]; frag != nil {
			if _, addressable := frag.TryGet(); addressable {
				m.mu.Unlock()
				cb()
				return
			}
		}
	}
	m.waiters[id] = append(m.waiters[id], cb)
	m.mu.Unlock()
}

func (m *inMemory) ResolveBuffer(id BufferId, state *linkstate.State) {
	m.mu.Lock()
	frag, ok := m.fragments[id]
	if !ok {
		frag = newPendingFragment(FragmentDescriptor{Buffer: id})
		m.fragments[id] = frag
	}
	waiters := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()

	frag.resolve(state)
	for _, w := range waiters {
		w()
	}
}
