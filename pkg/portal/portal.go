// Package portal implements the thin façade an application-level endpoint
// uses to drive a Router: Put/Get and their two-phase variants, Close,
// Merge, QueryStatus, and Trap — exactly the contract spec.md places on a
// terminal router, and no more. Grounded on ipcz::Portal
// (original_source/src/ipcz/portal.cc) for semantics, and on
// pkg/router/app_manager.go's small struct-with-a-mutex-plus-thin-methods
// style for shape.
package portal

import (
	"sync"

	"github.com/skycoin/meshrouter/pkg/parcel"
	"github.com/skycoin/meshrouter/pkg/router"
)

// PutLimits caps how much a single Put/BeginPut may send, the Go shape of
// ipcz's IpczPutLimits. The core keeps no separate outbound backlog
// counter (queued parcels drain on the next Flush rather than
// accumulating under application control), so unlike portal.cc's
// GetOutboundCapacityInBytes check this only ever bounds the one parcel
// being built, never a running backlog total.
type PutLimits struct {
	MaxQueuedBytes uint32
}

// PutTicket identifies one in-flight two-phase put. BeginPut hands one
// back with a buffer sized to the request; CommitPut/AbortPut take the
// same ticket back, playing the role the raw data pointer plays as the
// two-phase put key in ipcz::Portal.
type PutTicket struct {
	buf []byte
}

// Bytes is the buffer BeginPut allocated for the caller to fill before
// CommitPut.
func (t *PutTicket) Bytes() []byte { return t.buf }

// Portal wraps one terminal end of a route, translating the application
// API onto router.Router calls and enforcing Put/Get's two-phase
// exclusivity (at most one two-phase put and one two-phase get pending at
// once, per portal.cc).
type Portal struct {
	mu sync.Mutex

	router *router.Router

	pendingPuts map[*PutTicket]struct{}

	getInFlight bool
	getParcel   *parcel.Parcel
}

// New wraps r in a Portal.
func New(r *router.Router) *Portal {
	return &Portal{router: r, pendingPuts: make(map[*PutTicket]struct{})}
}

// Close closes the local side of the route, ipcz::Portal::Close.
func (p *Portal) Close() error {
	return p.router.CloseRoute()
}

// QueryStatus returns a snapshot of the route's portal-visible state,
// ipcz::Portal::QueryStatus.
func (p *Portal) QueryStatus() router.Status {
	return p.router.QueryStatus()
}

// Merge splices this portal's route and other's into one, ipcz::Portal::Merge.
func (p *Portal) Merge(other *Portal) error {
	return router.MergeRoute(p.router, other.router)
}

// Trap registers an observer fired on every status-relevant change. This
// is ipcz::Portal's trap mechanism narrowed to a single always-armed
// callback rather than a one-shot condition-masked trap: the core being
// exercised here has no app-level trap-condition API worth preserving
// beyond what Router.AddTrap already offers.
func (p *Portal) Trap(h func(router.Status)) {
	p.router.AddTrap(h)
}

// Put sends data in one step, the non-partial path of ipcz::Portal::Put.
func (p *Portal) Put(data []byte, limits *PutLimits) error {
	if err := checkPutLimits(limits, len(data)); err != nil {
		return err
	}
	if p.QueryStatus().PeerClosed {
		return &router.Error{Kind: router.KindNotFound, Msg: "put: peer closed"}
	}
	_, err := p.router.SendOutboundParcel(data, nil)
	return err
}

// BeginPut allocates a buffer of size numDataBytes for the caller to fill
// and returns the ticket CommitPut/AbortPut will need, ipcz::Portal::BeginPut.
func (p *Portal) BeginPut(numDataBytes int, limits *PutLimits) (*PutTicket, error) {
	if err := checkPutLimits(limits, numDataBytes); err != nil {
		return nil, err
	}
	if p.QueryStatus().PeerClosed {
		return nil, &router.Error{Kind: router.KindNotFound, Msg: "begin put: peer closed"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pendingPuts) != 0 {
		return nil, &router.Error{Kind: router.KindFailedPrecondition, Msg: "begin put: a two-phase put is already pending"}
	}
	t := &PutTicket{buf: make([]byte, numDataBytes)}
	p.pendingPuts[t] = struct{}{}
	return t, nil
}

// CommitPut sends the (possibly truncated) contents of a ticket BeginPut
// returned, ipcz::Portal::CommitPut.
func (p *Portal) CommitPut(t *PutTicket, numDataBytesProduced int) error {
	p.mu.Lock()
	if _, ok := p.pendingPuts[t]; !ok {
		p.mu.Unlock()
		return &router.Error{Kind: router.KindInvalidArgument, Msg: "commit put: unknown ticket"}
	}
	delete(p.pendingPuts, t)
	p.mu.Unlock()

	if numDataBytesProduced > len(t.buf) {
		return &router.Error{Kind: router.KindInvalidArgument, Msg: "commit put: too many bytes produced"}
	}
	_, err := p.router.SendOutboundParcel(t.buf[:numDataBytesProduced], nil)
	return err
}

// AbortPut discards a pending two-phase put without sending anything,
// ipcz::Portal::AbortPut.
func (p *Portal) AbortPut(t *PutTicket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pendingPuts[t]; !ok {
		return &router.Error{Kind: router.KindInvalidArgument, Msg: "abort put: unknown ticket"}
	}
	delete(p.pendingPuts, t)
	return nil
}

// Get retrieves the next inbound parcel's data in one step, or ok=false
// if none is ready yet, ipcz::Portal::Get.
func (p *Portal) Get() (data []byte, ok bool) {
	pc, ok := p.router.PopInboundParcel()
	if !ok {
		return nil, false
	}
	return pc.Data, true
}

// BeginGet peeks the next inbound parcel without removing it, returning
// its data for the caller to read in place, ipcz::Portal::BeginGet. Unlike
// portal.cc this core has no shared-memory parcel to read into, so the
// returned slice is simply the parcel's own backing array; CommitGet
// removes the parcel afterward.
func (p *Portal) BeginGet() (data []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.getInFlight {
		return nil, &router.Error{Kind: router.KindFailedPrecondition, Msg: "begin get: already in a two-phase get"}
	}
	if p.router.QueryStatus().Dead {
		return nil, &router.Error{Kind: router.KindNotFound, Msg: "begin get: route is dead"}
	}

	pc, ok := p.router.PeekInboundParcel()
	if !ok {
		return nil, &router.Error{Kind: router.KindNotFound, Msg: "begin get: nothing ready"}
	}

	p.getInFlight = true
	p.getParcel = pc
	return pc.Data, nil
}

// CommitGet finalizes a two-phase get, removing the parcel BeginGet peeked
// at from the inbound queue, ipcz::Portal::CommitGet. numDataBytesConsumed
// is accepted but unused beyond validation: this core has no partial-read
// concept, so a commit always consumes the whole parcel.
func (p *Portal) CommitGet(numDataBytesConsumed int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.getInFlight {
		return &router.Error{Kind: router.KindFailedPrecondition, Msg: "commit get: no two-phase get in progress"}
	}
	if numDataBytesConsumed > len(p.getParcel.Data) {
		return &router.Error{Kind: router.KindInvalidArgument, Msg: "commit get: too many bytes consumed"}
	}

	p.router.DropPeekedInboundParcel()
	p.getInFlight = false
	p.getParcel = nil
	return nil
}

// AbortGet cancels a two-phase get, leaving the peeked parcel in place for
// a later Get/BeginGet, ipcz::Portal::AbortGet.
func (p *Portal) AbortGet() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.getInFlight {
		return &router.Error{Kind: router.KindFailedPrecondition, Msg: "abort get: no two-phase get in progress"}
	}
	p.getInFlight = false
	p.getParcel = nil
	return nil
}

func checkPutLimits(limits *PutLimits, size int) error {
	if limits == nil || limits.MaxQueuedBytes == 0 {
		return nil
	}
	if uint32(size) > limits.MaxQueuedBytes {
		return &router.Error{Kind: router.KindResourceExhausted, Msg: "put exceeds MaxQueuedBytes"}
	}
	return nil
}
