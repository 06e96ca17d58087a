package router

import "fmt"

// Kind classifies a router-level error without naming a Go type per kind,
// spec.md §7.
type Kind byte

const (
	// KindInvalidArgument covers API misuse: two-phase get without begin,
	// self-merge, sending on a closed route.
	KindInvalidArgument Kind = iota
	// KindResourceExhausted covers put-limit violations.
	KindResourceExhausted
	// KindNotFound covers operations against a route the peer already
	// closed.
	KindNotFound
	// KindFailedPrecondition covers a two-phase operation attempted in
	// the wrong state.
	KindFailedPrecondition
	// KindProtocolViolation covers a wire message inconsistent with local
	// state: sublink collision, bypass request from an unauthorized
	// source, StopProxying received by a non-proxy. RemoteRouterLink
	// returns it only for an unknown message type, and the NodeLink logs
	// it without disconnecting.
	KindProtocolViolation
	// KindTransportDisconnection covers the underlying NodeLink or local
	// peer going away.
	KindTransportDisconnection
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindNotFound:
		return "not found"
	case KindFailedPrecondition:
		return "failed precondition"
	case KindProtocolViolation:
		return "protocol violation"
	case KindTransportDisconnection:
		return "transport disconnection"
	default:
		return "unknown"
	}
}

// Error is a router-level error carrying a Kind, following the teacher's
// pattern of sentinel-ish errors inspected via errors.Cause rather than
// bespoke per-failure types (pkg/transport/manager.go's dialTransport).
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("router: %s: %s", e.Kind, e.Msg)
}

// newError constructs an *Error of the given kind.
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) a router *Error, and
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	type causer interface{ Cause() error }
	for err != nil {
		if rerr, ok := err.(*Error); ok {
			return rerr.Kind, true
		}
		c, ok := err.(causer)
		if !ok {
			return 0, false
		}
		err = c.Cause()
	}
	return 0, false
}
