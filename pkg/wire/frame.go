// Package wire implements the on-the-wire framing and message set carried
// over a NodeLink: spec.md §6. Framing follows dmsg's fixed-size header
// (pkg/dmsg/frame.go's MakeFrame/readFrame/writeFrame) extended with a
// 64-bit sublink id (dmsg multiplexes on a 16-bit channel id the same way)
// and a per-link monotonic message sequence number. Structured payloads are
// JSON, the same choice pkg/app/protocol.go makes for its Send/Serve frames
// rather than a binary layout — control messages are low-rate and
// human-inspectable JSON beats hand-rolled field packing for the dozen
// message shapes below.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type identifies the kind of message a Frame carries.
type Type byte

// Message types, spec.md §6.
const (
	TypeAcceptParcel Type = iota
	TypeRouteClosed
	TypeRouteDisconnected
	TypeFlushRouter
	TypeBypassPeer
	TypeAcceptBypassLink
	TypeBypassPeerWithLink
	TypeStopProxying
	TypeProxyWillStop
	TypeStopProxyingToLocalPeer
	TypeAcceptRouter
	TypeHandshake
)

func (t Type) String() string {
	names := []string{
		"AcceptParcel",
		"RouteClosed",
		"RouteDisconnected",
		"FlushRouter",
		"BypassPeer",
		"AcceptBypassLink",
		"BypassPeerWithLink",
		"StopProxying",
		"ProxyWillStop",
		"StopProxyingToLocalPeer",
		"AcceptRouter",
		"Handshake",
	}
	if int(t) >= len(names) {
		return fmt.Sprintf("unknown(%d)", t)
	}
	return names[t]
}

// headerLen is the fixed frame header: type(1) + sublink(8) + seq(8) +
// payLen(4), mirroring dmsg's fType+chID+payLen layout extended for a
// wider multiplexing id and a message sequence number.
const headerLen = 1 + 8 + 8 + 4

// Frame is one length-delimited unit on a NodeLink connection.
type Frame []byte

// MakeFrame builds a Frame of the given type addressed to sublink, stamped
// with seq, carrying payload pay.
func MakeFrame(t Type, sublink uint64, seq uint64, pay []byte) Frame {
	f := make(Frame, headerLen+len(pay))
	f[0] = byte(t)
	binary.BigEndian.PutUint64(f[1:9], sublink)
	binary.BigEndian.PutUint64(f[9:17], seq)
	binary.BigEndian.PutUint32(f[17:21], uint32(len(pay)))
	copy(f[headerLen:], pay)
	return f
}

// Type returns the frame's message type.
func (f Frame) Type() Type { return Type(f[0]) }

// Sublink returns the frame's destination sublink id.
func (f Frame) Sublink() uint64 { return binary.BigEndian.Uint64(f[1:9]) }

// Seq returns the frame's per-link monotonic message sequence number.
func (f Frame) Seq() uint64 { return binary.BigEndian.Uint64(f[9:17]) }

// PayLen returns the declared payload length.
func (f Frame) PayLen() int { return int(binary.BigEndian.Uint32(f[17:21])) }

// Pay returns the frame's payload.
func (f Frame) Pay() []byte { return f[headerLen:] }

func (f Frame) String() string {
	return fmt.Sprintf("<type:%s><sublink:%d><seq:%d><size:%d>", f.Type(), f.Sublink(), f.Seq(), f.PayLen())
}

// ReadFrame reads one Frame from r, blocking until the header and full
// payload arrive.
func ReadFrame(r io.Reader) (Frame, error) {
	f := make(Frame, headerLen)
	if _, err := io.ReadFull(r, f); err != nil {
		return nil, err
	}
	f = append(f, make([]byte, f.PayLen())...)
	if _, err := io.ReadFull(r, f[headerLen:]); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteFrame writes f to w in one call.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(f)
	return err
}

// EncodePayload JSON-marshals v for use as a Frame's payload.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload JSON-unmarshals a Frame's payload into v.
func DecodePayload(pay []byte, v interface{}) error {
	return json.Unmarshal(pay, v)
}
