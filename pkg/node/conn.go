package node

import (
	"net"
	"time"

	"github.com/skycoin/meshrouter/internal/noise"
	"github.com/skycoin/meshrouter/pkg/cipher"
)

// secureConn layers a noise.ReadWriter over a raw net.Conn, exposing it as
// a net.Conn again once the handshake has completed: the teacher's own
// noise package (internal/noise) carried this wiring in a net.go this pack
// didn't retrieve, so Node.Dial/Node.ListenAndServe (node.go) drive this
// type directly rather than a ported net.Conn wrapper.
type secureConn struct {
	net.Conn
	rw *noise.ReadWriter

	// pending holds decrypted bytes of the last noise packet that an
	// earlier Read's buffer was too small to take.
	pending []byte
}

func (c *secureConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		buf := make([]byte, 1<<16)
		n, err := c.rw.Read(buf)
		if err != nil {
			return 0, err
		}
		c.pending = buf[:n]
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *secureConn) Write(p []byte) (int, error) { return c.rw.Write(p) }

// wrapSecure performs an XK noise handshake over raw and returns a net.Conn
// that transparently encrypts/decrypts through it, plus the peer's static
// public key. Dialing requires knowing remote in advance (XK's "K" half for
// the responder); accepting leaves remote as the zero key and learns the
// real one from the handshake instead.
func wrapSecure(raw net.Conn, local cipher.PubKey, localSK cipher.SecKey, remote cipher.PubKey, initiator bool, hsTimeout time.Duration) (net.Conn, cipher.PubKey, error) {
	ns, err := noise.XKAndSecp256k1(noise.Config{
		LocalPK:   local,
		LocalSK:   localSK,
		RemotePK:  remote,
		Initiator: initiator,
	})
	if err != nil {
		return nil, cipher.PubKey{}, err
	}

	rw := noise.NewReadWriter(raw, ns)
	if err := rw.Handshake(hsTimeout); err != nil {
		return nil, cipher.PubKey{}, err
	}
	return &secureConn{Conn: raw, rw: rw}, rw.RemoteStatic(), nil
}
