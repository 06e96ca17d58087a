// Package cipher provides the node identity primitives used across the
// mesh: key pairs for authenticating a NodeLink handshake, and the
// 128-bit NodeName derived from a node's public key that the bypass
// protocol stamps into allowed_bypass_request_source and bypass-target
// fields.
package cipher

import (
	"encoding/hex"
	"errors"

	skycipher "github.com/skycoin/skycoin/src/cipher"
)

// PubKey is a node's static public key, used to authenticate the NodeLink
// handshake between two processes.
type PubKey skycipher.PubKey

// SecKey is a node's static secret key.
type SecKey skycipher.SecKey

// GenerateKeyPair generates a new static key pair for a node.
func GenerateKeyPair() (PubKey, SecKey) {
	pk, sk := skycipher.GenerateKeyPair()
	return PubKey(pk), SecKey(sk)
}

// PubKeyFromSecKey derives the public key of a secret key.
func PubKeyFromSecKey(sk SecKey) PubKey {
	pk, _ := skycipher.PubKeyFromSecKey(skycipher.SecKey(sk))
	return PubKey(pk)
}

// NewPubKey parses a public key from its raw bytes, used to recover the
// peer's static key noise.HandshakeState hands back once a handshake
// completes.
func NewPubKey(b []byte) (PubKey, error) {
	pk, err := skycipher.NewPubKey(b)
	return PubKey(pk), err
}

// PubKeyFromHex parses a hex-encoded public key, the form a config file or
// CLI flag names a peer's identity in.
func PubKeyFromHex(s string) (PubKey, error) {
	pk, err := skycipher.PubKeyFromHex(s)
	return PubKey(pk), err
}

// SecKeyFromHex parses a hex-encoded secret key.
func SecKeyFromHex(s string) (SecKey, error) {
	sk, err := skycipher.SecKeyFromHex(s)
	return SecKey(sk), err
}

// Null reports whether pk is the zero value.
func (pk PubKey) Null() bool {
	return pk == PubKey{}
}

// Hex returns the hex encoding of pk.
func (pk PubKey) Hex() string {
	return skycipher.PubKey(pk).Hex()
}

// String implements fmt.Stringer.
func (pk PubKey) String() string {
	return pk.Hex()
}

// Set implements pflag.Value, letting a PubKey be used directly as a cobra
// flag type.
func (pk *PubKey) Set(s string) error {
	parsed, err := PubKeyFromHex(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Type implements pflag.Value.
func (pk PubKey) Type() string { return "pubkey" }

// UnmarshalText implements encoding.TextUnmarshaler, letting viper decode a
// PubKey directly out of a config file field.
func (pk *PubKey) UnmarshalText(text []byte) error {
	return pk.Set(string(text))
}

// Hex returns the hex encoding of sk.
func (sk SecKey) Hex() string {
	return skycipher.SecKey(sk).Hex()
}

// String implements fmt.Stringer.
func (sk SecKey) String() string {
	return sk.Hex()
}

// Set implements pflag.Value.
func (sk *SecKey) Set(s string) error {
	parsed, err := SecKeyFromHex(s)
	if err != nil {
		return err
	}
	*sk = parsed
	return nil
}

// Type implements pflag.Value.
func (sk SecKey) Type() string { return "seckey" }

// UnmarshalText implements encoding.TextUnmarshaler.
func (sk *SecKey) UnmarshalText(text []byte) error {
	return sk.Set(string(text))
}

// NodeNameSize is the length, in bytes, of a NodeName: spec.md calls for a
// 128-bit node identity.
const NodeNameSize = 16

// NodeName is the 128-bit identifier of a node, used by the bypass protocol
// to tag which node is permitted to request a given bypass
// (allowed_bypass_request_source) and to name bypass targets on the wire
// (BypassPeer.target_node, AcceptBypassLink.proxy_node, ...).
type NodeName [NodeNameSize]byte

// NodeNameFromPubKey derives a NodeName from a node's public key by hashing
// it down to 128 bits. Two NodeLink endpoints agree on each other's
// NodeName only once they've completed the handshake in pkg/node, so this
// derivation need not be collision-resistant against an adversary who
// hasn't already authenticated — it only has to be stable and practically
// unique across the mesh.
func NodeNameFromPubKey(pk PubKey) NodeName {
	sum := skycipher.SumSHA256(pk[:])
	var name NodeName
	copy(name[:], sum[:NodeNameSize])
	return name
}

// Null reports whether n is the zero value.
func (n NodeName) Null() bool {
	return n == NodeName{}
}

// String implements fmt.Stringer.
func (n NodeName) String() string {
	return hex.EncodeToString(n[:])
}

// NodeNameFromHex parses a hex-encoded NodeName.
func NodeNameFromHex(s string) (NodeName, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeName{}, err
	}
	if len(b) != NodeNameSize {
		return NodeName{}, errors.New("cipher: invalid NodeName length")
	}
	var n NodeName
	copy(n[:], b)
	return n, nil
}

// RandByte returns n cryptographically random bytes.
func RandByte(n int) []byte {
	return skycipher.RandByte(n)
}
