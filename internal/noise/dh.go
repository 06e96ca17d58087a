package noise

import (
	"io"

	"github.com/flynn/noise"
	skycipher "github.com/skycoin/skycoin/src/cipher"
)

// Secp256k1 implements noise.DHFunc over the same curve NodeName public
// keys already use, so a NodeLink handshake needs no separate key type.
type Secp256k1 struct{}

// GenerateKeypair helps implement noise.DHFunc.
func (Secp256k1) GenerateKeypair(_ io.Reader) (noise.DHKey, error) {
	pk, sk := skycipher.GenerateKeyPair()
	return noise.DHKey{Private: sk[:], Public: pk[:]}, nil
}

// DH helps implement noise.DHFunc.
func (Secp256k1) DH(sk, pk []byte) []byte {
	return append(
		skycipher.MustECDH(skycipher.MustNewPubKey(pk), skycipher.MustNewSecKey(sk)),
		byte(0))
}

// DHLen helps implement noise.DHFunc.
func (Secp256k1) DHLen() int { return 33 }

// DHName helps implement noise.DHFunc.
func (Secp256k1) DHName() string { return "Secp256k1" }
