package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

// IDSize is the length in bytes of a derived extension identity.
const IDSize = 16

// DeriveID returns the first 16 bytes of sha256(pubDER).
//
// Consumers recompute this from the embedded public key, so it must depend on
// the DER bytes alone.
func DeriveID(pubDER []byte) []byte {
	sum := sha256.Sum256(pubDER)
	out := make([]byte, IDSize)
	copy(out, sum[:IDSize])
	return out
}

// ExtensionID returns the 32-character browser extension ID for pubDER: the
// hex encoding of DeriveID with digits 0-9a-f mapped onto a-p.
func ExtensionID(pubDER []byte) string {
	return IDString(DeriveID(pubDER))
}

// IDString maps a raw identity onto the a-p alphabet used for extension IDs.
func IDString(id []byte) string {
	h := []byte(hex.EncodeToString(id))
	for i, c := range h {
		if c >= '0' && c <= '9' {
			h[i] = 'a' + (c - '0')
		} else {
			h[i] = 'a' + 10 + (c - 'a')
		}
	}
	return string(h)
}
