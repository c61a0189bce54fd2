package crx

import (
	"bytes"
	"crypto"
	"fmt"

	"xdao.co/crx/keys"
)

// Verify re-checks the signatures and identity of a parsed container.
//
// Version 2: the SHA-1 signature over the archive must verify under the
// embedded key. Version 3: signed_header_data must be present, at least one
// sha256_with_rsa proof must exist, every such proof must verify over the
// signed data, and crx_id must equal the derived ID of one of the proof keys.
// ECDSA proofs are not checked.
func Verify(c *Container) error {
	if c == nil {
		return newError(KindVerify, "CRX-VER-000", "nil container")
	}
	switch {
	case c.V2 != nil:
		return verifyV2(c)
	case c.V3 != nil:
		return verifyV3(c)
	default:
		return newError(KindVerify, "CRX-VER-000", fmt.Sprintf("container version %d has no header", c.Version))
	}
}

func verifyV2(c *Container) error {
	pub, err := keys.ParsePublicKeyDER(c.V2.PublicKey)
	if err != nil {
		return wrapError(KindVerify, "CRX-VER-004", "invalid public key", err)
	}
	if err := keys.VerifyPKCS1v15(pub, crypto.SHA1, c.Archive, c.V2.Signature); err != nil {
		return wrapError(KindVerify, "CRX-VER-005", "archive signature invalid", err)
	}
	return nil
}

func verifyV3(c *Container) error {
	h := c.V3
	if h.SignedHeaderData == nil {
		return newError(KindVerify, "CRX-VER-006", "missing signed_header_data")
	}
	toSign, err := SignedData(h.SignedHeaderData, c.Archive)
	if err != nil {
		return err
	}

	idMatched := false
	rsaProofs := 0
	for i, p := range h.Proofs {
		if p.Algorithm != SHA256WithRSA {
			continue
		}
		rsaProofs++
		pub, err := keys.ParsePublicKeyDER(p.PublicKey)
		if err != nil {
			return wrapError(KindVerify, "CRX-VER-004", fmt.Sprintf("proof %d: invalid public key", i), err)
		}
		if err := keys.VerifyPKCS1v15(pub, crypto.SHA256, toSign, p.Signature); err != nil {
			return wrapError(KindVerify, "CRX-VER-002", fmt.Sprintf("proof %d: signature invalid", i), err)
		}
		if bytes.Equal(keys.DeriveID(p.PublicKey), h.CrxID) {
			idMatched = true
		}
	}
	if rsaProofs == 0 {
		return newError(KindVerify, "CRX-VER-001", "no sha256_with_rsa proof")
	}
	if !idMatched {
		return newError(KindVerify, "CRX-VER-003", fmt.Sprintf("crx_id %x does not match any proof key", h.CrxID))
	}
	return nil
}
