package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
)

func digestFor(hash crypto.Hash, message []byte) ([]byte, error) {
	switch hash {
	case crypto.SHA1:
		s := sha1.Sum(message)
		return s[:], nil
	case crypto.SHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash %v", hash)
	}
}

// SignPKCS1v15 returns an RSASSA-PKCS1-v1_5 signature over hash(message).
// The padding is deterministic, so equal inputs give equal signatures.
func SignPKCS1v15(key *rsa.PrivateKey, hash crypto.Hash, message []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	digest, err := digestFor(hash, message)
	if err != nil {
		return nil, err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig, nil
}

// VerifyPKCS1v15 checks an RSASSA-PKCS1-v1_5 signature over hash(message).
func VerifyPKCS1v15(pub *rsa.PublicKey, hash crypto.Hash, message, sig []byte) error {
	digest, err := digestFor(hash, message)
	if err != nil {
		return err
	}
	return rsa.VerifyPKCS1v15(pub, hash, digest, sig)
}
