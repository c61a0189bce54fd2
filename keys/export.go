package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// PublicKeyDER returns the SubjectPublicKeyInfo DER encoding of the key's public half.
func PublicKeyDER(key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	return der, nil
}

// PublicKeyPEM returns the public key as a "PUBLIC KEY" PEM block.
func PublicKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := PublicKeyDER(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKeyDER parses SubjectPublicKeyInfo DER bytes as an RSA public key.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	rk, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: expected RSA public key, got %T", pub)
	}
	return rk, nil
}
