package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Bits is the modulus size of generated keys. The public exponent is always 65537.
const Bits = 2048

const (
	pemTypePKCS8 = "PRIVATE KEY"
	pemTypePKCS1 = "RSA PRIVATE KEY"
)

// ErrInvalidKey is wrapped by every error caused by key file contents.
var ErrInvalidKey = errors.New("keys: invalid private key")

// WriteError reports that a newly generated key could not be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("keys: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// LoadOrGenerate returns the RSA key stored at path. If no file exists at
// path, a new 2048-bit key is generated, written there unencrypted (PKCS#8
// PEM, mode 0600) and returned with created == true.
//
// An existing file is never replaced. Callers must not run LoadOrGenerate
// concurrently for the same path from different processes unless they accept
// that one of them may lose the race and load the other's key.
func LoadOrGenerate(path string) (key *rsa.PrivateKey, created bool, err error) {
	if path == "" {
		return nil, false, errors.New("keys: empty key path")
	}
	key, err = Load(path)
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	key, err = Generate(rand.Reader)
	if err != nil {
		return nil, false, err
	}
	if err := Save(path, key); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another writer created the file first; use theirs.
			key, err = Load(path)
			return key, false, err
		}
		return nil, false, err
	}
	return key, true, nil
}

// Generate returns a new 2048-bit RSA key with public exponent 65537.
func Generate(random io.Reader) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(random, Bits)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return key, nil
}

// Load reads an unencrypted PEM private key. Both PKCS#8 ("PRIVATE KEY") and
// PKCS#1 ("RSA PRIVATE KEY") encodings are accepted; the key must be RSA.
func Load(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read %s: %w", path, err)
	}
	key, err := ParsePEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// ParsePEM parses the first PEM block in data as an unencrypted RSA private key.
func ParsePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	if _, ok := block.Headers["Proc-Type"]; ok {
		return nil, fmt.Errorf("%w: encrypted PEM is not supported", ErrInvalidKey)
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case pemTypePKCS8:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		rk, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: expected RSA key, got %T", ErrInvalidKey, parsed)
		}
		key = rk
	case pemTypePKCS1:
		rk, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		key = rk
	default:
		return nil, fmt.Errorf("%w: unsupported PEM type %q", ErrInvalidKey, block.Type)
	}

	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// MarshalPEM encodes key as an unencrypted PKCS#8 PEM block.
func MarshalPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der}), nil
}

// Save writes key to a new file at path as unencrypted PKCS#8 PEM with mode
// 0600. An existing file is left alone and an error wrapping os.ErrExist is
// returned.
func Save(path string, key *rsa.PrivateKey) error {
	data, err := MarshalPEM(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &WriteError{Path: path, Err: err}
		}
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return &WriteError{Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
