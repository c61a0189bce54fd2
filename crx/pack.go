package crx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"xdao.co/crx/archive"
	"xdao.co/crx/keys"
)

// DefaultKeyPath is the key file used when none is given.
const DefaultKeyPath = "extension.pem"

// Packer packages extension directories into containers.
//
// The key file at KeyPath is created on first use and reused afterwards.
// Packers sharing a KeyPath must not run concurrently.
type Packer struct {
	// KeyPath is the private key file. Empty means DefaultKeyPath.
	KeyPath string
	// Version is the container version to write. Zero means Version3.
	Version uint32
	// Logger receives progress records. Nil discards them.
	Logger *slog.Logger
}

// Result describes a written container.
type Result struct {
	Path        string
	Version     uint32
	Size        int
	ArchiveSize int
	ExtensionID string
	KeyCreated  bool
}

// Pack packages srcDir into a version 3 container at output, signing with
// the key at keyPath (DefaultKeyPath when empty).
func Pack(srcDir, output, keyPath string) (*Result, error) {
	return Packer{KeyPath: keyPath}.Pack(srcDir, output)
}

func (p Packer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Pack archives srcDir, signs it and atomically writes the container to
// output. On failure no file is left at output.
func (p Packer) Pack(srcDir, output string) (*Result, error) {
	log := p.logger()
	version := p.Version
	if version == 0 {
		version = Version3
	}
	if version != Version2 && version != Version3 {
		return nil, newError(KindEncoding, "CRX-ENC-003", fmt.Sprintf("unsupported container version %d", version))
	}
	keyPath := p.KeyPath
	if keyPath == "" {
		keyPath = DefaultKeyPath
	}

	zipped, err := archive.Directory(srcDir)
	if err != nil {
		return nil, wrapError(KindIO, "CRX-IO-001", "archive "+srcDir, err)
	}
	log.Debug("archived source directory", "dir", srcDir, "bytes", len(zipped))

	key, created, err := keys.LoadOrGenerate(keyPath)
	if err != nil {
		var we *keys.WriteError
		if errors.As(err, &we) {
			return nil, wrapError(KindIO, "CRX-IO-004", "persist new key", err)
		}
		return nil, wrapError(KindKey, "CRX-KEY-001", "load key "+keyPath, err)
	}
	if created {
		log.Info("generated new signing key", "path", keyPath, "bits", keys.Bits)
	}

	out, err := Build(version, key, zipped)
	if err != nil {
		return nil, err
	}

	// The consumer checks these relationships independently; refuse to write
	// a container that would fail them.
	parsed, err := Parse(out)
	if err != nil {
		return nil, wrapError(KindEncoding, "CRX-ENC-004", "built container does not parse", err)
	}
	if err := Verify(parsed); err != nil {
		return nil, wrapError(KindEncoding, "CRX-ENC-004", "built container does not verify", err)
	}

	if err := WriteFileAtomic(output, out); err != nil {
		return nil, wrapError(KindIO, "CRX-IO-002", "write "+output, err)
	}

	res := &Result{
		Path:        output,
		Version:     version,
		Size:        len(out),
		ArchiveSize: len(zipped),
		ExtensionID: parsed.ExtensionID(),
		KeyCreated:  created,
	}
	log.Info("wrote container", "path", output, "version", version, "bytes", res.Size, "id", res.ExtensionID)
	return res, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place. The result has mode 0644. On failure the temporary file is
// removed and path is untouched.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	if _, err := f.Write(data); err != nil {
		return cleanup(err)
	}
	if err := f.Sync(); err != nil {
		return cleanup(err)
	}
	if err := f.Chmod(0o644); err != nil {
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
