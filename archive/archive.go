// Package archive builds the ZIP payload of an extension container.
//
// Output is a pure function of the relative paths and contents of the files
// under the source directory: entries are sorted by slash-separated path,
// every entry is stored as a regular file with mode 0644 and a fixed
// modification time, and no directory entries are written.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
)

// FileMode is the mode recorded for every entry.
const FileMode fs.FileMode = 0o644

// Epoch is the modification time recorded for every entry (the ZIP epoch).
var Epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Entry is a file selected for archiving.
type Entry struct {
	// Name is the slash-separated path relative to the source directory.
	Name string
	// Path is the path on disk.
	Path string
}

// Collect walks dir and returns its regular files sorted by Name. A
// symlinked dir is resolved before walking; symlinks inside it are followed
// only when they resolve to regular files.
func Collect(dir string) ([]Entry, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("archive: %s is not a directory", dir)
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink == 0 {
				return nil
			}
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Name: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Write writes the ZIP archive of dir to w.
func Write(w io.Writer, dir string) error {
	entries, err := Collect(dir)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

// Directory returns the ZIP archive of dir.
func Directory(dir string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, dir); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addFile(zw *zip.Writer, e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: Epoch,
	}
	hdr.SetMode(FileMode)
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("archive: %s: %w", e.Name, err)
	}
	return nil
}

// Info describes one entry of an existing archive.
type Info struct {
	Name             string
	Mode             fs.FileMode
	CompressedSize   uint64
	UncompressedSize uint64
}

// ErrNotZip is returned by List when data is not a readable ZIP archive.
var ErrNotZip = errors.New("archive: not a zip archive")

// List returns the entries of a ZIP archive held in memory, in stored order.
func List(data []byte) ([]Info, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}
	out := make([]Info, 0, len(zr.File))
	for _, f := range zr.File {
		out = append(out, Info{
			Name:             f.Name,
			Mode:             f.Mode(),
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
		})
	}
	return out, nil
}

// ReadFile returns the uncompressed contents of the named entry.
func ReadFile(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive: %s: %w", name, fs.ErrNotExist)
}
