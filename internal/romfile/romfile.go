// Package romfile loads ROM and save images from disk, unpacking gzip, zip
// and 7z archives, and digests images for verification.
package romfile

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/cespare/xxhash"
)

// ErrEmptyArchive indicates an archive with no files in it.
var ErrEmptyArchive = errors.New("archive contains no files")

// Load reads filename, decompressing it when its extension names an archive
// format. Archives yield their first regular file.
func Load(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".gz":
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", filename, err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case ".zip":
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("open zip %s: %w", filename, err)
		}
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			return readEntry(f.Open)
		}
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, filename)

	case ".7z":
		r, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("open 7z %s: %w", filename, err)
		}
		for _, f := range r.File {
			if f.FileInfo().IsDir() {
				continue
			}
			return readEntry(f.Open)
		}
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, filename)

	default:
		return data, nil
	}
}

func readEntry(open func() (io.ReadCloser, error)) ([]byte, error) {
	rc, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Save writes data to filename.
func Save(filename string, data []byte) error {
	return os.WriteFile(filename, data, 0o644)
}

// Digest returns the xxHash64 of data.
func Digest(data []byte) uint64 {
	return xxhash.Sum64(data)
}
