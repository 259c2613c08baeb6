// Package archive implements the outer AR → control.tar.*/data.tar.*
// decode pipeline for IPK packages: open an archive member, pipe it through
// the decompressor matching its suffix, and walk the resulting tar.
package archive

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// nopCloser-style wrapper so every decompressor returns an io.ReadCloser.
type readCloser struct {
	io.Reader
	closeFn func() error
}

func (rc readCloser) Close() error {
	if rc.closeFn != nil {
		return rc.closeFn()
	}
	return nil
}

// Decompress wraps r in the streaming decompressor matching name's suffix
// (one of .gz, .bz2, .xz, .zst, .lz4), or returns r unwrapped if name has
// none of those suffixes (e.g. the bare "debian-binary" member).
func Decompress(r io.Reader, name string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("archive: gzip %s: %w", name, err)
		}
		return gr, nil
	case strings.HasSuffix(name, ".bz2"):
		return readCloser{Reader: bzip2.NewReader(r)}, nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("archive: xz %s: %w", name, err)
		}
		return readCloser{Reader: xr}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("archive: zstd %s: %w", name, err)
		}
		return readCloser{Reader: zr, closeFn: func() error { zr.Close(); return nil }}, nil
	case strings.HasSuffix(name, ".lz4"):
		return readCloser{Reader: lz4.NewReader(r)}, nil
	default:
		return readCloser{Reader: r}, nil
	}
}

// TrimCompressionSuffix strips a trailing compression suffix, returning the
// base member-name prefix (e.g. "control.tar.gz" -> "control.tar").
func TrimCompressionSuffix(name string) string {
	for _, suf := range []string{".gz", ".bz2", ".xz", ".zst", ".lz4"} {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf)
		}
	}
	return name
}
