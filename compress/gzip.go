// Package compress holds the gzip helpers used to shrink cached payloads.
package compress

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
)

// gzipMagic is the two byte header of every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// IsGzip reports whether data starts with a gzip header.
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Gzip compresses data at the default compression level.
func Gzip(data []byte) ([]byte, error) {
	return GzipLevel(data, gzip.DefaultCompression)
}

// GzipLevel compresses data at the given gzip level.
func GzipLevel(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "compress: invalid gzip level")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "compress: gzip write failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compress: gzip close failed")
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a gzip stream.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "compress: invalid gzip stream")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "compress: gunzip failed")
	}
	return out, nil
}
