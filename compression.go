package tiled

import (
	"io"
	"strings"

	"github.com/qri-io/dataset/compression"
)

// acceptEncoding is advertised on block requests. Setting it ourselves
// switches off net/http's transparent gzip handling, so every encoded
// payload goes through decompress.
const acceptEncoding = "gzip, zstd"

// decompress wraps r with a decoder for an HTTP Content-Encoding value.
// An empty or "identity" encoding returns r unchanged.
func decompress(encoding string, r io.ReadCloser) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	if enc == "" || enc == "identity" {
		return r, nil
	}
	return compression.Decompressor(enc, r)
}
