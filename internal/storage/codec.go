package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compressThreshold is the body size above which queue message bodies
// are stored gzipped.
const compressThreshold = 16 * 1024

// deflateBody gzips body when it is large enough to be worth it.
// Smaller bodies are stored as-is. The second result reports whether
// the returned bytes are compressed; the store persists that flag
// alongside the body so raw payloads are never misread as gzip.
func deflateBody(body []byte) ([]byte, bool, error) {
	if len(body) < compressThreshold {
		return body, false, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, false, fmt.Errorf("compressing message body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("compressing message body: %w", err)
	}
	return buf.Bytes(), true, nil
}

// inflateBody reverses deflateBody. Bodies stored uncompressed pass
// through untouched.
func inflateBody(body []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return body, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decompressing message body: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing message body: %w", err)
	}
	return out, nil
}
