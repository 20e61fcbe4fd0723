package ota

import (
	"context"
	"io"
)

// Stream is an open firmware download.
type Stream interface {
	io.ReadCloser
	// DeclaredLength is the total size announced by the source. A value
	// <= 0 means the length is missing or invalid.
	DeclaredLength() int64
}

// Transport opens firmware streams. Open may be called repeatedly while the
// pipeline retries.
type Transport interface {
	Open(ctx context.Context, url string) (Stream, error)
}
