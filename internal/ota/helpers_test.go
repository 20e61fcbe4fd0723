package ota

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// scriptStream returns its chunks one Read at a time, then err (io.EOF when
// nil).
type scriptStream struct {
	mu       sync.Mutex
	declared int64
	chunks   [][]byte
	err      error
	block    chan struct{}
	closed   bool
}

func (s *scriptStream) DeclaredLength() int64 { return s.declared }

func (s *scriptStream) Read(p []byte) (int, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *scriptStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scriptTransport fails the first failures opens, then returns stream.
type scriptTransport struct {
	mu       sync.Mutex
	failures int
	opens    int
	stream   *scriptStream
}

func (t *scriptTransport) Open(context.Context, string) (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.opens <= t.failures {
		return nil, errors.New("connection refused")
	}
	return t.stream, nil
}

func (t *scriptTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// split cuts data into pieces of the given sizes.
func split(data []byte, sizes ...int) [][]byte {
	var out [][]byte
	for _, n := range sizes {
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.RetryInterval = time.Millisecond
	return opts
}
