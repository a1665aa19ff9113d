package resource

import (
	"bytes"
	"io"
	"sync"
)

// Buffer is an in-memory byte stream resource: writes append, reads
// drain from the front. An empty open buffer reads as io.EOF, matching
// the n=0 end-of-stream convention of the raw read op, and a closed
// buffer rejects writes with io.ErrClosedPipe.
type Buffer struct {
	name string

	mu     sync.Mutex
	data   bytes.Buffer
	closed bool
}

// NewBuffer returns an empty stream resource with the given name.
func NewBuffer(name string) *Buffer {
	return &Buffer{name: name}
}

// NewBufferBytes returns a stream resource preloaded with data.
func NewBufferBytes(name string, data []byte) *Buffer {
	b := NewBuffer(name)
	b.data.Write(data)
	return b
}

// Name implements Resource.
func (b *Buffer) Name() string { return b.name }

// Read drains up to len(p) bytes from the front of the stream.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Read(p)
}

// Write appends p to the stream.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	return b.data.Write(p)
}

// Len reports the number of unread bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Len()
}

// Close rejects further writes. Buffered bytes stay readable until
// drained. Closing twice is harmless.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
