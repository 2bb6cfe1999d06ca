// Package pool recycles buffers used to encode snapshots and reports.
package pool

import (
	"bytes"
	"sync"
)

// maxPooledBytes keeps one oversized report from pinning memory
const maxPooledBytes = 1 << 20

// ByteBufferPool is a pool of byte buffers for encoding
var ByteBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetByteBuffer retrieves an empty byte buffer from the pool
func GetByteBuffer() *bytes.Buffer {
	buf := ByteBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutByteBuffer returns a byte buffer to the pool. The caller must not use
// buf afterwards.
func PutByteBuffer(buf *bytes.Buffer) {
	if buf != nil && buf.Cap() <= maxPooledBytes {
		buf.Reset()
		ByteBufferPool.Put(buf)
	}
}
