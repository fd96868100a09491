// Package stream implements an unbounded byte FIFO built from pooled,
// fixed-size chunks.
//
// The buffer sits between a socket reader (producer) and a frame parser
// (consumer). Bytes are appended to the free tail space of the last chunk;
// when that chunk is full a new one is taken from the pool. Dequeue copies out
// of the head chunk and hands a chunk back to the pool the moment its live
// window empties.
//
// Chunks are compacted (their live window moved to offset 0) lazily, right
// before they receive more bytes. A wider defragmentation pass, which merges
// the live windows of neighbouring chunks, runs only when the total slack
// exceeds one full chunk, so the amortized copy cost per byte stays constant.
//
// All methods are safe for concurrent use; every operation holds a single
// per-buffer mutex for a duration proportional to the bytes copied.
package stream

import (
	"sync"

	"github.com/marmos91/xnet/pkg/bufpool"
)

const (
	// ChunkSize is the size of every chunk the buffer allocates.
	ChunkSize = bufpool.ChunkSize

	// MinMergeSize is the smallest free space worth merging a fragment into.
	MinMergeSize = 256
)

// chunk is a pooled byte array plus the live window [off, off+n).
type chunk struct {
	buf []byte
	off int
	n   int
}

// available returns the bytes the chunk can still accept once compacted.
func (c *chunk) available() int {
	return len(c.buf) - c.n
}

// compact moves the live window to offset 0.
func (c *chunk) compact() {
	if c.off == 0 {
		return
	}
	if c.n > 0 {
		copy(c.buf, c.buf[c.off:c.off+c.n])
	}
	c.off = 0
}

// push appends as much of p as fits and returns the remainder.
func (c *chunk) push(p []byte) []byte {
	c.compact()
	n := copy(c.buf[c.n:], p)
	c.n += n
	return p[n:]
}

// Buffer is a chunked byte FIFO.
type Buffer struct {
	mu   sync.Mutex
	pool *bufpool.Pool

	chunks []*chunk

	// last is the chunk that receives enqueued bytes, nil when a new chunk
	// must be allocated first. It is always the tail of chunks when set.
	last *chunk

	length   int
	capacity int
}

// NewBuffer creates an empty buffer that allocates chunks from pool.
// A nil pool selects the process-wide pool.
func NewBuffer(pool *bufpool.Pool) *Buffer {
	if pool == nil {
		pool = bufpool.Default()
	}
	return &Buffer{pool: pool}
}

// Len returns the number of bytes waiting to be dequeued.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Cap returns the total size of the chunks currently held.
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Chunks returns the number of chunks currently held.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Enqueue appends p to the tail of the buffer.
func (b *Buffer) Enqueue(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueue(p)
}

func (b *Buffer) enqueue(p []byte) {
	b.length += len(p)
	for len(p) > 0 {
		if b.last == nil || b.last.available() <= 0 {
			b.last = b.newChunk()
			b.chunks = append(b.chunks, b.last)
		}
		p = b.last.push(p)
	}
}

// TryDequeue moves up to len(dst) bytes from the head of the buffer into dst
// and returns the count. In full mode nothing is moved unless at least
// len(dst) bytes are available, so the result is either 0 or len(dst).
func (b *Buffer) TryDequeue(dst []byte, full bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if full && b.length < len(dst) {
		return 0
	}

	total := 0
	for total < len(dst) && len(b.chunks) > 0 {
		head := b.chunks[0]
		n := copy(dst[total:], head.buf[head.off:head.off+head.n])
		head.off += n
		head.n -= n
		b.length -= n
		total += n

		if head.n == 0 {
			b.popHead()
		}
	}
	return total
}

// Prepend inserts p in front of the bytes already buffered.
func (b *Buffer) Prepend(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		b.enqueue(p)
		return
	}

	backup := b.chunks
	b.chunks = make([]*chunk, 0, len(backup)+len(p)/ChunkSize+1)
	b.last = nil
	b.enqueue(p)

	if b.capacity-b.length < ChunkSize {
		b.chunks = append(b.chunks, backup...)
		b.last = backup[len(backup)-1]
		return
	}
	b.merge(backup, MinMergeSize)
}

// Optimize merges the live windows of neighbouring chunks when the buffer
// holds more than one chunk worth of slack. The head chunk is kept in place.
func (b *Buffer) Optimize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity-b.length < ChunkSize || len(b.chunks) == 0 {
		return
	}

	backup := b.chunks[1:]
	head := b.chunks[0]
	b.chunks = make([]*chunk, 1, len(b.chunks))
	b.chunks[0] = head
	b.last = head
	b.merge(backup, 0)
}

// Clear releases every chunk back to the pool.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.chunks {
		b.pool.Put(c.buf)
		b.chunks[i] = nil
	}
	b.chunks = b.chunks[:0]
	b.last = nil
	b.length = 0
	b.capacity = 0
}

// merge appends the chunks of backup after the current tail, folding each
// one into the tail when the tail has at least minFree bytes of room.
// Empty chunks are released.
func (b *Buffer) merge(backup []*chunk, minFree int) {
	if minFree <= 0 {
		minFree = 1
	}

	for _, each := range backup {
		if each.n == 0 {
			b.release(each)
			continue
		}

		for each.n > 0 && b.last != nil && b.last.available() >= minFree {
			b.last.compact()
			n := copy(b.last.buf[b.last.n:], each.buf[each.off:each.off+each.n])
			b.last.n += n
			each.off += n
			each.n -= n
		}

		if each.n == 0 {
			b.release(each)
			continue
		}
		b.chunks = append(b.chunks, each)
		b.last = each
	}
}

func (b *Buffer) newChunk() *chunk {
	buf := b.pool.Get(ChunkSize)
	buf = buf[:cap(buf)]
	b.capacity += len(buf)
	return &chunk{buf: buf}
}

func (b *Buffer) release(c *chunk) {
	b.capacity -= len(c.buf)
	b.pool.Put(c.buf)
	c.buf = nil
	if b.last == c {
		b.last = nil
	}
}

func (b *Buffer) popHead() {
	head := b.chunks[0]
	b.chunks[0] = nil
	b.chunks = b.chunks[1:]
	b.release(head)
}
