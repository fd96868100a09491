// Package bufpool provides a process-wide byte slice allocator organized as
// explicit free lists indexed by size class.
//
// Every buffer handed out by Get belongs to exactly one size class (its
// capacity equals the class size). Put pushes the buffer back onto the free
// list of its class, up to a per-class retention limit; anything beyond the
// limit, and any buffer whose capacity does not match a class, is left to the
// garbage collector.
//
// Unlike sync.Pool, retained buffers survive garbage collection cycles, and
// release happens only where the caller decides a buffer is dead. The stream
// buffer relies on this: a chunk goes back to its free list at the single point
// where its live window empties.
//
// # Size classes
//
// The default classes are tuned for the framed transport:
//   - 4KB: stream chunks and socket receive buffers
//   - 64KB: medium frames
//   - 128KB: the largest legal frame (20-byte header + 65535-byte payload)
//   - 1MB: bulk scratch space
//
// Requests above the largest class are allocated directly and never pooled.
//
// # Usage
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Default size classes.
const (
	// ChunkSize is the size of a stream chunk (4KB)
	ChunkSize = 4 << 10

	// MediumSize holds most encoded frames (64KB)
	MediumSize = 64 << 10

	// FrameSize holds any legal frame (128KB)
	FrameSize = 128 << 10

	// LargeSize is the largest pooled class (1MB)
	LargeSize = 1 << 20
)

// Class describes one size class of the pool.
type Class struct {
	// Size is the capacity of every buffer in this class.
	Size int

	// MaxFree bounds how many released buffers the class retains.
	MaxFree int
}

// Config holds configuration for creating a custom pool.
type Config struct {
	Classes []Class
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Classes: []Class{
			{Size: ChunkSize, MaxFree: 4096},
			{Size: MediumSize, MaxFree: 128},
			{Size: FrameSize, MaxFree: 64},
			{Size: LargeSize, MaxFree: 8},
		},
	}
}

// ClassStats is a point-in-time snapshot of one size class.
type ClassStats struct {
	Size int `json:"size"`

	// Free is the number of buffers currently retained on the free list.
	Free int `json:"free"`

	// Hits counts Get calls served from the free list.
	Hits uint64 `json:"hits"`

	// Misses counts Get calls that had to allocate.
	Misses uint64 `json:"misses"`

	// Dropped counts Put calls rejected because the free list was full.
	Dropped uint64 `json:"dropped"`
}

type sizeClass struct {
	size    int
	maxFree int

	mu   sync.Mutex
	free [][]byte

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

func (c *sizeClass) get() []byte {
	c.mu.Lock()
	if n := len(c.free); n > 0 {
		buf := c.free[n-1]
		c.free[n-1] = nil
		c.free = c.free[:n-1]
		c.mu.Unlock()
		c.hits.Add(1)
		return buf
	}
	c.mu.Unlock()

	c.misses.Add(1)
	return make([]byte, c.size)
}

func (c *sizeClass) put(buf []byte) {
	c.mu.Lock()
	if len(c.free) >= c.maxFree {
		c.mu.Unlock()
		c.dropped.Add(1)
		return
	}
	c.free = append(c.free, buf[:c.size])
	c.mu.Unlock()
}

// Pool is a set of size-class free lists.
// Safe for concurrent use.
type Pool struct {
	classes []*sizeClass
}

// NewPool creates a pool with the given configuration.
// If cfg is nil or has no classes, the default classes are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil || len(cfg.Classes) == 0 {
		def := DefaultConfig()
		cfg = &def
	}

	classes := make([]Class, 0, len(cfg.Classes))
	for _, c := range cfg.Classes {
		if c.Size <= 0 {
			continue
		}
		if c.MaxFree <= 0 {
			c.MaxFree = 64
		}
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Size < classes[j].Size })

	p := &Pool{classes: make([]*sizeClass, 0, len(classes))}
	for _, c := range classes {
		// Duplicate sizes would make Put ambiguous; keep the first.
		if n := len(p.classes); n > 0 && p.classes[n-1].size == c.Size {
			continue
		}
		p.classes = append(p.classes, &sizeClass{size: c.Size, maxFree: c.MaxFree})
	}
	return p
}

// classFor returns the smallest class that can hold size bytes, or nil.
func (p *Pool) classFor(size int) *sizeClass {
	for _, c := range p.classes {
		if size <= c.size {
			return c
		}
	}
	return nil
}

// Get returns a slice of length size whose capacity is the size of the
// smallest class that fits. Sizes above the largest class are allocated
// directly.
//
// The contents of a recycled buffer are not cleared.
func (p *Pool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	c := p.classFor(size)
	if c == nil {
		return make([]byte, size)
	}
	return c.get()[:size]
}

// Put releases buf back to the free list of its class.
// Buffers whose capacity does not match a class are ignored.
// buf must not be used after Put.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	for _, c := range p.classes {
		if c.size == capacity {
			c.put(buf)
			return
		}
		if c.size > capacity {
			return
		}
	}
}

// Stats returns a snapshot of every size class, smallest first.
func (p *Pool) Stats() []ClassStats {
	out := make([]ClassStats, 0, len(p.classes))
	for _, c := range p.classes {
		c.mu.Lock()
		free := len(c.free)
		c.mu.Unlock()

		out = append(out, ClassStats{
			Size:    c.size,
			Free:    free,
			Hits:    c.hits.Load(),
			Misses:  c.misses.Load(),
			Dropped: c.dropped.Load(),
		})
	}
	return out
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Default returns the process-wide pool.
func Default() *Pool {
	return globalPool
}

// Get returns a buffer from the process-wide pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the process-wide pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
