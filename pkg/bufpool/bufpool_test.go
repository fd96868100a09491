package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Size Class Selection
// ============================================================================

func TestPoolSizeClasses(t *testing.T) {
	p := NewPool(nil)

	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"Zero", 0, ChunkSize},
		{"SmallRequest", 100, ChunkSize},
		{"ExactChunk", ChunkSize, ChunkSize},
		{"JustAboveChunk", ChunkSize + 1, MediumSize},
		{"LargestFrame", 20 + 65535, FrameSize},
		{"ExactLarge", LargeSize, LargeSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := p.Get(tt.size)
			defer p.Put(buf)

			assert.Equal(t, tt.size, len(buf))
			assert.Equal(t, tt.wantCap, cap(buf))
		})
	}

	t.Run("OversizedIsNotPooled", func(t *testing.T) {
		buf := p.Get(LargeSize + 1)
		assert.Equal(t, LargeSize+1, cap(buf))

		p.Put(buf)
		for _, s := range p.Stats() {
			if s.Size == LargeSize {
				assert.Zero(t, s.Free)
			}
		}
	})

	t.Run("NegativeSizeTreatedAsZero", func(t *testing.T) {
		buf := p.Get(-5)
		assert.Len(t, buf, 0)
		assert.Equal(t, ChunkSize, cap(buf))
	})
}

// ============================================================================
// Free List Behavior
// ============================================================================

func TestPoolFreeList(t *testing.T) {
	t.Run("ReusesReleasedBuffer", func(t *testing.T) {
		p := NewPool(nil)

		buf := p.Get(10)
		buf[0] = 0xAB
		p.Put(buf)

		again := p.Get(10)
		assert.Equal(t, byte(0xAB), again[0], "released buffer should be handed out again")

		stats := p.Stats()[0]
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
	})

	t.Run("RetentionLimit", func(t *testing.T) {
		p := NewPool(&Config{Classes: []Class{{Size: 64, MaxFree: 2}}})

		bufs := [][]byte{p.Get(64), p.Get(64), p.Get(64)}
		for _, b := range bufs {
			p.Put(b)
		}

		stats := p.Stats()[0]
		assert.Equal(t, 2, stats.Free)
		assert.Equal(t, uint64(1), stats.Dropped)
	})

	t.Run("ForeignCapacityIgnored", func(t *testing.T) {
		p := NewPool(nil)
		p.Put(make([]byte, 100))
		p.Put(nil)

		for _, s := range p.Stats() {
			assert.Zero(t, s.Free)
		}
	})

	t.Run("ShortSliceRestoredToFullClass", func(t *testing.T) {
		p := NewPool(nil)
		buf := p.Get(ChunkSize)
		p.Put(buf[:3])

		again := p.Get(ChunkSize)
		assert.Len(t, again, ChunkSize)
	})
}

// ============================================================================
// Custom Configuration
// ============================================================================

func TestCustomPool(t *testing.T) {
	t.Run("ClassesAreSorted", func(t *testing.T) {
		p := NewPool(&Config{Classes: []Class{{Size: 1024}, {Size: 256}, {Size: 512}}})

		stats := p.Stats()
		require.Len(t, stats, 3)
		assert.Equal(t, 256, stats[0].Size)
		assert.Equal(t, 512, stats[1].Size)
		assert.Equal(t, 1024, stats[2].Size)
	})

	t.Run("DuplicateAndInvalidClassesDropped", func(t *testing.T) {
		p := NewPool(&Config{Classes: []Class{{Size: 256}, {Size: 256}, {Size: 0}, {Size: -1}}})
		assert.Len(t, p.Stats(), 1)
	})

	t.Run("EmptyConfigUsesDefaults", func(t *testing.T) {
		p := NewPool(&Config{})
		assert.Len(t, p.Stats(), len(DefaultConfig().Classes))
	})
}

// ============================================================================
// Concurrency
// ============================================================================

func TestPoolConcurrency(t *testing.T) {
	t.Run("ConcurrentGetAndPut", func(t *testing.T) {
		p := NewPool(nil)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(seed int) {
				defer wg.Done()
				for j := 0; j < 500; j++ {
					size := (seed*131 + j*17) % (2 * MediumSize)
					buf := p.Get(size)
					if len(buf) > 0 {
						buf[0] = byte(j)
						buf[len(buf)-1] = byte(j)
					}
					p.Put(buf)
				}
			}(i)
		}
		wg.Wait()

		for _, s := range p.Stats() {
			assert.LessOrEqual(t, uint64(s.Free), s.Hits+s.Misses)
		}
	})

	t.Run("GlobalPool", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := Get(ChunkSize)
				Put(buf)
			}()
		}
		wg.Wait()
		assert.NotNil(t, Default())
	})
}
