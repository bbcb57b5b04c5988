package hash

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// identity hash makes bucket placement fully controllable in tests
func identity(k uint64) uint64 { return k }

func TestFindAndRemove(t *testing.T) {
	h := New[uint64, string](4, identity)

	h.Insert(1, "a")
	h.Insert(2, "b")

	v, ok := h.Find(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = h.Find(3)
	assert.False(t, ok)

	assert.True(t, h.Remove(1))
	_, ok = h.Find(1)
	assert.False(t, ok)
	// removing a missing key reports false, and buckets never merge
	assert.False(t, h.Remove(1))
	assert.Equal(t, 1, h.NumBuckets())
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	h := New[uint64, string](2, identity)

	h.Insert(1, "a")
	h.Insert(1, "b")

	v, ok := h.Find(1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, 0, h.GlobalDepth())
}

func TestSplitAndDirectoryDoubling(t *testing.T) {
	h := New[uint64, string](2, identity)

	// the first two share the low bit and fill bucket 0
	h.Insert(0b000, "0")
	h.Insert(0b010, "2")
	assert.Equal(t, 0, h.GlobalDepth())

	// a third even hash forces a doubling; both residents still agree in the
	// distinguishing bit, so the bucket stays full and a second doubling
	// follows before the insert lands
	h.Insert(0b100, "4")
	assert.Equal(t, 2, h.GlobalDepth())
	assert.Equal(t, 3, h.NumBuckets())

	// fill the odd side and split it too
	h.Insert(0b001, "1")
	h.Insert(0b011, "3")
	h.Insert(0b101, "5")
	assert.Equal(t, 2, h.GlobalDepth())
	assert.Equal(t, 4, h.NumBuckets())

	for _, k := range []uint64{0, 1, 2, 3, 4, 5} {
		_, ok := h.Find(k)
		assert.True(t, ok, "key %d must be retrievable after splits", k)
	}
}

// every entry must agree with its bucket's directory slots in the low
// local-depth bits, and no bucket may be deeper than the directory
func TestDepthInvariants(t *testing.T) {
	h := New[uint64, int](2, identity)
	for i := 0; i < 64; i++ {
		h.Insert(uint64(i*7), i)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for slot, b := range h.dir {
		assert.LessOrEqual(t, b.localDepth, h.globalDepth)
		mask := (uint64(1) << b.localDepth) - 1
		for _, e := range b.entries {
			if !e.occupied {
				continue
			}
			assert.Equal(t, uint64(slot)&mask, h.hash(e.key)&mask)
		}
	}
}

func TestConcurrentInsertAndFind(t *testing.T) {
	h := New[uint64, uint64](4, identity)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				k := g*100 + i
				h.Insert(k, k)
			}
		}(uint64(g))
	}
	wg.Wait()

	for k := uint64(0); k < 800; k++ {
		v, ok := h.Find(k)
		assert.True(t, ok)
		assert.Equal(t, k, v)
	}
}
