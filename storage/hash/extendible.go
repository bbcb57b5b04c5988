/*
Extendible hash table.

The buffer pool uses this as its page table (page id -> frame pointer), but
the structure is generic over any comparable key. The directory holds 2^D
bucket pointers where D is the global depth; each bucket carries a local
depth <= D. Two directory slots point at the same bucket iff they agree in
the low local-depth bits, so doubling the directory is a pointer copy, not a
deep copy.

When an insert finds its bucket full, the bucket splits: if its local depth
equals the global depth the directory doubles first, then a sibling bucket is
allocated, every directory slot that aliased the old bucket and has the new
distinguishing bit set is re-pointed at the sibling, and the old bucket's
entries are rehashed between the two. The directory only ever grows; remove
marks the entry empty and never merges buckets.

The hash function is injected and must be deterministic and independent of
the global depth; the directory mask is applied after hashing. A single
mutex protects the whole structure.
*/
package hash

import "sync"

type entry[K comparable, V any] struct {
	key      K
	value    V
	occupied bool
}

type bucket[K comparable, V any] struct {
	localDepth uint
	size       int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](capacity int, depth uint) *bucket[K, V] {
	return &bucket[K, V]{
		localDepth: depth,
		entries:    make([]entry[K, V], capacity),
	}
}

// put places the pair in the first empty slot.
// the caller must have ensured the bucket is not full.
func (b *bucket[K, V]) put(k K, v V) {
	for i := range b.entries {
		if !b.entries[i].occupied {
			b.entries[i] = entry[K, V]{key: k, value: v, occupied: true}
			b.size++
			return
		}
	}
}

// ExtendibleHash is the extendible hash table
type ExtendibleHash[K comparable, V any] struct {
	mu         sync.Mutex
	hash       func(K) uint64
	bucketSize int
	// globalDepth is D; the directory holds 1<<D slots
	globalDepth uint
	numBuckets  int
	dir         []*bucket[K, V]
}

// New initializes the table with global depth 0 and a single bucket
func New[K comparable, V any](bucketSize int, hash func(K) uint64) *ExtendibleHash[K, V] {
	return &ExtendibleHash[K, V]{
		hash:       hash,
		bucketSize: bucketSize,
		numBuckets: 1,
		dir:        []*bucket[K, V]{newBucket[K, V](bucketSize, 0)},
	}
}

// index locates the directory slot for the key.
// the mask is applied after hashing so the hash itself is depth-independent.
func (h *ExtendibleHash[K, V]) index(k K) uint64 {
	return h.hash(k) & ((1 << h.globalDepth) - 1)
}

// Find looks up the value associated with the key
func (h *ExtendibleHash[K, V]) Find(k K) (V, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.dir[h.index(k)]
	for i := range b.entries {
		e := &b.entries[i]
		if e.occupied && e.key == k {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Remove marks the key's entry empty. buckets are never merged.
func (h *ExtendibleHash[K, V]) Remove(k K) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.dir[h.index(k)]
	for i := range b.entries {
		e := &b.entries[i]
		if e.occupied && e.key == k {
			e.occupied = false
			b.size--
			return true
		}
	}
	return false
}

// Insert places the pair in the table, overwriting the value when the key is
// already present. splits the target bucket (and doubles the directory when
// needed) while it is full.
func (h *ExtendibleHash[K, V]) Insert(k K, v V) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := h.index(k)
	b := h.dir[idx]
	for i := range b.entries {
		e := &b.entries[i]
		if e.occupied && e.key == k {
			e.value = v
			return
		}
	}

	for b.size == h.bucketSize {
		if b.localDepth == h.globalDepth {
			// double the directory; each old slot's pointer is duplicated
			// into the new high half
			h.dir = append(h.dir, h.dir...)
			h.globalDepth++
		}
		// the bit that now distinguishes the two halves of the bucket
		highBit := uint64(1) << b.localDepth
		sibling := newBucket[K, V](h.bucketSize, b.localDepth+1)
		b.localDepth++
		for j := range h.dir {
			if h.dir[j] == b && uint64(j)&highBit != 0 {
				h.dir[j] = sibling
			}
		}
		for i := range b.entries {
			e := &b.entries[i]
			if !e.occupied {
				continue
			}
			if h.hash(e.key)&highBit != 0 {
				sibling.put(e.key, e.value)
				e.occupied = false
				b.size--
			}
		}
		h.numBuckets++

		idx = h.index(k)
		b = h.dir[idx]
	}
	b.put(k, v)
}

// GlobalDepth returns D
func (h *ExtendibleHash[K, V]) GlobalDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.globalDepth)
}

// LocalDepth returns the local depth of the bucket at the directory slot,
// or -1 when the slot is out of range
func (h *ExtendibleHash[K, V]) LocalDepth(slot int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot < 0 || slot >= len(h.dir) {
		return -1
	}
	return int(h.dir[slot].localDepth)
}

// NumBuckets returns the current number of distinct buckets
func (h *ExtendibleHash[K, V]) NumBuckets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numBuckets
}
