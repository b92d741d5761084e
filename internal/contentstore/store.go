// Package contentstore implements the heap allocator over a single
// contiguous byte region described in spec §4.6: alloc/free/map against
// stable handles, a segregated free list per bucket size for O(1)
// amortized allocation, and the DROP_TAIL_ITEM pressure-policy error
// surface the client drives when allocation fails.
package contentstore

import (
	"fmt"
	"sync"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

// bucketSizes are the allocator's size classes; every request is
// rounded up to the smallest bucket that holds it, bounding
// fragmentation to "wasted space within one bucket" per spec. Sized for
// MKV fragment packaging: small EBML headers and CPD blobs up through a
// full high-bitrate keyframe's packaged bytes.
var bucketSizes = []uint32{256, 1024, 4096, 16384, 65536, 262144, 1 << 20, 4 << 20}

// Handle identifies a live allocation. It is a stable value — unlike a
// sync.Pool-backed slice, the same Handle always maps back to the same
// arena region via Map, which is what lets content-view offset
// bookkeeping hold onto allocations across trims.
type Handle struct {
	offset uint32
	bucket uint32
	size   uint32
}

// Store is a single contiguous-capacity byte arena with a segregated
// free list per bucket size. One mutex guards the whole structure;
// Alloc/Free are short critical sections, per spec's concurrency model.
type Store struct {
	mu sync.Mutex

	arena     []byte
	capacity  uint32
	used      uint32
	highWater uint32

	freeLists map[uint32][]uint32 // bucket size -> stack of free offsets
}

// New creates a Store backed by a single capacity-byte arena.
func New(capacity uint32) *Store {
	return &Store{
		arena:     make([]byte, capacity),
		capacity:  capacity,
		freeLists: make(map[uint32][]uint32, len(bucketSizes)),
	}
}

func bucketFor(size uint32) (uint32, bool) {
	for _, b := range bucketSizes {
		if size <= b {
			return b, true
		}
	}
	return 0, false
}

// Alloc reserves size bytes, returning a stable Handle. Fails with
// NOT_ENOUGH_MEMORY if size exceeds the largest bucket, or if the arena
// has no free or fresh capacity left in that bucket's size class.
func (s *Store) Alloc(size uint32) (Handle, error) {
	if size == 0 {
		return Handle{}, kvserrors.New(kvserrors.InvalidArg, "contentstore.Alloc",
			fmt.Errorf("zero-size allocation"))
	}
	bucket, ok := bucketFor(size)
	if !ok {
		return Handle{}, kvserrors.New(kvserrors.NotEnoughMemory, "contentstore.Alloc",
			fmt.Errorf("requested size %d exceeds largest bucket %d", size, bucketSizes[len(bucketSizes)-1]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if free := s.freeLists[bucket]; len(free) > 0 {
		offset := free[len(free)-1]
		s.freeLists[bucket] = free[:len(free)-1]
		s.used += bucket
		return Handle{offset: offset, bucket: bucket, size: size}, nil
	}

	if s.highWater+bucket > s.capacity {
		return Handle{}, kvserrors.New(kvserrors.NotEnoughMemory, "contentstore.Alloc",
			fmt.Errorf("arena exhausted: need %d bytes, %d available", bucket, s.capacity-s.highWater))
	}
	offset := s.highWater
	s.highWater += bucket
	s.used += bucket
	return Handle{offset: offset, bucket: bucket, size: size}, nil
}

// Free releases h back to its bucket's free list for reuse.
func (s *Store) Free(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeLists[h.bucket] = append(s.freeLists[h.bucket], h.offset)
	if s.used >= h.bucket {
		s.used -= h.bucket
	}
}

// Map returns the arena region backing h, sliced to the originally
// requested logical size (not the rounded-up bucket size). The returned
// slice aliases the arena; callers must not retain it past Free.
func (s *Store) Map(h Handle) []byte {
	return s.arena[h.offset : h.offset+h.size]
}

// CapacityAvailable reports the number of bytes not currently allocated.
func (s *Store) CapacityAvailable() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.used
}

// Capacity reports the store's total configured capacity.
func (s *Store) Capacity() uint32 {
	return s.capacity
}
