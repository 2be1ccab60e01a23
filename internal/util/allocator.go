package util

import "sync"

// IntAllocator allocates integer ids such as channel numbers and link
// handles. The lowest free id is always returned first. Only allocated ids
// are stored, so the full uint32 range can be used as a pool.
type IntAllocator struct {
	min, max uint32
	used     map[uint32]struct{}
	mu       sync.Mutex
}

// NewIntAllocator creates an allocator for ids in [min, max]
func NewIntAllocator(min, max uint32) *IntAllocator {
	return &IntAllocator{
		min:  min,
		max:  max,
		used: make(map[uint32]struct{}),
	}
}

// Allocate returns the lowest free id
func (a *IntAllocator) Allocate() (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := uint64(a.min); i <= uint64(a.max); i++ {
		if _, ok := a.used[uint32(i)]; !ok {
			a.used[uint32(i)] = struct{}{}
			return uint32(i), true
		}
	}
	return 0, false
}

// Free releases an id back to the pool
func (a *IntAllocator) Free(i uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < a.min || i > a.max {
		return false
	}
	if _, ok := a.used[i]; !ok {
		return false // Already free
	}
	delete(a.used, i)
	return true
}

// Available returns the number of free ids
func (a *IntAllocator) Available() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(a.max) - uint64(a.min) + 1 - uint64(len(a.used))
}
