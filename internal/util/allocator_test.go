package util

import (
	"math"
	"sync"
	"testing"
)

// TestIntAllocatorBasic tests basic allocation and freeing
func TestIntAllocatorBasic(t *testing.T) {
	alloc := NewIntAllocator(1, 10)

	id1, ok := alloc.Allocate()
	if !ok {
		t.Fatal("First allocation failed")
	}
	if id1 != 1 {
		t.Errorf("First ID: got %d, want 1", id1)
	}

	id2, ok := alloc.Allocate()
	if !ok {
		t.Fatal("Second allocation failed")
	}
	if id2 != 2 {
		t.Errorf("Second ID: got %d, want 2", id2)
	}

	if !alloc.Free(id1) {
		t.Error("Free failed")
	}

	// The lowest free id is reused first
	id3, ok := alloc.Allocate()
	if !ok {
		t.Fatal("Third allocation failed")
	}
	if id3 != id1 {
		t.Errorf("Reused ID: got %d, want %d", id3, id1)
	}
}

// TestIntAllocatorExhaustion tests exhausting the allocator
func TestIntAllocatorExhaustion(t *testing.T) {
	alloc := NewIntAllocator(0, 4)

	allocated := make([]uint32, 0, 5)
	for i := 0; i < 5; i++ {
		id, ok := alloc.Allocate()
		if !ok {
			t.Fatalf("Allocation %d failed", i)
		}
		allocated = append(allocated, id)
	}

	if _, ok := alloc.Allocate(); ok {
		t.Error("Should have failed to allocate when exhausted")
	}

	if !alloc.Free(allocated[3]) {
		t.Error("Free failed")
	}
	id, ok := alloc.Allocate()
	if !ok {
		t.Fatal("Allocation after free failed")
	}
	if id != allocated[3] {
		t.Errorf("ID after free: got %d, want %d", id, allocated[3])
	}
}

// TestIntAllocatorFullRange tests a pool spanning the whole uint32 range
func TestIntAllocatorFullRange(t *testing.T) {
	alloc := NewIntAllocator(0, math.MaxUint32)

	if avail := alloc.Available(); avail != 1<<32 {
		t.Errorf("Available: got %d, want %d", avail, uint64(1<<32))
	}
	id, ok := alloc.Allocate()
	if !ok || id != 0 {
		t.Errorf("Allocate: got %d, %v, want 0, true", id, ok)
	}
}

// TestIntAllocatorConcurrent tests concurrent allocation
func TestIntAllocatorConcurrent(t *testing.T) {
	alloc := NewIntAllocator(1, 100)

	numGoroutines := 10
	allocationsPerGoroutine := 5

	var wg sync.WaitGroup
	allocated := make(chan uint32, numGoroutines*allocationsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < allocationsPerGoroutine; j++ {
				if id, ok := alloc.Allocate(); ok {
					allocated <- id
				}
			}
		}()
	}

	wg.Wait()
	close(allocated)

	seen := make(map[uint32]bool)
	for id := range allocated {
		if seen[id] {
			t.Errorf("ID %d allocated multiple times", id)
		}
		seen[id] = true
	}
	if len(seen) != numGoroutines*allocationsPerGoroutine {
		t.Errorf("Allocated count: got %d, want %d", len(seen), numGoroutines*allocationsPerGoroutine)
	}
}

// TestIntAllocatorAvailable tests Available method
func TestIntAllocatorAvailable(t *testing.T) {
	alloc := NewIntAllocator(1, 10)

	if avail := alloc.Available(); avail != 10 {
		t.Errorf("Initial available: got %d, want 10", avail)
	}

	id, _ := alloc.Allocate()

	if avail := alloc.Available(); avail != 9 {
		t.Errorf("After allocation: got %d, want 9", avail)
	}

	alloc.Free(id)

	if avail := alloc.Available(); avail != 10 {
		t.Errorf("After free: got %d, want 10", avail)
	}
}

// TestIntAllocatorInvalidFree tests freeing invalid IDs
func TestIntAllocatorInvalidFree(t *testing.T) {
	alloc := NewIntAllocator(1, 10)

	if alloc.Free(0) {
		t.Error("Should not free ID below range")
	}
	if alloc.Free(11) {
		t.Error("Should not free ID above range")
	}

	id, _ := alloc.Allocate()
	alloc.Free(id)
	if alloc.Free(id) {
		t.Error("Should not free already free ID")
	}
}

// BenchmarkIntAllocator benchmarks allocation performance
func BenchmarkIntAllocator(b *testing.B) {
	alloc := NewIntAllocator(1, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, ok := alloc.Allocate()
		if ok {
			alloc.Free(id)
		}
	}
}
