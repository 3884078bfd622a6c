package ahm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Allocator provides raw storage for submap cell arrays.
//
// An allocator must be safe to call from any goroutine: submaps are
// allocated by whichever goroutine wins a growth race, and released by
// Clear or Close. Storage returned by Allocate must be zeroed and at least
// 8-byte aligned.
//
// Memory handed out by an Allocator is not scanned by the garbage
// collector, so maps using one must store pointer-free keys and values.
// Construction fails with ErrInvalidConfig otherwise.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Deallocate(b []byte) error
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

// Allocate returns size zeroed bytes, 8-byte aligned.
func (HeapAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size), nil
}

// Deallocate drops the storage; the garbage collector reclaims it.
func (HeapAllocator) Deallocate([]byte) error {
	return nil
}

// LimitAllocator wraps another allocator with a byte budget. Requests that
// would exceed Limit fail with ErrOutOfMemory.
type LimitAllocator struct {
	Base  Allocator
	Limit int64

	used atomic.Int64
}

// Allocate reserves size bytes of the budget and forwards to Base.
func (a *LimitAllocator) Allocate(size int) ([]byte, error) {
	if n := a.used.Add(int64(size)); n > a.Limit {
		a.used.Add(-int64(size))
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrOutOfMemory, size, n-int64(size), a.Limit)
	}
	b, err := a.base().Allocate(size)
	if err != nil {
		a.used.Add(-int64(size))
		return nil, err
	}
	return b, nil
}

// Deallocate returns b to Base and releases its share of the budget.
func (a *LimitAllocator) Deallocate(b []byte) error {
	a.used.Add(-int64(len(b)))
	return a.base().Deallocate(b)
}

// InUse returns the number of budgeted bytes currently allocated.
func (a *LimitAllocator) InUse() int64 {
	return a.used.Load()
}

func (a *LimitAllocator) base() Allocator {
	if a.Base == nil {
		return HeapAllocator{}
	}
	return a.Base
}
