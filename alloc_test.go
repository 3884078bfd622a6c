package ahm

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"unsafe"
)

func TestHeapAllocator(t *testing.T) {
	var a HeapAllocator
	for _, size := range []int{1, 7, 8, 9, 4096} {
		b, err := a.Allocate(size)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", size, err)
		}
		if len(b) != size {
			t.Errorf("Allocate(%d) returned %d bytes", size, len(b))
		}
		if p := uintptr(unsafe.Pointer(&b[0])); p%8 != 0 {
			t.Errorf("Allocate(%d) is not 8-byte aligned: %#x", size, p)
		}
		for i := range b {
			if b[i] != 0 {
				t.Fatalf("Allocate(%d) returned dirty memory at %d", size, i)
			}
		}
		if err := a.Deallocate(b); err != nil {
			t.Errorf("Deallocate: %v", err)
		}
	}
	if b, err := a.Allocate(0); b != nil || err != nil {
		t.Errorf("Allocate(0) = (%v, %v)", b, err)
	}
}

func TestLimitAllocator(t *testing.T) {
	a := &LimitAllocator{Limit: 100}
	b1, err := a.Allocate(60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(41); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Expected ErrOutOfMemory, got %v", err)
	}
	if a.InUse() != 60 {
		t.Errorf("Failed allocation must not consume budget, in use %d", a.InUse())
	}
	b2, err := a.Allocate(40)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(b1); err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(b2); err != nil {
		t.Fatal(err)
	}
	if a.InUse() != 0 {
		t.Errorf("Expected empty budget, in use %d", a.InUse())
	}
}

func TestLimitAllocator_Concurrent(t *testing.T) {
	a := &LimitAllocator{Limit: 64 * 100}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b, err := a.Allocate(64)
				if err != nil {
					continue
				}
				_ = a.Deallocate(b)
			}
		}()
	}
	wg.Wait()
	if a.InUse() != 0 {
		t.Errorf("Expected empty budget, in use %d", a.InUse())
	}
}

type failingAllocator struct{}

func (failingAllocator) Allocate(int) ([]byte, error) { return nil, errBoom }
func (failingAllocator) Deallocate([]byte) error      { return nil }

func TestGrowableMapOf_ForeignAllocatorError(t *testing.T) {
	alloc := &LimitAllocator{Limit: 4 * 16}
	m, err := NewGrowableMapOf[int64, int64](3,
		WithMaxLoadFactor[int64, int64](0.75),
		WithAllocator[int64, int64](alloc))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	for i := int64(1); i <= 3; i++ {
		m.Insert(i, i)
	}
	alloc.Base = failingAllocator{}
	alloc.Limit = 1 << 20
	_, _, err = m.Insert(4, 4)
	if !errors.Is(err, ErrOutOfMemory) || !errors.Is(err, errBoom) {
		t.Errorf("Expected ErrOutOfMemory wrapping boom, got %v", err)
	}
}

func TestHasPointers(t *testing.T) {
	type pair struct {
		a int64
		b [4]uint32
	}
	type withString struct {
		a int
		s string
	}
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"int64 entry", hasPointersOf[EntryOf[int64, int64]](), false},
		{"struct entry", hasPointersOf[EntryOf[uint32, pair]](), false},
		{"string entry", hasPointersOf[EntryOf[int64, string]](), true},
		{"pointer entry", hasPointersOf[EntryOf[int64, *int]](), true},
		{"struct with string", hasPointersOf[withString](), true},
		{"slice", hasPointersOf[[]byte](), true},
		{"empty array of pointers", hasPointersOf[[0]*int](), false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: hasPointers = %v, expected %v", tt.name, tt.got, tt.want)
		}
	}
}

func hasPointersOf[T any]() bool {
	return hasPointers(reflect.TypeFor[T]())
}
