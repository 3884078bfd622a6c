package ahm

import (
	"math/bits"
	"reflect"
	"runtime"
)

const (
	// lockedCellSpins bounds the wait for a Locked cell to resolve.
	lockedCellSpins = 10000
	// pendingInsertSpins bounds the wait for in-flight inserts to drain
	// once a submap sheds load.
	pendingInsertSpins = 10000
	// growthPublishSpins bounds the wait for another goroutine to publish
	// a freshly allocated submap.
	growthPublishSpins = 50000
)

// noCopy may be added to structs which must not be copied
// after the first use. See https://golang.org/issues/8005#issuecomment-190753527
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// spinWhile yields the processor while cond reports true, at most maxSpins
// times. It returns whether cond was still true when it gave up.
//
// Exceeding the bound is not a failure: callers re-derive their state and
// carry on. There is no starvation-freedom guarantee under an unfair
// scheduler.
func spinWhile(maxSpins int, cond func() bool) bool {
	for n := 0; n < maxSpins; n++ {
		if !cond() {
			return false
		}
		runtime.Gosched()
	}
	return cond()
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// hasPointers reports whether values of t contain Go pointers, which must
// not be placed in memory the garbage collector does not scan.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
