//go:build !race

package ahm

import (
	"math/bits"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Detect TSO architectures; on TSO, plain reads are safe for native
// word-sized integers
const isTSO = runtime.GOARCH == "amd64" ||
	runtime.GOARCH == "386" ||
	runtime.GOARCH == "s390x"

// Relaxed key load; plain on TSO when width matches, otherwise atomic.
// Only used where a stale value is re-checked by a later atomic operation.
//
//go:nosplit
func loadKeyRelaxed[K Key](addr *K) K {
	if unsafe.Sizeof(*addr) == 4 {
		//goland:noinspection ALL
		if isTSO {
			return *addr
		}
		return K(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
	}
	//goland:noinspection ALL
	if isTSO && bits.UintSize >= 64 {
		return *addr
	}
	return K(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
}
