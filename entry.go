package ahm

import (
	"sync/atomic"
	"unsafe"
)

// EntryOf is one cell of a submap: a key slot that doubles as the cell's
// state tag, and the value slot.
//
// The key is only ever read and written atomically. Value is fully written
// before the key is published, so an entry obtained from Find, FindAt or an
// iterator always carries a constructed value. Writing to Value after
// publication is the caller's business; the map never touches a published
// value until Clear or Close.
type EntryOf[K Key, V any] struct {
	_     [0]atomic.Uint64
	key   K
	Value V
}

// Key returns the key stored in the entry.
func (e *EntryOf[K, V]) Key() K {
	return loadKey(&e.key)
}

// keyState classifies the content of a key slot.
type keyState uint8

const (
	stateEmpty keyState = iota
	stateLocked
	stateErased
	stateOccupied
)

func (s keyState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateLocked:
		return "locked"
	case stateErased:
		return "erased"
	default:
		return "occupied"
	}
}

// sentinels holds the three out-of-band key values and implements the cell
// transition table:
//
//	Empty  -> Locked   tryLock   (CAS, any goroutine)
//	Locked -> Key      commit    (claimant only)
//	Locked -> Empty    rollback  (claimant only, construction failed)
//	Key    -> Erased   tryErase  (CAS, any goroutine)
//
// No other transition is ever written.
type sentinels[K Key] struct {
	empty  K
	locked K
	erased K
}

//go:nosplit
func (s *sentinels[K]) classify(k K) keyState {
	switch k {
	case s.empty:
		return stateEmpty
	case s.locked:
		return stateLocked
	case s.erased:
		return stateErased
	default:
		return stateOccupied
	}
}

//go:nosplit
func (s *sentinels[K]) isSentinel(k K) bool {
	return k == s.empty || k == s.locked || k == s.erased
}

func (s *sentinels[K]) tryLock(addr *K) bool {
	return casKey(addr, s.empty, s.locked)
}

func (s *sentinels[K]) commit(addr *K, k K) {
	storeKey(addr, k)
}

func (s *sentinels[K]) rollback(addr *K) {
	storeKey(addr, s.empty)
}

func (s *sentinels[K]) tryErase(addr *K, cur K) bool {
	return casKey(addr, cur, s.erased)
}

// loadKey is the acquire load every reader performs before touching Value.
//
//go:nosplit
func loadKey[K Key](addr *K) K {
	if unsafe.Sizeof(*addr) == 4 {
		return K(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
	}
	return K(atomic.LoadUint64((*uint64)(unsafe.Pointer(addr))))
}

// storeKey is the release store that publishes a cell.
//
//go:nosplit
func storeKey[K Key](addr *K, k K) {
	if unsafe.Sizeof(*addr) == 4 {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(k))
		return
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(addr)), uint64(k))
}

//go:nosplit
func casKey[K Key](addr *K, old, new K) bool {
	if unsafe.Sizeof(*addr) == 4 {
		return atomic.CompareAndSwapUint32(
			(*uint32)(unsafe.Pointer(addr)), uint32(old), uint32(new))
	}
	return atomic.CompareAndSwapUint64(
		(*uint64)(unsafe.Pointer(addr)), uint64(old), uint64(new))
}
