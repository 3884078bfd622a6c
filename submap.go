package ahm

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"sync/atomic"
	"unsafe"
)

// Load shedding states of SubMapOf.isFull.
const (
	notFull          = 0
	noNewInserts     = 1
	noPendingInserts = 2
)

// SubMapOf is a fixed-capacity, lock-free, open-addressing hash table with
// linear probing. It never grows, never moves a cell and never reuses an
// erased cell, which is what makes cell indices stable handles.
//
// Find is wait-free. Insert and Erase are lock-free except for bounded
// yield-spins while another goroutine holds a cell in the Locked state or
// while in-flight inserts drain after the table reached MaxEntries.
//
// SubMapOf is usually driven by a GrowableMapOf, but can be used on its own
// when a fixed capacity is acceptable.
type SubMapOf[K Key, V any] struct {
	_ noCopy

	cells      []EntryOf[K, V]
	mem        []byte
	alloc      Allocator
	capacity   int
	maxEntries int
	loadFactor float64
	anchorMask uint64
	keys       sentinels[K]
	hash       func(K) uint64
	eq         func(a, b K) bool
	release    func(V)

	numEntries  ApproxCounter
	pendEntries ApproxCounter
	isFull      atomic.Int32
	numErases   atomic.Int64
}

// NewSubMapOf creates a submap with the given number of cells. WithCapacity,
// if present, takes precedence over capacity.
func NewSubMapOf[K Key, V any](
	capacity int,
	options ...func(*Config[K, V]),
) (*SubMapOf[K, V], error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	if cfg.Capacity > 0 {
		capacity = cfg.Capacity
	}
	return newSubMap(capacity, &cfg)
}

func newSubMap[K Key, V any](capacity int, cfg *Config[K, V]) (*SubMapOf[K, V], error) {
	if capacity < 1 || int64(capacity) > maxPrimaryCapacity {
		return nil, fmt.Errorf("%w: capacity %d outside [1,%d]", ErrInvalidConfig, capacity, maxPrimaryCapacity)
	}
	m := &SubMapOf[K, V]{
		capacity:   capacity,
		maxEntries: maxEntriesFor(capacity, cfg.MaxLoadFactor),
		loadFactor: cfg.MaxLoadFactor,
		anchorMask: uint64(nextPowOf2(capacity) - 1),
		keys: sentinels[K]{
			empty:  cfg.EmptyKey,
			locked: cfg.LockedKey,
			erased: cfg.ErasedKey,
		},
		hash:    cfg.Hasher,
		eq:      cfg.Equal,
		release: cfg.ValueRelease,
		alloc:   cfg.Allocator,
	}
	if err := m.allocCells(); err != nil {
		return nil, err
	}
	m.numEntries.init(0, 0)
	m.pendEntries.init(0, 0)
	m.SetThreadCacheSize(cfg.ThreadCacheSize)
	return m, nil
}

// maxEntriesFor returns ceil(lf*capacity). A tiny epsilon keeps products
// like 0.7*10 from rounding up past the exact value.
func maxEntriesFor(capacity int, lf float64) int {
	n := int(math.Ceil(lf*float64(capacity) - 1e-9))
	return min(max(n, 1), capacity)
}

func (m *SubMapOf[K, V]) allocCells() error {
	if m.alloc == nil {
		m.cells = make([]EntryOf[K, V], m.capacity)
	} else {
		var zero EntryOf[K, V]
		if hasPointers(reflect.TypeFor[EntryOf[K, V]]()) {
			return fmt.Errorf("%w: %T holds pointers and cannot live in allocator memory",
				ErrInvalidConfig, zero)
		}
		size := unsafe.Sizeof(zero)
		if size != 0 && uintptr(m.capacity) > math.MaxInt/size {
			return fmt.Errorf("%w: %d cells of %d bytes", ErrOutOfMemory, m.capacity, size)
		}
		b, err := m.alloc.Allocate(m.capacity * int(size))
		if err != nil {
			return err
		}
		if len(b) < m.capacity*int(size) ||
			(len(b) > 0 && uintptr(unsafe.Pointer(&b[0]))%unsafe.Alignof(zero) != 0) {
			_ = m.alloc.Deallocate(b)
			return fmt.Errorf("%w: allocator returned misaligned or short storage", ErrInvalidConfig)
		}
		m.mem = b
		if size == 0 {
			m.cells = make([]EntryOf[K, V], m.capacity)
		} else {
			m.cells = unsafe.Slice((*EntryOf[K, V])(unsafe.Pointer(&b[0])), m.capacity)
		}
	}
	if m.keys.empty != 0 {
		for i := range m.cells {
			m.cells[i].key = m.keys.empty
		}
	}
	return nil
}

// anchor returns the first probe position of key.
func (m *SubMapOf[K, V]) anchor(key K) int {
	h := m.hash(key)
	if p := h & m.anchorMask; p < uint64(m.capacity) {
		return int(p)
	}
	return int(h % uint64(m.capacity))
}

//go:nosplit
func (m *SubMapOf[K, V]) probeNext(idx int) int {
	idx++
	if idx == m.capacity {
		return 0
	}
	return idx
}

//go:nosplit
func (m *SubMapOf[K, V]) keyEqual(a, b K) bool {
	if m.eq == nil {
		return a == b
	}
	return m.eq(a, b)
}

// Find returns the cell index of key. When the key is absent it returns
// Capacity() and false.
//
// key must not be one of the sentinel values.
func (m *SubMapOf[K, V]) Find(key K) (idx int, ok bool) {
	idx = m.anchor(key)
	for probes := 0; probes < m.capacity; probes++ {
		k := loadKey(&m.cells[idx].key)
		if m.keyEqual(k, key) {
			return idx, true
		}
		if k == m.keys.empty {
			return m.capacity, false
		}
		idx = m.probeNext(idx)
	}
	return m.capacity, false
}

// Load returns the value stored for key.
func (m *SubMapOf[K, V]) Load(key K) (value V, ok bool) {
	idx, ok := m.Find(key)
	if !ok {
		return value, false
	}
	return m.cells[idx].Value, true
}

// Insert stores value under key unless the key is already present.
//
// It returns the cell index of the key and whether this call inserted it.
// An existing key keeps its value. When the submap has reached MaxEntries,
// or no free cell was found, Insert returns Capacity() and false.
func (m *SubMapOf[K, V]) Insert(key K, value V) (idx int, inserted bool) {
	idx, inserted, _ = m.insert(key, value, nil)
	return idx, inserted
}

// InsertFn is like Insert but builds the value with fn only after a cell was
// claimed for key. If fn returns an error or panics, the cell is returned to
// the empty state, the error is returned (the panic is propagated) and the
// submap is left as if the call never happened.
func (m *SubMapOf[K, V]) InsertFn(key K, fn func() (V, error)) (idx int, inserted bool, err error) {
	var zero V
	return m.insert(key, zero, fn)
}

func (m *SubMapOf[K, V]) insert(key K, value V, fn func() (V, error)) (int, bool, error) {
	idx := m.anchor(key)
	for probes := 0; ; {
		e := &m.cells[idx]
		if loadKeyRelaxed(&e.key) == m.keys.empty {
			m.pendEntries.Increment()
			if m.isFull.Load() != notFull {
				m.pendEntries.Decrement()
				// Make sure nobody else can still add an entry before
				// reporting exhaustion on a cell that may yet be filled.
				spinWhile(pendingInsertSpins, func() bool {
					return m.isFull.Load() != noPendingInserts && m.pendEntries.ReadFull() != 0
				})
				m.isFull.Store(noPendingInserts)
				if loadKey(&e.key) == m.keys.empty {
					return m.capacity, false, nil
				}
			} else if m.keys.tryLock(&e.key) {
				if fn != nil {
					v, err := m.construct(e, fn)
					if err != nil {
						return m.capacity, false, err
					}
					value = v
				}
				e.Value = value
				m.keys.commit(&e.key, key)
				m.pendEntries.Decrement()
				m.numEntries.Increment()
				if m.reachedMaxEntries() {
					m.isFull.CompareAndSwap(notFull, noNewInserts)
				}
				return idx, true, nil
			} else {
				// Lost the race for this cell; it now holds something.
				m.pendEntries.Decrement()
			}
		}

		k := loadKey(&e.key)
		if k == m.keys.locked {
			spinWhile(lockedCellSpins, func() bool {
				return loadKey(&e.key) == m.keys.locked
			})
			k = loadKey(&e.key)
		}
		if m.keyEqual(k, key) {
			return idx, false, nil
		}
		if k == m.keys.empty || k == m.keys.locked {
			// Rolled back, or still under construction: retry this cell.
			continue
		}
		probes++
		if probes >= m.capacity {
			return m.capacity, false, nil
		}
		idx = m.probeNext(idx)
	}
}

// reachedMaxEntries reports whether MaxEntries keys have been inserted.
// The flushed total is trusted while the unflushed stripes cannot make up
// the difference; near the limit the stripes are summed.
func (m *SubMapOf[K, V]) reachedMaxEntries() bool {
	fast := m.numEntries.ReadFast()
	if fast >= int64(m.maxEntries) {
		return true
	}
	slack := int64(len(m.numEntries.stripes)) * int64(m.numEntries.CacheSize()+1)
	if fast+slack < int64(m.maxEntries) {
		return false
	}
	return m.numEntries.ReadFull() >= int64(m.maxEntries)
}

// construct runs fn for a Locked cell and rolls the cell back to Empty when
// fn fails or panics.
func (m *SubMapOf[K, V]) construct(e *EntryOf[K, V], fn func() (V, error)) (v V, err error) {
	built := false
	defer func() {
		if !built {
			m.keys.rollback(&e.key)
			m.pendEntries.Decrement()
		}
	}()
	v, err = fn()
	if err != nil {
		return v, err
	}
	built = true
	return v, nil
}

// Erase marks the cell of key as erased. It returns false if the key is
// absent or another goroutine erased it first. Erased cells are not reused.
func (m *SubMapOf[K, V]) Erase(key K) bool {
	idx := m.anchor(key)
	for probes := 0; probes < m.capacity; probes++ {
		e := &m.cells[idx]
		k := loadKey(&e.key)
		if k == m.keys.empty || k == m.keys.locked {
			// A cell under construction cannot hold key: an insert of key
			// would have found this position first.
			return false
		}
		if m.keyEqual(k, key) {
			if m.keys.tryErase(&e.key, k) {
				m.numErases.Add(1)
				return true
			}
			return false
		}
		idx = m.probeNext(idx)
	}
	return false
}

// At returns the cell at idx. idx must be below Capacity().
func (m *SubMapOf[K, V]) At(idx int) *EntryOf[K, V] {
	return &m.cells[idx]
}

// Entries returns an iterator over the occupied cells at or after from, in
// storage order. It may be started again at any index, for example the one
// following the last index seen.
func (m *SubMapOf[K, V]) Entries(from int) iter.Seq2[int, *EntryOf[K, V]] {
	return func(yield func(int, *EntryOf[K, V]) bool) {
		for i := max(from, 0); i < len(m.cells); i++ {
			e := &m.cells[i]
			if m.keys.isSentinel(loadKey(&e.key)) {
				continue
			}
			if !yield(i, e) {
				return
			}
		}
	}
}

// All returns an iterator over the key/value pairs of the submap.
func (m *SubMapOf[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, e := range m.Entries(0) {
			if !yield(e.Key(), e.Value) {
				return
			}
		}
	}
}

// Size returns the number of live entries. Under concurrent modification
// the result is approximate.
func (m *SubMapOf[K, V]) Size() int {
	return int(m.numEntries.ReadFull() - m.numErases.Load())
}

// IsZero reports whether the submap holds no live entries.
func (m *SubMapOf[K, V]) IsZero() bool {
	return m.Size() == 0
}

// Capacity returns the number of cells.
func (m *SubMapOf[K, V]) Capacity() int {
	return m.capacity
}

// MaxEntries returns the number of inserts after which the submap refuses
// new keys.
func (m *SubMapOf[K, V]) MaxEntries() int {
	return m.maxEntries
}

// MaxLoadFactor returns the configured maximum load factor.
func (m *SubMapOf[K, V]) MaxLoadFactor() float64 {
	return m.loadFactor
}

// SetThreadCacheSize sets the flush threshold of the entry counters.
//
// The threshold is capped at MaxEntries/(8*stripes) so that the stripes are
// summed only close to the limit.
func (m *SubMapOf[K, V]) SetThreadCacheSize(n int) {
	limit := m.maxEntries / (8 * len(m.numEntries.stripes))
	m.numEntries.SetCacheSize(min(n, limit))
	m.pendEntries.SetCacheSize(min(n, limit))
}

// ThreadCacheSize returns the flush threshold of the entry counters.
func (m *SubMapOf[K, V]) ThreadCacheSize() int {
	return m.numEntries.CacheSize()
}

// Erased returns the number of erased cells.
func (m *SubMapOf[K, V]) Erased() int {
	return int(m.numErases.Load())
}

// Clear releases every value and empties all cells.
// Clear is not safe for concurrent use.
func (m *SubMapOf[K, V]) Clear() {
	m.releaseValues(true)
	m.numEntries.Set(0)
	m.pendEntries.Set(0)
	m.isFull.Store(notFull)
	m.numErases.Store(0)
}

// Close releases every value and returns the cell storage to the allocator.
// The submap must not be used afterwards. Close is not safe for concurrent
// use.
func (m *SubMapOf[K, V]) Close() error {
	m.releaseValues(false)
	m.cells = nil
	if m.mem == nil {
		return nil
	}
	b := m.mem
	m.mem = nil
	return m.alloc.Deallocate(b)
}

// releaseValues runs the release hook for every non-empty cell and zeroes
// its value, optionally resetting the key to Empty.
func (m *SubMapOf[K, V]) releaseValues(resetKeys bool) {
	var zero V
	for i := range m.cells {
		e := &m.cells[i]
		k := loadKey(&e.key)
		if k == m.keys.empty {
			continue
		}
		if m.release != nil {
			m.release(e.Value)
		}
		e.Value = zero
		if resetKeys {
			storeKey(&e.key, m.keys.empty)
		}
	}
}

func (m *SubMapOf[K, V]) String() string {
	return fmt.Sprintf("SubMapOf{capacity:%d maxEntries:%d size:%d}",
		m.capacity, m.maxEntries, m.Size())
}
