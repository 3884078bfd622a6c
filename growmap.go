package ahm

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
)

// GrowableMapOf is a concurrent hash map of machine-word keys that grows by
// chaining up to 16 SubMapOf tables instead of rehashing. Published cells
// never move, so a Handle returned by Insert or Find stays valid, and O(1),
// until Clear or Close.
//
// The map is sized for the expected number of entries. Each secondary
// submap is smaller than the previous total by the growth factor, so a map
// that outgrows its size hint degrades gracefully but eventually reports
// ErrMapFull. Erased cells are never reused.
//
// All methods except Clear and Close are safe for concurrent use.
type GrowableMapOf[K Key, V any] struct {
	_ noCopy

	subMaps      [maxSubMaps]publishSlot[SubMapOf[K, V]]
	numMaps      atomic.Uint32
	cfg          Config[K, V]
	cacheSize    atomic.Int64
	growth       float64
	logger       *slog.Logger
	totalGrowths atomic.Uint32
}

// NewGrowableMapOf creates a map sized for sizeHint entries. The primary
// submap gets ceil(sizeHint/MaxLoadFactor) cells, unless WithCapacity sets
// an explicit count.
//
// Example:
//
//	m, err := ahm.NewGrowableMapOf[int64, string](1000,
//		ahm.WithMaxLoadFactor[int64, string](0.5))
func NewGrowableMapOf[K Key, V any](
	sizeHint int,
	options ...func(*Config[K, V]),
) (*GrowableMapOf[K, V], error) {
	cfg, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	capacity := cfg.Capacity
	if capacity == 0 {
		f := math.Ceil(float64(max(sizeHint, 1)) / cfg.MaxLoadFactor)
		if f > float64(maxPrimaryCapacity) {
			return nil, fmt.Errorf("%w: size hint %d needs more than %d cells",
				ErrInvalidConfig, sizeHint, maxPrimaryCapacity)
		}
		capacity = int(f)
	}
	primary, err := newSubMap(capacity, &cfg)
	if err != nil {
		return nil, err
	}
	m := &GrowableMapOf[K, V]{
		cfg:    cfg,
		growth: cfg.growthFraction(),
		logger: cfg.logger(),
	}
	m.cacheSize.Store(int64(cfg.ThreadCacheSize))
	m.subMaps[0].tryClaim()
	m.subMaps[0].publish(primary)
	m.numMaps.Store(1)
	return m, nil
}

func (m *GrowableMapOf[K, V]) primary() *SubMapOf[K, V] {
	return m.subMaps[0].load()
}

// Insert stores value under key unless the key is already present in any
// submap. It returns the handle of the key's cell and whether this call
// inserted it.
//
// ErrMapFull is returned when every submap refused the key and no more
// submaps can be added; ErrOutOfMemory when the allocator failed to provide
// a new submap.
func (m *GrowableMapOf[K, V]) Insert(key K, value V) (Handle, bool, error) {
	return m.insert(key, value, nil)
}

// InsertFn is like Insert but builds the value with fn only once a cell has
// been claimed for key. An error from fn is returned as is, and the cell is
// left empty; a panic in fn is propagated after the same rollback.
func (m *GrowableMapOf[K, V]) InsertFn(key K, fn func() (V, error)) (Handle, bool, error) {
	var zero V
	return m.insert(key, zero, fn)
}

func (m *GrowableMapOf[K, V]) insert(key K, value V, fn func() (V, error)) (Handle, bool, error) {
	for {
		n := int(m.numMaps.Load())
		for i := 0; i < n; i++ {
			sm := m.subMaps[i].load()
			idx, inserted, err := sm.insert(key, value, fn)
			if err != nil {
				return 0, false, err
			}
			if idx != sm.capacity {
				return encodeHandle(i, idx), inserted, nil
			}
		}

		// Every submap refused the key.
		sm, err := m.grow(n)
		if err != nil {
			return 0, false, err
		}
		if sm == nil {
			continue
		}
		idx, inserted, err := sm.insert(key, value, fn)
		if err != nil {
			return 0, false, err
		}
		if idx != sm.capacity {
			return encodeHandle(n, idx), inserted, nil
		}
		// The new submap filled up before we got to it; start over.
	}
}

// nextCapacity returns the cell count of submap n, zero if growth is not
// possible.
func (m *GrowableMapOf[K, V]) nextCapacity(n int) int {
	primaryCap := float64(m.primary().capacity)
	if primaryCap*m.growth < 1 {
		return 0
	}
	// The epsilon keeps 1-0.8 from truncating 125*0.2 down to 24.
	cells := math.Floor(primaryCap*math.Pow(1+m.growth, float64(n-1)) + 1e-9)
	size := math.Floor(cells*m.growth + 1e-9)
	if size > float64(maxSecondaryCapacity) {
		return maxSecondaryCapacity
	}
	return int(size)
}

// grow makes sure submap n exists and returns it. Exactly one goroutine
// allocates it; the others wait until it is published. A nil submap with a
// nil error means the caller should start over.
func (m *GrowableMapOf[K, V]) grow(n int) (*SubMapOf[K, V], error) {
	if n >= m.cfg.MaxSubMaps {
		m.logger.Debug("ahm: map full", "submaps", n, "capacity", m.Capacity())
		return nil, fmt.Errorf("%w: all %d submaps in use", ErrMapFull, n)
	}
	capacity := m.nextCapacity(n)
	if capacity == 0 {
		m.logger.Debug("ahm: map full", "submaps", n, "growth", m.growth)
		return nil, fmt.Errorf("%w: growth factor %v leaves no room for submap %d",
			ErrMapFull, m.growth, n)
	}

	slot := &m.subMaps[n]
	if slot.tryClaim() {
		cfg := m.cfg
		cfg.ThreadCacheSize = int(m.cacheSize.Load())
		sm, err := newSubMap(capacity, &cfg)
		if err != nil {
			slot.rollback()
			m.logger.Warn("ahm: submap allocation failed", "submap", n, "cells", capacity, "err", err)
			if !errors.Is(err, ErrOutOfMemory) {
				err = fmt.Errorf("%w: %w", ErrOutOfMemory, err)
			}
			return nil, err
		}
		slot.publish(sm)
		m.numMaps.Add(1)
		m.totalGrowths.Add(1)
		// Catch a SetThreadCacheSize that ran before sm was visible.
		if size := int(m.cacheSize.Load()); size != cfg.ThreadCacheSize {
			sm.SetThreadCacheSize(size)
		}
		m.logger.Debug("ahm: submap added", "submap", n, "cells", capacity, "capacity", m.Capacity())
		return sm, nil
	}

	spinWhile(growthPublishSpins, func() bool {
		return int(m.numMaps.Load()) <= n
	})
	// nil while the claimant is slow or gave up after a failed allocation.
	return slot.load(), nil
}

// Find returns the handle of key's cell.
func (m *GrowableMapOf[K, V]) Find(key K) (Handle, bool) {
	primary := m.primary()
	if idx, ok := primary.Find(key); ok {
		return encodeHandle(0, idx), true
	}
	n := int(m.numMaps.Load())
	for i := 1; i < n; i++ {
		if idx, ok := m.subMaps[i].load().Find(key); ok {
			return encodeHandle(i, idx), true
		}
	}
	return 0, false
}

// Load returns the value stored for key.
func (m *GrowableMapOf[K, V]) Load(key K) (value V, ok bool) {
	h, ok := m.Find(key)
	if !ok {
		return value, false
	}
	return m.FindAt(h).Value, true
}

// Contains reports whether key is present.
func (m *GrowableMapOf[K, V]) Contains(key K) bool {
	_, ok := m.Find(key)
	return ok
}

// FindAt returns the cell h refers to. h must have been returned by this
// map since its last Clear; any other value may panic or return an
// unrelated cell.
func (m *GrowableMapOf[K, V]) FindAt(h Handle) *EntryOf[K, V] {
	return m.subMaps[h.SubMap()].load().At(h.Offset())
}

// KeyToHandle returns the handle of key. When the key is absent and
// mayInsert is set, value is inserted first. ok reports whether the
// returned handle refers to key.
func (m *GrowableMapOf[K, V]) KeyToHandle(key K, mayInsert bool, value V) (h Handle, ok bool, err error) {
	if h, ok = m.Find(key); ok || !mayInsert {
		return h, ok, nil
	}
	h, _, err = m.Insert(key, value)
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

// Erase removes key. It returns false if the key is absent or was erased
// concurrently by someone else.
func (m *GrowableMapOf[K, V]) Erase(key K) bool {
	n := int(m.numMaps.Load())
	for i := 0; i < n; i++ {
		if m.subMaps[i].load().Erase(key) {
			return true
		}
	}
	return false
}

// Capacity returns the total number of cells over all submaps.
func (m *GrowableMapOf[K, V]) Capacity() int {
	total := 0
	n := int(m.numMaps.Load())
	for i := 0; i < n; i++ {
		total += m.subMaps[i].load().capacity
	}
	return total
}

// RemainingSpace returns the number of inserts the existing submaps accept
// before they are all at their maximum load. Erased cells count as used.
func (m *GrowableMapOf[K, V]) RemainingSpace() int {
	rem := 0
	n := int(m.numMaps.Load())
	for i := 0; i < n; i++ {
		sm := m.subMaps[i].load()
		rem += max(0, sm.maxEntries-int(sm.numEntries.ReadFull()))
	}
	return rem
}

// Size returns the number of live entries. Under concurrent modification
// the result is approximate.
func (m *GrowableMapOf[K, V]) Size() int {
	total := 0
	n := int(m.numMaps.Load())
	for i := 0; i < n; i++ {
		total += m.subMaps[i].load().Size()
	}
	return total
}

// IsZero reports whether the map holds no live entries.
func (m *GrowableMapOf[K, V]) IsZero() bool {
	return m.Size() == 0
}

// NumSubMaps returns the number of allocated submaps, primary included.
func (m *GrowableMapOf[K, V]) NumSubMaps() int {
	return int(m.numMaps.Load())
}

// SubMap returns submap i, or nil if it has not been allocated.
func (m *GrowableMapOf[K, V]) SubMap(i int) *SubMapOf[K, V] {
	if i < 0 || i >= m.NumSubMaps() {
		return nil
	}
	return m.subMaps[i].load()
}

// SetThreadCacheSize sets the counter flush threshold of every current
// submap and of submaps allocated later.
func (m *GrowableMapOf[K, V]) SetThreadCacheSize(n int) {
	m.cacheSize.Store(int64(max(n, 0)))
	for i := 0; i < m.NumSubMaps(); i++ {
		m.subMaps[i].load().SetThreadCacheSize(n)
	}
}

// Entries returns an iterator over the occupied cells of all submaps, in
// submap then storage order, with their handles.
func (m *GrowableMapOf[K, V]) Entries() iter.Seq2[Handle, *EntryOf[K, V]] {
	return func(yield func(Handle, *EntryOf[K, V]) bool) {
		n := m.NumSubMaps()
		for i := 0; i < n; i++ {
			for idx, e := range m.subMaps[i].load().Entries(0) {
				if !yield(encodeHandle(i, idx), e) {
					return
				}
			}
		}
	}
}

// All returns an iterator over the key/value pairs of the map.
func (m *GrowableMapOf[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, e := range m.Entries() {
			if !yield(e.Key(), e.Value) {
				return
			}
		}
	}
}

// Range calls f for every occupied cell until f returns false.
func (m *GrowableMapOf[K, V]) Range(f func(h Handle, e *EntryOf[K, V]) bool) {
	for h, e := range m.Entries() {
		if !f(h, e) {
			return
		}
	}
}

// Clear empties the primary submap in place and releases every secondary
// submap. Handles obtained before Clear are invalid afterwards.
// Clear is not safe for concurrent use.
func (m *GrowableMapOf[K, V]) Clear() error {
	m.primary().Clear()
	var errs []error
	n := m.NumSubMaps()
	for i := 1; i < n; i++ {
		if err := m.subMaps[i].load().Close(); err != nil {
			errs = append(errs, err)
		}
		m.subMaps[i].reset()
	}
	m.numMaps.Store(1)
	return errors.Join(errs...)
}

// Close releases every submap. The map must not be used afterwards.
// Close is not safe for concurrent use.
func (m *GrowableMapOf[K, V]) Close() error {
	var errs []error
	n := m.NumSubMaps()
	for i := 0; i < n; i++ {
		if err := m.subMaps[i].load().Close(); err != nil {
			errs = append(errs, err)
		}
		m.subMaps[i].reset()
	}
	m.numMaps.Store(0)
	return errors.Join(errs...)
}

// String renders at most 1024 entries in fmt's map syntax.
func (m *GrowableMapOf[K, V]) String() string {
	const limit = 1024
	var sb strings.Builder
	sb.WriteString("GrowableMapOf[")
	count := 0
	for k, v := range m.All() {
		if count == limit {
			sb.WriteString(" ...")
			break
		}
		if count > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%v:%v", k, v)
		count++
	}
	sb.WriteByte(']')
	return sb.String()
}
