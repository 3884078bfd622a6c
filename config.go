package ahm

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	// defaultMaxLoadFactor is the fraction of cells a submap fills before it
	// starts refusing new keys.
	defaultMaxLoadFactor = 0.8
	// defaultThreadCacheSize is the number of updates a counter stripe
	// accumulates before it is flushed into the shared total.
	defaultThreadCacheSize = 1000
	// maxPrimaryCapacity keeps primary offsets clear of the secondary bit.
	maxPrimaryCapacity = int64(handleSecondaryBit)
	// maxSecondaryCapacity keeps secondary offsets inside the offset field.
	maxSecondaryCapacity = int(handleOffsetMask) + 1
)

// Key is the set of key types a map can hold. Keys live in a single machine
// word so that a cell can be claimed with one compare-and-swap.
type Key interface {
	~int32 | ~uint32 | ~int64 | ~uint64 | ~int | ~uint | ~uintptr
}

// Config defines the options shared by a GrowableMapOf and every SubMapOf it
// allocates. Start from DefaultConfig and adjust it with the With* options.
type Config[K Key, V any] struct {
	// EmptyKey, LockedKey and ErasedKey tag unused, in-construction and
	// deleted cells. They must be distinct and must never be used as real
	// keys.
	EmptyKey  K
	LockedKey K
	ErasedKey K
	// Hasher maps a key to its probe anchor.
	Hasher func(K) uint64
	// Equal compares two keys. nil means ==.
	Equal func(a, b K) bool
	// MaxLoadFactor in (0,1] governs when a submap reports exhaustion.
	MaxLoadFactor float64
	// GrowthFactor sizes the next submap. Negative means 1-MaxLoadFactor,
	// zero disables growth.
	GrowthFactor float64
	// ThreadCacheSize tunes the approximate entry counters.
	ThreadCacheSize int
	// Capacity, when positive, is used as the primary cell count instead of
	// the size hint divided by MaxLoadFactor.
	Capacity int
	// MaxSubMaps limits how many submaps a GrowableMapOf may chain, 1..16.
	MaxSubMaps int
	// Allocator provides cell storage. nil uses a typed Go heap slice.
	Allocator Allocator
	// ValueRelease, if set, is called for every constructed value when its
	// submap is cleared or closed.
	ValueRelease func(V)
	// Logger receives growth and allocation events. nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used when no options are given:
// sentinels -1, -2 and -3 (the three largest values for unsigned keys),
// xxhash hashing, a 0.8 max load factor and growth of 1-0.8.
func DefaultConfig[K Key, V any]() Config[K, V] {
	return Config[K, V]{
		EmptyKey:        ^K(0),
		LockedKey:       ^K(0) - 1,
		ErasedKey:       ^K(0) - 2,
		Hasher:          XXHasher[K],
		MaxLoadFactor:   defaultMaxLoadFactor,
		GrowthFactor:    -1,
		ThreadCacheSize: defaultThreadCacheSize,
		MaxSubMaps:      maxSubMaps,
	}
}

// WithSentinels configures the three out-of-band key values.
func WithSentinels[K Key, V any](empty, locked, erased K) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.EmptyKey = empty
		c.LockedKey = locked
		c.ErasedKey = erased
	}
}

// WithHasher configures a custom key hash function.
func WithHasher[K Key, V any](hasher func(K) uint64) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.Hasher = hasher
	}
}

// WithEqual configures a custom key equality function.
func WithEqual[K Key, V any](equal func(a, b K) bool) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.Equal = equal
	}
}

// WithMaxLoadFactor configures the fraction of cells a submap fills before
// it refuses new keys.
func WithMaxLoadFactor[K Key, V any](f float64) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.MaxLoadFactor = f
	}
}

// WithGrowthFactor configures how much larger each secondary submap is.
// A zero factor disables growth.
func WithGrowthFactor[K Key, V any](f float64) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.GrowthFactor = f
	}
}

// WithThreadCacheSize configures the flush threshold of the entry counters.
func WithThreadCacheSize[K Key, V any](n int) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.ThreadCacheSize = n
	}
}

// WithCapacity configures an explicit primary cell count, bypassing the
// load factor based sizing.
func WithCapacity[K Key, V any](capacity int) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.Capacity = capacity
	}
}

// WithMaxSubMaps limits the number of chained submaps. One disables growth.
func WithMaxSubMaps[K Key, V any](n int) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.MaxSubMaps = n
	}
}

// WithAllocator configures the storage allocator for cell arrays.
func WithAllocator[K Key, V any](a Allocator) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.Allocator = a
	}
}

// WithValueRelease configures a hook run for each constructed value when
// its storage is cleared or released.
func WithValueRelease[K Key, V any](fn func(V)) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.ValueRelease = fn
	}
}

// WithLogger configures the logger used for growth and allocation events.
func WithLogger[K Key, V any](l *slog.Logger) func(*Config[K, V]) {
	return func(c *Config[K, V]) {
		c.Logger = l
	}
}

// Validate reports whether the configuration can be used to build a map.
func (c *Config[K, V]) Validate() error {
	if c.EmptyKey == c.LockedKey || c.EmptyKey == c.ErasedKey || c.LockedKey == c.ErasedKey {
		return fmt.Errorf("%w: sentinel keys must be distinct (empty=%v locked=%v erased=%v)",
			ErrInvalidConfig, c.EmptyKey, c.LockedKey, c.ErasedKey)
	}
	if math.IsNaN(c.MaxLoadFactor) || c.MaxLoadFactor <= 0 || c.MaxLoadFactor > 1 {
		return fmt.Errorf("%w: max load factor %v outside (0,1]", ErrInvalidConfig, c.MaxLoadFactor)
	}
	if math.IsNaN(c.GrowthFactor) || math.IsInf(c.GrowthFactor, 0) {
		return fmt.Errorf("%w: growth factor %v", ErrInvalidConfig, c.GrowthFactor)
	}
	if c.Hasher == nil {
		return fmt.Errorf("%w: nil hasher", ErrInvalidConfig)
	}
	if c.ThreadCacheSize < 0 {
		return fmt.Errorf("%w: negative thread cache size %d", ErrInvalidConfig, c.ThreadCacheSize)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity %d", ErrInvalidConfig, c.Capacity)
	}
	if c.MaxSubMaps < 1 || c.MaxSubMaps > maxSubMaps {
		return fmt.Errorf("%w: max submaps %d outside [1,%d]", ErrInvalidConfig, c.MaxSubMaps, maxSubMaps)
	}
	return nil
}

// growthFraction resolves the effective growth factor.
func (c *Config[K, V]) growthFraction() float64 {
	if c.GrowthFactor < 0 {
		return 1 - c.MaxLoadFactor
	}
	return c.GrowthFactor
}

func (c *Config[K, V]) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func newConfig[K Key, V any](options []func(*Config[K, V])) (Config[K, V], error) {
	c := DefaultConfig[K, V]()
	for _, o := range options {
		o(&c)
	}
	if err := c.Validate(); err != nil {
		return Config[K, V]{}, err
	}
	return c, nil
}

// XXHasher hashes the key's 8-byte little-endian image with xxhash64.
// It is the default hasher.
func XXHasher[K Key](k K) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

// IdentityHasher uses the key itself as its hash. It suits keys that are
// already well distributed.
func IdentityHasher[K Key](k K) uint64 {
	return uint64(k)
}
