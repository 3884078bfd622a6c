package ahm

import (
	"errors"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig[int64, int]()
	if c.EmptyKey != -1 || c.LockedKey != -2 || c.ErasedKey != -3 {
		t.Errorf("Unexpected sentinels %d %d %d", c.EmptyKey, c.LockedKey, c.ErasedKey)
	}
	if c.MaxLoadFactor != defaultMaxLoadFactor || c.ThreadCacheSize != defaultThreadCacheSize {
		t.Errorf("Unexpected defaults %v %d", c.MaxLoadFactor, c.ThreadCacheSize)
	}
	if c.MaxSubMaps != maxSubMaps || c.Allocator != nil || c.Equal != nil {
		t.Errorf("Unexpected defaults %d %v", c.MaxSubMaps, c.Allocator)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Default config must be valid: %v", err)
	}
	if g := c.growthFraction(); g < 0.19999 || g > 0.20001 {
		t.Errorf("Expected growth fraction 0.2, got %v", g)
	}
	if c.logger() == nil {
		t.Error("Expected a default logger")
	}

	u := DefaultConfig[uint32, int]()
	if u.EmptyKey != 0xffffffff || u.LockedKey != 0xfffffffe || u.ErasedKey != 0xfffffffd {
		t.Errorf("Unexpected unsigned sentinels %#x %#x %#x", u.EmptyKey, u.LockedKey, u.ErasedKey)
	}
}

func TestConfig_Options(t *testing.T) {
	c, err := newConfig([]func(*Config[int64, int]){
		WithSentinels[int64, int](0, 1, 2),
		WithMaxLoadFactor[int64, int](0.5),
		WithGrowthFactor[int64, int](1),
		WithThreadCacheSize[int64, int](7),
		WithCapacity[int64, int](99),
		WithMaxSubMaps[int64, int](4),
		WithAllocator[int64, int](HeapAllocator{}),
		WithHasher[int64, int](IdentityHasher[int64]),
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.EmptyKey != 0 || c.LockedKey != 1 || c.ErasedKey != 2 {
		t.Errorf("WithSentinels not applied: %d %d %d", c.EmptyKey, c.LockedKey, c.ErasedKey)
	}
	if c.MaxLoadFactor != 0.5 || c.growthFraction() != 1 || c.ThreadCacheSize != 7 {
		t.Errorf("Options not applied: %v %v %d", c.MaxLoadFactor, c.growthFraction(), c.ThreadCacheSize)
	}
	if c.Capacity != 99 || c.MaxSubMaps != 4 || c.Allocator == nil {
		t.Errorf("Options not applied: %d %d %v", c.Capacity, c.MaxSubMaps, c.Allocator)
	}
	if c.Hasher(12345) != 12345 {
		t.Errorf("WithHasher not applied")
	}

	if _, err := newConfig([]func(*Config[int64, int]){WithGrowthFactor[int64, int](-1), WithMaxLoadFactor[int64, int](0.75)}); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config[uint64, int])
	}{
		{"empty equals locked", func(c *Config[uint64, int]) { c.LockedKey = c.EmptyKey }},
		{"empty equals erased", func(c *Config[uint64, int]) { c.ErasedKey = c.EmptyKey }},
		{"locked equals erased", func(c *Config[uint64, int]) { c.ErasedKey = c.LockedKey }},
		{"negative load factor", func(c *Config[uint64, int]) { c.MaxLoadFactor = -0.5 }},
		{"zero max submaps", func(c *Config[uint64, int]) { c.MaxSubMaps = 0 }},
		{"negative capacity", func(c *Config[uint64, int]) { c.Capacity = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig[uint64, int]()
			tt.modify(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestXXHasher(t *testing.T) {
	if XXHasher[int64](42) != XXHasher[int64](42) {
		t.Error("XXHasher is not deterministic")
	}
	if XXHasher[int64](-1) != XXHasher[uint64](^uint64(0)) {
		t.Error("XXHasher must hash the 8-byte image regardless of signedness")
	}

	// Sequential keys should spread over the low bits used as anchors.
	const buckets = 64
	var counts [buckets]int
	for i := uint64(0); i < buckets*100; i++ {
		counts[XXHasher(i)%buckets]++
	}
	for b, n := range counts {
		if n == 0 || n > 300 {
			t.Errorf("Bucket %d got %d of %d keys", b, n, buckets*100)
		}
	}
}
