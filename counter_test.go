package ahm

import (
	"runtime"
	"sync"
	"testing"
)

func TestApproxCounter_Basic(t *testing.T) {
	c := NewApproxCounter(5, 10)
	for i := 0; i < 100; i++ {
		c.Increment()
	}
	if got := c.ReadFull(); got != 105 {
		t.Errorf("ReadFull: expected 105, got %d", got)
	}
	lag := int64(c.CacheSize() * len(c.stripes))
	if got := c.ReadFast(); got > 105 || got < 105-lag {
		t.Errorf("ReadFast: expected within [%d,105], got %d", 105-lag, got)
	}

	c.Flush()
	if got := c.ReadFast(); got != 105 {
		t.Errorf("ReadFast after Flush: expected 105, got %d", got)
	}

	c.Decrement()
	c.Add(-4)
	if got := c.ReadFull(); got != 100 {
		t.Errorf("ReadFull after decrements: expected 100, got %d", got)
	}

	c.Set(0)
	if got := c.ReadFull(); got != 0 {
		t.Errorf("ReadFull after Set(0): expected 0, got %d", got)
	}
}

func TestApproxCounter_ZeroCacheIsExact(t *testing.T) {
	c := NewApproxCounter(0, 0)
	for i := 1; i <= 50; i++ {
		c.Increment()
		if got := c.ReadFast(); got != int64(i) {
			t.Fatalf("ReadFast: expected %d, got %d", i, got)
		}
	}

	c.SetCacheSize(-3)
	if c.CacheSize() != 0 {
		t.Errorf("negative cache size should clamp to 0, got %d", c.CacheSize())
	}
	c.SetCacheSize(64)
	if c.CacheSize() != 64 {
		t.Errorf("expected cache size 64, got %d", c.CacheSize())
	}
}

func TestApproxCounter_Concurrent(t *testing.T) {
	const perGoroutine = 10000
	c := NewApproxCounter(0, 1000)
	threads := runtime.GOMAXPROCS(0) * 2

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if i%2 == 0 {
					c.Increment()
				} else {
					c.Add(2)
				}
			}
		}(i)
	}
	wg.Wait()

	evens := int64((threads + 1) / 2)
	odds := int64(threads / 2)
	want := evens*perGoroutine + odds*2*perGoroutine
	if got := c.ReadFull(); got != want {
		t.Errorf("ReadFull: expected %d, got %d", want, got)
	}
	if got := c.ReadFast(); got > want {
		t.Errorf("ReadFast overshoots: %d > %d", got, want)
	}
}

func BenchmarkApproxCounterIncrement(b *testing.B) {
	c := NewApproxCounter(0, defaultThreadCacheSize)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Increment()
		}
	})
}
