package ahm

import (
	"sync/atomic"
	"testing"
)

const benchmarkNumKeys = 1 << 16

func BenchmarkGrowableMapOfFind(b *testing.B) {
	m, _ := NewGrowableMapOf[int64, int64](benchmarkNumKeys)
	for i := int64(0); i < benchmarkNumKeys; i++ {
		m.Insert(i, i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := int64(0)
		for pb.Next() {
			_, _ = m.Find(i & (benchmarkNumKeys - 1))
			i++
		}
	})
}

func BenchmarkGrowableMapOfFindSecondary(b *testing.B) {
	// A quarter of the keys overflow into secondary submaps.
	m, _ := NewGrowableMapOf[int64, int64](benchmarkNumKeys * 3 / 4)
	for i := int64(0); i < benchmarkNumKeys; i++ {
		m.Insert(i, i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := int64(0)
		for pb.Next() {
			_, _ = m.Find(i & (benchmarkNumKeys - 1))
			i++
		}
	})
}

func BenchmarkGrowableMapOfInsertDisjoint(b *testing.B) {
	m, _ := NewGrowableMapOf[int64, int64](b.N)
	var next atomic.Int64
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			k := next.Add(1)
			_, _, _ = m.Insert(k, k)
		}
	})
}

func BenchmarkGrowableMapOfInsertCollide(b *testing.B) {
	m, _ := NewGrowableMapOf[int64, int64](benchmarkNumKeys)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := int64(0)
		for pb.Next() {
			k := i & (benchmarkNumKeys - 1)
			_, _, _ = m.Insert(k, k)
			i++
		}
	})
}
