package ahm

import (
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// ApproxCounter is a striped counter that keeps increments in per-processor
// stripes and periodically flushes them into a shared total, so that hot
// paths do not all contend on one atomic word.
//
// ReadFast returns the flushed total only and may lag behind concurrent
// writers by up to CacheSize updates per stripe. ReadFull adds the unflushed
// stripes and is exact once writers quiesce.
//
// The zero value is not usable; create counters with NewApproxCounter.
type ApproxCounter struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		total     atomic.Int64
		cacheSize atomic.Int64
		stripes   []counterStripe
		mask      uint32
	}{})%CacheLineSize) % CacheLineSize]byte

	total     atomic.Int64
	cacheSize atomic.Int64
	stripes   []counterStripe
	mask      uint32
}

// ctoken is the stripe hint a goroutine borrows from ctokenPool. sync.Pool
// keeps per-P caches, so a goroutine usually gets the same token back while
// it stays on one processor.
type ctoken struct {
	idx uint32
}

var ctokenPool = sync.Pool{
	New: func() any {
		return &ctoken{idx: rand.Uint32()}
	},
}

// NewApproxCounter creates a counter starting at initial whose stripes flush
// after cacheSize updates. A cacheSize of zero flushes on every update.
func NewApproxCounter(initial int64, cacheSize int) *ApproxCounter {
	c := &ApproxCounter{}
	c.init(initial, cacheSize)
	return c
}

func (c *ApproxCounter) init(initial int64, cacheSize int) {
	n := nextPowOf2(runtime.GOMAXPROCS(0))
	c.stripes = make([]counterStripe, n)
	c.mask = uint32(n - 1)
	c.total.Store(initial)
	c.cacheSize.Store(int64(max(cacheSize, 0)))
}

// Increment adds one.
func (c *ApproxCounter) Increment() {
	c.Add(1)
}

// Decrement subtracts one.
func (c *ApproxCounter) Decrement() {
	c.Add(-1)
}

// Add adds delta to the counter.
func (c *ApproxCounter) Add(delta int64) {
	t := ctokenPool.Get().(*ctoken)
	s := &c.stripes[t.idx&c.mask]
	ctokenPool.Put(t)

	s.c.Add(delta)
	if s.n.Add(1) > c.cacheSize.Load() {
		c.flush(s)
	}
}

func (c *ApproxCounter) flush(s *counterStripe) {
	s.n.Store(0)
	if d := s.c.Swap(0); d != 0 {
		c.total.Add(d)
	}
}

// ReadFast returns the flushed total without visiting the stripes.
func (c *ApproxCounter) ReadFast() int64 {
	return c.total.Load()
}

// ReadFull returns the total plus every unflushed stripe.
func (c *ApproxCounter) ReadFull() int64 {
	sum := c.total.Load()
	for i := range c.stripes {
		sum += c.stripes[i].c.Load()
	}
	return sum
}

// Flush moves every stripe into the total so that ReadFast becomes exact
// for the updates that happened before the call.
func (c *ApproxCounter) Flush() {
	for i := range c.stripes {
		c.flush(&c.stripes[i])
	}
}

// Set resets every stripe and stores v as the total. Updates racing with Set
// may be lost.
func (c *ApproxCounter) Set(v int64) {
	for i := range c.stripes {
		c.stripes[i].c.Store(0)
		c.stripes[i].n.Store(0)
	}
	c.total.Store(v)
}

// SetCacheSize changes the flush threshold.
func (c *ApproxCounter) SetCacheSize(n int) {
	c.cacheSize.Store(int64(max(n, 0)))
}

// CacheSize returns the flush threshold.
func (c *ApproxCounter) CacheSize() int {
	return int(c.cacheSize.Load())
}
