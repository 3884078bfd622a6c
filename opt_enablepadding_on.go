//go:build ahm_opt_enablepadding

package ahm

import (
	"sync/atomic"
	"unsafe"
)

// counterStripe is one shard of an ApproxCounter, padded to a cache line
// so that goroutines bumping neighbouring stripes do not false-share.
// If turned on, every counter occupies GOMAXPROCS cache lines.
// By default, it is turned off.
type counterStripe struct {
	c atomic.Int64 // cached delta not yet flushed into the total
	n atomic.Int64 // updates since the last flush

	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		c atomic.Int64
		n atomic.Int64
	}{})%CacheLineSize) % CacheLineSize]byte
}
