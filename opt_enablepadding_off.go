//go:build !ahm_opt_enablepadding

package ahm

import "sync/atomic"

// counterStripe is one shard of an ApproxCounter.
type counterStripe struct {
	c atomic.Int64 // cached delta not yet flushed into the total
	n atomic.Int64 // updates since the last flush
}
