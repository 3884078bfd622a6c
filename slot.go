package ahm

import "sync/atomic"

// Slot states of a publishSlot. This is the cell state machine one level
// up: Unclaimed -> Claiming -> Published, with Claiming -> Unclaimed as the
// rollback taken when the claimant fails to build the value.
const (
	slotUnclaimed uint32 = iota
	slotClaiming
	slotPublished
)

// publishSlot holds a pointer that is written at most once while the map is
// shared. A single CAS decides which goroutine gets to build the value.
type publishSlot[T any] struct {
	state atomic.Uint32
	ptr   atomic.Pointer[T]
}

// tryClaim moves the slot from Unclaimed to Claiming.
func (s *publishSlot[T]) tryClaim() bool {
	return s.state.CompareAndSwap(slotUnclaimed, slotClaiming)
}

// publish stores p and marks the slot Published. Only the claimant may call it.
func (s *publishSlot[T]) publish(p *T) {
	s.ptr.Store(p)
	s.state.Store(slotPublished)
}

// rollback returns a claimed slot to Unclaimed.
func (s *publishSlot[T]) rollback() {
	s.state.Store(slotUnclaimed)
}

// load returns the published pointer, or nil while unpublished.
func (s *publishSlot[T]) load() *T {
	return s.ptr.Load()
}

// reset clears the slot. Not safe for concurrent use.
func (s *publishSlot[T]) reset() {
	s.ptr.Store(nil)
	s.state.Store(slotUnclaimed)
}
