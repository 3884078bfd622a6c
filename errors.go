package ahm

import "errors"

// Sentinel errors returned by map operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, ahm.ErrMapFull) {
//	    // shed load or rebuild with a larger size hint
//	}
var (
	// ErrMapFull indicates every submap slot is in use (or the growth
	// factor yields an empty next submap) and the key could not be placed.
	//
	// Erased cells are never reused, so erasing does not make room.
	//
	// Recovery: recreate the map with a larger size hint or growth factor.
	ErrMapFull = errors.New("ahm: map is full")

	// ErrOutOfMemory indicates the allocator could not provide storage
	// for a new submap.
	ErrOutOfMemory = errors.New("ahm: out of memory")

	// ErrInvalidConfig indicates the configuration was rejected at
	// construction time: sentinel keys not distinct, load factor outside
	// (0,1], capacity out of range, or an allocator that cannot hold the
	// entry type.
	//
	// This is a programming error.
	ErrInvalidConfig = errors.New("ahm: invalid configuration")
)
