package ahm

import "fmt"

// This limits primary submap size to 2^31 cells, secondary submap size to
// 2^(32-handleSubMapBits-1) = 2^27 cells, and the number of submaps to
// 2^handleSubMapBits = 16.
const (
	handleSubMapBits          = 4
	handleSecondaryBit uint32 = 1 << 31
	handleSubMapShift         = 32 - handleSubMapBits - 1
	handleOffsetMask   uint32 = 1<<handleSubMapShift - 1
	maxSubMaps                = 1 << handleSubMapBits
)

// Handle identifies a cell of a GrowableMapOf for O(1) re-access through
// FindAt. A handle is only meaningful to the map that returned it, and only
// while that map is alive and not cleared.
//
// Handles of the primary submap are the raw cell offset. Handles of
// secondary submaps set the high bit, carry the submap index in the next
// four bits and the offset in the remaining 27.
type Handle uint32

// encodeHandle packs a submap index and a cell offset. The offset range of
// each submap is bounded at allocation time so that it always fits.
func encodeHandle(subMap int, offset int) Handle {
	if subMap == 0 {
		return Handle(uint32(offset))
	}
	return Handle(uint32(offset) | uint32(subMap)<<handleSubMapShift | handleSecondaryBit)
}

// IsSecondary reports whether h points into a secondary submap.
func (h Handle) IsSecondary() bool {
	return uint32(h)&handleSecondaryBit != 0
}

// SubMap returns the index of the submap h points into.
func (h Handle) SubMap() int {
	if !h.IsSecondary() {
		return 0
	}
	return int((uint32(h) &^ handleSecondaryBit) >> handleSubMapShift)
}

// Offset returns the cell offset inside the submap.
func (h Handle) Offset() int {
	if !h.IsSecondary() {
		return int(uint32(h))
	}
	return int(uint32(h) & handleOffsetMask)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.SubMap(), h.Offset())
}
