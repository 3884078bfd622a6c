package ahm

import (
	"fmt"
	"strings"
)

// MapStats is GrowableMapOf statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// SubMaps is the number of allocated submaps, primary included.
	SubMaps int
	// Capacity is the total number of cells over all submaps.
	Capacity int
	// MaxEntries is the sum of the per-submap insert limits.
	MaxEntries int
	// Size is the exact number of occupied cells found by scanning.
	Size int
	// Counter is the number of live entries according to the internal
	// counters. In case of concurrent map modifications this number may
	// be different from Size.
	Counter int
	// CounterLen is the number of stripes of each entry counter.
	CounterLen int
	// Erased is the number of erased cells. They are never reused.
	Erased int
	// Locked is the number of cells found under construction.
	Locked int
	// TotalGrowths is the number of submaps added since creation.
	TotalGrowths uint32
	// SubMapCapacities lists the cell count of each submap.
	SubMapCapacities []int
}

// Stats returns statistics for the map. Just like other map methods, this
// one is thread-safe. Yet it's an O(N) operation, so it should be used only
// for diagnostics or debugging purposes.
func (m *GrowableMapOf[K, V]) Stats() *MapStats {
	stats := &MapStats{
		TotalGrowths: m.totalGrowths.Load(),
	}
	n := m.NumSubMaps()
	stats.SubMaps = n
	for i := 0; i < n; i++ {
		sm := m.subMaps[i].load()
		stats.Capacity += sm.capacity
		stats.MaxEntries += sm.maxEntries
		stats.Counter += sm.Size()
		stats.CounterLen = len(sm.numEntries.stripes)
		stats.SubMapCapacities = append(stats.SubMapCapacities, sm.capacity)
		for j := range sm.cells {
			switch sm.keys.classify(loadKey(&sm.cells[j].key)) {
			case stateOccupied:
				stats.Size++
			case stateErased:
				stats.Erased++
			case stateLocked:
				stats.Locked++
			}
		}
	}
	return stats
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("SubMaps:      %d\n", s.SubMaps))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("MaxEntries:   %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("Erased:       %d\n", s.Erased))
	sb.WriteString(fmt.Sprintf("Locked:       %d\n", s.Locked))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("SubMapCaps:   %v\n", s.SubMapCapacities))
	sb.WriteString("}\n")
	return sb.String()
}
