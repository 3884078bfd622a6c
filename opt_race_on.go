//go:build race

package ahm

// Under race detector, disable TSO optimizations and use conservative
// atomic loads
const isTSO = false

// Conservative: atomic key load to satisfy race detector
//
//go:nosplit
func loadKeyRelaxed[K Key](addr *K) K {
	return loadKey(addr)
}
