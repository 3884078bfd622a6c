//go:build unix

package ahm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps anonymous memory outside the Go heap. With Shared set
// the mapping is MAP_SHARED, so it survives into processes forked after the
// map is built.
type MmapAllocator struct {
	Shared bool
}

// Allocate maps size bytes of zeroed, page-aligned memory.
func (a MmapAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	if a.Shared {
		flags = unix.MAP_ANON | unix.MAP_SHARED
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrOutOfMemory, size, err)
		}
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Deallocate unmaps b.
func (a MmapAllocator) Deallocate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(b), err)
	}
	return nil
}
