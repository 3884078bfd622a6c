//go:build unix

package main

import "github.com/llxisdsh/ahm"

func mmapAllocator(shared bool) (ahm.Allocator, error) {
	return ahm.MmapAllocator{Shared: shared}, nil
}
