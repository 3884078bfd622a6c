//go:build !unix

package main

import (
	"errors"

	"github.com/llxisdsh/ahm"
)

func mmapAllocator(bool) (ahm.Allocator, error) {
	return nil, errors.New("mmap allocator is only available on unix")
}
