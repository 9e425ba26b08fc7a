package util

import (
	"sync"
)

// IDAllocator hands out nonzero 32-bit ids in increasing order, wrapping
// past the largest value. Zero means "no id" in records.
type IDAllocator struct {
	mu      sync.Mutex
	highest uint32
}

// Next returns a fresh id.
func (a *IDAllocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.highest++
	if a.highest == 0 {
		a.highest = 1
	}
	return a.highest
}
