package common

import "go.uber.org/atomic"

// IdAllocator hands out a monotonically increasing id sequence, following
// the catalog's own IDAlloctor. No other package in this module uses
// it: Revision ids and write-attempt ids are chosen by their callers.
type IdAllocator struct {
	id *atomic.Uint64
}

func NewIdAllocator(start uint64) *IdAllocator {
	return &IdAllocator{id: atomic.NewUint64(start)}
}

func (a *IdAllocator) Alloc() uint64 {
	return a.id.Inc()
}

func (a *IdAllocator) SetStart(id uint64) {
	a.id.Store(id)
}

func (a *IdAllocator) Get() uint64 {
	return a.id.Load()
}
