// Package pool recycles short-lived objects. Sinks encode every batch into a buffer
// before handing it to an object store, and those buffers are reused across jobs.
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a typed sync.Pool that resets objects on return and counts allocations.
type Pool[T any] struct {
	pool      sync.Pool
	reset     func(T)
	allocated atomic.Int64
	inUse     atomic.Int64
}

// New creates a pool. reset may be nil.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get returns a pooled object or a new one.
func (p *Pool[T]) Get() T {
	p.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and makes it available to Get.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats reports objects created so far and objects currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return p.allocated.Load(), p.inUse.Load()
}

// maxRetained is the largest buffer kept for reuse. A 50,000-row page encodes to tens of
// megabytes; keeping those alive between jobs costs more than reallocating them.
const maxRetained = 16 << 20

// Buffers holds encode buffers.
var Buffers = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer {
	return Buffers.Get()
}

// PutBuffer returns b to the pool unless it grew past maxRetained.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > maxRetained {
		Buffers.inUse.Add(-1)
		return
	}
	Buffers.Put(b)
}
