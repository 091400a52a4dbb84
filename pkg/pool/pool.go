// Package pool provides typed object pooling over sync.Pool.
//
// Buffers is the shared pool of read buffers used when whole HTTP response
// bodies are drained. Buffers that grew beyond MaxBufferSize are dropped
// instead of returned so one bulk response does not pin memory.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool with usage counters.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a pool. reset, when non-nil, runs before an object is put back.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Discard records that obj was taken but will not be returned.
func (p *Pool[T]) Discard(T) {
	atomic.AddInt64(&p.stats.inUse, -1)
}

// Stats returns the number of objects allocated and currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

// MaxBufferSize is the largest buffer kept for reuse.
const MaxBufferSize = 4 << 20

// Buffers pools byte buffers.
var Buffers = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64<<10)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer from Buffers.
func GetBuffer() *bytes.Buffer {
	return Buffers.Get()
}

// PutBuffer returns b to Buffers unless it grew past MaxBufferSize.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > MaxBufferSize {
		Buffers.Discard(b)
		return
	}
	Buffers.Put(b)
}
