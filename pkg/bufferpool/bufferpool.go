// Package bufferpool amortizes heap churn for the storage core's
// streaming I/O paths. It is a thin size-classed wrapper
// around github.com/oxtoacart/bpool's fixed-width byte pools: one
// bpool.BytePool per power-of-two size class from 4 KiB to 8 MiB, each
// capped at a configurable number of free buffers.
package bufferpool

import (
	"github.com/oxtoacart/bpool"
)

const (
	minClassBytes = 4 * 1024
	maxClassBytes = 8 * 1024 * 1024
)

// Buffer is an opaque, size-classed byte region returned by Acquire. Its
// Bytes slice has length 0 and capacity equal to the owning size class;
// callers append into it or reslice up to cap.
type Buffer struct {
	Bytes []byte
	class int // index into Pool.classes, or -1 for an unpooled overflow buffer
}

// Pool is a buffer arena with one free-list per size class.
type Pool struct {
	classes    []int // class byte sizes, ascending
	freeLists  []*bpool.BytePool
}

// New builds a Pool whose size classes each hold at most perClass free
// buffers (default 32).
func New(perClass int) *Pool {
	p := &Pool{}
	for sz := minClassBytes; sz <= maxClassBytes; sz *= 2 {
		p.classes = append(p.classes, sz)
		p.freeLists = append(p.freeLists, bpool.NewBytePool(perClass, sz))
	}
	return p
}

// Acquire returns the smallest free buffer whose capacity is >= minSize,
// allocating a fresh one if none is free. If minSize exceeds the largest
// size class, a non-pooled buffer is allocated; Release on it is then a
// no-op.
func (p *Pool) Acquire(minSize int) *Buffer {
	for i, sz := range p.classes {
		if sz >= minSize {
			b := p.freeLists[i].Get()
			return &Buffer{Bytes: b[:0], class: i}
		}
	}
	return &Buffer{Bytes: make([]byte, 0, minSize), class: -1}
}

// Release returns b to its owning size class's free list. It is safe to
// call Release on a nil Buffer or one already released.
func (p *Pool) Release(b *Buffer) {
	if b == nil || b.class < 0 {
		return
	}
	p.freeLists[b.class].Put(b.Bytes[:cap(b.Bytes)])
	b.Bytes = nil
	b.class = -1
}

// WithBuffer acquires a buffer sized for minSize, passes it to fn, and
// guarantees Release on every exit path, including a panic unwinding
// through fn. Every caller in this module borrows buffers through it.
func (p *Pool) WithBuffer(minSize int, fn func(*Buffer) error) error {
	b := p.Acquire(minSize)
	defer p.Release(b)
	return fn(b)
}
