// Package bufpool provides tiered, reusable byte buffers for the frame
// codec so the output buffer of an encoded frame is not allocated on
// every call.
package bufpool

import "sync"

// Pool hands out []byte buffers sized to the nearest tier and returns them
// for reuse once the caller is done.
type Pool struct {
	small  sync.Pool // 4KB
	medium sync.Pool // 16KB
	large  sync.Pool // 64KB
}

// New creates a Pool with the standard 4KB/16KB/64KB tiers.
func New() *Pool {
	return &Pool{
		small: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 4096)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 16384)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 65536)
				return &buf
			},
		},
	}
}

// Get returns a buffer with at least the requested capacity, length zero.
func (p *Pool) Get(size int) *[]byte {
	var pool *sync.Pool
	switch {
	case size <= 4096:
		pool = &p.small
	case size <= 16384:
		pool = &p.medium
	case size <= 65536:
		pool = &p.large
	default:
		buf := make([]byte, 0, size)
		return &buf
	}

	v := pool.Get()
	buf := v.(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// Put returns buf to the largest tier its capacity covers, so a later Get
// from that tier still meets its capacity guarantee. Buffers smaller than
// the smallest tier or larger than the largest tier are dropped rather
// than pooled.
func (p *Pool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	c := cap(*buf)
	*buf = (*buf)[:0]
	switch {
	case c > 65536:
	case c >= 65536:
		p.large.Put(buf)
	case c >= 16384:
		p.medium.Put(buf)
	case c >= 4096:
		p.small.Put(buf)
	}
}
