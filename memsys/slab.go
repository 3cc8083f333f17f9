package memsys

import "sync"

// SlabSize is the fixed block size used throughout the storage and
// network layers: compression and transfer both chunk at this boundary.
const SlabSize = 256 * 1024

// SlabPool is a sync.Pool of fixed-size byte slices, avoiding per-call
// allocation on the hot path of hashing, (de)compression, and frame
// body staging.
type SlabPool struct {
	pool sync.Pool
}

func NewSlabPool() *SlabPool {
	return &SlabPool{
		pool: sync.Pool{New: func() interface{} {
			b := make([]byte, SlabSize)
			return &b
		}},
	}
}

func (p *SlabPool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	return *bp
}

func (p *SlabPool) Put(b []byte) {
	if cap(b) != SlabSize {
		return
	}
	b = b[:SlabSize]
	p.pool.Put(&b)
}

var Default = NewSlabPool()
