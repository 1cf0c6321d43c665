package reclaim

import (
	"runtime"
	"sync/atomic"
)

// garbage is one retired object stamped with the epoch at which it was
// retired.
type garbage struct {
	epoch uint64
	item  any
}

type ringSlot struct {
	sequence atomic.Uint64
	g        garbage
}

// retireRing is a bounded lock-free MPMC queue of retired objects using the
// sequence-per-slot CAS pattern (Vyukov style). Retirement order
// approximates epoch order, so a drain can stop at the first entry that is
// still unsafe and trust that everything behind it is newer.
type retireRing struct {
	capacity uint64
	mask     uint64

	_pad0 [48]byte
	head  atomic.Uint64
	_pad1 [48]byte
	tail  atomic.Uint64
	_pad2 [48]byte

	slots []ringSlot
}

func newRetireRing(capacity uint64) *retireRing {
	size := uint64(2)
	for size < capacity {
		size *= 2
	}
	slots := make([]ringSlot, size)
	for i := uint64(0); i < size; i++ {
		slots[i].sequence.Store(i)
	}
	return &retireRing{
		capacity: size,
		mask:     size - 1,
		slots:    slots,
	}
}

func (q *retireRing) enqueue(g garbage) bool {
	for {
		pos := q.tail.Load()
		slot := &q.slots[pos&q.mask]
		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos)

		if delta == 0 {
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.g = g
				slot.sequence.Store(pos + 1)
				return true
			}
			continue
		}
		if delta < 0 {
			return false
		}
		runtime.Gosched()
	}
}

func (q *retireRing) dequeue() (garbage, bool) {
	for {
		pos := q.head.Load()
		slot := &q.slots[pos&q.mask]
		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos+1)

		if delta == 0 {
			if q.head.CompareAndSwap(pos, pos+1) {
				g := slot.g
				slot.g = garbage{}
				slot.sequence.Store(pos + q.capacity)
				return g, true
			}
			continue
		}
		if delta < 0 {
			return garbage{}, false
		}
		runtime.Gosched()
	}
}
