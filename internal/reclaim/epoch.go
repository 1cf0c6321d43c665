package reclaim

import "sync/atomic"

// slotInactive is published while a slot holds no guard.
const slotInactive = ^uint64(0)

// Slot is one goroutine's published epoch. Slots are padded so guard
// enter/leave and the min-epoch scan do not false-share.
type Slot struct {
	_       [48]byte
	epoch   atomic.Uint64
	claimed atomic.Uint32
	_       [4]byte
}

// slotList is an immutable snapshot of every slot ever created; growth
// publishes a new snapshot so the scan side never takes a lock.
type slotList struct {
	slots []*Slot
}

// Enter publishes the current global epoch for s. While the publication
// stands, nothing retired at or after that epoch may be freed.
func (r *Reclaimer) Enter(s *Slot) {
	s.epoch.Store(r.epoch.Load())
}

// Leave withdraws the publication.
func (r *Reclaimer) Leave(s *Slot) {
	s.epoch.Store(slotInactive)
}

// AcquireSlot claims an idle slot, growing the slot list when every
// existing slot is taken. Slots are never deallocated; a released slot is
// handed to the next caller.
func (r *Reclaimer) AcquireSlot() *Slot {
	list := r.slots.Load()
	for _, s := range list.slots {
		if s.claimed.CompareAndSwap(0, 1) {
			return s
		}
	}

	s := &Slot{}
	s.epoch.Store(slotInactive)
	s.claimed.Store(1)

	r.growMu.Lock()
	cur := r.slots.Load()
	next := &slotList{slots: make([]*Slot, 0, len(cur.slots)+1)}
	next.slots = append(next.slots, cur.slots...)
	next.slots = append(next.slots, s)
	r.slots.Store(next)
	r.growMu.Unlock()
	return s
}

// ReleaseSlot returns s to the idle pool. The caller must not hold a guard.
func (r *Reclaimer) ReleaseSlot(s *Slot) {
	s.epoch.Store(slotInactive)
	s.claimed.Store(0)
}

// minEpoch returns the oldest published epoch, or slotInactive when no
// guard is held anywhere.
func (r *Reclaimer) minEpoch() uint64 {
	min := uint64(slotInactive)
	list := r.slots.Load()
	for _, s := range list.slots {
		if e := s.epoch.Load(); e < min {
			min = e
		}
	}
	return min
}
