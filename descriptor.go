package mwcas

import (
	"sync/atomic"
	"unsafe"
)

// Status of a descriptor. A descriptor starts Active and transitions exactly
// once, to Successful or Failed, via the finalize CAS.
type Status uint32

const (
	StatusActive Status = iota
	StatusSuccessful
	StatusFailed
)

// Descriptor coordinates one multi-word CAS over up to Capacity target
// words. Obtain one from Handle.New, register targets with AddTarget, then
// run it with Handle.Execute. A descriptor belongs to a single goroutine
// until Execute is entered; afterwards any goroutine that encounters it may
// help it finish.
//
// Registering the same word more than once in one descriptor is not
// supported and leaves the protocol undefined.
type Descriptor struct {
	status atomic.Uint32
	count  uint32
	_      [cacheLineSize - 8]byte
	words  [Capacity]wordDescriptor
}

// Size returns the number of registered targets.
func (d *Descriptor) Size() int { return int(d.count) }

// Status returns the current protocol state.
func (d *Descriptor) Status() Status { return Status(d.status.Load()) }

func (d *Descriptor) reset() {
	d.status.Store(uint32(StatusActive))
	d.count = 0
}

// AddTarget registers one (addr, old, new) triple. It reports false when the
// descriptor is already full. Only the owning goroutine may call it, and
// only before Execute.
func AddTarget[T Value](d *Descriptor, addr *Word, oldVal, newVal T) bool {
	if d.count >= Capacity {
		return false
	}
	d.words[d.count] = wordDescriptor{
		addr:   addr,
		oldVal: valueField(uint64(oldVal)),
		newVal: valueField(uint64(newVal)),
		parent: d,
	}
	d.count++
	return true
}

// AddPointerTarget registers a pointer-valued target. The pointees must stay
// reachable through ordinary references for as long as the word may hold
// them; the packed representation is invisible to the garbage collector.
func AddPointerTarget[P any](d *Descriptor, addr *Word, oldVal, newVal *P) bool {
	return AddTarget(d, addr, uintptr(unsafe.Pointer(oldVal)), uintptr(unsafe.Pointer(newVal)))
}

// exec runs the two-phase protocol: embed a reference to each operand into
// its target word, then settle the outcome with a single CAS on status.
// Called by the owner via Handle.Execute and by helpers that found d
// embedded in a word they read. The caller must hold an epoch guard.
func (h *Handle) exec(d *Descriptor) {
	success := true
	for i := uint32(0); i < d.count; i++ {
		w := &d.words[i]
	retry:
		raw, value := h.readField(w.addr, d)

		if raw.isDescriptor() && raw.descriptor() == w {
			// a helper already embedded this entry
			continue
		}
		if value != w.oldVal {
			// the word moved away from its expected value
			success = false
			break
		}
		if d.Status() != StatusActive {
			// someone else already settled this descriptor
			break
		}
		if !w.embed(raw) {
			goto retry
		}
	}

	desired := StatusFailed
	if success {
		desired = StatusSuccessful
	}
	if d.status.CompareAndSwap(uint32(StatusActive), uint32(desired)) {
		// the settling goroutine owns completion and retirement
		h.batch.add(h, d)
	}
}

// readField loads a target word and resolves it to its logical value,
// helping any other active descriptor it finds embedded there. self
// suppresses helping while d embeds its own operands, which would otherwise
// loop.
func (h *Handle) readField(addr *Word, self *Descriptor) (raw, value Field) {
	for {
		raw = addr.load()
		if !raw.isDescriptor() {
			return raw, raw
		}

		w := raw.descriptor()
		parent := w.parent
		st := parent.Status()
		if parent != self && st == StatusActive {
			h.exec(parent)
			continue
		}
		return raw, w.currentValue(st)
	}
}
