// Package mwcas provides a lock-free multi-word compare-and-swap: up to
// Capacity word-sized cells at arbitrary addresses are compared and updated
// with the linearizability of a single-word CAS. Conflicting operations
// cooperate by helping each other to a decision, and finished descriptors
// are recycled through an epoch-based reclaimer so no goroutine ever frees
// memory another goroutine may still dereference.
//
// Typical use:
//
//	mwcas.StartGC(mwcas.Config{})
//	defer mwcas.StopGC()
//
//	h := mwcas.NewHandle()
//	defer h.Close()
//
//	d := h.New()
//	mwcas.AddTarget(d, &a, uint64(10), uint64(11))
//	mwcas.AddTarget(d, &b, uint64(20), uint64(21))
//	ok := h.Execute(d)
package mwcas

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dbgroup-nagoya-u/mwcas-aopt/internal/reclaim"
)

// Config controls the process-wide reclaimer.
type Config struct {
	// GCInterval is the cadence at which the reclaimer advances the global
	// epoch and frees retired descriptors. Zero selects 100ms.
	GCInterval time.Duration
	// GCWorkers is the number of background reclamation goroutines. Zero
	// selects 1.
	GCWorkers int
}

var gc atomic.Pointer[reclaim.Reclaimer]

// StartGC starts the process-wide descriptor reclaimer. It must complete
// before any handle is created.
func StartGC(cfg Config) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	workers := cfg.GCWorkers
	if workers <= 0 {
		workers = 1
	}

	r := reclaim.Start(reclaim.Config{Interval: interval, Workers: workers})
	if !gc.CompareAndSwap(nil, r) {
		r.Stop()
		panic("mwcas: StartGC called while a reclaimer is already running")
	}
}

// StopGC drains and tears down the reclaimer. Every handle must be closed
// and no operation may be in flight.
func StopGC() {
	r := gc.Swap(nil)
	if r == nil {
		panic("mwcas: StopGC without a running reclaimer")
	}
	r.Stop()
}

// Stats is a snapshot of reclaimer activity.
type Stats = reclaim.Stats

// GCStats snapshots the reclaimer counters.
func GCStats() Stats {
	return mustGC().Stats()
}

func mustGC() *reclaim.Reclaimer {
	r := gc.Load()
	if r == nil {
		panic("mwcas: reclaimer is not running; call StartGC first")
	}
	return r
}

// Handle carries the per-goroutine state of the protocol: an epoch slot,
// the guard reentrancy depth, and the batch of descriptors this goroutine
// finalized. Obtain one per goroutine and release it with Close; a handle
// must not be shared.
type Handle struct {
	rec   *reclaim.Reclaimer
	slot  *reclaim.Slot
	depth int
	batch finishedBatch
}

// NewHandle registers the calling goroutine with the reclaimer.
func NewHandle() *Handle {
	r := mustGC()
	return &Handle{rec: r, slot: r.AcquireSlot()}
}

// Close drains the finished batch and returns the epoch slot. The handle
// must not be used afterwards.
func (h *Handle) Close() {
	h.enter()
	h.batch.flush(h)
	h.leave()
	h.rec.ReleaseSlot(h.slot)
	h.slot = nil
}

// enter opens an epoch guard; nesting within one handle is cheap, only the
// outermost level publishes.
func (h *Handle) enter() {
	if h.depth == 0 {
		h.rec.Enter(h.slot)
	}
	h.depth++
}

func (h *Handle) leave() {
	h.depth--
	if h.depth == 0 {
		h.rec.Leave(h.slot)
	}
}

// New returns an empty Active descriptor, reinitializing a reclaimed one in
// place when the free list has a candidate.
func (h *Handle) New() *Descriptor {
	if item, ok := h.rec.TryReuse(); ok {
		d := item.(*Descriptor)
		d.reset()
		return d
	}
	return new(Descriptor)
}

// Execute runs the multi-word CAS and reports whether it settled
// successfully. The owner and any number of helpers may call it; every
// caller observes the same outcome, and exactly one of them retires the
// descriptor.
func (h *Handle) Execute(d *Descriptor) bool {
	h.enter()
	h.exec(d)
	ok := d.Status() == StatusSuccessful
	h.leave()
	return ok
}

// Read resolves the logical value of a target word, cooperating with any
// in-flight operation it encounters. It never returns an intermediate
// protocol state.
func Read[T Value](h *Handle, addr *Word) T {
	h.enter()
	_, value := h.readField(addr, nil)
	h.leave()
	return T(value.value())
}

// ReadPointer is Read for pointer payloads.
func ReadPointer[P any](h *Handle, addr *Word) *P {
	return (*P)(unsafe.Pointer(Read[uintptr](h, addr)))
}
