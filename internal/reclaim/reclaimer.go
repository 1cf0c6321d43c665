// Package reclaim implements epoch-based safe memory reclamation for
// descriptor-sized objects. Goroutines publish the epoch they entered
// through a claimed Slot; retired objects are stamped with the epoch of
// their retirement and move to a reuse pool only once every publication has
// advanced past that stamp.
package reclaim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Config sizes a Reclaimer.
type Config struct {
	// Interval between reclamation passes.
	Interval time.Duration
	// Workers is the number of background reclamation goroutines.
	Workers int
	// RingCapacity bounds the retire queue, rounded up to a power of two.
	// Zero selects 4096. Overflow spills to a mutex-guarded list, so the
	// bound is a fast-path size, not a limit.
	RingCapacity uint64
}

const defaultRingCapacity = 4096

// Stats is a snapshot of the reclaimer counters.
type Stats struct {
	Epoch   uint64
	Retired uint64
	Freed   uint64
	Reused  uint64
}

// Reclaimer frees retired objects once no published epoch can still observe
// them and keeps freed objects around for in-place reuse.
type Reclaimer struct {
	interval time.Duration

	epoch  atomic.Uint64
	slots  atomic.Pointer[slotList]
	growMu sync.Mutex

	ring       *retireRing
	overflowMu sync.Mutex
	overflow   []garbage

	freeMu sync.Mutex
	free   []any

	retired atomic.Uint64
	freed   atomic.Uint64
	reused  atomic.Uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// Start spawns the background workers and returns the running reclaimer.
func Start(cfg Config) *Reclaimer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ringCapacity := cfg.RingCapacity
	if ringCapacity == 0 {
		ringCapacity = defaultRingCapacity
	}

	r := &Reclaimer{
		interval: interval,
		ring:     newRetireRing(ringCapacity),
		stop:     make(chan struct{}),
	}
	r.slots.Store(&slotList{})
	r.epoch.Store(1)

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	log.Debug("mwcas reclaimer started", "interval", interval, "workers", workers)
	return r
}

func (r *Reclaimer) worker() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.epoch.Add(1)
			r.collect()
		}
	}
}

// Retire hands item to the reclaimer, stamped with the current global epoch.
// A later collection pass moves it to the free list once no slot publishes
// that epoch or an earlier one.
func (r *Reclaimer) Retire(item any) {
	g := garbage{epoch: r.epoch.Load(), item: item}
	if !r.ring.enqueue(g) {
		r.overflowMu.Lock()
		r.overflow = append(r.overflow, g)
		r.overflowMu.Unlock()
	}
	r.retired.Add(1)
}

// collect moves garbage whose retirement epoch every live guard has passed
// onto the free list. The ring drain stops at the first unsafe entry; FIFO
// order keeps newer garbage behind it.
func (r *Reclaimer) collect() {
	min := r.minEpoch()

	for {
		g, ok := r.ring.dequeue()
		if !ok {
			break
		}
		if g.epoch >= min {
			if !r.ring.enqueue(g) {
				r.overflowMu.Lock()
				r.overflow = append(r.overflow, g)
				r.overflowMu.Unlock()
			}
			break
		}
		r.release(g.item)
	}

	r.overflowMu.Lock()
	kept := r.overflow[:0]
	for _, g := range r.overflow {
		if g.epoch >= min {
			kept = append(kept, g)
			continue
		}
		r.release(g.item)
	}
	r.overflow = kept
	r.overflowMu.Unlock()
}

func (r *Reclaimer) release(item any) {
	r.freeMu.Lock()
	r.free = append(r.free, item)
	r.freeMu.Unlock()
	r.freed.Add(1)
}

// TryReuse pops a freed object for in-place reinitialization. It reports
// false when nothing is ready.
func (r *Reclaimer) TryReuse() (any, bool) {
	r.freeMu.Lock()
	n := len(r.free)
	if n == 0 {
		r.freeMu.Unlock()
		return nil, false
	}
	item := r.free[n-1]
	r.free[n-1] = nil
	r.free = r.free[:n-1]
	r.freeMu.Unlock()
	r.reused.Add(1)
	return item, true
}

// Stop halts the workers and frees all remaining garbage. The caller must
// guarantee that no guard is held and no further retirements arrive.
func (r *Reclaimer) Stop() {
	close(r.stop)
	r.wg.Wait()

	for {
		g, ok := r.ring.dequeue()
		if !ok {
			break
		}
		r.release(g.item)
	}
	r.overflowMu.Lock()
	for _, g := range r.overflow {
		r.release(g.item)
	}
	r.overflow = nil
	r.overflowMu.Unlock()
	log.Debug("mwcas reclaimer stopped", "freed", r.freed.Load(), "reused", r.reused.Load())
}

// Stats snapshots the counters.
func (r *Reclaimer) Stats() Stats {
	return Stats{
		Epoch:   r.epoch.Load(),
		Retired: r.retired.Load(),
		Freed:   r.freed.Load(),
		Reused:  r.reused.Load(),
	}
}
