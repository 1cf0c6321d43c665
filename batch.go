package mwcas

// finishedBatch buffers the descriptors this handle finalized. A flush
// rewrites every target word of every buffered descriptor back to a plain
// value, then hands the descriptors to the reclaimer. It runs when a
// descriptor is added to a full buffer and when the handle closes, so by the
// time a descriptor is retired no word still references it.
type finishedBatch struct {
	descs [FinishedDescriptorThreshold]*Descriptor
	n     int
}

func (b *finishedBatch) add(h *Handle, d *Descriptor) {
	if b.n == len(b.descs) {
		b.flush(h)
	}
	b.descs[b.n] = d
	b.n++
}

func (b *finishedBatch) flush(h *Handle) {
	for i := 0; i < b.n; i++ {
		d := b.descs[i]
		st := d.Status()
		for j := uint32(0); j < d.count; j++ {
			d.words[j].complete(st)
		}
		h.rec.Retire(d)
		b.descs[i] = nil
	}
	b.n = 0
}
