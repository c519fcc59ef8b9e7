package engine

// retryBuffer holds completions that arrived before the dispatch event they
// cover, a routine reordering under most I/O schedulers. It is global
// across devices; drain filters by device internally so one device's
// backlog never blocks another's.
type retryBuffer struct {
	entries   []handle
	discarded uint64
}

func (b *retryBuffer) add(h handle) {
	b.entries = append(b.entries, h)
}

// drain retries every buffered completion belonging to dev against its
// current D index, called after each new D is indexed.
func (b *retryBuffer) drain(e *Engine, dev *device) {
	if len(b.entries) == 0 {
		return
	}
	kept := b.entries[:0]
	for _, h := range b.entries {
		n := e.pool.get(h)
		if n == nil {
			continue
		}
		if n.device != dev.id {
			kept = append(kept, h)
			continue
		}
		if dh, ok := e.findContainingD(dev, n.ev.Sector, n.ev.End()); ok {
			n.inRetry = false
			e.completeC(dev, h, dh)
			continue
		}
		kept = append(kept, h)
	}
	b.entries = kept
}

// drainAll is called at stream end: whatever is left never found its D and
// is released unresolved.
func (b *retryBuffer) drainAll(e *Engine) {
	for _, h := range b.entries {
		e.pool.release(h)
	}
	b.discarded += uint64(len(b.entries))
	b.entries = nil
}
