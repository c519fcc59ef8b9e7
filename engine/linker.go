package engine

import (
	"github.com/ue90/blktrace/stats"
	"github.com/ue90/blktrace/trace"
)

// link dispatches one decoded event to its kind-specific correlation step.
// It is the direct analogue of perfsession.Session.Update's type switch,
// generalized from a closed set of perf record types to a closed set of
// trace event kinds.
func (e *Engine) link(dev *device, ev *trace.Event) {
	switch ev.Kind {
	case trace.KindQ:
		e.linkQ(dev, ev)
	case trace.KindA:
		e.linkA(dev, ev)
	case trace.KindX:
		e.linkX(dev, ev)
	case trace.KindM:
		e.linkM(dev, ev)
	case trace.KindI:
		e.linkI(dev, ev)
	case trace.KindD:
		e.linkD(dev, ev)
	case trace.KindC:
		e.linkC(dev, ev)
	case trace.KindR:
		e.linkR(dev, ev)
	case trace.KindL:
		// Advisory only; never enters the graph.
	}
}

func (e *Engine) newRoot(dev *device, ev *trace.Event) handle {
	h := e.pool.acquire()
	n := e.pool.get(h)
	n.ev = *ev
	n.device = dev.id
	n.parent = noHandle
	n.bytesLeft = uint64(ev.Length)
	dev.index(trace.KindQ).insert(ev.Sector, h)
	dev.nQueued++
	dev.lastQ = ev.Time
	dev.qranges.touch(ev.Sector, ev.End(), ev.Time)
	return h
}

func (e *Engine) linkQ(dev *device, ev *trace.Event) {
	e.newRoot(dev, ev)
	dev.load.OnQueued(ev.Time)
	p := e.procs.processFor(ev.PID, ev.Comm)
	p.onQueue(ev.Sector, ev.End(), ev.Time)
}

// linkA handles a remap. The source-side Q, if still queued, is consumed
// without itself ever becoming a ready graph: the tracer emits a genuine
// new Q on the target device once the remap lands (SPEC_FULL.md §9), so
// the engine's only job here is to retire the source side and record how
// long it took, not to synthesize the target's root itself.
func (e *Engine) linkA(dev *device, ev *trace.Event) {
	srcH, ok := dev.index(trace.KindQ).findExact(ev.Sector)
	if !ok {
		e.counters.OrphanA++
		dev.orphanA++
		return
	}
	src := e.pool.get(srcH)
	e.observeQ2A(dev, src.ev.PID, src.ev.Comm, ev.Time-src.ev.Time)
	dev.index(trace.KindQ).erase(ev.Sector)
	e.pool.release(srcH)
}

// findContainingQ returns the Q on dev whose range contains sector (the
// split point lands inside the original request, not at its start, so
// this is a containment search rather than an exact-key lookup).
func (e *Engine) findContainingQ(dev *device, sector uint64) handle {
	idx := dev.index(trace.KindQ)
	fi := idx.floorIndex(sector)
	if fi < 0 {
		return noHandle
	}
	h := idx.byStart[idx.sorted[fi]]
	if n := e.pool.get(h); n != nil && n.ev.Sector <= sector && n.ev.End() > sector {
		return h
	}
	return noHandle
}

// linkX handles a split. Like A, the original Q is consumed immediately;
// the two child Q records that follow arrive as independent fresh roots
// (spec.md §8 S3 expects exactly two ready graphs, not three), so X itself
// is not persisted as a node.
func (e *Engine) linkX(dev *device, ev *trace.Event) {
	srcH := e.findContainingQ(dev, ev.Sector)
	if srcH == noHandle {
		e.counters.OrphanX++
		return
	}
	src := e.pool.get(srcH)
	e.observeQ2A(dev, src.ev.PID, src.ev.Comm, ev.Time-src.ev.Time)
	dev.index(trace.KindQ).erase(src.ev.Sector)
	e.pool.release(srcH)
}

// observeQ2A folds one A/X resolution's latency into the device, process,
// and global Q2A averages, per SPEC_FULL.md §5's "accumulating into
// per-device, per-process, and global averages" contract.
func (e *Engine) observeQ2A(dev *device, pid uint32, comm string, delta int64) {
	v, clamped := stats.Clamp(delta)
	if clamped {
		e.counters.NegativeLatencyClamped++
	}
	dev.averages.Q2A.Observe(v)
	e.global.Q2A.Observe(v)
	e.procs.processFor(pid, comm).averages.Q2A.Observe(v)
}

// findAdjacent looks for a node of kind k whose sector range is contiguous
// with [sector, end): either ending exactly where the new range starts
// (back-merge) or starting exactly where it ends (front-merge).
func (e *Engine) findAdjacent(dev *device, k trace.Kind, sector, end uint64) handle {
	idx := dev.index(k)
	if fi := idx.floorIndex(sector); fi >= 0 {
		cand := idx.sorted[fi]
		h := idx.byStart[cand]
		if n := e.pool.get(h); n != nil && n.ev.End() == sector {
			return h
		}
	}
	if h, ok := idx.findExact(end); ok {
		return h
	}
	return noHandle
}

// linkM handles a merge: the Q at this sector is reparented onto whichever
// already-queued Q or dispatched I is adjacent, and its bytes are folded
// into that node's root so the combined request is accounted once
// (spec.md §8 S2: one ready graph, byte total the sum of both halves).
func (e *Engine) linkM(dev *device, ev *trace.Event) {
	mergedH, ok := dev.index(trace.KindQ).findExact(ev.Sector)
	if !ok {
		e.counters.OrphanM++
		dev.orphanM++
		return
	}
	merged := e.pool.get(mergedH)
	mergedEnd := merged.ev.End()

	// Pull the merged Q out of its own index first: otherwise, when its
	// own start sector also happens to be the floor candidate, it would
	// match itself as "adjacent".
	dev.index(trace.KindQ).erase(ev.Sector)

	target := e.findAdjacent(dev, trace.KindQ, ev.Sector, mergedEnd)
	if target == noHandle {
		target = e.findAdjacent(dev, trace.KindI, ev.Sector, mergedEnd)
	}
	if target == noHandle {
		dev.index(trace.KindQ).insert(ev.Sector, mergedH)
		e.counters.OrphanM++
		dev.orphanM++
		return
	}

	tn := e.pool.get(target)
	root := e.rootOf(target)
	rn := e.pool.get(root)
	merged.parent = target
	tn.down = append(tn.down, mergedH)
	rn.bytesLeft += merged.bytesLeft
	rn.ev.Length += merged.ev.Length // root's reported size grows with the merge
	dev.load.OnMerged(ev.Write)      // counted as a merge, not a fresh queue entry
}

// linkI handles dispatch-queue insertion: attach to the Q (or merge chain)
// at this sector and index the node for the D that will follow.
func (e *Engine) linkI(dev *device, ev *trace.Event) {
	qh, ok := dev.index(trace.KindQ).findExact(ev.Sector)
	if !ok {
		e.counters.OrphanI++
		dev.orphanI++
		return
	}
	h := e.pool.acquire()
	n := e.pool.get(h)
	n.ev = *ev
	n.device = dev.id
	n.parent = qh
	q := e.pool.get(qh)
	q.down = append(q.down, h)
	dev.index(trace.KindI).insert(ev.Sector, h)
}

// linkD handles driver issue: attach to the I at this sector, index the
// node for its eventual C, and give any retry-buffered completions another
// chance to match now that a new D exists.
func (e *Engine) linkD(dev *device, ev *trace.Event) {
	ih, ok := dev.index(trace.KindI).findExact(ev.Sector)
	if !ok {
		e.counters.OrphanD++
		dev.orphanD++
		return
	}
	h := e.pool.acquire()
	n := e.pool.get(h)
	n.ev = *ev
	n.device = dev.id
	n.parent = ih
	in := e.pool.get(ih)
	in.down = append(in.down, h)
	dev.index(trace.KindD).insert(ev.Sector, h)

	dev.load.OnIssued(ev.Time)
	dev.seek.Observe(ev.Sector)

	e.retry.drain(e, dev)
}

// findContainingD returns the D on dev whose range fully contains
// [lo, hi), preferring the oldest by timestamp when more than one
// candidate qualifies (the scatter-gather double-completion case named in
// SPEC_FULL.md §9's Open Questions).
func (e *Engine) findContainingD(dev *device, lo, hi uint64) (handle, bool) {
	idx := dev.index(trace.KindD)
	var best handle
	var bestTime int64
	found := false
	for i := idx.floorIndex(lo); i >= 0; i-- {
		sector := idx.sorted[i]
		h := idx.byStart[sector]
		n := e.pool.get(h)
		if n == nil || n.completed {
			continue
		}
		if n.ev.End() >= hi {
			if !found || n.ev.Time < bestTime {
				best, bestTime, found = h, n.ev.Time, true
			}
		}
	}
	return best, found
}

// linkC handles completion: find the D this completion covers and close
// it out, or append to the retry buffer if the D hasn't been seen yet
// (common under I/O scheduler reordering; drained by the next D or at
// stream end).
func (e *Engine) linkC(dev *device, ev *trace.Event) {
	dh, ok := e.findContainingD(dev, ev.Sector, ev.End())
	h := e.pool.acquire()
	n := e.pool.get(h)
	n.ev = *ev
	n.device = dev.id
	if !ok {
		n.inRetry = true
		e.retry.add(h)
		return
	}
	e.completeC(dev, h, dh)
}

// linkR handles a requeue: the D at this sector is detached from its I so
// the next D for that I attaches as a fresh sibling, exactly as if the
// first D had never been dispatched (spec.md §8 S6).
func (e *Engine) linkR(dev *device, ev *trace.Event) {
	dh, ok := dev.index(trace.KindD).findExact(ev.Sector)
	if !ok {
		e.counters.OrphanR++
		dev.orphanR++
		return
	}
	dn := e.pool.get(dh)
	if dn.parent != noHandle {
		pn := e.pool.get(dn.parent)
		pn.down = removeHandle(pn.down, dh)
	}
	dev.index(trace.KindD).erase(ev.Sector)
	e.pool.release(dh)
	e.counters.Requeues++
}

func removeHandle(hs []handle, h handle) []handle {
	for i, x := range hs {
		if x == h {
			return append(hs[:i], hs[i+1:]...)
		}
	}
	return hs
}

func (e *Engine) rootOf(h handle) handle {
	for {
		n := e.pool.get(h)
		if n.parent == noHandle {
			return h
		}
		h = n.parent
	}
}
