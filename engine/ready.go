package engine

import (
	"github.com/ue90/blktrace/stats"
	"github.com/ue90/blktrace/trace"
)

// walk visits h and every node reachable through its down list.
func (e *Engine) walk(h handle, fn func(*node)) {
	n := e.pool.get(h)
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.down {
		e.walk(c, fn)
	}
}

// allCompleted reports whether every D reachable from h has a matching C.
func (e *Engine) allCompleted(h handle) bool {
	ok := true
	e.walk(h, func(n *node) {
		if n.ev.Kind == trace.KindD && !n.completed {
			ok = false
		}
	})
	return ok
}

func overlap(aStart, aEnd, bStart, bEnd uint64) uint64 {
	lo, hi := aStart, aEnd
	if bStart > lo {
		lo = bStart
	}
	if bEnd < hi {
		hi = bEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// completeC attaches a completion to the D it covers, reduces the owning
// root's outstanding byte count, and checks whether the whole graph is now
// ready.
func (e *Engine) completeC(dev *device, cHandle, dHandle handle) {
	c := e.pool.get(cHandle)
	d := e.pool.get(dHandle)
	c.parent = dHandle
	d.down = append(d.down, cHandle)
	d.completed = true

	root := e.rootOf(dHandle)
	rn := e.pool.get(root)

	overlapSectors := overlap(c.ev.Sector, c.ev.End(), d.ev.Sector, d.ev.End())
	overlapBytes := overlapSectors << 9
	if overlapBytes > rn.bytesLeft {
		// A second completion covering bytes an earlier one already
		// accounted for (scatter-gather double-completion, SPEC_FULL.md
		// §9): clamp rather than underflow, and count it.
		overlapBytes = rn.bytesLeft
		e.counters.OverlapClamped++
	}
	rn.bytesLeft -= overlapBytes

	dev.nDone++
	dev.cranges.touch(c.ev.Sector, c.ev.End(), c.ev.Time)
	waitNanos := c.ev.Time - d.ev.Time
	if waitNanos < 0 {
		waitNanos = 0
	}
	dev.load.OnCompleted(c.ev.Time, c.ev.Write, overlapSectors, uint64(waitNanos))

	p := e.procs.processFor(rn.ev.PID, rn.ev.Comm)
	p.onComplete(c.ev.Sector, c.ev.End(), c.ev.Time)

	if rn.bytesLeft == 0 && e.allCompleted(root) {
		e.emitReady(dev, root)
	}
}

// emitReady folds a finished graph's latency decomposition into the
// device, process, and global averages, then releases every node in it.
func (e *Engine) emitReady(dev *device, root handle) {
	rn := e.pool.get(root)
	qts := rn.ev.Time

	var minI, minD, maxC int64
	haveI, haveD, haveC := false, false, false
	e.walk(root, func(n *node) {
		switch n.ev.Kind {
		case trace.KindI:
			if !haveI || n.ev.Time < minI {
				minI, haveI = n.ev.Time, true
			}
		case trace.KindD:
			if !haveD || n.ev.Time < minD {
				minD, haveD = n.ev.Time, true
			}
		case trace.KindC:
			if !haveC || n.ev.Time > maxC {
				maxC, haveC = n.ev.Time, true
			}
		}
	})

	var seg stats.Segments
	if haveI {
		seg.Q2I, seg.HasQ2I = minI-qts, true
	}
	if haveI && haveD {
		seg.I2D, seg.HasI2D = minD-minI, true
	}
	if haveD && haveC {
		seg.D2C, seg.HasD2C = maxC-minD, true
	}
	end := qts
	switch {
	case haveC:
		end = maxC
	case haveD:
		end = minD
	case haveI:
		end = minI
	}
	seg.Q2C = end - qts
	e.countClamped(seg)

	bytes := uint64(rn.ev.Length)
	dev.averages.Observe(seg, bytes)
	e.global.Observe(seg, bytes)
	e.procs.processFor(rn.ev.PID, rn.ev.Comm).averages.Observe(seg, bytes)

	e.counters.ReadyGraphs++
	if e.opts.OnGraph != nil {
		e.opts.OnGraph(dev.id, e.flatten(root))
	}
	e.releaseGraph(dev, root)
}

// countClamped tallies any segment that came out negative, a sign of
// clock skew or an out-of-order timestamp rather than a value to hide.
func (e *Engine) countClamped(s stats.Segments) {
	for _, v := range []struct {
		present bool
		v       int64
	}{
		{s.HasQ2I, s.Q2I}, {s.HasI2D, s.I2D}, {s.HasD2C, s.D2C}, {true, s.Q2C},
	} {
		if v.present && v.v < 0 {
			e.counters.NegativeLatencyClamped++
		}
	}
}

// releaseGraph removes every node in the graph rooted at h from its
// device index (if still indexed) and returns it to the pool.
func (e *Engine) releaseGraph(dev *device, h handle) {
	// Collect first: release zeroes n.down, which a combined walk-and-release
	// would otherwise invalidate mid-traversal.
	var nodes []handle
	collect(e, h, &nodes)
	for _, ch := range nodes {
		n := e.pool.get(ch)
		switch n.ev.Kind {
		case trace.KindQ:
			dev.index(trace.KindQ).erase(n.ev.Sector)
		case trace.KindI:
			dev.index(trace.KindI).erase(n.ev.Sector)
		case trace.KindD:
			dev.index(trace.KindD).erase(n.ev.Sector)
		}
		e.pool.release(ch)
	}
}

func (e *Engine) flatten(h handle) []DumpNode {
	var out []DumpNode
	var walk func(handle, int)
	walk = func(h handle, depth int) {
		n := e.pool.get(h)
		if n == nil {
			return
		}
		out = append(out, DumpNode{Kind: n.ev.Kind, Sector: n.ev.Sector, Length: n.ev.Length, Time: n.ev.Time, Depth: depth})
		for _, c := range n.down {
			walk(c, depth+1)
		}
	}
	walk(h, 0)
	return out
}

func collect(e *Engine, h handle, out *[]handle) {
	n := e.pool.get(h)
	if n == nil {
		return
	}
	*out = append(*out, h)
	for _, c := range n.down {
		collect(e, c, out)
	}
}
