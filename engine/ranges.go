package engine

// RangeWindow is one contiguous active-sector window, accumulated until a
// gap of more than rangeDelta nanoseconds passes with no touch.
type RangeWindow struct {
	Start, End      uint64
	FirstTS, LastTS int64
	Touches         int
}

// rangeTracker accumulates RangeWindows for one (device|process) x
// (queued|completed) series, matching the qranges/cranges lists in
// SPEC_FULL.md's region entity. A new window opens whenever the gap
// since the last touch exceeds the configured delta; this is reporting
// input only; the engine never reads these back.
type rangeTracker struct {
	delta  int64
	cur    *RangeWindow
	closed []RangeWindow
}

func newRangeTracker(delta int64) *rangeTracker {
	return &rangeTracker{delta: delta}
}

// touch records activity on [sector, end) at time ts.
func (t *rangeTracker) touch(sector, end uint64, ts int64) {
	if t.cur != nil && ts-t.cur.LastTS <= t.delta {
		if sector < t.cur.Start {
			t.cur.Start = sector
		}
		if end > t.cur.End {
			t.cur.End = end
		}
		t.cur.LastTS = ts
		t.cur.Touches++
		return
	}
	if t.cur != nil {
		t.closed = append(t.closed, *t.cur)
	}
	t.cur = &RangeWindow{Start: sector, End: end, FirstTS: ts, LastTS: ts, Touches: 1}
}

// Windows returns every closed window plus the still-open one, in order.
func (t *rangeTracker) Windows() []RangeWindow {
	out := t.closed
	if t.cur != nil {
		out = append(append([]RangeWindow{}, out...), *t.cur)
	}
	return out
}
