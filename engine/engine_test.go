package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ue90/blktrace/trace"
)

// sectorsToBytes expresses a scenario's "len" in the blktrace convention (sector
// counts) and converts to the byte length trace.Event actually carries.
func sectorsToBytes(n uint64) uint32 { return uint32(n * 512) }

func devID(major, minor uint32) uint32 { return major<<20 | minor }

func mkEvent(kind trace.Kind, dev uint32, sector, lenSectors uint64, ts int64) trace.Event {
	return trace.Event{
		Kind:   kind,
		Device: dev,
		Time:   ts,
		Sector: sector,
		Length: sectorsToBytes(lenSectors),
		PID:    1,
		Comm:   "fio",
	}
}

func ingestAll(t *testing.T, e *Engine, evs []trace.Event) {
	t.Helper()
	for i := range evs {
		require.NoError(t, e.Ingest(&evs[i]))
	}
}

// S1 single I/O: spec.md §8.
func TestS1SingleIO(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindI, dev, 0, 8, 200),
		mkEvent(trace.KindD, dev, 0, 8, 300),
		mkEvent(trace.KindC, dev, 0, 8, 500),
	})

	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	g := e.Global()
	require.EqualValues(t, 400, g.Q2C.Mean())
	require.EqualValues(t, 100, g.Q2I.Mean())
	require.EqualValues(t, 100, g.I2D.Mean())
	require.EqualValues(t, 200, g.D2C.Mean())
	require.Zero(t, e.Live())
}

// S2 merge: spec.md §8.
func TestS2Merge(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindQ, dev, 8, 8, 110),
		mkEvent(trace.KindM, dev, 8, 0, 120),
		mkEvent(trace.KindI, dev, 0, 16, 130),
		mkEvent(trace.KindD, dev, 0, 16, 200),
		mkEvent(trace.KindC, dev, 0, 16, 400),
	})

	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	require.Zero(t, e.Counters().OrphanM)
	g := e.Global()
	require.EqualValues(t, 1, g.Blocks.N)
	require.EqualValues(t, sectorsToBytes(16), g.Blocks.Total)
	require.EqualValues(t, 300, g.Q2C.Mean()) // measured from the earliest Q (ts=100)
	require.Zero(t, e.Live())
}

// S3 split: spec.md §8.
func TestS3Split(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 16, 100),
		mkEvent(trace.KindX, dev, 8, 0, 110),
		mkEvent(trace.KindQ, dev, 0, 8, 120),
		mkEvent(trace.KindQ, dev, 8, 8, 121),
		mkEvent(trace.KindI, dev, 0, 8, 130),
		mkEvent(trace.KindD, dev, 0, 8, 140),
		mkEvent(trace.KindC, dev, 0, 8, 160),
		mkEvent(trace.KindI, dev, 8, 8, 131),
		mkEvent(trace.KindD, dev, 8, 8, 141),
		mkEvent(trace.KindC, dev, 8, 8, 161),
	})

	require.EqualValues(t, 2, e.Counters().ReadyGraphs)
	require.Zero(t, e.Counters().OrphanX)
	g := e.Global()
	require.EqualValues(t, 2, g.Blocks.N)
	require.EqualValues(t, sectorsToBytes(8), g.Blocks.Min)
	require.EqualValues(t, sectorsToBytes(8), g.Blocks.Max)
	require.Zero(t, e.Live())
}

// S4 remap: spec.md §8.
func TestS4Remap(t *testing.T) {
	e := New(Options{})
	src := devID(252, 0)
	dst := devID(8, 0)

	aEv := mkEvent(trace.KindA, src, 0, 0, 110)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, src, 0, 8, 100),
	})
	require.NoError(t, e.Ingest(&aEv))
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dst, 0, 8, 111),
		mkEvent(trace.KindI, dst, 0, 8, 150),
		mkEvent(trace.KindD, dst, 0, 8, 200),
		mkEvent(trace.KindC, dst, 0, 8, 260),
	})

	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	require.Zero(t, e.Counters().OrphanA)
	g := e.Global()
	require.EqualValues(t, 1, g.Q2C.N) // only the target-side graph reaches readiness
	require.EqualValues(t, 260-111, g.Q2C.Mean())
	require.EqualValues(t, 1, g.Q2A.N)
	require.EqualValues(t, 10, g.Q2A.Mean())

	p := e.procs.processFor(1, "fio")
	require.EqualValues(t, 1, p.averages.Q2A.N)
	require.EqualValues(t, 10, p.averages.Q2A.Mean())
	require.Zero(t, e.Live())
}

// S5 retry: spec.md §8, a C arriving before its D.
func TestS5Retry(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)

	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindI, dev, 0, 8, 200),
		mkEvent(trace.KindC, dev, 0, 8, 250),
	})
	require.Len(t, e.retry.entries, 1, "C should be held pending its D")
	require.Zero(t, e.Counters().ReadyGraphs)

	dEv := mkEvent(trace.KindD, dev, 0, 8, 300)
	require.NoError(t, e.Ingest(&dEv))

	require.Empty(t, e.retry.entries, "drain should clear the buffer once the D arrives")
	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	require.EqualValues(t, 150, e.Global().Q2C.Mean())

	// Property 5: draining again with no intervening events removes nothing.
	before := len(e.retry.entries)
	e.retry.drain(e, e.devs.byID[dev])
	require.Equal(t, before, len(e.retry.entries))
}

// S6 requeue: spec.md §8.
func TestS6Requeue(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindI, dev, 0, 8, 200),
		mkEvent(trace.KindD, dev, 0, 8, 300),
		mkEvent(trace.KindR, dev, 0, 8, 310),
		mkEvent(trace.KindD, dev, 0, 8, 320),
		mkEvent(trace.KindC, dev, 0, 8, 500),
	})

	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	require.EqualValues(t, 1, e.Counters().Requeues)
	require.EqualValues(t, 500-320, e.Global().D2C.Mean()) // measured from D2, not D1
	require.Zero(t, e.Live())
}

// Property 1: exactly one node per decoded, linked event until its graph is
// released, and none once released.
func TestPropertyOneNodePerEventUntilRelease(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	q := mkEvent(trace.KindQ, dev, 0, 8, 100)
	require.NoError(t, e.Ingest(&q))
	require.Equal(t, 1, e.Live())

	for _, ev := range []trace.Event{
		mkEvent(trace.KindI, dev, 0, 8, 200),
		mkEvent(trace.KindD, dev, 0, 8, 300),
		mkEvent(trace.KindC, dev, 0, 8, 500),
	} {
		ev := ev
		require.NoError(t, e.Ingest(&ev))
	}
	require.Zero(t, e.Live())
}

// Property 4: in-flight count equals Qs minus ready roots minus unresolved
// roots, for a stream with one completed and one still-open request.
func TestPropertyInFlightAccounting(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	ingestAll(t, e, []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindI, dev, 0, 8, 200),
		mkEvent(trace.KindD, dev, 0, 8, 300),
		mkEvent(trace.KindC, dev, 0, 8, 500),
		mkEvent(trace.KindQ, dev, 100, 8, 600), // never completes
	})
	e.Finish()

	const totalQs = 2
	require.EqualValues(t, 1, e.Counters().ReadyGraphs)
	require.EqualValues(t, 1, e.Counters().UnresolvedRoots)
	inFlight := totalQs - int(e.Counters().ReadyGraphs) - int(e.Counters().UnresolvedRoots)
	require.Zero(t, inFlight)
}

// Property 6: a process's Q2Q average is the arithmetic mean of consecutive
// Q deltas for that process.
func TestPropertyProcessQ2Q(t *testing.T) {
	e := New(Options{})
	dev := devID(8, 0)
	evs := []trace.Event{
		mkEvent(trace.KindQ, dev, 0, 8, 100),
		mkEvent(trace.KindQ, dev, 100, 8, 250),
		mkEvent(trace.KindQ, dev, 200, 8, 600),
	}
	ingestAll(t, e, evs)

	p := e.procs.processFor(1, "fio")
	require.EqualValues(t, 2, p.averages.Q2Q.N)
	want := float64((250-100)+(600-250)) / 2
	require.Equal(t, want, p.averages.Q2Q.Mean())
}
