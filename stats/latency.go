// Package stats holds the write-only statistics sinks the engine feeds:
// latency accumulators, iostat windows, and the seek-distance observer.
// Sinks never read back into the engine (SPEC_FULL.md §2.9).
package stats

// Avg is a running min/max/total/count accumulator, the Go shape of
// globals.h's avg_info.
type Avg struct {
	Min, Max uint64
	Total    uint64
	N        int
}

// Observe folds v into the accumulator.
func (a *Avg) Observe(v uint64) {
	if a.N == 0 || v < a.Min {
		a.Min = v
	}
	if v > a.Max {
		a.Max = v
	}
	a.Total += v
	a.N++
}

// Mean returns the arithmetic mean, or 0 if nothing has been observed.
func (a Avg) Mean() float64 {
	if a.N == 0 {
		return 0
	}
	return float64(a.Total) / float64(a.N)
}

// Averages groups every latency segment plus a byte-count accumulator for
// one device, one process, or the whole run — globals.h's avgs_info.
type Averages struct {
	Q2Q, Q2C, Q2A, Q2I, I2D, D2C Avg
	Blocks                       Avg
}

// Segments is one ready graph's latency decomposition, in nanoseconds.
// A segment's Has flag (HasQ2A, HasQ2I, ...) is false when the graph's
// pipeline never traversed that stage (e.g. a merged request has no Q2A).
type Segments struct {
	Q2A, Q2I, I2D, D2C, Q2C        int64
	HasQ2A, HasQ2I, HasI2D, HasD2C bool
}

// Clamp returns v if non-negative, else 0, and reports whether it clamped
// (a negative delta is a statistical anomaly per SPEC_FULL.md §7 and is
// counted by the caller, not silently absorbed).
func Clamp(v int64) (uint64, bool) {
	if v < 0 {
		return 0, true
	}
	return uint64(v), false
}

// Observe folds one ready graph's segments and byte length into a.
func (a *Averages) Observe(s Segments, bytes uint64) {
	if s.HasQ2A {
		v, _ := Clamp(s.Q2A)
		a.Q2A.Observe(v)
	}
	if s.HasQ2I {
		v, _ := Clamp(s.Q2I)
		a.Q2I.Observe(v)
	}
	if s.HasI2D {
		v, _ := Clamp(s.I2D)
		a.I2D.Observe(v)
	}
	if s.HasD2C {
		v, _ := Clamp(s.D2C)
		a.D2C.Observe(v)
	}
	v, _ := Clamp(s.Q2C)
	a.Q2C.Observe(v)
	a.Blocks.Observe(bytes)
}

// ObserveQ2Q folds one process's consecutive-queue delta.
func (a *Averages) ObserveQ2Q(delta int64) {
	v, _ := Clamp(delta)
	a.Q2Q.Observe(v)
}
