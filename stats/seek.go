package stats

import gostats "github.com/aclements/go-moremath/stats"

// SeekObserver accumulates the absolute seek distance (in sectors) between
// consecutive dispatched requests on one device, for the optional seek
// summary report (mean, median, mode per SPEC_FULL.md §6.2).
type SeekObserver struct {
	have bool
	last uint64
	dist []float64 // |delta| as float64 for go-moremath's Sample
	mode modeCounter
}

func NewSeekObserver() *SeekObserver {
	return &SeekObserver{}
}

// Observe folds one dispatched D event's start sector in.
func (s *SeekObserver) Observe(sector uint64) {
	if s.have {
		delta := int64(sector) - int64(s.last)
		if delta < 0 {
			delta = -delta
		}
		s.dist = append(s.dist, float64(delta))
		s.mode.observe(delta)
	}
	s.last = sector
	s.have = true
}

// SeekSummary is mean, median, and mode of the observed seek distances.
type SeekSummary struct {
	N      int
	Mean   float64
	Median float64
	Mode   int64
}

// Snapshot computes the summary. go-moremath's Sample supplies mean and
// the 50th percentile; mode has no library equivalent (globals.h builds
// its own bespoke struct mode counter) so it is hand-rolled in modeCounter.
func (s *SeekObserver) Snapshot() SeekSummary {
	if len(s.dist) == 0 {
		return SeekSummary{}
	}
	sample := gostats.Sample{Xs: append([]float64{}, s.dist...)}
	return SeekSummary{
		N:      len(s.dist),
		Mean:   sample.Mean(),
		Median: sample.Percentile(0.5),
		Mode:   s.mode.mode(),
	}
}

// modeCounter tracks the most frequently occurring seek distance,
// mirroring globals.h's struct mode (most_seeks, nmds, modes) without its
// fixed-size array: on a tie, the distance that reached the winning count
// first is kept.
type modeCounter struct {
	counts map[int64]int
	best   int64
	bestN  int
}

func (m *modeCounter) observe(delta int64) {
	if m.counts == nil {
		m.counts = make(map[int64]int)
	}
	m.counts[delta]++
	if m.counts[delta] > m.bestN {
		m.bestN = m.counts[delta]
		m.best = delta
	}
}

func (m *modeCounter) mode() int64 {
	return m.best
}
