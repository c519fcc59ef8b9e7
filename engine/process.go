package engine

import "github.com/ue90/blktrace/stats"

// process is the per-PID record: globals.h's p_info, scoped to the
// engine's lifetime.
type process struct {
	pid       uint32
	name      string
	averages  stats.Averages
	lastQ     int64
	haveLastQ bool
	qranges   *rangeTracker
	cranges   *rangeTracker
}

// processRegistry maps PID to process record, in first-seen order (the
// same shape as engine/device.go's registry, and for the same reason: the
// per-process report must iterate deterministically rather than in Go's
// randomized map order). Name collisions for the same PID keep the first
// name seen (SPEC_FULL.md §4.8).
type processRegistry struct {
	byPID map[uint32]*process
	order []uint32
	delta int64
}

func newProcessRegistry(rangeDelta int64) *processRegistry {
	return &processRegistry{byPID: make(map[uint32]*process), delta: rangeDelta}
}

func (r *processRegistry) processFor(pid uint32, name string) *process {
	if p, ok := r.byPID[pid]; ok {
		return p
	}
	p := &process{
		pid:     pid,
		name:    name,
		qranges: newRangeTracker(r.delta),
		cranges: newRangeTracker(r.delta),
	}
	r.byPID[pid] = p
	r.order = append(r.order, pid)
	return p
}

// onQueue folds a Q event's arrival into the process's Q2Q average and
// active-range tracker. The first Q of a process has no predecessor and
// adds no Q2Q sample.
func (p *process) onQueue(sector, end uint64, ts int64) {
	if p.haveLastQ {
		p.averages.ObserveQ2Q(ts - p.lastQ)
	}
	p.lastQ = ts
	p.haveLastQ = true
	p.qranges.touch(sector, end, ts)
}

func (p *process) onComplete(sector, end uint64, ts int64) {
	p.cranges.touch(sector, end, ts)
}

func (r *processRegistry) forEach(fn func(*process)) {
	for _, pid := range r.order {
		fn(r.byPID[pid])
	}
}
