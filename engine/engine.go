// Package engine correlates a stream of decoded trace.Events into request
// graphs and folds each finished graph into latency, throughput, and
// range-locality statistics. It is pull-driven and single-threaded: one
// event in, zero or more ready graphs and sink writes out, mirroring
// perfsession.Session's Update-one-record-at-a-time shape.
package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/ue90/blktrace/internal/xlog"
	"github.com/ue90/blktrace/stats"
	"github.com/ue90/blktrace/trace"
)

// Counters tallies the diagnostic events that are expected in real traces
// (lost records, discarded retries, clamped anomalies) rather than treated
// as fatal errors. A report's footer renders these so a spike is visible
// without aborting the run.
type Counters struct {
	OrphanA, OrphanX, OrphanM, OrphanI, OrphanD, OrphanR uint64
	RetryDiscarded                                       uint64
	NegativeLatencyClamped                               uint64
	OverlapClamped                                       uint64
	Requeues                                             uint64
	ReadyGraphs                                          uint64
	UnresolvedRoots                                      uint64
}

// Options configures one Engine run.
type Options struct {
	RangeDelta     int64 // max inter-arrival gap within one active range
	IostatInterval int64 // nanoseconds between iostat windows; 0 disables
	DeviceFilter   map[uint32]bool
	ExeFilter      map[string]bool
	NewSink        func(dev fmt.Stringer, kind string) (io.Writer, error)
	OnWindow       func(stats.Window)
	OnGraph        func(dev uint32, nodes []DumpNode) // per-IO dump hook, nil disables it
}

// DumpNode is one node of a finished graph, flattened for the optional
// per-IO dump: SPEC_FULL.md's "one line per node indented by graph depth"
// is the report package's job to render; the engine only supplies the
// tree shape, since formatting trace dumps is explicitly out of scope
// for the correlation core (spec.md §1, "ASCII report formatting").
type DumpNode struct {
	Kind   trace.Kind
	Sector uint64
	Length uint32
	Time   int64
	Depth  int
}

// Engine is the correlation and statistics core: everything downstream of
// decoding and upstream of reporting.
type Engine struct {
	pool  *pool
	devs  *registry
	procs *processRegistry
	retry *retryBuffer

	opts Options

	global   stats.Averages
	counters Counters
}

func New(opts Options) *Engine {
	e := &Engine{
		pool:  newPool(),
		procs: newProcessRegistry(opts.RangeDelta),
		retry: &retryBuffer{},
		opts:  opts,
	}
	e.devs = newRegistry(opts.RangeDelta, func(d *device, kind string) (io.Writer, error) {
		if opts.NewSink == nil {
			return io.Discard, nil
		}
		return opts.NewSink(d, kind)
	})
	return e
}

func (e *Engine) filtered(ev *trace.Event) bool {
	if e.opts.DeviceFilter != nil && !e.opts.DeviceFilter[ev.Device] {
		return true
	}
	if e.opts.ExeFilter != nil && ev.Comm != "" && !e.opts.ExeFilter[ev.Comm] {
		return true
	}
	return false
}

// Ingest correlates one decoded event. It never returns an error for
// malformed correlation (orphans are counted, not fatal); the error return
// is reserved for sink I/O failures.
func (e *Engine) Ingest(ev *trace.Event) error {
	if e.filtered(ev) {
		return nil
	}
	dev, err := e.devs.deviceFor(ev.Device)
	if err != nil {
		return fmt.Errorf("open sinks for device %s: %w", (&device{id: ev.Device}).String(), err)
	}
	e.link(dev, ev)
	if ev.Kind == trace.KindC || ev.Kind == trace.KindD {
		e.writeSinks(dev, ev)
	}
	e.checkIostat(dev, ev.Time)
	return nil
}

func (e *Engine) writeSinks(dev *device, ev *trace.Event) {
	if ev.Kind == trace.KindD && dev.d2cSink != nil {
		fmt.Fprintf(dev.d2cSink, "%d %d\n", ev.Time, ev.Sector)
	}
	if ev.Kind == trace.KindC && dev.q2cSink != nil {
		fmt.Fprintf(dev.q2cSink, "%d %d\n", ev.Time, ev.Sector)
	}
}

func (e *Engine) checkIostat(dev *device, ts int64) {
	if e.opts.IostatInterval <= 0 || e.opts.OnWindow == nil {
		return
	}
	if dev.lastIostatTS == 0 {
		dev.lastIostatTS = ts
		return
	}
	if ts-dev.lastIostatTS < e.opts.IostatInterval {
		return
	}
	seconds := float64(ts-dev.lastIostatTS) / 1e9
	w := stats.Snapshot(dev.String(), dev.load, dev.prevLoad, seconds)
	dev.prevLoad = dev.load
	dev.lastIostatTS = ts
	e.opts.OnWindow(w)
}

// Run drains a decoder until EOF or ctx is cancelled, calling Ingest for
// each event. It returns the first non-EOF decode or ingest error.
func (e *Engine) Run(ctx context.Context, dec *trace.Decoder) error {
	for {
		select {
		case <-ctx.Done():
			xlog.Warnf("trace ingest cancelled, flushing what was decoded")
			e.Finish()
			return ctx.Err()
		default:
		}
		ev, err := dec.Next()
		if err == io.EOF {
			e.Finish()
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if err := e.Ingest(ev); err != nil {
			return err
		}
	}
}

// Finish drains the retry buffer and counts whatever graphs never
// completed, so a killed trace still yields a consistent report instead of
// leaking pool nodes silently.
func (e *Engine) Finish() {
	e.counters.RetryDiscarded += uint64(len(e.retry.entries))
	e.retry.drainAll(e)
	e.devs.forEach(func(d *device) {
		e.counters.UnresolvedRoots += uint64(d.index(trace.KindQ).len())
	})
}

// Counters returns the accumulated diagnostic counts.
func (e *Engine) Counters() Counters { return e.counters }

// Global returns the run-wide latency averages.
func (e *Engine) Global() stats.Averages { return e.global }

// Devices iterates every device seen, in first-seen order.
func (e *Engine) Devices(fn func(id uint32, averages stats.Averages, load stats.DeviceLoad, seek *stats.SeekObserver, qranges, cranges []RangeWindow, counters [4]uint64)) {
	e.devs.forEach(func(d *device) {
		fn(d.id, d.averages, d.load, d.seek, d.qranges.Windows(), d.cranges.Windows(),
			[4]uint64{d.orphanA, d.orphanM, d.orphanI, d.orphanR})
	})
}

// Processes iterates every process seen.
func (e *Engine) Processes(fn func(pid uint32, name string, averages stats.Averages, qranges, cranges []RangeWindow)) {
	e.procs.forEach(func(p *process) {
		fn(p.pid, p.name, p.averages, p.qranges.Windows(), p.cranges.Windows())
	})
}

// Live returns the number of nodes still allocated, for leak diagnostics.
func (e *Engine) Live() int { return e.pool.Live() }
