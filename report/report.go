// Package report renders an Engine's accumulated statistics as the text
// output iotrace produces: per-device and per-process latency averages,
// active-range histories, the optional seek summary, and the diagnostic
// counter footer. It reads the engine only through the accessor methods
// engine.Engine exposes once a run has finished; nothing here touches
// trace events directly.
package report

import (
	"fmt"
	"io"

	"github.com/ue90/blktrace/engine"
	"github.com/ue90/blktrace/stats"
)

// Averages writes one averages table: one row per device, one for
// "TOTAL", matching btt's avgs report, followed by the diagnostic counter
// footer.
func Averages(w io.Writer, e *engine.Engine) {
	fmt.Fprintf(w, "%-10s %8s %8s %8s %8s %8s %8s %10s\n",
		"device", "Q2Q", "Q2A", "Q2I", "I2D", "D2C", "Q2C", "n")
	e.Devices(func(id uint32, a stats.Averages, _ stats.DeviceLoad, _ *stats.SeekObserver, _, _ []engine.RangeWindow, _ [4]uint64) {
		writeAvgRow(w, deviceLabel(id), a)
	})
	fmt.Fprintf(w, "%-10s %8s %8s %8s %8s %8s %8s %10s\n",
		"---", "---", "---", "---", "---", "---", "---", "---")
	writeAvgRow(w, "TOTAL", e.Global())
	fmt.Fprintln(w)
	Counters(w, e)
}

func writeAvgRow(w io.Writer, label string, a stats.Averages) {
	ms := func(v stats.Avg) float64 { return v.Mean() / 1e6 }
	fmt.Fprintf(w, "%-10s %8.3f %8.3f %8.3f %8.3f %8.3f %8.3f %10d\n",
		label, ms(a.Q2Q), ms(a.Q2A), ms(a.Q2I), ms(a.I2D), ms(a.D2C), ms(a.Q2C), a.Q2C.N)
}

func deviceLabel(id uint32) string {
	return fmt.Sprintf("%d,%d", id>>20, id&0xfffff)
}

// Ranges writes each device's active-range history: one line per window,
// queued and completed side by side.
func Ranges(w io.Writer, e *engine.Engine) {
	e.Devices(func(id uint32, _ stats.Averages, _ stats.DeviceLoad, _ *stats.SeekObserver, q, c []engine.RangeWindow, _ [4]uint64) {
		fmt.Fprintf(w, "device %s\n", deviceLabel(id))
		fmt.Fprintf(w, "  queued ranges:\n")
		writeWindows(w, q)
		fmt.Fprintf(w, "  completed ranges:\n")
		writeWindows(w, c)
	})
}

func writeWindows(w io.Writer, windows []engine.RangeWindow) {
	for _, rg := range windows {
		fmt.Fprintf(w, "    [%d,%d) touches=%d span=%.3fms\n",
			rg.Start, rg.End, rg.Touches, float64(rg.LastTS-rg.FirstTS)/1e6)
	}
}

// Processes writes one averages row plus an active-range history per PID,
// the per-process counterpart to Averages and Ranges.
func Processes(w io.Writer, e *engine.Engine) {
	fmt.Fprintf(w, "%-8s %-16s %8s %8s %8s %8s %8s %8s %10s\n",
		"pid", "comm", "Q2Q", "Q2A", "Q2I", "I2D", "D2C", "Q2C", "n")
	e.Processes(func(pid uint32, name string, a stats.Averages, q, c []engine.RangeWindow) {
		ms := func(v stats.Avg) float64 { return v.Mean() / 1e6 }
		fmt.Fprintf(w, "%-8d %-16s %8.3f %8.3f %8.3f %8.3f %8.3f %8.3f %10d\n",
			pid, name, ms(a.Q2Q), ms(a.Q2A), ms(a.Q2I), ms(a.I2D), ms(a.D2C), ms(a.Q2C), a.Q2C.N)
		if len(q) > 0 || len(c) > 0 {
			fmt.Fprintf(w, "  queued ranges:\n")
			writeWindows(w, q)
			fmt.Fprintf(w, "  completed ranges:\n")
			writeWindows(w, c)
		}
	})
}

// Seeks writes the optional per-device seek-distance summary.
func Seeks(w io.Writer, e *engine.Engine) {
	e.Devices(func(id uint32, _ stats.Averages, _ stats.DeviceLoad, seek *stats.SeekObserver, _, _ []engine.RangeWindow, _ [4]uint64) {
		s := seek.Snapshot()
		if s.N == 0 {
			return
		}
		fmt.Fprintf(w, "device %s: n=%d mean=%.1f median=%.1f mode=%d (sectors)\n",
			deviceLabel(id), s.N, s.Mean, s.Median, s.Mode)
	})
}

// DumpWriter returns an engine.Options.OnGraph callback that renders each
// finished graph as one line per node, indented by depth.
func DumpWriter(w io.Writer) func(uint32, []engine.DumpNode) {
	return func(dev uint32, nodes []engine.DumpNode) {
		fmt.Fprintf(w, "graph on %s:\n", deviceLabel(dev))
		for _, n := range nodes {
			fmt.Fprintf(w, "%s%s sector=%d len=%d ts=%d\n",
				indent(n.Depth), n.Kind, n.Sector, n.Length, n.Time)
		}
	}
}

func indent(depth int) string {
	b := make([]byte, depth*2)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

// IostatWriter returns an engine.Options.OnWindow callback that renders
// each iostat-style interval as one line, the way `iostat -x` streams
// intervals as they complete rather than buffering a whole run.
func IostatWriter(w io.Writer) func(stats.Window) {
	header := false
	return func(win stats.Window) {
		if !header {
			fmt.Fprintf(w, "%-10s %8s %8s %8s %8s %8s %8s %8s %8s %8s %8s %8s\n",
				"device", "rrqm/s", "wrqm/s", "r/s", "w/s", "rsec/s", "wsec/s",
				"avgrq-sz", "avgqu-sz", "await", "svctm", "%util")
			header = true
		}
		fmt.Fprintf(w, "%-10s %8.1f %8.1f %8.1f %8.1f %8.1f %8.1f %8.2f %8.2f %8.2f %8.2f %8.2f\n",
			win.Device, win.RQMPerSec[0], win.RQMPerSec[1], win.IOPerSec[0], win.IOPerSec[1],
			win.SectorsPerSec[0], win.SectorsPerSec[1], win.AvgRequestSizeSectors, win.AvgQueueSize,
			win.AwaitMillis, win.ServiceMillis, win.Utilization)
	}
}

// Counters writes the diagnostic footer: how many orphaned events, clamped
// anomalies, and unresolved graphs the run saw.
func Counters(w io.Writer, e *engine.Engine) {
	c := e.Counters()
	fmt.Fprintf(w, "orphans: A=%d X=%d M=%d I=%d D=%d R=%d\n",
		c.OrphanA, c.OrphanX, c.OrphanM, c.OrphanI, c.OrphanD, c.OrphanR)
	fmt.Fprintf(w, "requeues: %d  ready graphs: %d  unresolved roots: %d\n",
		c.Requeues, c.ReadyGraphs, c.UnresolvedRoots)
	fmt.Fprintf(w, "negative latencies clamped: %d  overlapping completions clamped: %d  retries discarded: %d\n",
		c.NegativeLatencyClamped, c.OverlapClamped, c.RetryDiscarded)
}
