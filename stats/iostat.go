package stats

// DeviceLoad tracks the counters an iostat-style window is computed from:
// globals.h's struct stats, generalized from its read/write-indexed arrays.
type DeviceLoad struct {
	RQM     [2]uint64 // merged requests, [read, write]
	IOs     [2]uint64 // completed requests
	Sectors [2]uint64 // sectors transferred
	Wait    uint64    // sum of D2C nanoseconds across completions
	SvcTime uint64    // sum of D2C nanoseconds counted toward service time

	curQueueDepth int
	curInFlight   int
	lastQChangeTS int64
	lastDChangeTS int64
	quSzIntegral  float64 // time integral of queue depth
	idleNanos     int64
}

func rw(write bool) int {
	if write {
		return 1
	}
	return 0
}

// OnQueued records a Q event: queue depth increases by one.
func (d *DeviceLoad) OnQueued(ts int64) {
	d.accumulate(ts)
	d.curQueueDepth++
}

// OnIssued records a D event: the request leaves the queue for the
// device, so in-flight increases and queue depth decreases.
func (d *DeviceLoad) OnIssued(ts int64) {
	d.accumulate(ts)
	if d.curQueueDepth > 0 {
		d.curQueueDepth--
	}
	if d.curInFlight == 0 {
		if d.lastDChangeTS != 0 && ts > d.lastDChangeTS {
			d.idleNanos += ts - d.lastDChangeTS
		}
	}
	d.curInFlight++
	d.lastDChangeTS = ts
}

// OnCompleted records a C event: in-flight decreases and the I/O and
// sector counters for the device update. Merges are counted separately by OnMerged, at the
// M event that produces them, the way globals.h's iostat_merge does rather
// than waiting for the merged request's eventual completion.
func (d *DeviceLoad) OnCompleted(ts int64, write bool, sectors uint64, waitNanos uint64) {
	d.accumulate(ts)
	if d.curInFlight > 0 {
		d.curInFlight--
	}
	d.lastDChangeTS = ts
	i := rw(write)
	d.IOs[i]++
	d.Sectors[i] += sectors
	d.Wait += waitNanos
	d.SvcTime += waitNanos
}

// OnMerged records an M event: one request folded into another.
func (d *DeviceLoad) OnMerged(write bool) {
	d.RQM[rw(write)]++
}

// accumulate folds the queue-depth integral forward to ts.
func (d *DeviceLoad) accumulate(ts int64) {
	if d.lastQChangeTS != 0 && ts > d.lastQChangeTS {
		d.quSzIntegral += float64(d.curQueueDepth) * float64(ts-d.lastQChangeTS)
	}
	d.lastQChangeTS = ts
}

// Window is one iostat-style interval snapshot: globals.h's stats_t.
type Window struct {
	Device                string
	Seconds               float64
	RQMPerSec             [2]float64
	IOPerSec              [2]float64
	SectorsPerSec         [2]float64
	AvgRequestSizeSectors float64
	AvgQueueSize          float64
	AwaitMillis           float64
	ServiceMillis         float64
	Utilization           float64
}

// Snapshot computes one interval's window from the delta between cur and a
// previous sample taken 'seconds' earlier. Utilization is the share of the
// interval not counted as idle, where idle time is the time the two loads
// recorded with nothing in flight.
func Snapshot(device string, cur, prev DeviceLoad, seconds float64) Window {
	if seconds <= 0 {
		seconds = 1
	}
	w := Window{Device: device, Seconds: seconds}
	var totalIOs, totalSectors float64
	for i := 0; i < 2; i++ {
		ios := float64(cur.IOs[i] - prev.IOs[i])
		sectors := float64(cur.Sectors[i] - prev.Sectors[i])
		w.RQMPerSec[i] = float64(cur.RQM[i]-prev.RQM[i]) / seconds
		w.IOPerSec[i] = ios / seconds
		w.SectorsPerSec[i] = sectors / seconds
		totalIOs += ios
		totalSectors += sectors
	}
	if totalIOs > 0 {
		w.AvgRequestSizeSectors = totalSectors / totalIOs
		waitNanos := float64(cur.Wait - prev.Wait)
		svcNanos := float64(cur.SvcTime - prev.SvcTime)
		w.AwaitMillis = waitNanos / totalIOs / 1e6
		w.ServiceMillis = svcNanos / totalIOs / 1e6
	}
	w.AvgQueueSize = (cur.quSzIntegral - prev.quSzIntegral) / 1e9 / seconds
	idleNanos := float64(cur.idleNanos - prev.idleNanos)
	busy := seconds*1e9 - idleNanos
	if busy < 0 {
		busy = 0
	}
	w.Utilization = 100 * busy / (seconds * 1e9)
	if w.Utilization > 100 {
		w.Utilization = 100
	}
	return w
}
