package engine

import (
	"fmt"
	"io"

	"github.com/ue90/blktrace/stats"
	"github.com/ue90/blktrace/trace"
)

// lookupKinds are the kinds that need an in-flight index (SPEC_FULL.md
// §4.3): C and R are matched through the D index instead of maintaining
// their own.
var lookupKinds = [...]trace.Kind{trace.KindQ, trace.KindA, trace.KindX, trace.KindI, trace.KindM, trace.KindD}

// device is the per-device record: identity, the six in-flight indices,
// running stats, and the device's two output sinks.
type device struct {
	id      uint32
	indices map[trace.Kind]*sectorIndex

	averages stats.Averages
	load     stats.DeviceLoad
	seek     *stats.SeekObserver

	qranges *rangeTracker
	cranges *rangeTracker

	q2cSink io.Writer
	d2cSink io.Writer

	lastQ   int64
	nDone   uint64
	nQueued uint64

	orphanA, orphanM, orphanI, orphanD, orphanR uint64

	lastIostatTS int64
	prevLoad     stats.DeviceLoad
}

func newDevice(id uint32, rangeDelta int64) *device {
	d := &device{
		id:      id,
		indices: make(map[trace.Kind]*sectorIndex, len(lookupKinds)),
		seek:    stats.NewSeekObserver(),
		qranges: newRangeTracker(rangeDelta),
		cranges: newRangeTracker(rangeDelta),
	}
	for _, k := range lookupKinds {
		d.indices[k] = newSectorIndex()
	}
	return d
}

func (d *device) index(k trace.Kind) *sectorIndex {
	return d.indices[k]
}

// String names the device for output file naming (e.g. "8,0"), matching
// the major:minor encoding the decoder produces in Event.Device.
func (d *device) String() string {
	return fmt.Sprintf("%d,%d", d.id>>20, d.id&0xfffff)
}

// registry maps device id to its device record, in insertion order, so
// final flush can walk devices deterministically.
type registry struct {
	byID    map[uint32]*device
	order   []uint32
	delta   int64
	newSink func(dev *device, kind string) (io.Writer, error)
}

func newRegistry(rangeDelta int64, newSink func(dev *device, kind string) (io.Writer, error)) *registry {
	return &registry{byID: make(map[uint32]*device), newSink: newSink, delta: rangeDelta}
}

// deviceFor returns the existing record for id or creates one, opening its
// output sinks on creation.
func (r *registry) deviceFor(id uint32) (*device, error) {
	if d, ok := r.byID[id]; ok {
		return d, nil
	}
	d := newDevice(id, r.delta)
	r.byID[id] = d
	r.order = append(r.order, id)
	if r.newSink != nil {
		var err error
		if d.q2cSink, err = r.newSink(d, "q2c"); err != nil {
			return nil, err
		}
		if d.d2cSink, err = r.newSink(d, "d2c"); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (r *registry) find(id uint32) (*device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// forEach iterates devices in insertion order.
func (r *registry) forEach(fn func(*device)) {
	for _, id := range r.order {
		fn(r.byID[id])
	}
}
