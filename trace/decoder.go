package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire layout of one record header, in order: magic, sequence, CPU index,
// nanosecond timestamp, starting sector, byte length, action bit-mask, pid,
// device id, error code, payload length, and a fixed 16-byte command name.
// The payload follows immediately.
const headerSize = 4 + 4 + 4 + 8 + 8 + 4 + 4 + 4 + 4 + 2 + 2 + 16

const (
	magicCore        uint32 = 0x65617400
	magicMask        uint32 = 0xffffff00
	supportedVersion uint32 = 0x07
)

const (
	actKindMask uint32 = 0x00ff
	actWriteBit uint32 = 0x0100
)

// DefaultMaxPayload bounds a single record's payload to guard against a
// corrupt length field turning into an unbounded allocation.
const DefaultMaxPayload = 1 << 20

// A DecodeError is fatal: the decoder cannot make progress past it.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("trace decode: %s: %v", e.Op, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errBadMagic   = fmt.Errorf("bad magic word")
	errBadVersion = fmt.Errorf("unsupported version")
	errTooLarge   = fmt.Errorf("payload exceeds configured cap")
)

// Decoder reads a sequence of fixed-header, variable-payload records from
// an underlying stream and decodes them into Events. A Decoder holds no
// correlation state; it is safe to discard and recreate between streams.
type Decoder struct {
	r          *bufio.Reader
	maxPayload int
	order      binary.ByteOrder // resolved from the first record's magic
	resolved   bool
}

// NewDecoder returns a Decoder reading from r. maxPayload bounds a single
// record's declared payload length; zero selects DefaultMaxPayload.
func NewDecoder(r io.Reader, maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10), maxPayload: maxPayload}
}

// Next reads and decodes the next record. It returns io.EOF when the
// stream is exhausted at a record boundary; any other error is a
// *DecodeError and is fatal per SPEC_FULL.md §2.2.
func (d *Decoder) Next() (*Event, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if err == io.ErrUnexpectedEOF {
				return nil, &DecodeError{"read header", err}
			}
			return nil, io.EOF
		}
		return nil, &DecodeError{"read header", err}
	}

	order, magic, err := d.resolveOrder(hdr[:4])
	if err != nil {
		return nil, &DecodeError{"magic", err}
	}
	version := magic &^ magicMask
	if version != supportedVersion {
		return nil, &DecodeError{"version", errBadVersion}
	}

	bd := &bufDecoder{hdr[4:], order}
	sequence := bd.u32()
	cpu := bd.u32()
	ts := int64(bd.u64())
	sector := bd.u64()
	length := bd.u32()
	action := bd.u32()
	pid := bd.u32()
	device := bd.u32()
	errCode := int32(int16(bd.u16()))
	pduLen := int(bd.u16())
	var comm [16]byte
	bd.bytes(comm[:])

	if pduLen > d.maxPayload {
		return nil, &DecodeError{"payload length", errTooLarge}
	}
	var pdu []byte
	if pduLen > 0 {
		pdu = make([]byte, pduLen)
		if _, err := io.ReadFull(d.r, pdu); err != nil {
			return nil, &DecodeError{"read payload", err}
		}
	}

	ev := &Event{
		Kind:      kindFromAction(action),
		Device:    device,
		Sequence:  sequence,
		CPU:       cpu,
		Time:      ts,
		Sector:    sector,
		Length:    length,
		PID:       pid,
		Write:     action&actWriteBit != 0,
		ErrorCode: errCode,
		Comm:      cstring(comm[:]),
		PDU:       pdu,
	}
	return ev, nil
}

// resolveOrder determines host byte order from the magic word of the
// first record and holds it fixed for the rest of the stream: a trace is
// produced by one tracer run and does not change endianness mid-stream.
func (d *Decoder) resolveOrder(raw []byte) (binary.ByteOrder, uint32, error) {
	if d.resolved {
		return d.order, d.order.Uint32(raw), nil
	}
	if le := binary.LittleEndian.Uint32(raw); le&magicMask == magicCore {
		d.order, d.resolved = binary.LittleEndian, true
		return d.order, le, nil
	}
	if be := binary.BigEndian.Uint32(raw); be&magicMask == magicCore {
		d.order, d.resolved = binary.BigEndian, true
		return d.order, be, nil
	}
	return nil, 0, errBadMagic
}

func kindFromAction(action uint32) Kind {
	switch action & actKindMask {
	case uint32(KindQ):
		return KindQ
	case uint32(KindA):
		return KindA
	case uint32(KindX):
		return KindX
	case uint32(KindL):
		return KindL
	case uint32(KindM):
		return KindM
	case uint32(KindI):
		return KindI
	case uint32(KindD):
		return KindD
	case uint32(KindC):
		return KindC
	case uint32(KindR):
		return KindR
	default:
		return 0
	}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// bufDecoder peels fixed-width fields off the front of a byte slice in a
// chosen byte order, the same shape as a binary-format reader walking a
// fixed record layout by hand rather than via reflection.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufDecoder) bytes(x []byte) {
	copy(x, b.buf)
	b.buf = b.buf[len(x):]
}

func (b *bufDecoder) u16() uint16 {
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) u32() uint32 {
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) i32() int32 {
	x := int32(b.order.Uint32(b.buf))
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) u64() uint64 {
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}
