package trace

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeRecord builds one wire record in the given byte order for tests.
func encodeRecord(t *testing.T, order binary.ByteOrder, kind Kind, write bool, seq, cpu uint32, ts int64, sector uint64, length, action, pid, device uint32, errCode int16, comm string, pdu []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	magic := magicCore | supportedVersion
	_ = binary.Write(buf, order, magic)
	_ = binary.Write(buf, order, seq)
	_ = binary.Write(buf, order, cpu)
	_ = binary.Write(buf, order, ts)
	_ = binary.Write(buf, order, sector)
	_ = binary.Write(buf, order, length)

	act := uint32(kind) | action
	if write {
		act |= actWriteBit
	}
	_ = binary.Write(buf, order, act)
	_ = binary.Write(buf, order, pid)
	_ = binary.Write(buf, order, device)
	_ = binary.Write(buf, order, uint16(errCode))
	_ = binary.Write(buf, order, uint16(len(pdu)))

	var commBuf [16]byte
	copy(commBuf[:], comm)
	buf.Write(commBuf[:])
	buf.Write(pdu)
	return buf.Bytes()
}

func TestDecoderRoundTrip(t *testing.T) {
	raw := encodeRecord(t, binary.LittleEndian, KindQ, false, 1, 0, 100, 8, 8, 0, 42, 0x80000000, 0, "fio", nil)
	d := NewDecoder(bytes.NewReader(raw), 0)
	ev, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, KindQ, ev.Kind)
	require.Equal(t, uint64(8), ev.Sector)
	require.Equal(t, uint32(8), ev.Length)
	require.Equal(t, int64(100), ev.Time)
	require.Equal(t, uint32(42), ev.PID)
	require.Equal(t, uint32(0x80000000), ev.Device)
	require.Equal(t, "fio", ev.Comm)
	require.False(t, ev.Write)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderBigEndian(t *testing.T) {
	raw := encodeRecord(t, binary.BigEndian, KindC, true, 1, 0, 500, 0, 16, 0, 1, 0x80000000, 0, "c", nil)
	d := NewDecoder(bytes.NewReader(raw), 0)
	ev, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, KindC, ev.Kind)
	require.True(t, ev.Write)
}

func TestDecoderBadMagic(t *testing.T) {
	raw := make([]byte, headerSize)
	d := NewDecoder(bytes.NewReader(raw), 0)
	_, err := d.Next()
	require.Error(t, err)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
}

func TestDecoderShortRead(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{1, 2, 3}), 0)
	_, err := d.Next()
	require.Error(t, err)
}

func TestDecoderPayloadTooLarge(t *testing.T) {
	pdu := make([]byte, 64)
	raw := encodeRecord(t, binary.LittleEndian, KindQ, false, 1, 0, 1, 0, 8, 0, 1, 0x80000000, 0, "x", pdu)
	d := NewDecoder(bytes.NewReader(raw), 16)
	_, err := d.Next()
	require.Error(t, err)
}

func TestDecoderPDU(t *testing.T) {
	pdu := []byte{1, 2, 3, 4}
	raw := encodeRecord(t, binary.LittleEndian, KindM, false, 1, 0, 1, 0, 8, 0, 1, 0x80000000, 0, "x", pdu)
	d := NewDecoder(bytes.NewReader(raw), 0)
	ev, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, pdu, ev.PDU)
}
