package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/marmos91/xnet/pkg/bufpool"
)

// ErrShortBuffer is returned by Reader when the payload ends before a field does.
var ErrShortBuffer = errors.New("packet: short buffer")

// maxFieldLength bounds length-prefixed fields; a frame payload cannot exceed it.
const maxFieldLength = math.MaxUint16

// ============================================================================
// Writer - Go Types → Wire Format
// ============================================================================

// Writer appends little-endian encoded fields to a pooled byte slice.
//
// The zero value is usable. A Writer obtained from NewWriter must be released
// with Release once its bytes have been consumed.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer backed by a pooled buffer of at least size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: bufpool.Get(size)[:0]}
}

// Bytes returns the encoded bytes. The slice is only valid until Release.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Release returns the backing buffer to the pool.
func (w *Writer) Release() {
	bufpool.Put(w.buf)
	w.buf = nil
}

// Grow reserves n zeroed bytes and returns them for in-place patching.
func (w *Writer) Grow(n int) []byte {
	w.ensure(n)
	start := len(w.buf)
	w.buf = w.buf[:start+n]
	clear(w.buf[start:])
	return w.buf[start : start+n]
}

func (w *Writer) ensure(n int) {
	if len(w.buf)+n <= cap(w.buf) {
		return
	}
	next := bufpool.Get(2*cap(w.buf) + n)[:len(w.buf)]
	copy(next, w.buf)
	if w.buf != nil {
		bufpool.Put(w.buf)
	}
	w.buf = next
}

// WriteRaw appends p without a length prefix.
func (w *Writer) WriteRaw(p []byte) {
	w.ensure(len(p))
	w.buf = append(w.buf, p...)
}

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) {
	w.ensure(1)
	w.buf = append(w.buf, v)
}

// WriteBool appends 1 for true and 0 for false.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

func (w *Writer) WriteUint16(v uint16) {
	w.ensure(2)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.ensure(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.ensure(8)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteUvarint appends v in unsigned varint encoding.
func (w *Writer) WriteUvarint(v uint64) {
	w.ensure(binary.MaxVarintLen64)
	w.buf = binary.AppendUvarint(w.buf, v)
}

// WriteBytes appends a uvarint length followed by p.
//
// Wire format:
//
//	length: [uvarint]
//	data:   [length bytes]
func (w *Writer) WriteBytes(p []byte) {
	w.WriteUvarint(uint64(len(p)))
	w.WriteRaw(p)
}

// WriteString appends s in the same layout as WriteBytes.
func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.ensure(len(s))
	w.buf = append(w.buf, s...)
}

// WriteUUID appends the 16 raw bytes of id.
func (w *Writer) WriteUUID(id uuid.UUID) {
	w.WriteRaw(id[:])
}

// ============================================================================
// Reader - Wire Format → Go Types
// ============================================================================

// Reader decodes little-endian fields from a payload.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a reader over p. The reader does not copy p; byte
// fields returned by ReadBytes are copies and stay valid after p is reused.
func NewReader(p []byte) *Reader {
	return &Reader{buf: p}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("read %s: need %d bytes, have %d: %w", field, n, r.Remaining(), ErrShortBuffer)
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	p, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadBool treats any non-zero byte as true.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	p, err := r.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	p, err := r.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("read uvarint: %w", ErrShortBuffer)
	}
	r.off += n
	return v, nil
}

// ReadBytes reads a length-prefixed byte field written by WriteBytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > maxFieldLength {
		return nil, fmt.Errorf("read bytes: length %d exceeds maximum %d", n, maxFieldLength)
	}
	p, err := r.take(int(n), "bytes")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}

// ReadString reads a length-prefixed string written by WriteString.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return "", err
	}
	if n > maxFieldLength {
		return "", fmt.Errorf("read string: length %d exceeds maximum %d", n, maxFieldLength)
	}
	p, err := r.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadUUID reads 16 raw bytes.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	p, err := r.take(16, "uuid")
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(p), nil
}
