package protocol

import (
	"encoding/binary"
	"math"
)

// byteOrder is the wire byte order. Both peers must be built for hosts of
// the same endianness; there is no negotiation.
var byteOrder = binary.NativeEndian

// Encoder is a binary encoder that appends data to an internal buffer.
// It is designed for encoding without allocations in the hot path.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 256),
	}
}

// NewEncoderWithCap creates a new encoder with the specified initial capacity.
func NewEncoderWithCap(cap int) *Encoder {
	return &Encoder{
		buf: make([]byte, 0, cap),
	}
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteByte appends a single byte.
// Note: This intentionally doesn't return error (unlike io.ByteWriter)
// because our buffer is unbounded and can always append.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteZeros appends n zero bytes (record padding).
func (e *Encoder) WriteZeros(n int) {
	for i := 0; i < n; i++ {
		e.buf = append(e.buf, 0)
	}
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

// WriteInt32 appends an int32 in wire byte order.
func (e *Encoder) WriteInt32(v int32) {
	e.buf = byteOrder.AppendUint32(e.buf, uint32(v))
}

// WriteUint32 appends a uint32 in wire byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = byteOrder.AppendUint32(e.buf, v)
}

// WriteUint64 appends a uint64 in wire byte order.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf = byteOrder.AppendUint64(e.buf, v)
}

// WriteFloat32 appends a float32 in IEEE 754 format.
func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

// WriteVec3 appends three float32 components.
func (e *Encoder) WriteVec3(v Vec3) {
	e.WriteFloat32(v.X)
	e.WriteFloat32(v.Y)
	e.WriteFloat32(v.Z)
}

// WriteString appends a length-prefixed string.
// Format: uint64 length + string bytes
func (e *Encoder) WriteString(s string) {
	e.WriteUint64(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteLenBytes appends length-prefixed bytes.
// Format: uint64 length + bytes
func (e *Encoder) WriteLenBytes(b []byte) {
	e.WriteUint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}
