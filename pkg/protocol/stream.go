package protocol

import (
	"errors"
	"fmt"
)

// Sink is the write half of a byte stream. transport.Conn satisfies it.
type Sink interface {
	Send(b []byte) error
	Flush() error
}

// Source is the read half of a byte stream. transport.Conn satisfies it.
type Source interface {
	ReceiveExact(p []byte) error
}

// FixedRecord is a record with an exact, schema-defined wire size.
// EncodeFixed must append exactly FixedSize bytes.
type FixedRecord interface {
	FixedSize() int
	EncodeFixed(e *Encoder)
	DecodeFixed(d *Decoder) error
}

// spillThreshold is the payload size above which WriteLenBytes hands the
// payload straight to the sink instead of copying it into the encoder.
const spillThreshold = 4096

// Writer writes protocol values to a Sink. Small values are staged in an
// Encoder and handed to the sink in one Send; Flush marks the end of a
// logical message.
//
// Writer is not safe for concurrent use.
type Writer struct {
	sink    Sink
	enc     *Encoder
	written uint64
}

// NewWriter creates a Writer over s.
func NewWriter(s Sink) *Writer {
	return &Writer{sink: s, enc: NewEncoderWithCap(spillThreshold)}
}

// BytesWritten returns the number of bytes handed to the sink.
func (w *Writer) BytesWritten() uint64 {
	return w.written
}

// WriteFixed writes rec as an exact-size record.
func (w *Writer) WriteFixed(rec FixedRecord) error {
	start := w.enc.Len()
	rec.EncodeFixed(w.enc)
	if n := w.enc.Len() - start; n != rec.FixedSize() {
		return fmt.Errorf("%w: encoded %d bytes, want %d", ErrRecordSize, n, rec.FixedSize())
	}
	return nil
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.enc.WriteString(s)
}

// WriteUint64 writes a uint64.
func (w *Writer) WriteUint64(v uint64) {
	w.enc.WriteUint64(v)
}

// WriteInt32 writes an int32.
func (w *Writer) WriteInt32(v int32) {
	w.enc.WriteInt32(v)
}

// WriteLenBytes writes a length-prefixed byte payload. Large payloads are
// sent without being copied.
func (w *Writer) WriteLenBytes(b []byte) error {
	if len(b) < spillThreshold {
		w.enc.WriteLenBytes(b)
		return nil
	}
	w.enc.WriteUint64(uint64(len(b)))
	if err := w.spill(); err != nil {
		return err
	}
	if err := w.sink.Send(b); err != nil {
		return err
	}
	w.written += uint64(len(b))
	return nil
}

// Flush hands every staged byte to the sink and flushes it.
func (w *Writer) Flush() error {
	if err := w.spill(); err != nil {
		return err
	}
	return w.sink.Flush()
}

func (w *Writer) spill() error {
	if w.enc.Len() == 0 {
		return nil
	}
	n := w.enc.Len()
	err := w.sink.Send(w.enc.Bytes())
	w.enc.Reset()
	if err != nil {
		return err
	}
	w.written += uint64(n)
	return nil
}

// WriteSequence writes a uint64 element count followed by each element.
func WriteSequence[T any](w *Writer, items []T, put func(*Encoder, T)) {
	w.enc.WriteUint64(uint64(len(items)))
	for _, it := range items {
		put(w.enc, it)
	}
}

// WriteFloat32s writes a sequence of float32.
func (w *Writer) WriteFloat32s(v []float32) {
	WriteSequence(w, v, (*Encoder).WriteFloat32)
}

// WriteVec3s writes a sequence of Vec3.
func (w *Writer) WriteVec3s(v []Vec3) {
	WriteSequence(w, v, (*Encoder).WriteVec3)
}

// WriteUint64s writes a sequence of uint64.
func (w *Writer) WriteUint64s(v []uint64) {
	WriteSequence(w, v, (*Encoder).WriteUint64)
}

// WriteStrings writes a sequence of length-prefixed strings.
func (w *Writer) WriteStrings(v []string) {
	WriteSequence(w, v, (*Encoder).WriteString)
}

// Reader reads protocol values from a Source, enforcing Limits on every
// length prefix and element count.
//
// Reader is not safe for concurrent use.
type Reader struct {
	src     Source
	limits  Limits
	scratch []byte
	read    uint64
}

// NewReader creates a Reader over s. Zero limits take their defaults.
func NewReader(s Source, limits Limits) *Reader {
	return &Reader{
		src:     s,
		limits:  limits.normalize(),
		scratch: make([]byte, 64),
	}
}

// BytesRead returns the number of bytes received from the source.
func (r *Reader) BytesRead() uint64 {
	return r.read
}

// fill receives exactly n bytes into the scratch buffer. The result is
// valid until the next read.
func (r *Reader) fill(n int) ([]byte, error) {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	b := r.scratch[:n]
	if err := r.src.ReceiveExact(b); err != nil {
		return nil, err
	}
	r.read += uint64(n)
	return b, nil
}

// ReadFixed reads an exact-size record into rec.
func (r *Reader) ReadFixed(rec FixedRecord) error {
	b, err := r.fill(rec.FixedSize())
	if err != nil {
		return err
	}
	return rec.DecodeFixed(NewDecoder(b))
}

// ReadUint64 reads a uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint64(b), nil
}

// ReadInt32 reads an int32.
func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return int32(byteOrder.Uint32(b)), nil
}

// ReadString reads a length-prefixed string.
// Returns ErrAllocationTooLarge if the length exceeds MaxStringLen.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return "", err
	}
	if n > uint64(r.limits.MaxStringLen) {
		return "", fmt.Errorf("%w: string of %d bytes", ErrAllocationTooLarge, n)
	}
	b, err := r.fill(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLenBytesInto reads a length-prefixed payload into dst, growing it
// only when its capacity is too small, and returns the filled slice.
// Returns ErrAllocationTooLarge if the length exceeds MaxPayloadLen.
func (r *Reader) ReadLenBytesInto(dst []byte) ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return dst[:0], err
	}
	if n > uint64(r.limits.MaxPayloadLen) {
		return dst[:0], fmt.Errorf("%w: payload of %d bytes", ErrAllocationTooLarge, n)
	}
	if uint64(cap(dst)) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	if err := r.src.ReceiveExact(dst); err != nil {
		return dst[:0], err
	}
	r.read += n
	return dst, nil
}

// count reads a sequence element count and checks it against the limits.
func (r *Reader) count(elemSize int) (int, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.limits.MaxCollectionCount) {
		return 0, fmt.Errorf("%w: %d elements", ErrCollectionTooLarge, n)
	}
	if elemSize > 0 && n*uint64(elemSize) > HardMaxAllocation {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrAllocationTooLarge, n, elemSize)
	}
	return int(n), nil
}

// ReadSequence reads a uint64 element count followed by that many
// fixed-size elements, appending them to dst[:0].
func ReadSequence[T any](r *Reader, dst []T, elemSize int, get func(*Decoder) (T, error)) ([]T, error) {
	n, err := r.count(elemSize)
	if err != nil {
		return dst[:0], err
	}
	b, err := r.fill(n * elemSize)
	if err != nil {
		return dst[:0], err
	}
	d := NewDecoder(b)
	out := dst[:0]
	for i := 0; i < n; i++ {
		v, err := get(d)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadFloat32s reads a sequence of float32 into dst.
func (r *Reader) ReadFloat32s(dst []float32) ([]float32, error) {
	return ReadSequence(r, dst, 4, (*Decoder).ReadFloat32)
}

// ReadVec3s reads a sequence of Vec3 into dst.
func (r *Reader) ReadVec3s(dst []Vec3) ([]Vec3, error) {
	return ReadSequence(r, dst, 12, (*Decoder).ReadVec3)
}

// ReadUint64s reads a sequence of uint64 into dst.
func (r *Reader) ReadUint64s(dst []uint64) ([]uint64, error) {
	return ReadSequence(r, dst, 8, (*Decoder).ReadUint64)
}

// ReadStrings reads a sequence of length-prefixed strings.
func (r *Reader) ReadStrings() ([]string, error) {
	n, err := r.count(0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		s, err := r.ReadString()
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// IsViolation reports whether err means the peer sent bytes that do not
// fit the schema, as opposed to a failing stream.
func IsViolation(err error) bool {
	return errors.Is(err, ErrAllocationTooLarge) ||
		errors.Is(err, ErrCollectionTooLarge) ||
		errors.Is(err, ErrInvalidBool) ||
		errors.Is(err, ErrRecordSize) ||
		errors.Is(err, ErrNegativeCost)
}
