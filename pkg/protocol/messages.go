package protocol

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNegativeCost is returned when a frame carries a negative cost.
var ErrNegativeCost = errors.New("protocol: negative frame cost")

// Vec3 is a 3-component float32 vector. On the wire it is 12 bytes.
type Vec3 struct {
	X, Y, Z float32
}

// Camera is an orthonormal-ish camera basis.
type Camera struct {
	Eye Vec3
	Dir Vec3
	Up  Vec3
}

// AppStateSize is the wire size of AppState.
const AppStateSize = 60

// AppState is the fixed-size state record the viewer sends after every
// frame. The boolean fields are dirty flags: each marks its field as
// changed since the last send.
//
// Wire layout (60 bytes, host byte order):
//
//	┌────────────────┬──────────────┬──────────┬────────┬─────────┐
//	│ Eye, Dir, Up   │ FB W, FB H   │ Timestep │ Flags  │ Padding │
//	│ (9 × float32)  │ (2 × int32)  │ (uint64) │ (6 B)  │ (2 B)   │
//	└────────────────┴──────────────┴──────────┴────────┴─────────┘
//
// Flags are, in order: camera, framebuffer size, transfer function,
// timestep, field, quit.
type AppState struct {
	Camera            Camera
	FramebufferWidth  int32
	FramebufferHeight int32
	Timestep          uint64

	CameraChanged           bool
	FramebufferSizeChanged  bool
	TransferFunctionChanged bool
	TimestepChanged         bool
	FieldChanged            bool
	Quit                    bool
}

// FixedSize implements FixedRecord.
func (s *AppState) FixedSize() int { return AppStateSize }

// EncodeFixed implements FixedRecord.
func (s *AppState) EncodeFixed(e *Encoder) {
	e.WriteVec3(s.Camera.Eye)
	e.WriteVec3(s.Camera.Dir)
	e.WriteVec3(s.Camera.Up)
	e.WriteInt32(s.FramebufferWidth)
	e.WriteInt32(s.FramebufferHeight)
	e.WriteUint64(s.Timestep)
	e.WriteBool(s.CameraChanged)
	e.WriteBool(s.FramebufferSizeChanged)
	e.WriteBool(s.TransferFunctionChanged)
	e.WriteBool(s.TimestepChanged)
	e.WriteBool(s.FieldChanged)
	e.WriteBool(s.Quit)
	e.WriteZeros(2)
}

// DecodeFixed implements FixedRecord.
func (s *AppState) DecodeFixed(d *Decoder) error {
	var err error
	if s.Camera.Eye, err = d.ReadVec3(); err != nil {
		return err
	}
	if s.Camera.Dir, err = d.ReadVec3(); err != nil {
		return err
	}
	if s.Camera.Up, err = d.ReadVec3(); err != nil {
		return err
	}
	if s.FramebufferWidth, err = d.ReadInt32(); err != nil {
		return err
	}
	if s.FramebufferHeight, err = d.ReadInt32(); err != nil {
		return err
	}
	if s.Timestep, err = d.ReadUint64(); err != nil {
		return err
	}
	for _, f := range []*bool{
		&s.CameraChanged,
		&s.FramebufferSizeChanged,
		&s.TransferFunctionChanged,
		&s.TimestepChanged,
		&s.FieldChanged,
		&s.Quit,
	} {
		if *f, err = d.ReadBool(); err != nil {
			return err
		}
	}
	return d.Skip(2)
}

// Dirty reports whether any flag other than Quit is set.
func (s *AppState) Dirty() bool {
	return s.CameraChanged || s.FramebufferSizeChanged || s.TransferFunctionChanged ||
		s.TimestepChanged || s.FieldChanged
}

// ClearFlags resets every dirty flag. Quit is left untouched.
func (s *AppState) ClearFlags() {
	s.CameraChanged = false
	s.FramebufferSizeChanged = false
	s.TransferFunctionChanged = false
	s.TimestepChanged = false
	s.FieldChanged = false
}

// TransferFunction maps scalar values to color and opacity. Colors and
// Opacities are sampled independently; their lengths need not match.
type TransferFunction struct {
	Colors    []Vec3
	Opacities []float32
}

// Clone returns a deep copy.
func (tf TransferFunction) Clone() TransferFunction {
	return TransferFunction{
		Colors:    slices.Clone(tf.Colors),
		Opacities: slices.Clone(tf.Opacities),
	}
}

// StateMessage is an AppState with its flag-gated payload.
type StateMessage struct {
	State            AppState
	Variable         string           // present iff State.FieldChanged
	TransferFunction TransferFunction // present iff State.TransferFunctionChanged
}

// WriteState writes the state record, then the variable name if
// FieldChanged, then colors and opacities if TransferFunctionChanged,
// and flushes.
func WriteState(w *Writer, m *StateMessage) error {
	if err := w.WriteFixed(&m.State); err != nil {
		return err
	}
	if m.State.FieldChanged {
		w.WriteString(m.Variable)
	}
	if m.State.TransferFunctionChanged {
		w.WriteVec3s(m.TransferFunction.Colors)
		w.WriteFloat32s(m.TransferFunction.Opacities)
	}
	return w.Flush()
}

// ReadState reads a state message written by WriteState into m. Payload
// fields whose flag is clear are left as they were; slices are reused.
func ReadState(r *Reader, m *StateMessage) error {
	if err := r.ReadFixed(&m.State); err != nil {
		return err
	}
	if m.State.FieldChanged {
		v, err := r.ReadString()
		if err != nil {
			return err
		}
		m.Variable = v
	}
	if m.State.TransferFunctionChanged {
		var err error
		if m.TransferFunction.Colors, err = r.ReadVec3s(m.TransferFunction.Colors); err != nil {
			return err
		}
		if m.TransferFunction.Opacities, err = r.ReadFloat32s(m.TransferFunction.Opacities); err != nil {
			return err
		}
	}
	return nil
}

// Metadata is the one-time catalog the worker sends before the first
// frame.
type Metadata struct {
	Variables []string
	Timesteps []uint64 // unique, ascending

	// Variable and Timestep are the current selection.
	Variable string
	Timestep uint64
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	m.Variables = slices.Clone(m.Variables)
	m.Timesteps = slices.Clone(m.Timesteps)
	return m
}

// HasVariable reports whether name is in the catalog.
func (m Metadata) HasVariable(name string) bool {
	return slices.Contains(m.Variables, name)
}

// HasTimestep reports whether ts is in the catalog.
func (m Metadata) HasTimestep(ts uint64) bool {
	_, ok := slices.BinarySearch(m.Timesteps, ts)
	return ok
}

// WriteMetadata writes the catalog and selection and flushes.
func WriteMetadata(w *Writer, m *Metadata) error {
	w.WriteStrings(m.Variables)
	w.WriteUint64s(m.Timesteps)
	w.WriteString(m.Variable)
	w.WriteUint64(m.Timestep)
	return w.Flush()
}

// ReadMetadata reads a catalog written by WriteMetadata. The timestep set
// is returned sorted ascending without duplicates.
func ReadMetadata(r *Reader) (Metadata, error) {
	var m Metadata
	var err error
	if m.Variables, err = r.ReadStrings(); err != nil {
		return m, fmt.Errorf("read variables: %w", err)
	}
	if m.Timesteps, err = r.ReadUint64s(nil); err != nil {
		return m, fmt.Errorf("read timesteps: %w", err)
	}
	slices.Sort(m.Timesteps)
	m.Timesteps = slices.Compact(m.Timesteps)
	if m.Variable, err = r.ReadString(); err != nil {
		return m, fmt.Errorf("read selected variable: %w", err)
	}
	if m.Timestep, err = r.ReadUint64(); err != nil {
		return m, fmt.Errorf("read selected timestep: %w", err)
	}
	return m, nil
}

// WriteFrame writes a compressed frame and its cost in milliseconds and
// flushes. Negative costs are sent as zero.
func WriteFrame(w *Writer, data []byte, costMillis int32) error {
	if err := w.WriteLenBytes(data); err != nil {
		return err
	}
	w.WriteInt32(max(costMillis, 0))
	return w.Flush()
}

// ReadFrame reads a frame written by WriteFrame into dst, reusing its
// storage when large enough.
func ReadFrame(r *Reader, dst []byte) ([]byte, int32, error) {
	data, err := r.ReadLenBytesInto(dst)
	if err != nil {
		return data, 0, err
	}
	cost, err := r.ReadInt32()
	if err != nil {
		return data, 0, err
	}
	if cost < 0 {
		return data, 0, fmt.Errorf("%w: %d", ErrNegativeCost, cost)
	}
	return data, cost, nil
}
