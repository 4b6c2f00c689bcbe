package protocol

// Allocation limits to prevent a corrupted or mismatched peer from
// driving huge allocations via bogus length prefixes.
const (
	// DefaultMaxStringLen bounds variable names (64KB).
	DefaultMaxStringLen = 64 * 1024

	// DefaultMaxPayloadLen bounds a compressed frame (64MB).
	// An uncompressed 4K RGBA frame is about 33MB.
	DefaultMaxPayloadLen = 64 * 1024 * 1024

	// HardMaxAllocation is the absolute ceiling for a single allocation
	// (256MB). Even if configured higher, allocations are capped here.
	HardMaxAllocation = 256 * 1024 * 1024

	// MaxCollectionCount is the maximum number of items in a sequence.
	// This prevents OOM from huge counts with small per-item overhead.
	MaxCollectionCount = 1_000_000
)

// Limits configures the allocation limits of a Reader.
// Use DefaultLimits() for sensible defaults.
type Limits struct {
	// MaxStringLen is the maximum length of a string.
	MaxStringLen int

	// MaxPayloadLen is the maximum length of a length-prefixed byte payload.
	MaxPayloadLen int

	// MaxCollectionCount is the maximum element count of a sequence.
	MaxCollectionCount int
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxStringLen:       DefaultMaxStringLen,
		MaxPayloadLen:      DefaultMaxPayloadLen,
		MaxCollectionCount: MaxCollectionCount,
	}
}

// normalize fills zero fields with defaults and caps every limit at
// HardMaxAllocation.
func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = d.MaxStringLen
	}
	if l.MaxPayloadLen <= 0 {
		l.MaxPayloadLen = d.MaxPayloadLen
	}
	if l.MaxCollectionCount <= 0 {
		l.MaxCollectionCount = d.MaxCollectionCount
	}
	l.MaxStringLen = min(l.MaxStringLen, HardMaxAllocation)
	l.MaxPayloadLen = min(l.MaxPayloadLen, HardMaxAllocation)
	return l
}
