// Package imagecodec compresses raw RGBA framebuffers to JPEG and back.
//
// Pixels are packed one per uint32 in memory order R, G, B, A, which is
// the little-endian packing R | G<<8 | B<<16 | A<<24. Row order is a
// property of the codec chosen at construction: a bottom-up codec treats
// pixels[0] as the first pixel of the last image row, as rasterizers that
// follow the OpenGL convention produce it.
package imagecodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Quality bounds and default.
const (
	DefaultQuality = 90
	MinQuality     = 1
	MaxQuality     = 100
)

// Codec errors.
var (
	ErrInvalidDimensions = errors.New("imagecodec: invalid dimensions")
	ErrDimensionMismatch = errors.New("imagecodec: dimension mismatch")
	ErrEmptyInput        = errors.New("imagecodec: empty input")
)

// CodecError reports a failed compression or decompression.
type CodecError struct {
	Op  string // compress, decompress, scale
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("imagecodec: %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Options configures a Compressor or Decompressor.
type Options struct {
	// Quality is the JPEG quality (1-100). Zero means DefaultQuality.
	Quality int

	// BottomUp selects bottom-up row order for the pixel buffers.
	BottomUp bool
}

func (o Options) quality() int {
	if o.Quality == 0 {
		return DefaultQuality
	}
	return min(max(o.Quality, MinQuality), MaxQuality)
}

// Compressor encodes framebuffers as JPEG. It keeps its output buffer and
// staging image between calls.
//
// A Compressor is not safe for concurrent use.
type Compressor struct {
	quality  int
	bottomUp bool
	img      *image.RGBA
	out      bytes.Buffer
}

// NewCompressor creates a Compressor.
func NewCompressor(opts Options) *Compressor {
	return &Compressor{quality: opts.quality(), bottomUp: opts.BottomUp}
}

// Quality returns the JPEG quality in use.
func (c *Compressor) Quality() int {
	return c.quality
}

// Compress encodes the first w*h pixels. The returned slice aliases the
// compressor's buffer and is valid until the next call.
func (c *Compressor) Compress(pixels []uint32, w, h int) ([]byte, error) {
	if w <= 0 || h <= 0 || len(pixels) < w*h {
		return nil, &CodecError{Op: "compress", Err: fmt.Errorf("%w: %dx%d with %d pixels", ErrInvalidDimensions, w, h, len(pixels))}
	}

	if c.img == nil || c.img.Rect.Dx() != w || c.img.Rect.Dy() != h {
		c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	pack(c.img, pixels, c.bottomUp)

	c.out.Reset()
	if err := jpeg.Encode(&c.out, c.img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, &CodecError{Op: "compress", Err: err}
	}
	return c.out.Bytes(), nil
}

// Decompressor decodes JPEG frames into packed pixel buffers.
//
// A Decompressor is not safe for concurrent use.
type Decompressor struct {
	bottomUp bool
	img      *image.RGBA
}

// NewDecompressor creates a Decompressor. Only Options.BottomUp is used.
func NewDecompressor(opts Options) *Decompressor {
	return &Decompressor{bottomUp: opts.BottomUp}
}

// Decompress decodes data, which must be a w×h image, into dst and
// returns it. dst is reallocated only if its length is not w*h.
func (d *Decompressor) Decompress(data []byte, w, h int, dst []uint32) ([]uint32, error) {
	if w <= 0 || h <= 0 {
		return dst, &CodecError{Op: "decompress", Err: fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)}
	}
	if len(data) == 0 {
		return dst, &CodecError{Op: "decompress", Err: ErrEmptyInput}
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return dst, &CodecError{Op: "decompress", Err: err}
	}
	b := src.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return dst, &CodecError{Op: "decompress", Err: fmt.Errorf("%w: got %dx%d, want %dx%d", ErrDimensionMismatch, b.Dx(), b.Dy(), w, h)}
	}

	if d.img == nil || d.img.Rect.Dx() != w || d.img.Rect.Dy() != h {
		d.img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	draw.Draw(d.img, d.img.Rect, src, b.Min, draw.Src)

	if len(dst) != w*h {
		dst = make([]uint32, w*h)
	}
	unpack(dst, d.img, d.bottomUp)
	return dst, nil
}

// Scale resamples a top-down w×h buffer to dw×dh into dst, reallocating
// dst only if its length is not dw*dh.
func Scale(pixels []uint32, w, h, dw, dh int, dst []uint32) ([]uint32, error) {
	if w <= 0 || h <= 0 || dw <= 0 || dh <= 0 || len(pixels) < w*h {
		return dst, &CodecError{Op: "scale", Err: fmt.Errorf("%w: %dx%d -> %dx%d", ErrInvalidDimensions, w, h, dw, dh)}
	}
	if len(dst) != dw*dh {
		dst = make([]uint32, dw*dh)
	}
	if w == dw && h == dh {
		copy(dst, pixels)
		return dst, nil
	}

	src := image.NewRGBA(image.Rect(0, 0, w, h))
	pack(src, pixels, false)
	out := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(out, out.Rect, src, src.Rect, draw.Src, nil)
	unpack(dst, out, false)
	return dst, nil
}

// pack copies packed pixels into img, flipping rows if bottomUp.
func pack(img *image.RGBA, pixels []uint32, bottomUp bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		sy := y
		if bottomUp {
			sy = h - 1 - y
		}
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x, p := range pixels[sy*w : sy*w+w] {
			binary.LittleEndian.PutUint32(row[x*4:], p)
		}
	}
}

// unpack copies img into packed pixels, flipping rows if bottomUp.
func unpack(dst []uint32, img *image.RGBA, bottomUp bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		dy := y
		if bottomUp {
			dy = h - 1 - y
		}
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out := dst[dy*w : dy*w+w]
		for x := range out {
			out[x] = binary.LittleEndian.Uint32(row[x*4:])
		}
	}
}

// Pack builds a pixel from 8-bit channels.
func Pack(r, g, b, a uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
}

// Unpack splits a pixel into 8-bit channels.
func Unpack(p uint32) (r, g, b, a uint8) {
	return uint8(p), uint8(p >> 8), uint8(p >> 16), uint8(p >> 24)
}
