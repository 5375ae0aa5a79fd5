// Package dib interprets device-independent bitmaps as producers place them
// on the clipboard and turns them into standard containers.
//
// A DIB block is laid out as
//
//	[ info header 40/108/124 ][ color table, 4 bytes per entry ][ pixel payload ]
//
// BITMAPV4HEADER and BITMAPV5HEADER blocks are read through their first 40
// bytes; the rest of the header is carried along and written back verbatim.
//
// The header declares which of several incompatible encodings the payload
// uses. Classify decides, Unclip/Decode take owned copies, WriteBMP repackages
// losslessly, and Reconstruct/EncodePNG rebuild 8-bit RGB(A) pixels.
//
// Every offset derived from the header is bounds-checked against the real
// block length; a header that declares more than the block holds is a
// *FormatError, never a short read.
package dib

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	FileHeaderSize = 14  // BITMAPFILEHEADER
	InfoHeaderSize = 40  // BITMAPINFOHEADER
	V4HeaderSize   = 108 // BITMAPV4HEADER
	V5HeaderSize   = 124 // BITMAPV5HEADER
	QuadSize       = 4   // RGBQUAD
)

// bV5CSType values that locate a color profile after the payload.
const (
	profileLinked   uint32 = 0x4C494E4B // 'LINK'
	profileEmbedded uint32 = 0x4D424544 // 'MBED'
)

// biCompression values.
const (
	CompressionRGB       uint32 = 0
	CompressionRLE8      uint32 = 1
	CompressionRLE4      uint32 = 2
	CompressionBitFields uint32 = 3
	CompressionJPEG      uint32 = 4
	CompressionPNG       uint32 = 5
)

var compressionNames = map[uint32]string{
	CompressionRGB:       "BI_RGB",
	CompressionRLE8:      "BI_RLE8",
	CompressionRLE4:      "BI_RLE4",
	CompressionBitFields: "BI_BITFIELDS",
	CompressionJPEG:      "BI_JPEG",
	CompressionPNG:       "BI_PNG",
}

// CompressionName returns the BI_* name of a compression tag.
func CompressionName(c uint32) string {
	if n, ok := compressionNames[c]; ok {
		return n
	}
	return fmt.Sprintf("compression(%d)", c)
}

var (
	// ErrTruncated is wrapped by every *FormatError.
	ErrTruncated = errors.New("dib: declared size exceeds block")
	// ErrMalformed reports header values no producer can mean, such as a
	// negative width.
	ErrMalformed = errors.New("dib: malformed header")
	// ErrUnsupported is matched by every UnsupportedError.
	ErrUnsupported = errors.New("dib: unsupported bitmap")
)

// A FormatError reports a region the header declares but the block does not
// contain.
type FormatError struct {
	What string
	Off  int
	Need int
	Have int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("dib: %s needs %d bytes at offset %d, block has %d", e.What, e.Need, e.Off, e.Have)
}

func (e *FormatError) Unwrap() error { return ErrTruncated }

// An UnsupportedError reports a valid encoding imgclip cannot rebuild pixels
// for.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "dib: unsupported: " + string(e) }

func (e UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// Depth is a bits-per-pixel value. The named depths are the ones a DIB may
// declare; any other value is carried as-is and reports Known() == false.
type Depth uint16

const (
	Depth1  Depth = 1
	Depth4  Depth = 4
	Depth8  Depth = 8
	Depth16 Depth = 16
	Depth24 Depth = 24
	Depth32 Depth = 32
)

// DepthOf maps a header bit count to a Depth.
func DepthOf(bits uint16) Depth { return Depth(bits) }

// Bits returns the bit count DepthOf was built from.
func (d Depth) Bits() uint16 { return uint16(d) }

// Known reports whether d is one of the named depths.
func (d Depth) Known() bool {
	switch d {
	case Depth1, Depth4, Depth8, Depth16, Depth24, Depth32:
		return true
	}
	return false
}

// Paletted reports whether pixels at this depth are palette indices.
func (d Depth) Paletted() bool { return d == Depth1 || d == Depth4 || d == Depth8 }

func (d Depth) String() string {
	if d.Known() {
		return fmt.Sprintf("%dbpp", uint16(d))
	}
	return fmt.Sprintf("other(%d)", uint16(d))
}

// Stride returns the DWORD-aligned row length in bytes for width pixels.
func (d Depth) Stride(width int) int {
	return ((width*int(d) + 31) / 32) * 4
}

// View is a bounds-checked view over a locked DIB block.
type View struct {
	b []byte
}

// NewView wraps b. It fails unless b holds at least a full info header.
func NewView(b []byte) (View, error) {
	if len(b) < InfoHeaderSize {
		return View{}, &FormatError{What: "info header", Need: InfoHeaderSize, Have: len(b)}
	}
	return View{b: b}, nil
}

// Len returns the block length.
func (v View) Len() int { return len(v.b) }

// Header returns the typed view over the first InfoHeaderSize bytes.
func (v View) Header() Header { return Header{b: v.b[:InfoHeaderSize:InfoHeaderSize]} }

// HeaderLen returns the declared info header size. Only the 40-byte
// BITMAPINFOHEADER and the V4/V5 headers are accepted; any other size is an
// UnsupportedError.
func (v View) HeaderLen() (int, error) {
	switch n := v.Header().Size(); n {
	case InfoHeaderSize, V4HeaderSize, V5HeaderSize:
		if int(n) > len(v.b) {
			return 0, &FormatError{What: "info header", Need: int(n), Have: len(v.b)}
		}
		return int(n), nil
	default:
		return 0, UnsupportedError(fmt.Sprintf("info header size %d", n))
	}
}

// profileEnd returns the offset just past a V5 color profile, or 0 when the
// header references none.
func (v View) profileEnd(hdr int) (int, error) {
	if hdr < V5HeaderSize {
		return 0, nil
	}
	switch binary.LittleEndian.Uint32(v.b[56:]) {
	case profileLinked, profileEmbedded:
	default:
		return 0, nil
	}
	off := binary.LittleEndian.Uint32(v.b[112:])
	size := binary.LittleEndian.Uint32(v.b[116:])
	if size == 0 {
		return 0, nil
	}
	if end := uint64(off) + uint64(size); end > uint64(len(v.b)) {
		return 0, &FormatError{What: "color profile", Off: int(off), Need: int(size), Have: len(v.b)}
	}
	return int(off) + int(size), nil
}

// Slice returns b[off:off+n] or a *FormatError naming what if the block is
// too short. The result aliases the block.
func (v View) Slice(off, n int, what string) ([]byte, error) {
	if off < 0 || n < 0 || off > len(v.b) || n > len(v.b)-off {
		return nil, &FormatError{What: what, Off: off, Need: n, Have: len(v.b)}
	}
	return v.b[off : off+n : off+n], nil
}

// Header reinterprets a BITMAPINFOHEADER. It performs no validation.
type Header struct {
	b []byte
}

func (h Header) u16(off int) uint16 { return binary.LittleEndian.Uint16(h.b[off:]) }
func (h Header) u32(off int) uint32 { return binary.LittleEndian.Uint32(h.b[off:]) }

func (h Header) Size() uint32            { return h.u32(0) }
func (h Header) Width() int32            { return int32(h.u32(4)) }
func (h Header) Height() int32           { return int32(h.u32(8)) }
func (h Header) Planes() uint16          { return h.u16(12) }
func (h Header) BitCount() uint16        { return h.u16(14) }
func (h Header) Compression() uint32     { return h.u32(16) }
func (h Header) SizeImage() uint32       { return h.u32(20) }
func (h Header) XPelsPerMeter() int32    { return int32(h.u32(24)) }
func (h Header) YPelsPerMeter() int32    { return int32(h.u32(28)) }
func (h Header) ColorsUsed() uint32      { return h.u32(32) }
func (h Header) ColorsImportant() uint32 { return h.u32(36) }

// Depth returns BitCount as a Depth.
func (h Header) Depth() Depth { return DepthOf(h.BitCount()) }

// BottomUp reports whether the first payload row is the bottom image row.
func (h Header) BottomUp() bool { return h.Height() > 0 }

// paletteLen is the number of color table entries an uncompressed raster
// carries. Zero ColorsUsed means a full table for paletted depths and no
// table otherwise.
func (h Header) paletteLen() uint32 {
	n := h.ColorsUsed()
	if n == 0 && h.Depth().Paletted() {
		return 1 << h.BitCount()
	}
	return n
}

// tableLen is the number of quads between an info header of hdr bytes and
// the payload, for any compression including ones Classify does not decode.
// V4/V5 headers hold the channel masks themselves.
func (h Header) tableLen(hdr int) uint32 {
	switch h.Compression() {
	case CompressionPNG, CompressionJPEG:
		return 0
	case CompressionBitFields:
		if hdr > InfoHeaderSize {
			return 0
		}
		return 3
	}
	return h.paletteLen()
}

// Info copies the header fields into an InfoHeader.
func (h Header) Info() InfoHeader {
	return InfoHeader{
		Size:            h.Size(),
		Width:           h.Width(),
		Height:          h.Height(),
		Planes:          h.Planes(),
		BitCount:        h.BitCount(),
		Compression:     h.Compression(),
		SizeImage:       h.SizeImage(),
		XPelsPerMeter:   h.XPelsPerMeter(),
		YPelsPerMeter:   h.YPelsPerMeter(),
		ColorsUsed:      h.ColorsUsed(),
		ColorsImportant: h.ColorsImportant(),
	}
}
