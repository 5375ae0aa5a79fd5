package dib

import (
	"encoding/binary"
	"fmt"
)

// Quad is an RGBQUAD as stored: blue, green, red, reserved. Palette entries
// and BI_BITFIELDS channel masks share this shape.
type Quad struct {
	Blue, Green, Red, Reserved uint8
}

// QuadOf stores v the way a DWORD lands in a color table slot.
func QuadOf(v uint32) Quad {
	return Quad{Blue: uint8(v), Green: uint8(v >> 8), Red: uint8(v >> 16), Reserved: uint8(v >> 24)}
}

// Uint32 reads the four stored bytes as a little-endian DWORD.
func (q Quad) Uint32() uint32 {
	return uint32(q.Blue) | uint32(q.Green)<<8 | uint32(q.Red)<<16 | uint32(q.Reserved)<<24
}

// Encoding is the classified pixel encoding of a DIB. It is one of
// EmbeddedPNG, EmbeddedJPEG, Indexed or ChannelMask.
type Encoding interface {
	// Table returns the palette or channel masks of the encoding, or nil
	// when it carries none or the table is empty. V4/V5 headers store the
	// masks inside the header rather than after it.
	Table() []Quad
	String() string

	encoding()
}

// EmbeddedPNG: the payload is a complete PNG stream.
type EmbeddedPNG struct{}

// EmbeddedJPEG: the payload is a complete JPEG stream.
type EmbeddedJPEG struct{}

// Indexed is an uncompressed BI_RGB raster. At paletted depths Palette maps
// pixel values to colors; at 16/24/32 bpp it is the optional optimisation
// table and is usually empty.
type Indexed struct {
	Palette []Quad
	Depth   Depth
}

// ChannelMask is a BI_BITFIELDS raster. Masks holds the red, green and blue
// DWORD masks stored as quads.
type ChannelMask struct {
	Masks [3]Quad
	Depth Depth
}

func (EmbeddedPNG) Table() []Quad  { return nil }
func (EmbeddedJPEG) Table() []Quad { return nil }

func (e Indexed) Table() []Quad {
	if len(e.Palette) == 0 {
		return nil
	}
	return e.Palette
}

func (e ChannelMask) Table() []Quad { return e.Masks[:] }

func (EmbeddedPNG) String() string  { return "embedded PNG" }
func (EmbeddedJPEG) String() string { return "embedded JPEG" }
func (e Indexed) String() string    { return fmt.Sprintf("indexed %s, %d colors", e.Depth, len(e.Palette)) }
func (e ChannelMask) String() string {
	return fmt.Sprintf("bitfields %s, masks r=%#08x g=%#08x b=%#08x",
		e.Depth, e.Masks[0].Uint32(), e.Masks[1].Uint32(), e.Masks[2].Uint32())
}

func (EmbeddedPNG) encoding()  {}
func (EmbeddedJPEG) encoding() {}
func (Indexed) encoding()      {}
func (ChannelMask) encoding()  {}

// Classify decides which encoding the header of v declares and reads the
// color table that follows it. It returns nil, nil for compression and depth
// combinations that have no known decoding; the caller must not guess.
// A table that runs past the end of the block is a *FormatError; a header
// size other than 40, 108 or 124 is an UnsupportedError.
func Classify(v View) (Encoding, error) {
	hdr, err := v.HeaderLen()
	if err != nil {
		return nil, err
	}
	h := v.Header()
	d := h.Depth()
	switch c := h.Compression(); {
	case c == CompressionPNG:
		return EmbeddedPNG{}, nil
	case c == CompressionJPEG:
		return EmbeddedJPEG{}, nil
	case c == CompressionRGB && d.Known():
		pal, err := readQuads(v, hdr, h.paletteLen(), "color table")
		if err != nil {
			return nil, err
		}
		return Indexed{Palette: pal, Depth: d}, nil
	case c == CompressionBitFields && (d == Depth16 || d == Depth32):
		// Right after a 40-byte header, or the first mask fields of a V4/V5 one.
		q, err := readQuads(v, InfoHeaderSize, 3, "channel masks")
		if err != nil {
			return nil, err
		}
		return ChannelMask{Masks: [3]Quad{q[0], q[1], q[2]}, Depth: d}, nil
	}
	return nil, nil
}

// readQuads copies n quads starting at off.
func readQuads(v View, off int, n uint32, what string) ([]Quad, error) {
	if n == 0 {
		return nil, nil
	}
	if n > uint32(v.Len()/QuadSize) {
		return nil, &FormatError{What: what, Off: off, Need: int(n) * QuadSize, Have: v.Len()}
	}
	b, err := v.Slice(off, int(n)*QuadSize, what)
	if err != nil {
		return nil, err
	}
	out := make([]Quad, n)
	for i := range out {
		out[i] = QuadOf(binary.LittleEndian.Uint32(b[i*QuadSize:]))
	}
	return out, nil
}
