package dib

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"go.klb.dev/imgclip/internal/clip"
)

// Pixels is a tightly packed 8-bit-per-channel pixel buffer, row-major, rows
// in the same order as the source (see BottomUp).
type Pixels struct {
	Width    int
	Height   int
	Channels int // 3 = RGB, 4 = RGBA
	BottomUp bool
	Pix      []byte
}

// Policy says how one packed source pixel becomes output channels.
// ByteOrder and BitFields are the two kinds.
type Policy interface {
	// BytesPerPixel is the size of one packed source pixel.
	BytesPerPixel() int
	// Channels is the number of output bytes per pixel.
	Channels() int
	String() string

	put(dst, src []byte)
}

// ByteOrder copies source bytes to output channels: output channel i is
// source byte Order[i].
type ByteOrder struct {
	Name  string
	Size  int
	Order []int
}

func (p ByteOrder) BytesPerPixel() int { return p.Size }
func (p ByteOrder) Channels() int      { return len(p.Order) }
func (p ByteOrder) String() string     { return p.Name }

func (p ByteOrder) put(dst, src []byte) {
	for i, j := range p.Order {
		dst[i] = src[j]
	}
}

// channel is one contiguous bit field of a packed pixel.
type channel struct {
	mask  uint32
	shift uint
	width uint
}

func newChannel(mask uint32) channel {
	return channel{
		mask:  mask,
		shift: uint(bits.TrailingZeros32(mask)),
		width: uint(bits.OnesCount32(mask)),
	}
}

// extract pulls the field out of px and scales it to 8 bits. Narrow fields
// are widened by bit replication, so a saturated field maps to 0xff.
func (c channel) extract(px uint32) uint8 {
	if c.width == 0 {
		return 0
	}
	v := (px & c.mask) >> c.shift
	if c.width >= 8 {
		return uint8(v >> (c.width - 8))
	}
	var out uint32
	w := int(c.width)
	for s := 8 - w; s > -w; s -= w {
		if s >= 0 {
			out |= v << uint(s)
		} else {
			out |= v >> uint(-s)
		}
	}
	return uint8(out)
}

// BitFields reads 2- or 4-byte little-endian pixels and extracts red, green
// and blue through masks. Masks are assumed contiguous, as every clipboard
// producer emits them.
type BitFields struct {
	Name             string
	Size             int
	Red, Green, Blue uint32

	r, g, b channel
}

// NewBitFields returns a BitFields policy for size-byte pixels.
func NewBitFields(name string, size int, red, green, blue uint32) BitFields {
	return BitFields{
		Name: name, Size: size,
		Red: red, Green: green, Blue: blue,
		r: newChannel(red), g: newChannel(green), b: newChannel(blue),
	}
}

func (p BitFields) BytesPerPixel() int { return p.Size }
func (p BitFields) Channels() int      { return 3 }

func (p BitFields) String() string {
	return fmt.Sprintf("%s (r=%#x g=%#x b=%#x)", p.Name, p.Red, p.Green, p.Blue)
}

func (p BitFields) put(dst, src []byte) {
	var px uint32
	if p.Size == 2 {
		px = uint32(binary.LittleEndian.Uint16(src))
	} else {
		px = binary.LittleEndian.Uint32(src)
	}
	dst[0] = p.r.extract(px)
	dst[1] = p.g.extract(px)
	dst[2] = p.b.extract(px)
}

var (
	// Passthrough24 keeps 24-bit pixels byte for byte.
	Passthrough24 = ByteOrder{Name: "passthrough24", Size: 3, Order: []int{0, 1, 2}}

	// DeviceBGRA turns 32-bit device pixels (B,G,R,A) into RGBA.
	DeviceBGRA = ByteOrder{Name: "bgra", Size: 4, Order: []int{2, 1, 0, 3}}

	// FixedRGB32 is the fixed mask set applied to 32-bit BI_RGB payloads.
	// It reads the top three bytes of each DWORD as red, green, blue; the
	// channel order is kept bit-for-bit for compatibility with existing
	// captures.
	FixedRGB32 = NewBitFields("fixed32", 4, 0xFF000000, 0x00FF0000, 0x0000FF00)

	// Masks555 is the implied layout of 16-bit BI_RGB payloads.
	Masks555 = NewBitFields("rgb555", 2, 0x7C00, 0x03E0, 0x001F)

	// Masks565 is the compact 16-bit layout most BI_BITFIELDS producers use.
	Masks565 = NewBitFields("rgb565", 2, 0xF800, 0x07E0, 0x001F)
)

// MasksFrom returns the policy for a BI_BITFIELDS encoding.
func MasksFrom(e ChannelMask) (BitFields, error) {
	var size int
	switch e.Depth {
	case Depth16:
		size = 2
	case Depth32:
		size = 4
	default:
		return BitFields{}, UnsupportedError(fmt.Sprintf("bitfields at %s", e.Depth))
	}
	return NewBitFields("bitfields", size, e.Masks[0].Uint32(), e.Masks[1].Uint32(), e.Masks[2].Uint32()), nil
}

// Reconstruct applies p to every pixel of src, a payload of DWORD-aligned
// rows. A negative height means top-down rows; the output keeps the source
// row order either way. Row padding is dropped.
func Reconstruct(src []byte, width, height int, p Policy) (*Pixels, error) {
	if width < 0 {
		return nil, fmt.Errorf("width %d: %w", width, ErrMalformed)
	}
	rows := height
	if rows < 0 {
		rows = -rows
	}
	bpp := p.BytesPerPixel()
	rowBytes := width * bpp
	stride := (rowBytes + 3) &^ 3

	// The last row may omit its padding.
	if rows > 0 && rowBytes > 0 && (len(src) < rowBytes || rows-1 > (len(src)-rowBytes)/stride) {
		need := uint64(stride)*uint64(rows-1) + uint64(rowBytes)
		return nil, &FormatError{What: "pixel rows", Need: int(min(need, uint64(1<<62))), Have: len(src)}
	}

	ch := p.Channels()
	out := &Pixels{
		Width:    width,
		Height:   rows,
		Channels: ch,
		BottomUp: height > 0,
		Pix:      make([]byte, width*rows*ch),
	}
	for y := 0; y < rows; y++ {
		row := src[y*stride:]
		dst := out.Pix[y*width*ch:]
		for x := 0; x < width; x++ {
			p.put(dst[x*ch:], row[x*bpp:])
		}
	}
	return out, nil
}

// Policy selects how the payload of bm turns into RGB.
func (bm *Bitmap) Policy() (Policy, error) {
	switch enc := bm.Encoding.(type) {
	case ChannelMask:
		p, err := MasksFrom(enc)
		if err != nil {
			return nil, err
		}
		return p, nil
	case Indexed:
		switch enc.Depth {
		case Depth16:
			return Masks555, nil
		case Depth24:
			return Passthrough24, nil
		case Depth32:
			return FixedRGB32, nil
		}
		return nil, UnsupportedError(fmt.Sprintf("palette reconstruction at %s", enc.Depth))
	case EmbeddedPNG, EmbeddedJPEG:
		return nil, UnsupportedError(enc.String() + " is passed through, not decoded")
	case nil:
		return nil, UnsupportedError(fmt.Sprintf("%s at %s", CompressionName(bm.Info.Compression), bm.Depth()))
	}
	return nil, UnsupportedError(fmt.Sprintf("encoding %T", bm.Encoding))
}

// Pixels reconstructs RGB pixels from the payload. It is recomputed on
// every call. Encodings without a reconstruction return an error matching
// ErrUnsupported.
func (bm *Bitmap) Pixels() (*Pixels, error) {
	p, err := bm.Policy()
	if err != nil {
		return nil, err
	}
	return Reconstruct(bm.Data, bm.Width(), int(bm.Info.Height), p)
}

// SurfacePixels reconstructs RGBA pixels from a rendered device bitmap.
// Device bitmaps usually leave alpha at zero; a surface with no non-zero
// alpha is treated as opaque.
func SurfacePixels(s *clip.Surface) (*Pixels, error) {
	px, err := Reconstruct(s.Pix, s.Width, -s.Height, DeviceBGRA)
	if err != nil {
		return nil, err
	}
	for i := 3; i < len(px.Pix); i += 4 {
		if px.Pix[i] != 0 {
			return px, nil
		}
	}
	for i := 3; i < len(px.Pix); i += 4 {
		px.Pix[i] = 0xff
	}
	return px, nil
}
