package dib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"go.klb.dev/imgclip/internal/clip"
)

// FileHeader is a BITMAPFILEHEADER.
// https://learn.microsoft.com/en-us/windows/win32/api/wingdi/ns-wingdi-bitmapfileheader
type FileHeader struct {
	Type      [2]byte // "BM"
	Size      uint32  // size of the whole file
	Reserved1 uint16
	Reserved2 uint16
	OffBits   uint32 // offset of the pixel payload
}

// InfoHeader is a BITMAPINFOHEADER, copied verbatim from the source block.
type InfoHeader struct {
	Size            uint32
	Width           int32
	Height          int32 // negative for top-down rows
	Planes          uint16
	BitCount        uint16
	Compression     uint32
	SizeImage       uint32
	XPelsPerMeter   int32
	YPelsPerMeter   int32
	ColorsUsed      uint32
	ColorsImportant uint32
}

// Bitmap is a DIB taken off the clipboard. It owns all of its memory; nothing
// in it refers to the locked block it was built from. Treat it as immutable.
type Bitmap struct {
	File FileHeader
	Info InfoHeader
	// HeaderTail holds the V4/V5 header fields past the first 40 bytes;
	// nil for a plain BITMAPINFOHEADER.
	HeaderTail []byte
	Encoding   Encoding // nil when the header declares no known encoding
	Colors     []Quad   // table stored after the header; nil when there is none
	Data       []byte
	// Trailer holds the bytes between the payload and the end of a V5 color
	// profile; nil when the header references no profile past the payload.
	Trailer []byte
}

// Unclip reads the CF_DIB format from r. It returns nil, nil when the
// clipboard holds no DIB. The lock is released before Unclip returns.
func Unclip(r clip.Reader) (bm *Bitmap, err error) {
	lock, err := r.Lock(clip.FormatDIB)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", clip.FormatDIB, err)
	}
	if lock == nil {
		return nil, nil
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			bm, err = nil, fmt.Errorf("unlock %s: %w", clip.FormatDIB, uerr)
		}
	}()
	return Decode(lock.Bytes())
}

// Decode builds a Bitmap from a DIB block (info header, table, payload).
// Decoding the same bytes twice yields equal Bitmaps.
func Decode(b []byte) (*Bitmap, error) {
	v, err := NewView(b)
	if err != nil {
		return nil, err
	}
	h := v.Header()

	enc, err := Classify(v)
	if err != nil {
		return nil, err
	}
	hdr, err := v.HeaderLen()
	if err != nil {
		return nil, err
	}
	// Read the table even when the encoding is not decodable so a repackaged
	// file keeps it.
	colors, err := readQuads(v, hdr, h.tableLen(hdr), "color table")
	if err != nil {
		return nil, err
	}

	off := hdr + len(colors)*QuadSize
	size, err := payloadSize(h, v.Len()-off)
	if err != nil {
		return nil, err
	}
	data, err := v.Slice(off, size, "pixel payload")
	if err != nil {
		return nil, err
	}

	var trailer []byte
	pe, err := v.profileEnd(hdr)
	if err != nil {
		return nil, err
	}
	if end := off + size; pe > end {
		trailer = bytes.Clone(b[end:pe])
	}

	var tail []byte
	if hdr > InfoHeaderSize {
		tail = bytes.Clone(b[InfoHeaderSize:hdr])
	}

	return &Bitmap{
		File:       fileHeader(hdr, len(colors), len(data)+len(trailer)),
		Info:       h.Info(),
		HeaderTail: tail,
		Encoding:   enc,
		Colors:     colors,
		Data:       bytes.Clone(data),
		Trailer:    trailer,
	}, nil
}

// StripFileHeader turns a .bmp file into a DIB block. A gap between the
// color table and bfOffBits is cut so that the payload follows the table,
// as it does on the clipboard.
func StripFileHeader(file []byte) ([]byte, error) {
	if len(file) < FileHeaderSize || file[0] != 'B' || file[1] != 'M' {
		return nil, fmt.Errorf("no BM file header: %w", ErrMalformed)
	}
	pix := int(binary.LittleEndian.Uint32(file[10:])) - FileHeaderSize
	b := file[FileHeaderSize:]

	v, err := NewView(b)
	if err != nil {
		return nil, err
	}
	hdr, err := v.HeaderLen()
	if err != nil {
		return nil, err
	}
	start := hdr + int(v.Header().tableLen(hdr))*QuadSize
	switch {
	case pix == start:
		return b, nil
	case pix > len(b):
		return nil, &FormatError{What: "pixel offset", Off: FileHeaderSize, Need: pix, Have: len(b)}
	case pix < start:
		return nil, fmt.Errorf("bfOffBits %d inside header and color table: %w", pix+FileHeaderSize, ErrMalformed)
	}
	out := make([]byte, 0, start+len(b)-pix)
	out = append(out, b[:start]...)
	return append(out, b[pix:]...), nil
}

// payloadSize is the declared image size. Uncompressed rasters may declare
// zero, meaning stride × rows; embedded streams that do so run to the end of
// the block.
func payloadSize(h Header, rest int) (int, error) {
	if n := h.SizeImage(); n != 0 {
		return int(n), nil
	}
	switch h.Compression() {
	case CompressionRGB, CompressionBitFields:
		w, rows := int(h.Width()), int(h.Height())
		if w < 0 {
			return 0, fmt.Errorf("width %d: %w", w, ErrMalformed)
		}
		if rows < 0 {
			rows = -rows
		}
		stride := h.Depth().Stride(w)
		if hi, lo := bits.Mul64(uint64(stride), uint64(rows)); hi != 0 || lo > uint64(rest) {
			need := uint64(1 << 62)
			if hi == 0 {
				need = min(lo, need)
			}
			return 0, &FormatError{What: "pixel rows", Off: InfoHeaderSize, Need: int(need), Have: rest}
		}
		return stride * rows, nil
	case CompressionPNG, CompressionJPEG:
		return max(rest, 0), nil
	}
	return 0, nil
}

func fileHeader(hdr, colors, payload int) FileHeader {
	off := FileHeaderSize + hdr + colors*QuadSize
	return FileHeader{
		Type:    [2]byte{'B', 'M'},
		Size:    uint32(off + payload),
		OffBits: uint32(off),
	}
}

// Width returns the declared width.
func (bm *Bitmap) Width() int { return int(bm.Info.Width) }

// Height returns the number of rows regardless of row order.
func (bm *Bitmap) Height() int {
	if bm.Info.Height < 0 {
		return -int(bm.Info.Height)
	}
	return int(bm.Info.Height)
}

// BottomUp reports whether the payload stores the bottom row first.
func (bm *Bitmap) BottomUp() bool { return bm.Info.Height > 0 }

// HeaderLen returns the size of the info header, V4/V5 fields included.
func (bm *Bitmap) HeaderLen() int { return InfoHeaderSize + len(bm.HeaderTail) }

// Depth returns the declared bits per pixel.
func (bm *Bitmap) Depth() Depth { return DepthOf(bm.Info.BitCount) }

// WriteBMP writes the bitmap as a .bmp file: file header, info header, color
// table, payload and any trailing color profile, all as they came off the
// clipboard.
func (bm *Bitmap) WriteBMP(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, bm.File); err != nil {
		return fmt.Errorf("file header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, bm.Info); err != nil {
		return fmt.Errorf("info header: %w", err)
	}
	if _, err := bw.Write(bm.HeaderTail); err != nil {
		return fmt.Errorf("info header: %w", err)
	}
	if len(bm.Colors) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, bm.Colors); err != nil {
			return fmt.Errorf("color table: %w", err)
		}
	}
	if _, err := bw.Write(bm.Data); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	if _, err := bw.Write(bm.Trailer); err != nil {
		return fmt.Errorf("color profile: %w", err)
	}
	return bw.Flush()
}

// BMP returns the .bmp file bytes.
func (bm *Bitmap) BMP() []byte {
	var buf bytes.Buffer
	buf.Grow(int(bm.File.Size))
	_ = bm.WriteBMP(&buf) // bytes.Buffer does not fail
	return buf.Bytes()
}

// FromSurface wraps a rendered device bitmap as a top-down 32-bit BI_RGB
// DIB so it can be repackaged like any clipboard DIB.
func FromSurface(s *clip.Surface) *Bitmap {
	return &Bitmap{
		File: fileHeader(InfoHeaderSize, 0, len(s.Pix)),
		Info: InfoHeader{
			Size:      InfoHeaderSize,
			Width:     int32(s.Width),
			Height:    -int32(s.Height),
			Planes:    1,
			BitCount:  32,
			SizeImage: uint32(len(s.Pix)),
		},
		Encoding: Indexed{Depth: Depth32},
		Data:     bytes.Clone(s.Pix),
	}
}
