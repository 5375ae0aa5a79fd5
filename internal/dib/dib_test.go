package dib

import (
	"bytes"
	"encoding/binary"
)

// block describes a synthetic clipboard DIB.
type block struct {
	width, height int32
	bits          uint16
	compression   uint32
	colorsUsed    uint32
	sizeImage     uint32
	table         []uint32
	payload       []byte

	// headerSize is biSize; 0 means InfoHeaderSize. Bytes past the first
	// 40 come from tail, zero-filled.
	headerSize uint32
	tail       []byte
}

func (s block) bytes() []byte {
	size := s.headerSize
	if size == 0 {
		size = InfoHeaderSize
	}
	b := make([]byte, InfoHeaderSize)
	binary.LittleEndian.PutUint32(b[0:], size)
	binary.LittleEndian.PutUint32(b[4:], uint32(s.width))
	binary.LittleEndian.PutUint32(b[8:], uint32(s.height))
	binary.LittleEndian.PutUint16(b[12:], 1)
	binary.LittleEndian.PutUint16(b[14:], s.bits)
	binary.LittleEndian.PutUint32(b[16:], s.compression)
	binary.LittleEndian.PutUint32(b[20:], s.sizeImage)
	binary.LittleEndian.PutUint32(b[24:], 2835)
	binary.LittleEndian.PutUint32(b[28:], 2835)
	binary.LittleEndian.PutUint32(b[32:], s.colorsUsed)
	if size > InfoHeaderSize {
		tail := make([]byte, size-InfoHeaderSize)
		copy(tail, s.tail)
		b = append(b, tail...)
	}
	for _, q := range s.table {
		b = binary.LittleEndian.AppendUint32(b, q)
	}
	return append(b, s.payload...)
}

// pixels32 packs DWORD pixels little-endian.
func pixels32(px ...uint32) []byte {
	var b []byte
	for _, p := range px {
		b = binary.LittleEndian.AppendUint32(b, p)
	}
	return b
}

// pixels16 packs WORD pixels little-endian.
func pixels16(px ...uint16) []byte {
	var b []byte
	for _, p := range px {
		b = binary.LittleEndian.AppendUint16(b, p)
	}
	return b
}

var (
	masks32 = []uint32{0xFF000000, 0x00FF0000, 0x0000FF00}
	masks16 = []uint32{0xF800, 0x07E0, 0x001F}
)

// bitfields32 is a 2x1 BI_BITFIELDS block in the high-byte-per-channel layout.
func bitfields32() block {
	payload := pixels32(0x11223344, 0xAABBCCDD)
	return block{
		width: 2, height: 1, bits: 32,
		compression: CompressionBitFields,
		sizeImage:   uint32(len(payload)),
		table:       masks32,
		payload:     payload,
	}
}

// rgb24 is a 2x2 bottom-up BI_RGB block; rows carry two bytes of padding.
func rgb24() block {
	payload := []byte{
		1, 2, 3, 4, 5, 6, 0, 0,
		7, 8, 9, 10, 11, 12, 0, 0,
	}
	return block{
		width: 2, height: 2, bits: 24,
		compression: CompressionRGB,
		sizeImage:   uint32(len(payload)),
		payload:     payload,
	}
}

// rgb565 is a 3x1 BI_BITFIELDS block; the row is padded to 8 bytes.
func rgb565() block {
	payload := append(pixels16(0xF800, 0x07E0, 0x001F), 0, 0)
	return block{
		width: 3, height: 1, bits: 16,
		compression: CompressionBitFields,
		sizeImage:   uint32(len(payload)),
		table:       masks16,
		payload:     payload,
	}
}

// v5Tail returns the V5 fields past the first 40 header bytes with every
// byte set to fill, so misplaced reads show up as fill values.
func v5Tail(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, V5HeaderSize-InfoHeaderSize)
}
