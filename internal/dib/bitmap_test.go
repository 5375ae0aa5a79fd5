package dib

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"go.klb.dev/imgclip/internal/clip"
)

// wantFile builds the 14-byte file header expected in front of src, whose
// info header is 40 bytes.
func wantFile(src []byte, tableLen int) []byte {
	return wantFileHeader(src, InfoHeaderSize, tableLen)
}

func wantFileHeader(src []byte, hdr, tableLen int) []byte {
	off := FileHeaderSize + hdr + tableLen*QuadSize
	b := []byte{'B', 'M'}
	b = binary.LittleEndian.AppendUint32(b, uint32(FileHeaderSize+len(src)))
	b = binary.LittleEndian.AppendUint32(b, 0)
	return binary.LittleEndian.AppendUint32(b, uint32(off))
}

func TestRepackageRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		block block
		table int
	}{
		{"16-bit bitfields", rgb565(), 3},
		{"24-bit rgb", rgb24(), 0},
		{"32-bit bitfields", bitfields32(), 3},
		{"32-bit rgb", block{width: 1, height: -2, bits: 32, sizeImage: 8, payload: pixels32(1, 2)}, 0},
		{"8-bit paletted", block{width: 3, height: 1, bits: 8, colorsUsed: 2, table: []uint32{0, 0xffffff}, sizeImage: 4, payload: []byte{0, 1, 1, 0}}, 2},
		{"8-bit rle keeps its table", block{width: 2, height: 1, bits: 8, compression: CompressionRLE8, colorsUsed: 2, table: []uint32{0, 0xffffff}, sizeImage: 4, payload: []byte{2, 1, 0, 1}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.block.bytes()
			bm, err := Decode(src)
			require.NoError(t, err)

			out := bm.BMP()
			require.Len(t, out, FileHeaderSize+len(src))
			assert.Equal(t, wantFile(src, tt.table), out[:FileHeaderSize])
			assert.Equal(t, src, out[FileHeaderSize:])
			assert.Equal(t, uint32(len(out)), bm.File.Size)
		})
	}
}

func TestDecode24NoTable(t *testing.T) {
	bm, err := Decode(rgb24().bytes())
	require.NoError(t, err)
	assert.Nil(t, bm.Colors)
	assert.Equal(t, uint32(FileHeaderSize+InfoHeaderSize), bm.File.OffBits)
	assert.Equal(t, 2, bm.Width())
	assert.Equal(t, 2, bm.Height())
	assert.True(t, bm.BottomUp())
	assert.Equal(t, Depth24, bm.Depth())
}

func TestDecodeEmbeddedPNG(t *testing.T) {
	stream := []byte("\x89PNG\r\n\x1a\nrest-of-stream")
	src := block{width: 8, height: 8, compression: CompressionPNG, colorsUsed: 99999, payload: stream}.bytes()

	bm, err := Decode(src)
	require.NoError(t, err)
	assert.Equal(t, EmbeddedPNG{}, bm.Encoding)
	assert.Nil(t, bm.Colors)
	assert.Equal(t, stream, bm.Data)
}

func TestDecodeSizeImageZero(t *testing.T) {
	b := rgb24()
	b.sizeImage = 0
	b.payload = append(b.payload, 0xee, 0xee) // trailing slack
	bm, err := Decode(b.bytes())
	require.NoError(t, err)
	assert.Len(t, bm.Data, 16)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   []byte
		isErr error
	}{
		{
			name:  "size image past end",
			src:   block{width: 2, height: 2, bits: 24, sizeImage: 1 << 20, payload: make([]byte, 16)}.bytes(),
			isErr: ErrTruncated,
		},
		{
			name:  "implied size past end",
			src:   block{width: 100, height: 100, bits: 32, payload: make([]byte, 16)}.bytes(),
			isErr: ErrTruncated,
		},
		{
			name:  "implied size overflows",
			src:   block{width: 0x7fffffff, height: -0x7fffffff, bits: 32, payload: make([]byte, 16)}.bytes(),
			isErr: ErrTruncated,
		},
		{
			name:  "negative width",
			src:   block{width: -4, height: 1, bits: 24, payload: make([]byte, 16)}.bytes(),
			isErr: ErrMalformed,
		},
		{
			name:  "short header",
			src:   make([]byte, 12),
			isErr: ErrTruncated,
		},
		{
			name:  "unknown header size",
			src:   block{width: 1, height: 1, bits: 24, headerSize: 64, payload: make([]byte, 4)}.bytes(),
			isErr: ErrUnsupported,
		},
		{
			name:  "v5 header past end",
			src:   block{width: 1, height: 1, bits: 24, headerSize: V5HeaderSize}.bytes()[:InfoHeaderSize+10],
			isErr: ErrTruncated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm, err := Decode(tt.src)
			assert.Nil(t, bm)
			assert.ErrorIs(t, err, tt.isErr)
		})
	}
}

func TestDecodeOwnsMemory(t *testing.T) {
	src := rgb24().bytes()
	bm, err := Decode(src)
	require.NoError(t, err)
	for i := range src {
		src[i] = 0
	}
	assert.Equal(t, byte(1), bm.Data[0])
}

func TestUnclip(t *testing.T) {
	m := clip.NewMemory()
	m.Set(clip.FormatDIB, bitfields32().bytes())

	cb, err := m.Open()
	require.NoError(t, err)
	defer cb.Close()

	first, err := Unclip(cb)
	require.NoError(t, err)
	second, err := Unclip(cb)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 0, m.Outstanding())
}

func TestUnclipAbsent(t *testing.T) {
	m := clip.NewMemory()
	m.Set(clip.FormatPNG, []byte("png"))
	cb, err := m.Open()
	require.NoError(t, err)
	defer cb.Close()

	bm, err := Unclip(cb)
	require.NoError(t, err)
	assert.Nil(t, bm)
}

func TestUnclipLockError(t *testing.T) {
	boom := errors.New("boom")
	m := clip.NewMemory()
	m.Set(clip.FormatDIB, rgb24().bytes())
	m.FailLocks(boom)
	cb, err := m.Open()
	require.NoError(t, err)
	defer cb.Close()

	_, err = Unclip(cb)
	assert.ErrorIs(t, err, boom)
}

func TestUnclipMalformedReleasesLock(t *testing.T) {
	m := clip.NewMemory()
	m.Set(clip.FormatDIB, block{width: 2, height: 2, bits: 24, sizeImage: 4096}.bytes())
	cb, err := m.Open()
	require.NoError(t, err)
	defer cb.Close()

	_, err = Unclip(cb)
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 0, m.Outstanding())
}

func TestWriteBMPDecodes(t *testing.T) {
	bm, err := Decode(rgb24().bytes())
	require.NoError(t, err)

	img, err := bmp.Decode(bytes.NewReader(bm.BMP()))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	// Bottom-up: the first payload row is the bottom image row; bytes are B,G,R.
	assert.Equal(t, color.RGBA{R: 3, G: 2, B: 1, A: 0xff}, color.RGBAModel.Convert(img.At(0, 1)))
	assert.Equal(t, color.RGBA{R: 12, G: 11, B: 10, A: 0xff}, color.RGBAModel.Convert(img.At(1, 0)))
}

func TestFromSurface(t *testing.T) {
	s := &clip.Surface{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 0, 4, 5, 6, 0}}
	bm := FromSurface(s)
	assert.Equal(t, 2, bm.Width())
	assert.Equal(t, 1, bm.Height())
	assert.False(t, bm.BottomUp())

	again, err := Decode(bm.BMP()[FileHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, bm, again)
}

func TestDecodeV5Header(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 0, 0}
	src := block{
		width: 2, height: 1, bits: 24,
		headerSize: V5HeaderSize, tail: v5Tail(0xEE),
		payload: payload,
	}.bytes()

	bm, err := Decode(src)
	require.NoError(t, err)
	assert.Equal(t, payload, bm.Data)
	assert.Equal(t, V5HeaderSize, bm.HeaderLen())
	assert.Nil(t, bm.Colors)
	assert.Nil(t, bm.Trailer)

	px, err := bm.Pixels()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, px.Pix)

	out := bm.BMP()
	assert.Equal(t, wantFileHeader(src, V5HeaderSize, 0), out[:FileHeaderSize])
	assert.Equal(t, src, out[FileHeaderSize:])

	img, err := bmp.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 3, G: 2, B: 1, A: 0xff}, color.RGBAModel.Convert(img.At(0, 0)))
}

func TestDecodeV5BitFields(t *testing.T) {
	// V4/V5 headers carry the masks at offset 40; no table follows.
	tail := v5Tail(0)
	for i, m := range masks32 {
		binary.LittleEndian.PutUint32(tail[i*4:], m)
	}
	src := block{
		width: 1, height: 1, bits: 32,
		compression: CompressionBitFields,
		headerSize:  V4HeaderSize, tail: tail,
		payload: pixels32(0x11223344),
	}.bytes()

	bm, err := Decode(src)
	require.NoError(t, err)
	assert.Nil(t, bm.Colors)
	assert.Equal(t, QuadOf(0xFF000000), bm.Encoding.(ChannelMask).Masks[0])

	px, err := bm.Pixels()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, px.Pix)
	assert.Equal(t, src, bm.BMP()[FileHeaderSize:])
}

func TestDecodeV5Profile(t *testing.T) {
	payload := []byte{1, 2, 3, 0}
	profile := []byte("icc!")
	tail := v5Tail(0)
	binary.LittleEndian.PutUint32(tail[56-InfoHeaderSize:], profileEmbedded)
	binary.LittleEndian.PutUint32(tail[112-InfoHeaderSize:], uint32(V5HeaderSize+len(payload)))
	binary.LittleEndian.PutUint32(tail[116-InfoHeaderSize:], uint32(len(profile)))
	src := block{
		width: 1, height: 1, bits: 24,
		sizeImage:  uint32(len(payload)),
		headerSize: V5HeaderSize, tail: tail,
		payload: append(append([]byte{}, payload...), profile...),
	}.bytes()

	bm, err := Decode(src)
	require.NoError(t, err)
	assert.Equal(t, payload, bm.Data)
	assert.Equal(t, profile, bm.Trailer)
	assert.Equal(t, src, bm.BMP()[FileHeaderSize:])
	assert.Equal(t, uint32(FileHeaderSize+len(src)), bm.File.Size)

	// A profile that runs past the block is truncation.
	binary.LittleEndian.PutUint32(src[116:], 64)
	_, err = Decode(src)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestStripFileHeader(t *testing.T) {
	bm, err := Decode(rgb565().bytes())
	require.NoError(t, err)
	file := bm.BMP()

	got, err := StripFileHeader(file)
	require.NoError(t, err)
	assert.Equal(t, rgb565().bytes(), got)

	t.Run("gap before pixels", func(t *testing.T) {
		src := rgb24().bytes()
		off := FileHeaderSize + InfoHeaderSize + 6
		gapped := append(wantFileHeader(src, InfoHeaderSize+6, 0), src[:InfoHeaderSize]...)
		gapped = append(gapped, make([]byte, 6)...)
		gapped = append(gapped, src[InfoHeaderSize:]...)
		require.Equal(t, uint32(off), binary.LittleEndian.Uint32(gapped[10:]))

		got, err := StripFileHeader(gapped)
		require.NoError(t, err)
		assert.Equal(t, src, got)
	})

	t.Run("offset inside header", func(t *testing.T) {
		bad := bytes.Clone(file)
		binary.LittleEndian.PutUint32(bad[10:], FileHeaderSize+8)
		_, err := StripFileHeader(bad)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("offset past end", func(t *testing.T) {
		bad := bytes.Clone(file)
		binary.LittleEndian.PutUint32(bad[10:], 1<<20)
		_, err := StripFileHeader(bad)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	_, err = StripFileHeader(rgb24().bytes())
	assert.ErrorIs(t, err, ErrMalformed)
}
