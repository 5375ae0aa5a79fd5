package dib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/imgclip/internal/clip"
)

func pixelsOf(t *testing.T, b block) *Pixels {
	t.Helper()
	bm, err := Decode(b.bytes())
	require.NoError(t, err)
	px, err := bm.Pixels()
	require.NoError(t, err)
	return px
}

func TestPixelsBitFields32(t *testing.T) {
	px := pixelsOf(t, bitfields32())
	assert.Equal(t, 3, px.Channels)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0xAA, 0xBB, 0xCC}, px.Pix)
}

func TestPixelsBitFields565(t *testing.T) {
	px := pixelsOf(t, rgb565())
	assert.Equal(t, 3, px.Width)
	assert.Equal(t, []byte{
		255, 0, 0,
		0, 255, 0,
		0, 0, 255,
	}, px.Pix)
}

func TestPixelsRGB16(t *testing.T) {
	payload := pixels16(0x7C00, 0x03E0)
	px := pixelsOf(t, block{width: 2, height: 1, bits: 16, sizeImage: 4, payload: payload})
	assert.Equal(t, []byte{255, 0, 0, 0, 255, 0}, px.Pix)
}

func TestPixelsRGB24DropsPadding(t *testing.T) {
	px := pixelsOf(t, rgb24())
	assert.Equal(t, 2, px.Width)
	assert.Equal(t, 2, px.Height)
	assert.True(t, px.BottomUp)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, px.Pix)
}

func TestPixelsRGB32FixedMasks(t *testing.T) {
	px := pixelsOf(t, block{width: 1, height: -1, bits: 32, sizeImage: 4, payload: pixels32(0x11223344)})
	assert.False(t, px.BottomUp)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, px.Pix)
}

func TestPixelsUnsupported(t *testing.T) {
	tests := []struct {
		name  string
		block block
	}{
		{"paletted", block{width: 4, height: 1, bits: 8, colorsUsed: 1, table: []uint32{0}, sizeImage: 4, payload: make([]byte, 4)}},
		{"embedded png", block{width: 1, height: 1, compression: CompressionPNG, payload: []byte("\x89PNG")}},
		{"embedded jpeg", block{width: 1, height: 1, compression: CompressionJPEG, payload: []byte{0xff, 0xd8}}},
		{"rle8", block{width: 1, height: 1, bits: 8, compression: CompressionRLE8, colorsUsed: 1, table: []uint32{0}, sizeImage: 2, payload: []byte{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm, err := Decode(tt.block.bytes())
			require.NoError(t, err)
			_, err = bm.Pixels()
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestReconstructBounds(t *testing.T) {
	// Two 24-bit rows of width 2: stride 8, last row may skip its padding.
	_, err := Reconstruct(make([]byte, 14), 2, 2, Passthrough24)
	require.NoError(t, err)

	_, err = Reconstruct(make([]byte, 13), 2, 2, Passthrough24)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Reconstruct(make([]byte, 16), -2, 2, Passthrough24)
	assert.ErrorIs(t, err, ErrMalformed)

	px, err := Reconstruct(nil, 0, 0, Passthrough24)
	require.NoError(t, err)
	assert.Empty(t, px.Pix)
}

func TestChannelExtract(t *testing.T) {
	tests := []struct {
		mask uint32
		v    uint32
		want uint8
	}{
		{0x1F, 0, 0},
		{0x1F, 31, 255},
		{0x1F, 16, 132},
		{0x3F, 63, 255},
		{0x3F, 32, 130},
		{0x01, 1, 255},
		{0xFF00, 0xAB, 0xAB},
		{0x3FF, 0x3FF, 0xFF},
		{0, 0, 0},
	}
	for _, tt := range tests {
		c := newChannel(tt.mask)
		assert.Equal(t, tt.want, c.extract(tt.v<<c.shift), "mask %#x value %#x", tt.mask, tt.v)
	}
}

func TestMasksFrom(t *testing.T) {
	p, err := MasksFrom(ChannelMask{Depth: Depth16, Masks: [3]Quad{QuadOf(0xF800), QuadOf(0x07E0), QuadOf(0x001F)}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.BytesPerPixel())
	assert.Equal(t, [3]uint32{Masks565.Red, Masks565.Green, Masks565.Blue}, [3]uint32{p.Red, p.Green, p.Blue})

	_, err = MasksFrom(ChannelMask{Depth: Depth24})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSurfacePixels(t *testing.T) {
	t.Run("zero alpha is opaque", func(t *testing.T) {
		px, err := SurfacePixels(&clip.Surface{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 0, 4, 5, 6, 0}})
		require.NoError(t, err)
		assert.Equal(t, 4, px.Channels)
		assert.False(t, px.BottomUp)
		assert.Equal(t, []byte{3, 2, 1, 255, 6, 5, 4, 255}, px.Pix)
	})
	t.Run("alpha kept", func(t *testing.T) {
		px, err := SurfacePixels(&clip.Surface{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 0x80, 4, 5, 6, 0}})
		require.NoError(t, err)
		assert.Equal(t, []byte{3, 2, 1, 0x80, 6, 5, 4, 0}, px.Pix)
	})
}
