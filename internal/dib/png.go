package dib

import (
	"fmt"
	"image"
	"image/png"
	"io"
)

// PNGOptions controls EncodePNG.
type PNGOptions struct {
	// Orient writes bottom-up sources top row first.
	Orient bool
	// Compression is passed to the png encoder.
	Compression png.CompressionLevel
}

// Image wraps px as an image.Image: *image.RGBA for opaque RGB buffers (the
// png encoder writes those as 8-bit RGB) and *image.NRGBA for RGBA buffers.
// With orient set, bottom-up rows are flipped.
func (px *Pixels) Image(orient bool) (image.Image, error) {
	if px.Channels != 3 && px.Channels != 4 {
		return nil, fmt.Errorf("dib: %d channels per pixel", px.Channels)
	}
	if len(px.Pix) != px.Width*px.Height*px.Channels {
		return nil, fmt.Errorf("dib: pixel buffer is %d bytes, want %d", len(px.Pix), px.Width*px.Height*px.Channels)
	}
	r := image.Rect(0, 0, px.Width, px.Height)
	var (
		pix    []byte
		stride int
		img    image.Image
	)
	if px.Channels == 3 {
		rgba := image.NewRGBA(r)
		pix, stride, img = rgba.Pix, rgba.Stride, rgba
	} else {
		nrgba := image.NewNRGBA(r)
		pix, stride, img = nrgba.Pix, nrgba.Stride, nrgba
	}

	flip := orient && px.BottomUp
	srcStride := px.Width * px.Channels
	for y := 0; y < px.Height; y++ {
		dy := y
		if flip {
			dy = px.Height - 1 - y
		}
		src := px.Pix[y*srcStride : (y+1)*srcStride]
		dst := pix[dy*stride : dy*stride+px.Width*4]
		if px.Channels == 4 {
			copy(dst, src)
			continue
		}
		for x := 0; x < px.Width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img, nil
}

// EncodePNG writes px as an 8-bit PNG: color type RGB for 3-channel buffers
// and RGBA for 4-channel buffers, even when every pixel is opaque.
func EncodePNG(w io.Writer, px *Pixels, opts PNGOptions) error {
	img, err := px.Image(opts.Orient)
	if err != nil {
		return err
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		img = keepAlpha{nrgba}
	}
	enc := png.Encoder{CompressionLevel: opts.Compression}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("png encode: %w", err)
	}
	return nil
}

// keepAlpha stops the png encoder from dropping the alpha channel of an
// opaque image.
type keepAlpha struct{ *image.NRGBA }

func (keepAlpha) Opaque() bool { return false }
