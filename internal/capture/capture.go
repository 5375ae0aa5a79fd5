// Package capture turns clipboard contents into encoded images and hands
// them to sinks.
//
// A capture opens the clipboard, takes owned copies of the first image
// format present, closes the clipboard, and only then encodes. The
// clipboard is never held across encoding or sink I/O.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"golang.org/x/image/bmp"

	"go.klb.dev/imgclip/internal/clip"
	"go.klb.dev/imgclip/internal/dib"
	"go.klb.dev/imgclip/internal/message"
)

// Kind names the clipboard format a capture was read from.
type Kind string

const (
	KindDIB    Kind = "dib"    // CF_DIB
	KindBitmap Kind = "bitmap" // CF_BITMAP rendered through the device
	KindPNG    Kind = "png"    // encoded PNG stream
	KindRemote Kind = "remote" // published by another host
)

// Format is the container captures are written in.
type Format string

const (
	FormatPNG Format = "png"
	FormatBMP Format = "bmp"
)

// ParseFormat validates a container name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatPNG, FormatBMP:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want png or bmp)", s)
}

// Capture is one encoded clipboard image.
type Capture struct {
	Time     time.Time
	Kind     Kind
	Width    int
	Height   int
	Depth    dib.Depth // zero when the source was not a DIB
	Encoding string    // classified DIB encoding, for logs
	MIME     string
	Ext      string
	Data     []byte
}

// Sink stores captures.
type Sink interface {
	Name() string
	Store(ctx context.Context, c *Capture) error
}

// Locator is implemented by sinks that can say where a stored capture
// ended up, such as a file path.
type Locator interface {
	Location(c *Capture) string
}

// Options controls encoding.
type Options struct {
	Format Format
	PNG    dib.PNGOptions
	// CopyLocation replaces the clipboard image with the location reported
	// by the first Locator sink that stored it.
	CopyLocation bool
	// Now stamps captures; time.Now when nil.
	Now func() time.Time
}

// Pipeline reads the clipboard of one backend into a set of sinks.
type Pipeline struct {
	backend clip.Backend
	sinks   []Sink
	opts    Options

	last []byte
}

// New creates a pipeline. It does not start watching.
func New(backend clip.Backend, opts Options, sinks ...Sink) *Pipeline {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{backend: backend, sinks: sinks, opts: opts}
}

// snapshot holds owned copies taken while the clipboard was open.
type snapshot struct {
	kind    Kind
	bitmap  *dib.Bitmap
	surface *clip.Surface
	png     []byte
}

// read opens the clipboard, copies the first image format found (DIB, then
// device bitmap, then PNG) and closes it again. It returns nil, nil when the
// clipboard holds no image.
func (p *Pipeline) read() (snap *snapshot, err error) {
	cb, err := p.backend.Open()
	if err != nil {
		return nil, fmt.Errorf("open clipboard: %w", err)
	}
	defer func() {
		if cerr := cb.Close(); cerr != nil && err == nil {
			snap, err = nil, fmt.Errorf("close clipboard: %w", cerr)
		}
	}()

	bm, err := dib.Unclip(cb)
	if err != nil {
		return nil, err
	}
	if bm != nil {
		return &snapshot{kind: KindDIB, bitmap: bm}, nil
	}

	if sr, ok := cb.(clip.SurfaceReader); ok {
		s, err := sr.Surface()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", clip.FormatBitmap, err)
		}
		if s != nil {
			return &snapshot{kind: KindBitmap, surface: s}, nil
		}
	}

	lock, err := cb.Lock(clip.FormatPNG)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", clip.FormatPNG, err)
	}
	if lock == nil {
		return nil, nil
	}
	data := bytes.Clone(lock.Bytes())
	if err := lock.Unlock(); err != nil {
		return nil, fmt.Errorf("unlock %s: %w", clip.FormatPNG, err)
	}
	return &snapshot{kind: KindPNG, png: data}, nil
}

// encode builds the capture for snap in the configured container.
func (p *Pipeline) encode(snap *snapshot) (*Capture, error) {
	c := &Capture{Time: p.opts.Now(), Kind: snap.kind}
	var err error
	switch snap.kind {
	case KindDIB:
		err = p.encodeDIB(c, snap.bitmap)
	case KindBitmap:
		err = p.encodeSurface(c, snap.surface)
	case KindPNG:
		err = p.encodePNGStream(c, snap.png)
	default:
		err = fmt.Errorf("unknown capture kind %q", snap.kind)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Pipeline) encodeDIB(c *Capture, bm *dib.Bitmap) error {
	c.Width, c.Height, c.Depth = bm.Width(), bm.Height(), bm.Depth()
	c.Encoding = describe(bm)

	if p.opts.Format == FormatBMP {
		c.setBMP(bm.BMP())
		return nil
	}
	switch bm.Encoding.(type) {
	case dib.EmbeddedPNG:
		c.setPNG(bm.Data)
		return nil
	case dib.EmbeddedJPEG:
		c.MIME, c.Ext, c.Data = message.MIMEJPEG, ".jpg", bm.Data
		return nil
	}

	px, err := bm.Pixels()
	if errors.Is(err, dib.ErrUnsupported) {
		slog.Warn("no pixel reconstruction, keeping bitmap as .bmp", "encoding", c.Encoding, "err", err)
		c.setBMP(bm.BMP())
		return nil
	}
	if err != nil {
		return err
	}
	return c.encodePixels(px, p.opts.PNG)
}

func (p *Pipeline) encodeSurface(c *Capture, s *clip.Surface) error {
	c.Width, c.Height, c.Depth = s.Width, s.Height, dib.Depth32
	c.Encoding = "device bitmap"

	if p.opts.Format == FormatBMP {
		c.setBMP(dib.FromSurface(s).BMP())
		return nil
	}
	px, err := dib.SurfacePixels(s)
	if err != nil {
		return err
	}
	return c.encodePixels(px, p.opts.PNG)
}

func (p *Pipeline) encodePNGStream(c *Capture, data []byte) error {
	c.Encoding = "png stream"
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("clipboard png: %w", err)
	}
	c.Width, c.Height = cfg.Width, cfg.Height

	if p.opts.Format == FormatPNG {
		c.setPNG(data)
		return nil
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("clipboard png: %w", err)
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return fmt.Errorf("bmp encode: %w", err)
	}
	c.setBMP(buf.Bytes())
	return nil
}

func (c *Capture) encodePixels(px *dib.Pixels, opts dib.PNGOptions) error {
	var buf bytes.Buffer
	if err := dib.EncodePNG(&buf, px, opts); err != nil {
		return err
	}
	c.setPNG(buf.Bytes())
	return nil
}

func (c *Capture) setPNG(b []byte) { c.MIME, c.Ext, c.Data = message.MIMEPNG, ".png", b }
func (c *Capture) setBMP(b []byte) { c.MIME, c.Ext, c.Data = message.MIMEBMP, ".bmp", b }

func describe(bm *dib.Bitmap) string {
	if bm.Encoding == nil {
		return fmt.Sprintf("unrecognised (%s, %s)", dib.CompressionName(bm.Info.Compression), bm.Depth())
	}
	return bm.Encoding.String()
}

// Capture reads and encodes the current clipboard image without storing
// it. It returns nil, nil when the clipboard holds no image.
func (p *Pipeline) Capture() (*Capture, error) {
	snap, err := p.read()
	if err != nil || snap == nil {
		return nil, err
	}
	return p.encode(snap)
}

// Once captures the current clipboard image and stores it in every sink.
// It returns nil, nil when the clipboard holds no image. A later Run skips
// the same image. A failing sink
// does not stop the others; their errors are joined.
func (p *Pipeline) Once(ctx context.Context) (*Capture, error) {
	c, err := p.Capture()
	if err != nil || c == nil {
		return nil, err
	}
	p.last = c.Data
	LogCapture("clipboard captured", c)
	return c, p.store(ctx, c)
}

func (p *Pipeline) store(ctx context.Context, c *Capture) error {
	var (
		errs []error
		loc  string
	)
	for _, s := range p.sinks {
		if err := s.Store(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		slog.Debug("capture stored", "sink", s.Name(), "bytes", len(c.Data))
		if l, ok := s.(Locator); ok && loc == "" {
			loc = l.Location(c)
		}
	}
	if p.opts.CopyLocation && loc != "" {
		if err := p.backend.WriteText(loc); err != nil {
			errs = append(errs, fmt.Errorf("copy location: %w", err))
		} else {
			// The image is off the clipboard now; copying it again is a new capture.
			p.last = nil
			slog.Info("location copied to clipboard", "location", loc)
		}
	}
	return errors.Join(errs...)
}

// Run captures on every clipboard change until ctx is done. Failures are
// logged and the loop continues. An image identical to the previous one is
// skipped.
func (p *Pipeline) Run(ctx context.Context) error {
	slog.Info("watching clipboard", "backend", p.backend.Name(), "format", p.opts.Format)

	watch := p.backend.Watch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watch:
		}

		c, err := p.Capture()
		if err != nil {
			slog.Error("clipboard capture failed", "err", err)
			continue
		}
		if c == nil {
			slog.Debug("clipboard changed, no image")
			continue
		}
		if bytes.Equal(c.Data, p.last) {
			slog.Debug("clipboard image unchanged, skipping")
			continue
		}
		p.last = c.Data

		LogCapture("clipboard captured", c)
		if err := p.store(ctx, c); err != nil {
			slog.Error("capture store failed", "err", err)
		}
	}
}
