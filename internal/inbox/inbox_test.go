package inbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"image"
	"image/color"
	"image/png"
	"net"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/crypto"
	"go.klb.dev/imgclip/internal/ipc"
	"go.klb.dev/imgclip/internal/message"
	"go.klb.dev/imgclip/internal/sink"
	"go.klb.dev/imgclip/internal/tlsconf"
	"go.klb.dev/imgclip/internal/wire"
)

var stamp = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

type recorder struct{ got chan *capture.Capture }

func newRecorder() *recorder { return &recorder{got: make(chan *capture.Capture, 8)} }

func (r *recorder) Name() string { return "rec" }

func (r *recorder) Store(_ context.Context, c *capture.Capture) error {
	r.got <- c
	return nil
}

func (r *recorder) next(t *testing.T) *capture.Capture {
	t.Helper()
	select {
	case c := <-r.got:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("nothing stored")
		return nil
	}
}

func pngCapture(t *testing.T) *capture.Capture {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &capture.Capture{Time: stamp, MIME: message.MIMEPNG, Ext: ".png", Data: buf.Bytes()}
}

// start serves ln until the test ends.
func start(t *testing.T, srv *Server, ln net.Listener, local bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, local) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not stop")
		}
	})
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestReceiveTCP(t *testing.T) {
	rec := newRecorder()
	srv, err := New(Config{Token: "s3cret", Now: func() time.Time { return stamp }}, rec)
	require.NoError(t, err)
	ln := listen(t)
	start(t, srv, ln, false)

	h, err := sink.NewHub(sink.HubConfig{Addr: ln.Addr().String(), Token: "s3cret", Source: "desk", NoIPC: true})
	require.NoError(t, err)
	sent := pngCapture(t)
	require.NoError(t, h.Store(context.Background(), sent))

	got := rec.next(t)
	assert.Equal(t, capture.KindRemote, got.Kind)
	assert.Equal(t, stamp, got.Time)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 2, got.Height)
	assert.Equal(t, message.MIMEPNG, got.MIME)
	assert.Equal(t, ".png", got.Ext)
	assert.Equal(t, "from desk", got.Encoding)
	assert.Equal(t, sent.Data, got.Data)
}

func TestReceiveTLS(t *testing.T) {
	rec := newRecorder()
	srv, err := New(Config{Token: "s3cret"}, rec)
	require.NoError(t, err)
	cfg, err := tlsconf.ServerConfig("s3cret")
	require.NoError(t, err)
	raw := listen(t)
	start(t, srv, tls.NewListener(raw, cfg), false)

	h, err := sink.NewHub(sink.HubConfig{Addr: raw.Addr().String(), Token: "s3cret", TLS: true, NoIPC: true})
	require.NoError(t, err)
	require.NoError(t, h.Store(context.Background(), pngCapture(t)))
	assert.Equal(t, 3, rec.next(t).Width)
}

func TestReceiveIPC(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("named pipe path is fixed on windows")
	}
	t.Setenv("IMGCLIP_HUB_SOCKET", filepath.Join(t.TempDir(), "hub.sock"))
	rec := newRecorder()
	// The local socket skips auth even when a token is set.
	srv, err := New(Config{Token: "s3cret"}, rec)
	require.NoError(t, err)
	ln, err := ipc.Listen()
	require.NoError(t, err)
	start(t, srv, ln, true)

	h, err := sink.NewHub(sink.HubConfig{Source: "desk"})
	require.NoError(t, err)
	require.NoError(t, h.Store(context.Background(), pngCapture(t)))
	assert.Equal(t, "from desk", rec.next(t).Encoding)
}

func TestReceiveOtherClipboard(t *testing.T) {
	rec := newRecorder()
	srv, err := New(Config{Clipboard: "team"}, rec)
	require.NoError(t, err)
	ln := listen(t)
	start(t, srv, ln, false)

	h, err := sink.NewHub(sink.HubConfig{Addr: ln.Addr().String(), Clipboard: "other", NoIPC: true})
	require.NoError(t, err)
	err = h.Store(context.Background(), pngCapture(t))
	assert.ErrorIs(t, err, sink.ErrRejected)
	assert.ErrorContains(t, err, CodeUnknownClipboard)
	assert.Empty(t, rec.got)
}

// exchange sends msg on a fresh connection and returns the reply.
func exchange(t *testing.T, addr string, key *crypto.Key, msg *message.Message) *message.Message {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	wc := wire.New(conn, key)
	require.NoError(t, wc.WriteMsg(msg))
	wc.SetReadDeadline(5 * time.Second)
	reply, err := wc.ReadMsg()
	require.NoError(t, err)
	return reply
}

func TestReceiveErrors(t *testing.T) {
	key, err := crypto.DeriveKey("s3cret")
	require.NoError(t, err)
	clipboard := message.NewClipboard("desk", "", message.NewBinaryItem("text/plain", []byte("hi")))

	t.Run("clipboard before auth", func(t *testing.T) {
		srv, err := New(Config{Token: "s3cret"}, newRecorder())
		require.NoError(t, err)
		ln := listen(t)
		start(t, srv, ln, false)

		reply := exchange(t, ln.Addr().String(), key, clipboard)
		assert.Equal(t, message.TypeError, reply.Type)
		assert.Equal(t, CodeAuthFailed, reply.Error)
	})
	t.Run("no image item", func(t *testing.T) {
		srv, err := New(Config{}, newRecorder())
		require.NoError(t, err)
		ln := listen(t)
		start(t, srv, ln, false)

		reply := exchange(t, ln.Addr().String(), nil, clipboard)
		assert.Equal(t, message.TypeError, reply.Type)
		assert.Equal(t, CodeNoImage, reply.Error)
	})
}

func TestNewNeedsSink(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
