// Package inbox accepts captures that other imgclip hosts publish and hands
// them to local sinks. It speaks the hub side of the protocol the hub sink
// dials: an AUTH when a token is set, then CLIPBOARD messages.
package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net"
	"time"

	_ "golang.org/x/image/bmp"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/crypto"
	"go.klb.dev/imgclip/internal/message"
	"go.klb.dev/imgclip/internal/wire"
)

const authTimeout = 10 * time.Second

// Codes carried in ERROR replies.
const (
	CodeAuthFailed       = "auth_failed"
	CodeUnknownClipboard = "unknown_clipboard"
	CodeNoImage          = "no_image"
	CodeStoreFailed      = "store_failed"
)

// Preferred item when a message carries more than one image.
var imageMIMEs = []string{message.MIMEPNG, message.MIMEBMP, message.MIMEJPEG}

var extensions = map[string]string{
	message.MIMEPNG:  ".png",
	message.MIMEBMP:  ".bmp",
	message.MIMEJPEG: ".jpg",
}

// Config configures a Server.
type Config struct {
	// Token must match the publisher's. Empty accepts anyone, unencrypted.
	Token string
	// Clipboard restricts the accepted namespace; empty accepts all.
	Clipboard string
	// Now stamps received captures; time.Now when nil.
	Now func() time.Time
}

// Server stores every image it receives in all of its sinks.
type Server struct {
	cfg   Config
	key   *crypto.Key
	sinks []capture.Sink
}

// New derives the session key up front so a bad token fails at startup.
func New(cfg Config, sinks ...capture.Sink) (*Server, error) {
	if len(sinks) == 0 {
		return nil, errors.New("inbox: no sinks")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	key, err := crypto.KeyFor(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, key: key, sinks: sinks}, nil
}

// Serve accepts publishers on ln until ctx is done. Connections on a local
// listener (the IPC socket) skip AUTH and encryption.
func (s *Server) Serve(ctx context.Context, ln net.Listener, local bool) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		go s.handle(ctx, conn, local)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn, local bool) {
	defer conn.Close()
	log := slog.With("peer", conn.RemoteAddr().String())

	key := s.key
	if local {
		key = nil
	}
	wc := wire.New(conn, key)

	if !local && s.cfg.Token != "" {
		wc.SetReadDeadline(authTimeout)
		msg, err := wc.ReadMsg()
		if err != nil {
			log.Warn("auth read failed", "err", err)
			return
		}
		wc.SetReadDeadline(0)

		tok, err := msg.Token()
		if err != nil || msg.Type != message.TypeAuth || tok != s.cfg.Token {
			log.Warn("auth failed")
			reject(conn, wc, CodeAuthFailed)
			return
		}
		log = log.With("source", msg.Source)
		log.Info("authenticated")
	}

	for {
		msg, err := wc.ReadMsg()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Info("connection closed", "err", err)
			}
			return
		}
		if msg.Type != message.TypeClipboard {
			log.Warn("unexpected message type", "type", msg.Type)
			continue
		}
		if code, err := s.receive(ctx, msg); err != nil {
			log.Warn("capture not stored", "clipboard", msg.ClipboardOf(), "err", err)
			if werr := wc.WriteMsg(&message.Message{Type: message.TypeError, Error: code}); werr != nil {
				return
			}
		}
	}
}

// reject answers with code, then drains what the publisher already sent so
// the close does not reset the connection before the reply is read.
func reject(conn net.Conn, wc *wire.Conn, code string) {
	if err := wc.WriteMsg(&message.Message{Type: message.TypeError, Error: code}); err != nil {
		return
	}
	wc.SetReadDeadline(authTimeout)
	_, _ = io.Copy(io.Discard, conn)
}

// receive stores the image msg carries. On failure it also returns the
// code to send back.
func (s *Server) receive(ctx context.Context, msg *message.Message) (string, error) {
	if s.cfg.Clipboard != "" && msg.ClipboardOf() != s.cfg.Clipboard {
		return CodeUnknownClipboard, fmt.Errorf("clipboard %q not accepted", msg.ClipboardOf())
	}
	c, err := s.capture(msg)
	if err != nil {
		return CodeNoImage, err
	}
	capture.LogCapture("capture received", c)

	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Store(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sk.Name(), err))
			continue
		}
		slog.Debug("capture stored", "sink", sk.Name(), "bytes", len(c.Data))
	}
	if err := errors.Join(errs...); err != nil {
		return CodeStoreFailed, err
	}
	return "", nil
}

// capture builds a Capture from the first image item in msg.
func (s *Server) capture(msg *message.Message) (*capture.Capture, error) {
	for _, mime := range imageMIMEs {
		it, ok := msg.Item(mime)
		if !ok {
			continue
		}
		data, err := it.Decode()
		if err != nil {
			return nil, fmt.Errorf("%s item: %w", mime, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s item: %w", mime, err)
		}
		return &capture.Capture{
			Time:     s.cfg.Now(),
			Kind:     capture.KindRemote,
			Width:    cfg.Width,
			Height:   cfg.Height,
			Encoding: "from " + msg.Source,
			MIME:     mime,
			Ext:      extensions[mime],
			Data:     data,
		}, nil
	}
	return nil, errors.New("message carries no image")
}
