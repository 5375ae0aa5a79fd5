package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"go.klb.dev/imgclip/internal/capture"
	"go.klb.dev/imgclip/internal/crypto"
	"go.klb.dev/imgclip/internal/ipc"
	"go.klb.dev/imgclip/internal/message"
	"go.klb.dev/imgclip/internal/tlsconf"
	"go.klb.dev/imgclip/internal/wire"
)

const defaultDialTimeout = 5 * time.Second

// ErrRejected is returned when the hub answers a publish with ERROR.
var ErrRejected = errors.New("hub rejected publish")

// HubConfig configures a Hub sink.
type HubConfig struct {
	// Addr is the hub's TCP address. Empty means IPC only.
	Addr string
	// Token is the shared secret. When set the TCP session authenticates
	// and every message is encrypted.
	Token string
	// Source identifies this host to the hub.
	Source string
	// Clipboard is the hub namespace; message.DefaultClipboard when empty.
	Clipboard string
	// TLS wraps the TCP session in TLS pinned to the token-derived key.
	TLS bool
	// NoIPC skips the local socket check.
	NoIPC       bool
	DialTimeout time.Duration
}

// Hub publishes captures to a clipboard hub as CLIPBOARD messages. A hub
// daemon on the local IPC socket is preferred; otherwise it dials Addr.
type Hub struct {
	cfg HubConfig
	key *crypto.Key
	tls *tls.Config
}

// NewHub derives the session key up front so a bad token fails at startup.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Addr == "" && cfg.NoIPC {
		return nil, fmt.Errorf("hub sink: no address and IPC disabled")
	}
	if cfg.Clipboard == "" {
		cfg.Clipboard = message.DefaultClipboard
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	key, err := crypto.KeyFor(cfg.Token)
	if err != nil {
		return nil, err
	}
	h := &Hub{cfg: cfg, key: key}
	if cfg.TLS {
		pass := cfg.Token
		if pass == "" {
			pass = tlsconf.DefaultPassphrase
		}
		if h.tls, err = tlsconf.ClientConfig(pass); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hub) Name() string {
	if h.cfg.Addr == "" {
		return "hub:ipc"
	}
	return "hub:" + h.cfg.Addr
}

// Store sends c as one CLIPBOARD message.
func (h *Hub) Store(ctx context.Context, c *capture.Capture) error {
	msg := message.NewClipboard(h.cfg.Source, h.cfg.Clipboard, message.NewBinaryItem(c.MIME, c.Data))

	// Try local daemon first
	if !h.cfg.NoIPC && ipc.IsRunning() {
		err := h.sendIPC(msg)
		if err == nil {
			return nil
		}
		if h.cfg.Addr == "" {
			return fmt.Errorf("ipc: %w", err)
		}
		slog.Warn("ipc publish failed, falling back to tcp", "err", err)
	}
	if h.cfg.Addr == "" {
		return fmt.Errorf("no hub listening on %s", ipc.SocketPath())
	}
	return h.sendTCP(ctx, msg)
}

// The socket is local and owner-restricted, so IPC needs no auth.
func (h *Hub) sendIPC(msg *message.Message) error {
	conn, err := ipc.Dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.New(conn, nil).WriteMsg(msg)
}

func (h *Hub) sendTCP(ctx context.Context, msg *message.Message) error {
	d := net.Dialer{Timeout: h.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", h.cfg.Addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", h.cfg.Addr, err)
	}
	defer conn.Close()

	if h.tls != nil {
		tc := tls.Client(conn, h.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("tls %s: %w", h.cfg.Addr, err)
		}
		conn = tc
	}

	wc := wire.New(conn, h.key)
	if h.cfg.Token != "" {
		if err := wc.WriteMsg(message.NewAuth(h.cfg.Source, h.cfg.Token)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := wc.WriteMsg(msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return h.replies(conn, wc)
}

// replies half-closes the session and reads until the hub hangs up. An
// ERROR reply (a bad token, say) fails the publish; silence does not.
func (h *Hub) replies(conn net.Conn, wc *wire.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	wc.SetReadDeadline(h.cfg.DialTimeout)
	for {
		msg, err := wc.ReadMsg()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
				slog.Debug("hub reply unreadable", "addr", h.cfg.Addr, "err", err)
			}
			return nil
		}
		if msg.Type == message.TypeError {
			return fmt.Errorf("%w: %s", ErrRejected, msg.Error)
		}
		slog.Debug("hub reply ignored", "type", msg.Type)
	}
}
