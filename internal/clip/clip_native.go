//go:build darwin || linux

package clip

import (
	"context"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"
)

// nativeBackend reads images through golang.design/x/clipboard. Neither
// macOS nor X11/Wayland carry DIBs, so only FormatPNG is ever present.
type nativeBackend struct {
	mu      sync.Mutex // serialises sessions
	watchCh chan struct{}
	cancel  context.CancelFunc
}

// New returns the clipboard backend for this platform, or a headless no-op
// backend if the display environment is unavailable. clipboard.Init is
// called here rather than in init() so that commands that never construct a
// Backend (convert, inspect) don't log spurious warnings on headless systems.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return newHeadless()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &nativeBackend{
		watchCh: make(chan struct{}, 1),
		cancel:  cancel,
	}
	go b.watch(ctx)
	return b
}

func (b *nativeBackend) Name() string { return "native clipboard (" + nativeName + ")" }

func (b *nativeBackend) watch(ctx context.Context) {
	for range clipboard.Watch(ctx, clipboard.FmtImage) {
		select {
		case b.watchCh <- struct{}{}:
		default:
		}
	}
}

func (b *nativeBackend) Open() (Clipboard, error) {
	b.mu.Lock()
	return &nativeClipboard{unlock: b.mu.Unlock}, nil
}

// WriteText waits for any open session, then publishes text as the only
// clipboard content.
func (b *nativeBackend) WriteText(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

func (b *nativeBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *nativeBackend) Close()                 { b.cancel() }

type nativeClipboard struct {
	unlock func()
	once   sync.Once
}

func (c *nativeClipboard) Lock(f Format) (*Lock, error) {
	if f != FormatPNG {
		return nil, nil
	}
	data := clipboard.Read(clipboard.FmtImage)
	if data == nil {
		return nil, nil
	}
	return NewLock(data, nil), nil
}

func (c *nativeClipboard) Formats() ([]Format, error) {
	if clipboard.Read(clipboard.FmtImage) != nil {
		return []Format{FormatPNG}, nil
	}
	return nil, nil
}

func (c *nativeClipboard) Close() error {
	c.once.Do(c.unlock)
	return nil
}
