// Package clip provides scoped, format-tagged access to the system clipboard.
// Build constraints select the platform implementation:
//
//	clip_windows.go  — Windows via user32/kernel32/gdi32 (golang.org/x/sys/windows)
//	clip_native.go   — macOS and Linux via golang.design/x/clipboard (PNG only)
//	clip_other.go    — headless stub for every other platform
//
// clip_memory.go is an in-memory backend available on every platform; the
// convert command and the tests drive the capture pipeline through it.
package clip

import (
	"errors"
	"fmt"
	"sync"
)

// Format is a platform clipboard format tag. Values are passed through
// unchanged; only the handful imgclip reads are named here.
type Format uint32

const (
	FormatBitmap      Format = 2  // CF_BITMAP
	FormatDIB         Format = 8  // CF_DIB
	FormatUnicodeText Format = 13 // CF_UNICODETEXT
	FormatDIBV5       Format = 17 // CF_DIBV5

	// FormatPNG stands for an encoded PNG stream. Windows maps it to the
	// registered "PNG" format at runtime; registered ids are 16-bit, so this
	// value cannot collide with one.
	FormatPNG Format = 1 << 16
)

func (f Format) String() string {
	switch f {
	case FormatBitmap:
		return "CF_BITMAP"
	case FormatDIB:
		return "CF_DIB"
	case FormatUnicodeText:
		return "CF_UNICODETEXT"
	case FormatDIBV5:
		return "CF_DIBV5"
	case FormatPNG:
		return "PNG"
	default:
		return fmt.Sprintf("format(%d)", uint32(f))
	}
}

// ErrBusy is returned by Open when the clipboard is held by another owner.
var ErrBusy = errors.New("clipboard busy")

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Open acquires the clipboard exclusively. The caller must Close the
	// returned Clipboard promptly; other applications block until it does.
	Open() (Clipboard, error)

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed and coalesces bursts.
	Watch() <-chan struct{}

	// WriteText replaces the clipboard contents with text.
	WriteText(text string) error

	// Close releases any resources held by the backend.
	Close()
}

// Reader hands out locked views of clipboard formats.
type Reader interface {
	// Lock returns a read-only view of the data stored under f.
	// Returns nil, nil if the clipboard does not hold f.
	Lock(f Format) (*Lock, error)
}

// Clipboard is an open clipboard session.
type Clipboard interface {
	Reader

	// Formats lists the format tags currently on the clipboard.
	Formats() ([]Format, error)

	// Close ends the session. Locks taken from it must be released first.
	Close() error
}

// Surface is a device bitmap rendered to packed 32-bit B,G,R,A pixels,
// top row first, with no row padding.
type Surface struct {
	Width  int
	Height int
	Pix    []byte
}

// SurfaceReader is implemented by clipboards that can render a CF_BITMAP
// handle. Surface returns nil, nil when no bitmap handle is present.
type SurfaceReader interface {
	Surface() (*Surface, error)
}

// Lock is a locked, length-known view of clipboard memory. The bytes are
// only valid until Unlock; callers copy what they keep.
type Lock struct {
	data    []byte
	release func() error

	once sync.Once
	err  error
}

// NewLock wraps data; release (may be nil) runs exactly once on Unlock.
func NewLock(data []byte, release func() error) *Lock {
	return &Lock{data: data, release: release}
}

// Bytes returns the locked view. It is nil after Unlock.
func (l *Lock) Bytes() []byte { return l.data }

// Len reports the length of the locked block.
func (l *Lock) Len() int { return len(l.data) }

// Unlock releases the view. Safe to call more than once.
func (l *Lock) Unlock() error {
	l.once.Do(func() {
		l.data = nil
		if l.release != nil {
			l.err = l.release()
		}
	})
	return l.err
}
