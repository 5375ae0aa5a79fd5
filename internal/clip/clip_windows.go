//go:build windows

package clip

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	windowsPollInterval = 100 * time.Millisecond
	openAttempts        = 5
	openRetryDelay      = 20 * time.Millisecond

	gmemMoveable = 0x0002
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	gdi32    = windows.NewLazySystemDLL("gdi32.dll")

	procOpenClipboard              = user32.NewProc("OpenClipboard")
	procCloseClipboard             = user32.NewProc("CloseClipboard")
	procEmptyClipboard             = user32.NewProc("EmptyClipboard")
	procSetClipboardData           = user32.NewProc("SetClipboardData")
	procIsClipboardFormatAvailable = user32.NewProc("IsClipboardFormatAvailable")
	procGetClipboardData           = user32.NewProc("GetClipboardData")
	procEnumClipboardFormats       = user32.NewProc("EnumClipboardFormats")
	procGetClipboardSequenceNumber = user32.NewProc("GetClipboardSequenceNumber")
	procRegisterClipboardFormatW   = user32.NewProc("RegisterClipboardFormatW")
	procGetDC                      = user32.NewProc("GetDC")
	procReleaseDC                  = user32.NewProc("ReleaseDC")

	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalFree   = kernel32.NewProc("GlobalFree")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
	procGlobalSize   = kernel32.NewProc("GlobalSize")

	procGetObjectW = gdi32.NewProc("GetObjectW")
	procGetDIBits  = gdi32.NewProc("GetDIBits")
)

// lastErr turns the error returned by LazyProc.Call into something worth
// wrapping; Call always returns a non-nil error, even on success.
func lastErr(err error) error {
	var errno windows.Errno
	if errors.As(err, &errno) && errno == 0 {
		return windows.ERROR_INVALID_HANDLE
	}
	return err
}

type windowsBackend struct {
	pngFormat uint32 // registered id for "PNG", 0 if registration failed
	watchCh   chan struct{}
	done      chan struct{}
}

// New returns the Windows clipboard backend. Changes are detected by polling
// GetClipboardSequenceNumber, which needs no window or message loop.
func New() Backend {
	b := &windowsBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	name, err := windows.UTF16PtrFromString("PNG")
	if err == nil {
		r, _, callErr := procRegisterClipboardFormatW.Call(uintptr(unsafe.Pointer(name)))
		if r == 0 {
			slog.Warn("PNG clipboard format unavailable", "err", lastErr(callErr))
		}
		b.pngFormat = uint32(r)
	}
	go b.poll()
	return b
}

func (b *windowsBackend) Name() string { return "Windows Clipboard" }

func (b *windowsBackend) poll() {
	t := time.NewTicker(windowsPollInterval)
	defer t.Stop()
	last, _, _ := procGetClipboardSequenceNumber.Call()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			seq, _, _ := procGetClipboardSequenceNumber.Call()
			if seq != last {
				last = seq
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Open acquires the clipboard on a locked OS thread; the same thread must
// call CloseClipboard. Another application holding the clipboard is retried
// briefly before giving up with ErrBusy.
func (b *windowsBackend) Open() (Clipboard, error) {
	runtime.LockOSThread()
	var err error
	for i := 0; i < openAttempts; i++ {
		r, _, callErr := procOpenClipboard.Call(0)
		if r != 0 {
			return &windowsClipboard{b: b}, nil
		}
		err = lastErr(callErr)
		time.Sleep(openRetryDelay)
	}
	runtime.UnlockOSThread()
	return nil, fmt.Errorf("OpenClipboard: %w: %w", ErrBusy, err)
}

// WriteText empties the clipboard and stores text as CF_UNICODETEXT. Once
// SetClipboardData succeeds the system owns the memory handle.
func (b *windowsBackend) WriteText(text string) (err error) {
	u, err := windows.UTF16FromString(text)
	if err != nil {
		return fmt.Errorf("encode text: %w", err)
	}
	cb, err := b.Open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cb.Close(); err == nil {
			err = cerr
		}
	}()

	if r, _, callErr := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %w", lastErr(callErr))
	}
	h, _, callErr := procGlobalAlloc.Call(gmemMoveable, uintptr(len(u)*2))
	if h == 0 {
		return fmt.Errorf("GlobalAlloc: %w", lastErr(callErr))
	}
	ptr, _, callErr := procGlobalLock.Call(h)
	if ptr == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("GlobalLock: %w", lastErr(callErr))
	}
	copy(unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), len(u)), u)
	procGlobalUnlock.Call(h)

	if r, _, callErr := procSetClipboardData.Call(uintptr(FormatUnicodeText), h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("SetClipboardData(%s): %w", FormatUnicodeText, lastErr(callErr))
	}
	return nil
}

func (b *windowsBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *windowsBackend) Close()                 { close(b.done) }

type windowsClipboard struct {
	b      *windowsBackend
	closed bool
}

func (c *windowsClipboard) native(f Format) (uint32, bool) {
	if f == FormatPNG {
		return c.b.pngFormat, c.b.pngFormat != 0
	}
	return uint32(f), true
}

// Lock returns a view over the global memory behind f. The view is backed by
// OS memory and is only valid until Unlock.
func (c *windowsClipboard) Lock(f Format) (*Lock, error) {
	id, ok := c.native(f)
	if !ok {
		return nil, nil
	}
	if r, _, _ := procIsClipboardFormatAvailable.Call(uintptr(id)); r == 0 {
		return nil, nil
	}
	h, _, err := procGetClipboardData.Call(uintptr(id))
	if h == 0 {
		return nil, fmt.Errorf("GetClipboardData(%s): %w", f, lastErr(err))
	}
	ptr, _, err := procGlobalLock.Call(h)
	if ptr == 0 {
		return nil, fmt.Errorf("GlobalLock(%s): %w", f, lastErr(err))
	}
	size, _, err := procGlobalSize.Call(h)
	if size == 0 {
		procGlobalUnlock.Call(h)
		return nil, fmt.Errorf("GlobalSize(%s): %w", f, lastErr(err))
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(size))
	return NewLock(data, func() error {
		procGlobalUnlock.Call(h)
		return nil
	}), nil
}

func (c *windowsClipboard) Formats() ([]Format, error) {
	var out []Format
	k := uintptr(0)
	for {
		next, _, err := procEnumClipboardFormats.Call(k)
		if next == 0 {
			var errno windows.Errno
			if errors.As(err, &errno) && errno != 0 {
				return out, fmt.Errorf("EnumClipboardFormats: %w", errno)
			}
			return out, nil
		}
		f := Format(next)
		if c.b.pngFormat != 0 && uint32(next) == c.b.pngFormat {
			f = FormatPNG
		}
		out = append(out, f)
		k = next
	}
}

// BITMAP
type winBitmap struct {
	Type       int32
	Width      int32
	Height     int32
	WidthBytes int32
	Planes     uint16
	BitsPixel  uint16
	Bits       uintptr
}

// BITMAPINFO with room for the single RGBQUAD the struct declares.
type winBitmapInfo struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
	Colors        [1]uint32
}

// Surface renders the CF_BITMAP handle to 32-bit top-down BGRA rows.
func (c *windowsClipboard) Surface() (*Surface, error) {
	if r, _, _ := procIsClipboardFormatAvailable.Call(uintptr(FormatBitmap)); r == 0 {
		return nil, nil
	}
	hbm, _, err := procGetClipboardData.Call(uintptr(FormatBitmap))
	if hbm == 0 {
		return nil, fmt.Errorf("GetClipboardData(%s): %w", FormatBitmap, lastErr(err))
	}

	var bm winBitmap
	if r, _, err := procGetObjectW.Call(hbm, unsafe.Sizeof(bm), uintptr(unsafe.Pointer(&bm))); r == 0 {
		return nil, fmt.Errorf("GetObject: %w", lastErr(err))
	}
	if bm.Width <= 0 || bm.Height <= 0 {
		return nil, fmt.Errorf("GetObject: bad bitmap size %dx%d", bm.Width, bm.Height)
	}

	w, h := int(bm.Width), int(bm.Height)
	pix := make([]byte, w*h*4)
	bmi := winBitmapInfo{
		Width:    bm.Width,
		Height:   -bm.Height, // top-down
		Planes:   1,
		BitCount: 32,
	}
	bmi.Size = uint32(unsafe.Offsetof(bmi.Colors))

	hdc, _, err := procGetDC.Call(0)
	if hdc == 0 {
		return nil, fmt.Errorf("GetDC: %w", lastErr(err))
	}
	defer procReleaseDC.Call(0, hdc)

	lines, _, err := procGetDIBits.Call(
		hdc, hbm, 0, uintptr(h),
		uintptr(unsafe.Pointer(&pix[0])),
		uintptr(unsafe.Pointer(&bmi)),
		0, // DIB_RGB_COLORS
	)
	if lines == 0 {
		return nil, fmt.Errorf("GetDIBits: %w", lastErr(err))
	}
	return &Surface{Width: w, Height: int(lines), Pix: pix[:w*int(lines)*4]}, nil
}

func (c *windowsClipboard) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	defer runtime.UnlockOSThread()
	if r, _, err := procCloseClipboard.Call(); r == 0 {
		return fmt.Errorf("CloseClipboard: %w", lastErr(err))
	}
	return nil
}
