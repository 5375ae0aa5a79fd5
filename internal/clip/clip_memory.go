package clip

import (
	"bytes"
	"slices"
	"sync"
)

// Memory is an in-process clipboard. It follows the same open/lock
// discipline as the system backends, so code exercised against it behaves
// the same way against the real clipboard.
type Memory struct {
	mu      sync.Mutex
	data    map[Format][]byte
	surface *Surface
	lockErr error
	held    bool
	locks   int
	watchCh chan struct{}
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[Format][]byte),
		watchCh: make(chan struct{}, 1),
	}
}

func (m *Memory) Name() string { return "memory" }

// Set stores a copy of data under f and signals watchers.
func (m *Memory) Set(f Format, data []byte) {
	m.mu.Lock()
	m.data[f] = bytes.Clone(data)
	m.mu.Unlock()
	m.notify()
}

// SetSurface stores a device bitmap and signals watchers.
func (m *Memory) SetSurface(s *Surface) {
	m.mu.Lock()
	if s != nil {
		s = &Surface{Width: s.Width, Height: s.Height, Pix: bytes.Clone(s.Pix)}
	}
	m.surface = s
	m.mu.Unlock()
	m.notify()
}

// Clear empties the clipboard and signals watchers.
func (m *Memory) Clear() {
	m.mu.Lock()
	clear(m.data)
	m.surface = nil
	m.mu.Unlock()
	m.notify()
}

// WriteText replaces everything on the clipboard with text, stored as
// UTF-8 under FormatUnicodeText.
func (m *Memory) WriteText(text string) error {
	m.mu.Lock()
	clear(m.data)
	m.surface = nil
	m.data[FormatUnicodeText] = []byte(text)
	m.mu.Unlock()
	m.notify()
	return nil
}

// Text returns the text last written, or "" when the clipboard holds none.
func (m *Memory) Text() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[FormatUnicodeText])
}

// FailLocks makes every subsequent Lock return err. Pass nil to recover.
func (m *Memory) FailLocks(err error) {
	m.mu.Lock()
	m.lockErr = err
	m.mu.Unlock()
}

// Outstanding reports how many locks are currently held.
func (m *Memory) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks
}

// Held reports whether a session is open.
func (m *Memory) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Open acquires the clipboard. A second Open before Close returns ErrBusy.
func (m *Memory) Open() (Clipboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, ErrBusy
	}
	m.held = true
	return &memClipboard{m: m}, nil
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}

func (m *Memory) notify() {
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}

type memClipboard struct {
	m      *Memory
	closed bool
}

func (c *memClipboard) Lock(f Format) (*Lock, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.m.lockErr != nil {
		return nil, c.m.lockErr
	}
	data, ok := c.m.data[f]
	if !ok {
		return nil, nil
	}
	c.m.locks++
	return NewLock(data, func() error {
		c.m.mu.Lock()
		c.m.locks--
		c.m.mu.Unlock()
		return nil
	}), nil
}

func (c *memClipboard) Formats() ([]Format, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	out := make([]Format, 0, len(c.m.data)+1)
	for f := range c.m.data {
		out = append(out, f)
	}
	if c.m.surface != nil {
		out = append(out, FormatBitmap)
	}
	slices.Sort(out)
	return out, nil
}

func (c *memClipboard) Surface() (*Surface, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.m.lockErr != nil {
		return nil, c.m.lockErr
	}
	if c.m.surface == nil {
		return nil, nil
	}
	s := *c.m.surface
	s.Pix = bytes.Clone(s.Pix)
	return &s, nil
}

func (c *memClipboard) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.m.mu.Lock()
	c.m.held = false
	c.m.mu.Unlock()
	return nil
}
