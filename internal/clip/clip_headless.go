package clip

// headlessBackend is a no-op clipboard backend for environments without a
// display server (headless Linux servers, containers, etc.).
// It never produces Watch events and its clipboard is always empty.
type headlessBackend struct {
	watchCh chan struct{}
}

func newHeadless() *headlessBackend {
	return &headlessBackend{watchCh: make(chan struct{})}
}

func (b *headlessBackend) Name() string             { return "headless (no-op)" }
func (b *headlessBackend) Open() (Clipboard, error) { return emptyClipboard{}, nil }
func (b *headlessBackend) Watch() <-chan struct{}   { return b.watchCh }
func (b *headlessBackend) Close()                   {}

// WriteText discards text; there is no clipboard to write to.
func (b *headlessBackend) WriteText(string) error { return nil }

type emptyClipboard struct{}

func (emptyClipboard) Lock(Format) (*Lock, error)  { return nil, nil }
func (emptyClipboard) Formats() ([]Format, error) { return nil, nil }
func (emptyClipboard) Close() error               { return nil }
