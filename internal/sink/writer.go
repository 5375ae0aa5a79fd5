package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"go.klb.dev/imgclip/internal/capture"
)

// Writer copies each capture's bytes to w.
type Writer struct {
	name string

	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w; name shows up in logs.
func NewWriter(name string, w io.Writer) *Writer {
	return &Writer{name: name, w: w}
}

// Stdout writes captures to standard output.
func Stdout() *Writer { return NewWriter("stdout", os.Stdout) }

func (s *Writer) Name() string { return s.name }

func (s *Writer) Store(_ context.Context, c *capture.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(c.Data)
	return err
}
