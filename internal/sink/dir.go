// Package sink provides capture destinations: a directory, a writer (stdout)
// and a clipboard hub reached over the local IPC socket or TCP.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.klb.dev/imgclip/internal/capture"
)

// stampLayout names files by capture time; the millisecond part keeps rapid
// captures apart.
const stampLayout = "20060102-150405.000"

// Dir writes each capture to its own file in a directory.
type Dir struct {
	path   string
	prefix string
}

// NewDir creates the directory if needed.
func NewDir(path, prefix string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if prefix == "" {
		prefix = "clip"
	}
	return &Dir{path: path, prefix: prefix}, nil
}

func (d *Dir) Name() string { return "dir:" + d.path }

// FileName returns the name c is stored under.
func (d *Dir) FileName(c *capture.Capture) string {
	return fmt.Sprintf("%s-%s%s", d.prefix, c.Time.Format(stampLayout), c.Ext)
}

// Location returns the absolute path c is stored at.
func (d *Dir) Location(c *capture.Capture) string {
	path := filepath.Join(d.path, d.FileName(c))
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// Store writes c to its own file.
func (d *Dir) Store(_ context.Context, c *capture.Capture) error {
	return WriteFile(filepath.Join(d.path, d.FileName(c)), c.Data)
}

// WriteFile writes data to path atomically: a temp file in the same
// directory is renamed into place once complete.
func WriteFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".imgclip-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
