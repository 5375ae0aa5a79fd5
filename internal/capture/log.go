package capture

import (
	"context"
	"log/slog"
)

// LogCapture logs a capture at INFO (kind, size, MIME type) and DEBUG
// (encoding details).
func LogCapture(event string, c *Capture) {
	slog.Info(event, "kind", c.Kind, "width", c.Width, "height", c.Height, "mime", c.MIME)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{"encoding", c.Encoding, "size_bytes", len(c.Data)}
	if c.Depth != 0 {
		attrs = append(attrs, "depth", c.Depth.String())
	}
	slog.Debug("capture detail", attrs...)
}
