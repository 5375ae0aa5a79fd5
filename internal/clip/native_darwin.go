//go:build darwin

package clip

const nativeName = "macOS NSPasteboard"
