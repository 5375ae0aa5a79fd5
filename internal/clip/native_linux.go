//go:build linux

package clip

const nativeName = "X11/Wayland"
