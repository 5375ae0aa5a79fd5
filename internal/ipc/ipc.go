// Package ipc locates and dials the local hub socket. A clipboard hub
// daemon running on the same machine listens there; the hub sink tries it
// before opening a TCP connection.
//
//   - Linux:   $XDG_RUNTIME_DIR/suffuse.sock, else $TMPDIR/suffuse.sock
//   - macOS:   $TMPDIR/suffuse.sock
//   - Windows: \\.\pipe\suffuse (named pipe)
//
// $IMGCLIP_HUB_SOCKET overrides the path on every platform.
package ipc

import (
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
func SocketPath() string {
	if s := os.Getenv("IMGCLIP_HUB_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a hub appears to be listening on the IPC
// socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := Dial()
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Dial connects to the IPC socket.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath())
}

// Listen creates and returns a net.Listener on the IPC socket path, removing
// any stale socket file first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	return listenIPC(path)
}
