package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"go.klb.dev/imgclip/internal/dib"
)

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"IMGCLIP_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := getenv(env); v != "" {
			return v
		}
	}
	h, err := hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// sameFile reports whether a and b name the same existing file.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// readDIB loads a raw DIB block from path. A .bmp file is accepted too; its
// file header is dropped and the payload moved to where bfOffBits says it is.
func readDIB(path string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if bytes.HasPrefix(b, []byte("BM")) {
		block, err := dib.StripFileHeader(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return block, nil
	}
	return b, nil
}
