// Package message defines the line protocol imgclip speaks to a clipboard hub.
//
// All messages are newline-delimited JSON. Payloads are always base64-encoded
// so that binary content (images) is safe to embed in JSON strings.
// Each message is exactly one line: <json>\n
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type identifies the kind of message.
type Type string

const (
	TypeClipboard Type = "CLIPBOARD"
	TypeAuth      Type = "AUTH"
	TypeError     Type = "ERROR"
)

// DefaultClipboard is the name of the default clipboard namespace.
const DefaultClipboard = "default"

// Image MIME types carried in CLIPBOARD items.
const (
	MIMEPNG  = "image/png"
	MIMEBMP  = "image/bmp"
	MIMEJPEG = "image/jpeg"
)

// Item is a single clipboard representation with a MIME type.
// Data is always base64-encoded.
type Item struct {
	MIME string `json:"mime"`
	Data string `json:"data"` // base64-encoded
}

// NewBinaryItem creates an Item from raw bytes with the given MIME type.
func NewBinaryItem(mime string, data []byte) Item {
	return Item{
		MIME: mime,
		Data: base64.StdEncoding.EncodeToString(data),
	}
}

// Decode returns the raw bytes of the item payload.
func (it Item) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(it.Data)
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type      Type   `json:"type"`
	Source    string `json:"source,omitempty"`
	Clipboard string `json:"clipboard,omitempty"`

	// CLIPBOARD — the items on the clipboard, one per MIME type
	Items []Item `json:"items,omitempty"`

	// AUTH — token is base64-encoded; Accept declares which MIME types
	// this peer will accept. Empty Accept means accept all types.
	Payload string   `json:"payload,omitempty"`
	Accept  []string `json:"accept,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// NewAuth builds the AUTH message that opens an authenticated session.
// imgclip only publishes, so it accepts nothing back.
func NewAuth(source, token string) *Message {
	return &Message{
		Type:    TypeAuth,
		Source:  source,
		Payload: base64.StdEncoding.EncodeToString([]byte(token)),
		Accept:  []string{"none"},
	}
}

// Token returns the decoded AUTH token.
func (m *Message) Token() (string, error) {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return "", fmt.Errorf("auth payload: %w", err)
	}
	return string(b), nil
}

// NewClipboard builds a CLIPBOARD message on the named clipboard.
func NewClipboard(source, clipboard string, items ...Item) *Message {
	return &Message{
		Type:      TypeClipboard,
		Source:    source,
		Clipboard: clipboard,
		Items:     items,
	}
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// ClipboardOf returns the effective clipboard name, defaulting to DefaultClipboard.
func (m *Message) ClipboardOf() string {
	if m.Clipboard == "" {
		return DefaultClipboard
	}
	return m.Clipboard
}

// Item returns the first item of the given MIME type.
func (m *Message) Item(mime string) (Item, bool) {
	for _, it := range m.Items {
		if it.MIME == mime {
			return it, true
		}
	}
	return Item{}, false
}
