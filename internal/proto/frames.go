// Package proto implements the text control protocol carried over the
// client message stream. Client-to-server frames are CONNECT:<addr>|<payload>,
// DATA:<bytes> and CLOSE; server-to-client frames are CONNECTED, CLOSE and
// ERROR:<message>. Binary frames on either direction carry opaque payload and
// never pass through this package.
package proto

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	connectPrefix = "CONNECT:"
	dataPrefix    = "DATA:"
	closeWord     = "CLOSE"

	connectedWord = "CONNECTED"
	errorPrefix   = "ERROR:"
)

// ErrMalformedConnect is returned for a CONNECT frame missing the
// address/payload separator.
var ErrMalformedConnect = errors.New("proto: CONNECT frame missing '|' separator")

// ErrUnknownFrame is returned for a text frame matching no known command.
var ErrUnknownFrame = errors.New("proto: unknown control frame")

// Kind discriminates parsed client frames.
type Kind int

const (
	KindConnect Kind = iota
	KindData
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindData:
		return "data"
	case KindClose:
		return "close"
	}
	return "unknown"
}

// ClientFrame is one parsed client-to-server control frame.
type ClientFrame struct {
	Kind    Kind
	Addr    string // destination host:port, Connect only
	Payload []byte // initial payload (Connect) or forwarded bytes (Data)
}

// ParseClientFrame parses a client text frame. The payload slice aliases the
// input; callers that retain it past the frame's lifetime must copy.
func ParseClientFrame(text []byte) (ClientFrame, error) {
	switch {
	case bytes.HasPrefix(text, []byte(connectPrefix)):
		rest := text[len(connectPrefix):]
		sep := bytes.IndexByte(rest, '|')
		if sep < 0 {
			return ClientFrame{}, ErrMalformedConnect
		}
		addr := string(rest[:sep])
		if addr == "" {
			return ClientFrame{}, fmt.Errorf("proto: CONNECT frame with empty address: %w", ErrMalformedConnect)
		}
		return ClientFrame{Kind: KindConnect, Addr: addr, Payload: rest[sep+1:]}, nil
	case bytes.HasPrefix(text, []byte(dataPrefix)):
		return ClientFrame{Kind: KindData, Payload: text[len(dataPrefix):]}, nil
	case string(text) == closeWord:
		return ClientFrame{Kind: KindClose}, nil
	}
	return ClientFrame{}, ErrUnknownFrame
}

// Connect builds a client CONNECT frame.
func Connect(addr string, payload []byte) []byte {
	out := make([]byte, 0, len(connectPrefix)+len(addr)+1+len(payload))
	out = append(out, connectPrefix...)
	out = append(out, addr...)
	out = append(out, '|')
	return append(out, payload...)
}

// Data builds a client DATA frame.
func Data(payload []byte) []byte {
	out := make([]byte, 0, len(dataPrefix)+len(payload))
	out = append(out, dataPrefix...)
	return append(out, payload...)
}

// CloseFrame is the CLOSE word, valid in both directions.
func CloseFrame() []byte { return []byte(closeWord) }

// Connected is the server acknowledgment after a successful dial.
func Connected() []byte { return []byte(connectedWord) }

// ErrorNotice builds a server ERROR frame carrying a diagnostic message.
func ErrorNotice(msg string) []byte { return append([]byte(errorPrefix), msg...) }

// IsConnected reports whether a server text frame is the CONNECTED ack.
func IsConnected(text []byte) bool { return string(text) == connectedWord }

// IsClose reports whether a text frame is the CLOSE notice.
func IsClose(text []byte) bool { return string(text) == closeWord }

// ErrorMessage extracts the message from a server ERROR frame, or ok=false.
func ErrorMessage(text []byte) (string, bool) {
	if bytes.HasPrefix(text, []byte(errorPrefix)) {
		return string(text[len(errorPrefix):]), true
	}
	return "", false
}
