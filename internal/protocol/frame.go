package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Handshake binds a datagram port and display name to a stream connection.
type Handshake struct {
	DatagramPort int
	Name         string
}

// Encode returns the wire form UDP_PORT:<port>:NAME:<name>.
func (h *Handshake) Encode() []byte {
	return []byte(HandshakePrefix + strconv.Itoa(h.DatagramPort) + HandshakeNameSep + h.Name)
}

// DecodeHandshake parses a handshake frame.
// The name is everything after the first :NAME: separator, NFC normalised.
func DecodeHandshake(buf []byte) (*Handshake, error) {
	s := string(buf)
	if !strings.HasPrefix(s, HandshakePrefix) {
		return nil, ErrNotHandshake
	}

	portStr, name, ok := strings.Cut(s[len(HandshakePrefix):], HandshakeNameSep)
	if !ok {
		return nil, ErrNotHandshake
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
	}

	name = norm.NFC.String(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	return &Handshake{DatagramPort: port, Name: name}, nil
}

// ChatFrame returns the frame a peer sends for one line of input.
func ChatFrame(name, text string) []byte {
	return []byte(name + ": " + text)
}

// Presence formats a presence notification for the session at addr.
func Presence(kind PresenceKind, addr, name string) []byte {
	return []byte(fmt.Sprintf("%s %s (%s) %s", PresenceSource, addr, name, kind))
}

// FrameReader reads one frame per underlying Read call.
// A frame may be a truncated or merged message when the transport splits or
// coalesces writes; no reassembly is attempted.
type FrameReader struct {
	r   io.Reader
	buf []byte
}

// NewFrameReader creates a reader with a buffer of size bytes.
// Non-positive sizes fall back to DefaultReadBufferSize.
func NewFrameReader(r io.Reader, size int) *FrameReader {
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	return &FrameReader{r: r, buf: make([]byte, size)}
}

// Read returns the next frame. A zero-length read is reported as io.EOF.
// The returned slice is only valid until the next call.
func (fr *FrameReader) Read() ([]byte, error) {
	n, err := fr.r.Read(fr.buf)
	if n > 0 {
		return fr.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}
