// Package protocol defines the text frames exchanged between relay and peers.
//
// The stream transport carries a single handshake frame followed by chat
// frames. The datagram transport carries presence frames only. Frames have
// no length prefix and no terminator: one successful read is one frame.
package protocol

import "errors"

const (
	// HandshakePrefix starts every handshake frame.
	HandshakePrefix = "UDP_PORT:"

	// HandshakeNameSep separates the datagram port from the display name.
	HandshakeNameSep = ":NAME:"

	// DefaultReadBufferSize bounds a single frame read.
	DefaultReadBufferSize = 1024

	// PresenceSource prefixes every presence frame the relay sends.
	PresenceSource = "[server]"
)

var (
	// ErrNotHandshake is returned when a frame does not have handshake shape.
	ErrNotHandshake = errors.New("frame is not a handshake")

	// ErrInvalidPort is returned for a missing or out-of-range datagram port.
	ErrInvalidPort = errors.New("invalid datagram port")

	// ErrEmptyName is returned when a handshake carries no display name.
	ErrEmptyName = errors.New("empty display name")
)

// PresenceKind distinguishes join from leave notifications.
type PresenceKind uint8

const (
	PresenceJoined PresenceKind = iota + 1
	PresenceLeft
)

// String returns the verb used in the presence text.
func (k PresenceKind) String() string {
	switch k {
	case PresenceJoined:
		return "joined"
	case PresenceLeft:
		return "left"
	default:
		return "unknown"
	}
}
