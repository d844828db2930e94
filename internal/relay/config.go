package relay

import (
	"net"
	"strconv"

	"github.com/postalsys/relaychat/internal/protocol"
)

// Config holds configuration for a Relay.
type Config struct {
	// Address is the IP both transports bind to. Empty means all interfaces.
	Address string

	// Port is shared by the stream listener and the datagram socket.
	// Zero picks a free stream port and binds the datagram socket to it.
	Port int

	// ReadBufferSize bounds a single frame read.
	ReadBufferSize int

	// FrameRate limits inbound frames per second per session; 0 disables.
	// Frames over the limit are delayed, never dropped.
	FrameRate  float64
	FrameBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1",
		Port:           5000,
		ReadBufferSize: protocol.DefaultReadBufferSize,
		FrameBurst:     10,
	}
}

// ListenAddress returns host:port for the configured bind.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}
