package peer

import (
	"fmt"
	"net"

	"github.com/postalsys/relaychat/internal/protocol"
)

// sendHandshake announces the datagram port and display name to the relay.
// It must be the first frame written on the stream.
func sendHandshake(stream net.Conn, dgram *net.UDPConn, name string) error {
	hs := &protocol.Handshake{
		DatagramPort: dgram.LocalAddr().(*net.UDPAddr).Port,
		Name:         name,
	}
	if _, err := stream.Write(hs.Encode()); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}
	return nil
}
