package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one handshake-complete participant: a stream connection plus
// the datagram endpoint that receives its presence notifications.
type Session struct {
	// ID is the remote stream address (ip:port); stable for the lifetime.
	ID string

	// Name is the display name from the handshake.
	Name string

	// DatagramAddr is the remote stream IP combined with the handshake port.
	DatagramAddr *net.UDPAddr

	JoinedAt time.Time

	conn    net.Conn
	writeMu sync.Mutex

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewSession builds a Session for conn. The datagram endpoint is the
// remote IP of conn with datagramPort.
func NewSession(conn net.Conn, name string, datagramPort int) *Session {
	s := &Session{
		ID:       conn.RemoteAddr().String(),
		Name:     name,
		JoinedAt: time.Now(),
		conn:     conn,
	}

	s.DatagramAddr = &net.UDPAddr{Port: datagramPort}
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.DatagramAddr.IP = tcp.IP
		s.DatagramAddr.Zone = tcp.Zone
	} else if host, _, err := net.SplitHostPort(s.ID); err == nil {
		s.DatagramAddr.IP = net.ParseIP(host)
	}

	return s
}

// Send writes one frame to the session's stream. Concurrent broadcasters
// are serialised so frames are never interleaved.
func (s *Session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.conn.Write(frame)
	s.bytesSent.Add(uint64(n))
	return err
}

// RecordReceived accounts for n inbound bytes.
func (s *Session) RecordReceived(n int) {
	s.bytesReceived.Add(uint64(n))
}

// BytesSent returns the bytes written to this session.
func (s *Session) BytesSent() uint64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the bytes read from this session.
func (s *Session) BytesReceived() uint64 {
	return s.bytesReceived.Load()
}

// Close releases the stream connection, which ends the owning handler's
// read loop.
func (s *Session) Close() error {
	return s.conn.Close()
}
