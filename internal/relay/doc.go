// Package relay implements the server side of the chat relay.
//
// A Relay listens on one port for both a stream (TCP) and a datagram (UDP)
// transport. Every accepted stream connection is handled on its own
// goroutine:
//
//  1. Frames are read until one parses as a handshake
//     (UDP_PORT:<port>:NAME:<name>); earlier frames are discarded.
//  2. The connection is registered as a Session and a "joined" presence
//     datagram is sent to every registered session, the new one included.
//  3. Each further frame is written verbatim to every other session's
//     stream.
//  4. On EOF or any read error the session is removed, a "left" presence
//     datagram is sent to the remaining sessions and the connection is
//     closed.
//
// Inbound datagrams are read and discarded; the datagram socket is only
// used to send presence notifications.
//
// # Framing
//
// There is no length prefix. One read from the stream is one frame, so a
// message may arrive split or merged with its neighbour when the transport
// fragments or coalesces writes.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. The registry is the
// only state shared between connection handlers.
package relay
