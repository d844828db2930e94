package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/postalsys/relaychat/internal/allocator"
	"github.com/postalsys/relaychat/internal/health"
	"github.com/postalsys/relaychat/internal/logging"
	"github.com/postalsys/relaychat/internal/metrics"
	"github.com/postalsys/relaychat/internal/protocol"
	"github.com/postalsys/relaychat/internal/recovery"
	"github.com/postalsys/relaychat/internal/registry"
)

var (
	// ErrAlreadyStarted is returned by Start on a relay that was started before.
	ErrAlreadyStarted = errors.New("relay already started")

	// ErrDuplicateSession is returned when a handshake arrives for an
	// identity that is already registered.
	ErrDuplicateSession = errors.New("session already registered")
)

// maxDatagramSize is the read buffer for the discard loop.
const maxDatagramSize = 64 * 1024

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logging.Component(logger, "relay")
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithAllocator sets the address allocator reset at startup.
func WithAllocator(a allocator.Resetter) Option {
	return func(r *Relay) {
		r.allocator = a
	}
}

// Relay accepts peers and fans their traffic out to each other.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	allocator allocator.Resetter
	registry  *registry.Registry

	mu         sync.Mutex
	listener   net.Listener
	packetConn *net.UDPConn
	conns      map[net.Conn]struct{}
	started    bool
	stopped    bool
	startedAt  time.Time

	running       atomic.Bool
	framesRelayed atomic.Uint64
	bytesRelayed  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // accept loop and connection handlers
	dgWG   sync.WaitGroup // datagram loop
}

// New creates a relay. It does not bind anything until Start.
func New(cfg Config, opts ...Option) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		cfg:      cfg,
		logger:   logging.Component(nil, "relay"),
		registry: registry.New(),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewUnregistered()
	}
	if r.cfg.ReadBufferSize <= 0 {
		r.cfg.ReadBufferSize = protocol.DefaultReadBufferSize
	}

	return r
}

// Start resets the allocator, binds both transports and launches the
// stream-accept and datagram-discard loops. A bind failure is returned and
// leaves nothing listening.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	if r.allocator != nil {
		if err := r.allocator.Reset(); err != nil {
			r.logger.Warn("failed to reset address allocator", logging.KeyError, err)
		}
	}

	ln, err := net.Listen("tcp", r.cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("listen stream %s: %w", r.cfg.ListenAddress(), err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.cfg.Address, strconv.Itoa(port)))
	if err != nil {
		ln.Close()
		return fmt.Errorf("resolve datagram address: %w", err)
	}
	pc, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen datagram %s: %w", udpAddr, err)
	}

	r.listener = ln
	r.packetConn = pc
	r.started = true
	r.startedAt = time.Now()
	r.running.Store(true)

	r.logger.Info("relay started",
		logging.KeyLocalAddr, ln.Addr().String(),
		logging.KeyDatagramAddr, pc.LocalAddr().String())

	recovery.Go(&r.wg, r.logger, "stream-accept", r.acceptLoop)
	recovery.Go(&r.dgWG, r.logger, "datagram-receive", r.datagramLoop)

	return nil
}

// Run starts the relay and blocks until ctx is done, then stops it.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()
	return nil
}

// Stop closes both transports and every live connection, then waits for
// all handlers to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.running.Store(false)
	r.cancel()

	conns := make([]net.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	ln, pc := r.listener, r.packetConn
	r.mu.Unlock()

	ln.Close()
	for _, c := range conns {
		c.Close()
	}

	// Handlers still send "left" notices while unwinding.
	r.wg.Wait()
	pc.Close()
	r.dgWG.Wait()

	r.logger.Info("relay stopped")
}

// Addr returns the stream listener address, or nil before Start.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// PacketAddr returns the datagram socket address, or nil before Start.
func (r *Relay) PacketAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.packetConn == nil {
		return nil
	}
	return r.packetConn.LocalAddr()
}

// Registry exposes the membership registry.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// IsRunning reports whether the relay is serving.
func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

// Stats returns a point-in-time view for the health server.
func (r *Relay) Stats() health.Stats {
	sessions := r.registry.SnapshotSessions()

	stats := health.Stats{
		SessionCount:  len(sessions),
		FramesRelayed: r.framesRelayed.Load(),
		BytesRelayed:  r.bytesRelayed.Load(),
		Sessions:      make([]health.SessionStats, 0, len(sessions)),
	}
	r.mu.Lock()
	stats.StartedAt = r.startedAt
	r.mu.Unlock()

	for _, s := range sessions {
		stats.Sessions = append(stats.Sessions, health.SessionStats{
			ID:            s.ID,
			Name:          s.Name,
			DatagramAddr:  s.DatagramAddr.String(),
			JoinedAt:      s.JoinedAt,
			BytesSent:     s.BytesSent(),
			BytesReceived: s.BytesReceived(),
		})
	}
	return stats
}

func (r *Relay) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.ctx.Err() != nil {
				return
			}
			r.logger.Warn("accept failed", logging.KeyError, err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !r.trackConn(conn) {
			conn.Close()
			return
		}

		recovery.Go(&r.wg, r.logger, "connection", func() {
			defer r.untrackConn(conn)
			r.HandleConnection(conn)
		})
	}
}

// datagramLoop drains the datagram socket. The relay never acts on
// inbound datagrams.
func (r *Relay) datagramLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := r.packetConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP unreachable surfaces here on some platforms.
			r.logger.Debug("datagram read failed", logging.KeyError, err)
			continue
		}
		r.metrics.RecordDatagramDiscarded()
		r.logger.Debug("discarded datagram",
			logging.KeyRemoteAddr, from.String(),
			logging.KeyBytes, n)
	}
}

func (r *Relay) trackConn(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Relay) untrackConn(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// HandleConnection runs the whole lifecycle of one stream connection and
// closes it on return. Failures never propagate beyond this call.
func (r *Relay) HandleConnection(conn net.Conn) {
	defer conn.Close()

	logger := r.logger.With(logging.KeyRemoteAddr, conn.RemoteAddr().String())
	reader := protocol.NewFrameReader(conn, r.cfg.ReadBufferSize)

	hs, err := r.awaitHandshake(reader, logger)
	if err != nil {
		logger.Debug("connection closed before handshake", logging.KeyError, err)
		return
	}

	session := registry.NewSession(conn, hs.Name, hs.DatagramPort)
	if !r.registry.Add(session) {
		logger.Warn("rejecting connection", logging.KeyError, ErrDuplicateSession)
		return
	}
	r.metrics.RecordJoin(r.registry.Len())
	defer r.teardown(session, logger)

	logger = logger.With(logging.KeyName, session.Name)
	logger.Info(string(protocol.Presence(protocol.PresenceJoined, session.ID, session.Name)),
		logging.KeyDatagramAddr, session.DatagramAddr.String())
	r.BroadcastPresence(protocol.PresenceJoined, session)

	limiter := r.newLimiter()
	for {
		frame, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				logger.Debug("stream closed by peer")
			} else {
				logger.Debug("stream read failed", logging.KeyError, err)
			}
			return
		}
		session.RecordReceived(len(frame))

		if limiter != nil && !limiter.Allow() {
			r.metrics.RecordThrottled()
			if err := limiter.Wait(r.ctx); err != nil {
				return
			}
		}

		logger.Debug("relaying frame", logging.KeyBytes, len(frame))
		r.BroadcastStream(frame, session)
	}
}

// awaitHandshake reads frames until one is a valid handshake. Everything
// before it is discarded.
func (r *Relay) awaitHandshake(reader *protocol.FrameReader, logger *slog.Logger) (*protocol.Handshake, error) {
	for {
		frame, err := reader.Read()
		if err != nil {
			return nil, err
		}

		hs, err := protocol.DecodeHandshake(frame)
		if err == nil {
			return hs, nil
		}

		r.metrics.RecordHandshakeRejected(rejectReason(err))
		logger.Debug("discarding frame before handshake",
			logging.KeyBytes, len(frame),
			logging.KeyError, err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidPort):
		return "invalid_port"
	case errors.Is(err, protocol.ErrEmptyName):
		return "empty_name"
	default:
		return "not_handshake"
	}
}

// teardown removes the session, then announces its departure to whoever
// remains. It runs for every session that reached registration.
func (r *Relay) teardown(s *registry.Session, logger *slog.Logger) {
	r.registry.Remove(s.ID)
	r.metrics.RecordLeave(r.registry.Len(), time.Since(s.JoinedAt).Seconds())

	logger.Info(string(protocol.Presence(protocol.PresenceLeft, s.ID, s.Name)),
		logging.KeyDuration, time.Since(s.JoinedAt).Round(time.Millisecond),
		"sent", humanize.Bytes(s.BytesSent()),
		"received", humanize.Bytes(s.BytesReceived()))

	r.BroadcastPresence(protocol.PresenceLeft, s)
}

func (r *Relay) newLimiter() *rate.Limiter {
	if r.cfg.FrameRate <= 0 {
		return nil
	}
	burst := r.cfg.FrameBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.cfg.FrameRate), burst)
}

// BroadcastStream writes frame to every registered session except sender,
// using a snapshot of the registry. A target whose write fails is removed
// from the registry and its connection closed; delivery to the others
// continues. It returns the
// number of successful deliveries.
func (r *Relay) BroadcastStream(frame []byte, sender *registry.Session) int {
	delivered := 0

	for _, target := range r.registry.SnapshotSessions() {
		if target == sender {
			continue
		}

		if err := target.Send(frame); err != nil {
			r.metrics.RecordSendFailure(metrics.TransportStream)
			if _, ok := r.registry.Remove(target.ID); ok {
				r.metrics.SetActive(r.registry.Len())
			}
			// Ends the target's read loop so its handler tears down.
			target.Close()
			r.logger.Debug("dropping unreachable stream target",
				logging.KeySession, target.ID,
				logging.KeyName, target.Name,
				logging.KeyError, err)
			continue
		}

		delivered++
		r.metrics.RecordBytesRelayed(len(frame))
		r.bytesRelayed.Add(uint64(len(frame)))
	}

	r.framesRelayed.Add(1)
	r.metrics.RecordFanout(delivered)
	return delivered
}

// BroadcastPresence sends a presence notice about s to every registered
// datagram endpoint. Per-target failures are counted and ignored. It
// returns the number of datagrams sent.
func (r *Relay) BroadcastPresence(kind protocol.PresenceKind, s *registry.Session) int {
	r.mu.Lock()
	pc := r.packetConn
	r.mu.Unlock()
	if pc == nil {
		return 0
	}

	msg := protocol.Presence(kind, s.ID, s.Name)
	sent := 0

	for _, ep := range r.registry.SnapshotEndpoints() {
		if _, err := pc.WriteToUDP(msg, ep); err != nil {
			r.metrics.RecordSendFailure(metrics.TransportDatagram)
			r.logger.Debug("presence send failed",
				logging.KeyDatagramAddr, ep.String(),
				logging.KeyError, err)
			continue
		}
		sent++
		r.metrics.RecordPresence(kind.String())
	}

	return sent
}
