// Package peer implements the chat client: it joins a relay over a stream
// connection and a datagram socket, then runs the receive-stream,
// receive-datagram and send-stream activities until one of them ends.
package peer

import (
	"bufio"
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

	"github.com/postalsys/relaychat/internal/allocator"
	"github.com/postalsys/relaychat/internal/logging"
	"github.com/postalsys/relaychat/internal/protocol"
	"github.com/postalsys/relaychat/internal/recovery"
)

var (
	// ErrNoName is returned by Connect when no display name is configured.
	ErrNoName = errors.New("display name is required")

	// ErrAlreadyStarted is returned when Connect is called more than once.
	ErrAlreadyStarted = errors.New("peer already started")

	// ErrRelayClosed is returned when the relay closes the stream.
	ErrRelayClosed = errors.New("relay closed the connection")
)

// maxDatagramSize bounds a single presence notice.
const maxDatagramSize = 64 * 1024

// Config holds configuration for a Peer.
type Config struct {
	RelayAddress   string
	Port           int
	Name           string
	ReadBufferSize int
	DialTimeout    time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RelayAddress:   "127.0.0.1",
		Port:           5000,
		ReadBufferSize: protocol.DefaultReadBufferSize,
		DialTimeout:    10 * time.Second,
	}
}

// RelayEndpoint returns host:port of the relay.
func (c Config) RelayEndpoint() string {
	return net.JoinHostPort(c.RelayAddress, strconv.Itoa(c.Port))
}

// Printer renders what the peer receives.
type Printer interface {
	// Chat prints a broadcast frame from another participant.
	Chat(text string)
	// Notice prints a presence notice from the relay.
	Notice(text string)
	// Info prints a local status line.
	Info(text string)
}

type nopPrinter struct{}

func (nopPrinter) Chat(string)   {}
func (nopPrinter) Notice(string) {}
func (nopPrinter) Info(string)   {}

// Option configures a Peer.
type Option func(*Peer)

// WithLogger sets the peer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Peer) {
		p.logger = logging.Component(logger, "peer")
	}
}

// WithAllocator sets the source of the local bind address. Without one the
// OS chooses.
func WithAllocator(a allocator.Allocator) Option {
	return func(p *Peer) {
		p.alloc = a
	}
}

// WithPrinter sets where received traffic is rendered.
func WithPrinter(pr Printer) Option {
	return func(p *Peer) {
		p.printer = pr
	}
}

// WithInput sets the line source for outgoing chat. Without it the peer
// only receives.
func WithInput(r io.Reader) Option {
	return func(p *Peer) {
		p.input = r
	}
}

// OnStateChange registers a callback invoked on every state transition.
func OnStateChange(fn func(from, to State)) Option {
	return func(p *Peer) {
		p.onStateChange = fn
	}
}

// Peer is a single chat participant. It is single-use: once Connect
// returns the peer is terminated.
type Peer struct {
	cfg           Config
	logger        *slog.Logger
	alloc         allocator.Allocator
	printer       Printer
	input         io.Reader
	onStateChange func(from, to State)

	state   atomic.Int32
	started atomic.Bool

	mu     sync.Mutex
	stream net.Conn
	dgram  *net.UDPConn

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// New creates a peer in the Disconnected state.
func New(cfg Config, opts ...Option) *Peer {
	p := &Peer{
		cfg:     cfg,
		logger:  logging.Component(nil, "peer"),
		printer: nopPrinter{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.ReadBufferSize <= 0 {
		p.cfg.ReadBufferSize = protocol.DefaultReadBufferSize
	}
	return p
}

// State returns the current state.
func (p *Peer) State() State {
	return State(p.state.Load())
}

func (p *Peer) setState(s State) {
	from := State(p.state.Swap(int32(s)))
	if from == s {
		return
	}
	p.logger.Debug("state changed", "from", from.String(), logging.KeyState, s.String())
	if p.onStateChange != nil {
		p.onStateChange(from, s)
	}
}

// LocalAddr returns the local stream address, or nil before connecting.
func (p *Peer) LocalAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	return p.stream.LocalAddr()
}

// DatagramAddr returns the local datagram socket address, or nil before
// connecting.
func (p *Peer) DatagramAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dgram == nil {
		return nil
	}
	return p.dgram.LocalAddr()
}

// Connect joins the relay and blocks until the session ends: the relay
// closes the stream, a read or write fails, input is exhausted or ctx is
// cancelled. Both sockets are closed before it returns. There is no retry.
//
// A nil return means the session ended locally (input exhausted or ctx
// cancelled).
//
// Input lines are sent as soon as the handshake is written. The stream
// has no framing, so a line already waiting on a piped input can reach
// the relay in the same read as the handshake and become part of the
// registered name.
func (p *Peer) Connect(ctx context.Context) error {
	if p.cfg.Name == "" {
		return ErrNoName
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer p.setState(StateTerminated)

	if err := p.open(ctx); err != nil {
		p.closeSockets()
		return err
	}
	defer p.closeSockets()

	p.setState(StateActive)
	return p.run(ctx)
}

// open performs the connect sequence up to and including the handshake.
func (p *Peer) open(ctx context.Context) error {
	p.setState(StateStreamConnecting)

	// Without an allocator the OS picks the source address and the
	// datagram socket follows it.
	var localIP net.IP
	if p.alloc != nil {
		local := p.alloc.Next()
		if localIP = net.ParseIP(local); localIP == nil {
			return fmt.Errorf("invalid local address %q", local)
		}
		p.printer.Info("using local address " + local)
	}

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	if localIP != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: localIP}
	}
	stream, err := dialer.DialContext(ctx, "tcp", p.cfg.RelayEndpoint())
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", p.cfg.RelayEndpoint(), err)
	}
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	p.setState(StateStreamConnected)

	if localIP == nil {
		localIP = stream.LocalAddr().(*net.TCPAddr).IP
	}
	dgram, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP})
	if err != nil {
		return fmt.Errorf("bind datagram socket on %s: %w", localIP, err)
	}
	p.mu.Lock()
	p.dgram = dgram
	p.mu.Unlock()

	if err := sendHandshake(stream, dgram, p.cfg.Name); err != nil {
		return err
	}
	p.setState(StateHandshakeSent)

	p.logger.Info("joined relay",
		logging.KeyRemoteAddr, stream.RemoteAddr().String(),
		logging.KeyLocalAddr, stream.LocalAddr().String(),
		logging.KeyDatagramAddr, dgram.LocalAddr().String(),
		logging.KeyName, p.cfg.Name)
	return nil
}

// run drives the three activities until the first one ends.
func (p *Peer) run(ctx context.Context) error {
	p.mu.Lock()
	stream, dgram := p.stream, p.dgram
	p.mu.Unlock()

	// Buffered so abandoned activities never block on send.
	done := make(chan error, 3)
	var wg sync.WaitGroup

	recovery.Go(&wg, p.logger, "receive-stream", func() {
		done <- p.receiveStream(stream)
	})
	recovery.Go(&wg, p.logger, "receive-datagram", func() {
		done <- p.receiveDatagrams(dgram)
	})
	if p.input != nil {
		// Not tracked: a blocked terminal read cannot be interrupted.
		go func() {
			defer recovery.RecoverWithLog(p.logger, "send-stream")
			done <- p.sendLines(stream)
		}()
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
	}

	p.closeSockets()
	wg.Wait()

	p.printer.Info(fmt.Sprintf("disconnected (sent %s, received %s)",
		humanize.Bytes(p.bytesSent.Load()), humanize.Bytes(p.bytesReceived.Load())))

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (p *Peer) receiveStream(stream net.Conn) error {
	reader := protocol.NewFrameReader(stream, p.cfg.ReadBufferSize)
	for {
		frame, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrRelayClosed
			}
			return fmt.Errorf("receive stream: %w", err)
		}
		p.bytesReceived.Add(uint64(len(frame)))
		p.printer.Chat(string(frame))
	}
}

func (p *Peer) receiveDatagrams(dgram *net.UDPConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := dgram.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("receive datagram: %w", err)
		}
		p.printer.Notice(string(buf[:n]))
	}
}

// sendLines writes one chat frame per input line. io.EOF is returned when
// input is exhausted.
func (p *Peer) sendLines(stream net.Conn) error {
	scanner := bufio.NewScanner(p.input)
	for scanner.Scan() {
		frame := protocol.ChatFrame(p.cfg.Name, scanner.Text())
		n, err := stream.Write(frame)
		p.bytesSent.Add(uint64(n))
		if err != nil {
			return fmt.Errorf("send stream: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return io.EOF
}

func (p *Peer) closeSockets() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.Close()
	}
	if p.dgram != nil {
		p.dgram.Close()
	}
}
