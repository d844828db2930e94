// Package health provides health check and metrics HTTP endpoints for the relay.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider provides relay statistics.
type StatsProvider interface {
	// IsRunning returns true if the relay is serving.
	IsRunning() bool

	// Stats returns relay statistics.
	Stats() Stats
}

// Stats contains relay health statistics.
type Stats struct {
	StartedAt     time.Time
	SessionCount  int
	FramesRelayed uint64
	BytesRelayed  uint64
	Sessions      []SessionStats
}

// SessionStats describes one registered session.
type SessionStats struct {
	ID            string
	Name          string
	DatagramAddr  string
	JoinedAt      time.Time
	BytesSent     uint64
	BytesReceived uint64
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9090")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// handleHealthz returns 200 with JSON stats if the relay is serving,
// 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.serving() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"running": false,
		})
		return
	}

	stats := s.provider.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"running":        true,
		"uptime":         humanize.RelTime(stats.StartedAt, time.Now(), "", ""),
		"session_count":  stats.SessionCount,
		"frames_relayed": stats.FramesRelayed,
		"bytes_relayed":  stats.BytesRelayed,
		"bytes_human":    humanize.Bytes(stats.BytesRelayed),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if !s.serving() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY\n"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY\n"))
}

type sessionView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DatagramAddr  string `json:"datagram_addr"`
	Joined        string `json:"joined"`
	BytesSent     string `json:"bytes_sent"`
	BytesReceived string `json:"bytes_received"`
}

// handleSessions lists registered sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.serving() {
		http.Error(w, "relay not running", http.StatusServiceUnavailable)
		return
	}

	stats := s.provider.Stats()
	views := make([]sessionView, 0, len(stats.Sessions))
	for _, ss := range stats.Sessions {
		views = append(views, sessionView{
			ID:            ss.ID,
			Name:          ss.Name,
			DatagramAddr:  ss.DatagramAddr,
			Joined:        humanize.Time(ss.JoinedAt),
			BytesSent:     humanize.Bytes(ss.BytesSent),
			BytesReceived: humanize.Bytes(ss.BytesReceived),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(views),
		"sessions": views,
	})
}

func (s *Server) serving() bool {
	return s.provider != nil && s.provider.IsRunning()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
