// Package main provides the CLI entry point for the relaychat relay and peer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/relaychat/internal/allocator"
	"github.com/postalsys/relaychat/internal/config"
	"github.com/postalsys/relaychat/internal/console"
	"github.com/postalsys/relaychat/internal/health"
	"github.com/postalsys/relaychat/internal/logging"
	"github.com/postalsys/relaychat/internal/metrics"
	"github.com/postalsys/relaychat/internal/peer"
	"github.com/postalsys/relaychat/internal/relay"
	"github.com/postalsys/relaychat/internal/wizard"
)

var (
	// Version is set at build time
	Version = "dev"
)

// bindAny lets the OS choose the peer's local address.
const bindAny = "any"

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "relaychat",
		Short: "relaychat - stream chat relay with datagram presence notices",
		Long: `relaychat runs either a relay that fans chat messages out to every
connected participant, or a peer that joins a relay.

Chat travels over a stream connection. Join and leave notices arrive as
datagrams on a port the peer announces in its handshake.

Run without a subcommand on a terminal to be asked for the mode,
address, port and display name.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return cmd.Help()
			}
			return runInteractive(cmd, g)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd(g))
	rootCmd.AddCommand(joinCmd(g))

	return rootCmd
}

func initCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "output", "o", "./relaychat.yaml", "Where to write the configuration")

	return cmd
}

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		address       string
		port          int
		counterFile   string
		healthEnabled bool
		healthAddress string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Long:  "Accept peers on the stream port and relay chat between them, sending presence notices over datagrams from the same port.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("address") {
				cfg.Relay.Address = address
			}
			if flags.Changed("port") {
				cfg.Relay.Port = port
			}
			if flags.Changed("counter-file") {
				cfg.Allocator.CounterFile = counterFile
			}
			if flags.Changed("health") {
				cfg.Health.Enabled = healthEnabled
			}
			if flags.Changed("health-address") {
				cfg.Health.Address = healthAddress
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1", "IP address to bind")
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "Port for both stream and datagram sockets")
	cmd.Flags().StringVar(&counterFile, "counter-file", allocator.DefaultCounterFile, "Peer address counter file to reset on start")
	cmd.Flags().BoolVar(&healthEnabled, "health", false, "Serve health and metrics endpoints")
	cmd.Flags().StringVar(&healthAddress, "health-address", "127.0.0.1:9090", "Health server listen address")

	return cmd
}

func joinCmd(g *globalFlags) *cobra.Command {
	var (
		relayAddress string
		port         int
		name         string
		bind         string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a relay as a peer",
		Long: `Connect to a relay and chat. Each line typed is sent to every other
participant. Messages and presence notices are printed as they arrive.

By default the local address comes from the shared counter file so that
several peers on one machine use distinct loopback addresses. Pass
--bind any to let the OS choose, or --bind <ip> for a fixed address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("relay") {
				cfg.Peer.RelayAddress = relayAddress
			}
			if flags.Changed("port") {
				cfg.Peer.Port = port
			}
			if flags.Changed("name") {
				cfg.Peer.Name = name
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runPeer(cmd.Context(), cfg, bind)
		},
	}

	cmd.Flags().StringVarP(&relayAddress, "relay", "r", "127.0.0.1", "Relay IP address")
	cmd.Flags().IntVarP(&port, "port", "p", 5000, "Relay port")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name")
	cmd.Flags().StringVar(&bind, "bind", "", `Local address: empty uses the counter file, "any" lets the OS choose`)

	return cmd
}

func runInteractive(cmd *cobra.Command, g *globalFlags) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	res, err := wizard.New(cfg, cmd.OutOrStdout()).Run()
	if err != nil {
		return err
	}
	res.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if res.Mode == wizard.ModeRelay {
		return runRelay(cmd.Context(), cfg)
	}
	return runPeer(cmd.Context(), cfg, "")
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	alloc := allocator.NewFile(cfg.Allocator.CounterFile, logger)
	alloc.Base = cfg.Allocator.Base
	alloc.Prefix = cfg.Allocator.Prefix

	r := relay.New(relay.Config{
		Address:        cfg.Relay.Address,
		Port:           cfg.Relay.Port,
		ReadBufferSize: cfg.Relay.ReadBufferSize,
		FrameRate:      cfg.Relay.FrameRate,
		FrameBurst:     cfg.Relay.FrameBurst,
	},
		relay.WithLogger(logger),
		relay.WithMetrics(metrics.Default()),
		relay.WithAllocator(alloc),
	)

	if err := r.Start(); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	var hs *health.Server
	if cfg.Health.Enabled {
		hs = health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
			Gatherer:     prometheus.DefaultGatherer,
		}, r)
		if err := hs.Start(); err != nil {
			r.Stop()
			return fmt.Errorf("failed to start health server: %w", err)
		}
		logger.Info("health server started", logging.KeyLocalAddr, hs.Address().String())
	}

	ctx, stop := signalContext(ctx)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	if hs != nil {
		if err := hs.Stop(); err != nil {
			logger.Warn("health server shutdown failed", logging.KeyError, err)
		}
	}
	r.Stop()
	return nil
}

func runPeer(ctx context.Context, cfg *config.Config, bind string) error {
	logger := newLogger(cfg)

	var alloc allocator.Allocator
	switch bind {
	case "":
		f := allocator.NewFile(cfg.Allocator.CounterFile, logger)
		f.Base = cfg.Allocator.Base
		f.Prefix = cfg.Allocator.Prefix
		alloc = f
	case bindAny:
	default:
		alloc = allocator.Static(bind)
	}

	out := console.New(os.Stdout)
	opts := []peer.Option{
		peer.WithLogger(logger),
		peer.WithPrinter(out),
		peer.WithInput(os.Stdin),
	}
	if alloc != nil {
		opts = append(opts, peer.WithAllocator(alloc))
	}

	p := peer.New(peer.Config{
		RelayAddress:   cfg.Peer.RelayAddress,
		Port:           cfg.Peer.Port,
		Name:           cfg.Peer.Name,
		ReadBufferSize: cfg.Peer.ReadBufferSize,
		DialTimeout:    peer.DefaultConfig().DialTimeout,
	}, opts...)

	ctx, stop := signalContext(ctx)
	defer stop()

	err := p.Connect(ctx)
	if errors.Is(err, peer.ErrRelayClosed) {
		out.Info(err.Error())
		return nil
	}
	return err
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return logger
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
