package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonirico/wsbridge"
	"github.com/sonirico/wsbridge/host"
)

const shutdownTimeout = 5 * time.Second

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath string
	addr       string
	path       string
	logLevel   string
	logFormat  string
	evict      bool
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept host sessions and bridge their websocket connections",
	Long: `Start the bridge. Hosts open a websocket session on --addr/--path and issue
connect, send, close, registerListener and listClients commands.

On SIGINT/SIGTERM every live connection is closed gracefully, the registry is
cleared and the transport workers are stopped.`,
	Example: `  # Defaults (127.0.0.1:8787/bridge)
  wsbridge serve

  # With a config file and debug logs
  wsbridge serve --config wsbridge.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&f.path, "path", "", "HTTP path of the host endpoint (overrides config)")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
	serveCmd.Flags().BoolVar(&f.evict, "evict-closed", false, "Forget connections once they are closed by the peer or fail")

	rootCmd.AddCommand(serveCmd)
}

func loadServeConfig(cmd *cobra.Command, f serveFlags) (wsbridge.Config, error) {
	cfg := wsbridge.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = wsbridge.LoadConfig(f.configPath); err != nil {
			return cfg, err
		}
	}

	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.path != "" {
		cfg.Server.Path = f.path
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if cmd.Flags().Changed("evict-closed") {
		cfg.EvictClosed = f.evict
	}

	return cfg, nil
}

func serverOptions(cfg wsbridge.ServerConfig) []host.ServerOption {
	opts := []host.ServerOption{host.WithReadLimit(cfg.ReadLimit)}
	if len(cfg.OriginPatterns) > 0 {
		opts = append(opts, host.WithOriginPatterns(cfg.OriginPatterns...))
	}
	return opts
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd, serveFlagVals)
	if err != nil {
		return err
	}

	logger := wsbridge.NewLogrusLogger(wsbridge.NewLogrus(cfg.Log, cmd.ErrOrStderr()))

	transport := wsbridge.NewWebsocketTransport(logger, nil, cfg.Dialer, wsbridge.ErrorAdapters{})
	registry := wsbridge.NewRegistry(transport, cfg, logger)
	registry.On(wsbridge.LifecycleRemoved, func(id string) {
		logger.Debugf("instance %s removed", id)
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, host.NewServer(host.NewDispatcher(registry, logger), logger, serverOptions(cfg.Server)...))

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Infof("listening on ws://%s%s", ln.Addr(), cfg.Server.Path)

	select {
	case <-ctx.Done():
		logger.Infoln("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("host server shutdown: %s", err)
	}

	registry.ShutdownAll()

	if err := transport.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("transport shutdown: %s", err)
	}

	logger.Infoln("cleaned up")
	return nil
}
