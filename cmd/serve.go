package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/smazurov/videostream/internal/config"
	"github.com/smazurov/videostream/internal/events"
	"github.com/smazurov/videostream/internal/logging"
	"github.com/smazurov/videostream/internal/metrics"
	"github.com/smazurov/videostream/internal/server"
	"github.com/smazurov/videostream/pkg/vsl"
)

// ServeOptions holds the daemon configuration, flat with toml mapping.
type ServeOptions struct {
	Config string

	SocketPath string `toml:"host.socket_path" env:"HOST_SOCKET_PATH"`
	PoolSize   int    `toml:"host.pool_size" env:"HOST_POOL_SIZE"`
	LeaseMs    int    `toml:"host.lease_ms" env:"HOST_LEASE_MS"`
	ShmDir     string `toml:"host.shm_dir" env:"HOST_SHM_DIR"`
	QueueSize  int    `toml:"host.queue_size" env:"HOST_QUEUE_SIZE"`

	HTTPAddr string `toml:"server.addr" env:"SERVER_ADDR"`

	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingHost   string `toml:"logging.host" env:"LOGGING_HOST"`
	LoggingClient string `toml:"logging.client" env:"LOGGING_CLIENT"`
	LoggingAPI    string `toml:"logging.api" env:"LOGGING_API"`
}

func (o *ServeOptions) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"host":   o.LoggingHost,
			"client": o.LoggingClient,
			"api":    o.LoggingAPI,
		},
	}
}

func newServeCmd() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the frame-sharing daemon",
		Long:  "Runs a frame host with its signalling socket, the HTTP status API, and Prometheus metrics.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", "videostream.toml", "Path to configuration file")
	f.StringVar(&opts.SocketPath, "socket-path", "/tmp/videostream.vsl", "Signalling socket path")
	f.IntVar(&opts.PoolSize, "pool-size", 8, "Maximum frames in the pool")
	f.IntVar(&opts.LeaseMs, "lease-ms", 2000, "Frame lease duration in milliseconds")
	f.StringVar(&opts.ShmDir, "shm-dir", "", "Directory for file-backed frames (empty uses memfd)")
	f.IntVar(&opts.QueueSize, "queue-size", 32, "Per-client notification queue size")
	f.StringVar(&opts.HTTPAddr, "http-addr", ":8090", "Status API listen address")
	f.StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	f.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
	f.StringVar(&opts.LoggingHost, "logging-host", "", "Host module logging level")
	f.StringVar(&opts.LoggingClient, "logging-client", "", "Client module logging level")
	f.StringVar(&opts.LoggingAPI, "logging-api", "", "API module logging level")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	if err := config.Load(opts, cmd); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
	}
	logging.Initialize(opts.loggingConfig())
	logger := logging.GetLogger("main")

	bus := events.New()
	unbind := metrics.Bind(bus)
	defer unbind()

	host, err := vsl.NewHost(vsl.HostConfig{
		SocketPath: opts.SocketPath,
		PoolSize:   opts.PoolSize,
		Lease:      time.Duration(opts.LeaseMs) * time.Millisecond,
		ShmDir:     opts.ShmDir,
		QueueSize:  opts.QueueSize,
		Logger:     logging.GetLogger("host"),
		Bus:        bus,
	})
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	defer host.Close()

	api := server.NewServer(host)
	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Start(opts.HTTPAddr)
	}()

	// Live-reload logging levels when the config file changes.
	watcher := config.NewWatcher(opts.Config, func(path string) (logging.Config, error) {
		reloaded := *opts
		reloaded.Config = path
		if err := config.Load(&reloaded, cmd); err != nil {
			return logging.Config{}, err
		}
		return reloaded.loggingConfig(), nil
	}, logger)
	watcher.OnReload(logging.Initialize)
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}
	defer watcher.Stop()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "error", err)
	} else if sent {
		logger.Debug("notified systemd we are ready")
	}

	logger.Info("daemon running",
		"socket", opts.SocketPath,
		"http", opts.HTTPAddr,
		"pool_size", opts.PoolSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case err := <-apiErr:
		logger.Error("status API stopped", "error", err)
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := api.Stop(); err != nil {
		logger.Warn("status API shutdown", "error", err)
	}
	return nil
}
