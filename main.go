package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emaforlin/ws-greeting-server/config"
	"github.com/emaforlin/ws-greeting-server/handlers"
	"github.com/emaforlin/ws-greeting-server/metrics"
	"github.com/emaforlin/ws-greeting-server/middleware"
	natsManager "github.com/emaforlin/ws-greeting-server/nats"
	"github.com/emaforlin/ws-greeting-server/publisher"
	"github.com/emaforlin/ws-greeting-server/server"
	"github.com/emaforlin/ws-greeting-server/websocket"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var host, port, path, configFile string

	root := &cobra.Command{
		Use:           "ws-greeting-server",
		Short:         "WebSocket server answering JSON greetings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("path") {
				cfg.WebSocket.Path = path
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				slog.Error("server stopped", "error", err)
				return err
			}
			return nil
		},
	}

	root.Flags().StringVar(&host, "host", "", "host advertised in endpoint URLs (env SERVER_HOST)")
	root.Flags().StringVar(&port, "port", "", "HTTP listen port (env SERVER_PORT)")
	root.Flags().StringVar(&path, "path", "", "WebSocket endpoint path (env WS_PATH)")
	root.Flags().StringVar(&configFile, "config", "", "YAML configuration file (env CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})

	return root
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)

	// Create server
	srv := server.New(cfg, logger)

	hub := websocket.NewHub(logger)
	// Sessions are closed with 1001 and drained before the NATS connection
	// below is closed, so every closed event is still published.
	srv.RegisterOnShutdown(hub.Shutdown)

	// Session events go to NATS when enabled, otherwise only to the log.
	var (
		events publisher.Publisher = &publisher.LogPublisher{Logger: logger}
		broker handlers.BrokerStatus
	)
	if cfg.NATS.Enabled {
		manager, err := natsManager.NewManager(cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.NATS.Timeout, logger)
		if err != nil {
			return err
		}
		defer manager.Close()
		events, broker = manager, manager
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv.RegisterHandler(cfg.Metrics.Path, m.Handler())
	}

	upgrader := websocket.NewUpgrader(cfg)
	echoHandler := websocket.Instrument(
		websocket.NewEchoHandler(logger, cfg.WebSocket.ResponseMessage),
		m, events, logger,
	)

	healthHandler := handlers.NewHealthHandler(version, hub, broker)
	infoHandler := handlers.NewInfoHandler(cfg, version)

	// Register routes with middleware
	srv.RegisterHandlerWithMiddleware("/health",
		healthHandler.ServeHTTP,
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORS,
	)

	srv.RegisterHandlerWithMiddleware("/info",
		infoHandler.ServeHTTP,
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORS,
	)

	// Register WebSocket endpoint
	srv.RegisterHandlerWithMiddleware(cfg.WebSocket.Path,
		websocket.HandleWebSocket(upgrader, hub, echoHandler, websocket.OptionsFromConfig(cfg), logger),
		middleware.WebSocketLogger(logger),
		middleware.Recovery(logger),
		middleware.RateLimiter(cfg.WebSocket.RateLimit, cfg.WebSocket.RateWindow),
	)

	srv.RegisterHandler("/", http.HandlerFunc(handlers.NotFoundHandler))

	// Start server with graceful shutdown
	return srv.Start(ctx)
}
