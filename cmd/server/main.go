package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	shopassistui "github.com/MegaGrindStone/shopassist-web-ui"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/handlers"
	"github.com/MegaGrindStone/shopassist-web-ui/internal/services"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	port       string
	apiURL     string
	logLevel   string
	markdown   bool
}

const (
	evictionInterval = time.Minute
	shutdownTimeout  = 10 * time.Second

	errLoggerKey = "err"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "shopassist-web-ui",
		Short:         "Serve the ShopAssist chat interface",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "path to the YAML config file")
	cmd.Flags().StringVar(&f.port, "port", "", "port to listen on")
	cmd.Flags().StringVar(&f.apiURL, "api-url", "", "base URL of the shopping assistant backend")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&f.markdown, "markdown", false, "render assistant replies as Markdown")

	return cmd
}

// resolveConfig layers the configuration: defaults, then the config file, then .env and the process
// environment, then the flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, f flags) (config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("error loading .env: %w", err)
	}

	cfgPath := f.configPath
	if cfgPath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return config{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		cfgPath = filepath.Join(cfgDir, "shopassist", "config.yaml")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return config{}, err
	}
	cfg.applyEnv(os.Getenv)

	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("api-url") {
		cfg.APIURL = f.apiURL
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("markdown") {
		cfg.Markdown = f.markdown
	}

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := services.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("error registering metrics: %w", err)
	}

	backend := services.NewShopAssist(cfg.APIURL, time.Duration(cfg.RequestTimeout), metrics, logger)

	m, err := handlers.NewMain(backend, cfg.Markdown, logger)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "shopassist",
		Name:      "conversations",
		Help:      "Conversations currently held in memory.",
	}, func() float64 {
		return float64(m.Registry().Len())
	}))

	scheduler, err := m.Registry().StartEviction(time.Duration(cfg.IdleTimeout), evictionInterval)
	if err != nil {
		return err
	}

	// Serve static files
	staticFS, err := fs.Sub(shopassistui.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.HandleFunc("/chat", m.HandleChats)
	mux.HandleFunc("/image-search", m.HandleImageSearch)
	mux.HandleFunc("/catalog", m.HandleCatalog)
	mux.HandleFunc("/healthz", m.HandleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Probe the backend once so a misconfigured URL shows up in the logs right away
	probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := backend.Health(probeCtx); err != nil {
		logger.Warn("Shopping assistant backend is not healthy yet",
			slog.String("apiURL", cfg.APIURL),
			slog.String(errLoggerKey, err.Error()))
	}
	probeCancel()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("apiURL", cfg.APIURL))
	return serve(srv, shutdown, func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("Failed to shutdown scheduler", slog.String(errLoggerKey, err.Error()))
		}
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String(errLoggerKey, err.Error()))
		}
	}, logger)
}

// serve runs srv until it fails or a signal arrives on shutdown. onShutdown is registered with srv so it
// runs as soon as the server starts shutting down; this is where the event streams get closed, which
// would otherwise keep srv.Shutdown waiting on them. serve does not return before onShutdown has finished.
func serve(srv *http.Server, shutdown <-chan os.Signal, onShutdown func(), logger *slog.Logger) error {
	hooksDone := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(hooksDone)
		onShutdown()
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		serverErrors <- srv.ListenAndServe()
	}()

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}

		// Shutdown runs the hook in its own goroutine; the backend requests it waits for must finish
		// before the process exits
		select {
		case <-hooksDone:
		case <-ctx.Done():
			logger.Warn("Timed out waiting for shutdown hooks")
		}
	}
	return nil
}
