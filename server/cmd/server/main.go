package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/energytracker/energytracker/server/internal/api"
	"github.com/energytracker/energytracker/server/internal/config"
	"github.com/energytracker/energytracker/server/internal/metrics"
	"github.com/energytracker/energytracker/server/internal/relay"
	"github.com/energytracker/energytracker/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults are used when empty")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("energytracker-server starting", "config", *configPath)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	settings := relay.SettingsFromConfig(cfg)
	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"index", cfg.Server.IndexPath(),
		"executable", settings.Path,
		"executable_found", relay.Found(settings.Path),
		"timeout", settings.Timeout,
	)
	if !relay.Found(settings.Path) {
		slog.Warn("calculator executable not found; calculations will fail until it is built",
			"executable", settings.Path)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := metrics.New()
	rl := relay.New(settings, reg)

	// Hot reload swaps calculator settings; listener settings need a restart.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				rl.Update(relay.SettingsFromConfig(updated))
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	hub := ws.New(rl, cfg.Server.MaxBodyBytes)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/", api.New(rl, api.Options{
		IndexPath:    cfg.Server.IndexPath(),
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}))
	httpMux.Handle("/ws/calculate", hub)
	if cfg.Metrics.Enabled {
		httpMux.Handle(cfg.Metrics.Path, reg)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: api.Wrap(httpMux, cfg.Server.CORS.AllowedOrigins),
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("energytracker-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown incomplete", "err", err)
	}
}
