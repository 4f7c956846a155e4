// Command availd runs the standalone availability service: an in-memory slot
// store seeded with a sample schedule, exposed over the HTTP API the intake
// server's availability client consumes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocaline/intake/internal/availability"
	"github.com/vocaline/intake/internal/config"
	"github.com/vocaline/intake/internal/health"
	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/internal/observe"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":8081", "TCP address to listen on")
	days := flag.Int("days", 14, "number of days of sample schedule to seed")
	configPath := flag.String("config", "", "optional YAML config supplying the motive catalog")
	logLevel := flag.String("log_level", "info", "log verbosity: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(*logLevel).Slog(),
	}))
	slog.SetDefault(logger)

	catalog := motive.DefaultCatalog()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "availd: %v\n", err)
			return 1
		}
		if len(cfg.Motives.Catalog) > 0 {
			catalog = cfg.Motives.Catalog
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "availd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	store := availability.NewStore()
	seeded := store.Seed(catalog, *days)
	slog.Info("sample schedule seeded", "slots", seeded, "days", *days, "motives", len(catalog))

	api := availability.NewServer(store, logger)
	probes := health.New(health.Checker{
		Name:  "store",
		Check: func(context.Context) error { return nil },
	})

	r := chi.NewRouter()
	r.Use(observe.Middleware(metrics))
	r.Get("/healthz", probes.Healthz)
	r.Get("/readyz", probes.Readyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", api.Router())

	srv := &http.Server{Addr: *addr, Handler: r}
	go func() {
		slog.Info("availability service listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}
