// Command intake runs the voice intake server: it hosts concurrent booking
// dialogues, exposes health and metrics endpoints, and (in console mode)
// attaches one interactive session to stdin/stdout.
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

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocaline/intake/internal/availability"
	"github.com/vocaline/intake/internal/booking"
	"github.com/vocaline/intake/internal/config"
	"github.com/vocaline/intake/internal/dialogue"
	"github.com/vocaline/intake/internal/health"
	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/internal/observe"
	"github.com/vocaline/intake/internal/reconcile"
	"github.com/vocaline/intake/internal/resilience"
	"github.com/vocaline/intake/internal/session"
	"github.com/vocaline/intake/internal/turn"
)

const version = "0.1.0"

// consoleSilenceWindow is how long the console exchanger waits for a line
// before reporting silence.
const consoleSilenceWindow = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	console := flag.Bool("console", true, "attach an interactive intake session to stdin/stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "intake: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "intake: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Slog()}))
	slog.SetDefault(logger)

	slog.Info("intake starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "intake",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Booking log ───────────────────────────────────────────────────────────
	blog, closeLog, err := newBookingLog(ctx, cfg.Booking)
	if err != nil {
		slog.Error("failed to open booking log", "err", err)
		return 1
	}
	defer closeLog()

	// ── Availability client + orchestrator ────────────────────────────────────
	client := availability.NewClient(availability.ClientConfig{
		BaseURL: cfg.Availability.BaseURL,
		Timeout: cfg.Availability.Timeout.Std(),
		Retry: resilience.RetryConfig{
			Attempts: cfg.Availability.Retry.Attempts,
			Backoff:  cfg.Availability.Retry.Backoff.Std(),
		},
		Breaker: resilience.BreakerConfig{
			Name:     "availability",
			Trip:     cfg.Availability.Breaker.Trip,
			Cooldown: cfg.Availability.Breaker.Cooldown.Std(),
			Probes:   cfg.Availability.Breaker.Probes,
		},
	}, logger)
	orch := booking.NewOrchestrator(client, blog, cfg.Booking.ReservationTTL.Std(), logger)

	// ── Motive catalog ────────────────────────────────────────────────────────
	catalog := cfg.Motives.Catalog
	if len(catalog) == 0 {
		catalog = motive.DefaultCatalog()
	}
	var motiveOpts []motive.Option
	if cfg.Motives.Threshold > 0 {
		motiveOpts = append(motiveOpts, motive.WithThreshold(cfg.Motives.Threshold))
	}
	if cfg.Motives.TieMargin > 0 {
		motiveOpts = append(motiveOpts, motive.WithTieMargin(cfg.Motives.TieMargin))
	}
	matcher, err := motive.NewMatcher(catalog, motiveOpts...)
	if err != nil {
		slog.Error("failed to build motive matcher", "err", err)
		return 1
	}
	slog.Info("motive catalog loaded", "motives", len(catalog))

	// ── Optional LLM phrasing ─────────────────────────────────────────────────
	backend, err := newPhrasingBackend(cfg.LLM)
	if err != nil {
		slog.Error("failed to create llm backend", "err", err)
		return 1
	}

	// ── Session manager ───────────────────────────────────────────────────────
	lex := reconcile.NewFrenchLexicon()
	dcfg := dialogue.Config{
		Field: reconcile.Config{
			AcceptThreshold:  cfg.Dialogue.AcceptThreshold,
			MergeThreshold:   cfg.Dialogue.MergeThreshold,
			CloseMargin:      cfg.Dialogue.CloseMargin,
			RetryCeiling:     cfg.Dialogue.RetryCeiling,
			RejectionPenalty: cfg.Dialogue.RejectionPenalty,
		},
		PageSize:         cfg.Dialogue.PageSize,
		MaxSilentTurns:   cfg.Dialogue.MaxSilentTurns,
		SearchWindowDays: cfg.Dialogue.SearchWindowDays,
	}
	factory := func(callID string, ex turn.Exchanger) session.Runner {
		if backend != nil {
			ex = turn.NewPhraser(ex, backend, cfg.LLM.Model, cfg.LLM.Timeout.Std(), logger)
		}
		return dialogue.NewMachine(ex, matcher, orch, lex, dcfg, logger.With("call_id", callID)).
			WithMetrics(metrics)
	}
	mgr := session.NewManager(factory, metrics, cfg.Server.MaxConcurrentCalls, logger)

	// ── HTTP server: health + metrics ─────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(health.Checker{
		Name:  "availability",
		Check: availabilityCheck(cfg.Availability.BaseURL),
	}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			stop()
		}
	}()

	// ── Console session ───────────────────────────────────────────────────────
	if *console {
		ex := turn.NewConsole(os.Stdin, os.Stdout, consoleSilenceWindow)
		id, err := mgr.Start(ctx, ex)
		if err != nil {
			slog.Error("failed to start console session", "err", err)
			return 1
		}
		slog.Info("console session started", "call_id", id)

		// The process winds down once the console call ends.
		go func() {
			mgr.Wait()
			stop()
		}()
	} else {
		slog.Info("server ready — press Ctrl+C to shut down")
	}

	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down…")
	var failed bool
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		failed = true
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown error", "err", err)
		failed = true
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if failed {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newBookingLog builds the configured booking log backend. The returned close
// function releases the postgres pool; for the file backend it is a no-op.
func newBookingLog(ctx context.Context, cfg config.BookingConfig) (booking.Log, func(), error) {
	switch cfg.LogBackend {
	case config.LogBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pl := booking.NewPostgresLog(pool)
		if err := pl.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate booking log: %w", err)
		}
		slog.Info("booking log ready", "backend", "postgres")
		return pl, pool.Close, nil
	default:
		slog.Info("booking log ready", "backend", "file", "path", cfg.LogPath)
		return booking.NewFileLog(cfg.LogPath), func() {}, nil
	}
}

// newPhrasingBackend creates the LLM completion backend, or nil when phrasing
// is disabled.
func newPhrasingBackend(cfg config.LLMConfig) (anyllmlib.Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	backend, err := turn.NewBackend(cfg.Provider, opts...)
	if err != nil {
		return nil, err
	}
	slog.Info("llm phrasing enabled", "provider", cfg.Provider, "model", cfg.Model)
	return backend, nil
}

// availabilityCheck probes the availability service's liveness endpoint.
func availabilityCheck(baseURL string) func(ctx context.Context) error {
	client := &http.Client{Timeout: 3 * time.Second}
	url := baseURL + "/healthz"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
