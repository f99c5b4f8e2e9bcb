package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outbound-dialer/internal/audit"
	"outbound-dialer/internal/auth"
	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/config"
	"outbound-dialer/internal/httpapi"
	"outbound-dialer/internal/observability"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/summary"
	"outbound-dialer/internal/targets"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/webhook"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, utils.DriverName, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Redis is optional; without it the persisted active session marker is the only guard.
	var guard bulk.InFlightGuard = bulk.NopGuard{}
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		guard = bulk.NewRedisGuard(rdb, cfg.Bulk.InFlightTTL)
	}

	generator, err := newGenerator(rootCtx, cfg.Summarizer)
	if err != nil {
		log.Error("summarizer init failed", "err", err)
		os.Exit(1)
	}

	provider := telephony.NewRetellClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	sessions := calls.NewPostgresRepo(db)
	directory := targets.NewPostgresDirectory(db)
	dialer := calls.NewDialer(provider, sessions, metrics, calls.DialerConfig{
		FromNumber:     cfg.Provider.FromNumber,
		DefaultAgentID: cfg.Provider.DefaultAgentID,
	})
	campaigns := bulk.NewPostgresRepo(db)
	orchestrator := bulk.NewOrchestrator(campaigns, sessions, directory, dialer, bulk.Options{
		Guard:         guard,
		Metrics:       metrics,
		NextCallDelay: cfg.Bulk.NextCallDelay,
	})
	pipeline := summary.NewPipeline(generator, cfg.Summarizer.Timeout, metrics)
	processor := webhook.NewProcessor(sessions, directory, pipeline, orchestrator, provider, metrics)

	h := httpapi.Handlers{
		Auth:            authManager,
		AllowTokenIssue: !cfg.IsProduction(),
		DB:              db,
		Directory:       directory,
		Sessions:        sessions,
		Dialer:          dialer,
		Campaigns:       orchestrator,
		Reports:         reporting.NewService(campaigns, sessions),
		Events:          processor,
		Audit:           audit.NewService(audit.NewPostgresRepo(db)),
		WebhookSecret:   cfg.Provider.WebhookSecret,
	}
	if h.WebhookSecret == "" {
		log.Warn("provider webhook signature verification disabled")
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.GinMiddleware())

	registerPublicRoutes(r, h, reg)
	registerProtectedRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"provider", provider.Name(),
			"summarizer", cfg.Summarizer.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// newGenerator returns nil for the "none" backend; the pipeline then stores degraded summaries.
func newGenerator(ctx context.Context, cfg config.SummarizerConfig) (summary.Generator, error) {
	switch cfg.Backend {
	case "gemini":
		g, err := summary.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		return summary.NewOpenAIGenerator(cfg.APIKey, cfg.Model, ""), nil
	default:
		return nil, nil
	}
}
