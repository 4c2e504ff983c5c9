// Package main is the entry point for the triage API: the HTTP surface
// over the traceback store, ticket mirror, and task queue.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/config"
	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/esstore"
	"github.com/topher200/assertion-context/internal/handler"
	"github.com/topher200/assertion-context/internal/jira"
	"github.com/topher200/assertion-context/internal/sched"
	"github.com/topher200/assertion-context/internal/tasks"
	"github.com/topher200/assertion-context/internal/telemetry"
	"github.com/topher200/assertion-context/internal/triage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// ── Structured Logger ──────────────────────────────────────────────────
	logger, _ := zap.NewProduction()
	if cfg.DebugLogging {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// ── OpenTelemetry Tracer ───────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "traceback-api", otelEndpoint)
		if err != nil {
			logger.Error("OTel tracer init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
	}

	// ── Redis ──────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	defer rdb.Close()

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := sched.NewClient(cfg.NATSAddress, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()
	if err := natsClient.ProvisionTaskStream(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	scheduler := sched.NewScheduler(natsClient)
	submitter := tasks.NewSubmitter(scheduler)

	// ── Cache ──────────────────────────────────────────────────────────────
	cacheCoordinator := cache.NewCoordinator(rdb, cfg.UseCache, logger)
	cacheCoordinator.SetInvalidationHook(func(ctx context.Context) {
		if err := submitter.SubmitHydrateCache(ctx); err != nil {
			logger.Warn("enqueueing cache warm-up failed", zap.Error(err))
		}
	})

	// ── Search Index ───────────────────────────────────────────────────────
	store, err := esstore.NewStore(elasticsearch.Config{
		Addresses: []string{cfg.ESAddress},
	}, cacheCoordinator, logger)
	if err != nil {
		logger.Fatal("elasticsearch client failed", zap.Error(err))
	}

	// ── Ticket Tracker ─────────────────────────────────────────────────────
	jiraClient, err := jira.NewClient(jira.Config{
		ServerURL:  cfg.JiraServer,
		Username:   cfg.JiraUsername,
		Password:   cfg.JiraPassword,
		ProjectKey: cfg.JiraProjectKey,
		Assignees:  cfg.JiraAssignees,
	}, logger)
	if err != nil {
		logger.Fatal("jira client failed", zap.Error(err))
	}

	// ── Use Cases ──────────────────────────────────────────────────────────
	correlator := correlate.New(store, logger)
	svc := triage.NewService(store, jiraClient, correlator, submitter, cacheCoordinator,
		triage.Config{S3Bucket: cfg.S3Bucket, S3KeyPrefix: cfg.S3KeyPrefix}, logger)

	h := handler.New(svc, handler.NewSessionStore(rdb), store, store, submitter,
		cacheCoordinator, natsClient,
		handler.Health{
			Index:   store,
			KV:      handler.RedisPinger{Rdb: rdb},
			QueueUp: natsClient.Connected,
		},
		handler.Links{
			KibanaRedirectURL: cfg.KibanaRedirectURL,
			ProductURL:        cfg.ProductURL,
		}, logger)

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("traceback-api"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	h.Register(e)

	go func() {
		logger.Info("traceback-api listening", zap.String("addr", cfg.ListenAddr))
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("traceback-api shut down cleanly")
}
