// Package main is the entry point for the task worker: it consumes the
// task queue and runs the recurring schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/topher200/assertion-context/internal/cache"
	"github.com/topher200/assertion-context/internal/config"
	"github.com/topher200/assertion-context/internal/correlate"
	"github.com/topher200/assertion-context/internal/esstore"
	"github.com/topher200/assertion-context/internal/ingest"
	"github.com/topher200/assertion-context/internal/jira"
	"github.com/topher200/assertion-context/internal/notify"
	"github.com/topher200/assertion-context/internal/sched"
	"github.com/topher200/assertion-context/internal/slack"
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
		tp, err := telemetry.InitTracer(context.Background(), "traceback-worker", otelEndpoint)
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

	// ── Object Storage ─────────────────────────────────────────────────────
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatal("aws config failed", zap.Error(err))
	}
	ingestor := ingest.NewIngestor(s3.NewFromConfig(awsCfg), store, cfg.PapertrailAPIToken, logger)

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

	poster := slack.NewPoster(slack.PosterConfig{
		WebhookDefault: cfg.SlackWebhookDefault,
		WebhookAdwords: cfg.SlackWebhookAdwords,
		WebhookSocial:  cfg.SlackWebhookSocial,
		RealUserToken:  cfg.SlackRealUserToken,
	}, logger)
	dispatcher := notify.NewDispatcher(correlator, poster, notify.NewSeenStore(rdb), logger)

	// ── Task Consumers ─────────────────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	worker := sched.NewWorker(natsClient)
	tasks.RegisterAll(worker, tasks.Deps{
		Ingestor:      ingestor,
		Triage:        svc,
		Dispatcher:    dispatcher,
		Correlator:    correlator,
		Poster:        poster,
		JiraServerURL: cfg.JiraServer,
		Log:           logger,
	})
	if err := worker.Start(workerCtx); err != nil {
		logger.Fatal("task worker start failed", zap.Error(err))
	}

	// ── Recurring Schedule ─────────────────────────────────────────────────
	schedule := cron.New()
	mustSchedule(logger, schedule, "* * * * *", func() {
		if err := svc.EnqueueRealtime(workerCtx, nil); err != nil {
			logger.Error("enqueueing realtime window failed", zap.Error(err))
		}
	})
	mustSchedule(logger, schedule, "0 * * * *", func() {
		if err := submitter.SubmitPostUnticketed(workerCtx); err != nil {
			logger.Error("enqueueing chat digest failed", zap.Error(err))
		}
	})
	mustSchedule(logger, schedule, "0 5 * * *", func() {
		if err := submitter.SubmitUpdateAllTickets(workerCtx); err != nil {
			logger.Error("enqueueing ticket mirror refresh failed", zap.Error(err))
		}
	})
	schedule.Start()

	logger.Info("traceback-worker started (consumers active)")

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	<-schedule.Stop().Done()
	workerCancel()
	natsClient.Close()
	logger.Info("traceback-worker shut down cleanly")
}

func mustSchedule(logger *zap.Logger, c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Fatal("bad cron spec", zap.String("spec", spec), zap.Error(err))
	}
}
