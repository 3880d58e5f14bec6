package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstgnz/coursepay/billing"
	"github.com/mstgnz/coursepay/dispute"
	"github.com/mstgnz/coursepay/fanout"
	"github.com/mstgnz/coursepay/gateway"
	"github.com/mstgnz/coursepay/handler"
	"github.com/mstgnz/coursepay/idempotency"
	"github.com/mstgnz/coursepay/infra/auth"
	"github.com/mstgnz/coursepay/infra/cache"
	"github.com/mstgnz/coursepay/infra/config"
	"github.com/mstgnz/coursepay/infra/conn"
	"github.com/mstgnz/coursepay/infra/events"
	"github.com/mstgnz/coursepay/infra/logger"
	"github.com/mstgnz/coursepay/infra/metrics"
	"github.com/mstgnz/coursepay/infra/middle"
	"github.com/mstgnz/coursepay/infra/opensearch"
	auditpg "github.com/mstgnz/coursepay/infra/postgres"
	"github.com/mstgnz/coursepay/infra/queue"
	"github.com/mstgnz/coursepay/infra/validate"
	"github.com/mstgnz/coursepay/router"
	v1 "github.com/mstgnz/coursepay/router/v1"
	"github.com/mstgnz/coursepay/store/memory"
	"github.com/mstgnz/coursepay/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// store is what both persistence drivers provide.
type store interface {
	billing.Store
	dispute.Store
}

// jobQueue is a queue with workers.
type jobQueue interface {
	queue.Queue
	Start(ctx context.Context)
	Wait()
}

// auditStore receives and searches gateway call records.
type auditStore interface {
	gateway.AuditSink
	handler.GatewayLogSearcher
}

func init() {
	// .env is optional; the environment wins
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Load Env Error: %v\n", err)
	}
	_ = config.App()
	validate.CustomValidate()
}

func main() {
	if err := run(); err != nil {
		logger.Fatal("coursepay stopped", err)
	}
}

func run() error {
	cfg := config.GetAppConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logging and audit sink
	var osLogger *opensearch.Logger
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize OpenSearch client: %v\n", err)
		} else {
			osLogger = opensearch.NewLogger(osClient)
		}
	}
	var sink logger.Sink
	if osLogger != nil {
		sink = osLogger
	}
	logger.InitGlobalLogger(sink)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Storage
	var (
		st    store
		sqlDB *sql.DB
		audit auditStore
	)
	switch cfg.StorageDriver {
	case "memory":
		mem := memory.New()
		seedPlans(mem, cfg)
		st = mem
		logger.Warn("using in-memory storage, data is lost on restart")
	default:
		db, err := conn.ConnectDatabase(ctx, conn.DSN())
		if err != nil {
			return err
		}
		defer db.CloseDatabase()
		if err := conn.Migrate(db.DB); err != nil {
			return err
		}
		sqlDB = db.DB
		st = postgres.New(db.DB)
		audit = auditpg.NewLogger(db.DB)
	}
	if osLogger != nil {
		audit = osLogger
	}

	// Redis backs idempotency, cache and queue when configured
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := conn.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
	}

	var (
		idem    idempotency.Store
		backend cache.Backend
	)
	if rdb != nil {
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		backend = cache.NewRedisBackend(rdb, "coursepay:cache:")
	} else {
		memIdem := idempotency.NewMemoryStore(cfg.IdempotencyTTL)
		go every(ctx, 10*time.Minute, memIdem.Cleanup)
		idem = memIdem

		memCache := cache.NewMemoryBackend(cfg.CacheSize)
		memCache.StartCleanup(ctx, time.Minute)
		backend = memCache
		logger.Warn("REDIS_URL not set, idempotency and cache are process local")
	}
	responseCache := cache.NewResponseCache(backend, cfg.CacheTTL, m)

	publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer publisher.Close()

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		AccessToken: cfg.GatewayAccessToken,
		Timeout:     cfg.GatewayTimeout,
		MaxRetries:  cfg.GatewayMaxRetries,
	}, audit, m)

	hub := fanout.NewHub(m)

	// Services
	billingDeps := billing.Deps{
		Store:    st,
		Gateway:  gw,
		Cache:    responseCache,
		Notifier: hub,
		Events:   publisher,
		Metrics:  m,
		Config: billing.Config{
			Currency:        cfg.Currency,
			MinAmount:       cfg.PaymentMinAmount,
			MaxAmount:       cfg.PaymentMaxAmount,
			RefundWindow:    cfg.RefundWindow,
			NotificationURL: cfg.NotificationURL,
			BackURL:         cfg.BackURL,
		},
	}
	lifecycle := billing.NewLifecycle(billingDeps)
	orchestrator := billing.NewOrchestrator(billingDeps, idem, lifecycle)
	reconciler := billing.NewReconciler(billingDeps, lifecycle)
	refunds := billing.NewRefundPolicy(billingDeps, lifecycle)
	wallet := billing.NewWallet(billingDeps, lifecycle)
	mediator := dispute.NewMediator(dispute.Deps{
		Store:    st,
		Gateway:  gw,
		Cache:    responseCache,
		Notifier: hub,
		Events:   publisher,
		Metrics:  m,
	})

	// Background jobs
	dispatcher := queue.NewDispatcher(m)
	reconcile := func(ctx context.Context, job *queue.Job) error {
		return reconciler.ReconcilePayment(ctx, job.ResourceID)
	}
	dispatcher.Handle(queue.JobTypePayment, reconcile)
	dispatcher.Handle(queue.JobTypeSubscriptionPayment, reconcile)
	dispatcher.Handle(queue.JobTypeSubscription, func(ctx context.Context, job *queue.Job) error {
		return lifecycle.SyncFromGateway(ctx, job.ResourceID)
	})
	dispatcher.Handle(queue.JobTypeClaim, func(ctx context.Context, job *queue.Job) error {
		return mediator.SyncClaim(ctx, job.ResourceID)
	})
	dispatcher.Handle(queue.JobTypeChargeback, func(ctx context.Context, job *queue.Job) error {
		return mediator.SyncChargeback(ctx, job.ResourceID)
	})
	dispatcher.OnStatus(func(job queue.Job) {
		hub.Publish(fanout.JobSubject(job.ID), fanout.Update{
			Type:       "job",
			Status:     string(job.Status),
			ResourceID: job.ResourceID,
			Message:    job.ErrorMsg,
			At:         job.UpdatedAt,
		})
	})

	var jobs jobQueue
	if rdb != nil {
		jobs = queue.NewRedisQueue(rdb, dispatcher, "coursepay:queue:", cfg.QueueWorkers, cfg.QueueMaxRetries)
	} else {
		jobs = queue.NewMemoryQueue(dispatcher, cfg.QueueWorkers, cfg.QueueMaxRetries, 0)
	}
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	jobs.Start(workerCtx)
	mediator.StartClaimPoller(ctx, cfg.ClaimPollInterval)

	// HTTP
	health := handler.NewHealthHandler(sqlDB, cfg.Environment)
	if rdb != nil {
		health.AddCheck("redis", true, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if len(cfg.KafkaBrokers) > 0 {
		health.AddCheck("kafka", false, func(ctx context.Context) error {
			return events.Ping(ctx, cfg.KafkaBrokers)
		})
	}

	srvHandler := router.New(router.Deps{
		API: v1.Handlers{
			Payments:      handler.NewPaymentHandler(orchestrator, reconciler),
			Subscriptions: handler.NewSubscriptionHandler(lifecycle, refunds),
			Disputes:      handler.NewDisputeHandler(mediator),
			Logs:          handler.NewLogsHandler(audit),
			Wallet:        handler.NewWalletHandler(wallet),
		},
		Health:         health,
		Webhooks:       handler.NewWebhookHandler(jobs, cfg.WebhookSecret),
		Hub:            hub,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Tokens:         auth.NewJWTService(cfg.JWTSecret),
		RateLimiter:    middle.NewRateLimiter(ctx, config.GetIntEnv("RATE_LIMIT_PER_MINUTE", 120)),
		WebhookIPs:     config.GetListEnv("WEBHOOK_ALLOWED_IPS"),
		AllowedOrigins: config.GetListEnv("CORS_ALLOWED_ORIGINS"),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srvHandler,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("API is running on " + cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stopWorkers()
		jobs.Wait()
		return err
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", err)
	}

	// in-flight jobs finish before the stores close
	stopWorkers()
	jobs.Wait()
	return nil
}

// seedPlans gives the in-memory driver a plan catalog. PLAN_EXTERNAL_ID links
// it to a plan created on the gateway.
func seedPlans(mem *memory.Store, cfg *config.AppConfig) {
	mem.AddPlan(billing.Plan{
		PublicID:          "monthly",
		ExternalID:        config.GetEnv("PLAN_EXTERNAL_ID", ""),
		Name:              config.GetEnv("PLAN_NAME", "Monthly access"),
		Amount:            config.GetDecimalEnv("PLAN_AMOUNT", decimal.RequireFromString("49.90")),
		Currency:          cfg.Currency,
		FrequencyInterval: 1,
		FrequencyUnit:     billing.FrequencyMonths,
		Active:            true,
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
