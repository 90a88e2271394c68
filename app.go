package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mitantsoa1/gns-preprod/cache"
	apperrors "github.com/mitantsoa1/gns-preprod/common/errors"
	"github.com/mitantsoa1/gns-preprod/common/logger"
	commonmw "github.com/mitantsoa1/gns-preprod/common/middleware"
	"github.com/mitantsoa1/gns-preprod/config"
	"github.com/mitantsoa1/gns-preprod/controllers"
	"github.com/mitantsoa1/gns-preprod/database"
	"github.com/mitantsoa1/gns-preprod/events"
	"github.com/mitantsoa1/gns-preprod/models"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/reconciler"
	"github.com/mitantsoa1/gns-preprod/repository"
	"github.com/mitantsoa1/gns-preprod/routes"
	"github.com/mitantsoa1/gns-preprod/services"
)

// newLogger builds the process logger, teeing into CloudWatch Logs when
// CLOUDWATCH_ENABLED=true. The returned func flushes it.
func newLogger(ctx context.Context, cfg *config.Config) (*zap.Logger, func(), error) {
	var sink *awspkg.CloudWatchLogsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
		if cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, serviceName); err == nil && cw.IsEnabled() {
			sink = cw
		}
	}

	var (
		l   *zap.Logger
		err error
	)
	if sink != nil {
		l, err = logger.New(cfg.Env, sink)
	} else {
		l, err = logger.New(cfg.Env, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Sync() }, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// --- Database ---
	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error("database close error", zap.Error(err))
		}
	}()
	if err := database.Migrate(db); err != nil {
		return err
	}
	store := repository.NewGormStore(db)

	// --- AWS ---
	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}
	metrics := awspkg.NewMetricsClient(awsCfg)

	// --- Redis (optional) ---
	var dashCache *cache.DashboardCache
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			dashCache = cache.NewDashboardCache(rdb, cfg.DashboardCacheTTL)
		}
	}

	// --- Outbound events ---
	var publisher reconciler.Publisher = events.NoopPublisher{}
	switch cfg.EventsBackend {
	case "sns":
		publisher = events.NewSNSPaymentPublisher(awspkg.NewSNSClient(awsCfg), cfg.PaymentSNSTopicARN, log)
	case "kafka":
		kp := events.NewKafkaPaymentPublisher(cfg.KafkaBrokers, cfg.PaymentEventsTopic, log)
		defer kp.Close()
		publisher = kp
	}

	// --- Reconciliation ---
	stripeSvc := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookKey)
	catalog := services.NewCatalogService(store.Products(), log)
	normalizer := reconciler.NewNormalizer(catalog, models.PaymentStatus(cfg.CheckoutUnpaidStatus), log)
	opts := []reconciler.Option{
		reconciler.WithPublisher(publisher),
		reconciler.WithMetrics(metrics),
		reconciler.WithMaxAttempts(cfg.ReconcileMaxAttempts),
	}
	if dashCache != nil {
		opts = append(opts, reconciler.WithCache(dashCache))
	}
	rec := reconciler.New(store, normalizer, log, opts...)
	handler := services.NewStripeEventHandler(services.NewStripeEventDecoder(stripeSvc, log), rec, log)

	var wg sync.WaitGroup
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	if cfg.StripeEventsQueueURL != "" {
		consumer := services.NewStripeEventConsumer(
			awspkg.NewSQSConsumer(awsCfg, cfg.StripeEventsQueueURL, log), handler, metrics, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("stripe event consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.DeferredSweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.StartSweeper(consumerCtx, cfg.DeferredSweepInterval, cfg.DeferredSweepMinAge); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("deferred sweeper stopped", zap.Error(err))
			}
		}()
	}

	var exports services.ExportStore
	if cfg.ExportBucket != "" {
		exports = awspkg.NewS3Archive(awsCfg, cfg.ExportBucket)
	}

	// --- HTTP ---
	var dashboardCache services.DashboardCache
	if dashCache != nil {
		dashboardCache = dashCache
	}
	ctrls := routes.Controllers{
		Webhook:   &controllers.WebhookController{Stripe: stripeSvc, Handler: handler, Metrics: metrics, Logger: log},
		Dashboard: controllers.NewDashboardController(services.NewDashboardService(store.Payments(), dashboardCache, metrics, log)),
		Admin:     controllers.NewAdminPaymentController(services.NewPaymentAdminService(store.Payments(), exports, log)),
		Catalog:   controllers.NewCatalogController(catalog),
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		logger.RequestID(),
		commonmw.RequestLogger(log),
		commonmw.MetricsMiddleware(metrics, serviceName),
		commonmw.SecurityHeaders(),
		commonmw.CORS(cfg.AllowedOrigins),
		commonmw.Timeout(cfg.RequestTimeout),
		apperrors.ErrorMiddleware(),
	)
	limiter := commonmw.NewRateLimiter(rate.Limit(float64(cfg.WebhookRateLimit)/60), cfg.WebhookRateLimit, 10*time.Minute)
	routes.Register(r, ctrls, cfg.JWTSecret, limiter)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("payment service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// --- Graceful shutdown ---
	log.Info("initiating graceful shutdown")
	stopConsumer()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	log.Info("payment service stopped")
	return nil
}
