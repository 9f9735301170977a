package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Cheertaboi/storefront-order-service/internal/api"
	"github.com/Cheertaboi/storefront-order-service/internal/api/middleware"
	"github.com/Cheertaboi/storefront-order-service/internal/cache"
	"github.com/Cheertaboi/storefront-order-service/internal/concurrency"
	"github.com/Cheertaboi/storefront-order-service/internal/config"
	"github.com/Cheertaboi/storefront-order-service/internal/notify"
	"github.com/Cheertaboi/storefront-order-service/internal/service"
	"github.com/Cheertaboi/storefront-order-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// telemetry, before any ledger asks for a tracer
	var otelProvider *telemetry.Provider
	if cfg.OTelEnabled {
		otelProvider, err = telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    "order-service",
			Environment:    cfg.AppEnv,
			Endpoint:       cfg.OTelEndpoint,
			Insecure:       cfg.OTelInsecure,
			SampleRate:     cfg.OTelSampleRate,
			ExportInterval: 30 * time.Second,
		}, logger)
		if err != nil {
			logger.Error("telemetry disabled", zap.Error(err))
		}
	}

	// storage
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	stores := openBackend(connectCtx, cfg, logger)
	cancel()
	defer stores.close()

	// notifications
	hub := notify.NewHub(logger)
	pool := concurrency.NewPool(ctx, cfg.NotifyWorkers, cfg.NotifyQueueSize)
	dispatcher := service.NewDispatcher(notify.Fanout{hub, notify.NewLogNotifier(logger)}, pool, logger)

	// ledgers
	retry := service.DefaultRetryPolicy()
	retry.MaxAttempts = uint(cfg.LedgerRetryAttempts)
	var (
		promos  *service.PromoLedger
		loyalty *service.LoyaltyLedger
	)
	if !stores.degraded() {
		promoCache := cache.NewPromoCache(stores.promos, cfg.PromoCacheMaxStaleness, logger)
		go promoCache.Run(ctx, cfg.PromoCacheRefresh)
		promos = service.NewPromoLedger(stores.promos, promoCache, retry, logger)
		loyalty = service.NewLoyaltyLedger(stores.loyalty, retry, logger)
	}

	reviews := service.NewReviewFlow(stores.reviews, dispatcher, cfg.TipTargets, logger)
	machine := service.NewOrderMachine(stores.orders, promos, loyalty, reviews, dispatcher, service.MachineConfig{
		LoyaltyThreshold: cfg.LoyaltyThreshold,
		ETAPresets:       cfg.ETAPresets,
		Degraded:         stores.degraded(),
	}, logger)

	go reconcileLoop(ctx, machine, cfg.ReconcileInterval, logger)

	handler := api.NewRouter(api.Deps{
		Machine:       machine,
		Promos:        promos,
		Reviews:       reviews,
		Feed:          hub,
		SubmitLimiter: middleware.NewRateLimiter(cfg.SubmitRatePerMinute),
		LedgerBackend: string(cfg.LedgerBackend),
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		// we received an interrupt signal, shut down.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server Shutdown", zap.Error(err))
		}
		close(idleConnsClosed)
	}()

	logger.Info("starting order-service",
		zap.String("addr", srv.Addr),
		zap.String("ledger_backend", string(cfg.LedgerBackend)),
		zap.Bool("degraded", stores.degraded()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("listen", zap.Error(err))
	}

	<-idleConnsClosed
	// drain queued notifications before the workers' context is cancelled
	pool.Close()
	stop()
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	if err := otelProvider.Shutdown(flushCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	cancelFlush()
	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// reconcileLoop retries promo compensations that failed earlier.
func reconcileLoop(ctx context.Context, m *service.OrderMachine, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReconcileCompensations(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reconcile compensations", zap.Error(err))
			}
		}
	}
}
