package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/api/controllers"
	"github.com/ucstore/ucstore-backend/api/routes"
	"github.com/ucstore/ucstore-backend/internal/audit"
	"github.com/ucstore/ucstore-backend/internal/catalog"
	"github.com/ucstore/ucstore-backend/internal/delivery"
	"github.com/ucstore/ucstore-backend/internal/issuer"
	"github.com/ucstore/ucstore-backend/internal/notify"
	"github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/internal/payments"
	"github.com/ucstore/ucstore-backend/internal/promo"
	"github.com/ucstore/ucstore-backend/internal/providers"
	"github.com/ucstore/ucstore-backend/internal/risk"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db"
	"github.com/ucstore/ucstore-backend/pkg/env"
	"github.com/ucstore/ucstore-backend/pkg/logger"
	"github.com/ucstore/ucstore-backend/pkg/metrics"
	"github.com/ucstore/ucstore-backend/pkg/migrate"
	"github.com/ucstore/ucstore-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	auditSvc, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	referralBonus, err := decimal.NewFromString(cfg.Promo.ReferralBonusPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid referral bonus percent", err)
		os.Exit(1)
	}
	promoSvc, err := promo.NewService(promo.ServiceParams{
		Repo:                 promo.NewRepository(dbClient.DB()),
		ReferralBonusPercent: referralBonus,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create promo service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		DB:                  dbClient,
		Repo:                orders.NewRepository(dbClient.DB()),
		Audit:               auditSvc,
		Promo:               promoSvc,
		Logger:              logg,
		MaxDeliveryAttempts: cfg.Delivery.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	catalogSvc, err := catalog.NewService(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	riskSvc, err := risk.NewService(risk.ServiceParams{
		Counters: redisClient,
		Config:   cfg.Risk,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create risk service", err)
		os.Exit(1)
	}

	issuerClient, err := issuer.NewClient(cfg.Issuer, dbClient.DB(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create issuer client", err)
		os.Exit(1)
	}

	notifier := notify.NewLogNotifier(logg)

	deliverySvc, err := delivery.NewService(delivery.ServiceParams{
		Orders:   ordersSvc,
		Issuer:   issuerClient,
		Risk:     riskSvc,
		Notifier: notifier,
		Logger:   logg,
		Config:   cfg.Delivery,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:     payments.NewRepository(dbClient.DB()),
		Orders:   ordersSvc,
		Risk:     riskSvc,
		Delivery: deliverySvc,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	addr := ":" + env.Get("PORT", cfg.App.Port)
	id := env.Get("DYNO", "local")
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			Registry:       providers.NewRegistry(cfg.Providers),
			Payments:       paymentsSvc,
			Orders:         ordersSvc,
			Catalog:        catalogSvc,
			WebhookDedup:   redisClient,
			WebhookMetrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
			Readiness: map[string]controllers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
			},
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
