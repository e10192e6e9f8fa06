package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	"github.com/shopkite/paypal-checkout-backend/api/routes"
	cartsvc "github.com/shopkite/paypal-checkout-backend/internal/cart"
	checkoutsvc "github.com/shopkite/paypal-checkout-backend/internal/checkout"
	"github.com/shopkite/paypal-checkout-backend/internal/orders"
	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/internal/vault"
	"github.com/shopkite/paypal-checkout-backend/pkg/cache"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	"github.com/shopkite/paypal-checkout-backend/pkg/db"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/metrics"
	"github.com/shopkite/paypal-checkout-backend/pkg/migrate"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
	"github.com/shopkite/paypal-checkout-backend/pkg/redis"
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

	redisCache, err := cache.NewRedis(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build redis cache", err)
		os.Exit(1)
	}

	paypalClient, err := paypal.NewClient(context.Background(), cfg.PayPal, redisCache, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment client", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(session.ManagerParams{
		Storage: redisClient,
		Orders:  paypalClient,
		TTL:     cfg.Session.TTL(),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build session manager", err)
		os.Exit(1)
	}

	cartService, err := cartsvc.NewService(cartsvc.ServiceParams{DB: dbClient})
	if err != nil {
		logg.Error(context.Background(), "failed to build cart service", err)
		os.Exit(1)
	}

	vaultRepo, err := vault.NewRepository(vault.RepositoryParams{
		Client:    paypalClient,
		Cache:     redisCache,
		Directory: vault.NewDirectory(dbClient),
		Logger:    logg,
		CacheTTL:  cfg.Checkout.VaultCacheTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build vault repository", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	auditRepo, err := orders.NewRepo(dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build audit repository", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Client:  paypalClient,
		Carts:   cartService,
		Vault:   vaultRepo,
		Audit:   auditRepo,
		Logger:  logg,
		Metrics: checkoutMetrics,
		PayPal:  cfg.PayPal,
		Chk:     cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build checkout service", err)
		os.Exit(1)
	}

	nonceIssuer, err := middleware.NewNonceIssuer(cfg.Nonce)
	if err != nil {
		logg.Error(context.Background(), "failed to build nonce issuer", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"paypal_env": paypalClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			Metrics:        checkoutMetrics,
			Registry:       registry,
			DB:             dbClient,
			Redis:          redisClient,
			PayPal:         paypalClient,
			SessionManager: sessionManager,
			Checkout:       checkoutService,
			Carts:          cartService,
			Vault:          vaultRepo,
			NonceIssuer:    nonceIssuer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
