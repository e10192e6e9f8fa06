package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopkite/paypal-checkout-backend/api/controllers"
	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	cartsvc "github.com/shopkite/paypal-checkout-backend/internal/cart"
	checkoutsvc "github.com/shopkite/paypal-checkout-backend/internal/checkout"
	"github.com/shopkite/paypal-checkout-backend/internal/gateways"
	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/internal/vault"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	"github.com/shopkite/paypal-checkout-backend/pkg/db"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/metrics"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
	"github.com/shopkite/paypal-checkout-backend/pkg/redis"
)

// configuredGateways is the full storefront gateway list before the
// per-session availability filter runs.
var configuredGateways = []gateways.Gateway{
	gateways.GatewayPayPal,
	gateways.GatewayCardFields,
	gateways.GatewayCardButton,
	gateways.GatewayAPM,
}

// RouterParams groups everything the HTTP surface needs.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	Metrics        *metrics.CheckoutMetrics
	Registry       *prometheus.Registry
	DB             *db.Client
	Redis          *redis.Client
	PayPal         *paypal.Client
	SessionManager *session.Manager
	Checkout       *checkoutsvc.Service
	Carts          *cartsvc.Service
	Vault          *vault.Repository
	NonceIssuer    *middleware.NonceIssuer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger, p.Metrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, readinessDeps(p)))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(middleware.Session(p.SessionManager, p.Config.Session, p.Logger))
		r.Use(middleware.RateLimit(p.Config.RateLimit, p.Redis, p.Logger))

		r.Get("/config", controllers.CheckoutConfig(p.Config.PayPal, configuredGateways, p.NonceIssuer, p.Logger))
		r.Get("/nonce", controllers.IssueNonce(p.NonceIssuer, p.Logger))
		r.Get("/client-token", controllers.DataClientToken(p.PayPal, p.Logger))

		r.Get("/cart", controllers.FetchCart(p.Carts, p.Logger))
		r.With(requireNonce(p, "change-cart")).Post("/cart", controllers.ChangeCart(p.Carts, p.Logger))

		r.With(requireNonce(p, "create-order")).Post("/order", controllers.CreateOrder(p.Checkout, p.Logger))
		r.With(requireNonce(p, "approve-order")).Post("/order/{orderID}/approve", controllers.ApproveOrder(p.Checkout, p.Logger))
		r.With(requireNonce(p, "capture-order")).Post("/order/capture", controllers.CaptureOrder(p.Checkout, p.Logger))
		r.With(requireNonce(p, "capture-order")).Post("/order/confirm-source", controllers.ConfirmPaymentSource(p.Checkout, p.Logger))
		r.With(requireNonce(p, "create-order")).Patch("/order/shipping", controllers.UpdateShipping(p.Checkout, p.Logger))
		r.Delete("/", controllers.AbandonCheckout(p.Checkout, p.Logger))

		r.Route("/vault", func(r chi.Router) {
			r.Get("/tokens", controllers.VaultTokens(p.Vault, p.Logger))
			r.With(requireNonce(p, "vault")).Post("/setup-tokens", controllers.CreateSetupToken(p.Vault, p.Logger))
			r.With(requireNonce(p, "vault")).Post("/payment-tokens", controllers.CreatePaymentToken(p.Vault, p.Logger))
			r.With(requireNonce(p, "vault")).Delete("/tokens/{tokenID}", controllers.DeleteVaultToken(p.Vault, p.Logger))
		})
	})

	return r
}

func requireNonce(p RouterParams, action string) func(http.Handler) http.Handler {
	return middleware.RequireNonce(p.NonceIssuer, p.Redis, action, p.Logger)
}

func readinessDeps(p RouterParams) map[string]controllers.Pinger {
	return map[string]controllers.Pinger{
		"database": p.DB,
		"redis":    p.Redis,
	}
}
