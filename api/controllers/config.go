package controllers

import (
	"context"
	"net/http"

	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	"github.com/shopkite/paypal-checkout-backend/api/responses"
	"github.com/shopkite/paypal-checkout-backend/internal/gateways"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

// nonceActions are the state-changing calls the storefront needs a nonce for.
var nonceActions = []string{
	"create-order",
	"approve-order",
	"capture-order",
	"change-cart",
	"vault",
}

type identityTokenIssuer interface {
	IdentityToken(ctx context.Context, targetCustomerID string) (string, error)
}

type checkoutConfigResponse struct {
	Environment string             `json:"environment"`
	Intent      string             `json:"intent"`
	BrandName   string             `json:"brand_name"`
	Locale      string             `json:"locale"`
	Gateways    []gateways.Gateway `json:"gateways"`
	Nonces      map[string]string  `json:"nonces"`
}

// CheckoutConfig hands the storefront everything it needs to render the
// payment buttons: environment, intent, the gateway list filtered against
// the in-flight order, and one nonce per protected action.
func CheckoutConfig(cfg config.PayPalConfig, configured []gateways.Gateway, issuer *middleware.NonceIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		// Hydrate so the decider sees the stored order.
		if _, err := sess.Order(ctx); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		nonces := make(map[string]string, len(nonceActions))
		for _, action := range nonceActions {
			nonce, err := issuer.Issue(action, sess.ID())
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			nonces[action] = nonce
		}

		responses.WriteSuccess(w, checkoutConfigResponse{
			Environment: cfg.Environment(),
			Intent:      cfg.Intent,
			BrandName:   cfg.BrandName,
			Locale:      cfg.DefaultLocale,
			Gateways:    gateways.Decide(configured, sess),
			Nonces:      nonces,
		})
	}
}

// IssueNonce re-mints a single action nonce for the current session, for
// storefronts whose checkout page outlives the nonce TTL.
func IssueNonce(issuer *middleware.NonceIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		action := r.URL.Query().Get("action")
		known := false
		for _, candidate := range nonceActions {
			if candidate == action {
				known = true
				break
			}
		}
		if !known {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown nonce action"))
			return
		}

		nonce, err := issuer.Issue(action, sess.ID())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"action": action, "nonce": nonce})
	}
}

// DataClientToken mints a browser identity token, scoped to the buyer's
// vault customer when one is supplied.
func DataClientToken(issuer identityTokenIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, err := issuer.IdentityToken(ctx, r.URL.Query().Get("customer_id"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"client_token": token})
	}
}
