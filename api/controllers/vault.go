package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	"github.com/shopkite/paypal-checkout-backend/api/responses"
	"github.com/shopkite/paypal-checkout-backend/api/validators"
	"github.com/shopkite/paypal-checkout-backend/internal/vault"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// vaultRepository is the slice of the vault layer the handlers use.
type vaultRepository interface {
	AllForUserID(ctx context.Context, userID string) []paypal.VaultedToken
	DeleteToken(ctx context.Context, userID, tokenID string) error
	CreateSetupToken(ctx context.Context, userID string, source *paypal.PaymentSource) (*paypal.SetupToken, error)
	CreatePaymentToken(ctx context.Context, userID, setupTokenID string) (*paypal.VaultedToken, error)
}

type vaultTokenResponse struct {
	ID            string `json:"id"`
	FundingSource string `json:"funding_source"`
	CardBrand     string `json:"card_brand,omitempty"`
	CardLast4     string `json:"card_last4,omitempty"`
	PayPalEmail   string `json:"paypal_email,omitempty"`
}

func newVaultTokenResponse(token paypal.VaultedToken) vaultTokenResponse {
	resp := vaultTokenResponse{
		ID:            token.ID,
		FundingSource: string(token.PaymentSource.Kind()),
	}
	if card := token.PaymentSource.Card; card != nil {
		resp.CardBrand = card.Brand
		resp.CardLast4 = card.LastDigits
	}
	if pp := token.PaymentSource.PayPal; pp != nil {
		resp.PayPalEmail = pp.EmailAddress
	}
	return resp
}

// tokenOwner resolves whose vault a request operates on. Logged-in buyers
// pass their user id; guests fall back to the checkout session id so a
// token saved mid-checkout is still retrievable for the rest of the visit.
func tokenOwner(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		return "guest:" + sess.ID()
	}
	return ""
}

type vaultTokensResponse struct {
	Tokens    []vaultTokenResponse `json:"tokens"`
	HasCard   bool                 `json:"has_card"`
	HasPayPal bool                 `json:"has_paypal"`
}

// VaultTokens lists the buyer's saved payment methods. Upstream trouble
// yields an empty list, never an error page.
func VaultTokens(repo vaultRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID := tokenOwner(r, r.URL.Query().Get("user_id"))
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required"))
			return
		}

		tokens := repo.AllForUserID(ctx, userID)
		resp := vaultTokensResponse{
			Tokens:    make([]vaultTokenResponse, 0, len(tokens)),
			HasCard:   vault.TokensContainCard(tokens),
			HasPayPal: vault.TokensContainPayPal(tokens),
		}
		for _, token := range tokens {
			resp.Tokens = append(resp.Tokens, newVaultTokenResponse(token))
		}

		responses.WriteSuccess(w, resp)
	}
}

type createSetupTokenRequest struct {
	UserID        string                `json:"user_id"`
	PaymentSource *paypal.PaymentSource `json:"payment_source" validate:"required"`
}

// CreateSetupToken starts the save-payment-method flow.
func CreateSetupToken(repo vaultRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload createSetupTokenRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		owner := tokenOwner(r, payload.UserID)
		if owner == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required"))
			return
		}

		token, err := repo.CreateSetupToken(ctx, owner, payload.PaymentSource)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, token)
	}
}

type createPaymentTokenRequest struct {
	UserID       string `json:"user_id"`
	SetupTokenID string `json:"setup_token_id" validate:"required"`
}

// CreatePaymentToken exchanges an approved setup token for a durable one.
func CreatePaymentToken(repo vaultRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload createPaymentTokenRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		owner := tokenOwner(r, payload.UserID)
		if owner == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required"))
			return
		}

		token, err := repo.CreatePaymentToken(ctx, owner, payload.SetupTokenID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newVaultTokenResponse(*token))
	}
}

// DeleteVaultToken removes a saved payment method.
func DeleteVaultToken(repo vaultRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID := tokenOwner(r, r.URL.Query().Get("user_id"))
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required"))
			return
		}
		tokenID := chi.URLParam(r, "tokenID")

		if err := repo.DeleteToken(ctx, userID, tokenID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}
