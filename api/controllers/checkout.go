package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	"github.com/shopkite/paypal-checkout-backend/api/responses"
	"github.com/shopkite/paypal-checkout-backend/api/validators"
	"github.com/shopkite/paypal-checkout-backend/internal/cart"
	checkoutsvc "github.com/shopkite/paypal-checkout-backend/internal/checkout"
	"github.com/shopkite/paypal-checkout-backend/internal/session"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// checkoutService is the slice of the orchestrator the handlers drive.
type checkoutService interface {
	CreateOrder(ctx context.Context, sess *session.Session, input checkoutsvc.CreateOrderInput) (*paypal.Order, error)
	ApproveOrder(ctx context.Context, sess *session.Session, orderID string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, sess *session.Session) (*checkoutsvc.CaptureOutcome, error)
	ConfirmPaymentSource(ctx context.Context, sess *session.Session, source *paypal.PaymentSource) (*paypal.Order, string, error)
	UpdateShipping(ctx context.Context, sess *session.Session, shipping *paypal.Shipping, amount *paypal.Amount) (*paypal.Order, error)
	Destroy(ctx context.Context, sess *session.Session) error
}

type createOrderRequest struct {
	Context       string                `json:"context" validate:"omitempty,oneof=cart product checkout pay-for-order vaulted-card"`
	UserID        string                `json:"user_id,omitempty"`
	FundingSource string                `json:"funding_source,omitempty"`
	CurrencyCode  string                `json:"currency_code,omitempty" validate:"omitempty,len=3"`
	Items         []itemRequest         `json:"items,omitempty" validate:"omitempty,dive"`
	InvoiceID     string                `json:"invoice_id,omitempty"`
	Amount        *moneyRequest         `json:"amount,omitempty"`
	CheckoutForm  map[string]string     `json:"checkout_form,omitempty"`
	Payer         *paypal.Payer         `json:"payer,omitempty"`
	PaymentSource *paypal.PaymentSource `json:"payment_source,omitempty"`
	UseVault      bool                  `json:"use_vault,omitempty"`
}

type itemRequest struct {
	SKU       string `json:"sku" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type moneyRequest struct {
	CurrencyCode string `json:"currency_code" validate:"required,len=3"`
	Value        string `json:"value" validate:"required"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Intent        string `json:"intent,omitempty"`
	FundingSource string `json:"funding_source,omitempty"`
	PayerAction   string `json:"payer_action,omitempty"`
}

func newOrderResponse(order *paypal.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	return orderResponse{
		ID:            order.ID,
		Status:        string(order.Status),
		Intent:        string(order.Intent),
		FundingSource: string(order.FundingKind()),
		PayerAction:   order.PayerActionLink(),
	}
}

// CreateOrder starts a remote order for the buyer's current checkout context.
func CreateOrder(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		checkoutCtx := checkoutsvc.Context(payload.Context)
		if checkoutCtx == "" {
			checkoutCtx = checkoutsvc.ContextCart
		}

		input := checkoutsvc.CreateOrderInput{
			Context:       checkoutCtx,
			UserID:        payload.UserID,
			FundingSource: paypal.FundingSource(payload.FundingSource),
			CurrencyCode:  payload.CurrencyCode,
			InvoiceID:     payload.InvoiceID,
			CheckoutForm:  payload.CheckoutForm,
			Payer:         payload.Payer,
			PaymentSource: payload.PaymentSource,
			UseVault:      payload.UseVault,
		}
		for _, item := range payload.Items {
			input.Items = append(input.Items, cart.ItemInput{
				SKU:       item.SKU,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
		if payload.Amount != nil {
			input.Amount = &paypal.Amount{
				CurrencyCode: payload.Amount.CurrencyCode,
				Value:        payload.Amount.Value,
			}
		}

		order, err := svc.CreateOrder(ctx, sess, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// ApproveOrder records buyer approval after the wallet or card flow returns.
func ApproveOrder(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		orderID := chi.URLParam(r, "orderID")
		order, err := svc.ApproveOrder(ctx, sess, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type captureResponse struct {
	Order          *orderResponse `json:"order,omitempty"`
	Captured       bool           `json:"captured"`
	RetryFunding   bool           `json:"retry_funding,omitempty"`
	TriesRemaining int            `json:"tries_remaining,omitempty"`
}

// CaptureOrder finishes the payment for the session's approved order.
func CaptureOrder(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		outcome, err := svc.CaptureOrder(ctx, sess)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := captureResponse{
			Captured:       outcome.Captured,
			RetryFunding:   outcome.RetryFunding,
			TriesRemaining: outcome.TriesRemaining,
		}
		if outcome.Order != nil {
			order := newOrderResponse(outcome.Order)
			resp.Order = &order
		}

		responses.WriteSuccess(w, resp)
	}
}

type confirmSourceRequest struct {
	PaymentSource *paypal.PaymentSource `json:"payment_source" validate:"required"`
}

type confirmSourceResponse struct {
	Order       orderResponse `json:"order"`
	PayerAction string        `json:"payer_action,omitempty"`
}

// ConfirmPaymentSource attaches a redirect payment method to the in-flight
// order and hands back the URL the buyer must visit.
func ConfirmPaymentSource(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		var payload confirmSourceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := payload.PaymentSource.Validate(); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, payerAction, err := svc.ConfirmPaymentSource(ctx, sess, payload.PaymentSource)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, confirmSourceResponse{
			Order:       newOrderResponse(order),
			PayerAction: payerAction,
		})
	}
}

type updateShippingRequest struct {
	Shipping *paypal.Shipping `json:"shipping" validate:"required"`
	Amount   *moneyRequest    `json:"amount,omitempty"`
}

// UpdateShipping patches the in-flight order's shipping block, optionally
// with a recomputed total.
func UpdateShipping(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		var payload updateShippingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var amount *paypal.Amount
		if payload.Amount != nil {
			amount = &paypal.Amount{
				CurrencyCode: payload.Amount.CurrencyCode,
				Value:        payload.Amount.Value,
			}
		}

		order, err := svc.UpdateShipping(ctx, sess, payload.Shipping, amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// AbandonCheckout discards the in-flight checkout session.
func AbandonCheckout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		if err := svc.Destroy(ctx, sess); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "abandoned"})
	}
}
