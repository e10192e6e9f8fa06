package controllers

import (
	"context"
	"net/http"

	"github.com/shopkite/paypal-checkout-backend/api/middleware"
	"github.com/shopkite/paypal-checkout-backend/api/responses"
	"github.com/shopkite/paypal-checkout-backend/api/validators"
	cartsvc "github.com/shopkite/paypal-checkout-backend/internal/cart"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

type cartService interface {
	ForSession(ctx context.Context, sessionID, currencyCode string) (*cartsvc.Cart, error)
	ChangeCart(ctx context.Context, sessionID string, items []cartsvc.ItemInput) (*cartsvc.Cart, error)
}

type cartResponse struct {
	ID           string             `json:"id"`
	CurrencyCode string             `json:"currency_code"`
	Items        []cartItemResponse `json:"items"`
}

type cartItemResponse struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

func newCartResponse(c *cartsvc.Cart) cartResponse {
	resp := cartResponse{
		ID:           c.ID,
		CurrencyCode: c.CurrencyCode,
		Items:        make([]cartItemResponse, 0, len(c.Items)),
	}
	for _, item := range c.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return resp
}

// FetchCart returns the session's open basket.
func FetchCart(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		basket, err := svc.ForSession(ctx, sess.ID(), r.URL.Query().Get("currency"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(basket))
	}
}

type changeCartRequest struct {
	Items []itemRequest `json:"items" validate:"required,dive"`
}

// ChangeCart replaces the basket contents wholesale.
func ChangeCart(svc cartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := middleware.SessionFromContext(ctx)
		if sess == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout session unavailable"))
			return
		}

		var payload changeCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items := make([]cartsvc.ItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, cartsvc.ItemInput{
				SKU:       item.SKU,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}

		basket, err := svc.ChangeCart(ctx, sess.ID(), items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(basket))
	}
}
