package paypal

import (
	"context"
	"fmt"
	"net/http"

	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
)

const ordersPath = "/v2/checkout/orders"

// CreateOrderParams carries everything needed to open a new checkout order.
// RequestID is the idempotency key for the logical attempt; retrying with the
// same key returns the previously created order instead of a duplicate.
type CreateOrderParams struct {
	Intent             Intent
	PurchaseUnits      []PurchaseUnit
	Payer              *Payer
	PaymentSource      *PaymentSource
	ShippingPreference string
	ExperienceContext  *ExperienceContext
	RequestID          string
}

type createOrderRequest struct {
	Intent             Intent         `json:"intent"`
	PurchaseUnits      []PurchaseUnit `json:"purchase_units"`
	Payer              *Payer         `json:"payer,omitempty"`
	PaymentSource      *PaymentSource `json:"payment_source,omitempty"`
	ApplicationContext *appContext    `json:"application_context,omitempty"`
}

type appContext struct {
	ShippingPreference string `json:"shipping_preference,omitempty"`
	BrandName          string `json:"brand_name,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
}

// CreateOrder opens a new order on the remote gateway.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if len(params.PurchaseUnits) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one purchase unit is required")
	}
	if params.Intent != IntentCapture && params.Intent != IntentAuthorize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order intent must be CAPTURE or AUTHORIZE")
	}
	if params.PaymentSource != nil {
		if err := params.PaymentSource.Validate(); err != nil {
			return nil, err
		}
		if params.ExperienceContext != nil {
			params.PaymentSource.SetExperienceContext(params.ExperienceContext)
		}
	}
	if params.RequestID == "" {
		params.RequestID = c.NewIdempotencyKey("order")
	}

	body := createOrderRequest{
		Intent:        params.Intent,
		PurchaseUnits: params.PurchaseUnits,
		Payer:         params.Payer,
		PaymentSource: params.PaymentSource,
	}
	if params.ShippingPreference != "" {
		body.ApplicationContext = &appContext{ShippingPreference: params.ShippingPreference}
	}

	c.log(ctx, "request", "create_order", map[string]any{
		"intent":         params.Intent,
		"purchase_units": len(params.PurchaseUnits),
		"request_id":     params.RequestID,
	})

	var order Order
	if err := c.do(ctx, http.MethodPost, ordersPath, params.RequestID, body, &order); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "create_order", map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
	return &order, nil
}

// GetOrder fetches the current remote state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var order Order
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s", ordersPath, orderID), "", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// UpdateShipping replaces the shipping block and amount of the first purchase
// unit. Only orders that are not yet final accept patches; the returned order
// is a fresh fetch since the PATCH endpoint responds with no body.
func (c *Client) UpdateShipping(ctx context.Context, orderID string, shipping *Shipping, amount *Amount) (*Order, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if shipping == nil && amount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	var ops []patchOp
	if shipping != nil {
		ops = append(ops, patchOp{Op: "replace", Path: "/purchase_units/@reference_id=='default'/shipping", Value: shipping})
	}
	if amount != nil {
		ops = append(ops, patchOp{Op: "replace", Path: "/purchase_units/@reference_id=='default'/amount", Value: amount})
	}

	c.log(ctx, "request", "update_shipping", map[string]any{
		"order_id": orderID,
		"ops":      len(ops),
	})

	path := fmt.Sprintf("%s/%s", ordersPath, orderID)
	if err := c.do(ctx, http.MethodPatch, path, "", ops, nil); err != nil {
		return nil, err
	}
	return c.GetOrder(ctx, orderID)
}

// ConfirmPaymentSource attaches a payment source to an already created order.
// Redirect-based sources come back with a payer-action link the buyer must
// follow before the order can be approved.
func (c *Client) ConfirmPaymentSource(ctx context.Context, orderID string, source *PaymentSource, expCtx *ExperienceContext) (*Order, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source is required")
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}
	if expCtx != nil {
		source.SetExperienceContext(expCtx)
	}

	c.log(ctx, "request", "confirm_payment_source", map[string]any{
		"order_id":       orderID,
		"funding_source": source.Kind(),
	})

	var order Order
	path := fmt.Sprintf("%s/%s/confirm-payment-source", ordersPath, orderID)
	if err := c.do(ctx, http.MethodPost, path, "", map[string]any{"payment_source": source}, &order); err != nil {
		return nil, err
	}

	c.log(ctx, "response", "confirm_payment_source", map[string]any{
		"order_id":     order.ID,
		"status":       order.Status,
		"payer_action": order.PayerActionLink() != "",
	})
	return &order, nil
}

type captureResponse struct {
	ID            string         `json:"id"`
	Status        OrderStatus    `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Payer         *Payer         `json:"payer,omitempty"`
	PaymentSource *PaymentSource `json:"payment_source,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

func (r captureResponse) order() *Order {
	return &Order{
		ID:            r.ID,
		Status:        r.Status,
		PurchaseUnits: r.PurchaseUnits,
		Payer:         r.Payer,
		PaymentSource: r.PaymentSource,
		Links:         r.Links,
	}
}

// CaptureOrder moves the money for an approved order. The local status gate
// is load-bearing: an order that has not reached APPROVED is rejected before
// any network call is made.
func (c *Client) CaptureOrder(ctx context.Context, order *Order, requestID string) (*Order, error) {
	if order == nil || order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if order.Status != OrderStatusApproved {
		return nil, pkgerrors.New(
			pkgerrors.CodeInvalidState,
			fmt.Sprintf("order %s is %s, only approved orders can be captured", order.ID, order.Status),
		)
	}
	if requestID == "" {
		requestID = c.NewIdempotencyKey("capture")
	}

	c.log(ctx, "request", "capture_order", map[string]any{
		"order_id":   order.ID,
		"request_id": requestID,
	})

	var resp captureResponse
	path := fmt.Sprintf("%s/%s/capture", ordersPath, order.ID)
	if err := c.do(ctx, http.MethodPost, path, requestID, struct{}{}, &resp); err != nil {
		return nil, err
	}

	captured := resp.order()
	c.log(ctx, "response", "capture_order", map[string]any{
		"order_id": captured.ID,
		"status":   captured.Status,
	})
	return captured, nil
}

// AuthorizeOrder places a hold on the funds of an approved order without
// capturing them. Same local status gate as CaptureOrder.
func (c *Client) AuthorizeOrder(ctx context.Context, order *Order, requestID string) (*Order, error) {
	if order == nil || order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if order.Status != OrderStatusApproved {
		return nil, pkgerrors.New(
			pkgerrors.CodeInvalidState,
			fmt.Sprintf("order %s is %s, only approved orders can be authorized", order.ID, order.Status),
		)
	}
	if requestID == "" {
		requestID = c.NewIdempotencyKey("authorize")
	}

	c.log(ctx, "request", "authorize_order", map[string]any{
		"order_id":   order.ID,
		"request_id": requestID,
	})

	var resp captureResponse
	path := fmt.Sprintf("%s/%s/authorize", ordersPath, order.ID)
	if err := c.do(ctx, http.MethodPost, path, requestID, struct{}{}, &resp); err != nil {
		return nil, err
	}

	authorized := resp.order()
	c.log(ctx, "response", "authorize_order", map[string]any{
		"order_id": authorized.ID,
		"status":   authorized.Status,
	})
	return authorized, nil
}
