package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
)

const (
	paymentTokensPath = "/v3/vault/payment-tokens"
	setupTokensPath   = "/v3/vault/setup-tokens"
)

type listTokensResponse struct {
	PaymentTokens []VaultedToken `json:"payment_tokens"`
	TotalItems    int            `json:"total_items"`
}

// ListPaymentTokens returns every vaulted token belonging to the given
// provider customer id.
func (c *Client) ListPaymentTokens(ctx context.Context, customerID string) ([]VaultedToken, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	path := fmt.Sprintf("%s?customer_id=%s", paymentTokensPath, url.QueryEscape(customerID))
	var resp listTokensResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PaymentTokens, nil
}

// CreateSetupTokenParams describes the payment method being vaulted and the
// buyer it will belong to.
type CreateSetupTokenParams struct {
	CustomerID    string
	PaymentSource *PaymentSource
	RequestID     string
}

type setupTokenRequest struct {
	Customer      *VaultCustomer `json:"customer,omitempty"`
	PaymentSource *PaymentSource `json:"payment_source"`
}

// CreateSetupToken mints the intermediate token that starts a vaulting flow.
func (c *Client) CreateSetupToken(ctx context.Context, params CreateSetupTokenParams) (*SetupToken, error) {
	if params.PaymentSource == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source is required")
	}
	if err := params.PaymentSource.Validate(); err != nil {
		return nil, err
	}
	if params.RequestID == "" {
		params.RequestID = c.NewIdempotencyKey("setup-token")
	}

	body := setupTokenRequest{PaymentSource: params.PaymentSource}
	if params.CustomerID != "" {
		body.Customer = &VaultCustomer{ID: params.CustomerID}
	}

	c.log(ctx, "request", "create_setup_token", map[string]any{
		"funding_source": params.PaymentSource.Kind(),
		"request_id":     params.RequestID,
	})

	var token SetupToken
	if err := c.do(ctx, http.MethodPost, setupTokensPath, params.RequestID, body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

type paymentTokenRequest struct {
	PaymentSource struct {
		Token struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"token"`
	} `json:"payment_source"`
}

// CreatePaymentToken exchanges an approved setup token for a permanent
// vaulted payment token.
func (c *Client) CreatePaymentToken(ctx context.Context, setupTokenID, requestID string) (*VaultedToken, error) {
	if setupTokenID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "setup token id is required")
	}
	if requestID == "" {
		requestID = c.NewIdempotencyKey("payment-token")
	}

	var body paymentTokenRequest
	body.PaymentSource.Token.ID = setupTokenID
	body.PaymentSource.Token.Type = "SETUP_TOKEN"

	c.log(ctx, "request", "create_payment_token", map[string]any{
		"request_id": requestID,
	})

	var token VaultedToken
	if err := c.do(ctx, http.MethodPost, paymentTokensPath, requestID, body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeletePaymentToken removes a vaulted token from the provider. Deleting a
// token that is already gone is not an error.
func (c *Client) DeletePaymentToken(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "token id is required")
	}

	path := fmt.Sprintf("%s/%s", paymentTokensPath, tokenID)
	err := c.do(ctx, http.MethodDelete, path, "", nil, nil)
	if err != nil && pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil
	}
	return err
}
