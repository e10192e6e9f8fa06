package session

import (
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// State is the full checkout-session snapshot. It is serialized as one blob
// per session; every write persists the whole structure back.
type State struct {
	Order                    *paypal.Order        `json:"order,omitempty"`
	BNCode                   string               `json:"bn_code,omitempty"`
	FundingSource            paypal.FundingSource `json:"funding_source,omitempty"`
	InsufficientFundingTries int                  `json:"insufficient_funding_tries"`
	CheckoutForm             map[string]string    `json:"checkout_form,omitempty"`

	// AttemptID is the idempotency key for the current logical checkout
	// attempt. It is minted once per attempt and reused on client retries,
	// so a double-submit cannot create two remote orders for one attempt.
	AttemptID string `json:"attempt_id,omitempty"`

	// Version increments on every persisted write. A write whose loaded
	// version no longer matches the stored one is rejected, which turns
	// the double-submit race into an explicit conflict.
	Version int64 `json:"version"`
}

func newState() *State {
	return &State{CheckoutForm: map[string]string{}}
}
