package gateways

import (
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// Gateway identifies one storefront payment entry point.
type Gateway string

const (
	GatewayPayPal     Gateway = "paypal"
	GatewayCardFields Gateway = "card-fields"
	GatewayCardButton Gateway = "card-button"
	GatewayAPM        Gateway = "apm"
)

// SessionView is the slice of checkout-session state the decider needs. Kept
// as an interface so render-time filtering never forces a session hydration
// beyond what the caller already did.
type SessionView interface {
	CurrentOrder() *paypal.Order
	FundingSource() paypal.FundingSource
}

// Decide filters the configured gateway list against the in-flight order.
// Once an order is approved (or completed) through one funding source, every
// gateway that would start a competing order through a different source is
// removed. A session without an order, or with an order still awaiting buyer
// approval, leaves the list untouched. Pure function, no side effects.
func Decide(configured []Gateway, session SessionView) []Gateway {
	if len(configured) == 0 || session == nil {
		return configured
	}

	order := session.CurrentOrder()
	if order == nil {
		return configured
	}
	if order.Status != paypal.OrderStatusApproved && order.Status != paypal.OrderStatusCompleted {
		return configured
	}

	funding := order.FundingKind()
	if funding == "" {
		funding = session.FundingSource()
	}
	if funding == "" {
		return configured
	}

	allowed := allowedFor(funding)
	out := make([]Gateway, 0, len(configured))
	for _, gw := range configured {
		if _, ok := allowed[gw]; ok {
			out = append(out, gw)
		}
	}
	return out
}

func allowedFor(funding paypal.FundingSource) map[Gateway]struct{} {
	switch funding {
	case paypal.FundingCard:
		return map[Gateway]struct{}{
			GatewayCardFields: {},
			GatewayCardButton: {},
		}
	case paypal.FundingPayPal:
		return map[Gateway]struct{}{
			GatewayPayPal: {},
		}
	default:
		// Redirect APMs lock the buyer to the APM entry point.
		return map[Gateway]struct{}{
			GatewayAPM: {},
		}
	}
}
