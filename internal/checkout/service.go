package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/shopkite/paypal-checkout-backend/internal/cart"
	"github.com/shopkite/paypal-checkout-backend/internal/orders"
	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/metrics"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// Context names the storefront surface an order was started from.
type Context string

const (
	ContextCart     Context = "cart"
	ContextProduct  Context = "product"
	ContextCheckout Context = "checkout"
	ContextInvoice  Context = "pay-for-order"
	ContextVaulted  Context = "vaulted-card"
)

// orderClient is the slice of the gateway client the orchestrator drives.
type orderClient interface {
	CreateOrder(ctx context.Context, params paypal.CreateOrderParams) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	ConfirmPaymentSource(ctx context.Context, orderID string, source *paypal.PaymentSource, expCtx *paypal.ExperienceContext) (*paypal.Order, error)
	UpdateShipping(ctx context.Context, orderID string, shipping *paypal.Shipping, amount *paypal.Amount) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, order *paypal.Order, requestID string) (*paypal.Order, error)
	AuthorizeOrder(ctx context.Context, order *paypal.Order, requestID string) (*paypal.Order, error)
}

type cartService interface {
	ForSession(ctx context.Context, sessionID, currencyCode string) (*cart.Cart, error)
	ChangeCart(ctx context.Context, sessionID string, items []cart.ItemInput) (*cart.Cart, error)
	Complete(ctx context.Context, cartID string) error
}

type vaultReader interface {
	ForUserID(ctx context.Context, userID string) *paypal.VaultedToken
}

type auditTrail interface {
	RecordCreated(ctx context.Context, order *paypal.Order, sessionID, cartID, userID, attemptID string) error
	UpdateStatus(ctx context.Context, orderID string, status paypal.OrderStatus, funding paypal.FundingSource) error
	RecordOutcome(ctx context.Context, order *paypal.Order, kind string) error
}

// Hooks are the orchestrator's extension points. Implementations must be
// fast and must not fail the checkout; returned errors are logged only.
type Hooks interface {
	BeforeOrderCreate(ctx context.Context, checkoutCtx Context, units []paypal.PurchaseUnit) error
	AfterOrderCreate(ctx context.Context, order *paypal.Order) error
	AfterApprove(ctx context.Context, order *paypal.Order) error
	AfterCapture(ctx context.Context, order *paypal.Order) error
}

// NopHooks is the default no-op Hooks implementation.
type NopHooks struct{}

func (NopHooks) BeforeOrderCreate(context.Context, Context, []paypal.PurchaseUnit) error { return nil }
func (NopHooks) AfterOrderCreate(context.Context, *paypal.Order) error                  { return nil }
func (NopHooks) AfterApprove(context.Context, *paypal.Order) error                      { return nil }
func (NopHooks) AfterCapture(context.Context, *paypal.Order) error                      { return nil }

// Service drives the remote order through the checkout state machine and
// keeps the session in lockstep.
type Service struct {
	client   orderClient
	carts    cartService
	vault    vaultReader
	audit    auditTrail
	hooks    Hooks
	logger   *logger.Logger
	metrics  *metrics.CheckoutMetrics
	intent   paypal.Intent
	maxTries int
	bnCode   string
	payee    *paypal.Payee
	expCtx   paypal.ExperienceContext
}

// ServiceParams groups the orchestrator dependencies.
type ServiceParams struct {
	Client  orderClient
	Carts   cartService
	Vault   vaultReader
	Audit   auditTrail
	Hooks   Hooks
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	PayPal  config.PayPalConfig
	Chk     config.CheckoutConfig
}

// NewService constructs the checkout orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order client required")
	}
	if params.Carts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart service required")
	}
	if params.Vault == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vault repository required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit trail required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}

	intent, err := paypal.ParseIntent(params.PayPal.Intent)
	if err != nil {
		return nil, err
	}
	hooks := params.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	maxTries := params.Chk.MaxFundingRetries
	if maxTries <= 0 {
		maxTries = 3
	}

	var payee *paypal.Payee
	if params.PayPal.PayeeEmail != "" || params.PayPal.MerchantID != "" {
		payee = &paypal.Payee{
			EmailAddress: params.PayPal.PayeeEmail,
			MerchantID:   params.PayPal.MerchantID,
		}
	}

	return &Service{
		client:   params.Client,
		carts:    params.Carts,
		vault:    params.Vault,
		audit:    params.Audit,
		hooks:    hooks,
		logger:   params.Logger,
		metrics:  params.Metrics,
		intent:   intent,
		maxTries: maxTries,
		bnCode:   params.PayPal.BNCode,
		payee:    payee,
		expCtx: paypal.ExperienceContext{
			BrandName: params.PayPal.BrandName,
			Locale:    params.PayPal.DefaultLocale,
			ReturnURL: params.PayPal.ReturnURL,
			CancelURL: params.PayPal.CancelURL,
		},
	}, nil
}

// CreateOrderInput carries everything a create operation may need. Fields
// irrelevant to the chosen context are ignored.
type CreateOrderInput struct {
	Context       Context
	UserID        string
	FundingSource paypal.FundingSource
	CurrencyCode  string

	// Product context: the single line item bought straight from a
	// product page, bypassing the stored cart.
	Items []cart.ItemInput

	// Invoice context: the precomputed amount of an existing storefront
	// order awaiting payment.
	InvoiceID string
	Amount    *paypal.Amount

	// Checkout context: the raw form snapshot preserved for the capture
	// step of a classic full-page checkout.
	CheckoutForm map[string]string

	// Payer and PaymentSource are optional overrides; vaulted flows fill
	// the payment source from the buyer's saved token.
	Payer         *paypal.Payer
	PaymentSource *paypal.PaymentSource
	UseVault      bool
}

// CreateOrder starts a remote order for the given context. The idempotency
// key is the session's attempt id, so a double-submitted create for the same
// logical attempt yields one remote order.
func (s *Service) CreateOrder(ctx context.Context, sess *session.Session, input CreateOrderInput) (*paypal.Order, error) {
	units, cartID, err := s.purchaseUnits(ctx, sess, input)
	if err != nil {
		return nil, err
	}

	if err := s.hooks.BeforeOrderCreate(ctx, input.Context, units); err != nil {
		s.logger.Warn(ctx, "before-order-create hook failed")
	}

	source := input.PaymentSource
	if source == nil && input.UseVault && input.UserID != "" {
		if token := s.vault.ForUserID(ctx, input.UserID); token != nil {
			source = vaultedSource(token)
		}
	}

	attemptID, err := sess.AttemptID(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	order, err := s.client.CreateOrder(ctx, paypal.CreateOrderParams{
		Intent:            s.intent,
		PurchaseUnits:     s.withPayee(units),
		Payer:             input.Payer,
		PaymentSource:     source,
		ExperienceContext: &s.expCtx,
		RequestID:         attemptID,
	})
	if s.metrics != nil {
		s.metrics.ObserveUpstream("create_order", time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	if err := sess.ReplaceOrder(ctx, order); err != nil {
		return nil, err
	}
	funding := input.FundingSource
	if kind := order.FundingKind(); kind != "" {
		funding = kind
	}
	if funding != "" {
		if err := sess.ReplaceFundingSource(ctx, funding); err != nil {
			return nil, err
		}
	}
	if err := sess.ReplaceBNCode(ctx, s.bnCode); err != nil {
		return nil, err
	}
	if input.Context == ContextCheckout && input.CheckoutForm != nil {
		if err := sess.ReplaceCheckoutForm(ctx, input.CheckoutForm); err != nil {
			return nil, err
		}
	}

	if err := s.audit.RecordCreated(ctx, order, sess.ID(), cartID, input.UserID, attemptID); err != nil {
		s.logger.Warn(s.logger.WithOrderID(ctx, order.ID), "recording created order failed")
	}
	if err := s.hooks.AfterOrderCreate(ctx, order); err != nil {
		s.logger.Warn(ctx, "after-order-create hook failed")
	}

	return order, nil
}

// ApproveOrder verifies the buyer finished approving the order and stores
// the fresh remote copy. An order still awaiting approval is rejected.
func (s *Service) ApproveOrder(ctx context.Context, sess *session.Session, orderID string) (*paypal.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	order, err := s.client.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != paypal.OrderStatusApproved {
		return nil, pkgerrors.New(
			pkgerrors.CodeInvalidState,
			"order has not been approved by the buyer yet",
		)
	}

	if err := sess.ReplaceOrder(ctx, order); err != nil {
		return nil, err
	}
	if funding := order.FundingKind(); funding != "" {
		if err := sess.ReplaceFundingSource(ctx, funding); err != nil {
			return nil, err
		}
	}

	if err := s.audit.UpdateStatus(ctx, order.ID, order.Status, order.FundingKind()); err != nil {
		s.logger.Warn(s.logger.WithOrderID(ctx, order.ID), "recording approval failed")
	}
	if err := s.hooks.AfterApprove(ctx, order); err != nil {
		s.logger.Warn(ctx, "after-approve hook failed")
	}
	return order, nil
}

// ConfirmPaymentSource attaches a redirect-based payment source to the
// session's order and returns the payer-action link the buyer must visit.
func (s *Service) ConfirmPaymentSource(ctx context.Context, sess *session.Session, source *paypal.PaymentSource) (*paypal.Order, string, error) {
	order, err := sess.Order(ctx)
	if err != nil {
		return nil, "", err
	}
	if order == nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeInvalidState, "no order in progress")
	}

	confirmed, err := s.client.ConfirmPaymentSource(ctx, order.ID, source, &s.expCtx)
	if err != nil {
		return nil, "", err
	}
	if err := sess.ReplaceOrder(ctx, confirmed); err != nil {
		return nil, "", err
	}
	if funding := confirmed.FundingKind(); funding != "" {
		if err := sess.ReplaceFundingSource(ctx, funding); err != nil {
			return nil, "", err
		}
	}
	return confirmed, confirmed.PayerActionLink(), nil
}

// UpdateShipping patches the in-flight order's shipping block.
func (s *Service) UpdateShipping(ctx context.Context, sess *session.Session, shipping *paypal.Shipping, amount *paypal.Amount) (*paypal.Order, error) {
	order, err := sess.Order(ctx)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "no order in progress")
	}

	updated, err := s.client.UpdateShipping(ctx, order.ID, shipping, amount)
	if err != nil {
		return nil, err
	}
	if err := sess.ReplaceOrder(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// CaptureOutcome reports how a capture attempt ended. RetryFunding means the
// buyer's instrument soft-declined and the storefront should offer another
// funding source; TriesRemaining says how many such retries are left.
type CaptureOutcome struct {
	Order          *paypal.Order
	Captured       bool
	RetryFunding   bool
	TriesRemaining int
}

// CaptureOrder finishes the payment for the session's approved order. The
// configured intent decides between capture and authorization. Soft declines
// are counted per session and capped; past the cap the failure is terminal.
func (s *Service) CaptureOrder(ctx context.Context, sess *session.Session) (*CaptureOutcome, error) {
	order, err := sess.Order(ctx)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "no order in progress")
	}

	tries, err := sess.InsufficientFundingTries(ctx)
	if err != nil {
		return nil, err
	}
	if tries >= s.maxTries {
		return nil, pkgerrors.New(
			pkgerrors.CodeUpstream,
			"payment was declined too many times, please use a different payment method later",
		)
	}

	kind := orders.KindCapture
	call := s.client.CaptureOrder
	if s.intent == paypal.IntentAuthorize {
		kind = orders.KindAuthorization
		call = s.client.AuthorizeOrder
	}

	start := time.Now()
	finished, err := call(ctx, order, "")
	if s.metrics != nil {
		s.metrics.ObserveUpstream(kind, time.Since(start))
	}
	if err != nil {
		if paypal.IsInstrumentDeclined(err) {
			return s.handleSoftDecline(ctx, sess, err)
		}
		if s.metrics != nil {
			code := pkgerrors.CodeInternal
			if typed := pkgerrors.As(err); typed != nil {
				code = typed.Code()
			}
			s.metrics.IncFailure(string(code))
		}
		return nil, err
	}

	if err := sess.ReplaceOrder(ctx, finished); err != nil {
		return nil, err
	}
	if err := sess.ResetAttempt(ctx); err != nil {
		s.logger.Warn(s.logger.WithSessionID(ctx, sess.ID()), "resetting attempt after capture failed")
	}

	if err := s.audit.RecordOutcome(ctx, finished, kind); err != nil {
		s.logger.Warn(s.logger.WithOrderID(ctx, finished.ID), "recording capture outcome failed")
	}
	s.completeCart(ctx, sess, finished)
	if s.metrics != nil {
		s.metrics.IncCapture(string(finished.FundingKind()))
	}
	if err := s.hooks.AfterCapture(ctx, finished); err != nil {
		s.logger.Warn(ctx, "after-capture hook failed")
	}

	return &CaptureOutcome{Order: finished, Captured: true}, nil
}

func (s *Service) handleSoftDecline(ctx context.Context, sess *session.Session, declineErr error) (*CaptureOutcome, error) {
	tries, err := sess.IncrementInsufficientFundingTries(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncSoftDecline(string(sess.FundingSource()))
	}
	s.logger.Warn(s.logger.WithSessionID(ctx, sess.ID()), "payment instrument declined")

	if tries >= s.maxTries {
		return nil, pkgerrors.Wrap(
			pkgerrors.CodeUpstream,
			declineErr,
			"payment was declined too many times, please use a different payment method later",
		)
	}
	if err := sess.ResetAttempt(ctx); err != nil {
		return nil, err
	}
	return &CaptureOutcome{
		RetryFunding:   true,
		TriesRemaining: s.maxTries - tries,
	}, nil
}

// Destroy abandons the in-flight checkout and clears the session.
func (s *Service) Destroy(ctx context.Context, sess *session.Session) error {
	return sess.Destroy(ctx)
}

func (s *Service) purchaseUnits(ctx context.Context, sess *session.Session, input CreateOrderInput) ([]paypal.PurchaseUnit, string, error) {
	switch input.Context {
	case ContextCart, ContextCheckout, ContextVaulted:
		basket, err := s.carts.ForSession(ctx, sess.ID(), input.CurrencyCode)
		if err != nil {
			return nil, "", err
		}
		units, err := cart.PurchaseUnits(basket)
		if err != nil {
			return nil, "", err
		}
		return units, basket.ID, nil

	case ContextProduct:
		if len(input.Items) == 0 {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "product context requires at least one item")
		}
		basket, err := s.carts.ChangeCart(ctx, sess.ID(), input.Items)
		if err != nil {
			return nil, "", err
		}
		units, err := cart.PurchaseUnits(basket)
		if err != nil {
			return nil, "", err
		}
		return units, basket.ID, nil

	case ContextInvoice:
		if input.Amount == nil || input.InvoiceID == "" {
			return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "invoice context requires an invoice id and amount")
		}
		unit := paypal.PurchaseUnit{
			ReferenceID: "default",
			InvoiceID:   input.InvoiceID,
			Amount:      *input.Amount,
		}
		return []paypal.PurchaseUnit{unit}, "", nil

	default:
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "unknown checkout context")
	}
}

func (s *Service) withPayee(units []paypal.PurchaseUnit) []paypal.PurchaseUnit {
	if s.payee == nil {
		return units
	}
	for i := range units {
		if units[i].Payee == nil {
			units[i].Payee = s.payee
		}
	}
	return units
}

func (s *Service) completeCart(ctx context.Context, sess *session.Session, order *paypal.Order) {
	for i := range order.PurchaseUnits {
		if cartID := order.PurchaseUnits[i].CustomID; cartID != "" {
			if err := s.carts.Complete(ctx, cartID); err != nil {
				s.logger.Warn(s.logger.WithSessionID(ctx, sess.ID()), "marking cart completed failed")
			}
		}
	}
}

func vaultedSource(token *paypal.VaultedToken) *paypal.PaymentSource {
	switch token.PaymentSource.Kind() {
	case paypal.FundingCard:
		return &paypal.PaymentSource{Card: &paypal.CardSource{VaultID: token.ID}}
	case paypal.FundingPayPal:
		return &paypal.PaymentSource{PayPal: &paypal.PayPalSource{VaultID: token.ID}}
	default:
		return nil
	}
}
