package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopkite/paypal-checkout-backend/internal/cart"
	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

type stubStorage struct {
	data map[string]string
}

func newStubStorage() *stubStorage {
	return &stubStorage{data: map[string]string{}}
}

func (s *stubStorage) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.data[key] = value.(string)
	return nil
}

func (s *stubStorage) Get(ctx context.Context, key string) (string, error) {
	raw, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return raw, nil
}

func (s *stubStorage) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *stubStorage) CheckoutSessionKey(sessionID string) string {
	return "session:" + sessionID
}

type stubGateway struct {
	createCalls    int
	captureCalls   int
	authorizeCalls int
	lastCreate     paypal.CreateOrderParams

	order      *paypal.Order
	captured   *paypal.Order
	createErr  error
	captureErr error
}

func (g *stubGateway) CreateOrder(ctx context.Context, params paypal.CreateOrderParams) (*paypal.Order, error) {
	g.createCalls++
	g.lastCreate = params
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.order, nil
}

func (g *stubGateway) GetOrder(ctx context.Context, orderID string) (*paypal.Order, error) {
	return g.order, nil
}

func (g *stubGateway) ConfirmPaymentSource(ctx context.Context, orderID string, source *paypal.PaymentSource, expCtx *paypal.ExperienceContext) (*paypal.Order, error) {
	return g.order, nil
}

func (g *stubGateway) UpdateShipping(ctx context.Context, orderID string, shipping *paypal.Shipping, amount *paypal.Amount) (*paypal.Order, error) {
	return g.order, nil
}

func (g *stubGateway) CaptureOrder(ctx context.Context, order *paypal.Order, requestID string) (*paypal.Order, error) {
	g.captureCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return g.captured, nil
}

func (g *stubGateway) AuthorizeOrder(ctx context.Context, order *paypal.Order, requestID string) (*paypal.Order, error) {
	g.authorizeCalls++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return g.captured, nil
}

type stubCarts struct {
	cart           *cart.Cart
	completedCarts []string
	changeCalls    int
}

func (c *stubCarts) ForSession(ctx context.Context, sessionID, currencyCode string) (*cart.Cart, error) {
	return c.cart, nil
}

func (c *stubCarts) ChangeCart(ctx context.Context, sessionID string, items []cart.ItemInput) (*cart.Cart, error) {
	c.changeCalls++
	return c.cart, nil
}

func (c *stubCarts) Complete(ctx context.Context, cartID string) error {
	c.completedCarts = append(c.completedCarts, cartID)
	return nil
}

type stubVault struct {
	token *paypal.VaultedToken
	calls int
}

func (v *stubVault) ForUserID(ctx context.Context, userID string) *paypal.VaultedToken {
	v.calls++
	return v.token
}

type auditCall struct {
	op      string
	orderID string
	kind    string
}

type stubAudit struct {
	calls []auditCall
}

func (a *stubAudit) RecordCreated(ctx context.Context, order *paypal.Order, sessionID, cartID, userID, attemptID string) error {
	a.calls = append(a.calls, auditCall{op: "created", orderID: order.ID})
	return nil
}

func (a *stubAudit) UpdateStatus(ctx context.Context, orderID string, status paypal.OrderStatus, funding paypal.FundingSource) error {
	a.calls = append(a.calls, auditCall{op: "status", orderID: orderID})
	return nil
}

func (a *stubAudit) RecordOutcome(ctx context.Context, order *paypal.Order, kind string) error {
	a.calls = append(a.calls, auditCall{op: "outcome", orderID: order.ID, kind: kind})
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "checkout-test", Level: zerolog.Disabled, Output: io.Discard})
}

func testCart() *cart.Cart {
	return &cart.Cart{
		ID:           "cart-1",
		SessionID:    "sess-1",
		CurrencyCode: "USD",
		Status:       cart.StatusOpen,
		Items: []cart.CartItem{
			{ID: "item-1", CartID: "cart-1", SKU: "SKU-1", Name: "Widget", Quantity: 2, UnitPrice: "9.99"},
		},
	}
}

type fixture struct {
	svc     *Service
	gateway *stubGateway
	carts   *stubCarts
	vault   *stubVault
	audit   *stubAudit
	manager *session.Manager
	storage *stubStorage
}

func newFixture(t *testing.T, intent string) *fixture {
	t.Helper()

	gateway := &stubGateway{
		order: &paypal.Order{ID: "ORDER-1", Status: paypal.OrderStatusCreated},
	}
	carts := &stubCarts{cart: testCart()}
	vault := &stubVault{}
	audit := &stubAudit{}
	storage := newStubStorage()

	manager, err := session.NewManager(session.ManagerParams{
		Storage: storage,
		Orders:  gateway,
		TTL:     time.Hour,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Client: gateway,
		Carts:  carts,
		Vault:  vault,
		Audit:  audit,
		Logger: testLogger(),
		PayPal: config.PayPalConfig{
			Intent:        intent,
			BNCode:        "Shopkite_Cart_PPCP",
			BrandName:     "Shopkite",
			DefaultLocale: "en-US",
			ReturnURL:     "https://shop.example/return",
			CancelURL:     "https://shop.example/cancel",
		},
		Chk: config.CheckoutConfig{MaxFundingRetries: 3},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &fixture{svc: svc, gateway: gateway, carts: carts, vault: vault, audit: audit, manager: manager, storage: storage}
}

func (f *fixture) session() *session.Session {
	return f.manager.Load("sess-1")
}

func approvedOrder() *paypal.Order {
	return &paypal.Order{
		ID:     "ORDER-1",
		Status: paypal.OrderStatusApproved,
		PaymentSource: &paypal.PaymentSource{
			PayPal: &paypal.PayPalSource{EmailAddress: "buyer@example.com"},
		},
	}
}

func completedOrder() *paypal.Order {
	return &paypal.Order{
		ID:     "ORDER-1",
		Status: paypal.OrderStatusCompleted,
		PurchaseUnits: []paypal.PurchaseUnit{
			{ReferenceID: "default", CustomID: "cart-1", Amount: paypal.Amount{CurrencyCode: "USD", Value: "19.98"}},
		},
		PaymentSource: &paypal.PaymentSource{
			PayPal: &paypal.PayPalSource{EmailAddress: "buyer@example.com"},
		},
	}
}

func TestCreateOrderFromCartStoresSessionState(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	ctx := context.Background()
	sess := f.session()

	order, err := f.svc.CreateOrder(ctx, sess, CreateOrderInput{Context: ContextCart})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "ORDER-1" {
		t.Fatalf("order id = %q", order.ID)
	}
	if f.gateway.lastCreate.Intent != paypal.IntentCapture {
		t.Fatalf("intent = %q", f.gateway.lastCreate.Intent)
	}
	if len(f.gateway.lastCreate.PurchaseUnits) != 1 {
		t.Fatalf("purchase units = %d", len(f.gateway.lastCreate.PurchaseUnits))
	}
	if got := f.gateway.lastCreate.PurchaseUnits[0].Amount.Value; got != "19.98" {
		t.Fatalf("amount = %q", got)
	}
	if f.gateway.lastCreate.RequestID == "" {
		t.Fatal("expected the session attempt id as the request id")
	}

	fresh := f.manager.Load("sess-1")
	stored, err := fresh.Order(ctx)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if stored == nil || stored.ID != "ORDER-1" {
		t.Fatalf("stored order = %+v", stored)
	}
	code, err := fresh.BNCode(ctx)
	if err != nil {
		t.Fatalf("BNCode: %v", err)
	}
	if code != "Shopkite_Cart_PPCP" {
		t.Fatalf("bn code = %q", code)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].op != "created" {
		t.Fatalf("audit calls = %+v", f.audit.calls)
	}
}

func TestCreateOrderReusesAttemptIDForIdempotency(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	ctx := context.Background()

	// A failed create leaves the attempt open, so a client retry replays
	// the same request id and the gateway dedupes it.
	f.gateway.createErr = pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
	if _, err := f.svc.CreateOrder(ctx, f.session(), CreateOrderInput{Context: ContextCart}); err == nil {
		t.Fatal("expected create failure")
	}
	first := f.gateway.lastCreate.RequestID
	if first == "" {
		t.Fatal("request id is empty")
	}

	f.gateway.createErr = pkgerrors.New(pkgerrors.CodeDependency, "gateway timeout")
	if _, err := f.svc.CreateOrder(ctx, f.session(), CreateOrderInput{Context: ContextCart}); err == nil {
		t.Fatal("expected create failure")
	}
	if f.gateway.lastCreate.RequestID != first {
		t.Fatalf("request id changed within the attempt: %q vs %q", first, f.gateway.lastCreate.RequestID)
	}

	// A successful create closes the attempt; re-creating for a changed
	// cart must not replay the old idempotent request.
	f.gateway.createErr = nil
	if _, err := f.svc.CreateOrder(ctx, f.session(), CreateOrderInput{Context: ContextCart}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	succeeded := f.gateway.lastCreate.RequestID
	if succeeded != first {
		t.Fatalf("request id changed before success: %q vs %q", first, succeeded)
	}

	if _, err := f.svc.CreateOrder(ctx, f.session(), CreateOrderInput{Context: ContextCart}); err != nil {
		t.Fatalf("re-create: %v", err)
	}
	if f.gateway.lastCreate.RequestID == succeeded {
		t.Fatal("request id replayed across logical attempts")
	}
}

func TestCreateOrderProductContextReplacesCart(t *testing.T) {
	f := newFixture(t, "CAPTURE")

	_, err := f.svc.CreateOrder(context.Background(), f.session(), CreateOrderInput{
		Context: ContextProduct,
		Items:   []cart.ItemInput{{SKU: "SKU-9", Name: "Gadget", Quantity: 1, UnitPrice: "5.00"}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if f.carts.changeCalls != 1 {
		t.Fatalf("change calls = %d", f.carts.changeCalls)
	}
}

func TestCreateOrderProductContextRequiresItems(t *testing.T) {
	f := newFixture(t, "CAPTURE")

	_, err := f.svc.CreateOrder(context.Background(), f.session(), CreateOrderInput{Context: ContextProduct})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrderInvoiceContextUsesGivenAmount(t *testing.T) {
	f := newFixture(t, "CAPTURE")

	_, err := f.svc.CreateOrder(context.Background(), f.session(), CreateOrderInput{
		Context:   ContextInvoice,
		InvoiceID: "INV-42",
		Amount:    &paypal.Amount{CurrencyCode: "EUR", Value: "120.00"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	unit := f.gateway.lastCreate.PurchaseUnits[0]
	if unit.InvoiceID != "INV-42" || unit.Amount.Value != "120.00" {
		t.Fatalf("unit = %+v", unit)
	}
}

func TestCreateOrderVaultedUsesSavedToken(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.vault.token = &paypal.VaultedToken{
		ID:            "vault-token-1",
		PaymentSource: paypal.PaymentSource{Card: &paypal.CardSource{LastDigits: "1111"}},
	}

	_, err := f.svc.CreateOrder(context.Background(), f.session(), CreateOrderInput{
		Context:  ContextVaulted,
		UserID:   "user-1",
		UseVault: true,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	source := f.gateway.lastCreate.PaymentSource
	if source == nil || source.Card == nil || source.Card.VaultID != "vault-token-1" {
		t.Fatalf("payment source = %+v", source)
	}
}

func TestApproveOrderRejectsUnapproved(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.order = &paypal.Order{ID: "ORDER-1", Status: paypal.OrderStatusCreated}

	_, err := f.svc.ApproveOrder(context.Background(), f.session(), "ORDER-1")
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestApproveOrderStoresFreshCopy(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.order = approvedOrder()
	ctx := context.Background()

	order, err := f.svc.ApproveOrder(ctx, f.session(), "ORDER-1")
	if err != nil {
		t.Fatalf("ApproveOrder: %v", err)
	}
	if order.Status != paypal.OrderStatusApproved {
		t.Fatalf("status = %q", order.Status)
	}

	fresh := f.manager.Load("sess-1")
	stored, err := fresh.Order(ctx)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if stored.Status != paypal.OrderStatusApproved {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if got := fresh.FundingSource(); got != paypal.FundingPayPal {
		t.Fatalf("funding = %q", got)
	}
}

func TestCaptureOrderHappyPath(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.order = approvedOrder()
	f.gateway.captured = completedOrder()
	ctx := context.Background()

	sess := f.session()
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	outcome, err := f.svc.CaptureOrder(ctx, sess)
	if err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if !outcome.Captured || outcome.Order.Status != paypal.OrderStatusCompleted {
		t.Fatalf("outcome = %+v", outcome)
	}
	if f.gateway.captureCalls != 1 || f.gateway.authorizeCalls != 0 {
		t.Fatalf("capture=%d authorize=%d", f.gateway.captureCalls, f.gateway.authorizeCalls)
	}

	fresh := f.manager.Load("sess-1")
	stored, err := fresh.Order(ctx)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if stored.Status != paypal.OrderStatusCompleted {
		t.Fatalf("stored status = %q", stored.Status)
	}
	tries, err := fresh.InsufficientFundingTries(ctx)
	if err != nil {
		t.Fatalf("InsufficientFundingTries: %v", err)
	}
	if tries != 0 {
		t.Fatalf("tries = %d", tries)
	}

	if len(f.carts.completedCarts) != 1 || f.carts.completedCarts[0] != "cart-1" {
		t.Fatalf("completed carts = %v", f.carts.completedCarts)
	}
	last := f.audit.calls[len(f.audit.calls)-1]
	if last.op != "outcome" || last.kind != "capture" {
		t.Fatalf("audit = %+v", last)
	}
}

func TestCaptureOrderAuthorizeIntent(t *testing.T) {
	f := newFixture(t, "AUTHORIZE")
	f.gateway.captured = completedOrder()
	ctx := context.Background()

	sess := f.session()
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	if _, err := f.svc.CaptureOrder(ctx, sess); err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if f.gateway.authorizeCalls != 1 || f.gateway.captureCalls != 0 {
		t.Fatalf("capture=%d authorize=%d", f.gateway.captureCalls, f.gateway.authorizeCalls)
	}
	last := f.audit.calls[len(f.audit.calls)-1]
	if last.kind != "authorization" {
		t.Fatalf("audit kind = %q", last.kind)
	}
}

func TestCaptureOrderWithoutOrderFails(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.order = nil

	_, err := f.svc.CaptureOrder(context.Background(), f.session())
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func declineErr() error {
	return pkgerrors.New(pkgerrors.CodeUpstream, "remote payment service rejected the request").
		WithUpstreamStatus(422).
		WithDetails([]pkgerrors.UpstreamDetail{{Issue: "INSTRUMENT_DECLINED"}})
}

func TestCaptureSoftDeclineOffersRetry(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.captureErr = declineErr()
	ctx := context.Background()

	sess := f.session()
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	outcome, err := f.svc.CaptureOrder(ctx, sess)
	if err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if !outcome.RetryFunding || outcome.Captured {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.TriesRemaining != 2 {
		t.Fatalf("tries remaining = %d", outcome.TriesRemaining)
	}

	fresh := f.manager.Load("sess-1")
	tries, err := fresh.InsufficientFundingTries(ctx)
	if err != nil {
		t.Fatalf("InsufficientFundingTries: %v", err)
	}
	if tries != 1 {
		t.Fatalf("tries = %d", tries)
	}
	attempt, err := fresh.AttemptID(ctx)
	if err != nil {
		t.Fatalf("AttemptID: %v", err)
	}
	if attempt == "" {
		t.Fatal("expected a fresh attempt id after the reset")
	}
}

func TestCaptureSoftDeclineCapIsTerminal(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.captureErr = declineErr()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sess := f.manager.Load("sess-1")
		if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
			t.Fatalf("ReplaceOrder: %v", err)
		}
		outcome, err := f.svc.CaptureOrder(ctx, sess)
		if i < 2 {
			if err != nil || !outcome.RetryFunding {
				t.Fatalf("attempt %d: outcome=%+v err=%v", i+1, outcome, err)
			}
			continue
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeUpstream) {
			t.Fatalf("attempt 3: expected terminal upstream error, got %v", err)
		}
	}

	// The counter has hit the cap; the next attempt fails before any
	// network call.
	calls := f.gateway.captureCalls
	sess := f.manager.Load("sess-1")
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}
	_, err := f.svc.CaptureOrder(ctx, sess)
	if !pkgerrors.HasCode(err, pkgerrors.CodeUpstream) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if f.gateway.captureCalls != calls {
		t.Fatalf("capture was attempted past the cap")
	}
}

func TestCaptureHardErrorPassedThrough(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.captureErr = pkgerrors.New(pkgerrors.CodeDependency, "remote payment service unavailable")
	ctx := context.Background()

	sess := f.session()
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	_, err := f.svc.CaptureOrder(ctx, sess)
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	fresh := f.manager.Load("sess-1")
	tries, err := fresh.InsufficientFundingTries(ctx)
	if err != nil {
		t.Fatalf("InsufficientFundingTries: %v", err)
	}
	if tries != 0 {
		t.Fatalf("hard failure must not count as a soft decline, tries = %d", tries)
	}
}

func TestConfirmPaymentSourceReturnsPayerAction(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	f.gateway.order = &paypal.Order{
		ID:     "ORDER-1",
		Status: paypal.OrderStatusCreated,
		PaymentSource: &paypal.PaymentSource{
			IDEAL: &paypal.APMSource{Name: "B. Uyer", CountryCode: "NL"},
		},
		Links: []paypal.Link{
			{Rel: "payer-action", Href: "https://sandbox.paypal.com/payment/ideal"},
		},
	}
	ctx := context.Background()

	sess := f.session()
	if err := sess.ReplaceOrder(ctx, &paypal.Order{ID: "ORDER-1", Status: paypal.OrderStatusCreated}); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}

	_, link, err := f.svc.ConfirmPaymentSource(ctx, sess, &paypal.PaymentSource{
		IDEAL: &paypal.APMSource{Name: "B. Uyer", CountryCode: "NL"},
	})
	if err != nil {
		t.Fatalf("ConfirmPaymentSource: %v", err)
	}
	if link != "https://sandbox.paypal.com/payment/ideal" {
		t.Fatalf("payer action link = %q", link)
	}
}

type recordingHooks struct {
	NopHooks
	events []string
}

func (h *recordingHooks) BeforeOrderCreate(ctx context.Context, checkoutCtx Context, units []paypal.PurchaseUnit) error {
	h.events = append(h.events, "before-create")
	return nil
}

func (h *recordingHooks) AfterCapture(ctx context.Context, order *paypal.Order) error {
	h.events = append(h.events, "after-capture")
	return nil
}

func TestHooksFire(t *testing.T) {
	f := newFixture(t, "CAPTURE")
	hooks := &recordingHooks{}
	f.svc.hooks = hooks
	f.gateway.captured = completedOrder()
	ctx := context.Background()

	sess := f.session()
	if _, err := f.svc.CreateOrder(ctx, sess, CreateOrderInput{Context: ContextCart}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := sess.ReplaceOrder(ctx, approvedOrder()); err != nil {
		t.Fatalf("ReplaceOrder: %v", err)
	}
	if _, err := f.svc.CaptureOrder(ctx, sess); err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}

	if len(hooks.events) != 2 || hooks.events[0] != "before-create" || hooks.events[1] != "after-capture" {
		t.Fatalf("hook events = %v", hooks.events)
	}
}
