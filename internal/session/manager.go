package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
	redisclient "github.com/shopkite/paypal-checkout-backend/pkg/redis"
)

// orderFetcher is the slice of the gateway client the store needs to keep a
// stale local order from diverging from the remote truth.
type orderFetcher interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

// Storage is the keyed blob store sessions live in. *redis.Client satisfies
// it in production.
type Storage interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CheckoutSessionKey(sessionID string) string
}

// Manager hands out request-scoped session handles backed by redis.
type Manager struct {
	storage Storage
	orders  orderFetcher
	ttl     time.Duration
	logger  *logger.Logger
}

// ManagerParams groups the manager's dependencies.
type ManagerParams struct {
	Storage Storage
	Orders  orderFetcher
	TTL     time.Duration
	Logger  *logger.Logger
}

// NewManager constructs a session manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Storage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session storage required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order fetcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		storage: params.Storage,
		orders:  params.Orders,
		ttl:     ttl,
		logger:  params.Logger,
	}, nil
}

// NewSessionID mints a fresh session identifier.
func (m *Manager) NewSessionID() string {
	return uuid.NewString()
}

// Load returns a request-scoped handle for the given session. No storage
// round-trip happens until the first read; hydration is lazy and performed at
// most once per handle.
func (m *Manager) Load(sessionID string) *Session {
	return &Session{manager: m, id: sessionID}
}

// Session is the per-request view of one buyer's checkout state. Not safe
// for concurrent use; each request gets its own handle.
type Session struct {
	manager *Manager
	id      string

	state         *State
	loaded        bool
	loadedVersion int64
	refreshed     bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) hydrate(ctx context.Context) (*State, error) {
	if s.loaded {
		return s.state, nil
	}

	key := s.manager.storage.CheckoutSessionKey(s.id)
	raw, err := s.manager.storage.Get(ctx, key)
	switch {
	case redisclient.IsMiss(err):
		s.state = newState()
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading checkout session")
	default:
		var state State
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decoding checkout session")
		}
		if state.CheckoutForm == nil {
			state.CheckoutForm = map[string]string{}
		}
		s.state = &state
	}

	s.loaded = true
	s.loadedVersion = s.state.Version
	return s.state, nil
}

// persist writes the full snapshot back. The stored version must still match
// the one this handle hydrated; a mismatch means another request won the race
// and the caller has to reload before writing again.
func (s *Session) persist(ctx context.Context) error {
	key := s.manager.storage.CheckoutSessionKey(s.id)

	raw, err := s.manager.storage.Get(ctx, key)
	if err != nil && !redisclient.IsMiss(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking checkout session version")
	}
	if err == nil {
		var stored State
		if decodeErr := json.Unmarshal([]byte(raw), &stored); decodeErr == nil && stored.Version != s.loadedVersion {
			return pkgerrors.New(pkgerrors.CodeConflict, "checkout session was modified by another request")
		}
	}

	s.state.Version = s.loadedVersion + 1
	encoded, err := json.Marshal(s.state)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding checkout session")
	}
	if err := s.manager.storage.Set(ctx, key, string(encoded), s.manager.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting checkout session")
	}

	s.loadedVersion = s.state.Version
	return nil
}

// Order returns the in-flight remote order, if any. When the stored order is
// not yet final, the handle re-fetches it from the gateway at most once per
// request and writes the refreshed copy through. Refresh failures are logged,
// never surfaced; a stale order beats none.
func (s *Session) Order(ctx context.Context) (*paypal.Order, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return nil, err
	}
	if state.Order == nil || s.refreshed || state.Order.Status.IsFinal() {
		return state.Order, nil
	}

	s.refreshed = true
	fresh, err := s.manager.orders.GetOrder(ctx, state.Order.ID)
	if err != nil || fresh == nil {
		ctx = s.manager.logger.WithOrderID(ctx, state.Order.ID)
		s.manager.logger.Warn(s.manager.logger.WithSessionID(ctx, s.id), "order refresh failed, serving stored copy")
		return state.Order, nil
	}

	state.Order = fresh
	if err := s.persist(ctx); err != nil {
		s.manager.logger.Warn(s.manager.logger.WithSessionID(ctx, s.id), "persisting refreshed order failed")
	}
	return state.Order, nil
}

// CurrentOrder returns the hydrated order without any storage or network
// round-trip. Nil until Order has been called on this handle.
func (s *Session) CurrentOrder() *paypal.Order {
	if !s.loaded || s.state == nil {
		return nil
	}
	return s.state.Order
}

// ReplaceOrder swaps the stored order wholesale and persists.
func (s *Session) ReplaceOrder(ctx context.Context, order *paypal.Order) error {
	state, err := s.hydrate(ctx)
	if err != nil {
		return err
	}
	state.Order = order
	// The attempt key has served its purpose once an order lands in the
	// session; rotating here keeps a later re-create for a changed cart
	// from replaying the old idempotent request.
	state.AttemptID = ""
	s.refreshed = true
	return s.persist(ctx)
}

// BNCode returns the partner attribution code stored on the session.
func (s *Session) BNCode(ctx context.Context) (string, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return "", err
	}
	return state.BNCode, nil
}

// ReplaceBNCode stores the partner attribution code and persists.
func (s *Session) ReplaceBNCode(ctx context.Context, code string) error {
	state, err := s.hydrate(ctx)
	if err != nil {
		return err
	}
	state.BNCode = code
	return s.persist(ctx)
}

// FundingSource returns the funding source chosen for the current attempt.
// The non-ctx form serves render-time filtering from the already hydrated
// snapshot.
func (s *Session) FundingSource() paypal.FundingSource {
	if !s.loaded || s.state == nil {
		return ""
	}
	return s.state.FundingSource
}

// ReplaceFundingSource stores the chosen funding source and persists.
func (s *Session) ReplaceFundingSource(ctx context.Context, funding paypal.FundingSource) error {
	state, err := s.hydrate(ctx)
	if err != nil {
		return err
	}
	state.FundingSource = funding
	return s.persist(ctx)
}

// InsufficientFundingTries returns the soft-decline counter.
func (s *Session) InsufficientFundingTries(ctx context.Context) (int, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return 0, err
	}
	return state.InsufficientFundingTries, nil
}

// IncrementInsufficientFundingTries bumps the soft-decline counter and
// persists, returning the new value.
func (s *Session) IncrementInsufficientFundingTries(ctx context.Context) (int, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return 0, err
	}
	state.InsufficientFundingTries++
	if err := s.persist(ctx); err != nil {
		return 0, err
	}
	return state.InsufficientFundingTries, nil
}

// CheckoutForm returns the raw checkout form data captured at order time.
func (s *Session) CheckoutForm(ctx context.Context) (map[string]string, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return nil, err
	}
	return state.CheckoutForm, nil
}

// ReplaceCheckoutForm stores the raw form snapshot and persists.
func (s *Session) ReplaceCheckoutForm(ctx context.Context, form map[string]string) error {
	state, err := s.hydrate(ctx)
	if err != nil {
		return err
	}
	if form == nil {
		form = map[string]string{}
	}
	state.CheckoutForm = form
	return s.persist(ctx)
}

// AttemptID returns the idempotency key for the current logical attempt,
// minting and persisting one when none exists yet.
func (s *Session) AttemptID(ctx context.Context) (string, error) {
	state, err := s.hydrate(ctx)
	if err != nil {
		return "", err
	}
	if state.AttemptID != "" {
		return state.AttemptID, nil
	}
	state.AttemptID = "attempt-" + uuid.NewString()
	if err := s.persist(ctx); err != nil {
		return "", err
	}
	return state.AttemptID, nil
}

// ResetAttempt clears the attempt key and funding source so the next order
// creation starts a genuinely new logical attempt. The soft-decline counter
// survives; only Destroy resets it.
func (s *Session) ResetAttempt(ctx context.Context) error {
	state, err := s.hydrate(ctx)
	if err != nil {
		return err
	}
	state.AttemptID = ""
	state.FundingSource = ""
	return s.persist(ctx)
}

// Destroy removes the session blob entirely. The next hydration starts from
// an empty state with a zeroed soft-decline counter.
func (s *Session) Destroy(ctx context.Context) error {
	key := s.manager.storage.CheckoutSessionKey(s.id)
	if err := s.manager.storage.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "destroying checkout session")
	}
	s.state = newState()
	s.loaded = true
	s.loadedVersion = 0
	s.refreshed = false
	return nil
}
