package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string]string
	lastTTL time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return raw, nil
}

func (s *memoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTTL = ttl
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *memoryStore) CheckoutSessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (s *memoryStore) NonceKey(id string) string {
	return "nonce:" + id
}

func (s *memoryStore) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := "rl:" + scope
	count := int64(len(s.data[key])) + 1
	s.data[key] = s.data[key] + "x"
	return count <= limit, count, nil
}

type nopFetcher struct{}

func (nopFetcher) GetOrder(ctx context.Context, orderID string) (*paypal.Order, error) {
	return nil, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "middleware-test", Level: zerolog.Disabled, Output: io.Discard})
}

func testManager(t *testing.T, store *memoryStore) *session.Manager {
	t.Helper()
	m, err := session.NewManager(session.ManagerParams{
		Storage: store,
		Orders:  nopFetcher{},
		TTL:     time.Hour,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func nonceChain(t *testing.T, store *memoryStore, issuer *NonceIssuer, action string) http.Handler {
	t.Helper()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	manager := testManager(t, store)
	sessionMW := Session(manager, config.SessionConfig{CookieName: "checkout_session", TTLMinutes: 60}, testLogger())
	return sessionMW(RequireNonce(issuer, store, action, testLogger())(ok))
}

func TestNonceRoundTrip(t *testing.T) {
	store := newMemoryStore()
	issuer, err := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewNonceIssuer: %v", err)
	}
	handler := nonceChain(t, store, issuer, "create-order")

	nonce, err := issuer.Issue("create-order", "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	req.Header.Set(nonceHeader, nonce)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestNonceRejectedWhenMissing(t *testing.T) {
	store := newMemoryStore()
	issuer, _ := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	handler := nonceChain(t, store, issuer, "create-order")

	req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestNonceRejectedForWrongAction(t *testing.T) {
	store := newMemoryStore()
	issuer, _ := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	handler := nonceChain(t, store, issuer, "capture-order")

	nonce, _ := issuer.Issue("create-order", "sess-1")
	req := httptest.NewRequest(http.MethodPost, "/checkout/capture", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	req.Header.Set(nonceHeader, nonce)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestNonceRejectedForOtherSession(t *testing.T) {
	store := newMemoryStore()
	issuer, _ := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	handler := nonceChain(t, store, issuer, "create-order")

	nonce, _ := issuer.Issue("create-order", "sess-other")
	req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	req.Header.Set(nonceHeader, nonce)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestNonceSingleUse(t *testing.T) {
	store := newMemoryStore()
	issuer, _ := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	handler := nonceChain(t, store, issuer, "create-order")

	nonce, _ := issuer.Issue("create-order", "sess-1")
	for i, want := range []int{http.StatusNoContent, http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
		req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
		req.Header.Set(nonceHeader, nonce)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestNonceSpendWindowFollowsIssuerClock(t *testing.T) {
	store := newMemoryStore()
	issuer, err := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: 10 * time.Minute})
	if err != nil {
		t.Fatalf("NewNonceIssuer: %v", err)
	}
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }
	handler := nonceChain(t, store, issuer, "create-order")

	nonce, err := issuer.Issue("create-order", "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	issuer.now = func() time.Time { return base.Add(4 * time.Minute) }

	req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	req.Header.Set(nonceHeader, nonce)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if store.lastTTL != 6*time.Minute {
		t.Fatalf("spent-key ttl = %v, want the nonce's remaining 6m", store.lastTTL)
	}
}

func TestNonceExpires(t *testing.T) {
	store := newMemoryStore()
	issuer, _ := NewNonceIssuer(config.NonceConfig{Secret: "test-secret", TTL: time.Minute})
	handler := nonceChain(t, store, issuer, "create-order")

	nonce, _ := issuer.Issue("create-order", "sess-1")
	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	req := httptest.NewRequest(http.MethodPost, "/checkout/order", nil)
	req.AddCookie(&http.Cookie{Name: "checkout_session", Value: "sess-1"})
	req.Header.Set(nonceHeader, nonce)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}
