package vault

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shopkite/paypal-checkout-backend/pkg/cache"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

type stubTokenClient struct {
	tokens     []paypal.VaultedToken
	listErr    error
	listCalls  int
	deleted    []string
	deleteErr  error
	setupToken *paypal.SetupToken
	created    *paypal.VaultedToken
	createErr  error
}

func (s *stubTokenClient) ListPaymentTokens(ctx context.Context, customerID string) ([]paypal.VaultedToken, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tokens, nil
}

func (s *stubTokenClient) CreateSetupToken(ctx context.Context, params paypal.CreateSetupTokenParams) (*paypal.SetupToken, error) {
	return s.setupToken, nil
}

func (s *stubTokenClient) CreatePaymentToken(ctx context.Context, setupTokenID, requestID string) (*paypal.VaultedToken, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.created, nil
}

func (s *stubTokenClient) DeletePaymentToken(ctx context.Context, tokenID string) error {
	s.deleted = append(s.deleted, tokenID)
	return s.deleteErr
}

func (s *stubTokenClient) NewIdempotencyKey(prefix string) string {
	return prefix + "-test-key"
}

type stubDirectory struct {
	customers map[string]string
	lookupErr error
	saved     map[string]string
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{customers: map[string]string{}, saved: map[string]string{}}
}

func (s *stubDirectory) ProviderCustomerID(ctx context.Context, userID string) (string, error) {
	if s.lookupErr != nil {
		return "", s.lookupErr
	}
	return s.customers[userID], nil
}

func (s *stubDirectory) Save(ctx context.Context, userID, providerCustID string) error {
	s.saved[userID] = providerCustID
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "vault-test", Level: zerolog.Disabled, Output: io.Discard})
}

func newTestRepository(t *testing.T, client *stubTokenClient, dir *stubDirectory) *Repository {
	t.Helper()
	repo, err := NewRepository(RepositoryParams{
		Client:    client,
		Cache:     cache.NewMemory(),
		Directory: dir,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo
}

func cardToken(id string) paypal.VaultedToken {
	return paypal.VaultedToken{
		ID:            id,
		Customer:      &paypal.VaultCustomer{ID: "cust-7"},
		PaymentSource: paypal.PaymentSource{Card: &paypal.CardSource{Brand: "VISA", LastDigits: "4242"}},
	}
}

func walletToken(id string) paypal.VaultedToken {
	return paypal.VaultedToken{
		ID:            id,
		Customer:      &paypal.VaultCustomer{ID: "cust-7"},
		PaymentSource: paypal.PaymentSource{PayPal: &paypal.PayPalSource{EmailAddress: "b@example.com"}},
	}
}

func TestAllForUserIDCachesRemoteList(t *testing.T) {
	client := &stubTokenClient{tokens: []paypal.VaultedToken{cardToken("tok-1"), walletToken("tok-2")}}
	dir := newStubDirectory()
	dir.customers["7"] = "cust-7"
	repo := newTestRepository(t, client, dir)
	ctx := context.Background()

	first := repo.AllForUserID(ctx, "7")
	if len(first) != 2 {
		t.Fatalf("len = %d, want 2", len(first))
	}
	second := repo.AllForUserID(ctx, "7")
	if len(second) != 2 {
		t.Fatalf("second len = %d, want 2", len(second))
	}
	if client.listCalls != 1 {
		t.Fatalf("remote list called %d times, want 1 (cache hit)", client.listCalls)
	}
}

func TestForUserIDReturnsFirstToken(t *testing.T) {
	client := &stubTokenClient{tokens: []paypal.VaultedToken{cardToken("tok-1"), walletToken("tok-2")}}
	dir := newStubDirectory()
	dir.customers["7"] = "cust-7"
	repo := newTestRepository(t, client, dir)

	token := repo.ForUserID(context.Background(), "7")
	if token == nil || token.ID != "tok-1" {
		t.Fatalf("got %+v, want tok-1", token)
	}
}

func TestUpstreamErrorMeansNoSavedMethods(t *testing.T) {
	client := &stubTokenClient{listErr: errors.New("vault unavailable")}
	dir := newStubDirectory()
	dir.customers["7"] = "cust-7"
	repo := newTestRepository(t, client, dir)

	if tokens := repo.AllForUserID(context.Background(), "7"); len(tokens) != 0 {
		t.Fatalf("got %d tokens, want 0", len(tokens))
	}
	if token := repo.ForUserID(context.Background(), "7"); token != nil {
		t.Fatalf("got %+v, want nil", token)
	}
}

func TestUnknownUserHasNoTokensWithoutRemoteCall(t *testing.T) {
	client := &stubTokenClient{tokens: []paypal.VaultedToken{cardToken("tok-1")}}
	repo := newTestRepository(t, client, newStubDirectory())

	if token := repo.ForUserID(context.Background(), "99"); token != nil {
		t.Fatalf("got %+v, want nil", token)
	}
	if client.listCalls != 0 {
		t.Fatalf("remote list called %d times for unmapped user, want 0", client.listCalls)
	}
}

func TestDeleteTokenInvalidatesCacheDespiteRemoteFailure(t *testing.T) {
	client := &stubTokenClient{tokens: []paypal.VaultedToken{cardToken("tok-1")}}
	dir := newStubDirectory()
	dir.customers["7"] = "cust-7"
	repo := newTestRepository(t, client, dir)
	ctx := context.Background()

	// Warm the cache.
	if tokens := repo.AllForUserID(ctx, "7"); len(tokens) != 1 {
		t.Fatalf("warm: got %d tokens", len(tokens))
	}

	client.deleteErr = errors.New("remote deletion failed")
	client.tokens = nil
	if err := repo.DeleteToken(ctx, "7", "tok-1"); err != nil {
		t.Fatalf("remote failure leaked to the caller: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "tok-1" {
		t.Fatalf("deleted = %v", client.deleted)
	}

	// The cache entry is gone: the next read consults the (now empty) remote
	// list instead of serving the stale token.
	if token := repo.ForUserID(ctx, "7"); token != nil {
		t.Fatalf("got %+v after delete, want nil", token)
	}
	if client.listCalls != 2 {
		t.Fatalf("remote list called %d times, want 2", client.listCalls)
	}
}

func TestCreatePaymentTokenRecordsCustomerMapping(t *testing.T) {
	client := &stubTokenClient{created: func() *paypal.VaultedToken { tok := cardToken("tok-9"); return &tok }()}
	dir := newStubDirectory()
	repo := newTestRepository(t, client, dir)

	token, err := repo.CreatePaymentToken(context.Background(), "7", "setup-1")
	if err != nil {
		t.Fatalf("CreatePaymentToken: %v", err)
	}
	if token.ID != "tok-9" {
		t.Fatalf("token id = %q", token.ID)
	}
	if dir.saved["7"] != "cust-7" {
		t.Fatalf("customer mapping = %q, want cust-7", dir.saved["7"])
	}
}

func TestTokenPredicates(t *testing.T) {
	tokens := []paypal.VaultedToken{cardToken("tok-1")}
	if !TokensContainCard(tokens) {
		t.Fatal("expected card token to be detected")
	}
	if TokensContainPayPal(tokens) {
		t.Fatal("did not expect a wallet token")
	}

	tokens = append(tokens, walletToken("tok-2"))
	if !TokensContainPayPal(tokens) {
		t.Fatal("expected wallet token to be detected")
	}
	if TokensContainCard(nil) || TokensContainPayPal(nil) {
		t.Fatal("empty list must contain nothing")
	}
}
