package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/shopkite/paypal-checkout-backend/pkg/cache"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// tokenClient is the slice of the gateway client the repository needs.
type tokenClient interface {
	ListPaymentTokens(ctx context.Context, customerID string) ([]paypal.VaultedToken, error)
	CreateSetupToken(ctx context.Context, params paypal.CreateSetupTokenParams) (*paypal.SetupToken, error)
	CreatePaymentToken(ctx context.Context, setupTokenID, requestID string) (*paypal.VaultedToken, error)
	DeletePaymentToken(ctx context.Context, tokenID string) error
	NewIdempotencyKey(prefix string) string
}

type customerDirectory interface {
	ProviderCustomerID(ctx context.Context, userID string) (string, error)
	Save(ctx context.Context, userID, providerCustID string) error
}

// Repository serves vaulted payment-method tokens per buyer, cache-first.
// Upstream failures on the read path degrade to "no saved method"; a missing
// vault entry is never fatal for checkout.
type Repository struct {
	client    tokenClient
	cache     cache.Cache
	directory customerDirectory
	logger    *logger.Logger
	ttl       time.Duration
}

// RepositoryParams groups the repository's dependencies.
type RepositoryParams struct {
	Client    tokenClient
	Cache     cache.Cache
	Directory customerDirectory
	Logger    *logger.Logger
	CacheTTL  time.Duration
}

// NewRepository constructs a payment token repository.
func NewRepository(params RepositoryParams) (*Repository, error) {
	if params.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "token client required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cache required")
	}
	if params.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer directory required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Repository{
		client:    params.Client,
		cache:     params.Cache,
		directory: params.Directory,
		logger:    params.Logger,
		ttl:       ttl,
	}, nil
}

func tokenCacheKey(userID string) string {
	return fmt.Sprintf("vault:user:%s", userID)
}

// ForUserID returns the buyer's first usable vaulted token, or nil when none
// exists or the vault is unreachable.
func (r *Repository) ForUserID(ctx context.Context, userID string) *paypal.VaultedToken {
	tokens := r.AllForUserID(ctx, userID)
	if len(tokens) == 0 {
		return nil
	}
	return &tokens[0]
}

// AllForUserID returns every vaulted token for the buyer. Cache-first; on
// cache miss the remote list is fetched and cached. Any upstream failure
// yields an empty list.
func (r *Repository) AllForUserID(ctx context.Context, userID string) []paypal.VaultedToken {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	if cached := r.cachedTokens(ctx, userID); cached != nil {
		return cached
	}

	customerID, err := r.directory.ProviderCustomerID(ctx, userID)
	if err != nil {
		r.logger.Warn(r.logger.WithUserID(ctx, userID), "vault customer lookup failed")
		return nil
	}
	if customerID == "" {
		return nil
	}

	tokens, err := r.client.ListPaymentTokens(ctx, customerID)
	if err != nil {
		r.logger.Warn(r.logger.WithUserID(ctx, userID), "vault token list failed, treating as no saved methods")
		return nil
	}

	r.storeTokens(ctx, userID, tokens)
	return tokens
}

// DeleteToken removes the token locally and remotely. The local cache entry
// is always dropped; cache and remote failures are logged as one combined
// warning, never surfaced, so a flaky vault endpoint cannot break the
// buyer's delete.
func (r *Repository) DeleteToken(ctx context.Context, userID, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "token id is required")
	}

	var errs error
	if err := r.cache.Delete(ctx, tokenCacheKey(userID)); err != nil {
		errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalidating vault cache"))
	}
	if err := r.client.DeletePaymentToken(ctx, tokenID); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		ctx = r.logger.WithField(r.logger.WithUserID(ctx, userID), "error", errs.Error())
		r.logger.Warn(ctx, "vault token deletion degraded")
	}
	return nil
}

// CreateSetupToken starts a vaulting flow for the buyer's payment source.
func (r *Repository) CreateSetupToken(ctx context.Context, userID string, source *paypal.PaymentSource) (*paypal.SetupToken, error) {
	customerID := ""
	if userID != "" {
		resolved, err := r.directory.ProviderCustomerID(ctx, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving vault customer")
		}
		customerID = resolved
	}

	return r.client.CreateSetupToken(ctx, paypal.CreateSetupTokenParams{
		CustomerID:    customerID,
		PaymentSource: source,
		RequestID:     r.client.NewIdempotencyKey("setup-token"),
	})
}

// CreatePaymentToken finishes a vaulting flow: it exchanges the approved
// setup token, records the provider customer id the token came back with,
// and drops the stale cache entry so the next read sees the new token.
func (r *Repository) CreatePaymentToken(ctx context.Context, userID, setupTokenID string) (*paypal.VaultedToken, error) {
	token, err := r.client.CreatePaymentToken(ctx, setupTokenID, r.client.NewIdempotencyKey("payment-token"))
	if err != nil {
		return nil, err
	}

	if userID != "" {
		if token.Customer != nil && token.Customer.ID != "" {
			if err := r.directory.Save(ctx, userID, token.Customer.ID); err != nil {
				r.logger.Warn(r.logger.WithUserID(ctx, userID), "saving vault customer mapping failed")
			}
		}
		if err := r.cache.Delete(ctx, tokenCacheKey(userID)); err != nil {
			r.logger.Warn(r.logger.WithUserID(ctx, userID), "invalidating vault cache failed")
		}
	}
	return token, nil
}

// TokensContainCard reports whether any token vaults a card.
func TokensContainCard(tokens []paypal.VaultedToken) bool {
	for i := range tokens {
		if tokens[i].PaymentSource.Kind() == paypal.FundingCard {
			return true
		}
	}
	return false
}

// TokensContainPayPal reports whether any token vaults a wallet.
func TokensContainPayPal(tokens []paypal.VaultedToken) bool {
	for i := range tokens {
		if tokens[i].PaymentSource.Kind() == paypal.FundingPayPal {
			return true
		}
	}
	return false
}

func (r *Repository) cachedTokens(ctx context.Context, userID string) []paypal.VaultedToken {
	raw, ok, err := r.cache.Get(ctx, tokenCacheKey(userID))
	if err != nil {
		r.logger.Warn(r.logger.WithUserID(ctx, userID), "vault cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	var tokens []paypal.VaultedToken
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil
	}
	return tokens
}

func (r *Repository) storeTokens(ctx context.Context, userID string, tokens []paypal.VaultedToken) {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, tokenCacheKey(userID), string(raw), r.ttl); err != nil {
		r.logger.Warn(r.logger.WithUserID(ctx, userID), "vault cache write failed")
	}
}
