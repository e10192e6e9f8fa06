package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopkite/paypal-checkout-backend/pkg/cache"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

const (
	bearerCacheKey     = "paypal:bearer"
	identityCachePref  = "paypal:id-token"
	oauthTokenPath     = "/v1/oauth2/token"
	defaultBearerGuard = time.Minute
)

// BearerToken is the OAuth2 client-credentials token. Immutable once minted;
// a refresh replaces it wholesale.
type BearerToken struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// IsValidAt reports whether the token is still usable at the given instant,
// applying the safety margin so a token is refreshed before it lapses
// mid-request.
func (t *BearerToken) IsValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.Value == "" || t.ExpiresIn <= 0 {
		return false
	}
	lifetime := time.Duration(t.ExpiresIn)*time.Second - margin
	if lifetime <= 0 {
		return false
	}
	return now.Sub(t.CreatedAt) < lifetime
}

// Authenticator obtains and caches bearer tokens for the remote API. It never
// retries: a failed fetch surfaces immediately and the caller decides whether
// the outer operation is worth retrying. Two concurrent misses may both fetch
// and both write; tokens are fungible, so last write wins.
type Authenticator struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	cache      cache.Cache
	margin     time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

func newAuthenticator(httpClient *http.Client, baseURL, clientID, secret string, store cache.Cache, margin time.Duration, logg *logger.Logger) *Authenticator {
	if margin <= 0 {
		margin = defaultBearerGuard
	}
	return &Authenticator{
		httpClient: httpClient,
		baseURL:    baseURL,
		clientID:   clientID,
		secret:     secret,
		cache:      store,
		margin:     margin,
		logger:     logg,
		now:        time.Now,
	}
}

// Bearer returns a valid bearer token, fetching a fresh one on cache miss or
// expiry. Cache read/write failures degrade to a fetch, never to an error.
func (a *Authenticator) Bearer(ctx context.Context) (*BearerToken, error) {
	if cached := a.cachedToken(ctx); cached != nil {
		return cached, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	payload, err := a.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	token := &BearerToken{
		Value:     payload.AccessToken,
		CreatedAt: a.now(),
		ExpiresIn: payload.ExpiresIn,
	}
	a.storeToken(ctx, token)
	return token, nil
}

// IdentityToken returns the short-lived id token that front-end SDK widgets
// initialize with. When targetCustomerID is set, the token is scoped to that
// vault customer so saved payment methods surface in the widget.
func (a *Authenticator) IdentityToken(ctx context.Context, targetCustomerID string) (string, error) {
	cacheKey := identityCachePref
	if targetCustomerID != "" {
		cacheKey = identityCachePref + ":" + targetCustomerID
	}
	if a.cache != nil {
		if value, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok && value != "" {
			return value, nil
		}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("response_type", "id_token")
	if targetCustomerID != "" {
		form.Set("target_customer_id", targetCustomerID)
	}
	payload, err := a.requestToken(ctx, form)
	if err != nil {
		return "", err
	}
	if payload.IDToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeAuthentication, "oauth response missing id token")
	}

	if a.cache != nil && payload.ExpiresIn > 0 {
		ttl := time.Duration(payload.ExpiresIn)*time.Second - a.margin
		if ttl > 0 {
			if err := a.cache.Set(ctx, cacheKey, payload.IDToken, ttl); err != nil && a.logger != nil {
				a.logger.Warn(ctx, "failed to cache identity token")
			}
		}
	}
	return payload.IDToken, nil
}

// Invalidate drops the cached bearer so the next call re-authenticates. Used
// when the remote API rejects a request as unauthorized.
func (a *Authenticator) Invalidate(ctx context.Context) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, bearerCacheKey); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "failed to invalidate cached bearer token")
	}
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Authenticator) requestToken(ctx context.Context, form url.Values) (*oauthResponse, error) {
	endpoint := a.baseURL + oauthTokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building oauth request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.clientID, a.secret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAuthentication, err, "oauth token request failed")
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAuthentication, readErr, "reading oauth response")
	}

	if resp.StatusCode != http.StatusOK {
		err := pkgerrors.Wrap(
			pkgerrors.CodeAuthentication,
			fmt.Errorf("oauth endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			"authentication with payment provider failed",
		).WithUpstreamStatus(resp.StatusCode)
		if a.logger != nil {
			a.logger.Error(ctx, "paypal oauth rejected", err)
		}
		return nil, err
	}

	var payload oauthResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeAuthentication, err, "decoding oauth response")
	}
	if payload.AccessToken == "" && payload.IDToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "oauth response missing token")
	}
	return &payload, nil
}

func (a *Authenticator) cachedToken(ctx context.Context) *BearerToken {
	if a.cache == nil {
		return nil
	}
	raw, ok, err := a.cache.Get(ctx, bearerCacheKey)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn(ctx, "bearer cache read failed, fetching fresh token")
		}
		return nil
	}
	if !ok {
		return nil
	}
	var token BearerToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil
	}
	if !token.IsValidAt(a.now(), a.margin) {
		return nil
	}
	return &token
}

func (a *Authenticator) storeToken(ctx context.Context, token *BearerToken) {
	if a.cache == nil || token == nil {
		return
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return
	}
	ttl := time.Duration(token.ExpiresIn) * time.Second
	if err := a.cache.Set(ctx, bearerCacheKey, string(raw), ttl); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "failed to cache bearer token")
	}
}
