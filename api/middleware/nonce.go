package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shopkite/paypal-checkout-backend/api/responses"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

const nonceHeader = "X-Checkout-Nonce"

type nonceStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	NonceKey(id string) string
}

type nonceClaims struct {
	Action    string `json:"act"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// NonceIssuer mints single-use, action-scoped tokens the storefront must
// echo back on state-changing checkout calls.
type NonceIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewNonceIssuer builds an issuer from the nonce config.
func NewNonceIssuer(cfg config.NonceConfig) (*NonceIssuer, error) {
	if cfg.Secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "nonce secret required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &NonceIssuer{secret: []byte(cfg.Secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed nonce bound to one action and one session.
func (n *NonceIssuer) Issue(action, sessionID string) (string, error) {
	now := n.now()
	claims := nonceClaims{
		Action:    action,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(n.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(n.secret)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "signing nonce")
	}
	return signed, nil
}

func (n *NonceIssuer) parse(raw, action, sessionID string) (*nonceClaims, error) {
	var claims nonceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "unexpected signing method")
		}
		return n.secret, nil
	}, jwt.WithTimeFunc(n.now))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid checkout nonce")
	}
	if claims.Action != action {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "nonce was issued for a different action")
	}
	if claims.SessionID != sessionID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "nonce was issued for a different session")
	}
	return &claims, nil
}

// RequireNonce rejects requests whose nonce is missing, forged, expired,
// scoped to another action or session, or already spent.
func RequireNonce(issuer *NonceIssuer, store nonceStore, action string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw := r.Header.Get(nonceHeader)
			if raw == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "checkout nonce required"))
				return
			}

			sessionID := ""
			if sess := SessionFromContext(ctx); sess != nil {
				sessionID = sess.ID()
			}

			claims, err := issuer.parse(raw, action, sessionID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			remaining := claims.ExpiresAt.Sub(issuer.now())
			if remaining <= 0 {
				remaining = time.Minute
			}
			fresh, err := store.SetNX(ctx, store.NonceKey(claims.ID), "1", remaining)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking nonce"))
				return
			}
			if !fresh {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "checkout nonce already used"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
