package middleware

import (
	"context"
	"net/http"

	"github.com/shopkite/paypal-checkout-backend/internal/session"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

type sessionCtxKey struct{}

// Session assigns every request a checkout session handle. A buyer without
// the cookie gets a fresh session id set on the response; the blob itself is
// created lazily on first write.
func Session(manager *session.Manager, cfg config.SessionConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if cookie, err := r.Cookie(cfg.CookieName); err == nil && cookie.Value != "" {
				sessionID = cookie.Value
			}
			if sessionID == "" {
				sessionID = manager.NewSessionID()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.CookieName,
					Value:    sessionID,
					Path:     "/",
					MaxAge:   int(cfg.TTL().Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
			}
			ctx = context.WithValue(ctx, sessionCtxKey{}, manager.Load(sessionID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the request's checkout session handle, or nil
// when the Session middleware did not run.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*session.Session)
	return sess
}
