package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shopkite/paypal-checkout-backend/pkg/cache"
	"github.com/shopkite/paypal-checkout-backend/pkg/config"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/logger"
)

const (
	headerRequestID   = "PayPal-Request-Id"
	headerAttribution = "PayPal-Partner-Attribution-Id"
)

var (
	errClientIDRequired = errors.New("paypal client id is required")
	errSecretRequired   = errors.New("paypal client secret is required")
	errLoggerRequired   = errors.New("paypal logger is required")
)

var baseURLs = map[string]string{
	config.PayPalEnvSandbox: "https://api-m.sandbox.paypal.com",
	config.PayPalEnvLive:    "https://api-m.paypal.com",
}

// Client exposes the remote order and vault resources with centralized
// bearer auth, logging, idempotency headers, and error mapping.
type Client struct {
	httpClient  *http.Client
	auth        *Authenticator
	baseURL     string
	environment string
	bnCode      string
	logger      *logger.Logger
}

// NewClient validates the credentials and wires the authenticator.
func NewClient(ctx context.Context, cfg config.PayPalConfig, store cache.Cache, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("paypal environment must be %q or %q", config.PayPalEnvSandbox, config.PayPalEnvLive)
	}

	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	secret := strings.TrimSpace(cfg.ClientSecret)
	if secret == "" {
		return nil, errSecretRequired
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	c := &Client{
		httpClient:  httpClient,
		auth:        newAuthenticator(httpClient, baseURL, clientID, secret, store, cfg.BearerSafety, logg),
		baseURL:     baseURL,
		environment: env,
		bnCode:      strings.TrimSpace(cfg.BNCode),
		logger:      logg,
	}

	logg.Info(ctx, "paypal client initialized")
	return c, nil
}

// Environment reports the normalized PayPal environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// Auth exposes the bearer authenticator.
func (c *Client) Auth() *Authenticator {
	if c == nil {
		return nil
	}
	return c.auth
}

// IdentityToken proxies the id-token grant for SDK initialization.
func (c *Client) IdentityToken(ctx context.Context, targetCustomerID string) (string, error) {
	return c.auth.IdentityToken(ctx, targetCustomerID)
}

// NewIdempotencyKey returns a unique request id for remote mutations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "sk"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// do performs one authenticated round-trip. requestID, when set, rides the
// idempotency header; mutating callers must pass one.
func (c *Client) do(ctx context.Context, method, path, requestID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set(headerRequestID, requestID)
	}
	if c.bnCode != "" {
		req.Header.Set(headerAttribution, c.bnCode)
	}

	bearer, err := c.auth.Bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer.Value)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, err, fmt.Sprintf("calling %s %s", method, path))
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if readErr != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransport, readErr, "reading response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.mapAPIError(ctx, resp.StatusCode, raw, method, path)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding response body")
	}
	return nil
}

type apiErrorBody struct {
	Name    string                     `json:"name"`
	Message string                     `json:"message"`
	DebugID string                     `json:"debug_id"`
	Details []pkgerrors.UpstreamDetail `json:"details"`
	Links   []Link                     `json:"links"`
}

func (c *Client) mapAPIError(ctx context.Context, status int, raw []byte, method, path string) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(raw, &parsed)

	message := parsed.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	code := domainCodeForStatus(status)
	if status == http.StatusUnauthorized {
		// The cached bearer is no longer honored; drop it so the next
		// attempt re-authenticates instead of replaying a dead token.
		c.auth.Invalidate(ctx)
	}

	err := pkgerrors.Wrap(
		code,
		fmt.Errorf("%s %s returned %d (%s, debug_id=%s): %s", method, path, status, parsed.Name, parsed.DebugID, message),
		remoteFailureMessage(parsed.Name, message),
	).WithUpstreamStatus(status)
	if len(parsed.Details) > 0 {
		err = err.WithDetails(parsed.Details)
	}

	fields := map[string]any{
		"method":   method,
		"path":     path,
		"status":   status,
		"error":    parsed.Name,
		"debug_id": parsed.DebugID,
	}
	c.logger.Error(c.logger.WithFields(ctx, fields), "paypal request rejected", err)
	return err
}

func remoteFailureMessage(name, message string) string {
	if name == "" {
		return "payment provider request failed"
	}
	if message == "" {
		return name
	}
	return message
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeAuthentication
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeUpstream
		}
		return pkgerrors.CodeDependency
	}
}

// Issues that mean the buyer's chosen instrument cannot pay: the orchestrator
// offers a different funding source instead of failing the checkout.
var softDeclineIssues = map[string]struct{}{
	"INSTRUMENT_DECLINED": {},
	"INSUFFICIENT_FUNDS":  {},
	"PAYER_CANNOT_PAY":    {},
	"TRANSACTION_REFUSED": {},
}

// IsInstrumentDeclined reports whether the error is a soft decline the buyer
// can recover from by picking another funding source.
func IsInstrumentDeclined(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	for _, detail := range typed.UpstreamDetails() {
		if _, ok := softDeclineIssues[strings.ToUpper(detail.Issue)]; ok {
			return true
		}
	}
	return false
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	c.logger.Info(c.logger.WithFields(ctx, logFields), fmt.Sprintf("paypal %s", phase))
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "secret", "email", "phone", "vault"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
