package paypal

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
)

// Intent selects whether an approved order is captured immediately or merely
// authorized for a later capture.
type Intent string

const (
	IntentCapture   Intent = "CAPTURE"
	IntentAuthorize Intent = "AUTHORIZE"
)

func ParseIntent(raw string) (Intent, error) {
	switch Intent(strings.ToUpper(strings.TrimSpace(raw))) {
	case IntentCapture:
		return IntentCapture, nil
	case IntentAuthorize:
		return IntentAuthorize, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "intent must be CAPTURE or AUTHORIZE")
	}
}

// OrderStatus is the remote order lifecycle as the service tracks it:
// CREATED -> APPROVED -> COMPLETED | VOIDED. Failure states never appear
// here; the remote API surfaces them as errors instead.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusVoided    OrderStatus = "VOIDED"
)

// normalizeOrderStatus folds PayPal's transient statuses into the four the
// service tracks. PAYER_ACTION_REQUIRED and SAVED orders are still awaiting
// buyer interaction, so they read as CREATED.
func normalizeOrderStatus(raw string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED":
		return OrderStatusApproved
	case "COMPLETED":
		return OrderStatusCompleted
	case "VOIDED":
		return OrderStatusVoided
	default:
		return OrderStatusCreated
	}
}

// IsFinal reports whether no further buyer action can change the order.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusVoided
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = normalizeOrderStatus(raw)
	return nil
}

// FundingSource tags the payment method variants the storefront can offer.
type FundingSource string

const (
	FundingPayPal  FundingSource = "paypal"
	FundingCard    FundingSource = "card"
	FundingIDEAL   FundingSource = "ideal"
	FundingSofort  FundingSource = "sofort"
	FundingP24     FundingSource = "p24"
	FundingTrustly FundingSource = "trustly"
	FundingOXXO    FundingSource = "oxxo"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type AmountBreakdown struct {
	ItemTotal *Money `json:"item_total,omitempty"`
	Shipping  *Money `json:"shipping,omitempty"`
	TaxTotal  *Money `json:"tax_total,omitempty"`
	Discount  *Money `json:"discount,omitempty"`
}

type Amount struct {
	CurrencyCode string           `json:"currency_code"`
	Value        string           `json:"value"`
	Breakdown    *AmountBreakdown `json:"breakdown,omitempty"`
}

type Item struct {
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	UnitAmount Money  `json:"unit_amount"`
	SKU        string `json:"sku,omitempty"`
	Category   string `json:"category,omitempty"`
}

type Address struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	AdminArea1   string `json:"admin_area_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code"`
}

type ShippingName struct {
	FullName string `json:"full_name,omitempty"`
}

type Shipping struct {
	Name    *ShippingName `json:"name,omitempty"`
	Address *Address      `json:"address,omitempty"`
}

type Payee struct {
	EmailAddress string `json:"email_address,omitempty"`
	MerchantID   string `json:"merchant_id,omitempty"`
}

// PurchaseUnit is an immutable snapshot of the cart at order-creation time.
// It is never re-derived; changing the cart means creating a new order.
type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Amount      Amount    `json:"amount"`
	Items       []Item    `json:"items,omitempty"`
	Shipping    *Shipping `json:"shipping,omitempty"`
	Payee       *Payee    `json:"payee,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	InvoiceID   string    `json:"invoice_id,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

// Payments holds the money movements recorded against a purchase unit after
// capture or authorization.
type Payments struct {
	Captures       []CaptureResult       `json:"captures,omitempty"`
	Authorizations []AuthorizationResult `json:"authorizations,omitempty"`
}

type PayerName struct {
	GivenName string `json:"given_name,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

type Payer struct {
	PayerID      string     `json:"payer_id,omitempty"`
	EmailAddress string     `json:"email_address,omitempty"`
	Name         *PayerName `json:"name,omitempty"`
}

// ExperienceContext carries the redirect URLs and presentation hints used by
// wallet and redirect-based payment sources.
type ExperienceContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	Locale             string `json:"locale,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
}

type PayPalSource struct {
	EmailAddress      string             `json:"email_address,omitempty"`
	VaultID           string             `json:"vault_id,omitempty"`
	ExperienceContext *ExperienceContext `json:"experience_context,omitempty"`
}

type CardVault struct {
	StoreInVault string `json:"store_in_vault,omitempty"`
}

type CardAttributes struct {
	Vault *CardVault `json:"vault,omitempty"`
}

type CardSource struct {
	Name              string             `json:"name,omitempty"`
	LastDigits        string             `json:"last_digits,omitempty"`
	Brand             string             `json:"brand,omitempty"`
	Expiry            string             `json:"expiry,omitempty"`
	VaultID           string             `json:"vault_id,omitempty"`
	Attributes        *CardAttributes    `json:"attributes,omitempty"`
	ExperienceContext *ExperienceContext `json:"experience_context,omitempty"`
}

// APMSource covers the redirect-based alternative payment methods. They all
// share the same wire shape: buyer name, country, and redirect context.
type APMSource struct {
	Name              string             `json:"name,omitempty"`
	CountryCode       string             `json:"country_code,omitempty"`
	Email             string             `json:"email,omitempty"`
	BIC               string             `json:"bic,omitempty"`
	ExperienceContext *ExperienceContext `json:"experience_context,omitempty"`
}

// PaymentSource is a closed sum over the supported funding variants; exactly
// one field is populated on a confirmed order.
type PaymentSource struct {
	PayPal  *PayPalSource `json:"paypal,omitempty"`
	Card    *CardSource   `json:"card,omitempty"`
	IDEAL   *APMSource    `json:"ideal,omitempty"`
	Sofort  *APMSource    `json:"sofort,omitempty"`
	P24     *APMSource    `json:"p24,omitempty"`
	Trustly *APMSource    `json:"trustly,omitempty"`
	OXXO    *APMSource    `json:"oxxo,omitempty"`
}

// Kind returns the populated variant's tag, or empty when nothing is set.
func (p *PaymentSource) Kind() FundingSource {
	switch {
	case p == nil:
		return ""
	case p.PayPal != nil:
		return FundingPayPal
	case p.Card != nil:
		return FundingCard
	case p.IDEAL != nil:
		return FundingIDEAL
	case p.Sofort != nil:
		return FundingSofort
	case p.P24 != nil:
		return FundingP24
	case p.Trustly != nil:
		return FundingTrustly
	case p.OXXO != nil:
		return FundingOXXO
	default:
		return ""
	}
}

// SetExperienceContext attaches the redirect context to whichever variant is
// populated. Safe to call on any source; variants without one are skipped.
func (p *PaymentSource) SetExperienceContext(ec *ExperienceContext) {
	if p == nil || ec == nil {
		return
	}
	switch {
	case p.PayPal != nil:
		p.PayPal.ExperienceContext = ec
	case p.Card != nil:
		p.Card.ExperienceContext = ec
	case p.IDEAL != nil:
		p.IDEAL.ExperienceContext = ec
	case p.Sofort != nil:
		p.Sofort.ExperienceContext = ec
	case p.P24 != nil:
		p.P24.ExperienceContext = ec
	case p.Trustly != nil:
		p.Trustly.ExperienceContext = ec
	case p.OXXO != nil:
		p.OXXO.ExperienceContext = ec
	}
}

// Validate enforces the exactly-one-variant invariant.
func (p *PaymentSource) Validate() error {
	if p == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment source is required")
	}
	count := 0
	for _, set := range []bool{
		p.PayPal != nil,
		p.Card != nil,
		p.IDEAL != nil,
		p.Sofort != nil,
		p.P24 != nil,
		p.Trustly != nil,
		p.OXXO != nil,
	} {
		if set {
			count++
		}
	}
	if count != 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment source must populate exactly one variant")
	}
	return nil
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Order mirrors the remote checkout order resource. The remote copy is
// authoritative; this struct is only ever replaced wholesale by a fresh
// fetch or create.
type Order struct {
	ID            string         `json:"id"`
	Intent        Intent         `json:"intent"`
	Status        OrderStatus    `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Payer         *Payer         `json:"payer,omitempty"`
	PaymentSource *PaymentSource `json:"payment_source,omitempty"`
	Links         []Link         `json:"links,omitempty"`
	CreateTime    string         `json:"create_time,omitempty"`
	UpdateTime    string         `json:"update_time,omitempty"`
}

// FindLink returns the HATEOAS link with the given rel, if present.
func (o *Order) FindLink(rel string) *Link {
	if o == nil {
		return nil
	}
	for i := range o.Links {
		if strings.EqualFold(o.Links[i].Rel, rel) {
			return &o.Links[i]
		}
	}
	return nil
}

// PayerActionLink returns the redirect URL the buyer must visit to finish
// authorizing a redirect-based payment source, or empty when none exists.
func (o *Order) PayerActionLink() string {
	if link := o.FindLink("payer-action"); link != nil {
		return link.Href
	}
	return ""
}

// FundingKind reports the funding source confirmed on the order, if any.
func (o *Order) FundingKind() FundingSource {
	if o == nil {
		return ""
	}
	return o.PaymentSource.Kind()
}

// FirstCapture returns the first capture recorded on the order, or nil when
// no funds have moved yet.
func (o *Order) FirstCapture() *CaptureResult {
	if o == nil {
		return nil
	}
	for i := range o.PurchaseUnits {
		p := o.PurchaseUnits[i].Payments
		if p != nil && len(p.Captures) > 0 {
			return &p.Captures[0]
		}
	}
	return nil
}

// FirstAuthorization returns the first authorization hold on the order, if any.
func (o *Order) FirstAuthorization() *AuthorizationResult {
	if o == nil {
		return nil
	}
	for i := range o.PurchaseUnits {
		p := o.PurchaseUnits[i].Payments
		if p != nil && len(p.Authorizations) > 0 {
			return &p.Authorizations[0]
		}
	}
	return nil
}

// CaptureResult is the money-movement outcome of a capture call.
type CaptureResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// AuthorizationResult is the outcome of an authorize call.
type AuthorizationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

// VaultCustomer identifies the buyer a vaulted token belongs to.
type VaultCustomer struct {
	ID string `json:"id,omitempty"`
}

// VaultedToken is a reusable payment-method token stored with the provider.
type VaultedToken struct {
	ID            string         `json:"id"`
	Customer      *VaultCustomer `json:"customer,omitempty"`
	PaymentSource PaymentSource  `json:"payment_source"`
}

// SetupToken is the intermediate token minted before vaulting completes.
type SetupToken struct {
	ID       string         `json:"id"`
	Status   string         `json:"status,omitempty"`
	Customer *VaultCustomer `json:"customer,omitempty"`
	Links    []Link         `json:"links,omitempty"`
}
