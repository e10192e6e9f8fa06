package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopkite/paypal-checkout-backend/pkg/db"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

// ItemInput is one requested line item in a cart mutation.
type ItemInput struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the basket the purchase units are snapshotted from.
type Service struct {
	client   *db.Client
	txRunner txRunner
	now      func() time.Time
}

// ServiceParams groups the cart service dependencies.
type ServiceParams struct {
	DB *db.Client
}

// NewService constructs a cart service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db client required")
	}
	return &Service{client: params.DB, txRunner: params.DB, now: time.Now}, nil
}

// ForSession returns the session's open cart, creating an empty one when the
// session has never added anything.
func (s *Service) ForSession(ctx context.Context, sessionID, currencyCode string) (*Cart, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	var cart Cart
	err := s.client.DB().WithContext(ctx).
		Preload("Items").
		First(&cart, "session_id = ? AND status = ?", sessionID, StatusOpen).Error
	if err == nil {
		return &cart, nil
	}
	if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading cart")
	}

	if currencyCode == "" {
		currencyCode = "USD"
	}
	now := s.now().UTC()
	cart = Cart{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		CurrencyCode: strings.ToUpper(currencyCode),
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.client.DB().WithContext(ctx).Create(&cart).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating cart")
	}
	return &cart, nil
}

// ChangeCart replaces the open cart's contents wholesale. Item inputs are
// validated before any write; the replacement happens in one transaction so
// a concurrent snapshot never observes a half-replaced basket.
func (s *Service) ChangeCart(ctx context.Context, sessionID string, items []ItemInput) (*Cart, error) {
	validated, err := validateItems(items)
	if err != nil {
		return nil, err
	}

	cart, err := s.ForSession(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rows := make([]CartItem, 0, len(validated))
	for _, item := range validated {
		rows = append(rows, CartItem{
			ID:        uuid.NewString(),
			CartID:    cart.ID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&CartItem{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Cart{}).Where("id = ?", cart.ID).Update("updated_at", now).Error
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replacing cart items")
	}

	cart.Items = rows
	cart.UpdatedAt = now
	return cart, nil
}

// Complete marks the cart consumed after a successful capture.
func (s *Service) Complete(ctx context.Context, cartID string) error {
	return s.client.DB().WithContext(ctx).
		Model(&Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]any{"status": StatusCompleted, "updated_at": s.now().UTC()}).Error
}

// PurchaseUnits snapshots the cart into the wire shape the gateway expects.
// Totals are computed with exact decimal arithmetic; an empty cart is a
// validation error since an order needs at least one line item.
func PurchaseUnits(cart *Cart) ([]paypal.PurchaseUnit, error) {
	if cart == nil || len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	itemTotal := decimal.Zero
	items := make([]paypal.Item, 0, len(cart.Items))
	for _, row := range cart.Items {
		price, err := decimal.NewFromString(row.UnitPrice)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("cart item %s has a malformed price", row.SKU))
		}
		itemTotal = itemTotal.Add(price.Mul(decimal.NewFromInt(int64(row.Quantity))))
		items = append(items, paypal.Item{
			Name:       row.Name,
			SKU:        row.SKU,
			Quantity:   fmt.Sprintf("%d", row.Quantity),
			UnitAmount: paypal.Money{CurrencyCode: cart.CurrencyCode, Value: price.StringFixed(2)},
		})
	}

	total := itemTotal.StringFixed(2)
	unit := paypal.PurchaseUnit{
		ReferenceID: "default",
		CustomID:    cart.ID,
		Amount: paypal.Amount{
			CurrencyCode: cart.CurrencyCode,
			Value:        total,
			Breakdown: &paypal.AmountBreakdown{
				ItemTotal: &paypal.Money{CurrencyCode: cart.CurrencyCode, Value: total},
			},
		},
		Items: items,
	}
	return []paypal.PurchaseUnit{unit}, nil
}

func validateItems(items []ItemInput) ([]ItemInput, error) {
	out := make([]ItemInput, 0, len(items))
	for i, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %d is missing a sku", i))
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = sku
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s has a non-positive quantity", sku))
		}
		price, err := decimal.NewFromString(strings.TrimSpace(item.UnitPrice))
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s has a malformed unit price", sku))
		}
		if price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s has a negative unit price", sku))
		}
		out = append(out, ItemInput{
			SKU:       sku,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: price.StringFixed(2),
		})
	}
	return out, nil
}
