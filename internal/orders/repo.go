package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopkite/paypal-checkout-backend/pkg/db"
	pkgerrors "github.com/shopkite/paypal-checkout-backend/pkg/errors"
	"github.com/shopkite/paypal-checkout-backend/pkg/paypal"
)

const (
	KindCapture       = "capture"
	KindAuthorization = "authorization"
)

// OrderRecord is the local audit row for one remote order. The remote
// resource stays authoritative; these rows exist for reporting and support.
type OrderRecord struct {
	ID            string    `gorm:"column:id;primaryKey"`
	SessionID     string    `gorm:"column:session_id;index"`
	CartID        string    `gorm:"column:cart_id"`
	UserID        string    `gorm:"column:user_id"`
	Intent        string    `gorm:"column:intent"`
	Status        string    `gorm:"column:status"`
	FundingSource string    `gorm:"column:funding_source"`
	CurrencyCode  string    `gorm:"column:currency_code"`
	Amount        string    `gorm:"column:amount"`
	AttemptID     string    `gorm:"column:attempt_id;uniqueIndex"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName maps the model onto the migration-managed table.
func (OrderRecord) TableName() string {
	return "gateway_orders"
}

// CaptureRecord is one money movement against an order.
type CaptureRecord struct {
	ID           string    `gorm:"column:id;primaryKey"`
	OrderID      string    `gorm:"column:order_id;index"`
	Kind         string    `gorm:"column:kind"`
	Status       string    `gorm:"column:status"`
	CurrencyCode string    `gorm:"column:currency_code"`
	Amount       string    `gorm:"column:amount"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName maps the model onto the migration-managed table.
func (CaptureRecord) TableName() string {
	return "gateway_captures"
}

// Repo persists the order audit trail.
type Repo struct {
	client *db.Client
	now    func() time.Time
}

// NewRepo constructs the audit repository.
func NewRepo(client *db.Client) (*Repo, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db client required")
	}
	return &Repo{client: client, now: time.Now}, nil
}

// RecordCreated writes the audit row for a freshly created remote order.
// Replaying the same attempt id is treated as a no-op so retried creations
// do not produce duplicate rows.
func (r *Repo) RecordCreated(ctx context.Context, order *paypal.Order, sessionID, cartID, userID, attemptID string) error {
	if order == nil || order.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}

	currency, amount := orderAmount(order)
	now := r.now().UTC()
	record := OrderRecord{
		ID:            order.ID,
		SessionID:     sessionID,
		CartID:        cartID,
		UserID:        userID,
		Intent:        string(order.Intent),
		Status:        string(order.Status),
		FundingSource: string(order.FundingKind()),
		CurrencyCode:  currency,
		Amount:        amount,
		AttemptID:     attemptID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := r.client.DB().WithContext(ctx).Create(&record).Error
	if err != nil && db.IsUniqueViolation(err, "") {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording order")
	}
	return nil
}

// UpdateStatus mirrors a remote status transition onto the audit row.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, status paypal.OrderStatus, funding paypal.FundingSource) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": r.now().UTC(),
	}
	if funding != "" {
		updates["funding_source"] = string(funding)
	}
	err := r.client.DB().WithContext(ctx).
		Model(&OrderRecord{}).
		Where("id = ?", orderID).
		Updates(updates).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating order status")
	}
	return nil
}

// RecordOutcome stores the money movement and the final order status in one
// transaction, so the audit trail never shows a completed order without its
// capture row.
func (r *Repo) RecordOutcome(ctx context.Context, order *paypal.Order, kind string) error {
	if order == nil || order.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if kind != KindCapture && kind != KindAuthorization {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown outcome kind")
	}

	now := r.now().UTC()
	captures := flattenOutcomes(order, kind, now)

	err := r.client.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":     string(order.Status),
			"updated_at": now,
		}
		if funding := order.FundingKind(); funding != "" {
			updates["funding_source"] = string(funding)
		}
		if err := tx.Model(&OrderRecord{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return err
		}
		if len(captures) > 0 {
			return tx.Create(&captures).Error
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording capture outcome")
	}
	return nil
}

// ForSession lists the session's audit rows, newest first.
func (r *Repo) ForSession(ctx context.Context, sessionID string) ([]OrderRecord, error) {
	var records []OrderRecord
	err := r.client.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing session orders")
	}
	return records, nil
}

func flattenOutcomes(order *paypal.Order, kind string, now time.Time) []CaptureRecord {
	var out []CaptureRecord
	for i := range order.PurchaseUnits {
		payments := order.PurchaseUnits[i].Payments
		if payments == nil {
			continue
		}
		if kind == KindCapture {
			for _, capture := range payments.Captures {
				out = append(out, captureRow(order.ID, kind, capture.ID, capture.Status, capture.Amount, now))
			}
		} else {
			for _, auth := range payments.Authorizations {
				out = append(out, captureRow(order.ID, kind, auth.ID, auth.Status, auth.Amount, now))
			}
		}
	}
	// The capture response does not always echo the payments block; fall
	// back to a synthetic row keyed by the order itself.
	if len(out) == 0 {
		currency, amount := orderAmount(order)
		out = append(out, captureRow(order.ID, kind, uuid.NewString(), string(order.Status), paypal.Money{CurrencyCode: currency, Value: amount}, now))
	}
	return out
}

func captureRow(orderID, kind, id, status string, amount paypal.Money, now time.Time) CaptureRecord {
	if id == "" {
		id = uuid.NewString()
	}
	return CaptureRecord{
		ID:           id,
		OrderID:      orderID,
		Kind:         kind,
		Status:       status,
		CurrencyCode: amount.CurrencyCode,
		Amount:       amount.Value,
		CreatedAt:    now,
	}
}

func orderAmount(order *paypal.Order) (string, string) {
	if len(order.PurchaseUnits) == 0 {
		return "", ""
	}
	amount := order.PurchaseUnits[0].Amount
	return amount.CurrencyCode, amount.Value
}
