package vault

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/shopkite/paypal-checkout-backend/pkg/db"
)

// CustomerRecord maps a storefront user to the payment provider's vault
// customer id. The provider assigns the id on first successful vaulting.
type CustomerRecord struct {
	UserID         string    `gorm:"column:user_id;primaryKey"`
	ProviderCustID string    `gorm:"column:provider_cust_id"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName maps the model onto the migration-managed table.
func (CustomerRecord) TableName() string {
	return "vault_customers"
}

// Directory persists the user-to-provider-customer mapping.
type Directory struct {
	client *db.Client
}

// NewDirectory constructs the gorm-backed directory.
func NewDirectory(client *db.Client) *Directory {
	return &Directory{client: client}
}

// ProviderCustomerID resolves the provider customer id for a user. Returns
// empty (no error) when the user has never vaulted anything.
func (d *Directory) ProviderCustomerID(ctx context.Context, userID string) (string, error) {
	var record CustomerRecord
	err := d.client.DB().WithContext(ctx).First(&record, "user_id = ?", userID).Error
	if db.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.ProviderCustID, nil
}

// Save upserts the mapping after the provider assigns a customer id.
func (d *Directory) Save(ctx context.Context, userID, providerCustID string) error {
	now := time.Now().UTC()
	record := CustomerRecord{
		UserID:         userID,
		ProviderCustID: providerCustID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return d.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"provider_cust_id", "updated_at"}),
		}).
		Create(&record).Error
}

