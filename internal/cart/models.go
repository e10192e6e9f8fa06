package cart

import (
	"time"
)

const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Cart is one buyer's open basket, keyed by checkout session.
type Cart struct {
	ID           string    `gorm:"column:id;primaryKey"`
	SessionID    string    `gorm:"column:session_id;index"`
	UserID       string    `gorm:"column:user_id"`
	CurrencyCode string    `gorm:"column:currency_code"`
	Status       string    `gorm:"column:status"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`

	Items []CartItem `gorm:"foreignKey:CartID"`
}

// TableName maps the model onto the migration-managed table.
func (Cart) TableName() string {
	return "carts"
}

// CartItem is one line in the basket. UnitPrice is stored as the exact
// decimal string the storefront quoted; arithmetic happens at read time.
type CartItem struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CartID    string    `gorm:"column:cart_id;index"`
	SKU       string    `gorm:"column:sku"`
	Name      string    `gorm:"column:name"`
	Quantity  int       `gorm:"column:quantity"`
	UnitPrice string    `gorm:"column:unit_price"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName maps the model onto the migration-managed table.
func (CartItem) TableName() string {
	return "cart_items"
}
