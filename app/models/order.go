package models

import "time"

// Order status values. An order only reaches completed once every purchased
// unit has been provisioned (or explicitly failed and reported).
const (
	OrderStatusNew        = "new"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusDispute    = "dispute"
)

// Payment status values. Provisioning must never start before paid.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Order is one purchase. Orders are immutable history once paid; there is no
// delete path.
type Order struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserID          uint           `gorm:"not null;index" json:"user_id"`
	User            *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TotalCents      int64          `gorm:"not null" json:"total_cents"`
	Currency        string         `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	OrderStatus     string         `gorm:"type:varchar(20);not null;default:'new';index" json:"order_status"`
	PaymentStatus   string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	PaymentMethodID uint           `gorm:"not null;index" json:"payment_method_id"`
	PaymentMethod   *PaymentMethod `gorm:"foreignKey:PaymentMethodID" json:"payment_method,omitempty"`
	Notes           string         `gorm:"type:text" json:"notes"`
	Items           []OrderItem    `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Invoice         *Invoice       `gorm:"foreignKey:OrderID" json:"invoice,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether payment has been captured for this order.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// IsCompleted reports whether all purchased units have been provisioned.
func (o *Order) IsCompleted() bool {
	return o.OrderStatus == OrderStatusCompleted
}

// OrderItem is one cart line of an order. Unit price and line total are
// captured at purchase time and never recomputed from the catalog.
type OrderItem struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrderID        uint      `gorm:"not null;index" json:"order_id"`
	PlanID         uint      `gorm:"not null;index" json:"plan_id"`
	Plan           *Plan     `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	UnitPriceCents int64     `gorm:"not null" json:"unit_price_cents"`
	LineTotalCents int64     `gorm:"not null" json:"line_total_cents"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
