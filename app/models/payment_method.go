package models

import "time"

// Payment method slugs are the dispatch keys for gateway adapter selection.
const (
	PaymentMethodStripe      = "stripe"
	PaymentMethodPayPal      = "paypal"
	PaymentMethodNowPayments = "nowpayments"
	PaymentMethodWallet      = "wallet"
)

// PaymentMethod is a catalog entry for an available payment gateway.
type PaymentMethod struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DisplayName string    `gorm:"type:varchar(150);not null" json:"display_name"`
	Slug        string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"slug"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
