package models

import "time"

// Invoice is the 1:1 billing document of an order. It is created together
// with the order, mutated as gateway responses arrive and never deleted.
type Invoice struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OrderID     uint      `gorm:"uniqueIndex;not null" json:"order_id"`
	Order       *Order    `gorm:"foreignKey:OrderID" json:"-"`
	Number      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"number"`
	AmountCents int64     `gorm:"not null" json:"amount_cents"`
	Currency    string    `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	ProviderRef string    `gorm:"type:varchar(191);index;default:''" json:"provider_ref"` // external charge/session/invoice id
	PayAddress  string    `gorm:"type:varchar(255);default:''" json:"pay_address"`
	PayCurrency string    `gorm:"type:varchar(20);default:''" json:"pay_currency"`
	PaymentURL  string    `gorm:"type:text" json:"payment_url"`
	SuccessURL  string    `gorm:"type:varchar(255)" json:"success_url"`
	CancelURL   string    `gorm:"type:varchar(255)" json:"cancel_url"`
	ArtifactURL string    `gorm:"type:varchar(255);default:''" json:"artifact_url"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
