package models

import "time"

// Plan is a purchasable proxy plan tied to one panel server.
type Plan struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ServerID          uint      `gorm:"not null;index" json:"server_id"`
	Server            *Server   `gorm:"foreignKey:ServerID" json:"server,omitempty"`
	Name              string    `gorm:"type:varchar(150);not null" json:"name"`
	Slug              string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"slug"`
	PriceCents        int64     `gorm:"not null" json:"price_cents"`
	Currency          string    `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	DurationDays      int       `gorm:"not null" json:"duration_days"`
	TrafficLimitBytes int64     `gorm:"not null;default:0" json:"traffic_limit_bytes"` // 0 means unlimited
	SoldCount         int64     `gorm:"not null;default:0" json:"sold_count"`
	IsActive          bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExpiryFrom returns the expiry timestamp for an account provisioned at ts.
func (p *Plan) ExpiryFrom(ts time.Time) time.Time {
	return ts.AddDate(0, 0, p.DurationDays)
}
