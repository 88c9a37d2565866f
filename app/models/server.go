package models

import "time"

// Server is one remote panel endpoint that plans are provisioned against.
type Server struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	BaseURL   string    `gorm:"type:varchar(255);not null" json:"base_url"`
	Username  string    `gorm:"type:varchar(100);not null" json:"-"`
	Password  string    `gorm:"type:varchar(191);not null" json:"-"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
