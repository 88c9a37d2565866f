package models

import "time"

// ServerClient mirrors one remote per-user account. Rows are created either
// from the direct response of a panel "create client" call or discovered by
// the full-inventory sweep; the remote credential UUID is the stable identity
// used for upserts. Plan and order references may stay unset for rows found
// by discovery until a later pass reconciles them.
type ServerClient struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	LocalKey       string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"local_key"` // locally generated stable identifier
	ServerID       uint       `gorm:"not null;index:ux_server_clients_server_cred,unique,priority:1" json:"server_id"`
	InboundID      uint       `gorm:"not null;index" json:"inbound_id"` // local ServerInbound row
	CredentialUUID string     `gorm:"type:varchar(36);not null;index:ux_server_clients_server_cred,unique,priority:2" json:"credential_uuid"`
	Email          string     `gorm:"type:varchar(191);not null" json:"email"` // remote label
	ConnectionLink string     `gorm:"type:text" json:"connection_link"`
	ExpiresAt      *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	PlanID         *uint      `gorm:"index" json:"plan_id,omitempty"`
	OrderID        *uint      `gorm:"index" json:"order_id,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// server_id participates in the credential unique key so the same UUID on two
// panels stays two rows.
func (ServerClient) TableName() string { return "server_clients" }
