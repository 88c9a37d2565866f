package models

import "time"

// ClientConfig is one client entry inside an inbound's settings, as the panel
// serializes it. The panel transmits settings as a JSON-encoded string; it is
// decoded once at the panel client boundary and stored typed from then on.
type ClientConfig struct {
	ID         string `json:"id"` // credential UUID
	Email      string `json:"email"`
	Flow       string `json:"flow,omitempty"`
	LimitIP    int    `json:"limitIp,omitempty"`
	TotalBytes int64  `json:"totalGB,omitempty"`
	ExpiryTime int64  `json:"expiryTime,omitempty"` // unix millis, 0 = never
	Enable     bool   `json:"enable"`
	SubID      string `json:"subId,omitempty"`
}

// InboundSettings is the decoded form of the panel's settings string.
type InboundSettings struct {
	Clients    []ClientConfig `json:"clients"`
	Decryption string         `json:"decryption,omitempty"`
}

// StreamSettings is the decoded form of the panel's streamSettings string.
type StreamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`
}

// Sniffing is the decoded form of the panel's sniffing string.
type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride,omitempty"`
}

// ServerInbound mirrors one remote listener configuration. The remote panel
// is authoritative: rows are overwritten wholesale on every sync, keyed by
// (server_id, port).
type ServerInbound struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	ServerID           uint            `gorm:"not null;index:ux_server_inbounds_server_port,unique,priority:1" json:"server_id"`
	RemoteID           int             `gorm:"not null;index" json:"remote_id"`
	Port               int             `gorm:"not null;index:ux_server_inbounds_server_port,unique,priority:2" json:"port"`
	Protocol           string          `gorm:"type:varchar(50);not null" json:"protocol"`
	Tag                string          `gorm:"type:varchar(100);default:''" json:"tag"`
	Listen             string          `gorm:"type:varchar(100);default:''" json:"listen"`
	Enable             bool            `gorm:"default:true" json:"enable"`
	Settings           InboundSettings `gorm:"serializer:json;type:longtext" json:"settings"`
	StreamSettingsJSON StreamSettings  `gorm:"serializer:json;type:text;column:stream_settings" json:"stream_settings"`
	SniffingJSON       Sniffing        `gorm:"serializer:json;type:text;column:sniffing" json:"sniffing"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
