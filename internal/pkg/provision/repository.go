package provision

import (
	"errors"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/panel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the reconciliation engine.
type Repository interface {
	UpsertInbound(serverID uint, inbound panel.Inbound) (*models.ServerInbound, error)
	UpsertClient(client *models.ServerClient) (*models.ServerClient, error)
	CountOrderClients(orderID, planID uint) (int64, error)
	GetOrder(orderID uint) (*models.Order, error)
	MarkOrderCompleted(orderID uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a provisioning repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertInbound overwrites the local mirror from remote state. The remote
// panel is authoritative, keyed by (server_id, port).
func (r *gormRepository) UpsertInbound(serverID uint, inbound panel.Inbound) (*models.ServerInbound, error) {
	row := &models.ServerInbound{
		ServerID:           serverID,
		RemoteID:           inbound.ID,
		Port:               inbound.Port,
		Protocol:           inbound.Protocol,
		Tag:                inbound.Tag,
		Listen:             inbound.Listen,
		Enable:             inbound.Enable,
		Settings:           inbound.Settings,
		StreamSettingsJSON: inbound.StreamSettings,
		SniffingJSON:       inbound.Sniffing,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "server_id"},
			{Name: "port"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"remote_id",
			"protocol",
			"tag",
			"listen",
			"enable",
			"settings",
			"stream_settings",
			"sniffing",
			"updated_at",
		}),
	}).Create(row).Error; err != nil {
		return nil, err
	}

	// Ensure ID is populated after upsert.
	var stored models.ServerInbound
	if err := r.db.Where("server_id = ? AND port = ?", serverID, inbound.Port).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpsertClient creates or refreshes a mirror row keyed by the remote
// credential. Plan and order associations are only ever filled in, never
// cleared: a sweep that cannot derive them must not wipe what the primary
// path already recorded.
func (r *gormRepository) UpsertClient(client *models.ServerClient) (*models.ServerClient, error) {
	var existing models.ServerClient
	err := r.db.Where("server_id = ? AND credential_uuid = ?", client.ServerID, client.CredentialUUID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.Create(client).Error; err != nil {
			return nil, err
		}
		return client, nil
	}
	if err != nil {
		return nil, err
	}

	existing.InboundID = client.InboundID
	existing.Email = client.Email
	if client.ConnectionLink != "" {
		existing.ConnectionLink = client.ConnectionLink
	}
	if client.ExpiresAt != nil {
		existing.ExpiresAt = client.ExpiresAt
	}
	if existing.PlanID == nil && client.PlanID != nil {
		existing.PlanID = client.PlanID
	}
	if existing.OrderID == nil && client.OrderID != nil {
		existing.OrderID = client.OrderID
	}
	if err := r.db.Save(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// CountOrderClients reports how many mirror rows an order already has for a
// plan, so a retry pass only creates the shortfall.
func (r *gormRepository) CountOrderClients(orderID, planID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.ServerClient{}).
		Where("order_id = ? AND plan_id = ?", orderID, planID).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) GetOrder(orderID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.
		Preload("Items").
		Preload("Items.Plan").
		Preload("Items.Plan.Server").
		Preload("User").
		First(&order, orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) MarkOrderCompleted(orderID uint) error {
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("order_status", models.OrderStatusCompleted).Error
}
