package checkout

import (
	"time"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used outside the atomic checkout
// transaction: confirmation, webhook processing and lookups.
type Repository interface {
	GetActivePaymentMethod(slug string) (*models.PaymentMethod, error)
	GetPlansByID(ids []uint) (map[uint]models.Plan, error)
	GetOrder(orderID uint) (*models.Order, error)
	GetOrderByProviderRef(ref string) (*models.Order, error)
	SetPaymentStatus(orderID uint, status string) error
	SetOrderStatus(orderID uint, status string) error
	SaveInvoice(inv *models.Invoice) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a checkout repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetActivePaymentMethod(slug string) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.Where("slug = ? AND is_active = ?", slug, true).First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *gormRepository) GetPlansByID(ids []uint) (map[uint]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("id IN ? AND is_active = ?", ids, true).Find(&plans).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]models.Plan, len(plans))
	for _, p := range plans {
		out[p.ID] = p
	}
	return out, nil
}

func (r *gormRepository) GetOrder(orderID uint) (*models.Order, error) {
	var order models.Order
	err := r.db.
		Preload("Items").
		Preload("Invoice").
		Preload("PaymentMethod").
		Preload("User").
		First(&order, orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByProviderRef(ref string) (*models.Order, error) {
	var invoice models.Invoice
	if err := r.db.Where("provider_ref = ?", ref).First(&invoice).Error; err != nil {
		return nil, err
	}
	return r.GetOrder(invoice.OrderID)
}

func (r *gormRepository) SetPaymentStatus(orderID uint, status string) error {
	return r.db.Model(&models.Order{}).Where("id = ?", orderID).
		Update("payment_status", status).Error
}

func (r *gormRepository) SetOrderStatus(orderID uint, status string) error {
	return r.db.Model(&models.Order{}).Where("id = ?", orderID).
		Update("order_status", status).Error
}

func (r *gormRepository) SaveInvoice(inv *models.Invoice) error {
	return r.db.Save(inv).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
