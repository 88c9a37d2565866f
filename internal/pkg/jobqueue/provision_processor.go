package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/DennisKoslow/ProxyDesk/app/models"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/provision"
)

// ProvisionRetryProcessor re-runs delivery for paid orders whose first
// provisioning pass did not finish. The pass itself is idempotent, so a retry
// never duplicates accounts.
type ProvisionRetryProcessor struct {
	db     *gorm.DB
	engine *provision.Engine
}

func NewProvisionRetryProcessor(db *gorm.DB, engine *provision.Engine) *ProvisionRetryProcessor {
	return &ProvisionRetryProcessor{db: db, engine: engine}
}

// Register binds the processor to its job type on the queue.
func (p *ProvisionRetryProcessor) Register(q *Queue) {
	q.RegisterProcessor(JobTypeProvisionRetry, p.Process)
}

func (p *ProvisionRetryProcessor) Process(ctx context.Context, job *Job) error {
	var payload ProvisionRetryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode provision retry payload: %w", err)
	}

	var order models.Order
	if err := p.db.First(&order, payload.OrderID).Error; err != nil {
		return fmt.Errorf("load order %d: %w", payload.OrderID, err)
	}
	if !order.IsPaid() {
		log.Warnf("[JobQueue] Skipping provision retry for unpaid order %d", order.ID)
		return nil
	}
	if order.IsCompleted() {
		return nil
	}

	return p.engine.ProvisionOrder(ctx, order.ID)
}

// ScheduleProvisionRetry queues a reconciliation pass for the given order.
// Satisfies the checkout service's retry scheduler.
func (q *Queue) ScheduleProvisionRetry(ctx context.Context, orderID uint) error {
	return EnqueueProvisionRetry(ctx, q, orderID)
}

// EnqueueProvisionRetry queues a reconciliation pass for the given order.
func EnqueueProvisionRetry(ctx context.Context, q *Queue, orderID uint) error {
	job, err := NewJob(JobTypeProvisionRetry, ProvisionRetryPayload{OrderID: orderID})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}
