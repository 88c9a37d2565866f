package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job types.
const (
	JobTypeProvisionRetry = "provision_retry"
)

// Job statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is one queued unit of background work.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Retries     int             `json:"retries"`
	MaxRetries  int             `json:"max_retries"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// ProvisionRetryPayload asks for a fresh reconciliation pass over a paid but
// not yet completed order.
type ProvisionRetryPayload struct {
	OrderID uint `json:"order_id"`
}

// NewJob creates a pending job with defaults applied.
func NewJob(jobType string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    raw,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
