package models

import "time"

const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// WebhookDelivery records one dispatch attempt group (all retries of one
// payload) for audit and failure accounting.
type WebhookDelivery struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	AlertID     string `gorm:"type:uuid;not null;index"`
	DispatchKey string `gorm:"type:varchar(64);not null;index"`

	Status           string `gorm:"type:varchar(20);not null"`
	Attempts         int    `gorm:"not null"`
	HTTPStatus       *int
	OpportunityCount int     `gorm:"not null"`
	Error            *string `gorm:"type:text"`
	DurationMs       int64   `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
