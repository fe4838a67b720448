package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reasons a history event is appended.
const (
	HistoryReasonFirstSeen   = "first_seen"
	HistoryReasonPriceChange = "price_change"
	HistoryReasonStockFlip   = "stock_flip"
)

// PriceHistoryEvent is the append-only audit trail of the price store.
// Written in the same transaction as the PriceRecord change it records.
type PriceHistoryEvent struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ProductID string `gorm:"type:uuid;not null;index:idx_history_product_time,priority:1"`
	Source    string `gorm:"type:varchar(50);not null;index"`
	VariantID string `gorm:"type:varchar(36);not null;default:''"`

	SourceKind string `gorm:"type:varchar(20);not null;index"`
	Reason     string `gorm:"type:varchar(20);not null"`

	OldPrice   *decimal.Decimal `gorm:"type:numeric(20,10)"`
	NewPrice   decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	Currency   string           `gorm:"type:varchar(3);not null;default:'EUR'"`
	OldInStock *bool
	NewInStock bool `gorm:"not null"`

	ObservedAt time.Time `gorm:"type:timestamptz;not null"`
	RecordedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_history_product_time,priority:2"`
}

func (PriceHistoryEvent) TableName() string {
	return "price_history_events"
}
