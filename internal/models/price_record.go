package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SourceKind values. A source's kind decides which side of an opportunity
// its records can form.
const (
	SourceKindRetail    = "retail"
	SourceKindResale    = "resale"
	SourceKindAuction   = "auction"
	SourceKindWholesale = "wholesale"
)

// PriceRecord is the one current observation per (product, source, variant).
// VariantID is "" when the source quotes the product without a size.
type PriceRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	ProductID string `gorm:"type:uuid;not null;uniqueIndex:idx_price_key,priority:1;index"`
	Source    string `gorm:"type:varchar(50);not null;uniqueIndex:idx_price_key,priority:2"`
	VariantID string `gorm:"type:varchar(36);not null;default:'';uniqueIndex:idx_price_key,priority:3"`

	SourceKind string  `gorm:"type:varchar(20);not null;index"`
	Supplier   *string `gorm:"type:varchar(100)"`

	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Currency string          `gorm:"type:varchar(3);not null;default:'EUR'"`
	InStock  bool            `gorm:"not null;default:false"`
	StockQty *int

	ExternalID  *string `gorm:"type:varchar(100);index"`
	ExternalURL *string `gorm:"type:varchar(500)"`

	ObservedAt time.Time `gorm:"type:timestamptz;not null;index"`

	// Unknown upstream fields ride along uninterpreted.
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (PriceRecord) TableName() string {
	return "price_records"
}
