package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Fee rule taxonomy.
const (
	FeeTypeTransaction = "transaction"
	FeeTypePayment     = "payment_processing"
	FeeTypeShipping    = "shipping"
	FeeTypeCustom      = "custom"

	FeeCalcPercentage = "percentage"
	FeeCalcFixed      = "fixed"
	FeeCalcTiered     = "tiered"
)

// Marketplace is a resale destination whose fee schedule the engine applies
// to sell-side prices. Schedules are maintained by the (external) admin API.
type Marketplace struct {
	ID     string `gorm:"primaryKey;type:uuid"`
	Name   string `gorm:"type:varchar(100);uniqueIndex;not null"`
	Active bool   `gorm:"default:true"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Marketplace) TableName() string {
	return "marketplaces"
}

// FeeRule is one dated entry of a marketplace fee schedule. For percentage
// rules Value is a fraction (0.085 = 8.5%) and Minimum, when set, floors the
// computed fee. Tiered rules carry their bands in Tiers.
type FeeRule struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	MarketplaceID string `gorm:"type:uuid;not null;index"`

	FeeType string `gorm:"type:varchar(30);not null"`
	Calc    string `gorm:"type:varchar(20);not null"`

	Value    decimal.Decimal  `gorm:"type:numeric(20,10);not null"`
	Minimum  *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Currency string           `gorm:"type:varchar(3);not null;default:'EUR'"`

	// Tiers holds []fees.TierBand for Calc == tiered.
	Tiers datatypes.JSON `gorm:"type:jsonb"`

	EffectiveFrom  time.Time  `gorm:"type:timestamptz;not null;index"`
	EffectiveUntil *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (FeeRule) TableName() string {
	return "fee_rules"
}
