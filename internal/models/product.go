package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is one catalog entry. The catalog is written by the (external)
// catalog service; the engine reads it for matching and enrichment metadata.
type Product struct {
	ID       string  `gorm:"primaryKey;type:uuid"`
	SKU      string  `gorm:"type:varchar(100);not null;index"`
	Name     string  `gorm:"type:varchar(300);not null"`
	BrandID  *string `gorm:"type:uuid;index"`
	Brand    *Brand
	Category string `gorm:"type:varchar(50);index;default:'sneakers'"`

	// Stable identifiers for cross-source matching. At least one should be
	// present; rows with none only ever match fuzzily.
	EAN       *string `gorm:"type:varchar(20);index"`
	GTIN      *string `gorm:"type:varchar(20);index"`
	StyleCode *string `gorm:"type:varchar(50)"`
	// NormStyle is StyleCode lowercased with separators stripped.
	NormStyle *string `gorm:"type:varchar(50);index"`

	RetailPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Currency    string           `gorm:"type:varchar(3);default:'EUR'"`

	Enrichment     datatypes.JSON `gorm:"type:jsonb"`
	LastEnrichedAt *time.Time     `gorm:"type:timestamptz;index"`

	Status string `gorm:"type:varchar(20);not null;index;default:'active'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}

// ProductPlatformRef maps an external platform id (e.g. stockx product id)
// to a catalog product. Intentionally not unique on (source, external_id):
// duplicates are a data fault the matcher detects and reports.
type ProductPlatformRef struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Source     string `gorm:"type:varchar(50);not null;index:idx_platform_ref"`
	ExternalID string `gorm:"type:varchar(100);not null;index:idx_platform_ref"`
	ProductID  string `gorm:"type:uuid;not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (ProductPlatformRef) TableName() string {
	return "product_platform_refs"
}
