package models

import "time"

// Variant is a sellable size of a product. StdSize is the locale-independent
// numeric used to pair records across sources (EU 44 and US 10 share one).
type Variant struct {
	ID        string  `gorm:"primaryKey;type:uuid"`
	ProductID string  `gorm:"type:uuid;not null;index"`
	Value     string  `gorm:"type:varchar(20);not null"`
	StdSize   float64 `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Variant) TableName() string {
	return "variants"
}
