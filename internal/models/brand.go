package models

import (
	"time"

	"gorm.io/datatypes"
)

// Brand carries the canonical name plus alternate-name regex patterns the
// matcher uses to canonicalize raw feed brands ("NIKE Inc." -> "Nike").
type Brand struct {
	ID   string `gorm:"primaryKey;type:uuid"`
	Name string `gorm:"type:varchar(100);not null"`
	// NormName is Name lowercased with whitespace collapsed; unique.
	NormName    string         `gorm:"type:varchar(100);uniqueIndex;not null"`
	AltPatterns datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Brand) TableName() string {
	return "brands"
}
