package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngestSource stores per-feed operational health, maintained by the ingest
// manager and shown by /healthz.
type IngestSource struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Name     string `gorm:"type:varchar(50);uniqueIndex;not null"`
	Kind     string `gorm:"type:varchar(20);not null"`
	Mode     string `gorm:"type:varchar(20);not null"`
	Endpoint string `gorm:"type:varchar(500)"`
	Enabled  bool   `gorm:"default:true"`

	LastRunAt    *time.Time `gorm:"type:timestamptz"`
	LastEventAt  *time.Time `gorm:"type:timestamptz"`
	LastError    *string    `gorm:"type:text"`
	HealthStatus string     `gorm:"type:varchar(20);default:'unknown'"`

	RowsIngested  uint64 `gorm:"not null;default:0"`
	RowsMatched   uint64 `gorm:"not null;default:0"`
	RowsUnmatched uint64 `gorm:"not null;default:0"`
	RowsFailed    uint64 `gorm:"not null;default:0"`

	Config datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (IngestSource) TableName() string {
	return "ingest_sources"
}
