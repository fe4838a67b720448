package models

import (
	"time"

	"gorm.io/datatypes"
)

// IngestCheckpoint lets a pull worker resume pagination where the previous
// run stopped. One row per source.
type IngestCheckpoint struct {
	Source        string         `gorm:"primaryKey;type:varchar(50)"`
	Cursor        *string        `gorm:"type:text"`
	WatermarkTS   *time.Time     `gorm:"type:timestamptz"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (IngestCheckpoint) TableName() string {
	return "ingest_checkpoints"
}
