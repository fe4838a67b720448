package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Risk buckets, ordered LOW < MEDIUM < HIGH.
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// AlertDefinition is one user subscription: which opportunities to watch,
// where to POST them, and on what cadence. User-owned fields are written by
// the (external) CRUD API; counters and scan state are written only by the
// scheduler, guarded by Version.
type AlertDefinition struct {
	ID     string `gorm:"primaryKey;type:uuid"`
	UserID string `gorm:"type:uuid;not null;index"`
	Name   string `gorm:"type:varchar(200);not null"`
	Active bool   `gorm:"not null;index;default:true"`

	// Filter criteria.
	MinProfitMargin     float64          `gorm:"not null;default:0"`
	MinGrossProfit      decimal.Decimal  `gorm:"type:numeric(20,10);not null;default:0"`
	MinFeasibilityScore float64          `gorm:"not null;default:0"`
	MaxRiskLevel        string           `gorm:"type:varchar(10);not null;default:'HIGH'"`
	MaxBuyPrice         *decimal.Decimal `gorm:"type:numeric(20,10)"`
	SourceAllowlist     datatypes.JSON   `gorm:"type:jsonb"`
	MaxOpportunities    int              `gorm:"not null;default:10"`

	WebhookURL         string         `gorm:"type:varchar(500);not null"`
	NotificationConfig datatypes.JSON `gorm:"type:jsonb"`

	// Schedule.
	FrequencyMinutes int            `gorm:"not null;default:60"`
	ActiveHours      string         `gorm:"type:varchar(11);not null;default:'00:00-23:59'"`
	ActiveDays       datatypes.JSON `gorm:"type:jsonb"`
	Timezone         string         `gorm:"type:varchar(50);not null;default:'UTC'"`

	// Statistics, scheduler-owned.
	TotalAlertsSent        uint64 `gorm:"not null;default:0"`
	TotalOpportunitiesSent uint64 `gorm:"not null;default:0"`
	TotalFailedDeliveries  uint64 `gorm:"not null;default:0"`
	ConsecutiveFailures    int    `gorm:"not null;default:0"`

	LastScannedAt   *time.Time `gorm:"type:timestamptz;index"`
	LastTriggeredAt *time.Time `gorm:"type:timestamptz"`
	LastError       *string    `gorm:"type:text"`

	// Version implements optimistic concurrency between the scheduler and
	// the user-facing CRUD API.
	Version int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (AlertDefinition) TableName() string {
	return "alert_definitions"
}
