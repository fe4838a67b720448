package models

import "time"

// SchedulerLease elects the single scheduler instance per deployment. The
// holder renews before ExpiresAt; a standby takes over once it lapses.
type SchedulerLease struct {
	Name      string    `gorm:"primaryKey;type:varchar(50)"`
	Holder    string    `gorm:"type:varchar(100);not null"`
	ExpiresAt time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SchedulerLease) TableName() string {
	return "scheduler_leases"
}
