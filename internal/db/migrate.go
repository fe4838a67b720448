package db

import (
	"solescan/internal/models"
)

// AutoMigrate creates the engine-owned tables. Collaborator-owned tables
// (orders, order_items, stock_units) are read raw and never migrated here.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Brand{},
		&models.Product{},
		&models.ProductPlatformRef{},
		&models.Variant{},
		&models.Marketplace{},
		&models.FeeRule{},
		&models.PriceRecord{},
		&models.PriceHistoryEvent{},
		&models.AlertDefinition{},
		&models.WebhookDelivery{},
		&models.IngestSource{},
		&models.IngestCheckpoint{},
		&models.SchedulerLease{},
	)
}
