package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"solescan/internal/models"
)

// Repository is the storage boundary of the engine. The price store and the
// alert scheduler own their sections exclusively; catalog and order-stats
// sections are read-only views over collaborator-owned data.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Catalog (written by the external catalog service).
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]models.Product, error)
	CountProducts(ctx context.Context, params ListProductsParams) (int64, error)
	ListProductsForMatching(ctx context.Context) ([]MatchRow, error)
	ListActiveProductIDs(ctx context.Context, limit, offset int) ([]string, error)
	ListBrands(ctx context.Context) ([]models.Brand, error)
	ListVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.Variant, error)
	ListPlatformRefs(ctx context.Context) ([]models.ProductPlatformRef, error)

	// Price store (engine-owned).
	GetPriceRecordForUpdateTx(ctx context.Context, tx *gorm.DB, productID, source, variantID string) (*models.PriceRecord, error)
	SavePriceRecordTx(ctx context.Context, tx *gorm.DB, rec *models.PriceRecord) error
	InsertPriceHistoryTx(ctx context.Context, tx *gorm.DB, ev *models.PriceHistoryEvent) error
	ListLatestPrices(ctx context.Context, productID string, kind *string) ([]models.PriceRecord, error)
	ListPriceRecordsByProductIDs(ctx context.Context, productIDs []string) ([]models.PriceRecord, error)
	ListChangedPriceRecords(ctx context.Context, params ChangedPricesParams) ([]models.PriceRecord, error)
	ListSellPriceSeries(ctx context.Context, productID string, since time.Time) ([]PricePoint, error)

	// Fee schedules (written by the external admin API).
	GetMarketplaceByName(ctx context.Context, name string) (*models.Marketplace, error)
	ListMarketplaces(ctx context.Context) ([]models.Marketplace, error)
	ListFeeRulesByMarketplaceIDs(ctx context.Context, marketplaceIDs []string) ([]models.FeeRule, error)

	// Alert store (engine-owned counters; definitions written by the user API).
	CreateAlert(ctx context.Context, item *models.AlertDefinition) error
	GetAlertByID(ctx context.Context, id string) (*models.AlertDefinition, error)
	ListAlerts(ctx context.Context, params ListAlertsParams) ([]models.AlertDefinition, error)
	CountAlerts(ctx context.Context, params ListAlertsParams) (int64, error)
	ListDueAlertCandidates(ctx context.Context, now time.Time) ([]models.AlertDefinition, error)
	MarkAlertScanned(ctx context.Context, id string, version int64, scannedAt time.Time) (bool, error)
	MarkAlertTriggered(ctx context.Context, id string, version int64, scannedAt time.Time, opportunities int) (bool, error)
	MarkAlertDeliveryFailed(ctx context.Context, id string, version int64, scannedAt time.Time, lastError string, deactivate bool) (bool, error)
	DeactivateAlert(ctx context.Context, id string, lastError string) error

	// Webhook deliveries (audit).
	InsertWebhookDelivery(ctx context.Context, item *models.WebhookDelivery) error
	ListWebhookDeliveries(ctx context.Context, params ListDeliveriesParams) ([]models.WebhookDelivery, error)

	// Ingest health and checkpoints.
	UpsertIngestSource(ctx context.Context, item *models.IngestSource) error
	ListIngestSources(ctx context.Context) ([]models.IngestSource, error)
	GetIngestCheckpoint(ctx context.Context, source string) (*models.IngestCheckpoint, error)
	SaveIngestCheckpoint(ctx context.Context, cp *models.IngestCheckpoint) error

	// Scheduler lease.
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error

	// Order statistics (collaborator-owned tables, read-only).
	ProductSalesStats(ctx context.Context, productID string, since time.Time) (SalesStats, error)
	BrandSalesVelocity(ctx context.Context, brandID string, since time.Time) (float64, error)
	MaxBrandSalesVelocity(ctx context.Context, since time.Time) (float64, error)

	// Retention.
	DeletePriceHistoryBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteWebhookDeliveriesBefore(ctx context.Context, before time.Time) (int64, error)
}

// MatchRow is the projection the matcher indexes. Kept narrow so a full
// catalog refresh stays cheap.
type MatchRow struct {
	ID             string
	SKU            string
	Name           string
	BrandID        *string
	EAN            *string
	GTIN           *string
	NormStyle      *string
	LastEnrichedAt *time.Time
}

// PricePoint is one sell-side observation used for trend and volatility.
type PricePoint struct {
	Price decimal.Decimal
	At    time.Time
}

// SalesStats aggregates the orders tables for the demand scorer. HasOrders
// and HasShelfLife distinguish "zero" from "unknown" so components can be
// imputed per policy.
type SalesStats struct {
	Orders           int64
	AvgShelfLifeDays float64
	HasOrders        bool
	HasShelfLife     bool
}

type ListProductsParams struct {
	Limit    int
	Offset   int
	Status   *string
	BrandID  *string
	Category *string
	SKU      *string
	OrderBy  string
	Asc      *bool
}

// ChangedPricesParams pages price records in stable (updated_at, id) order.
// AfterUpdatedAt/AfterID form the resumable cursor.
type ChangedPricesParams struct {
	Kind           *string
	Since          time.Time
	AfterUpdatedAt *time.Time
	AfterID        uint64
	Limit          int
}

type ListAlertsParams struct {
	Limit   int
	Offset  int
	Active  *bool
	UserID  *string
	OrderBy string
	Asc     *bool
}

type ListDeliveriesParams struct {
	Limit   int
	Offset  int
	AlertID *string
	Status  *string
	Since   *time.Time
	OrderBy string
	Asc     *bool
}
