package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"solescan/internal/models"
	"solescan/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Catalog -----------------------------------------------------------------

func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	var item models.Product
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListProducts(ctx context.Context, params repository.ListProductsParams) ([]models.Product, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Product{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.BrandID != nil && strings.TrimSpace(*params.BrandID) != "" {
		query = query.Where("brand_id = ?", strings.TrimSpace(*params.BrandID))
	}
	if params.Category != nil && strings.TrimSpace(*params.Category) != "" {
		query = query.Where("category = ?", strings.TrimSpace(*params.Category))
	}
	if params.SKU != nil && strings.TrimSpace(*params.SKU) != "" {
		query = query.Where("sku = ?", strings.TrimSpace(*params.SKU))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Product
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountProducts(ctx context.Context, params repository.ListProductsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Product{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.BrandID != nil && strings.TrimSpace(*params.BrandID) != "" {
		query = query.Where("brand_id = ?", strings.TrimSpace(*params.BrandID))
	}
	if params.Category != nil && strings.TrimSpace(*params.Category) != "" {
		query = query.Where("category = ?", strings.TrimSpace(*params.Category))
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListProductsForMatching(ctx context.Context) ([]repository.MatchRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.MatchRow
	err := s.db.WithContext(ctx).
		Table("products").
		Select("id, sku, name, brand_id, ean, gtin, norm_style, last_enriched_at").
		Where("status = ?", "active").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListActiveProductIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	// Engine-internal paging; callers pick their own page size.
	if limit <= 0 {
		limit = 500
	}
	offset = normalizeOffset(offset)
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("status = ?", "active").
		Order("id asc").
		Limit(limit).
		Offset(offset).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListBrands(ctx context.Context) ([]models.Brand, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Brand
	if err := s.db.WithContext(ctx).Order("norm_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.Variant, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	productIDs = cleanStrings(productIDs)
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []models.Variant
	if err := s.db.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPlatformRefs(ctx context.Context) ([]models.ProductPlatformRef, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProductPlatformRef
	if err := s.db.WithContext(ctx).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Price store ---------------------------------------------------------------

func (s *Store) GetPriceRecordForUpdateTx(ctx context.Context, tx *gorm.DB, productID, source, variantID string) (*models.PriceRecord, error) {
	if tx == nil {
		return nil, nil
	}
	var item models.PriceRecord
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND source = ? AND variant_id = ?", productID, source, variantID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePriceRecordTx(ctx context.Context, tx *gorm.DB, rec *models.PriceRecord) error {
	if tx == nil || rec == nil {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "source"}, {Name: "variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_kind",
			"supplier",
			"price",
			"currency",
			"in_stock",
			"stock_qty",
			"external_id",
			"external_url",
			"observed_at",
			"metadata",
			"updated_at",
		}),
	}).Create(rec).Error
}

func (s *Store) InsertPriceHistoryTx(ctx context.Context, tx *gorm.DB, ev *models.PriceHistoryEvent) error {
	if tx == nil || ev == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(ev).Error
}

func (s *Store) ListLatestPrices(ctx context.Context, productID string, kind *string) ([]models.PriceRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if strings.TrimSpace(productID) == "" {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.PriceRecord{}).
		Where("product_id = ?", productID)
	if kind != nil && strings.TrimSpace(*kind) != "" {
		query = query.Where("source_kind = ?", strings.TrimSpace(*kind))
	}
	var items []models.PriceRecord
	if err := query.Order("observed_at desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPriceRecordsByProductIDs(ctx context.Context, productIDs []string) ([]models.PriceRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	productIDs = cleanStrings(productIDs)
	if len(productIDs) == 0 {
		return nil, nil
	}
	var items []models.PriceRecord
	if err := s.db.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Order("product_id asc, source asc, variant_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListChangedPriceRecords(ctx context.Context, params repository.ChangedPricesParams) ([]models.PriceRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PriceRecord{})
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("source_kind = ?", strings.TrimSpace(*params.Kind))
	}
	if !params.Since.IsZero() {
		query = query.Where("updated_at >= ?", params.Since.UTC())
	}
	if params.AfterUpdatedAt != nil && !params.AfterUpdatedAt.IsZero() {
		after := params.AfterUpdatedAt.UTC()
		query = query.Where("updated_at > ? OR (updated_at = ? AND id > ?)", after, after, params.AfterID)
	}
	limit := normalizeLimit(params.Limit, 200)
	var items []models.PriceRecord
	if err := query.Order("updated_at asc, id asc").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSellPriceSeries(ctx context.Context, productID string, since time.Time) ([]repository.PricePoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if strings.TrimSpace(productID) == "" {
		return nil, nil
	}
	var rows []struct {
		NewPrice   decimal.Decimal
		RecordedAt time.Time
	}
	err := s.db.WithContext(ctx).
		Table("price_history_events").
		Select("new_price, recorded_at").
		Where("product_id = ?", productID).
		Where("source_kind = ?", models.SourceKindResale).
		Where("recorded_at >= ?", since.UTC()).
		Order("recorded_at asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]repository.PricePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, repository.PricePoint{Price: r.NewPrice, At: r.RecordedAt})
	}
	return points, nil
}

// --- Fee schedules ---------------------------------------------------------------

func (s *Store) GetMarketplaceByName(ctx context.Context, name string) (*models.Marketplace, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var item models.Marketplace
	err := s.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMarketplaces(ctx context.Context) ([]models.Marketplace, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Marketplace
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListFeeRulesByMarketplaceIDs(ctx context.Context, marketplaceIDs []string) ([]models.FeeRule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	marketplaceIDs = cleanStrings(marketplaceIDs)
	if len(marketplaceIDs) == 0 {
		return nil, nil
	}
	var items []models.FeeRule
	if err := s.db.WithContext(ctx).
		Where("marketplace_id IN ?", marketplaceIDs).
		Order("marketplace_id asc, fee_type asc, effective_from asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Alert store ---------------------------------------------------------------

func (s *Store) CreateAlert(ctx context.Context, item *models.AlertDefinition) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.ID) == "" {
		item.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetAlertByID(ctx context.Context, id string) (*models.AlertDefinition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	var item models.AlertDefinition
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAlerts(ctx context.Context, params repository.ListAlertsParams) ([]models.AlertDefinition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AlertDefinition{})
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.AlertDefinition
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAlerts(ctx context.Context, params repository.ListAlertsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AlertDefinition{})
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListDueAlertCandidates applies the frequency gate in SQL; the timezone
// window and weekday checks happen in the scheduler where the rules live.
func (s *Store) ListDueAlertCandidates(ctx context.Context, now time.Time) ([]models.AlertDefinition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var items []models.AlertDefinition
	err := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("active = ?", true).
		Where("last_scanned_at IS NULL OR last_scanned_at <= ? - make_interval(mins => frequency_minutes)", now.UTC()).
		Order("last_scanned_at asc NULLS FIRST").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkAlertScanned(ctx context.Context, id string, version int64, scannedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"last_scanned_at": scannedAt.UTC(),
			"version":         gorm.Expr("version + 1"),
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkAlertTriggered(ctx context.Context, id string, version int64, scannedAt time.Time, opportunities int) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"last_scanned_at":          scannedAt.UTC(),
			"last_triggered_at":        scannedAt.UTC(),
			"last_error":               nil,
			"consecutive_failures":     0,
			"total_alerts_sent":        gorm.Expr("total_alerts_sent + 1"),
			"total_opportunities_sent": gorm.Expr("total_opportunities_sent + ?", opportunities),
			"version":                  gorm.Expr("version + 1"),
			"updated_at":               time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (s *Store) MarkAlertDeliveryFailed(ctx context.Context, id string, version int64, scannedAt time.Time, lastError string, deactivate bool) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	updates := map[string]any{
		"last_scanned_at":         scannedAt.UTC(),
		"last_error":              strings.TrimSpace(lastError),
		"total_failed_deliveries": gorm.Expr("total_failed_deliveries + 1"),
		"consecutive_failures":    gorm.Expr("consecutive_failures + 1"),
		"version":                 gorm.Expr("version + 1"),
		"updated_at":              time.Now().UTC(),
	}
	if deactivate {
		updates["active"] = false
	}
	res := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) DeactivateAlert(ctx context.Context, id string, lastError string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     false,
			"last_error": strings.TrimSpace(lastError),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- Webhook deliveries ----------------------------------------------------------

func (s *Store) InsertWebhookDelivery(ctx context.Context, item *models.WebhookDelivery) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListWebhookDeliveries(ctx context.Context, params repository.ListDeliveriesParams) ([]models.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WebhookDelivery{})
	if params.AlertID != nil && strings.TrimSpace(*params.AlertID) != "" {
		query = query.Where("alert_id = ?", strings.TrimSpace(*params.AlertID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.WebhookDelivery
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Ingest health and checkpoints -------------------------------------------------

func (s *Store) UpsertIngestSource(ctx context.Context, item *models.IngestSource) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind",
			"mode",
			"endpoint",
			"enabled",
			"last_run_at",
			"last_event_at",
			"last_error",
			"health_status",
			"rows_ingested",
			"rows_matched",
			"rows_unmatched",
			"rows_failed",
			"config",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListIngestSources(ctx context.Context) ([]models.IngestSource, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.IngestSource
	if err := s.db.WithContext(ctx).Order("name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetIngestCheckpoint(ctx context.Context, source string) (*models.IngestCheckpoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}
	var cp models.IngestCheckpoint
	err := s.db.WithContext(ctx).Where("source = ?", source).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) SaveIngestCheckpoint(ctx context.Context, cp *models.IngestCheckpoint) error {
	if s == nil || s.db == nil || cp == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cursor",
			"watermark_ts",
			"last_success_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
		}),
	}).Create(cp).Error
}

// --- Scheduler lease ----------------------------------------------------------

// AcquireLease grants or renews the named lease. The insert wins when no row
// exists; the conditional update wins when the previous lease lapsed or this
// holder is renewing. RowsAffected == 0 means another instance holds it.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(holder) == "" {
		return false, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO scheduler_leases (name, holder, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		WHERE scheduler_leases.expires_at < ? OR scheduler_leases.holder = EXCLUDED.holder`,
		name, holder, now.Add(ttl).UTC(), now.UTC(), now.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&models.SchedulerLease{}).Error
}

// --- Order statistics (collaborator-owned tables) ------------------------------------

func (s *Store) ProductSalesStats(ctx context.Context, productID string, since time.Time) (repository.SalesStats, error) {
	if s == nil || s.db == nil {
		return repository.SalesStats{}, nil
	}
	if strings.TrimSpace(productID) == "" {
		return repository.SalesStats{}, nil
	}
	var row struct {
		Orders     int64
		ShelfDays  float64
		ShelfCount int64
	}
	err := s.db.WithContext(ctx).
		Table("order_items").
		Select(`
			COUNT(*) AS orders,
			COALESCE(AVG(EXTRACT(EPOCH FROM (sold_at - stocked_at)) / 86400.0) FILTER (WHERE stocked_at IS NOT NULL), 0) AS shelf_days,
			COUNT(*) FILTER (WHERE stocked_at IS NOT NULL) AS shelf_count`).
		Where("product_id = ?", productID).
		Where("sold_at >= ?", since.UTC()).
		Scan(&row).Error
	if err != nil {
		return repository.SalesStats{}, err
	}
	return repository.SalesStats{
		Orders:           row.Orders,
		AvgShelfLifeDays: row.ShelfDays,
		HasOrders:        row.Orders > 0,
		HasShelfLife:     row.ShelfCount > 0,
	}, nil
}

func (s *Store) BrandSalesVelocity(ctx context.Context, brandID string, since time.Time) (float64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if strings.TrimSpace(brandID) == "" {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Table("order_items AS oi").
		Joins("JOIN products p ON p.id = oi.product_id").
		Where("p.brand_id = ?", brandID).
		Where("oi.sold_at >= ?", since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return perDay(count, since), nil
}

func (s *Store) MaxBrandSalesVelocity(ctx context.Context, since time.Time) (float64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var max int64
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(MAX(b.cnt), 0)
		FROM (
			SELECT COUNT(*) AS cnt
			FROM order_items oi
			JOIN products p ON p.id = oi.product_id
			WHERE oi.sold_at >= ? AND p.brand_id IS NOT NULL
			GROUP BY p.brand_id
		) b`, since.UTC()).
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return perDay(max, since), nil
}

// --- Retention ----------------------------------------------------------------

func (s *Store) DeletePriceHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("recorded_at < ?", before.UTC()).
		Delete(&models.PriceHistoryEvent{})
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteWebhookDeliveriesBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&models.WebhookDelivery{})
	return res.RowsAffected, res.Error
}

// --- helpers -------------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

func perDay(count int64, since time.Time) float64 {
	days := time.Since(since).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(count) / days
}

var _ repository.Repository = (*Store)(nil)
