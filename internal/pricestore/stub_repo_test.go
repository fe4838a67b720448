package pricestore

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"solescan/internal/models"
	"solescan/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the price store subset carries behavior.
type stubRepo struct {
	records map[string]models.PriceRecord
	history []models.PriceHistoryEvent
	nextID  uint64

	saveErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{records: map[string]models.PriceRecord{}}
}

func recKey(productID, source, variantID string) string {
	return productID + "|" + source + "|" + variantID
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetPriceRecordForUpdateTx(ctx context.Context, tx *gorm.DB, productID, source, variantID string) (*models.PriceRecord, error) {
	rec, ok := s.records[recKey(productID, source, variantID)]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *stubRepo) SavePriceRecordTx(ctx context.Context, tx *gorm.DB, rec *models.PriceRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	key := recKey(rec.ProductID, rec.Source, rec.VariantID)
	if prev, ok := s.records[key]; ok {
		rec.ID = prev.ID
	} else {
		s.nextID++
		rec.ID = s.nextID
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[key] = *rec
	return nil
}

func (s *stubRepo) InsertPriceHistoryTx(ctx context.Context, tx *gorm.DB, ev *models.PriceHistoryEvent) error {
	ev.ID = uint64(len(s.history) + 1)
	ev.RecordedAt = time.Now().UTC()
	s.history = append(s.history, *ev)
	return nil
}

func (s *stubRepo) ListLatestPrices(ctx context.Context, productID string, kind *string) ([]models.PriceRecord, error) {
	out := make([]models.PriceRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.ProductID != productID {
			continue
		}
		if kind != nil && rec.SourceKind != *kind {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	return out, nil
}

func (s *stubRepo) ListChangedPriceRecords(ctx context.Context, params repository.ChangedPricesParams) ([]models.PriceRecord, error) {
	all := make([]models.PriceRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].UpdatedAt.Before(all[j].UpdatedAt)
	})
	out := make([]models.PriceRecord, 0, len(all))
	for _, rec := range all {
		if params.Kind != nil && rec.SourceKind != *params.Kind {
			continue
		}
		if !params.Since.IsZero() && rec.UpdatedAt.Before(params.Since) {
			continue
		}
		if params.AfterUpdatedAt != nil {
			after := *params.AfterUpdatedAt
			if rec.UpdatedAt.Before(after) {
				continue
			}
			if rec.UpdatedAt.Equal(after) && rec.ID <= params.AfterID {
				continue
			}
		}
		out = append(out, rec)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (s *stubRepo) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return nil, nil
}
func (s *stubRepo) ListProducts(ctx context.Context, params repository.ListProductsParams) ([]models.Product, error) {
	return nil, nil
}
func (s *stubRepo) CountProducts(ctx context.Context, params repository.ListProductsParams) (int64, error) {
	return 0, nil
}
func (s *stubRepo) ListProductsForMatching(ctx context.Context) ([]repository.MatchRow, error) {
	return nil, nil
}
func (s *stubRepo) ListActiveProductIDs(ctx context.Context, limit, offset int) ([]string, error) {
	return nil, nil
}
func (s *stubRepo) ListBrands(ctx context.Context) ([]models.Brand, error) { return nil, nil }
func (s *stubRepo) ListVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.Variant, error) {
	return nil, nil
}
func (s *stubRepo) ListPlatformRefs(ctx context.Context) ([]models.ProductPlatformRef, error) {
	return nil, nil
}
func (s *stubRepo) ListPriceRecordsByProductIDs(ctx context.Context, productIDs []string) ([]models.PriceRecord, error) {
	return nil, nil
}
func (s *stubRepo) ListSellPriceSeries(ctx context.Context, productID string, since time.Time) ([]repository.PricePoint, error) {
	return nil, nil
}
func (s *stubRepo) GetMarketplaceByName(ctx context.Context, name string) (*models.Marketplace, error) {
	return nil, nil
}
func (s *stubRepo) ListMarketplaces(ctx context.Context) ([]models.Marketplace, error) {
	return nil, nil
}
func (s *stubRepo) ListFeeRulesByMarketplaceIDs(ctx context.Context, marketplaceIDs []string) ([]models.FeeRule, error) {
	return nil, nil
}
func (s *stubRepo) CreateAlert(ctx context.Context, item *models.AlertDefinition) error { return nil }
func (s *stubRepo) GetAlertByID(ctx context.Context, id string) (*models.AlertDefinition, error) {
	return nil, nil
}
func (s *stubRepo) ListAlerts(ctx context.Context, params repository.ListAlertsParams) ([]models.AlertDefinition, error) {
	return nil, nil
}
func (s *stubRepo) CountAlerts(ctx context.Context, params repository.ListAlertsParams) (int64, error) {
	return 0, nil
}
func (s *stubRepo) ListDueAlertCandidates(ctx context.Context, now time.Time) ([]models.AlertDefinition, error) {
	return nil, nil
}
func (s *stubRepo) MarkAlertScanned(ctx context.Context, id string, version int64, scannedAt time.Time) (bool, error) {
	return false, nil
}
func (s *stubRepo) MarkAlertTriggered(ctx context.Context, id string, version int64, scannedAt time.Time, opportunities int) (bool, error) {
	return false, nil
}
func (s *stubRepo) MarkAlertDeliveryFailed(ctx context.Context, id string, version int64, scannedAt time.Time, lastError string, deactivate bool) (bool, error) {
	return false, nil
}
func (s *stubRepo) DeactivateAlert(ctx context.Context, id string, lastError string) error {
	return nil
}
func (s *stubRepo) InsertWebhookDelivery(ctx context.Context, item *models.WebhookDelivery) error {
	return nil
}
func (s *stubRepo) ListWebhookDeliveries(ctx context.Context, params repository.ListDeliveriesParams) ([]models.WebhookDelivery, error) {
	return nil, nil
}
func (s *stubRepo) UpsertIngestSource(ctx context.Context, item *models.IngestSource) error {
	return nil
}
func (s *stubRepo) ListIngestSources(ctx context.Context) ([]models.IngestSource, error) {
	return nil, nil
}
func (s *stubRepo) GetIngestCheckpoint(ctx context.Context, source string) (*models.IngestCheckpoint, error) {
	return nil, nil
}
func (s *stubRepo) SaveIngestCheckpoint(ctx context.Context, cp *models.IngestCheckpoint) error {
	return nil
}
func (s *stubRepo) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	return false, nil
}
func (s *stubRepo) ReleaseLease(ctx context.Context, name, holder string) error { return nil }
func (s *stubRepo) ProductSalesStats(ctx context.Context, productID string, since time.Time) (repository.SalesStats, error) {
	return repository.SalesStats{}, nil
}
func (s *stubRepo) BrandSalesVelocity(ctx context.Context, brandID string, since time.Time) (float64, error) {
	return 0, nil
}
func (s *stubRepo) MaxBrandSalesVelocity(ctx context.Context, since time.Time) (float64, error) {
	return 0, nil
}
func (s *stubRepo) DeletePriceHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}
func (s *stubRepo) DeleteWebhookDeliveriesBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

var _ repository.Repository = (*stubRepo)(nil)
