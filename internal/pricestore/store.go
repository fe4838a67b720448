package pricestore

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"solescan/internal/faults"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// epsilon is one minor currency unit. Price moves below it are noise.
var epsilon = decimal.New(1, -2)

const lockShards = 64

// Observation is one normalized price sighting from a source feed.
type Observation struct {
	ProductID   string
	Source      string
	SourceKind  string
	VariantID   string
	Supplier    *string
	Price       decimal.Decimal
	Currency    string
	InStock     bool
	StockQty    *int
	ExternalID  *string
	ExternalURL *string
	ObservedAt  time.Time
	Metadata    []byte
}

// Change is published on the feed whenever an upsert materially changed a
// record. Consumers use it to mark products dirty, never as the data itself.
type Change struct {
	ProductID  string
	Source     string
	SourceKind string
	VariantID  string
	Reason     string
	ObservedAt time.Time
}

// Store serializes writes per price key and appends the history trail in the
// same transaction as the record change.
type Store struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	locks [lockShards]sync.Mutex

	subMu sync.RWMutex
	subs  []chan Change
}

func New(repo repository.Repository, logger *zap.Logger, met *metrics.Metrics) *Store {
	return &Store{Repo: repo, Logger: logger, Metrics: met}
}

// Upsert writes one observation. It reports true when the stored record
// materially changed: first sighting, price delta of at least epsilon, or an
// in-stock flip. Older-than-stored observations are rejected as integrity
// faults; byte-for-byte replays are silent no-ops.
func (s *Store) Upsert(ctx context.Context, obs Observation) (bool, error) {
	if err := s.validate(&obs); err != nil {
		return false, err
	}

	lock := &s.locks[shardFor(obs.ProductID, obs.Source, obs.VariantID)]
	lock.Lock()
	defer lock.Unlock()

	var (
		changed bool
		event   *models.PriceHistoryEvent
	)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		existing, err := s.Repo.GetPriceRecordForUpdateTx(ctx, tx, obs.ProductID, obs.Source, obs.VariantID)
		if err != nil {
			return faults.Wrap(faults.Storage, err, "load price record")
		}

		if existing != nil {
			if obs.ObservedAt.Before(existing.ObservedAt) {
				return faults.New(faults.DataIntegrity,
					"observed_at regression for %s/%s/%s: stored %s, got %s",
					obs.ProductID, obs.Source, obs.VariantID,
					existing.ObservedAt.Format(time.RFC3339), obs.ObservedAt.Format(time.RFC3339))
			}
			if obs.ObservedAt.Equal(existing.ObservedAt) {
				if obs.Price.Equal(existing.Price) && obs.InStock == existing.InStock {
					return nil
				}
				return faults.New(faults.DataIntegrity,
					"conflicting values at same observed_at for %s/%s/%s",
					obs.ProductID, obs.Source, obs.VariantID)
			}
		}

		rec := buildRecord(obs, existing)
		if err := s.Repo.SavePriceRecordTx(ctx, tx, rec); err != nil {
			return faults.Wrap(faults.Storage, err, "save price record")
		}

		event = diffEvent(obs, existing)
		if event == nil {
			return nil
		}
		if err := s.Repo.InsertPriceHistoryTx(ctx, tx, event); err != nil {
			return faults.Wrap(faults.Storage, err, "append price history")
		}
		changed = true
		return nil
	})
	if err != nil {
		if faults.Is(err, faults.DataIntegrity) {
			if s.Logger != nil {
				s.Logger.Warn("price observation skipped", zap.Error(err))
			}
			if s.Metrics != nil {
				s.Metrics.IntegritySkips.Inc()
			}
		}
		return false, err
	}

	if changed {
		if s.Metrics != nil {
			s.Metrics.HistoryEvents.WithLabelValues(event.Reason).Inc()
		}
		s.publish(Change{
			ProductID:  obs.ProductID,
			Source:     obs.Source,
			SourceKind: obs.SourceKind,
			VariantID:  obs.VariantID,
			Reason:     event.Reason,
			ObservedAt: obs.ObservedAt,
		})
	}
	return changed, nil
}

// Latest returns the current record per (source, variant) for a product,
// newest observation first. kind narrows to one source kind.
func (s *Store) Latest(ctx context.Context, productID string, kind *string) ([]models.PriceRecord, error) {
	items, err := s.Repo.ListLatestPrices(ctx, productID, kind)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, err, "list latest prices")
	}
	return items, nil
}

// Cursor marks a position in the change-ordered record stream. The zero
// value starts from the beginning of the window.
type Cursor struct {
	UpdatedAt time.Time
	ID        uint64
}

// Iterate walks records of a kind updated since a time, in update order,
// calling fn per record. It returns the cursor after the last delivered
// record so an interrupted walk can resume where it stopped.
func (s *Store) Iterate(ctx context.Context, kind *string, since time.Time, from Cursor, batchSize int, fn func(models.PriceRecord) error) (Cursor, error) {
	cursor := from
	for {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}
		params := repository.ChangedPricesParams{
			Kind:  kind,
			Since: since,
			Limit: batchSize,
		}
		if !cursor.UpdatedAt.IsZero() {
			params.AfterUpdatedAt = &cursor.UpdatedAt
			params.AfterID = cursor.ID
		}
		batch, err := s.Repo.ListChangedPriceRecords(ctx, params)
		if err != nil {
			return cursor, faults.Wrap(faults.Storage, err, "list changed price records")
		}
		if len(batch) == 0 {
			return cursor, nil
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return cursor, err
			}
			cursor = Cursor{UpdatedAt: rec.UpdatedAt, ID: rec.ID}
		}
	}
}

// Subscribe returns a feed of material changes. The feed never blocks a
// writer: when the buffer is full the change is dropped and counted.
func (s *Store) Subscribe(buffer int) <-chan Change {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Change, buffer)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) publish(change Change) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
			if s.Metrics != nil {
				s.Metrics.ChangeFeedDrops.Inc()
			}
		}
	}
}

func (s *Store) validate(obs *Observation) error {
	obs.ProductID = strings.TrimSpace(obs.ProductID)
	obs.Source = strings.ToLower(strings.TrimSpace(obs.Source))
	obs.SourceKind = strings.ToLower(strings.TrimSpace(obs.SourceKind))
	obs.VariantID = strings.TrimSpace(obs.VariantID)
	obs.Currency = strings.ToUpper(strings.TrimSpace(obs.Currency))
	if obs.ProductID == "" {
		return faults.New(faults.DataIntegrity, "observation missing product id")
	}
	if obs.Source == "" {
		return faults.New(faults.DataIntegrity, "observation missing source")
	}
	if obs.SourceKind == "" {
		return faults.New(faults.DataIntegrity, "observation missing source kind")
	}
	if obs.Price.IsNegative() {
		return faults.New(faults.DataIntegrity, "negative price for %s/%s", obs.ProductID, obs.Source)
	}
	if obs.ObservedAt.IsZero() {
		return faults.New(faults.DataIntegrity, "observation missing observed_at for %s/%s", obs.ProductID, obs.Source)
	}
	if obs.Currency == "" {
		obs.Currency = "EUR"
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	return nil
}

func buildRecord(obs Observation, existing *models.PriceRecord) *models.PriceRecord {
	rec := &models.PriceRecord{
		ProductID:   obs.ProductID,
		Source:      obs.Source,
		VariantID:   obs.VariantID,
		SourceKind:  obs.SourceKind,
		Supplier:    obs.Supplier,
		Price:       obs.Price,
		Currency:    obs.Currency,
		InStock:     obs.InStock,
		StockQty:    obs.StockQty,
		ExternalID:  obs.ExternalID,
		ExternalURL: obs.ExternalURL,
		ObservedAt:  obs.ObservedAt,
	}
	if len(obs.Metadata) > 0 {
		rec.Metadata = obs.Metadata
	} else if existing != nil {
		rec.Metadata = existing.Metadata
	}
	return rec
}

// diffEvent decides whether the observation warrants a history event and
// builds it. Price movement wins the reason when both fields changed.
func diffEvent(obs Observation, existing *models.PriceRecord) *models.PriceHistoryEvent {
	ev := &models.PriceHistoryEvent{
		ProductID:  obs.ProductID,
		Source:     obs.Source,
		VariantID:  obs.VariantID,
		SourceKind: obs.SourceKind,
		NewPrice:   obs.Price,
		Currency:   obs.Currency,
		NewInStock: obs.InStock,
		ObservedAt: obs.ObservedAt,
	}
	if existing == nil {
		ev.Reason = models.HistoryReasonFirstSeen
		return ev
	}

	oldPrice := existing.Price
	oldStock := existing.InStock
	ev.OldPrice = &oldPrice
	ev.OldInStock = &oldStock

	priceMoved := obs.Price.Sub(existing.Price).Abs().GreaterThanOrEqual(epsilon)
	stockFlipped := obs.InStock != existing.InStock
	switch {
	case priceMoved:
		ev.Reason = models.HistoryReasonPriceChange
	case stockFlipped:
		ev.Reason = models.HistoryReasonStockFlip
	default:
		return nil
	}
	return ev
}

func shardFor(productID, source, variantID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(productID))
	h.Write([]byte{'|'})
	h.Write([]byte(source))
	h.Write([]byte{'|'})
	h.Write([]byte(variantID))
	return h.Sum32() % lockShards
}
