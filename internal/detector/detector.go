// Package detector joins the buy and sell sides of the price store into
// fee-adjusted opportunities. Detection is a read-only pass; nothing here is
// persisted.
package detector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/fees"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/pricestore"
	"solescan/internal/repository"
)

const (
	productPageSize  = 1000
	recordBatchSize  = 500
	defaultMaxOutput = 100
)

// Filters narrows a detection pass. Zero-value margins and profits admit
// everything; a nil MaxBuyPrice means unbounded. DirtyOnly re-evaluates only
// products whose prices changed since the previous pass and answers from the
// maintained snapshot; once FullSweepEvery has elapsed it falls back to a
// full catalog sweep.
type Filters struct {
	MinProfitMargin decimal.Decimal
	MinGrossProfit  decimal.Decimal
	MaxBuyPrice     *decimal.Decimal
	SourceAllowlist []string
	Limit           int
	DirtyOnly       bool
}

// Opportunity is one profitable (retail buy, resale sell) pair on a product.
// ProfitMargin and ROI are the same ratio; both ride along for output.
type Opportunity struct {
	ProductID   string
	StdSize     *float64
	Buy         models.PriceRecord
	Sell        models.PriceRecord
	Marketplace string

	TotalFees    decimal.Decimal
	NetSell      decimal.Decimal
	GrossProfit  decimal.Decimal
	ProfitMargin decimal.Decimal
	ROI          decimal.Decimal

	FeeBreakdown []fees.FeeLine
}

// Detector scans latest prices for cross-kind spreads. Marketplaces maps a
// sell-side source name to the marketplace whose fee schedule applies.
type Detector struct {
	Repo         repository.Repository
	Fees         *fees.Engine
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Marketplaces map[string]string
	DefaultLimit int

	// FullSweepEvery bounds how stale a DirtyOnly pass may run before the
	// detector forces a full catalog sweep anyway.
	FullSweepEvery time.Duration

	mu        sync.Mutex
	dirty     map[string]struct{}
	lastSweep time.Time

	// snap holds each product's profitable pairs from its last evaluation.
	// Incremental passes refresh dirty entries and answer from the whole map.
	snap map[string][]Opportunity
}

// Run consumes the price-store change feed and marks products dirty until the
// channel closes or the context ends.
func (d *Detector) Run(ctx context.Context, changes <-chan pricestore.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			d.MarkDirty(ch.ProductID)
		}
	}
}

func (d *Detector) MarkDirty(productID string) {
	d.mu.Lock()
	if d.dirty == nil {
		d.dirty = make(map[string]struct{})
	}
	d.dirty[productID] = struct{}{}
	d.mu.Unlock()
}

// Detect runs one detection pass and returns opportunities sorted by profit
// margin descending, ties broken by (product id, buy source).
func (d *Detector) Detect(ctx context.Context, f Filters) ([]Opportunity, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = d.DefaultLimit
	}
	if limit <= 0 {
		limit = defaultMaxOutput
	}

	var allow map[string]bool
	if len(f.SourceAllowlist) > 0 {
		allow = make(map[string]bool, len(f.SourceAllowlist))
		for _, src := range f.SourceAllowlist {
			allow[strings.ToLower(strings.TrimSpace(src))] = true
		}
	}

	ids, incremental, err := d.productSet(ctx, f.DirtyOnly)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := make(map[string][]Opportunity, len(ids))
	for start := 0; start < len(ids); start += recordBatchSize {
		end := start + recordBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := d.detectBatch(ctx, ids[start:end], now)
		if err != nil {
			return nil, err
		}
		for _, opp := range batch {
			fresh[opp.ProductID] = append(fresh[opp.ProductID], opp)
		}
	}
	field := d.mergeSnapshot(ids, fresh, incremental, now)

	out := make([]Opportunity, 0, len(field))
	for _, opp := range field {
		if matches(opp, f, allow) {
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ProfitMargin.Equal(out[j].ProfitMargin) {
			return out[i].ProfitMargin.GreaterThan(out[j].ProfitMargin)
		}
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Buy.Source < out[j].Buy.Source
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if d.Metrics != nil {
		d.Metrics.OpportunitiesEmitted.Add(float64(len(out)))
	}
	return out, nil
}

// productSet picks the ids for this pass: the drained dirty set when the
// caller asked for an incremental scan and the snapshot is fresh enough,
// otherwise every active product.
func (d *Detector) productSet(ctx context.Context, dirtyOnly bool) ([]string, bool, error) {
	sweepEvery := d.FullSweepEvery
	if sweepEvery <= 0 {
		sweepEvery = 15 * time.Minute
	}

	d.mu.Lock()
	if dirtyOnly && d.snap != nil && time.Since(d.lastSweep) < sweepEvery {
		ids := make([]string, 0, len(d.dirty))
		for id := range d.dirty {
			ids = append(ids, id)
		}
		d.dirty = nil
		d.mu.Unlock()
		sort.Strings(ids)
		return ids, true, nil
	}
	// Full sweep: drain the set now so marks arriving during evaluation
	// survive for the next incremental pass.
	d.dirty = nil
	d.mu.Unlock()

	var ids []string
	for offset := 0; ; offset += productPageSize {
		page, err := d.Repo.ListActiveProductIDs(ctx, productPageSize, offset)
		if err != nil {
			return nil, false, faults.Wrap(faults.Storage, err, "list active products")
		}
		ids = append(ids, page...)
		if len(page) < productPageSize {
			break
		}
	}
	return ids, false, nil
}

// mergeSnapshot folds this pass's results into the per-product snapshot and
// returns the whole field.
func (d *Detector) mergeSnapshot(ids []string, fresh map[string][]Opportunity, incremental bool, now time.Time) []Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	if incremental {
		for _, id := range ids {
			if opps := fresh[id]; len(opps) > 0 {
				d.snap[id] = opps
			} else {
				delete(d.snap, id)
			}
		}
	} else {
		d.snap = fresh
		d.lastSweep = now
	}
	field := make([]Opportunity, 0, len(d.snap))
	for _, opps := range d.snap {
		field = append(field, opps...)
	}
	return field
}

// matches applies the caller's filters to one snapshot entry.
func matches(o Opportunity, f Filters, allow map[string]bool) bool {
	if allow != nil && !allow[strings.ToLower(o.Buy.Source)] {
		return false
	}
	if f.MaxBuyPrice != nil && o.Buy.Price.GreaterThan(*f.MaxBuyPrice) {
		return false
	}
	if o.ProfitMargin.LessThan(f.MinProfitMargin) || o.GrossProfit.LessThan(f.MinGrossProfit) {
		return false
	}
	return true
}

func (d *Detector) detectBatch(ctx context.Context, ids []string, now time.Time) ([]Opportunity, error) {
	records, err := d.Repo.ListPriceRecordsByProductIDs(ctx, ids)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, err, "list price records")
	}
	variants, err := d.Repo.ListVariantsByProductIDs(ctx, ids)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, err, "list variants")
	}
	sizeOf := make(map[string]float64, len(variants))
	for _, v := range variants {
		sizeOf[v.ID] = v.StdSize
	}

	byProduct := make(map[string][]models.PriceRecord)
	for _, rec := range records {
		byProduct[rec.ProductID] = append(byProduct[rec.ProductID], rec)
	}

	var out []Opportunity
	for _, id := range ids {
		opps, err := d.evaluateProduct(ctx, byProduct[id], sizeOf, now)
		if err != nil {
			return nil, err
		}
		out = append(out, opps...)
	}
	return out, nil
}

func (d *Detector) evaluateProduct(ctx context.Context, records []models.PriceRecord, sizeOf map[string]float64, now time.Time) ([]Opportunity, error) {
	var buys, sells []models.PriceRecord
	for _, rec := range records {
		switch rec.SourceKind {
		case models.SourceKindRetail:
			if rec.InStock {
				buys = append(buys, rec)
			}
		case models.SourceKindResale:
			sells = append(sells, rec)
		}
	}
	if len(buys) == 0 || len(sells) == 0 {
		return nil, nil
	}

	var out []Opportunity
	for _, buy := range buys {
		if !buy.Price.IsPositive() {
			continue
		}
		for _, sell := range sells {
			if d.Metrics != nil {
				d.Metrics.PairsEvaluated.Inc()
			}
			size, ok := pairSize(buy, sell, sizeOf)
			if !ok {
				continue
			}
			if buy.Currency != sell.Currency {
				d.debug("currency mismatch", zap.String("product", buy.ProductID),
					zap.String("buy", buy.Currency), zap.String("sell", sell.Currency))
				continue
			}
			mkt := d.Marketplaces[strings.ToLower(sell.Source)]
			if mkt == "" {
				d.debug("sell source has no marketplace", zap.String("source", sell.Source))
				continue
			}
			payout, err := d.Fees.PayoutFor(ctx, mkt, sell.Price, sell.Currency, now)
			if err != nil {
				if faults.Is(err, faults.ConfigurationInvalid) || faults.Is(err, faults.DataIntegrity) {
					d.debug("fee schedule unusable", zap.String("marketplace", mkt), zap.Error(err))
					continue
				}
				return nil, err
			}

			gross := payout.NetPayout.Sub(buy.Price)
			if !gross.IsPositive() {
				continue
			}
			margin := gross.Div(buy.Price)
			out = append(out, Opportunity{
				ProductID:    buy.ProductID,
				StdSize:      size,
				Buy:          buy,
				Sell:         sell,
				Marketplace:  mkt,
				TotalFees:    payout.TotalFees,
				NetSell:      payout.NetPayout,
				GrossProfit:  gross,
				ProfitMargin: margin,
				ROI:          margin,
				FeeBreakdown: payout.Breakdown,
			})
		}
	}
	return out, nil
}

// pairSize decides whether two records quote the same standardized size. A
// record without a variant quotes the whole product and pairs with any size.
func pairSize(buy, sell models.PriceRecord, sizeOf map[string]float64) (*float64, bool) {
	var buySize, sellSize *float64
	if buy.VariantID != "" {
		if s, ok := sizeOf[buy.VariantID]; ok {
			buySize = &s
		}
	}
	if sell.VariantID != "" {
		if s, ok := sizeOf[sell.VariantID]; ok {
			sellSize = &s
		}
	}
	switch {
	case buySize == nil:
		return sellSize, true
	case sellSize == nil:
		return buySize, true
	case *buySize == *sellSize:
		return buySize, true
	default:
		return nil, false
	}
}

func (d *Detector) debug(msg string, fields ...zap.Field) {
	if d.Logger != nil {
		d.Logger.Debug(msg, fields...)
	}
}
