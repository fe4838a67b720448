// Package enricher layers demand, risk, and feasibility on top of raw
// detector output and ranks the result. Scoring reads are memoized per
// product with eager invalidation from the price-store change feed.
package enricher

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solescan/internal/detector"
	"solescan/internal/faults"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/pricestore"
	"solescan/internal/repository"
	"solescan/internal/scoring"
)

// Feasibility component weights.
const (
	weightFeasDemand = 0.40
	weightFeasRisk   = 0.30
	weightFeasMargin = 0.20
	weightFeasStock  = 0.10

	minDaysToSell = 1
	maxDaysToSell = 90
)

// Enhanced is an opportunity with its scores attached. Feasibility is
// deterministic from demand, risk, margin, and stock.
type Enhanced struct {
	detector.Opportunity

	ProductName string
	ProductSKU  string
	Brand       string

	Demand              scoring.DemandBreakdown
	Risk                scoring.RiskAssessment
	FeasibilityScore    float64
	EstimatedDaysToSell int
}

// Enricher orchestrates detector output through both scorers. Parallelism
// bounds the per-product fan-out in Enhance.
type Enricher struct {
	Repo        repository.Repository
	Detector    *detector.Detector
	Demand      *scoring.DemandScorer
	Risk        *scoring.RiskScorer
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Parallelism int
	CacheTTL    time.Duration

	memoOnce sync.Once
	memo     *memo
}

func (e *Enricher) cache() *memo {
	e.memoOnce.Do(func() {
		ttl := e.CacheTTL
		if ttl <= 0 {
			ttl = 15 * time.Minute
		}
		e.memo = newMemo(ttl)
	})
	return e.memo
}

// Top detects, enhances, and ranks: feasibility descending, ties stable by
// (product id, buy source), truncated to limit. maxRisk "" admits every
// bucket. Detection is incremental between the detector's full sweeps, and
// over-fetches so the post-scoring filters still have a full field to rank.
func (e *Enricher) Top(ctx context.Context, limit int, minFeasibility float64, maxRisk string) ([]Enhanced, error) {
	if limit <= 0 {
		limit = 10
	}
	fetch := limit * 5
	if fetch < 200 {
		fetch = 200
	}
	opps, err := e.Detector.Detect(ctx, detector.Filters{Limit: fetch, DirtyOnly: true})
	if err != nil {
		return nil, err
	}
	enhanced, err := e.Enhance(ctx, opps)
	if err != nil {
		return nil, err
	}

	maxRank, ok := riskRank(maxRisk)
	if !ok {
		return nil, faults.New(faults.ConfigurationInvalid, "unknown risk level %q", maxRisk)
	}
	out := enhanced[:0]
	for _, item := range enhanced {
		rank, _ := riskRank(item.Risk.Bucket)
		if item.FeasibilityScore < minFeasibility || rank > maxRank {
			continue
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FeasibilityScore != out[j].FeasibilityScore {
			return out[i].FeasibilityScore > out[j].FeasibilityScore
		}
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Buy.Source < out[j].Buy.Source
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Enhance scores a batch of opportunities. Products are scored once each
// regardless of how many opportunities they appear in.
func (e *Enricher) Enhance(ctx context.Context, opps []detector.Opportunity) ([]Enhanced, error) {
	if len(opps) == 0 {
		return nil, nil
	}

	productIDs := make([]string, 0, len(opps))
	seen := make(map[string]bool, len(opps))
	for _, opp := range opps {
		if !seen[opp.ProductID] {
			seen[opp.ProductID] = true
			productIDs = append(productIDs, opp.ProductID)
		}
	}

	brands, err := e.brandNames(ctx)
	if err != nil {
		return nil, err
	}

	type productScores struct {
		product models.Product
		entry   scoreEntry
	}
	scores := make(map[string]productScores, len(productIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	g.SetLimit(parallelism)
	for _, id := range productIDs {
		id := id
		g.Go(func() error {
			product, entry, err := e.scoreProduct(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			scores[id] = productScores{product: product, entry: entry}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Enhanced, 0, len(opps))
	for _, opp := range opps {
		ps := scores[opp.ProductID]
		margin := opp.ProfitMargin.InexactFloat64()
		risk := e.Risk.AssessWith(scoring.RiskInput{
			ProductID:    opp.ProductID,
			BuySource:    opp.Buy.Source,
			StockQty:     opp.Buy.StockQty,
			ProfitMargin: margin,
			DemandScore:  ps.entry.demand.Composite,
		}, ps.entry.volatility)

		item := Enhanced{
			Opportunity: opp,
			ProductName: ps.product.Name,
			ProductSKU:  ps.product.SKU,
			Demand:      ps.entry.demand,
			Risk:        risk,
		}
		if ps.product.BrandID != nil {
			item.Brand = brands[*ps.product.BrandID]
		}
		item.FeasibilityScore = Feasibility(ps.entry.demand.Composite, risk.Score, margin, opp.Buy.StockQty)
		item.EstimatedDaysToSell = EstimatedDaysToSell(ps.entry.demand.Composite, risk.Score)
		out = append(out, item)
	}
	return out, nil
}

// Feasibility blends demand, inverted risk, margin, and stock depth into a
// 0-100 score.
func Feasibility(demand, risk, margin float64, stockQty *int) float64 {
	stock := 50.0
	if stockQty != nil {
		stock = clamp(float64(*stockQty)*10, 0, 100)
	}
	score := weightFeasDemand*demand +
		weightFeasRisk*(100-risk) +
		weightFeasMargin*clamp(margin*200, 0, 100) +
		weightFeasStock*stock
	return clamp(score, 0, 100)
}

// EstimatedDaysToSell projects shelf time from demand and risk, bounded to
// [1,90] days.
func EstimatedDaysToSell(demand, risk float64) int {
	days := maxDaysToSell*(1-demand/100) + 5*(risk/100)
	return int(math.Round(clamp(days, minDaysToSell, maxDaysToSell)))
}

func (e *Enricher) scoreProduct(ctx context.Context, productID string) (models.Product, scoreEntry, error) {
	product, err := e.Repo.GetProductByID(ctx, productID)
	if err != nil {
		return models.Product{}, scoreEntry{}, faults.Wrap(faults.Storage, err, "load product")
	}
	if product == nil {
		return models.Product{}, scoreEntry{}, faults.New(faults.DataIntegrity, "opportunity references unknown product %s", productID)
	}

	lookback := e.Demand.LookbackDays
	now := time.Now().UTC()
	if entry, ok := e.cache().get(productID, lookback, now); ok {
		if e.Metrics != nil {
			e.Metrics.ScoreCacheHits.Inc()
		}
		return *product, entry, nil
	}
	if e.Metrics != nil {
		e.Metrics.ScoreCacheMisses.Inc()
	}

	demand, err := e.Demand.Score(ctx, *product)
	if err != nil {
		return models.Product{}, scoreEntry{}, err
	}
	volatility, err := e.Risk.Volatility(ctx, productID)
	if err != nil {
		return models.Product{}, scoreEntry{}, err
	}
	entry := scoreEntry{demand: demand, volatility: volatility, lookback: lookback, storedAt: now}
	e.cache().put(productID, entry)
	return *product, entry, nil
}

func (e *Enricher) brandNames(ctx context.Context) (map[string]string, error) {
	brands, err := e.Repo.ListBrands(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Storage, err, "list brands")
	}
	names := make(map[string]string, len(brands))
	for _, b := range brands {
		names[b.ID] = b.Name
	}
	return names, nil
}

// Run invalidates memo entries as prices move and sweeps expired ones until
// the context ends or the feed closes.
func (e *Enricher) Run(ctx context.Context, changes <-chan pricestore.Change) {
	ttl := e.cache().ttl
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if e.cache().invalidate(ch.ProductID) && e.Metrics != nil {
				e.Metrics.ScoreCacheEvictions.Inc()
			}
		case now := <-ticker.C:
			dropped := e.cache().sweep(now.UTC())
			if dropped > 0 && e.Metrics != nil {
				e.Metrics.ScoreCacheEvictions.Add(float64(dropped))
			}
		}
	}
}

// Invalidate drops one product's memo entry.
func (e *Enricher) Invalidate(productID string) {
	e.cache().invalidate(productID)
}

func riskRank(level string) (int, bool) {
	switch level {
	case "", models.RiskLevelHigh:
		return 2, true
	case models.RiskLevelMedium:
		return 1, true
	case models.RiskLevelLow:
		return 0, true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
