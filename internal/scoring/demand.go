// Package scoring computes the demand and risk composites over candidate
// opportunities. Both scorers are deterministic given their repository
// reads; memoization lives in the enricher.
package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"solescan/internal/faults"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// Demand component weights. Fixed by design.
const (
	weightSalesFrequency  = 0.40
	weightPriceTrend      = 0.25
	weightStockTurnover   = 0.20
	weightSeasonality     = 0.10
	weightBrandPopularity = 0.05

	// Sales-frequency curve saturates here.
	saturationSalesPerDay = 5.0

	// Relative slope per day below which a trend counts as stable.
	stableSlopeThreshold = 0.01

	// Shelf life at or beyond this scores zero turnover.
	maxShelfLifeDays = 90.0
)

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// DemandComponent is one scored input. Raw keeps the pre-mapping value for
// the breakdown; Imputed marks components scored neutrally for lack of data.
type DemandComponent struct {
	Raw     float64 `json:"raw"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	Imputed bool    `json:"imputed,omitempty"`
}

type DemandBreakdown struct {
	Composite float64 `json:"composite"`

	SalesFrequency  DemandComponent `json:"sales_frequency"`
	PriceTrend      DemandComponent `json:"price_trend"`
	StockTurnover   DemandComponent `json:"stock_turnover"`
	Seasonality     DemandComponent `json:"seasonality"`
	BrandPopularity DemandComponent `json:"brand_popularity"`

	SalesPerDay     float64 `json:"sales_per_day"`
	TrendDirection  string  `json:"trend_direction"`
	AvgTurnoverDays float64 `json:"avg_turnover_days"`
	LookbackDays    int     `json:"lookback_days"`
}

// DemandScorer reads sales history and price series through the repository.
// Seasonality tables are per-category, 12 entries of 0-100, operator
// provided with a built-in sneaker default.
type DemandScorer struct {
	Repo         repository.Repository
	Logger       *zap.Logger
	LookbackDays int
	Seasonality  map[string][]float64
}

// defaultSeasonality is the built-in sneaker curve: quiet summer, strong
// back-to-school and holiday months.
var defaultSeasonality = []float64{55, 50, 55, 60, 60, 50, 45, 65, 75, 70, 80, 85}

// Score computes the demand composite for a product. Components that cannot
// be computed score a neutral 50 with their weight still counted, and are
// marked imputed in the breakdown.
func (s *DemandScorer) Score(ctx context.Context, product models.Product) (DemandBreakdown, error) {
	lookback := s.LookbackDays
	if lookback <= 0 {
		lookback = 90
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -lookback)

	out := DemandBreakdown{LookbackDays: lookback, TrendDirection: TrendStable}

	stats, err := s.Repo.ProductSalesStats(ctx, product.ID, since)
	if err != nil {
		return out, faults.Wrap(faults.Storage, err, "product sales stats")
	}
	out.SalesFrequency = s.salesFrequency(stats, lookback, &out)
	out.StockTurnover = s.stockTurnover(stats, &out)

	series, err := s.Repo.ListSellPriceSeries(ctx, product.ID, since)
	if err != nil {
		return out, faults.Wrap(faults.Storage, err, "sell price series")
	}
	out.PriceTrend = s.priceTrend(series, &out)

	out.Seasonality = s.seasonal(product.Category, now)
	brand, err := s.brandPopularity(ctx, product, since)
	if err != nil {
		return out, err
	}
	out.BrandPopularity = brand

	out.Composite = clamp(
		out.SalesFrequency.Score*weightSalesFrequency+
			out.PriceTrend.Score*weightPriceTrend+
			out.StockTurnover.Score*weightStockTurnover+
			out.Seasonality.Score*weightSeasonality+
			out.BrandPopularity.Score*weightBrandPopularity,
		0, 100)
	return out, nil
}

func (s *DemandScorer) salesFrequency(stats repository.SalesStats, lookback int, out *DemandBreakdown) DemandComponent {
	c := DemandComponent{Weight: weightSalesFrequency}
	if !stats.HasOrders {
		c.Score = 50
		c.Imputed = true
		return c
	}
	perDay := float64(stats.Orders) / float64(lookback)
	out.SalesPerDay = perDay
	c.Raw = perDay
	c.Score = clamp(perDay/saturationSalesPerDay, 0, 1) * 100
	return c
}

func (s *DemandScorer) priceTrend(series []repository.PricePoint, out *DemandBreakdown) DemandComponent {
	c := DemandComponent{Weight: weightPriceTrend}
	if len(series) < 3 {
		c.Score = 50
		c.Imputed = true
		out.TrendDirection = TrendStable
		return c
	}
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	start := series[0].At
	for i, p := range series {
		xs[i] = p.At.Sub(start).Hours() / 24
		ys[i] = p.Price.InexactFloat64()
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	mean := stat.Mean(ys, nil)
	if mean <= 0 {
		c.Score = 50
		c.Imputed = true
		out.TrendDirection = TrendStable
		return c
	}
	rel := slope / mean
	c.Raw = rel
	switch {
	case rel > stableSlopeThreshold:
		c.Score = 100
		out.TrendDirection = TrendIncreasing
	case rel < -stableSlopeThreshold:
		c.Score = 0
		out.TrendDirection = TrendDecreasing
	default:
		c.Score = 50
		out.TrendDirection = TrendStable
	}
	return c
}

func (s *DemandScorer) stockTurnover(stats repository.SalesStats, out *DemandBreakdown) DemandComponent {
	c := DemandComponent{Weight: weightStockTurnover}
	if !stats.HasShelfLife {
		c.Score = 50
		c.Imputed = true
		return c
	}
	days := stats.AvgShelfLifeDays
	out.AvgTurnoverDays = days
	c.Raw = days
	c.Score = clamp((maxShelfLifeDays-days)/maxShelfLifeDays, 0, 1) * 100
	return c
}

func (s *DemandScorer) seasonal(category string, now time.Time) DemandComponent {
	c := DemandComponent{Weight: weightSeasonality}
	table, ok := s.Seasonality[category]
	if !ok || len(table) != 12 {
		table = defaultSeasonality
	}
	if category == "" {
		c.Score = 50
		c.Imputed = true
		return c
	}
	month := int(now.Month()) - 1
	c.Raw = float64(month + 1)
	c.Score = clamp(table[month], 0, 100)
	return c
}

func (s *DemandScorer) brandPopularity(ctx context.Context, product models.Product, since time.Time) (DemandComponent, error) {
	c := DemandComponent{Weight: weightBrandPopularity}
	if product.BrandID == nil || *product.BrandID == "" {
		c.Score = 50
		c.Imputed = true
		return c, nil
	}
	velocity, err := s.Repo.BrandSalesVelocity(ctx, *product.BrandID, since)
	if err != nil {
		return c, faults.Wrap(faults.Storage, err, "brand sales velocity")
	}
	maxVelocity, err := s.Repo.MaxBrandSalesVelocity(ctx, since)
	if err != nil {
		return c, faults.Wrap(faults.Storage, err, "max brand sales velocity")
	}
	if maxVelocity <= 0 {
		c.Score = 50
		c.Imputed = true
		return c, nil
	}
	c.Raw = velocity
	c.Score = clamp(velocity/maxVelocity, 0, 1) * 100
	return c, nil
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
