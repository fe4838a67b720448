package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solescan/internal/models"
	"solescan/internal/repository"
)

// stubStats implements only the order-statistics and price-series reads the
// scorers touch.
type stubStats struct {
	repository.Repository

	stats       repository.SalesStats
	series      []repository.PricePoint
	velocity    float64
	maxVelocity float64
}

func (s *stubStats) ProductSalesStats(ctx context.Context, productID string, since time.Time) (repository.SalesStats, error) {
	return s.stats, nil
}

func (s *stubStats) ListSellPriceSeries(ctx context.Context, productID string, since time.Time) ([]repository.PricePoint, error) {
	return s.series, nil
}

func (s *stubStats) BrandSalesVelocity(ctx context.Context, brandID string, since time.Time) (float64, error) {
	return s.velocity, nil
}

func (s *stubStats) MaxBrandSalesVelocity(ctx context.Context, since time.Time) (float64, error) {
	return s.maxVelocity, nil
}

func seriesAt(prices []float64, start time.Time, step time.Duration) []repository.PricePoint {
	out := make([]repository.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = repository.PricePoint{Price: decimal.NewFromFloat(p), At: start.Add(time.Duration(i) * step)}
	}
	return out
}

func closeTo(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}

func TestDemandUnknownProductIsAllImputed(t *testing.T) {
	scorer := &DemandScorer{Repo: &stubStats{}, LookbackDays: 90}
	breakdown, err := scorer.Score(context.Background(), models.Product{ID: "p-1"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if breakdown.Composite != 50 {
		t.Fatalf("composite = %v, want 50", breakdown.Composite)
	}
	if breakdown.TrendDirection != TrendStable {
		t.Fatalf("trend = %q, want stable", breakdown.TrendDirection)
	}
	for name, c := range map[string]DemandComponent{
		"sales_frequency":  breakdown.SalesFrequency,
		"price_trend":      breakdown.PriceTrend,
		"stock_turnover":   breakdown.StockTurnover,
		"seasonality":      breakdown.Seasonality,
		"brand_popularity": breakdown.BrandPopularity,
	} {
		if !c.Imputed || c.Score != 50 {
			t.Fatalf("%s = %+v, want imputed 50", name, c)
		}
	}
}

func TestDemandSalesFrequencySaturates(t *testing.T) {
	// 900 orders over 90 days = 10/day, past the 5/day saturation point.
	scorer := &DemandScorer{
		Repo:         &stubStats{stats: repository.SalesStats{Orders: 900, HasOrders: true}},
		LookbackDays: 90,
	}
	breakdown, err := scorer.Score(context.Background(), models.Product{ID: "p-1"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if breakdown.SalesFrequency.Score != 100 {
		t.Fatalf("sales frequency score = %v, want 100", breakdown.SalesFrequency.Score)
	}
	if breakdown.SalesPerDay != 10 {
		t.Fatalf("sales per day = %v, want 10", breakdown.SalesPerDay)
	}
}

func TestDemandPriceTrendDirections(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		prices    []float64
		wantScore float64
		wantDir   string
	}{
		{"increasing", []float64{100, 110, 120, 130, 140}, 100, TrendIncreasing},
		{"decreasing", []float64{140, 130, 120, 110, 100}, 0, TrendDecreasing},
		{"stable", []float64{120, 120.1, 119.9, 120, 120.05}, 50, TrendStable},
	}
	for _, tc := range cases {
		scorer := &DemandScorer{
			Repo:         &stubStats{series: seriesAt(tc.prices, start, 24*time.Hour)},
			LookbackDays: 90,
		}
		breakdown, err := scorer.Score(context.Background(), models.Product{ID: "p-1"})
		if err != nil {
			t.Fatalf("%s: Score: %v", tc.name, err)
		}
		if breakdown.PriceTrend.Score != tc.wantScore {
			t.Fatalf("%s: trend score = %v, want %v", tc.name, breakdown.PriceTrend.Score, tc.wantScore)
		}
		if breakdown.TrendDirection != tc.wantDir {
			t.Fatalf("%s: direction = %q, want %q", tc.name, breakdown.TrendDirection, tc.wantDir)
		}
	}
}

func TestDemandTurnoverMapping(t *testing.T) {
	cases := []struct {
		shelfDays float64
		want      float64
	}{
		{0, 100},
		{45, 50},
		{90, 0},
		{200, 0},
	}
	for _, tc := range cases {
		scorer := &DemandScorer{
			Repo: &stubStats{stats: repository.SalesStats{
				Orders: 10, HasOrders: true, AvgShelfLifeDays: tc.shelfDays, HasShelfLife: true,
			}},
			LookbackDays: 90,
		}
		breakdown, err := scorer.Score(context.Background(), models.Product{ID: "p-1"})
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if breakdown.StockTurnover.Score != tc.want {
			t.Fatalf("shelf %v: turnover score = %v, want %v", tc.shelfDays, breakdown.StockTurnover.Score, tc.want)
		}
	}
}

func TestDemandCompositeStaysInRange(t *testing.T) {
	brand := "b-1"
	scorer := &DemandScorer{
		Repo: &stubStats{
			stats:       repository.SalesStats{Orders: 9000, HasOrders: true, HasShelfLife: true, AvgShelfLifeDays: 0},
			series:      seriesAt([]float64{100, 150, 200, 250}, time.Now().UTC().AddDate(0, 0, -20), 24*time.Hour),
			velocity:    40,
			maxVelocity: 40,
		},
		LookbackDays: 90,
		Seasonality:  map[string][]float64{"sneakers": {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100}},
	}
	breakdown, err := scorer.Score(context.Background(), models.Product{ID: "p-1", Category: "sneakers", BrandID: &brand})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if breakdown.Composite < 0 || breakdown.Composite > 100 {
		t.Fatalf("composite out of range: %v", breakdown.Composite)
	}
	if breakdown.Composite != 100 {
		t.Fatalf("composite = %v, want 100 with every component maxed", breakdown.Composite)
	}
}

func TestRiskScenarioBucketsLow(t *testing.T) {
	qty := 3
	scorer := &RiskScorer{Reliability: map[string]float64{"awin": 85}}
	out := scorer.assess(RiskInput{
		ProductID:    "p-1",
		BuySource:    "awin",
		StockQty:     &qty,
		ProfitMargin: 0.30,
		DemandScore:  80,
	}, 10)

	// 0.30*20 + 0.25*10 + 0.20*70 + 0.15*40 + 0.10*15 = 30.0
	if !closeTo(out.Score, 30.0, 1e-9) {
		t.Fatalf("risk score = %v, want 30.0", out.Score)
	}
	if out.Bucket != models.RiskLevelLow {
		t.Fatalf("bucket = %s, want LOW", out.Bucket)
	}
	if len(out.Factors) != 0 {
		t.Fatalf("factors = %v, want none below threshold", out.Factors)
	}
}

func TestRiskFactorsAndRecommendations(t *testing.T) {
	qty := 1
	scorer := &RiskScorer{Reliability: map[string]float64{"klekt": 20}}
	out := scorer.assess(RiskInput{
		ProductID:    "p-1",
		BuySource:    "klekt",
		StockQty:     &qty,
		ProfitMargin: 0.05,
		DemandScore:  10,
	}, 95)

	if out.Bucket != models.RiskLevelHigh {
		t.Fatalf("bucket = %s, want HIGH", out.Bucket)
	}
	// All five components exceed the factor threshold.
	if len(out.Factors) != 5 || len(out.Recommendations) != 5 {
		t.Fatalf("factors/recommendations = %d/%d, want 5/5", len(out.Factors), len(out.Recommendations))
	}
	if out.Factors[2] != "low stock (1 unit)" {
		t.Fatalf("stock factor = %q", out.Factors[2])
	}
}

func TestRiskScoreStaysInRange(t *testing.T) {
	scorer := &RiskScorer{}
	zero := 0
	worst := scorer.assess(RiskInput{StockQty: &zero, ProfitMargin: -1, DemandScore: 0, BuySource: "unknown"}, 200)
	if worst.Score < 0 || worst.Score > 100 {
		t.Fatalf("worst score out of range: %v", worst.Score)
	}
	ten := 10
	best := scorer.assess(RiskInput{StockQty: &ten, ProfitMargin: 0.9, DemandScore: 100, BuySource: "unknown"}, 0)
	if best.Score < 0 || best.Score > 100 {
		t.Fatalf("best score out of range: %v", best.Score)
	}
	if worst.Score <= best.Score {
		t.Fatalf("worst (%v) should exceed best (%v)", worst.Score, best.Score)
	}
}

func TestBucketForIsMonotonic(t *testing.T) {
	rank := map[string]int{models.RiskLevelLow: 0, models.RiskLevelMedium: 1, models.RiskLevelHigh: 2}
	prev := models.RiskLevelLow
	for score := 0.0; score <= 100; score += 0.5 {
		bucket := BucketFor(score)
		if rank[bucket] < rank[prev] {
			t.Fatalf("bucket went backwards at %v: %s after %s", score, bucket, prev)
		}
		prev = bucket
	}
	if BucketFor(32.9) != models.RiskLevelLow {
		t.Fatalf("32.9 should be LOW")
	}
	if BucketFor(33) != models.RiskLevelMedium || BucketFor(66) != models.RiskLevelMedium {
		t.Fatalf("33 and 66 should be MEDIUM")
	}
	if BucketFor(66.1) != models.RiskLevelHigh {
		t.Fatalf("66.1 should be HIGH")
	}
}

func TestVolatilityFromSeries(t *testing.T) {
	scorer := &RiskScorer{Repo: &stubStats{
		series: seriesAt([]float64{100, 100, 100, 100}, time.Now().UTC().AddDate(0, 0, -10), 24*time.Hour),
	}}
	vol, err := scorer.Volatility(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Volatility: %v", err)
	}
	if vol != 0 {
		t.Fatalf("flat series volatility = %v, want 0", vol)
	}

	scorer = &RiskScorer{Repo: &stubStats{}}
	vol, err = scorer.Volatility(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Volatility: %v", err)
	}
	if vol != 50 {
		t.Fatalf("empty series volatility = %v, want neutral 50", vol)
	}
}
