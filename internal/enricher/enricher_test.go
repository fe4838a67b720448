package enricher

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solescan/internal/detector"
	"solescan/internal/fees"
	"solescan/internal/models"
	"solescan/internal/repository"
	"solescan/internal/scoring"
)

// stubWorld backs the whole detect-and-enhance path in memory.
type stubWorld struct {
	repository.Repository

	products map[string]*models.Product
	brands   []models.Brand
	records  []models.PriceRecord
	places   []models.Marketplace
	rules    []models.FeeRule

	statsCalls int
}

func (s *stubWorld) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return s.products[id], nil
}

func (s *stubWorld) ListBrands(ctx context.Context) ([]models.Brand, error) {
	return s.brands, nil
}

func (s *stubWorld) ListActiveProductIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if offset > 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *stubWorld) ListPriceRecordsByProductIDs(ctx context.Context, ids []string) ([]models.PriceRecord, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.PriceRecord
	for _, rec := range s.records {
		if want[rec.ProductID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubWorld) ListVariantsByProductIDs(ctx context.Context, ids []string) ([]models.Variant, error) {
	return nil, nil
}

func (s *stubWorld) ListMarketplaces(ctx context.Context) ([]models.Marketplace, error) {
	return s.places, nil
}

func (s *stubWorld) ListFeeRulesByMarketplaceIDs(ctx context.Context, ids []string) ([]models.FeeRule, error) {
	return s.rules, nil
}

func (s *stubWorld) ProductSalesStats(ctx context.Context, productID string, since time.Time) (repository.SalesStats, error) {
	s.statsCalls++
	return repository.SalesStats{}, nil
}

func (s *stubWorld) ListSellPriceSeries(ctx context.Context, productID string, since time.Time) ([]repository.PricePoint, error) {
	return nil, nil
}

func (s *stubWorld) BrandSalesVelocity(ctx context.Context, brandID string, since time.Time) (float64, error) {
	return 0, nil
}

func (s *stubWorld) MaxBrandSalesVelocity(ctx context.Context, since time.Time) (float64, error) {
	return 0, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func record(product, source, kind, price string) models.PriceRecord {
	return models.PriceRecord{
		ProductID:  product,
		Source:     source,
		SourceKind: kind,
		Price:      dec(price),
		Currency:   "EUR",
		InStock:    true,
		ObservedAt: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func testWorld() *stubWorld {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nike := "b-nike"
	return &stubWorld{
		products: map[string]*models.Product{
			"p-a": {ID: "p-a", SKU: "NK-001", Name: "Nike Dunk Low Panda", BrandID: &nike},
			"p-b": {ID: "p-b", SKU: "NK-002", Name: "Nike Air Max 90"},
		},
		brands: []models.Brand{{ID: "b-nike", Name: "Nike"}},
		records: []models.PriceRecord{
			record("p-a", "awin", models.SourceKindRetail, "120.00"),
			record("p-a", "stockx", models.SourceKindResale, "180.00"),
			record("p-b", "awin", models.SourceKindRetail, "100.00"),
			record("p-b", "stockx", models.SourceKindResale, "180.00"),
		},
		places: []models.Marketplace{{ID: "mp-1", Name: "stockx", Active: true}},
		rules: []models.FeeRule{
			{ID: 1, MarketplaceID: "mp-1", FeeType: models.FeeTypeTransaction, Calc: models.FeeCalcPercentage, Value: dec("0.08"), Currency: "EUR", EffectiveFrom: from},
			{ID: 2, MarketplaceID: "mp-1", FeeType: models.FeeTypeShipping, Calc: models.FeeCalcFixed, Value: dec("2.10"), Currency: "EUR", EffectiveFrom: from},
		},
	}
}

func testEnricher(world *stubWorld) *Enricher {
	return &Enricher{
		Repo: world,
		Detector: &detector.Detector{
			Repo:         world,
			Fees:         &fees.Engine{Repo: world},
			Marketplaces: map[string]string{"stockx": "stockx"},
		},
		Demand:      &scoring.DemandScorer{Repo: world, LookbackDays: 90},
		Risk:        &scoring.RiskScorer{Repo: world},
		Parallelism: 2,
		CacheTTL:    time.Minute,
	}
}

func TestFeasibilityBlendsComponents(t *testing.T) {
	five := 5
	got := Feasibility(80, 30, 0.3625, &five)
	// 0.40*80 + 0.30*70 + 0.20*72.5 + 0.10*50 = 72.5
	if math.Abs(got-72.5) > 1e-9 {
		t.Fatalf("feasibility = %v, want 72.5", got)
	}

	zero := 0
	if lo := Feasibility(0, 100, -1, &zero); lo != 0 {
		t.Fatalf("floor = %v, want 0", lo)
	}
	ten := 10
	if hi := Feasibility(100, 0, 1, &ten); hi != 100 {
		t.Fatalf("ceiling = %v, want 100", hi)
	}
	if mid := Feasibility(50, 50, 0.1, nil); mid < 0 || mid > 100 {
		t.Fatalf("nil stock out of range: %v", mid)
	}
}

func TestEstimatedDaysToSellBounds(t *testing.T) {
	cases := []struct {
		demand, risk float64
		want         int
	}{
		{100, 0, 1},
		{0, 100, 90},
		{50, 50, 48},
		{80, 30, 20},
	}
	for _, tc := range cases {
		if got := EstimatedDaysToSell(tc.demand, tc.risk); got != tc.want {
			t.Fatalf("days(%v, %v) = %d, want %d", tc.demand, tc.risk, got, tc.want)
		}
	}
}

func TestEnhanceAttachesScoresAndIdentity(t *testing.T) {
	world := testWorld()
	e := testEnricher(world)

	opps, err := e.Detector.Detect(context.Background(), detector.Filters{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	out, err := e.Enhance(context.Background(), opps)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("enhanced %d opportunities, want 2", len(out))
	}
	for _, item := range out {
		if item.FeasibilityScore < 0 || item.FeasibilityScore > 100 {
			t.Fatalf("feasibility out of range: %v", item.FeasibilityScore)
		}
		if item.EstimatedDaysToSell < 1 || item.EstimatedDaysToSell > 90 {
			t.Fatalf("days out of range: %d", item.EstimatedDaysToSell)
		}
		if item.Risk.Bucket == "" {
			t.Fatalf("missing risk bucket")
		}
		switch item.ProductID {
		case "p-a":
			if item.ProductName != "Nike Dunk Low Panda" || item.Brand != "Nike" {
				t.Fatalf("identity = %q/%q", item.ProductName, item.Brand)
			}
		case "p-b":
			if item.Brand != "" {
				t.Fatalf("brandless product resolved brand %q", item.Brand)
			}
		}
	}
}

func TestEnhanceMemoizesPerProduct(t *testing.T) {
	world := testWorld()
	e := testEnricher(world)
	ctx := context.Background()

	opps := []detector.Opportunity{
		{ProductID: "p-a", Buy: record("p-a", "awin", models.SourceKindRetail, "120.00"), ProfitMargin: dec("0.36")},
		{ProductID: "p-a", Buy: record("p-a", "webgains", models.SourceKindRetail, "125.00"), ProfitMargin: dec("0.30")},
	}
	if _, err := e.Enhance(ctx, opps); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if world.statsCalls != 1 {
		t.Fatalf("first batch made %d stats reads, want 1", world.statsCalls)
	}

	if _, err := e.Enhance(ctx, opps); err != nil {
		t.Fatalf("second Enhance: %v", err)
	}
	if world.statsCalls != 1 {
		t.Fatalf("memo missed: %d stats reads after second batch", world.statsCalls)
	}

	e.Invalidate("p-a")
	if _, err := e.Enhance(ctx, opps); err != nil {
		t.Fatalf("third Enhance: %v", err)
	}
	if world.statsCalls != 2 {
		t.Fatalf("invalidation not honored: %d stats reads", world.statsCalls)
	}
}

func TestTopRanksByFeasibility(t *testing.T) {
	world := testWorld()
	e := testEnricher(world)

	out, err := e.Top(context.Background(), 10, 0, "")
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d, want 2", len(out))
	}
	// p-b has the wider margin, so the higher feasibility.
	if out[0].ProductID != "p-b" || out[1].ProductID != "p-a" {
		t.Fatalf("order = %s, %s; want p-b first", out[0].ProductID, out[1].ProductID)
	}
	if out[0].FeasibilityScore < out[1].FeasibilityScore {
		t.Fatalf("ranking not descending: %v then %v", out[0].FeasibilityScore, out[1].FeasibilityScore)
	}

	out, err = e.Top(context.Background(), 10, 99, "")
	if err != nil {
		t.Fatalf("Top with floor: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("feasibility floor admitted %d, want 0", len(out))
	}

	out, err = e.Top(context.Background(), 10, 0, models.RiskLevelLow)
	if err != nil {
		t.Fatalf("Top with risk cap: %v", err)
	}
	for _, item := range out {
		if item.Risk.Bucket != models.RiskLevelLow {
			t.Fatalf("risk cap leaked bucket %s", item.Risk.Bucket)
		}
	}

	if _, err := e.Top(context.Background(), 10, 0, "EXTREME"); err == nil {
		t.Fatalf("unknown risk level accepted")
	}
}
