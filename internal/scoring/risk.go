package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"solescan/internal/faults"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// Risk component weights. Fixed by design.
const (
	weightRiskDemand      = 0.30
	weightRiskVolatility  = 0.25
	weightRiskStock       = 0.20
	weightRiskMargin      = 0.15
	weightRiskReliability = 0.10

	// Component score above which a risk factor is recorded.
	riskFactorThreshold = 70.0

	// Bucket boundaries: LOW < 33, MEDIUM [33,66], HIGH > 66.
	bucketLowBelow   = 33.0
	bucketMediumUpTo = 66.0

	volatilityWindowDays = 30
)

// RiskComponents records each weighted input on its 0-100 risk scale.
type RiskComponents struct {
	Demand      float64 `json:"demand"`
	Volatility  float64 `json:"volatility"`
	Stock       float64 `json:"stock"`
	Margin      float64 `json:"margin"`
	Reliability float64 `json:"reliability"`
}

type RiskAssessment struct {
	Score           float64        `json:"risk_score"`
	Bucket          string         `json:"risk_level"`
	Components      RiskComponents `json:"components"`
	Factors         []string       `json:"risk_factors"`
	Recommendations []string       `json:"recommendations"`
}

// RiskInput carries the per-opportunity facts the assessment needs. StockQty
// nil means the buy side reports availability without a count.
type RiskInput struct {
	ProductID    string
	BuySource    string
	StockQty     *int
	ProfitMargin float64
	DemandScore  float64
}

// RiskScorer combines opportunity facts with sell-side volatility. Source
// reliability is deploy-time configuration keyed by source name.
type RiskScorer struct {
	Repo        repository.Repository
	Logger      *zap.Logger
	Reliability map[string]float64
}

// Assess scores an opportunity's risk and buckets it. Higher is riskier.
func (s *RiskScorer) Assess(ctx context.Context, in RiskInput) (RiskAssessment, error) {
	vol, err := s.Volatility(ctx, in.ProductID)
	if err != nil {
		return RiskAssessment{}, err
	}
	return s.assess(in, vol), nil
}

// AssessWith scores with a volatility the caller already has, typically from
// the enricher's memo. No repository reads happen.
func (s *RiskScorer) AssessWith(in RiskInput, volatility float64) RiskAssessment {
	return s.assess(in, volatility)
}

// Volatility is the coefficient of variation of the sell-side price over the
// last 30 days, as a percentage clamped to [0,100]. Fewer than three
// observations score a neutral 50.
func (s *RiskScorer) Volatility(ctx context.Context, productID string) (float64, error) {
	since := time.Now().UTC().AddDate(0, 0, -volatilityWindowDays)
	series, err := s.Repo.ListSellPriceSeries(ctx, productID, since)
	if err != nil {
		return 0, faults.Wrap(faults.Storage, err, "sell price series")
	}
	if len(series) < 3 {
		return 50, nil
	}
	ys := make([]float64, len(series))
	for i, p := range series {
		ys[i] = p.Price.InexactFloat64()
	}
	mean, std := stat.MeanStdDev(ys, nil)
	if mean <= 0 {
		return 50, nil
	}
	return clamp(std/mean*100, 0, 100), nil
}

func (s *RiskScorer) assess(in RiskInput, volatility float64) RiskAssessment {
	comps := RiskComponents{
		Demand:      clamp(100-in.DemandScore, 0, 100),
		Volatility:  clamp(volatility, 0, 100),
		Stock:       stockRisk(in.StockQty),
		Margin:      clamp(1-in.ProfitMargin/0.5, 0, 1) * 100,
		Reliability: clamp(100-s.reliabilityOf(in.BuySource), 0, 100),
	}
	score := clamp(
		comps.Demand*weightRiskDemand+
			comps.Volatility*weightRiskVolatility+
			comps.Stock*weightRiskStock+
			comps.Margin*weightRiskMargin+
			comps.Reliability*weightRiskReliability,
		0, 100)

	out := RiskAssessment{
		Score:      score,
		Bucket:     BucketFor(score),
		Components: comps,
	}
	s.annotate(&out, in)
	return out
}

// BucketFor maps a risk score to its level. Monotonic in the score.
func BucketFor(score float64) string {
	switch {
	case score < bucketLowBelow:
		return models.RiskLevelLow
	case score <= bucketMediumUpTo:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelHigh
	}
}

func stockRisk(qty *int) float64 {
	if qty == nil {
		return 50
	}
	n := *qty
	switch {
	case n <= 0:
		return 100
	case n >= 10:
		return 0
	default:
		return float64(10-n) * 10
	}
}

func (s *RiskScorer) reliabilityOf(source string) float64 {
	rel, ok := s.Reliability[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return 50
	}
	return clamp(rel, 0, 100)
}

// annotate appends a factor per component above the threshold and the
// matching one-line advice.
func (s *RiskScorer) annotate(out *RiskAssessment, in RiskInput) {
	c := out.Components
	if c.Demand > riskFactorThreshold {
		out.Factors = append(out.Factors, fmt.Sprintf("weak demand (score %.0f)", in.DemandScore))
		out.Recommendations = append(out.Recommendations, "expect a slow sale; consider a lower entry price")
	}
	if c.Volatility > riskFactorThreshold {
		out.Factors = append(out.Factors, fmt.Sprintf("high price volatility (cv %.0f%%)", c.Volatility))
		out.Recommendations = append(out.Recommendations, "monitor price for 48h before buying")
	}
	if c.Stock > riskFactorThreshold {
		if in.StockQty != nil {
			out.Factors = append(out.Factors, fmt.Sprintf("low stock (%d %s)", *in.StockQty, unitWord(*in.StockQty)))
		} else {
			out.Factors = append(out.Factors, "low stock")
		}
		out.Recommendations = append(out.Recommendations, "verify availability before committing")
	}
	if c.Margin > riskFactorThreshold {
		out.Factors = append(out.Factors, fmt.Sprintf("thin margin (%.0f%%)", in.ProfitMargin*100))
		out.Recommendations = append(out.Recommendations, "margin leaves little room for fee changes")
	}
	if c.Reliability > riskFactorThreshold {
		out.Factors = append(out.Factors, fmt.Sprintf("unreliable source (reliability %.0f)", 100-c.Reliability))
		out.Recommendations = append(out.Recommendations, "cross-check this source against a second feed")
	}
}

func unitWord(n int) string {
	if n == 1 {
		return "unit"
	}
	return "units"
}
